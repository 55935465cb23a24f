package layerfs

import (
	"os"

	"github.com/absfs/absfs"
)

// resolveForWrite resolves a namespace path for a mutating operation. An
// entry inherited from an ancestor layer is copied up into the addressed
// layer first, so mutations never touch content shared across lineages.
func (f *filer) resolveForWrite(name string) (*Inode, error) {
	name = cleanPath(name)

	n, err := f.lfs.ResolveInode(name, false, 0)
	if err != nil {
		return nil, err
	}

	layer, _, lerr := f.lfs.LayerForPath(name)
	if lerr == nil && n.layer != layer {
		f.lfs.Release(n)
		return f.lfs.CopyUp(name)
	}

	return n, nil
}

// OpenFile opens a file with the specified flags and permissions. Writes go
// through copy-up when the path is inherited; reads serve the most specific
// layer that holds the path. Opening a directory returns a handle whose
// Readdir merges child entries across the whole lineage.
func (f *filer) OpenFile(name string, flag int, perm os.FileMode) (absfs.File, error) {
	lfs := f.lfs
	name = cleanPath(name)

	isWrite := flag&(os.O_WRONLY|os.O_RDWR|os.O_APPEND|os.O_CREATE|os.O_TRUNC) != 0

	if !isWrite {
		n, err := lfs.ResolveInode(name, false, 0)
		if err != nil {
			return nil, &os.PathError{Op: "open", Path: name, Err: err}
		}
		if n.IsDir() {
			return newUnionDir(lfs, name, n), nil
		}
		file, err := lfs.content.OpenFile(n.contentPath, os.O_RDONLY, 0)
		if err != nil {
			lfs.Release(n)
			return nil, &os.PathError{Op: "open", Path: name, Err: err}
		}
		return &unionFile{lfs: lfs, node: n, backing: file, name: name}, nil
	}

	n, err := lfs.ResolveInode(name, false, 0)
	if err == nil {
		if flag&(os.O_CREATE|os.O_EXCL) == os.O_CREATE|os.O_EXCL {
			lfs.Release(n)
			return nil, &os.PathError{Op: "open", Path: name, Err: os.ErrExist}
		}
		// Copy up before the first write through an inherited path.
		if layer, _, lerr := lfs.LayerForPath(name); lerr == nil && n.layer != layer {
			lfs.Release(n)
			n, err = lfs.CopyUp(name)
			if err != nil {
				return nil, &os.PathError{Op: "open", Path: name, Err: err}
			}
		}
	} else {
		if flag&os.O_CREATE == 0 {
			return nil, &os.PathError{Op: "open", Path: name, Err: err}
		}
		n, err = lfs.ResolveInode(name, true, perm&^os.ModeType)
		if err != nil {
			return nil, &os.PathError{Op: "open", Path: name, Err: err}
		}
	}

	if n.IsDir() {
		lfs.Release(n)
		return nil, &os.PathError{Op: "open", Path: name, Err: os.ErrInvalid}
	}

	// The content file always exists once the inode does.
	file, err := lfs.content.OpenFile(n.contentPath, flag&^(os.O_CREATE|os.O_EXCL), 0)
	if err != nil {
		lfs.Release(n)
		return nil, &os.PathError{Op: "open", Path: name, Err: err}
	}

	return &unionFile{lfs: lfs, node: n, backing: file, name: name}, nil
}

// Mkdir creates a directory. The engine's creation-layer rule applies: the
// directory lands in the first lineage layer that already holds its parent.
func (f *filer) Mkdir(name string, perm os.FileMode) error {
	name = cleanPath(name)

	if n, err := f.lfs.ResolveInode(name, false, 0); err == nil {
		f.lfs.Release(n)
		return &os.PathError{Op: "mkdir", Path: name, Err: os.ErrExist}
	}

	n, err := f.lfs.ResolveInode(name, true, os.ModeDir|(perm&^os.ModeType))
	if err != nil {
		return &os.PathError{Op: "mkdir", Path: name, Err: err}
	}
	// The layer's index keeps the directory alive.
	f.lfs.Release(n)
	return nil
}

// Remove logically unlinks a file or empty directory. The inode stays
// resolvable by outstanding reference holders and is reclaimed when the last
// reference drops. There are no whiteouts in this engine: removing an entry
// the addressed layer inherited unlinks it from the owning ancestor layer.
func (f *filer) Remove(name string) error {
	name = cleanPath(name)

	n, err := f.lfs.ResolveInode(name, false, 0)
	if err != nil {
		return &os.PathError{Op: "remove", Path: name, Err: err}
	}

	if n.IsDir() {
		entries, derr := f.lfs.readDir(name)
		if derr == nil && len(entries) > 0 {
			f.lfs.Release(n)
			return &os.PathError{Op: "remove", Path: name, Err: errNotEmpty}
		}
		if n.parent == nil {
			// Layer roots only go away with their layer.
			f.lfs.Release(n)
			return &os.PathError{Op: "remove", Path: name, Err: os.ErrInvalid}
		}
	}

	f.lfs.MarkDeleted(n)
	f.lfs.Release(n)
	return nil
}

// Rename moves a regular file within the namespace, implemented as copy plus
// unlink so the destination lands in the layer the creation rule selects.
// Directory renames are not supported.
func (f *filer) Rename(oldpath, newpath string) error {
	lfs := f.lfs
	oldpath = cleanPath(oldpath)
	newpath = cleanPath(newpath)

	src, err := lfs.ResolveInode(oldpath, false, 0)
	if err != nil {
		return &os.PathError{Op: "rename", Path: oldpath, Err: err}
	}
	if src.IsDir() {
		lfs.Release(src)
		return &os.PathError{Op: "rename", Path: oldpath, Err: os.ErrInvalid}
	}

	// Replace any existing destination.
	if old, err := lfs.ResolveInode(newpath, false, 0); err == nil {
		lfs.MarkDeleted(old)
		lfs.Release(old)
	}

	dst, err := lfs.ResolveInode(newpath, true, src.Mode())
	if err != nil {
		lfs.Release(src)
		return &os.PathError{Op: "rename", Path: newpath, Err: err}
	}

	if err := lfs.copyContent(src.contentPath, dst.contentPath); err != nil {
		lfs.MarkDeleted(dst)
		lfs.Release(dst)
		lfs.Release(src)
		return &os.PathError{Op: "rename", Path: newpath, Err: err}
	}

	uid, gid := src.Owner()
	dst.setOwner(uid, gid)

	lfs.MarkDeleted(src)
	lfs.Release(src)
	lfs.Release(dst)
	return nil
}
