package layerfs

import (
	"os"
	"time"

	"github.com/absfs/absfs"
)

// filer exposes the engine's namespace through the absfs.Filer contract.
// Every path handed to it is a namespace path: /<layer-id>/<path>.
type filer struct {
	lfs *LayerFS
}

// Ensure filer implements absfs.Filer interface at compile time
var _ absfs.Filer = (*filer)(nil)

// FileSystem returns an absfs.FileSystem view of the engine's namespace.
// Paths address layers by id in their first segment, so /top/etc/conf opens
// etc/conf through the lineage of layer "top". The returned FileSystem
// maintains its own working directory state and provides the convenience
// methods of the absfs ecosystem (Open, Create, MkdirAll, RemoveAll).
//
// Example:
//
//	lfs, _ := layerfs.New()
//	lfs.CreateLayer("base", "")
//	lfs.CreateLayer("top", "base")
//
//	fs := lfs.FileSystem()
//	f, err := fs.Create("/top/app/config.yml")
func (lfs *LayerFS) FileSystem() absfs.FileSystem {
	return absfs.ExtendFiler(&filer{lfs: lfs})
}

// Stat implements absfs.Filer
func (f *filer) Stat(name string) (os.FileInfo, error) {
	n, err := f.lfs.ResolveInode(cleanPath(name), false, 0)
	if err != nil {
		return nil, &os.PathError{Op: "stat", Path: name, Err: err}
	}
	defer f.lfs.Release(n)
	return f.lfs.statInode(n), nil
}

// Chmod implements absfs.Filer. An inherited entry is copied up first so the
// change never mutates shared ancestor content.
func (f *filer) Chmod(name string, mode os.FileMode) error {
	n, err := f.resolveForWrite(name)
	if err != nil {
		return &os.PathError{Op: "chmod", Path: name, Err: err}
	}
	n.setMode(mode)
	f.lfs.Release(n)
	return nil
}

// Chtimes implements absfs.Filer
func (f *filer) Chtimes(name string, atime time.Time, mtime time.Time) error {
	n, err := f.resolveForWrite(name)
	if err != nil {
		return &os.PathError{Op: "chtimes", Path: name, Err: err}
	}
	n.setTimes(atime, mtime)
	f.lfs.Release(n)
	return nil
}

// Chown implements absfs.Filer
func (f *filer) Chown(name string, uid, gid int) error {
	n, err := f.resolveForWrite(name)
	if err != nil {
		return &os.PathError{Op: "chown", Path: name, Err: err}
	}
	n.setOwner(uid, gid)
	f.lfs.Release(n)
	return nil
}

// Separator returns the path separator (always forward slash for virtual paths)
func (f *filer) Separator() uint8 {
	return '/'
}

// ListSeparator returns the path list separator (always colon for virtual paths)
func (f *filer) ListSeparator() uint8 {
	return ':'
}

// Truncate changes the size of the named file
func (f *filer) Truncate(name string, size int64) error {
	n, err := f.resolveForWrite(name)
	if err != nil {
		return &os.PathError{Op: "truncate", Path: name, Err: err}
	}
	defer f.lfs.Release(n)

	if n.IsDir() {
		return &os.PathError{Op: "truncate", Path: name, Err: os.ErrInvalid}
	}

	if err := f.lfs.content.Truncate(n.contentPath, size); err != nil {
		return &os.PathError{Op: "truncate", Path: name, Err: err}
	}
	n.touch()
	return nil
}
