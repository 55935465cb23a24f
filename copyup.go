package layerfs

import (
	"fmt"
	"io"
	"os"
	"path"
)

// copyBufferSize is the buffer size for copy-up content transfers.
const copyBufferSize = 32 * 1024

// CopyUp copies an inherited entry into the addressed layer, so later writes
// land there instead of mutating shared ancestor content. The returned inode
// carries one reference owned by the caller. When the addressed layer
// already owns the path this is a plain resolve; parent directories missing
// from the addressed layer are created there first.
//
// Resolution never copies up on its own: an inherited match wins even when
// create is requested. Dispatchers are expected to call CopyUp explicitly
// before the first write through an inherited path.
func (lfs *LayerFS) CopyUp(name string) (*Inode, error) {
	if lfs.closed.Load() {
		return nil, ErrClosed
	}

	lfs.reaperMu.RLock()
	lfs.copyMu.Lock()
	dst, failed, err := lfs.copyUp(name)
	lfs.copyMu.Unlock()
	lfs.reaperMu.RUnlock()

	// Dispose of a half-copied inode outside the reaper read lock, since
	// releasing the last reference takes the write side.
	if failed != nil {
		lfs.MarkDeleted(failed)
		lfs.Release(failed)
	}

	if err != nil {
		return nil, err
	}
	return dst, nil
}

// copyUp does the work of CopyUp under the reaper read lock. On copy failure
// it returns the partially built inode for the caller to dispose of.
func (lfs *LayerFS) copyUp(name string) (dst, failed *Inode, err error) {
	layer, rest, err := lfs.LayerForPath(name)
	if err != nil {
		return nil, nil, err
	}

	// Find the current owner, most specific first.
	var src *Inode
	for l := layer; l != nil; l = l.parent {
		if n := l.get(rest); n != nil {
			if l == layer {
				// Already owned by the addressed layer, nothing to copy.
				lfs.Retain(n)
				return n, nil, nil
			}
			src = n
			break
		}
	}
	if src == nil {
		return nil, nil, fmt.Errorf("%s: %w", name, ErrNotFound)
	}

	parent, err := lfs.ensureDirs(layer, path.Dir(rest))
	if err != nil {
		return nil, nil, err
	}

	dst, err = lfs.allocInode(parent, rest, src.Mode(), layer)
	if err != nil {
		return nil, nil, err
	}

	uid, gid := src.Owner()
	dst.setOwner(uid, gid)

	if src.contentPath != "" {
		if err := lfs.copyContent(src.contentPath, dst.contentPath); err != nil {
			return nil, dst, err
		}
	}

	src.mu.Lock()
	atime, mtime := src.atime, src.mtime
	src.mu.Unlock()
	dst.setTimes(atime, mtime)

	lfs.logger.Debug().Str("layer", layer.id).Str("path", rest).Msg("copied up")

	return dst, nil, nil
}

// ensureDirs walks the directory chain for dir inside the target layer,
// creating any component the layer does not hold yet. Created directories
// inherit mode and ownership from the lineage when the component exists in
// an ancestor layer. Returns the inode for dir within the target layer.
func (lfs *LayerFS) ensureDirs(layer *Layer, dir string) (*Inode, error) {
	parent := layer.root
	if dir == "/" {
		return parent, nil
	}

	current := ""
	for _, part := range splitPath(dir) {
		current += "/" + part

		if n := layer.get(current); n != nil {
			if !n.Mode().IsDir() {
				return nil, fmt.Errorf("%s is not a directory: %w", current, ErrNotFound)
			}
			parent = n
			continue
		}

		mode := os.ModeDir | 0755
		uid, gid := -1, -1
		for l := layer.parent; l != nil; l = l.parent {
			if m := l.get(current); m != nil && m.Mode().IsDir() {
				mode = m.Mode()
				uid, gid = m.Owner()
				break
			}
		}

		n, err := lfs.allocInode(parent, current, mode, layer)
		if err != nil {
			return nil, err
		}
		if uid >= 0 {
			n.setOwner(uid, gid)
		}
		// The layer's index keeps the directory alive; drop our reference.
		lfs.Release(n)
		parent = n
	}

	return parent, nil
}

// copyContent copies the backing bytes of one inode to another.
func (lfs *LayerFS) copyContent(srcPath, dstPath string) error {
	srcFile, err := lfs.content.OpenFile(srcPath, os.O_RDONLY, 0)
	if err != nil {
		return fmt.Errorf("failed to open source content: %w", err)
	}
	defer srcFile.Close()

	dstFile, err := lfs.content.OpenFile(dstPath, os.O_WRONLY|os.O_TRUNC, 0)
	if err != nil {
		return fmt.Errorf("failed to open destination content: %w", err)
	}
	defer dstFile.Close()

	buf := make([]byte, copyBufferSize)
	if _, err := io.CopyBuffer(dstFile, srcFile, buf); err != nil {
		return fmt.Errorf("failed to copy content: %w", err)
	}

	return nil
}

// splitPath splits a layer-relative path into components
func splitPath(p string) []string {
	p = cleanPath(p)
	if p == "/" {
		return nil
	}
	var parts []string
	for _, part := range splitHelper(p) {
		if part != "" {
			parts = append(parts, part)
		}
	}
	return parts
}

func splitHelper(p string) []string {
	if p == "/" || p == "." {
		return nil
	}
	dir, file := path.Split(p)
	if dir == "" || dir == "/" {
		return []string{file}
	}
	return append(splitHelper(path.Clean(dir)), file)
}
