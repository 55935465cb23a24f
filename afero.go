package layerfs

import (
	"errors"
	"os"
	"path"
	"time"

	"github.com/spf13/afero"
)

// aferoFs exposes the engine's namespace through the afero.Fs contract, for
// callers living in the afero ecosystem rather than absfs. It shares all
// semantics with the absfs adapter, including copy-up on write.
type aferoFs struct {
	filer filer
}

// Ensure aferoFs implements afero.Fs at compile time
var _ afero.Fs = (*aferoFs)(nil)

// AferoFs returns an afero.Fs view of the engine's namespace. Paths address
// layers by id in their first segment, as with FileSystem.
func (lfs *LayerFS) AferoFs() afero.Fs {
	return &aferoFs{filer: filer{lfs: lfs}}
}

// Name returns the name of the filesystem
func (a *aferoFs) Name() string { return "LayerFS" }

// Create creates a file in the layer the creation rule selects
func (a *aferoFs) Create(name string) (afero.File, error) {
	return a.OpenFile(name, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0666)
}

// Open opens a file for reading
func (a *aferoFs) Open(name string) (afero.File, error) {
	return a.OpenFile(name, os.O_RDONLY, 0)
}

// OpenFile opens a file with the specified flags and permissions
func (a *aferoFs) OpenFile(name string, flag int, perm os.FileMode) (afero.File, error) {
	f, err := a.filer.OpenFile(name, flag, perm)
	if err != nil {
		return nil, err
	}
	af, ok := f.(afero.File)
	if !ok {
		f.Close()
		return nil, &os.PathError{Op: "open", Path: name, Err: os.ErrInvalid}
	}
	return af, nil
}

// Mkdir creates a directory
func (a *aferoFs) Mkdir(name string, perm os.FileMode) error {
	return a.filer.Mkdir(name, perm)
}

// MkdirAll creates a directory and any missing parents, component by
// component. The first segment names the layer and must already exist.
func (a *aferoFs) MkdirAll(name string, perm os.FileMode) error {
	name = cleanPath(name)

	layer, rest, err := a.filer.lfs.LayerForPath(name)
	if err != nil {
		return err
	}
	if rest == "/" {
		return nil
	}

	current := "/" + layer.ID()
	for _, part := range splitPath(rest) {
		current = path.Join(current, part)
		if err := a.filer.Mkdir(current, perm); err != nil && !errors.Is(err, os.ErrExist) {
			return err
		}
	}
	return nil
}

// Remove removes a file or empty directory
func (a *aferoFs) Remove(name string) error {
	return a.filer.Remove(name)
}

// RemoveAll removes a path and all its children
func (a *aferoFs) RemoveAll(name string) error {
	name = cleanPath(name)

	info, err := a.filer.Stat(name)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil
		}
		return err
	}

	if info.IsDir() {
		entries, err := a.filer.lfs.readDir(name)
		if err != nil {
			return err
		}
		for _, entry := range entries {
			if err := a.RemoveAll(path.Join(name, entry.Name())); err != nil {
				return err
			}
		}

		// Layer roots stay; only their contents go.
		if _, rest, err := a.filer.lfs.LayerForPath(name); err == nil && rest == "/" {
			return nil
		}
	}

	return a.filer.Remove(name)
}

// Rename moves a regular file
func (a *aferoFs) Rename(oldname, newname string) error {
	return a.filer.Rename(oldname, newname)
}

// Stat returns file info
func (a *aferoFs) Stat(name string) (os.FileInfo, error) {
	return a.filer.Stat(name)
}

// Chmod changes permission bits
func (a *aferoFs) Chmod(name string, mode os.FileMode) error {
	return a.filer.Chmod(name, mode)
}

// Chown changes ownership
func (a *aferoFs) Chown(name string, uid, gid int) error {
	return a.filer.Chown(name, uid, gid)
}

// Chtimes changes access and modification times
func (a *aferoFs) Chtimes(name string, atime, mtime time.Time) error {
	return a.filer.Chtimes(name, atime, mtime)
}
