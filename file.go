package layerfs

import (
	"os"
	"sync"

	"github.com/absfs/absfs"
)

// unionFile is a handle on a regular file's backing content. It pins its
// inode with a reference for its whole lifetime, so a concurrent unlink
// degrades gracefully: the inode and its content survive until Close.
type unionFile struct {
	lfs     *LayerFS
	node    *Inode
	backing absfs.File
	name    string

	mu     sync.Mutex
	wrote  bool
	closed bool
}

var _ absfs.File = (*unionFile)(nil)

// Name returns the namespace path the file was opened under.
func (f *unionFile) Name() string { return f.name }

func (f *unionFile) Read(p []byte) (int, error) {
	return f.backing.Read(p)
}

func (f *unionFile) ReadAt(p []byte, off int64) (int, error) {
	return f.backing.ReadAt(p, off)
}

func (f *unionFile) Write(p []byte) (int, error) {
	n, err := f.backing.Write(p)
	if n > 0 {
		f.mu.Lock()
		f.wrote = true
		f.mu.Unlock()
	}
	return n, err
}

func (f *unionFile) WriteAt(p []byte, off int64) (int, error) {
	n, err := f.backing.WriteAt(p, off)
	if n > 0 {
		f.mu.Lock()
		f.wrote = true
		f.mu.Unlock()
	}
	return n, err
}

func (f *unionFile) WriteString(s string) (int, error) {
	return f.Write([]byte(s))
}

func (f *unionFile) Seek(offset int64, whence int) (int64, error) {
	return f.backing.Seek(offset, whence)
}

// Stat returns the inode's metadata, not the content store's.
func (f *unionFile) Stat() (os.FileInfo, error) {
	return f.lfs.statInode(f.node), nil
}

func (f *unionFile) Sync() error {
	return f.backing.Sync()
}

func (f *unionFile) Truncate(size int64) error {
	if err := f.backing.Truncate(size); err != nil {
		return err
	}
	f.mu.Lock()
	f.wrote = true
	f.mu.Unlock()
	return nil
}

// Readdir is not supported on regular files
func (f *unionFile) Readdir(int) ([]os.FileInfo, error) {
	return nil, &os.PathError{Op: "readdir", Path: f.name, Err: os.ErrInvalid}
}

// Readdirnames is not supported on regular files
func (f *unionFile) Readdirnames(int) ([]string, error) {
	return nil, &os.PathError{Op: "readdirnames", Path: f.name, Err: os.ErrInvalid}
}

// Close closes the backing content and drops the inode reference. Closing
// the last handle on a deleted inode triggers its reclamation.
func (f *unionFile) Close() error {
	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		return os.ErrClosed
	}
	f.closed = true
	wrote := f.wrote
	f.mu.Unlock()

	err := f.backing.Close()
	if wrote {
		f.node.touch()
	}
	f.lfs.Release(f.node)
	return err
}
