package layerfs

import (
	"io"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/absfs/absfs"
)

// inodeInfo adapts an inode to os.FileInfo
type inodeInfo struct {
	name  string
	size  int64
	mode  os.FileMode
	mtime time.Time
	node  *Inode
}

func (i *inodeInfo) Name() string       { return i.name }
func (i *inodeInfo) Size() int64        { return i.size }
func (i *inodeInfo) Mode() os.FileMode  { return i.mode }
func (i *inodeInfo) ModTime() time.Time { return i.mtime }
func (i *inodeInfo) IsDir() bool        { return i.mode.IsDir() }
func (i *inodeInfo) Sys() interface{}   { return i.node }

// statInode builds an os.FileInfo for an inode, pulling the size of regular
// files from the content store.
func (lfs *LayerFS) statInode(n *Inode) os.FileInfo {
	n.mu.Lock()
	info := &inodeInfo{
		name:  n.name,
		mode:  n.mode,
		mtime: n.mtime,
		node:  n,
	}
	contentPath := n.contentPath
	n.mu.Unlock()

	if contentPath != "" {
		if fi, err := lfs.content.Stat(contentPath); err == nil {
			info.size = fi.Size()
		}
	}

	return info
}

// readDir returns the merged child entries of a directory across the whole
// addressed lineage. An entry in a closer layer shadows the same name in any
// ancestor; logically deleted entries are omitted.
func (lfs *LayerFS) readDir(name string) ([]os.FileInfo, error) {
	lfs.reaperMu.RLock()
	defer lfs.reaperMu.RUnlock()

	layer, rest, err := lfs.LayerForPath(name)
	if err != nil {
		return nil, err
	}

	seen := make(map[string]bool)
	var entries []os.FileInfo
	found := false

	for l := layer; l != nil; l = l.parent {
		d := l.get(rest)
		if d == nil {
			continue
		}
		if !d.Mode().IsDir() {
			// A file in a closer layer shadows the whole directory below it.
			if !found {
				return nil, &os.PathError{Op: "readdir", Path: name, Err: os.ErrInvalid}
			}
			break
		}
		found = true

		d.mu.Lock()
		children := make([]*Inode, 0, 8)
		for c := d.child; c != nil; c = c.next {
			children = append(children, c)
		}
		d.mu.Unlock()

		for _, c := range children {
			c.mu.Lock()
			skip := c.deleted || c.reclaimed
			c.mu.Unlock()
			if skip || seen[c.name] {
				continue
			}
			seen[c.name] = true
			entries = append(entries, lfs.statInode(c))
		}
	}

	if !found {
		return nil, &os.PathError{Op: "readdir", Path: name, Err: ErrNotFound}
	}

	sort.Slice(entries, func(i, j int) bool {
		return strings.ToLower(entries[i].Name()) < strings.ToLower(entries[j].Name())
	})

	return entries, nil
}

// unionDir implements absfs.File for directories, merging child entries
// across layers. It pins the directory inode until Close.
type unionDir struct {
	lfs     *LayerFS
	node    *Inode
	name    string
	entries []os.FileInfo
	offset  int
	closed  bool
}

var _ absfs.File = (*unionDir)(nil)

// newUnionDir creates a directory handle. The caller's inode reference is
// transferred to the handle and dropped on Close.
func newUnionDir(lfs *LayerFS, name string, node *Inode) *unionDir {
	return &unionDir{
		lfs:  lfs,
		node: node,
		name: name,
	}
}

// loadEntries populates the merged entry list on first use
func (d *unionDir) loadEntries() error {
	if d.entries != nil {
		return nil
	}
	entries, err := d.lfs.readDir(d.name)
	if err != nil {
		return err
	}
	d.entries = entries
	return nil
}

// Name returns the namespace path the directory was opened under.
func (d *unionDir) Name() string { return d.name }

// Read is not supported for directories
func (d *unionDir) Read(p []byte) (int, error) {
	return 0, &os.PathError{Op: "read", Path: d.name, Err: os.ErrInvalid}
}

// ReadAt is not supported for directories
func (d *unionDir) ReadAt(p []byte, off int64) (int, error) {
	return 0, &os.PathError{Op: "read", Path: d.name, Err: os.ErrInvalid}
}

// Write is not supported for directories
func (d *unionDir) Write(p []byte) (int, error) {
	return 0, &os.PathError{Op: "write", Path: d.name, Err: os.ErrInvalid}
}

// WriteAt is not supported for directories
func (d *unionDir) WriteAt(p []byte, off int64) (int, error) {
	return 0, &os.PathError{Op: "write", Path: d.name, Err: os.ErrInvalid}
}

// WriteString is not supported for directories
func (d *unionDir) WriteString(s string) (int, error) {
	return 0, &os.PathError{Op: "write", Path: d.name, Err: os.ErrInvalid}
}

// Seek seeks to an offset in the directory listing
func (d *unionDir) Seek(offset int64, whence int) (int64, error) {
	if d.closed {
		return 0, os.ErrClosed
	}

	switch whence {
	case io.SeekStart:
		d.offset = int(offset)
	case io.SeekCurrent:
		d.offset += int(offset)
	case io.SeekEnd:
		if err := d.loadEntries(); err != nil {
			return 0, err
		}
		d.offset = len(d.entries) + int(offset)
	}

	if d.offset < 0 {
		d.offset = 0
	}

	return int64(d.offset), nil
}

// Stat returns the directory inode's metadata.
func (d *unionDir) Stat() (os.FileInfo, error) {
	return d.lfs.statInode(d.node), nil
}

// Sync is a no-op for directories
func (d *unionDir) Sync() error { return nil }

// Truncate is not supported for directories
func (d *unionDir) Truncate(size int64) error {
	return &os.PathError{Op: "truncate", Path: d.name, Err: os.ErrInvalid}
}

// Readdir reads up to count merged entries from the directory.
func (d *unionDir) Readdir(count int) ([]os.FileInfo, error) {
	if d.closed {
		return nil, os.ErrClosed
	}
	if err := d.loadEntries(); err != nil {
		return nil, err
	}

	if count <= 0 {
		entries := d.entries[min(d.offset, len(d.entries)):]
		d.offset = len(d.entries)
		return entries, nil
	}

	if d.offset >= len(d.entries) {
		return nil, io.EOF
	}

	end := min(d.offset+count, len(d.entries))
	entries := d.entries[d.offset:end]
	d.offset = end
	return entries, nil
}

// Readdirnames reads up to count entry names from the directory.
func (d *unionDir) Readdirnames(count int) ([]string, error) {
	entries, err := d.Readdir(count)
	if err != nil {
		return nil, err
	}
	names := make([]string, len(entries))
	for i, entry := range entries {
		names[i] = entry.Name()
	}
	return names, nil
}

// Close drops the directory's inode reference.
func (d *unionDir) Close() error {
	if d.closed {
		return os.ErrClosed
	}
	d.closed = true
	d.lfs.Release(d.node)
	return nil
}
