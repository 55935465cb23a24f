package layerfs

import (
	"fmt"
	"os"
	"path"
	"sync"
	"time"
)

// Inode is a single filesystem entry (file or directory). Its full path is
// not stored here; it is the key under which the inode is indexed in its
// owning layer. The inode itself carries only its base name.
type Inode struct {
	name string
	ino  uint64

	mode     os.FileMode
	uid, gid int
	atime    time.Time
	mtime    time.Time
	ctime    time.Time

	// mu guards ref, deleted, reclaimed, the metadata fields above, and the
	// child list when this inode is the parent. It is never held together
	// with another inode's mu, so no lock ordering is needed.
	mu        sync.Mutex
	ref       int64
	deleted   bool
	reclaimed bool

	// Tree linkage is a navigation aid; the owning layer's index is the
	// authoritative store.
	parent *Inode
	child  *Inode // first child
	next   *Inode // next sibling

	layer *Layer

	// Path of the backing content file inside the engine's content store.
	// Empty for directories.
	contentPath string
}

// Name returns the inode's base name.
func (n *Inode) Name() string { return n.name }

// Ino returns the inode number.
func (n *Inode) Ino() uint64 { return n.ino }

// Mode returns the inode's mode bits.
func (n *Inode) Mode() os.FileMode {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.mode
}

// IsDir reports whether the inode is a directory.
func (n *Inode) IsDir() bool { return n.Mode().IsDir() }

// Owner returns the inode's uid and gid.
func (n *Inode) Owner() (uid, gid int) {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.uid, n.gid
}

// ModTime returns the inode's modification time.
func (n *Inode) ModTime() time.Time {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.mtime
}

// Layer returns the layer that allocated this inode.
func (n *Inode) Layer() *Layer { return n.layer }

// Ref returns the current reference count.
func (n *Inode) Ref() int64 {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.ref
}

// Deleted reports whether the inode has been logically unlinked.
func (n *Inode) Deleted() bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.deleted
}

// fullPath reconstructs the inode's index key inside its owning layer by
// walking the parent chain. Names and parent links are immutable after
// allocation, so no locks are needed.
func (n *Inode) fullPath() string {
	if n.parent == nil {
		return "/"
	}
	var parts []string
	for m := n; m != nil && m.parent != nil; m = m.parent {
		parts = append(parts, m.name)
	}
	p := ""
	for i := len(parts) - 1; i >= 0; i-- {
		p += "/" + parts[i]
	}
	return p
}

// setMode updates the permission bits, preserving the file type.
func (n *Inode) setMode(mode os.FileMode) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.mode = (n.mode & os.ModeType) | (mode &^ os.ModeType)
	n.ctime = time.Now()
}

// setOwner updates uid/gid.
func (n *Inode) setOwner(uid, gid int) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.uid = uid
	n.gid = gid
	n.ctime = time.Now()
}

// setTimes updates access and modification times.
func (n *Inode) setTimes(atime, mtime time.Time) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.atime = atime
	n.mtime = mtime
	n.ctime = time.Now()
}

// touch updates the modification time after a write through the adapter.
func (n *Inode) touch() {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.mtime = time.Now()
	n.ctime = n.mtime
}

// allocInode allocates an inode, indexes it in the layer at name (the full
// path within the layer), and links it under parent. The initial reference
// count is 1, owned by the caller. When a live inode is already indexed at
// name the existing inode is returned with a fresh reference instead. On any
// failure no partial state is left behind: the content file is created before
// the inode is linked anywhere.
func (lfs *LayerFS) allocInode(parent *Inode, name string, mode os.FileMode, layer *Layer) (*Inode, error) {
	now := time.Now()
	n := &Inode{
		name:  path.Base(name),
		ino:   lfs.nextIno.Add(1),
		mode:  mode,
		uid:   os.Getuid(),
		gid:   os.Getgid(),
		atime: now,
		mtime: now,
		ctime: now,
		ref:   1,
		layer: layer,
	}
	if name == "/" {
		n.name = "/"
	}

	// Regular files own an exclusive backing file in the content store,
	// created empty. A block device would sit behind this in a real driver.
	if !mode.IsDir() {
		n.contentPath = fmt.Sprintf("/%016x", n.ino)
		f, err := lfs.content.OpenFile(n.contentPath, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0600)
		if err != nil {
			return nil, fmt.Errorf("allocate content for %s: %w", name, err)
		}
		if err := f.Close(); err != nil {
			lfs.content.Remove(n.contentPath)
			return nil, fmt.Errorf("allocate content for %s: %w", name, err)
		}
	}

	n.parent = parent

	// The index insert decides races between concurrent creates of one path:
	// the loser discards its allocation and adopts the winner.
	if old := layer.insert(name, n); old != nil {
		if n.contentPath != "" {
			lfs.content.Remove(n.contentPath)
		}
		lfs.Retain(old)
		return old, nil
	}

	if parent != nil {
		parent.mu.Lock()
		n.next = parent.child
		parent.child = n
		parent.mu.Unlock()
	}

	lfs.allocated.Add(1)
	lfs.cache.bump()

	return n, nil
}

// Retain increments the inode's reference count.
func (lfs *LayerFS) Retain(n *Inode) {
	n.mu.Lock()
	n.ref++
	n.mu.Unlock()
}

// Release decrements the inode's reference count. Every reference handed out
// by ResolveInode or Retain must be released exactly once; driving the count
// below zero indicates corrupted bookkeeping and panics. A deleted inode
// whose count reaches zero is reclaimed.
func (lfs *LayerFS) Release(n *Inode) {
	n.mu.Lock()
	n.ref--
	if n.ref < 0 {
		n.mu.Unlock()
		panic(fmt.Sprintf("layerfs: inode %q released with no outstanding reference", n.name))
	}
	reap := n.ref == 0 && n.deleted && !n.reclaimed
	n.mu.Unlock()

	if reap {
		lfs.reap(n)
	}
}

// MarkDeleted logically unlinks the inode. The caller must hold a reference.
// The inode remains resolvable by outstanding holders and stays in its
// layer's index until the last reference drops.
func (lfs *LayerFS) MarkDeleted(n *Inode) {
	n.mu.Lock()
	n.deleted = true
	n.ctime = time.Now()
	n.mu.Unlock()
}
