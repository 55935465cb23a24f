package layerfs

import (
	"fmt"
	"os"
	"strings"
	"sync"
)

// defaultIndexCapacity sizes a new layer's path index.
const defaultIndexCapacity = 1024

// Layer is one point in a copy-on-write lineage. It owns the authoritative
// path-to-inode index for every inode allocated in it, plus the root inode.
// The parent pointer is shared, not owned: several child layers may chain to
// the same parent, and the parent outlives them through that reference.
type Layer struct {
	id     string
	parent *Layer
	root   *Inode

	// mu guards inodes and upper.
	mu     sync.RWMutex
	inodes map[string]*Inode
	upper  bool
}

// ID returns the layer id.
func (l *Layer) ID() string { return l.id }

// Parent returns the parent layer, or nil for a base layer.
func (l *Layer) Parent() *Layer { return l.parent }

// Root returns the layer's root inode. The root always exists and is never
// deleted by normal operations.
func (l *Layer) Root() *Inode { return l.root }

// Upper reports whether this layer is marked as the live write target.
func (l *Layer) Upper() bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.upper
}

// get looks up an inode by its full path within the layer.
func (l *Layer) get(name string) *Inode {
	l.mu.RLock()
	n := l.inodes[name]
	l.mu.RUnlock()
	return n
}

// insert indexes n at name unless a live inode is already indexed there, in
// which case that inode is returned and the index is untouched. A logically
// deleted entry is replaced; it lingers only for its reference holders and
// its reclamation skips the key (see remove).
func (l *Layer) insert(name string, n *Inode) *Inode {
	l.mu.Lock()
	defer l.mu.Unlock()
	if old := l.inodes[name]; old != nil && !old.Deleted() {
		return old
	}
	l.inodes[name] = n
	return nil
}

// remove drops the index entry for name only while it still maps to n, so
// reclaiming a replaced entry cannot unlink its replacement.
func (l *Layer) remove(name string, n *Inode) {
	l.mu.Lock()
	if l.inodes[name] == n {
		delete(l.inodes, name)
	}
	l.mu.Unlock()
}

// size returns the number of indexed inodes.
func (l *Layer) size() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.inodes)
}

// validLayerID rejects ids that cannot appear as the first namespace segment.
func validLayerID(id string) bool {
	return id != "" && id != "." && id != ".." && !strings.ContainsRune(id, '/')
}

// CreateLayer allocates a layer, an empty path index, and a root inode, and
// registers the layer under id. parentID names the layer the new one inherits
// from; pass "" for a base layer. Fails with ErrExists when id is already
// registered and ErrNotFound when parentID is given but unregistered.
func (lfs *LayerFS) CreateLayer(id, parentID string) error {
	if lfs.closed.Load() {
		return ErrClosed
	}
	if !validLayerID(id) {
		return fmt.Errorf("invalid layer id %q: %w", id, ErrNotFound)
	}

	lfs.mu.Lock()
	defer lfs.mu.Unlock()

	if _, ok := lfs.layers[id]; ok {
		return fmt.Errorf("layer %q: %w", id, ErrExists)
	}

	var parent *Layer
	if parentID != "" {
		parent = lfs.layers[parentID]
		if parent == nil {
			lfs.logger.Warn().Str("layer", id).Str("parent", parentID).
				Msg("cannot find parent layer")
			return fmt.Errorf("parent layer %q: %w", parentID, ErrNotFound)
		}
	}

	l := &Layer{
		id:     id,
		parent: parent,
		inodes: make(map[string]*Inode, defaultIndexCapacity),
	}

	root, err := lfs.allocInode(nil, "/", os.ModeDir|0777, l)
	if err != nil {
		return err
	}
	// The layer itself owns the root; drop the allocation reference.
	lfs.Release(root)
	l.root = root

	lfs.layers[id] = l
	lfs.cache.bump()
	lfs.logger.Debug().Str("layer", id).Str("parent", parentID).Msg("layer created")

	return nil
}

// RemoveLayer unregisters the layer and marks every inode it owns deleted,
// root included. Teardown is deferred: outstanding references keep their
// inodes resolvable, and reclamation happens as references drop or on the
// next sweep. Child layers that chain to the removed layer keep it reachable
// through their parent pointers.
func (lfs *LayerFS) RemoveLayer(id string) error {
	lfs.mu.Lock()
	l := lfs.layers[id]
	if l == nil {
		lfs.mu.Unlock()
		return fmt.Errorf("layer %q: %w", id, ErrNotFound)
	}
	delete(lfs.layers, id)
	lfs.retired = append(lfs.retired, l)
	lfs.mu.Unlock()

	l.mu.RLock()
	owned := make([]*Inode, 0, len(l.inodes))
	for _, n := range l.inodes {
		owned = append(owned, n)
	}
	l.mu.RUnlock()

	for _, n := range owned {
		n.mu.Lock()
		n.deleted = true
		n.mu.Unlock()
	}

	lfs.cache.bump()
	lfs.logger.Debug().Str("layer", id).Int("inodes", len(owned)).Msg("layer removed")

	return nil
}

// Layer returns the registered layer for id.
func (lfs *LayerFS) Layer(id string) (*Layer, error) {
	lfs.mu.RLock()
	l := lfs.layers[id]
	lfs.mu.RUnlock()
	if l == nil {
		return nil, fmt.Errorf("layer %q: %w", id, ErrNotFound)
	}
	return l, nil
}

// SetUpper marks the layer as the top-most (mutable) layer. Uniqueness of
// the upper layer across the engine is a caller convention, not enforced.
func (lfs *LayerFS) SetUpper(id string) error {
	return lfs.setUpper(id, true)
}

// UnsetUpper clears the layer's upper mark.
func (lfs *LayerFS) UnsetUpper(id string) error {
	return lfs.setUpper(id, false)
}

func (lfs *LayerFS) setUpper(id string, upper bool) error {
	l, err := lfs.Layer(id)
	if err != nil {
		return err
	}
	l.mu.Lock()
	l.upper = upper
	l.mu.Unlock()
	return nil
}
