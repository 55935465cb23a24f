package layerfs

import (
	"fmt"
	"os"
	"path"
	"strings"
)

// LayerForPath resolves the layer addressed by a namespace path and returns
// it together with the remaining path within the layer. A path with no
// second segment addresses the layer root "/". Fails with ErrNotFound when
// the first segment names no registered layer. No inode is touched.
func (lfs *LayerFS) LayerForPath(name string) (*Layer, string, error) {
	name = cleanPath(name)
	trimmed := strings.TrimPrefix(name, "/")
	if trimmed == "" {
		return nil, "", fmt.Errorf("path %q addresses no layer: %w", name, ErrNotFound)
	}

	id := trimmed
	rest := "/"
	if i := strings.IndexByte(trimmed, '/'); i >= 0 {
		id = trimmed[:i]
		rest = trimmed[i:]
	}

	lfs.mu.RLock()
	l := lfs.layers[id]
	lfs.mu.RUnlock()
	if l == nil {
		return nil, "", fmt.Errorf("layer %q: %w", id, ErrNotFound)
	}

	return l, path.Clean(rest), nil
}

// ResolveInode locates the inode for a namespace path and returns it with
// its reference count incremented; the caller owns exactly one reference and
// must Release it. The addressed layer's lineage is walked most specific
// first, and the first layer holding the path wins (an entry in a closer
// layer shadows the same path in an ancestor).
//
// With create set and the path absent everywhere, a new inode is allocated
// with the given mode in the first lineage layer that already holds the
// path's parent directory; missing intermediate directories are created on
// the way down by the same rule. A logically deleted entry counts as absent
// for create and is replaced, leaving the doomed inode to its reference
// holders. An inherited match is returned as-is even with create set:
// copy-up is never implicit, see CopyUp.
func (lfs *LayerFS) ResolveInode(name string, create bool, mode os.FileMode) (*Inode, error) {
	if lfs.closed.Load() {
		return nil, ErrClosed
	}

	// Hold the read side of the reaper lock for the whole lookup so no
	// inode found here can be freed before the reference is taken.
	lfs.reaperMu.RLock()
	defer lfs.reaperMu.RUnlock()

	layer, rest, err := lfs.LayerForPath(name)
	if err != nil {
		return nil, err
	}

	cacheKey := layer.id + "\x00" + rest
	if hit, negative, ok := lfs.cache.lookup(cacheKey); ok {
		if negative {
			if !create {
				return nil, fmt.Errorf("%s: %w", name, ErrNotFound)
			}
			// A create still needs the walk below to pick the creation layer.
		} else if n := hit.get(rest); n != nil && !(create && n.Deleted()) {
			lfs.Retain(n)
			return n, nil
		}
	}

	// Capture the generation before walking: an allocation racing the walk
	// bumps it and voids this result before it can be cached.
	gen := lfs.cache.generation()

	dir := path.Dir(rest)

	var parent *Inode
	var parentLayer *Layer

	for l := layer; l != nil; l = l.parent {
		// See if this layer has the path. An entry that is logically deleted
		// lingers only for its reference holders; it counts as absent for
		// create and is replaced by the allocation below.
		if n := l.get(rest); n != nil && !(create && n.Deleted()) {
			lfs.Retain(n)
			lfs.cache.put(cacheKey, l, gen)
			return n, nil
		}

		// See if this layer holds the parent directory. Upper layers get
		// preference: only the first match is kept. A logically deleted
		// directory cannot take new children.
		if parent == nil {
			if p := l.get(dir); p != nil && p.Mode().IsDir() && !p.Deleted() {
				parent = p
				parentLayer = l
			}
		}
	}

	if !create {
		lfs.cache.putNegative(cacheKey, gen)
		return nil, fmt.Errorf("%s: %w", name, ErrNotFound)
	}

	if parent == nil {
		// No lineage layer holds the parent directory yet; build the missing
		// chain, each component landing in the layer that holds its parent.
		parent, parentLayer, err = lfs.ensureParent(layer, dir)
		if err != nil {
			lfs.logger.Warn().Str("path", rest).Str("layer", layer.id).
				Msg("create requested but no layer can hold the entry")
			return nil, err
		}
	}

	return lfs.allocInode(parent, rest, mode, parentLayer)
}

// ensureParent returns the inode and layer for dir within the addressed
// lineage, creating missing directory components on the way down. Each
// created component lands in the first lineage layer that holds its own
// parent, the same rule ResolveInode applies to the final entry. Called with
// the reaper lock held in read mode.
func (lfs *LayerFS) ensureParent(layer *Layer, dir string) (*Inode, *Layer, error) {
	for l := layer; l != nil; l = l.parent {
		p := l.get(dir)
		if p == nil {
			continue
		}
		if !p.Mode().IsDir() || p.Deleted() {
			return nil, nil, fmt.Errorf("%s is not a usable directory: %w", dir, ErrNotFound)
		}
		return p, l, nil
	}

	if dir == "/" {
		// Every layer indexes its root; an unindexed root means the layer
		// graph is corrupt.
		return nil, nil, fmt.Errorf("layer %q has no root: %w", layer.id, ErrNotFound)
	}

	grand, grandLayer, err := lfs.ensureParent(layer, path.Dir(dir))
	if err != nil {
		return nil, nil, err
	}

	n, err := lfs.allocInode(grand, dir, os.ModeDir|0755, grandLayer)
	if err != nil {
		return nil, nil, err
	}
	// The layer's index keeps the directory alive; drop the allocation
	// reference. The inode is not deleted, so this cannot recurse into
	// reclamation while the reaper lock is held in read mode.
	lfs.Release(n)

	return n, grandLayer, nil
}
