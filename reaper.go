package layerfs

import "time"

// reap reclaims a single inode whose reference count hit zero while deleted.
// It takes the write side of the reaper lock, so it excludes every in-flight
// lookup as well as other reclamation.
func (lfs *LayerFS) reap(n *Inode) {
	lfs.reaperMu.Lock()
	defer lfs.reaperMu.Unlock()
	lfs.reclaimLocked(n)
}

// reclaimLocked frees one inode: index removal, child-list unlink, content
// release. Caller holds the reaper lock in write mode. The reclaimable
// condition is re-checked here because a lookup may have re-referenced the
// inode between the zero transition and lock acquisition. Returns whether
// the inode was reclaimed.
func (lfs *LayerFS) reclaimLocked(n *Inode) bool {
	n.mu.Lock()
	if n.ref != 0 || !n.deleted || n.reclaimed {
		n.mu.Unlock()
		return false
	}
	n.reclaimed = true
	n.mu.Unlock()

	key := n.fullPath()
	n.layer.remove(key, n)

	if p := n.parent; p != nil {
		p.mu.Lock()
		if p.child == n {
			p.child = n.next
		} else {
			for m := p.child; m != nil; m = m.next {
				if m.next == n {
					m.next = n.next
					break
				}
			}
		}
		p.mu.Unlock()
	}

	if n.contentPath != "" {
		if err := lfs.content.Remove(n.contentPath); err != nil {
			lfs.logger.Warn().Err(err).Str("path", key).
				Msg("failed to release inode content")
		}
	}

	lfs.reclaimed.Add(1)
	lfs.cache.bump()
	lfs.logger.Debug().Str("layer", n.layer.id).Str("path", key).Msg("inode reclaimed")

	return true
}

// Sweep reclaims every inode that is both deleted and unreferenced, across
// registered and retired layers, and drops retired layers once drained.
// Returns the number of inodes reclaimed. Sweep is a short critical section:
// it performs only map and list operations, never blocking I/O.
func (lfs *LayerFS) Sweep() int {
	lfs.reaperMu.Lock()
	defer lfs.reaperMu.Unlock()

	lfs.mu.RLock()
	layers := make([]*Layer, 0, len(lfs.layers)+len(lfs.retired))
	for _, l := range lfs.layers {
		layers = append(layers, l)
	}
	layers = append(layers, lfs.retired...)
	lfs.mu.RUnlock()

	total := 0
	for _, l := range layers {
		l.mu.RLock()
		owned := make([]*Inode, 0, len(l.inodes))
		for _, n := range l.inodes {
			owned = append(owned, n)
		}
		l.mu.RUnlock()

		for _, n := range owned {
			if lfs.reclaimLocked(n) {
				total++
			}
		}
	}

	lfs.mu.Lock()
	kept := lfs.retired[:0]
	for _, l := range lfs.retired {
		if l.size() > 0 {
			kept = append(kept, l)
		}
	}
	lfs.retired = kept
	lfs.mu.Unlock()

	if total > 0 {
		lfs.logger.Debug().Int("reclaimed", total).Msg("sweep completed")
	}

	return total
}

// reaperLoop runs periodic sweeps until the engine closes.
func (lfs *LayerFS) reaperLoop() {
	defer close(lfs.reaperDone)

	ticker := time.NewTicker(lfs.reaperInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			lfs.Sweep()
		case <-lfs.done:
			return
		}
	}
}
