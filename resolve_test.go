package layerfs

import (
	"errors"
	"os"
	"testing"
	"time"
)

func TestLayerForPath(t *testing.T) {
	lfs := mustNew(t)
	mustCreateLayer(t, lfs, "abc123", "")

	tests := []struct {
		path     string
		wantRest string
	}{
		{"/abc123/etc/hosts", "/etc/hosts"},
		{"/abc123/etc", "/etc"},
		{"/abc123", "/"},
		{"/abc123/", "/"},
		{"abc123/etc", "/etc"}, // missing leading slash is normalized
	}

	for _, tt := range tests {
		l, rest, err := lfs.LayerForPath(tt.path)
		if err != nil {
			t.Errorf("LayerForPath(%q): %v", tt.path, err)
			continue
		}
		if l.ID() != "abc123" {
			t.Errorf("LayerForPath(%q) layer = %q, want abc123", tt.path, l.ID())
		}
		if rest != tt.wantRest {
			t.Errorf("LayerForPath(%q) rest = %q, want %q", tt.path, rest, tt.wantRest)
		}
	}

	if _, _, err := lfs.LayerForPath("/nope/etc"); !errors.Is(err, ErrNotFound) {
		t.Errorf("unknown layer: got %v, want ErrNotFound", err)
	}
	if _, _, err := lfs.LayerForPath("/"); !errors.Is(err, ErrNotFound) {
		t.Errorf("bare root: got %v, want ErrNotFound", err)
	}
}

func TestResolveIncrementsRef(t *testing.T) {
	lfs := mustNew(t)
	mustCreateLayer(t, lfs, "base", "")

	n := mustResolve(t, lfs, "/base/file", true, 0644)
	if got := n.Ref(); got != 1 {
		t.Fatalf("ref after create = %d, want 1", got)
	}

	m := mustResolve(t, lfs, "/base/file", false, 0)
	if m != n {
		t.Fatal("second resolve returned a different inode")
	}
	if got := n.Ref(); got != 2 {
		t.Errorf("ref after second resolve = %d, want 2", got)
	}

	lfs.Release(m)
	lfs.Release(n)
	if got := n.Ref(); got != 0 {
		t.Errorf("ref after releases = %d, want 0", got)
	}
}

func TestResolveRootInode(t *testing.T) {
	lfs := mustNew(t)
	mustCreateLayer(t, lfs, "base", "")

	n := mustResolve(t, lfs, "/base", false, 0)
	defer lfs.Release(n)

	l, _ := lfs.Layer("base")
	if n != l.Root() {
		t.Error("resolving the bare layer path did not return the layer root")
	}
}

func TestResolveMissing(t *testing.T) {
	lfs := mustNew(t)
	mustCreateLayer(t, lfs, "base", "")

	if _, err := lfs.ResolveInode("/base/missing", false, 0); !errors.Is(err, ErrNotFound) {
		t.Errorf("missing path: got %v, want ErrNotFound", err)
	}
	if _, err := lfs.ResolveInode("/ghost/etc/conf", false, 0); !errors.Is(err, ErrNotFound) {
		t.Errorf("unknown layer: got %v, want ErrNotFound", err)
	}
	if _, err := lfs.ResolveInode("/ghost/etc/conf", true, 0644); !errors.Is(err, ErrNotFound) {
		t.Errorf("create in unknown layer: got %v, want ErrNotFound", err)
	}
}

// TestShadowing verifies that an entry in a closer layer hides the same path
// in an ancestor.
func TestShadowing(t *testing.T) {
	lfs := mustNew(t)
	mustCreateLayer(t, lfs, "base", "")
	mustCreateLayer(t, lfs, "top", "base")

	base := mustResolve(t, lfs, "/base/etc/conf", true, 0644)
	defer lfs.Release(base)

	top, err := lfs.CopyUp("/top/etc/conf")
	if err != nil {
		t.Fatalf("copy up: %v", err)
	}
	defer lfs.Release(top)

	got := mustResolve(t, lfs, "/top/etc/conf", false, 0)
	if got != top {
		t.Error("descendant resolution returned the ancestor's inode")
	}
	lfs.Release(got)

	got = mustResolve(t, lfs, "/base/etc/conf", false, 0)
	if got != base {
		t.Error("ancestor resolution returned the descendant's inode")
	}
	lfs.Release(got)
}

// TestCreationLayerSelection verifies that a new entry lands in the first
// lineage layer that already holds its parent directory, not necessarily the
// addressed layer.
func TestCreationLayerSelection(t *testing.T) {
	lfs := mustNew(t)
	mustCreateLayer(t, lfs, "base", "")
	mustCreateLayer(t, lfs, "top", "base")

	dir := mustResolve(t, lfs, "/base/share", true, os.ModeDir|0755)
	lfs.Release(dir)

	// /share exists only in base, so the new entry is created there even
	// though it was addressed through top.
	n := mustResolve(t, lfs, "/top/share/data", true, 0644)
	defer lfs.Release(n)

	if n.Layer().ID() != "base" {
		t.Errorf("created inode owned by %q, want base", n.Layer().ID())
	}

	// It is therefore visible through the base lineage too.
	m := mustResolve(t, lfs, "/base/share/data", false, 0)
	if m != n {
		t.Error("entry not reachable through the owning layer")
	}
	lfs.Release(m)
}

// TestCreateBuildsMissingDirectories verifies that intermediate directories
// are created when no lineage layer holds the parent yet.
func TestCreateBuildsMissingDirectories(t *testing.T) {
	lfs := mustNew(t)
	mustCreateLayer(t, lfs, "base", "")

	n := mustResolve(t, lfs, "/base/a/b/c/file", true, 0644)
	defer lfs.Release(n)

	for _, dir := range []string{"/base/a", "/base/a/b", "/base/a/b/c"} {
		d := mustResolve(t, lfs, dir, false, 0)
		if !d.IsDir() {
			t.Errorf("%s is not a directory", dir)
		}
		if d.Layer().ID() != "base" {
			t.Errorf("%s owned by %q, want base", dir, d.Layer().ID())
		}
		lfs.Release(d)
	}
}

// TestCreateUnderShadowingFile verifies that a regular file blocking the
// parent-directory chain makes creation fail rather than corrupt the tree.
func TestCreateUnderShadowingFile(t *testing.T) {
	lfs := mustNew(t)
	mustCreateLayer(t, lfs, "base", "")

	f := mustResolve(t, lfs, "/base/blob", true, 0644)
	lfs.Release(f)

	if _, err := lfs.ResolveInode("/base/blob/child", true, 0644); !errors.Is(err, ErrNotFound) {
		t.Errorf("create under a file: got %v, want ErrNotFound", err)
	}
}

// TestRecreateAfterRemove verifies that a create over a logically deleted
// entry allocates a replacement instead of handing back the doomed inode, and
// that reclaiming the old inode does not unlink the replacement.
func TestRecreateAfterRemove(t *testing.T) {
	lfs := mustNew(t)
	mustCreateLayer(t, lfs, "base", "")

	doomed := mustResolve(t, lfs, "/base/a", true, 0644)
	holder := mustResolve(t, lfs, "/base/a", false, 0)
	lfs.MarkDeleted(doomed)
	lfs.Release(doomed)

	fresh := mustResolve(t, lfs, "/base/a", true, 0644)
	if fresh == holder {
		t.Fatal("create returned the deleted inode")
	}
	if fresh.Deleted() {
		t.Error("replacement inode is marked deleted")
	}

	// The doomed inode stays with its holder until released.
	if holder.reclaimed {
		t.Error("held inode reclaimed while referenced")
	}
	lfs.Release(holder)

	m := mustResolve(t, lfs, "/base/a", false, 0)
	if m != fresh {
		t.Error("replacement vanished with the old inode's reclamation")
	}
	lfs.Release(m)
	lfs.Release(fresh)
}

// TestRecreateAfterRemoveCached runs the re-create sequence with the resolve
// cache enabled, so the warm positive entry for the deleted inode is on the
// create path.
func TestRecreateAfterRemoveCached(t *testing.T) {
	lfs := mustNew(t, WithResolveCache(time.Minute, 16))
	mustCreateLayer(t, lfs, "base", "")

	doomed := mustResolve(t, lfs, "/base/a", true, 0644)
	holder := mustResolve(t, lfs, "/base/a", false, 0)
	lfs.MarkDeleted(doomed)
	lfs.Release(doomed)

	fresh := mustResolve(t, lfs, "/base/a", true, 0644)
	if fresh == holder {
		t.Fatal("cached create returned the deleted inode")
	}
	lfs.Release(holder)
	lfs.Release(fresh)
}

// TestCacheRejectsStaleStore verifies a resolution result computed before an
// allocation cannot be cached over it.
func TestCacheRejectsStaleStore(t *testing.T) {
	c := newResolveCache(true, time.Minute, 16)
	l := &Layer{id: "l"}

	gen := c.generation()
	c.bump()
	c.put("k", l, gen)
	if _, _, ok := c.lookup("k"); ok {
		t.Error("entry stored with a stale generation was served")
	}

	gen = c.generation()
	c.put("k", l, gen)
	if hit, _, ok := c.lookup("k"); !ok || hit != l {
		t.Error("entry stored with the current generation was not served")
	}
}

func TestResolveCache(t *testing.T) {
	lfs := mustNew(t, WithResolveCache(time.Minute, 128))
	mustCreateLayer(t, lfs, "base", "")
	mustCreateLayer(t, lfs, "top", "base")

	n := mustResolve(t, lfs, "/base/etc/conf", true, 0644)
	lfs.Release(n)

	// Warm the cache through the inherited path, then hit it.
	a := mustResolve(t, lfs, "/top/etc/conf", false, 0)
	lfs.Release(a)
	b := mustResolve(t, lfs, "/top/etc/conf", false, 0)
	if b != n {
		t.Error("cached resolution returned a different inode")
	}
	lfs.Release(b)

	if stats := lfs.CacheStats(); !stats.Enabled || stats.Hits == 0 {
		t.Errorf("expected cache hits, got %+v", stats)
	}

	// A copy-up invalidates cached results: the new owner must win.
	up, err := lfs.CopyUp("/top/etc/conf")
	if err != nil {
		t.Fatalf("copy up: %v", err)
	}
	c := mustResolve(t, lfs, "/top/etc/conf", false, 0)
	if c != up {
		t.Error("stale cache entry survived a copy-up")
	}
	lfs.Release(c)
	lfs.Release(up)
}

func TestResolveCacheNegative(t *testing.T) {
	lfs := mustNew(t, WithResolveCache(time.Minute, 128))
	mustCreateLayer(t, lfs, "base", "")

	for i := 0; i < 2; i++ {
		if _, err := lfs.ResolveInode("/base/absent", false, 0); !errors.Is(err, ErrNotFound) {
			t.Fatalf("lookup %d: got %v, want ErrNotFound", i, err)
		}
	}

	// A negative entry must not block a later create.
	n, err := lfs.ResolveInode("/base/absent", true, 0644)
	if err != nil {
		t.Fatalf("create after negative lookups: %v", err)
	}
	lfs.Release(n)

	m := mustResolve(t, lfs, "/base/absent", false, 0)
	lfs.Release(m)
}
