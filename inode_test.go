package layerfs

import (
	"errors"
	"testing"
)

func TestRetainRelease(t *testing.T) {
	lfs := mustNew(t)
	mustCreateLayer(t, lfs, "base", "")

	n := mustResolve(t, lfs, "/base/file", true, 0644)

	lfs.Retain(n)
	lfs.Retain(n)
	if got := n.Ref(); got != 3 {
		t.Errorf("ref after two retains = %d, want 3", got)
	}

	lfs.Release(n)
	lfs.Release(n)
	lfs.Release(n)
	if got := n.Ref(); got != 0 {
		t.Errorf("ref after matching releases = %d, want 0", got)
	}
}

// TestReleaseWithoutReferencePanics verifies that driving the count below
// zero is treated as corrupted bookkeeping, not a recoverable condition.
func TestReleaseWithoutReferencePanics(t *testing.T) {
	lfs := mustNew(t)
	mustCreateLayer(t, lfs, "base", "")

	n := mustResolve(t, lfs, "/base/file", true, 0644)
	lfs.Release(n)

	defer func() {
		if recover() == nil {
			t.Error("expected panic on release without an outstanding reference")
		}
	}()
	lfs.Release(n)
}

// TestMarkDeletedKeepsResolvable verifies that a deleted inode with
// outstanding references survives until the last reference drops.
func TestMarkDeletedKeepsResolvable(t *testing.T) {
	lfs := mustNew(t)
	mustCreateLayer(t, lfs, "base", "")

	n := mustResolve(t, lfs, "/base/doomed", true, 0644)
	holder := mustResolve(t, lfs, "/base/doomed", false, 0)

	lfs.MarkDeleted(n)
	lfs.Release(n)

	if !holder.Deleted() {
		t.Error("deleted flag not visible to the outstanding holder")
	}

	// Still in the index, still resolvable while a reference is out.
	m := mustResolve(t, lfs, "/base/doomed", false, 0)
	if m != holder {
		t.Error("resolution returned a different inode while references are outstanding")
	}
	lfs.Release(m)

	before := lfs.Stats().Reclaimed
	lfs.Release(holder)

	if got := lfs.Stats().Reclaimed; got != before+1 {
		t.Errorf("Reclaimed = %d, want %d", got, before+1)
	}
	if _, err := lfs.ResolveInode("/base/doomed", false, 0); !errors.Is(err, ErrNotFound) {
		t.Errorf("reclaimed inode still resolvable: %v", err)
	}
}

// TestReclamationUnlinksSibling verifies that reclaiming an inode repairs
// its parent's child list.
func TestReclamationUnlinksSibling(t *testing.T) {
	lfs := mustNew(t)
	mustCreateLayer(t, lfs, "base", "")

	a := mustResolve(t, lfs, "/base/dir/a", true, 0644)
	b := mustResolve(t, lfs, "/base/dir/b", true, 0644)
	c := mustResolve(t, lfs, "/base/dir/c", true, 0644)
	lfs.Release(a)
	lfs.Release(c)

	lfs.MarkDeleted(b)
	lfs.Release(b)

	entries, err := lfs.readDir("/base/dir")
	if err != nil {
		t.Fatalf("readdir: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("got %d entries after reclamation, want 2", len(entries))
	}
	for _, entry := range entries {
		if entry.Name() == "b" {
			t.Error("reclaimed inode still listed in its parent directory")
		}
	}
}

// TestReclamationReleasesContent verifies that the backing content file goes
// away with its inode.
func TestReclamationReleasesContent(t *testing.T) {
	lfs := mustNew(t)
	mustCreateLayer(t, lfs, "base", "")

	n := mustResolve(t, lfs, "/base/blob", true, 0644)
	contentPath := n.contentPath
	if contentPath == "" {
		t.Fatal("regular file has no backing content")
	}
	if _, err := lfs.content.Stat(contentPath); err != nil {
		t.Fatalf("content not created at allocation: %v", err)
	}

	lfs.MarkDeleted(n)
	lfs.Release(n)

	if _, err := lfs.content.Stat(contentPath); err == nil {
		t.Error("backing content survived reclamation")
	}
}

func TestDirectoryHasNoContent(t *testing.T) {
	lfs := mustNew(t)
	mustCreateLayer(t, lfs, "base", "")

	l, _ := lfs.Layer("base")
	if l.Root().contentPath != "" {
		t.Error("directory inode owns backing content")
	}
}

func TestFullPath(t *testing.T) {
	lfs := mustNew(t)
	mustCreateLayer(t, lfs, "base", "")

	n := mustResolve(t, lfs, "/base/a/b/file", true, 0644)
	defer lfs.Release(n)

	if got := n.fullPath(); got != "/a/b/file" {
		t.Errorf("fullPath = %q, want %q", got, "/a/b/file")
	}

	l, _ := lfs.Layer("base")
	if got := l.Root().fullPath(); got != "/" {
		t.Errorf("root fullPath = %q, want %q", got, "/")
	}
}

func TestSetModePreservesType(t *testing.T) {
	lfs := mustNew(t)
	mustCreateLayer(t, lfs, "base", "")

	l, _ := lfs.Layer("base")
	root := l.Root()
	root.setMode(0700)

	if !root.Mode().IsDir() {
		t.Error("setMode dropped the directory type bit")
	}
	if perm := root.Mode().Perm(); perm != 0700 {
		t.Errorf("perm = %o, want 0700", perm)
	}
}
