/*
Package layerfs implements the layer and inode management engine of a
copy-on-write (union) filesystem.

# Overview

A LayerFS presents a stack of immutable layers plus a single mutable upper
layer as one namespace, the way container-image storage shares read-only base
content while isolating per-container writes. Each layer owns a path-to-inode
index and a root inode, and chains to a parent layer it inherits content from.
The engine answers "which layer owns this path right now" under concurrent
readers, writers, and the reaper.

Paths are namespace paths of the form /<layer-id>/<path-within-layer>. A path
with no second segment addresses the layer root.

# Key Features

  - Layer lineages with union semantics: the most specific layer that holds a
    path shadows the same path in every ancestor
  - Reference-counted inodes with logical deletion and deferred reclamation
  - Creation-layer selection: a new entry lands in the first lineage layer
    that already holds its parent directory
  - Explicit copy-up of inherited entries into the addressed layer
  - absfs and afero filesystem adapters for the operation-dispatch side

# Basic Usage

	package main

	import "github.com/raghu999/layerfs"

	func main() {
	    lfs, err := layerfs.New()
	    if err != nil {
	        panic(err)
	    }
	    defer lfs.Close()

	    // Build a two-layer lineage: an immutable base and a mutable top.
	    lfs.CreateLayer("base", "")
	    lfs.CreateLayer("top", "base")
	    lfs.SetUpper("top")

	    // Create a file in the base layer.
	    n, err := lfs.ResolveInode("/base/etc/conf", true, 0644)
	    if err != nil {
	        panic(err)
	    }
	    defer lfs.Release(n)

	    // The top layer inherits it until it shadows the path itself.
	    m, _ := lfs.ResolveInode("/top/etc/conf", false, 0)
	    lfs.Release(m) // m == n
	}

# Reference Counting

Every successful ResolveInode (and every allocation it performs) hands the
caller exactly one reference; the caller must Release it exactly once.
MarkDeleted is a logical unlink: the inode stays resolvable by reference
holders and stays in its layer's index until the count reaches zero, at which
point the reaper removes it from the index, unlinks it from its parent's child
list, and discards its backing content. Releasing more references than were
taken corrupts the bookkeeping and panics.

# Concurrency

Lookups run concurrently with each other under the read side of a
process-wide reaper lock; reclamation takes the write side, so an inode is
never freed out from under an in-flight lookup. Each inode additionally
guards its reference count and deleted flag with its own mutex.

# Layers

Layers are created against an engine-wide registry:

	lfs.CreateLayer("base", "")        // no parent
	lfs.CreateLayer("top", "base")     // inherits from base
	lfs.SetUpper("top")                // mark as the live write target
	lfs.RemoveLayer("base")            // deferred teardown, see RemoveLayer

Removing a layer unregisters it and marks every inode it owns deleted;
outstanding references degrade gracefully and reclamation happens as they
drop or on the next sweep.

# Filesystem Adapters

The engine itself only resolves paths to inodes. For callers that want file
semantics, FileSystem returns an absfs.FileSystem over the namespace, and
AferoFs exposes the same view as an afero.Fs. Regular-file content lives in a
pluggable content store (an in-memory filesystem by default) standing in for
a block device.
*/
package layerfs
