// Package storage declares the backing-store contract shared by the three
// implementations named in §4.2 of the spec: a volatile in-memory map, a
// file-backed store (Badger, standing in for "bump-allocated fixed-size
// blocks with free list"), and a pmem-backed store (mmap over a
// preallocated file, "same layout as file but persistent").
//
// Storage is deliberately untyped ([]byte blocks in, []byte blocks out):
// the codec package turns K/V-typed nodes into blocks before they ever
// reach a Backend, so a Backend never needs type parameters and can be
// swapped independently of the tree's key/value types.
//
// © 2025 btreecache authors. MIT License.
package storage

import (
	"errors"

	"github.com/arena-cache/btreecache/internal/uid"
)

// ErrNotFound is returned by Get when the UID does not resolve to a block.
var ErrNotFound = errors.New("storage: block not found")

// Hint modifies Put's allocation behaviour.
type Hint struct {
	overwrite uid.UID
	has       bool
}

// Fresh requests a newly allocated block.
func Fresh() Hint { return Hint{} }

// Overwrite requests that Put reuse the block identity of an existing UID:
// "idempotent re-writes return the same UID when hint = overwrite(old_uid)"
// (§4.2). Implementations honour this by keying the write at the same
// locator rather than allocating a fresh one.
func Overwrite(old uid.UID) Hint { return Hint{overwrite: old, has: true} }

// OverwriteTarget reports the UID an Overwrite hint was built from, and
// whether the hint requests an overwrite at all.
func (h Hint) OverwriteTarget() (uid.UID, bool) { return h.overwrite, h.has }

// Backend is the contract every storage engine implements.
type Backend interface {
	// Put allocates (or reuses, per hint) a block, writes bytes into it and
	// returns the resulting on-storage UID. The kind tag is threaded through
	// so the returned UID carries the node-type discriminator untouched.
	Put(block []byte, kind uid.Kind, hint Hint) (uid.UID, error)

	// Get reads the block addressed by u. Fails with ErrNotFound if absent.
	Get(u uid.UID) ([]byte, error)

	// Remove frees the block addressed by u. Safe to call at most once per
	// UID; a second call is a caller bug, not a storage-layer concern.
	Remove(u uid.UID) error

	// Media reports which uid.Media tag this backend mints.
	Media() uid.Media

	// Close releases any OS resources (file handles, mmaps) held by the
	// backend. Idempotent.
	Close() error
}
