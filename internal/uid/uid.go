// Package uid implements the tagged 64-bit page identifier used throughout
// btreecache to address a node ambiguously: still resident in the cache, or
// spilled to one of the backing stores.
//
// Layout (low bits to high bits):
//
//	[0:58)  locator  -- raw pointer (media == InCache) or block number (media == on-storage)
//	[58:62) kind     -- node-type discriminator, registered by the codec
//	[62:64) media     -- residency tag
//
// Carrying kind inside the UID lets the cache manager dispatch a
// deserializer without reading a separate tag byte from the page body, and
// lets a parent infer whether a child is a data or index node without
// loading it. Equality is plain uint64 equality; ordering has no semantics
// beyond making UID usable as a map/sort key.
//
// © 2025 btreecache authors. MIT License.
package uid

import "unsafe"

// Media tags where a UID's locator should be resolved.
type Media uint8

const (
	InCache Media = iota
	OnStorageFile
	OnStoragePmem
	OnStorageVolatile
)

func (m Media) String() string {
	switch m {
	case InCache:
		return "in_cache"
	case OnStorageFile:
		return "on_storage_file"
	case OnStoragePmem:
		return "on_storage_pmem"
	case OnStorageVolatile:
		return "on_storage_volatile"
	default:
		return "unknown_media"
	}
}

// Kind discriminates the node type a UID refers to. New kinds may be
// registered by codecs without changing this package.
type Kind uint8

const (
	KindDataNode Kind = iota
	KindIndexNode
)

func (k Kind) String() string {
	switch k {
	case KindDataNode:
		return "data_node"
	case KindIndexNode:
		return "index_node"
	default:
		return "unknown_kind"
	}
}

const (
	locatorBits = 58
	kindBits    = 4
	mediaBits   = 2

	locatorMask = uint64(1)<<locatorBits - 1
	kindMask    = uint64(1)<<kindBits - 1

	kindShift  = locatorBits
	mediaShift = locatorBits + kindBits
)

// UID is the opaque, comparable, hashable page identifier.
type UID uint64

// Zero is the nil UID; no real page ever encodes to it because a cache
// pointer's locator is never zero (see ForPointer) and block numbers start
// at 1 (see internal/storage).
const Zero UID = 0

// ForPointer mints an in-cache UID whose locator is the raw address of a
// CacheObject. The caller must ensure the pointer stays alive (the cache's
// map owns the object; the UID is just a numeric shortcut to it, per
// internal/uid's "resident pointer + persistent id duality" design).
func ForPointer(kind Kind, ptr unsafe.Pointer) UID {
	return forLocator(InCache, kind, uint64(uintptr(ptr)))
}

// ForBlock mints an on-storage UID addressing a fixed-size block number on
// the given media.
func ForBlock(media Media, kind Kind, block uint64) UID {
	if media == InCache {
		panic("uid: ForBlock called with InCache media")
	}
	return forLocator(media, kind, block)
}

func forLocator(media Media, kind Kind, locator uint64) UID {
	if locator&^locatorMask != 0 {
		panic("uid: locator overflows 58 bits")
	}
	return UID(uint64(media)<<mediaShift | uint64(kind)<<kindShift | locator)
}

// Media decomposes the residency tag.
func (u UID) Media() Media { return Media(uint64(u) >> mediaShift) }

// Kind decomposes the node-type discriminator.
func (u UID) Kind() Kind { return Kind(uint64(u) >> kindShift & kindMask) }

// Locator decomposes the raw pointer (InCache) or block number (on-storage).
func (u UID) Locator() uint64 { return uint64(u) & locatorMask }

// Pointer reinterprets the locator as a *CacheObject pointer. Only valid
// when Media() == InCache; the caller supplies the concrete type via the
// unsafe.Pointer indirection, same pattern as the teacher's
// internal/unsafehelpers usage for zero-copy conversions.
func (u UID) Pointer() unsafe.Pointer {
	if u.Media() != InCache {
		panic("uid: Pointer() called on an on-storage UID")
	}
	return unsafe.Pointer(uintptr(u.Locator()))
}

// IsZero reports whether u is the Zero sentinel.
func (u UID) IsZero() bool { return u == Zero }

// WithBlock returns a copy of u with the same media/kind but a new locator,
// used when a flush mints a fresh on-storage UID that keeps the node's kind.
func (u UID) WithBlock(block uint64) UID {
	return forLocator(u.Media(), u.Kind(), block)
}
