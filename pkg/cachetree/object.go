// object.go implements the CacheObject wrapper (§3): the unit the cache
// manager actually manages. A wrapper's `id` is its in-cache identity,
// derived once at construction from the wrapper's own address via
// uid.ForPointer — stable for the object's lifetime because Go's current
// collector does not move heap objects reachable through a live pointer,
// the same non-moving assumption the teacher's internal/arena package
// already leans on for its unsafe.Pointer arithmetic.
//
// `idUpdated` records the on-storage UID minted by the object's last
// successful flush; a parent's child slot copies it in lazily, the first
// time it revisits that slot after the flush (§4.5's "interaction with
// cache id rewrites").
//
// © 2025 btreecache authors. MIT License.
package cachetree

import (
	"sync"
	"sync/atomic"
	"unsafe"

	"github.com/arena-cache/btreecache/internal/codec"
	"github.com/arena-cache/btreecache/internal/policy"
	"github.com/arena-cache/btreecache/internal/uid"
)

type object[K any, V any] struct {
	id uid.UID

	idUpdated    uid.UID
	hasIDUpdated atomic.Bool

	kind uid.Kind

	mu    sync.RWMutex
	data  *codec.DataNode[K, V]
	index *codec.IndexNode[K]

	dirty    atomic.Bool
	pinCount atomic.Int32

	policyHandle policy.Handle
	markDelete   atomic.Bool
	reclaimed    atomic.Bool
}

// newResidentData constructs a freshly-allocated, dirty data-node wrapper.
func newResidentData[K any, V any](n *codec.DataNode[K, V]) *object[K, V] {
	o := &object[K, V]{kind: uid.KindDataNode, data: n}
	o.id = uid.ForPointer(uid.KindDataNode, unsafe.Pointer(o))
	o.dirty.Store(true)
	return o
}

// newResidentIndex constructs a freshly-allocated, dirty index-node wrapper.
func newResidentIndex[K any, V any](n *codec.IndexNode[K]) *object[K, V] {
	o := &object[K, V]{kind: uid.KindIndexNode}
	o.index = n
	o.id = uid.ForPointer(uid.KindIndexNode, unsafe.Pointer(o))
	o.dirty.Store(true)
	return o
}

// coreResident reports whether `core` is present (§3's `core = Some`).
// Caller must hold at least a read lock on mu.
func (o *object[K, V]) coreResident() bool {
	return o.data != nil || o.index != nil
}

// loadUID returns the UID a loader should use to fetch this object's block
// from storage: the last flush's UID if one exists, else the identity it
// was originally loaded from (set by the manager for storage-resident
// wrappers that have never been dirtied in this process).
func (o *object[K, V]) loadUID() uid.UID {
	if o.hasIDUpdated.Load() {
		return o.idUpdated
	}
	return o.id
}

// setFlushed records the UID minted by a successful flush and clears dirty.
func (o *object[K, V]) setFlushed(newUID uid.UID) {
	o.idUpdated = newUID
	o.hasIDUpdated.Store(true)
	o.dirty.Store(false)
}

// dropCore nulls out the resident node body. Caller must hold the write lock.
func (o *object[K, V]) dropCore() {
	o.data = nil
	o.index = nil
}

func (o *object[K, V]) pin()   { o.pinCount.Add(1) }
func (o *object[K, V]) unpin() { o.pinCount.Add(-1) }

func (o *object[K, V]) pinned() bool { return o.pinCount.Load() > 0 }
