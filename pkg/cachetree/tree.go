// tree.go implements the B+/Bε tree's three externally visible operations
// (§4.5, §6): insert, search, remove, plus flush and cache_stats. All three
// mutating/reading paths share the same descent skeleton: pin the root,
// walk down releasing ancestors the moment a node is proven "safe" (cannot
// itself split or merge), and land on a data-node leaf.
//
// © 2025 btreecache authors. MIT License.
package cachetree

import (
	"cmp"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"unsafe"

	"go.uber.org/zap"

	"github.com/arena-cache/btreecache/internal/codec"
	"github.com/arena-cache/btreecache/internal/storage"
	"github.com/arena-cache/btreecache/internal/storage/file"
	"github.com/arena-cache/btreecache/internal/storage/pmem"
	"github.com/arena-cache/btreecache/internal/storage/volatile"
	"github.com/arena-cache/btreecache/internal/uid"
	"github.com/arena-cache/btreecache/internal/wal"
)

// Tree is the paged, cache-managed index. K must be totally ordered:
// fixed-size keys only, per the spec's own non-goal, so cmp.Ordered is a
// faithful constraint rather than an artificial restriction.
type Tree[K cmp.Ordered, V any] struct {
	degree uint16
	traits codec.Traits[K, V]
	mgr    *manager[K, V]

	rootMu   sync.RWMutex
	rootSlot codec.ChildSlot
	rootKind uid.Kind

	wal       *wal.WAL[K, V]
	replaying atomic.Bool

	log *zap.Logger
}

// New constructs a Tree from cfg, wiring the selected storage backend,
// page-replacement policy, and (if a path was given) a write-ahead log.
func New[K cmp.Ordered, V any](cfg *Config[K, V], opts ...Option[K, V]) (*Tree[K, V], error) {
	for _, opt := range opts {
		opt(cfg)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	traits := codec.Traits[K, V]{
		Degree:    cfg.Degree,
		BlockSize: cfg.blockSizeOrDefault(),
		Key:       cfg.KeyCodec,
		Value:     cfg.ValueCodec,
	}

	backend, err := openBackend(cfg)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStorageIO, err)
	}

	metrics := newMetricsSink(cfg.registry)
	mgr := newManager[K, V](cfg, traits, backend, cfg.logger, metrics)
	mgr.start()

	var w *wal.WAL[K, V]
	if cfg.StoragePath != "" {
		w, err = wal.Open(cfg.StoragePath+".wal", cfg.KeyCodec, cfg.ValueCodec, cfg.logger)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrStorageIO, err)
		}
	}

	return &Tree[K, V]{
		degree: cfg.Degree,
		traits: traits,
		mgr:    mgr,
		wal:    w,
		log:    cfg.logger,
	}, nil
}

func openBackend[K any, V any](cfg *Config[K, V]) (storage.Backend, error) {
	switch cfg.Storage {
	case StorageFile:
		return file.Open(cfg.StoragePath, cfg.BackingBytes, cfg.logger)
	case StoragePmem:
		return pmem.Open(cfg.StoragePath, cfg.BackingBytes, cfg.blockSizeOrDefault())
	default:
		return volatile.New(cfg.BackingBytes), nil
	}
}

// Init constructs the empty root data node. Must be called once before any
// Insert/Search/Remove on a newly constructed Tree. ReplayWAL does not call
// it; the caller Inits the reopened tree before replaying into it.
func (t *Tree[K, V]) Init() {
	root := t.mgr.allocateData(&codec.DataNode[K, V]{})
	t.rootSlot = codec.ChildSlot{UID: root.id, Ptr: unsafe.Pointer(root)}
	t.rootKind = uid.KindDataNode
}

func (t *Tree[K, V]) maxKeys() int { return 2*int(t.degree) - 1 }
func (t *Tree[K, V]) minKeys() int { return (int(t.degree)+1)/2 - 1 }

func (t *Tree[K, V]) nodeKeyCount(o *object[K, V]) int {
	if o.kind == uid.KindIndexNode {
		return len(o.index.Keys)
	}
	return len(o.data.Keys)
}

// descendForWrite walks from the chain's current tail down to a data-node
// leaf, truncating the chain to the most recently visited node each time
// isSafe proves that node cannot itself propagate a structural change.
func (t *Tree[K, V]) descendForWrite(chain *lockChain[K, V], key K, isSafe func(*object[K, V]) bool) error {
	for {
		cur := chain.top()
		if cur.kind != uid.KindIndexNode {
			return nil
		}
		if isSafe(cur) {
			chain.truncateToTop()
			cur = chain.top()
		}
		idx := upperBound(cur.index.Keys, key)
		slot := &cur.index.Children[idx]
		child, err := t.mgr.resolve(cur, slot, slot.UID.Kind())
		if err != nil {
			return err
		}
		child.mu.Lock()
		chain.push(child, cur, idx)
	}
}

// Insert adds (k, v). Returns ErrKeyAlreadyExists if k is already present.
func (t *Tree[K, V]) Insert(k K, v V) error {
	if t.wal != nil && !t.replaying.Load() {
		if err := t.wal.Append(wal.OpInsert, k, v); err != nil {
			return fmt.Errorf("%w: %v", ErrStorageIO, err)
		}
	}

	t.rootMu.RLock()
	root, err := t.mgr.resolve(nil, &t.rootSlot, t.rootKind)
	t.rootMu.RUnlock()
	if err != nil {
		return err
	}

	chain := newLockChain(t.mgr)
	root.mu.Lock()
	chain.push(root, nil, 0)

	if err := t.descendForWrite(chain, k, func(n *object[K, V]) bool {
		return len(n.index.Keys) < t.maxKeys()
	}); err != nil {
		chain.releaseAll()
		return err
	}

	leaf := chain.top()
	if err := t.insertIntoData(leaf, k, v); err != nil {
		chain.releaseAll()
		return err
	}

	if len(leaf.data.Keys) > t.maxKeys() {
		if err := t.propagateSplit(chain); err != nil {
			chain.releaseAll()
			return err
		}
	}
	chain.releaseAll()
	return nil
}

// Remove deletes k. Returns ErrKeyDoesNotExist if k is absent.
func (t *Tree[K, V]) Remove(k K) error {
	var zero V
	if t.wal != nil && !t.replaying.Load() {
		if err := t.wal.Append(wal.OpRemove, k, zero); err != nil {
			return fmt.Errorf("%w: %v", ErrStorageIO, err)
		}
	}

	t.rootMu.RLock()
	root, err := t.mgr.resolve(nil, &t.rootSlot, t.rootKind)
	t.rootMu.RUnlock()
	if err != nil {
		return err
	}

	chain := newLockChain(t.mgr)
	root.mu.Lock()
	chain.push(root, nil, 0)

	if err := t.descendForWrite(chain, k, func(n *object[K, V]) bool {
		return len(n.index.Keys) > t.minKeys()
	}); err != nil {
		chain.releaseAll()
		return err
	}

	leaf := chain.top()
	if err := t.removeFromData(leaf, k); err != nil {
		chain.releaseAll()
		return err
	}

	if leaf != root && len(leaf.data.Keys) < t.minKeys() {
		if err := t.propagateMerge(chain); err != nil {
			chain.releaseAll()
			return err
		}
	}
	chain.releaseAll()
	return nil
}

// Search returns the value stored under k, read-locking down the tree
// without ever taking the write path (§4.5's "Search path").
func (t *Tree[K, V]) Search(k K) (V, error) {
	var zero V

	t.rootMu.RLock()
	root, err := t.mgr.resolve(nil, &t.rootSlot, t.rootKind)
	t.rootMu.RUnlock()
	if err != nil {
		return zero, err
	}

	cur := root
	cur.mu.RLock()
	for cur.kind == uid.KindIndexNode {
		idx := upperBound(cur.index.Keys, k)
		slot := &cur.index.Children[idx]
		child, err := t.mgr.resolve(cur, slot, slot.UID.Kind())
		if err != nil {
			cur.mu.RUnlock()
			t.mgr.unpin(cur)
			return zero, err
		}
		child.mu.RLock()
		cur.mu.RUnlock()
		t.mgr.unpin(cur)
		cur = child
	}

	pos, found := searchSorted(cur.data.Keys, k)
	var result V
	if found {
		result = cur.data.Values[pos]
	}
	cur.mu.RUnlock()
	t.mgr.unpin(cur)

	if !found {
		return zero, ErrKeyDoesNotExist
	}
	return result, nil
}

// inOrder walks every (key, value) pair in ascending key order, calling
// visit for each. It exists purely to verify the tree's ordering invariant
// in tests; it is not part of the external API (the spec's own non-goal
// rules out a public range-scan query). visit returning false stops the
// walk early. Each node is read-locked only while its keys or child slots
// are copied out, and stays pinned until its subtree has been visited.
func (t *Tree[K, V]) inOrder(visit func(k K, v V) bool) error {
	t.rootMu.RLock()
	root, err := t.mgr.resolve(nil, &t.rootSlot, t.rootKind)
	t.rootMu.RUnlock()
	if err != nil {
		return err
	}
	_, err = t.inOrderWalk(root, visit)
	return err
}

// inOrderWalk visits the subtree rooted at n, returning ok=false once visit
// has asked to stop (so callers higher in the recursion also stop early).
func (t *Tree[K, V]) inOrderWalk(n *object[K, V], visit func(k K, v V) bool) (bool, error) {
	n.mu.RLock()

	if n.kind == uid.KindDataNode {
		keys := append([]K(nil), n.data.Keys...)
		vals := append([]V(nil), n.data.Values...)
		n.mu.RUnlock()
		t.mgr.unpin(n)

		for i := range keys {
			if !visit(keys[i], vals[i]) {
				return false, nil
			}
		}
		return true, nil
	}

	children := append([]codec.ChildSlot(nil), n.index.Children...)
	n.mu.RUnlock()

	for i, slot := range children {
		child, err := t.mgr.resolve(n, &children[i], slot.UID.Kind())
		if err != nil {
			t.mgr.unpin(n)
			return false, err
		}
		ok, err := t.inOrderWalk(child, visit)
		if err != nil {
			t.mgr.unpin(n)
			return false, err
		}
		if !ok {
			t.mgr.unpin(n)
			return false, nil
		}
	}
	t.mgr.unpin(n)
	return true, nil
}

func (t *Tree[K, V]) insertIntoData(leaf *object[K, V], k K, v V) error {
	pos, found := searchSorted(leaf.data.Keys, k)
	if found {
		return ErrKeyAlreadyExists
	}
	leaf.data.Keys = insertAt(leaf.data.Keys, pos, k)
	leaf.data.Values = insertAt(leaf.data.Values, pos, v)
	leaf.dirty.Store(true)
	return nil
}

func (t *Tree[K, V]) removeFromData(leaf *object[K, V], k K) error {
	pos, found := searchSorted(leaf.data.Keys, k)
	if !found {
		return ErrKeyDoesNotExist
	}
	leaf.data.Keys = append(leaf.data.Keys[:pos], leaf.data.Keys[pos+1:]...)
	leaf.data.Values = append(leaf.data.Values[:pos], leaf.data.Values[pos+1:]...)
	leaf.dirty.Store(true)
	return nil
}

// Flush forces every dirty resident CacheObject to storage. A second call
// writes nothing: nothing remains dirty.
func (t *Tree[K, V]) Flush() error {
	return t.mgr.persistAll()
}

// CacheStats returns the aggregated hit/miss/eviction counters.
func (t *Tree[K, V]) CacheStats() Stats {
	return t.mgr.statsSnapshot()
}

// ReplayWAL re-applies every record from the tree's write-ahead log
// against this (freshly Init'd) tree. Errors already implied by replay
// (a key re-inserted that is already present, a remove of an absent key)
// are swallowed, since the log may contain an op whose effect already
// landed on storage before the crash that truncated the process.
func (t *Tree[K, V]) ReplayWAL() error {
	if t.wal == nil {
		return nil
	}
	t.replaying.Store(true)
	defer t.replaying.Store(false)

	return t.wal.Replay(func(op wal.Op, k K, v V) error {
		switch op {
		case wal.OpInsert:
			if err := t.Insert(k, v); err != nil && !errors.Is(err, ErrKeyAlreadyExists) {
				return err
			}
			return nil
		case wal.OpRemove:
			if err := t.Remove(k); err != nil && !errors.Is(err, ErrKeyDoesNotExist) {
				return err
			}
			return nil
		default:
			return ErrInternal
		}
	})
}

// Close flushes dirty state, closes the WAL, and closes the backend.
func (t *Tree[K, V]) Close() error {
	if err := t.Flush(); err != nil {
		return err
	}
	if t.wal != nil {
		if err := t.wal.Close(); err != nil {
			return err
		}
	}
	return t.mgr.close()
}
