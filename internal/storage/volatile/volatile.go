// Package volatile implements the heap-backed storage engine: an O(1)
// in-memory map keyed by a monotonic block counter. It never survives
// process restart and exists primarily for tests and the cache-thrashing
// scenarios (§8 boundary #13) where storage I/O cost is not the point.
//
// © 2025 btreecache authors. MIT License.
package volatile

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/arena-cache/btreecache/internal/storage"
	"github.com/arena-cache/btreecache/internal/uid"
)

// Backend is a mutex-guarded map[block]bytes with a block-size budget.
type Backend struct {
	mu     sync.RWMutex
	blocks map[uint64][]byte
	nextID atomic.Uint64

	budget int64
	used   atomic.Int64
}

// New constructs a volatile store budgeted for backingBytes total; Put
// returns an error once that budget would be exceeded.
func New(backingBytes int64) *Backend {
	b := &Backend{
		blocks: make(map[uint64][]byte, 1024),
		budget: backingBytes,
	}
	b.nextID.Store(1) // 0 is reserved, mirrors uid.Zero
	return b
}

func (b *Backend) Media() uid.Media { return uid.OnStorageVolatile }

func (b *Backend) Put(block []byte, kind uid.Kind, hint storage.Hint) (uid.UID, error) {
	cp := make([]byte, len(block))
	copy(cp, block)

	if old, ok := hint.OverwriteTarget(); ok {
		blockNo := old.Locator()
		b.mu.Lock()
		prev, existed := b.blocks[blockNo]
		b.blocks[blockNo] = cp
		b.mu.Unlock()
		if existed {
			b.used.Add(int64(len(cp) - len(prev)))
		} else {
			b.used.Add(int64(len(cp)))
		}
		return old.WithBlock(blockNo), nil
	}

	if b.budget > 0 && b.used.Load()+int64(len(cp)) > b.budget {
		return uid.Zero, fmt.Errorf("volatile: backing budget of %d bytes exhausted", b.budget) // surfaced as StorageIOError by the caller
	}

	blockNo := b.nextID.Add(1) - 1
	b.mu.Lock()
	b.blocks[blockNo] = cp
	b.mu.Unlock()
	b.used.Add(int64(len(cp)))

	return uid.ForBlock(uid.OnStorageVolatile, kind, blockNo), nil
}

func (b *Backend) Get(u uid.UID) ([]byte, error) {
	b.mu.RLock()
	block, ok := b.blocks[u.Locator()]
	b.mu.RUnlock()
	if !ok {
		return nil, storage.ErrNotFound
	}
	out := make([]byte, len(block))
	copy(out, block)
	return out, nil
}

func (b *Backend) Remove(u uid.UID) error {
	b.mu.Lock()
	block, ok := b.blocks[u.Locator()]
	delete(b.blocks, u.Locator())
	b.mu.Unlock()
	if ok {
		b.used.Add(-int64(len(block)))
	}
	return nil
}

func (b *Backend) Close() error { return nil }
