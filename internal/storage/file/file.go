// Package file implements the file-backed storage engine on top of Badger
// (github.com/dgraph-io/badger/v4), the same embedded LSM store the teacher
// wires as a second-level cache behind EjectCallback in
// examples/disk_eject/main.go. Here it is promoted to a first-class backend:
// Badger's own page management plays the role the spec describes as
// "bump-allocated fixed-size blocks with free list" — block numbers are
// monotonically allocated keys, and Remove simply deletes the key, letting
// Badger's compaction reclaim space instead of a hand-rolled free list.
//
// © 2025 btreecache authors. MIT License.
package file

import (
	"encoding/binary"
	"errors"
	"sync/atomic"

	badger "github.com/dgraph-io/badger/v4"
	"go.uber.org/zap"

	"github.com/arena-cache/btreecache/internal/storage"
	"github.com/arena-cache/btreecache/internal/uid"
)

// counterKey stores the next block number to allocate, so a reopened store
// (S6: "reopen as a fresh tree pointing at the same file") resumes
// allocation without colliding with existing blocks.
var counterKey = []byte{0xff, 'n', 'e', 'x', 't'}

func blockKey(n uint64) []byte {
	k := make([]byte, 9)
	k[0] = 'b'
	binary.BigEndian.PutUint64(k[1:], n)
	return k
}

// Backend wraps a Badger instance opened at a directory path.
type Backend struct {
	db     *badger.DB
	nextID atomic.Uint64
	log    *zap.Logger
}

// Open opens (or creates) a Badger store at path. A positive backingBytes is
// passed to Badger as the size of each value-log file; it does not cap the
// store's total on-disk size.
func Open(path string, backingBytes int64, log *zap.Logger) (*Backend, error) {
	if log == nil {
		log = zap.NewNop()
	}
	opts := badger.DefaultOptions(path).WithLogger(nil)
	if backingBytes > 0 {
		opts = opts.WithValueLogFileSize(backingBytes)
	}
	db, err := badger.Open(opts)
	if err != nil {
		return nil, err
	}

	b := &Backend{db: db, log: log}
	if err := b.restoreCounter(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return b, nil
}

func (b *Backend) restoreCounter() error {
	next := uint64(1)
	err := b.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(counterKey)
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			next = binary.LittleEndian.Uint64(val)
			return nil
		})
	})
	if err != nil {
		return err
	}
	b.nextID.Store(next)
	return nil
}

func (b *Backend) persistCounter(next uint64) error {
	buf := make([]byte, 8)
	binary.LittleEndian.PutUint64(buf, next)
	return b.db.Update(func(txn *badger.Txn) error {
		return txn.Set(counterKey, buf)
	})
}

func (b *Backend) Media() uid.Media { return uid.OnStorageFile }

func (b *Backend) Put(block []byte, kind uid.Kind, hint storage.Hint) (uid.UID, error) {
	if old, ok := hint.OverwriteTarget(); ok {
		blockNo := old.Locator()
		if err := b.db.Update(func(txn *badger.Txn) error {
			return txn.Set(blockKey(blockNo), block)
		}); err != nil {
			return uid.Zero, err
		}
		return old.WithBlock(blockNo), nil
	}

	blockNo := b.nextID.Add(1) - 1
	if err := b.db.Update(func(txn *badger.Txn) error {
		return txn.Set(blockKey(blockNo), block)
	}); err != nil {
		return uid.Zero, err
	}
	if err := b.persistCounter(b.nextID.Load()); err != nil {
		b.log.Warn("file storage: failed to persist block counter", zap.Error(err))
	}
	return uid.ForBlock(uid.OnStorageFile, kind, blockNo), nil
}

func (b *Backend) Get(u uid.UID) ([]byte, error) {
	var out []byte
	err := b.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(blockKey(u.Locator()))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return storage.ErrNotFound
		}
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			out = make([]byte, len(val))
			copy(out, val)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (b *Backend) Remove(u uid.UID) error {
	return b.db.Update(func(txn *badger.Txn) error {
		err := txn.Delete(blockKey(u.Locator()))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		return err
	})
}

func (b *Backend) Close() error { return b.db.Close() }
