package wal

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/arena-cache/btreecache/internal/codec"
)

type record struct {
	op  Op
	key uint64
	val uint64
}

func TestAppendFlushReplay(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "test.wal")

	w, err := Open[uint64, uint64](path, codec.Uint64Codec, codec.Uint64Codec, nil)
	if err != nil {
		t.Fatalf("open: %v", err)
	}

	want := []record{
		{OpInsert, 1, 100},
		{OpInsert, 2, 200},
		{OpRemove, 1, 0},
		{OpInsert, 3, 300},
	}
	for _, r := range want {
		if err := w.Append(r.op, r.key, r.val); err != nil {
			t.Fatalf("append: %v", err)
		}
	}
	if err := w.Flush(); err != nil {
		t.Fatalf("flush: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	rw, err := OpenForReplay[uint64, uint64](path, codec.Uint64Codec, codec.Uint64Codec)
	if err != nil {
		t.Fatalf("open for replay: %v", err)
	}
	defer rw.Close()

	var got []record
	err = rw.Replay(func(op Op, k, v uint64) error {
		got = append(got, record{op, k, v})
		return nil
	})
	if err != nil {
		t.Fatalf("replay: %v", err)
	}

	if len(got) != len(want) {
		t.Fatalf("got %d records, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("record %d: got %+v, want %+v", i, got[i], want[i])
		}
	}
}

// TestReopenLivePreservesPriorContent guards against the WAL truncating a
// file left behind by a prior process when it reopens for live appends --
// a fresh open must extend the file, not clobber it, so replay after a
// crash still sees everything written before the crash.
func TestReopenLivePreservesPriorContent(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "test.wal")

	w1, err := Open[uint64, uint64](path, codec.Uint64Codec, codec.Uint64Codec, nil)
	if err != nil {
		t.Fatalf("open 1: %v", err)
	}
	if err := w1.Append(OpInsert, 7, 70); err != nil {
		t.Fatalf("append: %v", err)
	}
	if err := w1.Flush(); err != nil {
		t.Fatalf("flush: %v", err)
	}
	if err := w1.Close(); err != nil {
		t.Fatalf("close 1: %v", err)
	}

	w2, err := Open[uint64, uint64](path, codec.Uint64Codec, codec.Uint64Codec, nil)
	if err != nil {
		t.Fatalf("open 2: %v", err)
	}
	if err := w2.Append(OpInsert, 8, 80); err != nil {
		t.Fatalf("append 2: %v", err)
	}
	if err := w2.Close(); err != nil {
		t.Fatalf("close 2: %v", err)
	}

	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("stat: %v", err)
	}
	// entrySize(OpInsert) for two uint64 codecs is 1 + 8 + 8 = 17 bytes.
	const entrySize = 1 + 8 + 8
	if info.Size() != 2*entrySize {
		t.Fatalf("file size = %d, want %d (reopen must not truncate prior content)", info.Size(), 2*entrySize)
	}
}

func TestTruncateCallsPersistThenEmptiesFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "test.wal")

	w, err := Open[uint64, uint64](path, codec.Uint64Codec, codec.Uint64Codec, nil)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer w.Close()

	if err := w.Append(OpInsert, 1, 1); err != nil {
		t.Fatalf("append: %v", err)
	}

	var persisted bool
	if err := w.Truncate(func() error {
		persisted = true
		return nil
	}); err != nil {
		t.Fatalf("truncate: %v", err)
	}
	if !persisted {
		t.Fatal("Truncate did not call persist before truncating")
	}

	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("stat: %v", err)
	}
	if info.Size() != 0 {
		t.Fatalf("file size after truncate = %d, want 0", info.Size())
	}
}
