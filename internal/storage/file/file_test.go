package file

import (
	"testing"

	"github.com/arena-cache/btreecache/internal/storage"
	"github.com/arena-cache/btreecache/internal/uid"
)

func TestPutGetRemoveRoundTrip(t *testing.T) {
	dir := t.TempDir()
	b, err := Open(dir, 0, nil)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer b.Close()

	u, err := b.Put([]byte("payload"), uid.KindIndexNode, storage.Fresh())
	if err != nil {
		t.Fatalf("put: %v", err)
	}
	if u.Media() != uid.OnStorageFile || u.Kind() != uid.KindIndexNode {
		t.Fatalf("unexpected UID tags: %v", u)
	}

	got, err := b.Get(u)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if string(got) != "payload" {
		t.Fatalf("got %q, want %q", got, "payload")
	}

	if err := b.Remove(u); err != nil {
		t.Fatalf("remove: %v", err)
	}
	if _, err := b.Get(u); err != storage.ErrNotFound {
		t.Fatalf("err = %v, want ErrNotFound after remove", err)
	}
}

func TestOverwriteReusesSameLocator(t *testing.T) {
	dir := t.TempDir()
	b, err := Open(dir, 0, nil)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer b.Close()

	u1, err := b.Put([]byte("v1"), uid.KindDataNode, storage.Fresh())
	if err != nil {
		t.Fatalf("put: %v", err)
	}
	u2, err := b.Put([]byte("v2"), uid.KindDataNode, storage.Overwrite(u1))
	if err != nil {
		t.Fatalf("overwrite: %v", err)
	}
	if u2.Locator() != u1.Locator() {
		t.Fatalf("overwrite changed locator: %v -> %v", u1, u2)
	}
}

func TestReopenResumesCounterPastExistingBlocks(t *testing.T) {
	dir := t.TempDir()
	b1, err := Open(dir, 0, nil)
	if err != nil {
		t.Fatalf("open 1: %v", err)
	}
	u1, err := b1.Put([]byte("a"), uid.KindDataNode, storage.Fresh())
	if err != nil {
		t.Fatalf("put: %v", err)
	}
	if err := b1.Close(); err != nil {
		t.Fatalf("close 1: %v", err)
	}

	b2, err := Open(dir, 0, nil)
	if err != nil {
		t.Fatalf("open 2: %v", err)
	}
	defer b2.Close()

	u2, err := b2.Put([]byte("b"), uid.KindDataNode, storage.Fresh())
	if err != nil {
		t.Fatalf("put 2: %v", err)
	}
	if u2.Locator() == u1.Locator() {
		t.Fatalf("reopened store reused a live block number: %v collides with %v", u2, u1)
	}

	got, err := b2.Get(u1)
	if err != nil {
		t.Fatalf("get block written before reopen: %v", err)
	}
	if string(got) != "a" {
		t.Fatalf("got %q, want %q", got, "a")
	}
}
