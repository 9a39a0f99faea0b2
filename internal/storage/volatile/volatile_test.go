package volatile

import (
	"testing"

	"github.com/arena-cache/btreecache/internal/storage"
	"github.com/arena-cache/btreecache/internal/uid"
)

func TestPutGetRoundTrip(t *testing.T) {
	b := New(0)
	defer b.Close()

	u, err := b.Put([]byte("hello"), uid.KindDataNode, storage.Fresh())
	if err != nil {
		t.Fatalf("put: %v", err)
	}
	if u.Media() != uid.OnStorageVolatile || u.Kind() != uid.KindDataNode {
		t.Fatalf("unexpected UID tags: %v", u)
	}

	got, err := b.Get(u)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if string(got) != "hello" {
		t.Fatalf("got %q, want %q", got, "hello")
	}
}

func TestGetMissingReturnsErrNotFound(t *testing.T) {
	b := New(0)
	defer b.Close()

	_, err := b.Get(uid.ForBlock(uid.OnStorageVolatile, uid.KindDataNode, 999))
	if err != storage.ErrNotFound {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestRemoveThenGetMisses(t *testing.T) {
	b := New(0)
	defer b.Close()

	u, _ := b.Put([]byte("x"), uid.KindDataNode, storage.Fresh())
	if err := b.Remove(u); err != nil {
		t.Fatalf("remove: %v", err)
	}
	if _, err := b.Get(u); err != storage.ErrNotFound {
		t.Fatalf("err = %v, want ErrNotFound after remove", err)
	}
}

func TestOverwriteReusesSameUID(t *testing.T) {
	b := New(0)
	defer b.Close()

	u1, err := b.Put([]byte("v1"), uid.KindDataNode, storage.Fresh())
	if err != nil {
		t.Fatalf("put: %v", err)
	}

	u2, err := b.Put([]byte("v2-longer"), uid.KindDataNode, storage.Overwrite(u1))
	if err != nil {
		t.Fatalf("overwrite: %v", err)
	}
	if u2.Locator() != u1.Locator() {
		t.Fatalf("overwrite changed locator: %v -> %v", u1, u2)
	}

	got, err := b.Get(u2)
	if err != nil {
		t.Fatalf("get after overwrite: %v", err)
	}
	if string(got) != "v2-longer" {
		t.Fatalf("got %q, want %q", got, "v2-longer")
	}
}

func TestPutRejectsOverBudget(t *testing.T) {
	b := New(4)
	defer b.Close()

	if _, err := b.Put([]byte("toolong"), uid.KindDataNode, storage.Fresh()); err == nil {
		t.Fatal("expected an error when the write exceeds the backend budget")
	}
}
