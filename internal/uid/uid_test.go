package uid

import (
	"testing"
	"unsafe"
)

func TestForBlockRoundTrip(t *testing.T) {
	u := ForBlock(OnStorageFile, KindIndexNode, 12345)
	if u.Media() != OnStorageFile {
		t.Fatalf("media = %v, want %v", u.Media(), OnStorageFile)
	}
	if u.Kind() != KindIndexNode {
		t.Fatalf("kind = %v, want %v", u.Kind(), KindIndexNode)
	}
	if u.Locator() != 12345 {
		t.Fatalf("locator = %d, want 12345", u.Locator())
	}
	if u.IsZero() {
		t.Fatal("non-zero UID reported IsZero")
	}
}

func TestForPointerRoundTrip(t *testing.T) {
	var x int
	p := unsafe.Pointer(&x)
	u := ForPointer(KindDataNode, p)
	if u.Media() != InCache {
		t.Fatalf("media = %v, want InCache", u.Media())
	}
	if u.Kind() != KindDataNode {
		t.Fatalf("kind = %v, want KindDataNode", u.Kind())
	}
	if u.Pointer() != p {
		t.Fatalf("Pointer() round trip mismatch")
	}
}

func TestWithBlockPreservesMediaAndKind(t *testing.T) {
	u := ForBlock(OnStoragePmem, KindIndexNode, 1)
	u2 := u.WithBlock(999)
	if u2.Media() != OnStoragePmem || u2.Kind() != KindIndexNode {
		t.Fatalf("WithBlock changed media/kind: %v", u2)
	}
	if u2.Locator() != 999 {
		t.Fatalf("locator = %d, want 999", u2.Locator())
	}
}

func TestForBlockRejectsInCacheMedia(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatal("expected panic when ForBlock is called with InCache media")
		}
	}()
	ForBlock(InCache, KindDataNode, 1)
}

func TestZeroIsDistinctFromRealUIDs(t *testing.T) {
	u := ForBlock(OnStorageFile, KindDataNode, 1)
	if u == Zero {
		t.Fatal("a block-1 UID must not collide with Zero")
	}
}
