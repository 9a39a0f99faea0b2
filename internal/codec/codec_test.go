package codec

import (
	"testing"

	"github.com/arena-cache/btreecache/internal/uid"
)

func testTraits() Traits[uint64, uint64] {
	return Traits[uint64, uint64]{Degree: 4, BlockSize: 256, Key: Uint64Codec, Value: Uint64Codec}
}

func TestDataNodeRoundTrip(t *testing.T) {
	tr := testTraits()
	n := &DataNode[uint64, uint64]{Keys: []uint64{1, 2, 3}, Values: []uint64{10, 20, 30}}

	block, err := tr.EncodeDataNode(n)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if len(block) != int(tr.BlockSize) {
		t.Fatalf("block size = %d, want %d", len(block), tr.BlockSize)
	}

	decoded, err := tr.DecodeDataNode(block)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(decoded.Keys) != 3 || decoded.Keys[1] != 2 || decoded.Values[2] != 30 {
		t.Fatalf("round trip mismatch: %+v", decoded)
	}
}

func TestIndexNodeRoundTrip(t *testing.T) {
	tr := testTraits()
	keys := []uint64{5, 9}
	childUIDs := []uid.UID{
		uid.ForBlock(uid.OnStorageFile, uid.KindDataNode, 1),
		uid.ForBlock(uid.OnStorageFile, uid.KindDataNode, 2),
		uid.ForBlock(uid.OnStorageFile, uid.KindIndexNode, 3),
	}

	block, err := tr.EncodeIndexNode(keys, childUIDs)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	decoded, err := tr.DecodeIndexNode(block)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(decoded.Keys) != 2 || decoded.Keys[0] != 5 || decoded.Keys[1] != 9 {
		t.Fatalf("keys mismatch: %+v", decoded.Keys)
	}
	if len(decoded.Children) != 3 {
		t.Fatalf("children count = %d, want 3", len(decoded.Children))
	}
	for i, c := range decoded.Children {
		if c.UID != childUIDs[i] {
			t.Fatalf("child %d UID mismatch: got %v want %v", i, c.UID, childUIDs[i])
		}
		if c.Ptr != nil {
			t.Fatalf("decoded child %d should have nil Ptr", i)
		}
	}
}

func TestEncodeDataNodeRejectsOverflow(t *testing.T) {
	tr := Traits[uint64, uint64]{Degree: 2, BlockSize: 20, Key: Uint64Codec, Value: Uint64Codec}
	n := &DataNode[uint64, uint64]{Keys: []uint64{1, 2, 3}, Values: []uint64{1, 2, 3}}
	if _, err := tr.EncodeDataNode(n); err == nil {
		t.Fatal("expected an error when the node does not fit in BlockSize")
	}
}

func TestFixedStringRoundTrip(t *testing.T) {
	c := FixedString(8)
	buf := make([]byte, 8)
	c.Encode(buf, "hi")
	if got := c.Decode(buf); got != "hi" {
		t.Fatalf("got %q, want %q", got, "hi")
	}
}

func TestMaxEntriesPositive(t *testing.T) {
	tr := testTraits()
	if tr.MaxDataEntries() <= 0 {
		t.Fatal("MaxDataEntries should be positive for a reasonably sized block")
	}
	if tr.MaxIndexEntries() <= 0 {
		t.Fatal("MaxIndexEntries should be positive for a reasonably sized block")
	}
}
