// split.go implements §4.5's split rules and the cascading propagation
// that follows a leaf overflow up through the lock chain, growing the
// tree's height when the cascade reaches the root.
//
// © 2025 btreecache authors. MIT License.
package cachetree

import (
	"unsafe"

	"github.com/arena-cache/btreecache/internal/codec"
	"github.com/arena-cache/btreecache/internal/uid"
)

// splitNode splits an overflowing node in half per the degree-d rule and
// returns the promoted pivot plus the freshly allocated right sibling,
// pinned so the eviction worker cannot reclaim it before it is linked into
// a parent.
func (t *Tree[K, V]) splitNode(node *object[K, V]) (pivot K, right *object[K, V]) {
	d := int(t.degree)

	switch node.kind {
	case uid.KindDataNode:
		pivot = node.data.Keys[d]
		rKeys := append([]K(nil), node.data.Keys[d:]...)
		rVals := append([]V(nil), node.data.Values[d:]...)
		node.data.Keys = append([]K(nil), node.data.Keys[:d]...)
		node.data.Values = append([]V(nil), node.data.Values[:d]...)
		right = t.mgr.allocateData(&codec.DataNode[K, V]{Keys: rKeys, Values: rVals})

	case uid.KindIndexNode:
		pivot = node.index.Keys[d]
		rKeys := append([]K(nil), node.index.Keys[d+1:]...)
		rChildren := append([]codec.ChildSlot(nil), node.index.Children[d+1:]...)
		node.index.Keys = append([]K(nil), node.index.Keys[:d]...)
		node.index.Children = append([]codec.ChildSlot(nil), node.index.Children[:d+1]...)
		right = t.mgr.allocateIndex(&codec.IndexNode[K]{Keys: rKeys, Children: rChildren})
	}

	node.dirty.Store(true)
	t.mgr.pin(right)
	return pivot, right
}

// insertChildAt inserts pivot at position pos in idx.Keys and child as the
// new occupant of position pos+1 in idx.Children, the standard "new right
// sibling follows its separator" shape.
func insertChildAt[K any, V any](idx *codec.IndexNode[K], pos int, pivot K, child *object[K, V]) {
	idx.Keys = insertAt(idx.Keys, pos, pivot)
	idx.Children = insertAt(idx.Children, pos+1, codec.ChildSlot{UID: child.id, Ptr: unsafe.Pointer(child)})
}

// growRoot replaces the current root with a fresh index node holding the
// old root and its new sibling as the only two children (§4.5's split
// propagation reaching the root).
func (t *Tree[K, V]) growRoot(oldRoot *object[K, V], pivot K, right *object[K, V]) {
	newRootBody := &codec.IndexNode[K]{
		Keys: []K{pivot},
		Children: []codec.ChildSlot{
			{UID: oldRoot.id, Ptr: unsafe.Pointer(oldRoot)},
			{UID: right.id, Ptr: unsafe.Pointer(right)},
		},
	}
	newRoot := t.mgr.allocateIndex(newRootBody)

	t.rootMu.Lock()
	t.rootSlot = codec.ChildSlot{UID: newRoot.id, Ptr: unsafe.Pointer(newRoot)}
	t.rootKind = uid.KindIndexNode
	t.rootMu.Unlock()
}

// propagateSplit walks up the lock chain from the overflowing leaf,
// splitting and re-inserting into each ancestor until one absorbs the new
// pivot without itself overflowing, or the cascade reaches the root.
//
// When descendForWrite finds a provably safe node (one a single extra pivot
// cannot overflow), it keeps that node locked as the bottom of the chain and
// releases only the ancestors above it. The cascade therefore stops at a
// node that is still held. The re-lock branch for a parent outside the
// chain is a defensive path that does not lock anything again.
func (t *Tree[K, V]) propagateSplit(chain *lockChain[K, V]) error {
	cur := chain.pop()

	for {
		pivot, right := t.splitNode(cur.node)

		if cur.parent == nil {
			t.growRoot(cur.node, pivot, right)
			t.mgr.unpin(right)
			chain.releaseLink(cur)
			return nil
		}

		parent := cur.parent
		inChain := chain.len() > 0 && chain.top() == parent
		if !inChain {
			parent.mu.Lock()
		}

		insertChildAt(parent.index, cur.childIdx, pivot, right)
		parent.dirty.Store(true)
		t.mgr.unpin(right)
		chain.releaseLink(cur)

		if !inChain {
			parent.mu.Unlock()
			return nil
		}

		if len(parent.index.Keys) <= t.maxKeys() {
			return nil
		}
		cur = chain.pop()
	}
}
