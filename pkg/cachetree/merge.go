// merge.go implements §4.5's merge/rebalance-on-deletion rules: an
// underflowing node first tries to borrow a key from a sibling that can
// spare one, and only merges with a sibling when neither can. The spec's
// own tie-break wording ("the separator becomes the new rightmost key of
// the left sibling") is read here as shorthand for the classic B-tree
// rotation — literally shifting only the separator without also moving a
// child pointer would break the ordering invariant between the sibling and
// its own children, so the rotation documented below additionally carries
// the borrowed child/value across.
//
// © 2025 btreecache authors. MIT License.
package cachetree

import (
	"unsafe"

	"github.com/arena-cache/btreecache/internal/codec"
	"github.com/arena-cache/btreecache/internal/uid"
)

func (t *Tree[K, V]) canLend(o *object[K, V]) bool {
	return t.nodeKeyCount(o) > t.minKeys()
}

// siblingAt resolves and write-locks the sibling at position idx in
// parent's children, returning nil if idx is out of range.
func (t *Tree[K, V]) siblingAt(parent *object[K, V], idx int) (*object[K, V], error) {
	if idx < 0 || idx >= len(parent.index.Children) {
		return nil, nil
	}
	slot := &parent.index.Children[idx]
	sib, err := t.mgr.resolve(parent, slot, slot.UID.Kind())
	if err != nil {
		return nil, err
	}
	sib.mu.Lock()
	return sib, nil
}

func (t *Tree[K, V]) releaseSibling(sib *object[K, V]) {
	sib.mu.Unlock()
	t.mgr.unpin(sib)
}

// propagateMerge walks up from the underflowing leaf, borrowing from or
// merging with a sibling at each level until a node absorbs the deficit
// without itself underflowing, or the cascade reaches (and possibly
// shrinks) the root.
//
// As in propagateSplit, descent keeps the lowest provably safe node (here:
// safe means "has a surplus key to give up") locked at the bottom of the
// chain and releases only the ancestors above it. Losing one key to a merge
// cannot underflow that node, so the cascade stops at a node that is still
// held. The branch for a parent outside the chain is defensive.
func (t *Tree[K, V]) propagateMerge(chain *lockChain[K, V]) error {
	cur := chain.pop()

	for {
		if cur.parent == nil {
			chain.releaseLink(cur)
			return t.shrinkRootIfNeeded()
		}

		parent := cur.parent
		inChain := chain.len() > 0 && chain.top() == parent
		if !inChain {
			parent.mu.Lock()
		}

		idx := cur.childIdx

		left, err := t.siblingAt(parent, idx-1)
		if err != nil {
			if !inChain {
				parent.mu.Unlock()
			}
			chain.releaseLink(cur)
			return err
		}
		if left != nil && t.canLend(left) {
			t.borrowFromLeft(parent, idx, cur.node, left)
			t.releaseSibling(left)
			chain.releaseLink(cur)
			if !inChain {
				parent.mu.Unlock()
			}
			return nil
		}

		right, err := t.siblingAt(parent, idx+1)
		if err != nil {
			if left != nil {
				t.releaseSibling(left)
			}
			if !inChain {
				parent.mu.Unlock()
			}
			chain.releaseLink(cur)
			return err
		}
		if right != nil && t.canLend(right) {
			t.borrowFromRight(parent, idx, cur.node, right)
			if left != nil {
				t.releaseSibling(left)
			}
			t.releaseSibling(right)
			chain.releaseLink(cur)
			if !inChain {
				parent.mu.Unlock()
			}
			return nil
		}

		// Neither sibling can lend: merge. Prefer folding into the left
		// sibling when one exists, else fold the right sibling into us.
		if left != nil {
			t.mergeSiblingInto(parent, idx-1, left, cur.node)
			t.releaseSibling(left)
			chain.releaseLink(cur)
		} else {
			t.mergeSiblingInto(parent, idx, cur.node, right)
			chain.releaseLink(cur)
			t.releaseSibling(right)
		}

		if !inChain {
			parent.mu.Unlock()
			return nil
		}

		if len(parent.index.Keys) >= t.minKeys() {
			return nil
		}
		cur = chain.pop()
	}
}

// borrowFromLeft rotates one key (and, for index nodes, one child) from
// left across the parent separator at position idx-1 into node.
func (t *Tree[K, V]) borrowFromLeft(parent *object[K, V], idx int, node, left *object[K, V]) {
	sepPos := idx - 1

	if node.kind == uid.KindDataNode {
		borrowedKey := left.data.Keys[len(left.data.Keys)-1]
		borrowedVal := left.data.Values[len(left.data.Values)-1]
		left.data.Keys = left.data.Keys[:len(left.data.Keys)-1]
		left.data.Values = left.data.Values[:len(left.data.Values)-1]

		node.data.Keys = insertAt(node.data.Keys, 0, borrowedKey)
		node.data.Values = insertAt(node.data.Values, 0, borrowedVal)
		parent.index.Keys[sepPos] = node.data.Keys[0]
	} else {
		sepKey := parent.index.Keys[sepPos]
		borrowedChild := left.index.Children[len(left.index.Children)-1]
		newSep := left.index.Keys[len(left.index.Keys)-1]
		left.index.Keys = left.index.Keys[:len(left.index.Keys)-1]
		left.index.Children = left.index.Children[:len(left.index.Children)-1]

		node.index.Keys = insertAt(node.index.Keys, 0, sepKey)
		node.index.Children = insertAt(node.index.Children, 0, borrowedChild)
		parent.index.Keys[sepPos] = newSep
	}
	node.dirty.Store(true)
	left.dirty.Store(true)
	parent.dirty.Store(true)
}

// borrowFromRight is the mirror of borrowFromLeft, rotating across the
// parent separator at position idx.
func (t *Tree[K, V]) borrowFromRight(parent *object[K, V], idx int, node, right *object[K, V]) {
	sepPos := idx

	if node.kind == uid.KindDataNode {
		borrowedKey := right.data.Keys[0]
		borrowedVal := right.data.Values[0]
		right.data.Keys = right.data.Keys[1:]
		right.data.Values = right.data.Values[1:]

		node.data.Keys = append(node.data.Keys, borrowedKey)
		node.data.Values = append(node.data.Values, borrowedVal)
		parent.index.Keys[sepPos] = right.data.Keys[0]
	} else {
		sepKey := parent.index.Keys[sepPos]
		borrowedChild := right.index.Children[0]
		newSep := right.index.Keys[0]
		right.index.Keys = right.index.Keys[1:]
		right.index.Children = right.index.Children[1:]

		node.index.Keys = append(node.index.Keys, sepKey)
		node.index.Children = append(node.index.Children, borrowedChild)
		parent.index.Keys[sepPos] = newSep
	}
	node.dirty.Store(true)
	right.dirty.Store(true)
	parent.dirty.Store(true)
}

// mergeSiblingInto folds right entirely into left (left absorbs right's
// keys/values/children plus, for index nodes, the separator at sepPos
// pulled down from parent), then removes the now-empty slot from parent.
// right is marked for deletion and, if it was ever flushed, its on-storage
// block is freed immediately: nothing reachable from the tree will ever
// reference that UID again once the separator pointing at it is gone, so
// there is no reason to wait for the eviction worker to notice.
func (t *Tree[K, V]) mergeSiblingInto(parent *object[K, V], sepPos int, left, right *object[K, V]) {
	if left.kind == uid.KindDataNode {
		left.data.Keys = append(left.data.Keys, right.data.Keys...)
		left.data.Values = append(left.data.Values, right.data.Values...)
	} else {
		sepKey := parent.index.Keys[sepPos]
		left.index.Keys = append(left.index.Keys, sepKey)
		left.index.Keys = append(left.index.Keys, right.index.Keys...)
		left.index.Children = append(left.index.Children, right.index.Children...)
	}

	left.dirty.Store(true)
	removeKeyAndChild(parent.index, sepPos)
	parent.dirty.Store(true)

	right.markDelete.Store(true)
	right.dropCore()
	t.mgr.reclaimStorage(right)
}

// removeKeyAndChild deletes separator key at sepPos and the child slot
// immediately to its right (the slot the merged-away sibling occupied).
func removeKeyAndChild[K any](idx *codec.IndexNode[K], sepPos int) {
	idx.Keys = append(idx.Keys[:sepPos], idx.Keys[sepPos+1:]...)
	idx.Children = append(idx.Children[:sepPos+1], idx.Children[sepPos+2:]...)
}

// shrinkRootIfNeeded collapses the root one level when the cascade has
// emptied it down to a single child, the B-tree's height-shrinking case.
func (t *Tree[K, V]) shrinkRootIfNeeded() error {
	t.rootMu.Lock()
	defer t.rootMu.Unlock()

	if t.rootKind != uid.KindIndexNode {
		return nil
	}
	root, err := t.mgr.resolve(nil, &t.rootSlot, t.rootKind)
	if err != nil {
		return err
	}
	root.mu.Lock()

	if len(root.index.Keys) != 0 || len(root.index.Children) != 1 {
		root.mu.Unlock()
		t.mgr.unpin(root)
		return nil
	}

	onlyChild := root.index.Children[0]
	childObj, err := t.mgr.resolve(root, &onlyChild, onlyChild.UID.Kind())
	if err != nil {
		root.mu.Unlock()
		t.mgr.unpin(root)
		return err
	}
	t.rootSlot = codec.ChildSlot{UID: childObj.id, Ptr: unsafe.Pointer(childObj)}
	t.rootKind = childObj.kind
	t.mgr.unpin(childObj)

	root.markDelete.Store(true)
	root.dropCore()
	t.mgr.reclaimStorage(root)
	root.mu.Unlock()
	t.mgr.unpin(root)
	return nil
}
