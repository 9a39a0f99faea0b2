package lru

import (
	"testing"

	"github.com/arena-cache/btreecache/internal/policy"
)

func TestLRUWalkOrderIsLeastRecentlyUsedFirst(t *testing.T) {
	p := New[int]()
	h1 := p.Insert(1)
	_ = p.Insert(2)
	h3 := p.Insert(3)

	p.Touch(h1) // 1 becomes most recently used; eviction order: 2, 3, 1

	var order []int
	p.Walk(10, func(v int, h policy.Handle) (bool, bool) {
		order = append(order, v)
		return true, false
	})
	if len(order) != 3 || order[0] != 2 || order[1] != 3 || order[2] != 1 {
		t.Fatalf("walk order = %v, want [2 3 1]", order)
	}
	if p.Len() != 0 {
		t.Fatalf("Len after full walk-with-removal = %d, want 0", p.Len())
	}
	_ = h3
}

func TestLRURemoveUnlinks(t *testing.T) {
	p := New[int]()
	h := p.Insert(1)
	p.Insert(2)
	p.Remove(h)
	if p.Len() != 1 {
		t.Fatalf("Len = %d, want 1", p.Len())
	}
}

func TestLRUWalkRespectsMaxSteps(t *testing.T) {
	p := New[int]()
	p.Insert(1)
	p.Insert(2)
	p.Insert(3)

	var seen int
	p.Walk(2, func(v int, h policy.Handle) (bool, bool) {
		seen++
		return false, false
	})
	if seen != 2 {
		t.Fatalf("visited %d entries, want 2", seen)
	}
}
