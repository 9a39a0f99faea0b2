package ringbuf

import "testing"

func TestPushDrainPreservesArrivalOrder(t *testing.T) {
	b := New[int]()
	for i := 0; i < 10; i++ {
		b.Push(i)
	}
	if b.Len() != 10 {
		t.Fatalf("Len = %d, want 10", b.Len())
	}

	var got []int
	b.Drain(func(v int) { got = append(got, v) })
	for i, v := range got {
		if v != i {
			t.Fatalf("entry %d = %d, want %d", i, v, i)
		}
	}
	if b.Len() != 0 {
		t.Fatalf("Len after drain = %d, want 0", b.Len())
	}
}

func TestDrainOnlyConsumesSnapshottedTail(t *testing.T) {
	b := New[int]()
	b.Push(1)
	b.Push(2)

	var got []int
	b.Drain(func(v int) {
		got = append(got, v)
		b.Push(v + 100) // pushed mid-drain, must not be visited by this Drain call
	})
	if len(got) != 2 || got[0] != 1 || got[1] != 2 {
		t.Fatalf("got %v, want [1 2]", got)
	}
	if b.Len() != 2 {
		t.Fatalf("Len = %d, want 2 (the mid-drain pushes left for next Drain)", b.Len())
	}
}

func TestPushBlocksUntilCapacityFrees(t *testing.T) {
	b := New[int]()
	for i := 0; i < Capacity; i++ {
		b.Push(i)
	}
	if b.Len() != Capacity {
		t.Fatalf("Len = %d, want %d", b.Len(), Capacity)
	}

	done := make(chan struct{})
	go func() {
		b.Push(-1) // must block until the buffer has room
		close(done)
	}()

	b.Drain(func(v int) {})

	<-done
	if b.Len() != 1 {
		t.Fatalf("Len after drain+pending push = %d, want 1", b.Len())
	}
}
