package rt

import (
	"sync"
	"testing"
)

func TestCellTakeClaimsLatest(t *testing.T) {
	var c Cell[int]

	if _, ok := c.Take(); ok {
		t.Fatalf("Take() on empty cell reported a value")
	}

	c.Store(1)
	c.Store(2)
	c.Store(3)

	v, ok := c.Take()
	if !ok || v != 3 {
		t.Fatalf("Take() = (%d, %v), want (3, true)", v, ok)
	}

	if _, ok := c.Take(); ok {
		t.Fatalf("second Take() should find nothing pending")
	}
}

func TestCellPeekDoesNotClaim(t *testing.T) {
	var c Cell[string]
	c.Store("a")

	if v, ok := c.Peek(); !ok || v != "a" {
		t.Fatalf("Peek() = (%q, %v), want (a, true)", v, ok)
	}

	if v, ok := c.Take(); !ok || v != "a" {
		t.Fatalf("Take() after Peek() = (%q, %v), want (a, true)", v, ok)
	}
}

func TestNewQueueValidation(t *testing.T) {
	if _, err := NewQueue[int](0); err == nil {
		t.Fatalf("NewQueue(0) expected error")
	}

	q, err := NewQueue[int](100)
	if err != nil {
		t.Fatalf("NewQueue(100) error = %v", err)
	}
	if q.Cap() != 128 {
		t.Fatalf("Cap() = %d, want 128 (rounded up)", q.Cap())
	}
}

func TestQueueOrderAndBounds(t *testing.T) {
	q, err := NewQueue[int](4)
	if err != nil {
		t.Fatalf("NewQueue() error = %v", err)
	}

	for i := 0; i < 4; i++ {
		if !q.Push(i) {
			t.Fatalf("Push(%d) failed before capacity", i)
		}
	}
	if q.Push(99) {
		t.Fatalf("Push succeeded on full queue")
	}

	for i := 0; i < 4; i++ {
		v, ok := q.Pop()
		if !ok || v != i {
			t.Fatalf("Pop() = (%d, %v), want (%d, true)", v, ok, i)
		}
	}
	if _, ok := q.Pop(); ok {
		t.Fatalf("Pop succeeded on empty queue")
	}
}

func TestQueueWrapAround(t *testing.T) {
	q, err := NewQueue[int](8)
	if err != nil {
		t.Fatalf("NewQueue() error = %v", err)
	}

	for round := 0; round < 1000; round++ {
		for i := 0; i < 5; i++ {
			if !q.Push(round*5 + i) {
				t.Fatalf("round %d: Push failed", round)
			}
		}
		for i := 0; i < 5; i++ {
			v, ok := q.Pop()
			if !ok || v != round*5+i {
				t.Fatalf("round %d: Pop() = (%d, %v), want %d", round, v, ok, round*5+i)
			}
		}
	}
}

func TestQueueSPSCConcurrent(t *testing.T) {
	const count = 100000

	q, err := NewQueue[int](256)
	if err != nil {
		t.Fatalf("NewQueue() error = %v", err)
	}

	var wg sync.WaitGroup
	wg.Add(2)

	go func() {
		defer wg.Done()
		for i := 0; i < count; {
			if q.Push(i) {
				i++
			}
		}
	}()

	var got []int
	go func() {
		defer wg.Done()
		for len(got) < count {
			if v, ok := q.Pop(); ok {
				got = append(got, v)
			}
		}
	}()

	wg.Wait()

	for i, v := range got {
		if v != i {
			t.Fatalf("element %d = %d, want %d (order violated)", i, v, i)
		}
	}
}
