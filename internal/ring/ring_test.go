package ring

import "testing"

func TestBufferBelowCapacity(t *testing.T) {
	b := New[int](5)
	b.Push(1)
	b.Push(2)

	if b.Len() != 2 {
		t.Errorf("expected len 2, got %d", b.Len())
	}
	got := b.Snapshot()
	if len(got) != 2 || got[0] != 1 || got[1] != 2 {
		t.Errorf("unexpected snapshot %v", got)
	}
}

func TestBufferOverwritesOldest(t *testing.T) {
	b := New[int](3)
	for i := 1; i <= 5; i++ {
		b.Push(i)
	}

	if b.Len() != 3 {
		t.Errorf("expected len 3, got %d", b.Len())
	}
	got := b.Snapshot()
	want := []int{3, 4, 5}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("expected %v oldest-first, got %v", want, got)
		}
	}
}

func TestBufferExactlyFull(t *testing.T) {
	b := New[string](2)
	b.Push("a")
	b.Push("b")

	got := b.Snapshot()
	if len(got) != 2 || got[0] != "a" || got[1] != "b" {
		t.Errorf("unexpected snapshot %v", got)
	}
}

func TestZeroCapacityClampsToOne(t *testing.T) {
	b := New[int](0)
	b.Push(1)
	b.Push(2)
	got := b.Snapshot()
	if len(got) != 1 || got[0] != 2 {
		t.Errorf("expected just the newest item, got %v", got)
	}
}
