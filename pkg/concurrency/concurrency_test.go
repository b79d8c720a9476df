package concurrency

import (
	"sync/atomic"
	"testing"

	"golang.org/x/xerrors"
)

func TestForEachVisitsEveryItem(t *testing.T) {
	for _, cores := range []int{1, 4} {
		items := make([]int, 100)
		for i := range items {
			items[i] = i
		}
		var sum atomic.Int64
		err := ForEach(cores, items, func(_ int, item int) error {
			sum.Add(int64(item))
			return nil
		})
		if err != nil {
			t.Fatalf("cores=%d: ForEach: %v", cores, err)
		}
		if got := sum.Load(); got != 4950 {
			t.Errorf("cores=%d: sum %d, want 4950", cores, got)
		}
	}
}

func TestForEachReturnsError(t *testing.T) {
	items := []int{0, 1, 2, 3, 4, 5}
	err := ForEach(4, items, func(_ int, item int) error {
		if item == 3 {
			return xerrors.New("boom")
		}
		return nil
	})
	if err == nil {
		t.Error("ForEach swallowed the error")
	}
}

func TestMapPreservesOrder(t *testing.T) {
	items := []int{5, 3, 8, 1, 9, 2}
	got, err := Map(4, items, func(_ int, item int) (int, error) {
		return item * 2, nil
	})
	if err != nil {
		t.Fatalf("Map: %v", err)
	}
	for i, item := range items {
		if got[i] != item*2 {
			t.Errorf("index %d: got %d, want %d", i, got[i], item*2)
		}
	}
}

func TestMapFailsAsAWhole(t *testing.T) {
	got, err := Map(2, []int{1, 2, 3, 4}, func(i int, _ int) (int, error) {
		if i == 2 {
			return 0, xerrors.New("boom")
		}
		return 1, nil
	})
	if err == nil || got != nil {
		t.Errorf("Map: got (%v, %v), want nil results and an error", got, err)
	}
}
