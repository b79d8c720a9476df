package split

import (
	"errors"
	"testing"

	"splitvote/pkg/random"
)

func TestSplitCombineRoundTrip(t *testing.T) {
	src := random.NewSource("seed", "split-test")
	const modulus = 101

	for v := uint64(0); v < modulus; v++ {
		p, err := Split(v, modulus, src)
		if err != nil {
			t.Fatalf("Split(%d): %v", v, err)
		}
		if got := Combine(p, modulus); got != v {
			t.Fatalf("Combine(Split(%d)) = %d", v, got)
		}
	}
}

func TestSplitOutOfDomain(t *testing.T) {
	src := random.NewSource("seed", "split-domain")
	tests := []struct {
		name    string
		value   uint64
		modulus uint64
	}{
		{"value equals modulus", 101, 101},
		{"value above modulus", 500, 101},
		{"modulus too small", 0, 1},
		{"modulus overflows share addition", 3, MaxModulus},
		{"modulus above the carry-free bound", 3, 1<<63 + 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Split(tt.value, tt.modulus, src)
			var de *DomainError
			if !errors.As(err, &de) {
				t.Errorf("Split(%d, %d) error = %v, want DomainError", tt.value, tt.modulus, err)
			}
		})
	}
}

func TestRerandomizePreservesValue(t *testing.T) {
	src := random.NewSource("seed", "split-rerand")
	const modulus = 101

	for i := 0; i < 200; i++ {
		v := src.Uint64n(modulus)
		p, err := Split(v, modulus, src)
		if err != nil {
			t.Fatalf("Split(%d): %v", v, err)
		}
		d := src.Uint64n(modulus)
		q := Rerandomize(p, d, modulus)
		if got := Combine(q, modulus); got != v {
			t.Fatalf("Combine(Rerandomize((%d,%d), %d)) = %d, want %d",
				p.Left, p.Right, d, got, v)
		}
		if !InDomain(q, modulus) {
			t.Fatalf("Rerandomize produced out-of-domain pair (%d,%d)", q.Left, q.Right)
		}
	}
}

func TestSplitIsRandomized(t *testing.T) {
	src := random.NewSource("seed", "split-fresh")
	const modulus = 1 << 30

	a, _ := Split(7, modulus, src)
	b, _ := Split(7, modulus, src)
	if a == b {
		t.Errorf("two splits of the same value produced identical pairs")
	}
}
