// Package split implements the split-value representation of a vote: a pair
// of ring elements whose sum modulo the race modulus is the plaintext value.
// A single share of the pair reveals nothing about the value.
package split

import "fmt"

// Pair is a split-value representation: Left + Right = value (mod modulus).
type Pair struct {
	Left  uint64 `json:"l"`
	Right uint64 `json:"r"`
}

// DomainError reports a value outside the valid domain for a modulus or race.
type DomainError struct {
	Value   uint64
	Modulus uint64
}

func (e *DomainError) Error() string {
	return fmt.Sprintf("value %d outside domain [0, %d)", e.Value, e.Modulus)
}

// InvariantError reports a split/combine round trip that failed. It is an
// encoder defect, never a recoverable condition.
type InvariantError struct {
	Value uint64
	Pair  Pair
}

func (e *InvariantError) Error() string {
	return fmt.Sprintf("split of %d produced pair (%d, %d) that does not recombine",
		e.Value, e.Pair.Left, e.Pair.Right)
}

// Randomizer is the single method split needs from a randomness source.
type Randomizer interface {
	Uint64n(m uint64) uint64
}

// MaxModulus bounds the share modulus: Combine and Rerandomize add two
// reduced values in uint64, which stays carry-free only below 2^63.
const MaxModulus = 1 << 63

// Split returns a fresh random split-value pair for value modulo modulus.
// The left share is drawn uniformly; the right share is the difference.
func Split(value, modulus uint64, src Randomizer) (Pair, error) {
	if modulus < 2 || modulus >= MaxModulus {
		return Pair{}, &DomainError{Value: value, Modulus: modulus}
	}
	if value >= modulus {
		return Pair{}, &DomainError{Value: value, Modulus: modulus}
	}
	left := src.Uint64n(modulus)
	p := Pair{
		Left:  left,
		Right: (value + modulus - left) % modulus,
	}
	if Combine(p, modulus) != value {
		return Pair{}, &InvariantError{Value: value, Pair: p}
	}
	return p, nil
}

// Combine is the pure inverse of Split.
func Combine(p Pair, modulus uint64) uint64 {
	return (p.Left%modulus + p.Right%modulus) % modulus
}

// Rerandomize applies the per-slot mixing edit: the delta moves between the
// two shares, leaving the combined value unchanged.
func Rerandomize(p Pair, delta, modulus uint64) Pair {
	d := delta % modulus
	return Pair{
		Left:  (p.Left + d) % modulus,
		Right: (p.Right + modulus - d) % modulus,
	}
}

// InDomain reports whether every share of the pair is a ring element.
func InDomain(p Pair, modulus uint64) bool {
	return p.Left < modulus && p.Right < modulus
}
