package commit

import (
	"bytes"
	"testing"

	"splitvote/pkg/random"
)

func TestCommitAndOpen(t *testing.T) {
	src := random.NewSource("seed", "commit-test")

	msg := []byte("share value 42")
	digest, r := Fresh(msg, src)

	if len(digest) != 32 {
		t.Fatalf("digest length = %d, want 32", len(digest))
	}
	if err := Verify(digest, Opening{Value: msg, Randomness: r}); err != nil {
		t.Fatalf("honest opening rejected: %v", err)
	}
}

func TestCommitDeterministic(t *testing.T) {
	r := bytes.Repeat([]byte{0x5a}, RandomnessLen)
	a := Commit([]byte("abc"), r)
	b := Commit([]byte("abc"), r)
	if !bytes.Equal(a, b) {
		t.Errorf("same value and randomness should commit identically")
	}
}

func TestTamperedOpeningRejected(t *testing.T) {
	src := random.NewSource("seed", "commit-tamper")
	msg := []byte("share value 42")
	digest, r := Fresh(msg, src)

	tests := []struct {
		name    string
		opening Opening
	}{
		{"flipped value bit", Opening{Value: flipBit(msg), Randomness: r}},
		{"flipped randomness bit", Opening{Value: msg, Randomness: flipBit(r)}},
		{"wrong randomness length", Opening{Value: msg, Randomness: r[:16]}},
		{"empty opening", Opening{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := Verify(digest, tt.opening); err == nil {
				t.Errorf("expected rejection, got acceptance")
			}
		})
	}
}

func flipBit(b []byte) []byte {
	out := append([]byte(nil), b...)
	out[0] ^= 0x01
	return out
}
