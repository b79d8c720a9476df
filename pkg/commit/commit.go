// Package commit implements the binding and hiding commitment used throughout
// the proof: an HMAC-SHA256 digest keyed by fresh randomness. Opening a
// commitment means revealing the value and the randomness so that any party
// can re-derive the digest.
package commit

import (
	"crypto/hmac"
	"crypto/sha256"

	"golang.org/x/xerrors"

	"splitvote/pkg/random"
)

// RandomnessLen is the byte length of the commitment key. It matches the
// symmetric security parameter of the protocol (256 bits).
const RandomnessLen = 32

// Commit produces the digest binding msg under the given randomness.
func Commit(msg, randomness []byte) []byte {
	mac := hmac.New(sha256.New, randomness)
	mac.Write(msg)
	return mac.Sum(nil)
}

// Fresh draws commitment randomness from src and commits to msg, returning
// the digest and the randomness needed to open it.
func Fresh(msg []byte, src *random.Source) (digest, randomness []byte) {
	randomness = src.Bytes(RandomnessLen)
	return Commit(msg, randomness), randomness
}

// Opening carries the revealed message and randomness of a commitment.
type Opening struct {
	Value      []byte `json:"value"`
	Randomness []byte `json:"randomness"`
}

// Matches reports whether the opening re-derives the given digest.
func (o Opening) Matches(digest []byte) bool {
	return hmac.Equal(Commit(o.Value, o.Randomness), digest)
}

// Verify returns an error when the opening does not re-derive the digest.
func Verify(digest []byte, o Opening) error {
	if len(o.Randomness) != RandomnessLen {
		return xerrors.Errorf("opening randomness has length %d, want %d",
			len(o.Randomness), RandomnessLen)
	}
	if !o.Matches(digest) {
		return xerrors.New("opening does not re-derive the committed digest")
	}
	return nil
}
