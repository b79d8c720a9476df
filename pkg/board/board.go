// Package board implements the append-only, hash-chained bulletin board that
// every phase of an election posts to and the verifier audits after the fact.
package board

import (
	"bytes"
	"crypto/sha256"
	"encoding/json"
	"sync"

	"github.com/cbergoon/merkletree"
	"golang.org/x/xerrors"

	"splitvote/pkg/serialization"
)

// ErrClosed is returned by Append after the board has been finalized.
var ErrClosed = xerrors.New("board: closed")

// Board is the single source of truth for an election. Postings are
// sequenced under a mutex so concurrent race pipelines interleave cleanly,
// and every posting's hash covers its predecessor.
type Board struct {
	mu       sync.Mutex
	postings []Posting
	closed   bool
}

// NewBoard opens a board by appending the opening record at sequence 0.
func NewBoard(open OpenPayload) (*Board, error) {
	b := &Board{}
	if _, err := b.Append("", open); err != nil {
		return nil, xerrors.Errorf("open board: %w", err)
	}
	return b, nil
}

// Append validates and posts a payload, returning the assigned sequence
// number. The content hash binds the posting to everything before it.
func (b *Board) Append(raceID string, p Payload) (uint64, error) {
	if err := p.Validate(); err != nil {
		return 0, xerrors.Errorf("append %s: %w", p.Kind(), err)
	}
	payload, err := json.Marshal(p)
	if err != nil {
		return 0, xerrors.Errorf("append %s: %w", p.Kind(), err)
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return 0, ErrClosed
	}

	seq := uint64(len(b.postings))
	var prevHash []byte
	if seq > 0 {
		prevHash = b.postings[seq-1].ContentHash
	}

	posting := Posting{
		Sequence:    seq,
		RaceID:      raceID,
		PostingKind: p.Kind(),
		Payload:     payload,
		PrevHash:    prevHash,
	}
	posting.ContentHash, err = hashPosting(posting)
	if err != nil {
		return 0, xerrors.Errorf("append %s: %w", p.Kind(), err)
	}

	b.postings = append(b.postings, posting)
	if p.Kind() == KindClose {
		b.closed = true
	}
	return seq, nil
}

// Finalize computes a Merkle root over all postings, appends the closing
// record, and seals the board against further appends.
func (b *Board) Finalize() (ClosePayload, error) {
	snap := b.Snapshot()
	if b.Closed() {
		return ClosePayload{}, ErrClosed
	}
	root, err := snap.MerkleRoot()
	if err != nil {
		return ClosePayload{}, xerrors.Errorf("finalize: %w", err)
	}

	closing := ClosePayload{
		FinalSequence: snap.Last().Sequence,
		MerkleRoot:    root,
	}
	if _, err := b.Append("", closing); err != nil {
		return ClosePayload{}, err
	}
	return closing, nil
}

// Closed reports whether the board has been finalized.
func (b *Board) Closed() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.closed
}

// Snapshot returns a copy of all postings in sequence order. The copy is
// what provers derive challenges from and what verifiers audit. Byte fields
// are cloned so a snapshot holder cannot rewrite board history.
func (b *Board) Snapshot() Snapshot {
	b.mu.Lock()
	defer b.mu.Unlock()
	snap := make(Snapshot, len(b.postings))
	for i, p := range b.postings {
		p.Payload = append([]byte(nil), p.Payload...)
		p.PrevHash = append([]byte(nil), p.PrevHash...)
		p.ContentHash = append([]byte(nil), p.ContentHash...)
		snap[i] = p
	}
	return snap
}

// postingLeaf adapts a posting's content hash to the merkle tree's leaf
// interface. The hash is already a digest, so CalculateHash returns it as is.
type postingLeaf struct {
	hash []byte
}

func (l postingLeaf) CalculateHash() ([]byte, error) {
	return l.hash, nil
}

func (l postingLeaf) Equals(other merkletree.Content) (bool, error) {
	o, ok := other.(postingLeaf)
	if !ok {
		return false, xerrors.New("board: leaf type mismatch")
	}
	return bytes.Equal(l.hash, o.hash), nil
}

// hashPosting computes the content hash over the posting's identity, payload
// and predecessor hash.
func hashPosting(p Posting) ([]byte, error) {
	s := serialization.NewSerializer()
	s.WriteUint64(p.Sequence)
	s.WriteString(p.RaceID)
	s.WriteString(string(p.PostingKind))
	s.WriteByteSlice(p.Payload)
	s.WriteByteSlice(p.PrevHash)
	data, err := s.Bytes()
	if err != nil {
		return nil, err
	}
	sum := sha256.Sum256(data)
	return sum[:], nil
}

// Snapshot is an immutable view of the board at a point in time.
type Snapshot []Posting

// Last returns the most recent posting. It panics on an empty snapshot,
// which cannot occur for a board opened through NewBoard.
func (s Snapshot) Last() Posting {
	return s[len(s)-1]
}

// ByKind returns the postings of one kind, in sequence order.
func (s Snapshot) ByKind(kind Kind) []Posting {
	var out []Posting
	for _, p := range s {
		if p.PostingKind == kind {
			out = append(out, p)
		}
	}
	return out
}

// ByRace returns the postings for one race, in sequence order.
func (s Snapshot) ByRace(raceID string) Snapshot {
	var out Snapshot
	for _, p := range s {
		if p.RaceID == raceID {
			out = append(out, p)
		}
	}
	return out
}

// MerkleRoot computes the Merkle root over the snapshot's content hashes.
func (s Snapshot) MerkleRoot() ([]byte, error) {
	leaves := make([]merkletree.Content, len(s))
	for i, p := range s {
		leaves[i] = postingLeaf{hash: p.ContentHash}
	}
	tree, err := merkletree.NewTree(leaves)
	if err != nil {
		return nil, xerrors.Errorf("board: merkle root: %w", err)
	}
	return tree.MerkleRoot(), nil
}

// VerifyChain recomputes every content hash and checks each posting links to
// its predecessor. It returns the sequence number of the first bad posting.
func (s Snapshot) VerifyChain() error {
	for i, p := range s {
		if p.Sequence != uint64(i) {
			return xerrors.Errorf("board: posting %d carries sequence %d", i, p.Sequence)
		}
		if i == 0 {
			if len(p.PrevHash) != 0 {
				return xerrors.New("board: opening posting has a predecessor hash")
			}
		} else if !bytes.Equal(p.PrevHash, s[i-1].ContentHash) {
			return xerrors.Errorf("board: posting %d does not link to its predecessor", i)
		}
		want, err := hashPosting(p)
		if err != nil {
			return xerrors.Errorf("board: posting %d: %w", i, err)
		}
		if !bytes.Equal(p.ContentHash, want) {
			return xerrors.Errorf("board: posting %d content hash mismatch", i)
		}
	}
	return nil
}
