package board

import (
	"encoding/json"

	"golang.org/x/xerrors"

	"splitvote/pkg/split"
)

// Kind identifies the type of a posting's payload.
type Kind string

const (
	KindOpen          Kind = "board:open"
	KindRaceSetup     Kind = "setup:races"
	KindVoterSetup    Kind = "setup:voters"
	KindShare         Kind = "share"
	KindCommitment    Kind = "commitment"
	KindChallenge     Kind = "challenge"
	KindOpening       Kind = "opening"
	KindTally         Kind = "tally"
	KindWriteinReveal Kind = "writein_reveal"
	KindClose         Kind = "board:close"
)

// CastStage is the stage index assigned to the original encoded ballots.
// Mix stages are numbered from 1.
const CastStage = 0

// Payload is the typed content of a posting. Validate is called on Append so
// malformed payloads never make it onto the board.
type Payload interface {
	Kind() Kind
	Validate() error
}

// Posting is one immutable record on the bulletin board. ContentHash covers
// the payload and the previous posting's hash, forming a chain back to the
// opening record.
type Posting struct {
	Sequence    uint64          `json:"seq"`
	RaceID      string          `json:"race_id,omitempty"`
	PostingKind Kind            `json:"kind"`
	Payload     json.RawMessage `json:"payload"`
	PrevHash    []byte          `json:"prev_hash"`
	ContentHash []byte          `json:"content_hash"`
}

// Decode unmarshals a posting's payload into the given payload type.
func Decode[T Payload](p Posting) (T, error) {
	var out T
	if err := json.Unmarshal(p.Payload, &out); err != nil {
		return out, xerrors.Errorf("decode %s posting %d: %w", p.PostingKind, p.Sequence, err)
	}
	return out, nil
}

// --- Payload variants ---

// OpenPayload is the first posting on a board and fixes the election
// parameters every later record is interpreted under.
type OpenPayload struct {
	ElectionID string `json:"election_id"`
	Modulus    uint64 `json:"modulus"`
	Stages     int    `json:"stages"`
}

func (OpenPayload) Kind() Kind { return KindOpen }

func (p OpenPayload) Validate() error {
	if p.ElectionID == "" {
		return xerrors.New("open: empty election id")
	}
	if p.Modulus < 2 {
		return xerrors.Errorf("open: modulus %d too small", p.Modulus)
	}
	if p.Stages < 1 {
		return xerrors.Errorf("open: %d stages", p.Stages)
	}
	return nil
}

// RaceSetup describes one race inside a RaceSetupPayload.
type RaceSetup struct {
	ID           string   `json:"id"`
	Choices      []string `json:"choices"`
	AllowWritein bool     `json:"allow_writein"`
}

// RaceSetupPayload publishes the races and their choice lists.
type RaceSetupPayload struct {
	Races []RaceSetup `json:"races"`
}

func (RaceSetupPayload) Kind() Kind { return KindRaceSetup }

func (p RaceSetupPayload) Validate() error {
	if len(p.Races) == 0 {
		return xerrors.New("race setup: no races")
	}
	for _, r := range p.Races {
		if r.ID == "" || len(r.Choices) == 0 {
			return xerrors.Errorf("race setup: race %q incomplete", r.ID)
		}
	}
	return nil
}

// VoterSetupPayload publishes the roster of ballot identifiers before any
// vote is cast.
type VoterSetupPayload struct {
	Count     int      `json:"count"`
	BallotIDs []string `json:"ballot_ids"`
}

func (VoterSetupPayload) Kind() Kind { return KindVoterSetup }

func (p VoterSetupPayload) Validate() error {
	if p.Count <= 0 {
		return xerrors.Errorf("voter setup: count %d", p.Count)
	}
	if len(p.BallotIDs) != p.Count {
		return xerrors.Errorf("voter setup: %d ids for count %d", len(p.BallotIDs), p.Count)
	}
	return nil
}

// SharePayload carries one split-value pair. Stage 0 shares are cast ballots
// and carry the ballot id; mix stage shares carry only the slot position.
type SharePayload struct {
	Stage int        `json:"stage"`
	Slot  int        `json:"slot"`
	Pair  split.Pair `json:"pair"`

	// Cast-stage fields.
	BallotID          string `json:"ballot_id,omitempty"`
	WriteinCommitment []byte `json:"writein_commitment,omitempty"`
}

func (SharePayload) Kind() Kind { return KindShare }

func (p SharePayload) Validate() error {
	if p.Stage < CastStage {
		return xerrors.Errorf("share: negative stage %d", p.Stage)
	}
	if p.Slot < 0 {
		return xerrors.Errorf("share: negative slot %d", p.Slot)
	}
	if p.Stage == CastStage && p.BallotID == "" {
		return xerrors.Errorf("share: cast slot %d missing ballot id", p.Slot)
	}
	if p.Stage != CastStage && p.BallotID != "" {
		return xerrors.Errorf("share: mix stage %d slot %d carries a ballot id", p.Stage, p.Slot)
	}
	return nil
}

// CommitmentPayload is the prover's commitment to the permutation entry and
// rerandomization offset used at one (stage, slot) position.
type CommitmentPayload struct {
	Stage  int    `json:"stage"`
	Slot   int    `json:"slot"`
	Digest []byte `json:"digest"`
}

func (CommitmentPayload) Kind() Kind { return KindCommitment }

func (p CommitmentPayload) Validate() error {
	if p.Stage < 1 || p.Slot < 0 {
		return xerrors.Errorf("commitment: bad position (%d, %d)", p.Stage, p.Slot)
	}
	if len(p.Digest) == 0 {
		return xerrors.New("commitment: empty digest")
	}
	return nil
}

// Coord names one (stage, slot) position in the mix.
type Coord struct {
	Stage int `json:"stage"`
	Slot  int `json:"slot"`
}

// ChallengePayload records a challenge round. CommitFrontier is the sequence
// number of the last posting that existed when the challenge was derived, and
// PrefixHash is that posting's content hash, so the derivation is replayable.
type ChallengePayload struct {
	Round          int     `json:"round"`
	CommitFrontier uint64  `json:"commit_frontier"`
	PrefixHash     []byte  `json:"prefix_hash"`
	Coords         []Coord `json:"coords"`
}

func (ChallengePayload) Kind() Kind { return KindChallenge }

func (p ChallengePayload) Validate() error {
	if p.Round < 0 {
		return xerrors.Errorf("challenge: negative round %d", p.Round)
	}
	if len(p.Coords) == 0 {
		return xerrors.Errorf("challenge: round %d selects nothing", p.Round)
	}
	if len(p.PrefixHash) == 0 {
		return xerrors.Errorf("challenge: round %d missing prefix hash", p.Round)
	}
	return nil
}

// TransformOpening reveals the committed transform data for one position.
type TransformOpening struct {
	Stage      int    `json:"stage"`
	Slot       int    `json:"slot"`
	PermEntry  uint64 `json:"perm_entry"`
	Delta      uint64 `json:"delta"`
	Randomness []byte `json:"randomness"`
}

// OpeningPayload is the prover's answer to one challenge round.
type OpeningPayload struct {
	Round    int                `json:"round"`
	Openings []TransformOpening `json:"openings"`
}

func (OpeningPayload) Kind() Kind { return KindOpening }

func (p OpeningPayload) Validate() error {
	if p.Round < 0 {
		return xerrors.Errorf("opening: negative round %d", p.Round)
	}
	if len(p.Openings) == 0 {
		return xerrors.Errorf("opening: round %d reveals nothing", p.Round)
	}
	return nil
}

// TallyPayload publishes the final per-choice counts for a race.
type TallyPayload struct {
	Counts map[string]uint64 `json:"counts"`
}

func (TallyPayload) Kind() Kind { return KindTally }

func (p TallyPayload) Validate() error {
	if len(p.Counts) == 0 {
		return xerrors.New("tally: empty counts")
	}
	return nil
}

// WriteinRevealPayload opens a write-in commitment made at cast time.
type WriteinRevealPayload struct {
	Slot       int    `json:"slot"`
	Commitment []byte `json:"commitment"`
	Text       string `json:"text"`
	Randomness []byte `json:"randomness"`
}

func (WriteinRevealPayload) Kind() Kind { return KindWriteinReveal }

func (p WriteinRevealPayload) Validate() error {
	if p.Slot < 0 {
		return xerrors.Errorf("writein reveal: negative slot %d", p.Slot)
	}
	if len(p.Commitment) == 0 {
		return xerrors.New("writein reveal: empty commitment")
	}
	if p.Text == "" {
		return xerrors.New("writein reveal: empty text")
	}
	return nil
}

// ClosePayload seals the board. MerkleRoot anchors every preceding posting.
type ClosePayload struct {
	FinalSequence uint64 `json:"final_sequence"`
	MerkleRoot    []byte `json:"merkle_root"`
}

func (ClosePayload) Kind() Kind { return KindClose }

func (p ClosePayload) Validate() error {
	if len(p.MerkleRoot) == 0 {
		return xerrors.New("close: empty merkle root")
	}
	return nil
}
