// Package tally aggregates decoded ballot values into per-choice counts and
// publishes them. Write-in values are bucketed by their revealed text.
package tally

import (
	"fmt"
	"sort"
	"strings"

	"splitvote/pkg/board"
	"splitvote/pkg/config"
	"splitvote/pkg/split"
)

// Inconsistency reports a tally that cannot be formed from the given inputs,
// such as a decoded value outside the race's domain.
type Inconsistency struct {
	RaceID string
	Reason string
}

func (e *Inconsistency) Error() string {
	return fmt.Sprintf("tally: race %s: %s", e.RaceID, e.Reason)
}

// Normalize canonicalizes write-in text so that casing and whitespace
// variants of the same name land in one bucket.
func Normalize(text string) string {
	return strings.ToLower(strings.TrimSpace(text))
}

// Bucket returns the tally key for a write-in text.
func Bucket(text string) string {
	return config.WriteinMarkerName + Normalize(text)
}

// Count combines the final-stage pairs and buckets them into per-choice
// counts. The writeins slice holds the revealed texts, one per ballot that
// encoded the write-in marker; its length must match the number of marker
// values among the pairs.
func Count(race config.Race, modulus uint64, pairs []split.Pair, writeins []string) (map[string]uint64, error) {
	counts := make(map[string]uint64)
	markers := 0
	for i, p := range pairs {
		v := split.Combine(p, modulus)
		switch {
		case v < race.Marker():
			counts[race.Choices[v]]++
		case v == race.Marker() && race.AllowWritein:
			markers++
		default:
			return nil, &Inconsistency{
				RaceID: race.ID,
				Reason: fmt.Sprintf("slot %d decoded to %d, outside the race domain", i, v),
			}
		}
	}

	if markers != len(writeins) {
		return nil, &Inconsistency{
			RaceID: race.ID,
			Reason: fmt.Sprintf("%d write-in markers but %d revealed texts", markers, len(writeins)),
		}
	}
	for _, text := range writeins {
		counts[Bucket(text)]++
	}

	// Choices nobody picked still appear, so the published tally always
	// lists the full slate.
	for _, choice := range race.Choices {
		if _, ok := counts[choice]; !ok {
			counts[choice] = 0
		}
	}
	return counts, nil
}

// Post publishes a race's counts to the board.
func Post(b *board.Board, raceID string, counts map[string]uint64) error {
	_, err := b.Append(raceID, board.TallyPayload{Counts: counts})
	return err
}

// Winners returns the choice names in descending count order, ties broken
// alphabetically.
func Winners(counts map[string]uint64) []string {
	names := make([]string, 0, len(counts))
	for name := range counts {
		names = append(names, name)
	}
	sort.Slice(names, func(i, j int) bool {
		if counts[names[i]] != counts[names[j]] {
			return counts[names[i]] > counts[names[j]]
		}
		return names[i] < names[j]
	})
	return names
}
