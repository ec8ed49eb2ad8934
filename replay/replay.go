package replay

import (
	"encoding/hex"
	"fmt"
	"math"
	"strconv"

	"lukechampine.com/blake3"
)

// Bounds on a single submission.
const (
	MinEvents = 1
	MaxEvents = 5000
)

// MaxScore caps the trusted score. 2^53 is the largest range where float64
// event values are integer-exact, and it keeps the int64 conversion in range.
const MaxScore = int64(1) << 53

// Event is one sampled point of a client replay: elapsed game time and the
// running score at that instant.
type Event struct {
	T float64 `json:"t"`
	S float64 `json:"s"`
}

// InvalidEntryError pinpoints the first malformed event in a submission.
type InvalidEntryError struct {
	Index int
}

func (e InvalidEntryError) Error() string {
	return fmt.Sprintf("replay: invalid entry at index %d", e.Index)
}

// EventCountError reports a submission outside the [MinEvents, MaxEvents]
// bounds.
type EventCountError struct {
	Count int
}

func (e EventCountError) Error() string {
	return fmt.Sprintf("replay: event count %d outside [%d, %d]", e.Count, MinEvents, MaxEvents)
}

// Evaluation is the server-trusted reading of a replay.
type Evaluation struct {
	Hash          string
	Canonical     []byte
	Score         int64
	SurvivalTicks float64
	Monotonic     bool
}

// Evaluate validates the event sequence, canonicalizes it, and derives the
// trusted score. When event times are non-decreasing the final entry is the
// authoritative running total; otherwise the sequence shows tampering or
// clock jitter and the maximum observed score is the safe upper bound.
func Evaluate(events []Event) (Evaluation, error) {
	if len(events) < MinEvents || len(events) > MaxEvents {
		return Evaluation{}, EventCountError{Count: len(events)}
	}
	monotonic := true
	maxScore := 0.0
	for i, ev := range events {
		if !finiteNonNegative(ev.T) || !finiteNonNegative(ev.S) {
			return Evaluation{}, InvalidEntryError{Index: i}
		}
		if i > 0 && ev.T < events[i-1].T {
			monotonic = false
		}
		if ev.S > maxScore {
			maxScore = ev.S
		}
	}
	last := events[len(events)-1]
	score := maxScore
	if monotonic {
		score = last.S
	}
	canonical := Canonicalize(events)
	sum := blake3.Sum256(canonical)
	trusted := int64(math.Round(score))
	if score >= float64(MaxScore) {
		trusted = MaxScore
	}
	return Evaluation{
		Hash:          hex.EncodeToString(sum[:]),
		Canonical:     canonical,
		Score:         trusted,
		SurvivalTicks: last.T,
		Monotonic:     monotonic,
	}, nil
}

// Canonicalize renders the sequence as a deterministic byte string: fixed key
// order, shortest round-trip float formatting, no whitespace. Identical
// gameplay always hashes identically regardless of how the client serialized
// its JSON.
func Canonicalize(events []Event) []byte {
	buf := make([]byte, 0, len(events)*24+2)
	buf = append(buf, '[')
	for i, ev := range events {
		if i > 0 {
			buf = append(buf, ',')
		}
		buf = append(buf, `{"s":`...)
		buf = strconv.AppendFloat(buf, ev.S, 'g', -1, 64)
		buf = append(buf, `,"t":`...)
		buf = strconv.AppendFloat(buf, ev.T, 'g', -1, 64)
		buf = append(buf, '}')
	}
	buf = append(buf, ']')
	return buf
}

func finiteNonNegative(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0) && v >= 0
}
