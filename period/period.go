package period

import (
	"fmt"
	"time"
)

// AnchorMillis is the shared epoch anchor for all settlement windows. Every
// caller derives window indices from the same constant so a scheduled run and
// an operator-triggered run always agree on which window an instant belongs
// to.
const AnchorMillis int64 = 1_704_067_200_000 // 2024-01-01T00:00:00Z

// BoundaryOffset is subtracted from "now" when resolving the current window
// so a settlement fired exactly on a boundary never lands in a window that
// has not closed yet.
const BoundaryOffset = 5 * time.Second

// Period identifies a single settlement window.
type Period struct {
	Index int64     `json:"periodIndex"`
	Start time.Time `json:"periodStart"`
	End   time.Time `json:"periodEnd"`
}

// Contains reports whether ts falls inside the window.
func (p Period) Contains(ts time.Time) bool {
	return !ts.Before(p.Start) && ts.Before(p.End)
}

func (p Period) String() string {
	return fmt.Sprintf("period %d [%s, %s)", p.Index, p.Start.UTC().Format(time.RFC3339), p.End.UTC().Format(time.RFC3339))
}

// Compute maps a timestamp to its settlement window for the given duration.
// Pure and deterministic; duration must be positive.
func Compute(ts time.Time, d time.Duration) Period {
	durMs := d.Milliseconds()
	if durMs <= 0 {
		panic("period: non-positive duration")
	}
	ms := ts.UnixMilli() - AnchorMillis
	idx := ms / durMs
	if ms < 0 && ms%durMs != 0 {
		idx--
	}
	startMs := AnchorMillis + idx*durMs
	return Period{
		Index: idx,
		Start: time.UnixMilli(startMs).UTC(),
		End:   time.UnixMilli(startMs + durMs).UTC(),
	}
}

// Current resolves the window for now minus BoundaryOffset.
func Current(d time.Duration) Period {
	return Compute(time.Now().Add(-BoundaryOffset), d)
}
