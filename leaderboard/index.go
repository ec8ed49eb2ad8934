package leaderboard

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"sync/atomic"
	"time"

	"arcadepool/observability"
	"arcadepool/storage"
)

// DefaultRefreshInterval bounds how stale a served ranking can be.
const DefaultRefreshInterval = 30 * time.Second

// Entry is one ranked row of the visible leaderboard.
type Entry struct {
	Address     string `json:"address"`
	ProfileName string `json:"profile_name,omitempty"`
	Score       int64  `json:"score"`
	Level       int    `json:"level"`
	Rank        int    `json:"rank"`
}

// Snapshot is an immutable ranking. Readers hold either the old or the new
// snapshot, never a partially built one.
type Snapshot struct {
	Entries []Entry
	BuiltAt time.Time

	ranks map[string]int
}

// Rank returns the 1-based rank for an address, or 0 when the address has no
// positive score.
func (s *Snapshot) Rank(address string) int {
	if s == nil {
		return 0
	}
	return s.ranks[storage.NormalizeAddress(address)]
}

// PlayerStanding is an individual player's view of the ranking. Rank is nil
// for players without a positive score.
type PlayerStanding struct {
	Score int64 `json:"score"`
	Level int   `json:"level"`
	Rank  *int  `json:"rank"`
}

// QueryResult bundles the capped leaderboard with an optional personal
// standing.
type QueryResult struct {
	Count       int
	Leaderboard []Entry
	Player      *PlayerStanding
}

// Index derives a ranked view of the score store on a refresh cadence.
type Index struct {
	store   *storage.Store
	logger  *slog.Logger
	metrics *observability.LeaderboardMetrics
	snap    atomic.Pointer[Snapshot]
}

// NewIndex starts from an empty snapshot; call Rebuild (or Run) to populate.
func NewIndex(store *storage.Store, logger *slog.Logger) *Index {
	if logger == nil {
		logger = slog.Default()
	}
	idx := &Index{store: store, logger: logger, metrics: observability.Leaderboard()}
	idx.snap.Store(&Snapshot{ranks: map[string]int{}})
	return idx
}

// Rebuild recomputes the ranking from all score records and swaps it in.
// Records without a positive score are excluded from both the board and rank
// assignment. Ties keep insertion order via the stable sort; no secondary key
// is defined.
func (i *Index) Rebuild(ctx context.Context) error {
	records, err := i.store.ListScores(ctx)
	if err != nil {
		return err
	}
	entries := make([]Entry, 0, len(records))
	for _, rec := range records {
		if rec.HighestScore <= 0 {
			continue
		}
		entries = append(entries, Entry{
			Address:     rec.Address,
			ProfileName: rec.ProfileName,
			Score:       rec.HighestScore,
			Level:       rec.Level,
		})
	}
	sort.SliceStable(entries, func(a, b int) bool {
		return entries[a].Score > entries[b].Score
	})
	ranks := make(map[string]int, len(entries))
	for n := range entries {
		entries[n].Rank = n + 1
		ranks[entries[n].Address] = n + 1
	}
	i.snap.Store(&Snapshot{Entries: entries, BuiltAt: time.Now().UTC(), ranks: ranks})
	i.metrics.RecordRebuild(len(entries))
	return nil
}

// Snapshot returns the current ranking.
func (i *Index) Snapshot() *Snapshot {
	return i.snap.Load()
}

// Query serves the top limit entries plus, when address is non-empty, that
// player's own standing. The standing's score and level come from the store
// so a player always sees their latest accepted submission even between
// refreshes; the rank is as fresh as the snapshot.
func (i *Index) Query(ctx context.Context, limit int, address string) (QueryResult, error) {
	snap := i.Snapshot()
	if limit <= 0 || limit > len(snap.Entries) {
		limit = len(snap.Entries)
	}
	out := QueryResult{
		Count:       limit,
		Leaderboard: snap.Entries[:limit],
	}
	if address == "" {
		return out, nil
	}
	rec, err := i.store.Score(ctx, address)
	switch {
	case errors.Is(err, storage.ErrNotFound):
		out.Player = &PlayerStanding{Level: 1}
		return out, nil
	case err != nil:
		return QueryResult{}, err
	}
	standing := &PlayerStanding{Score: rec.HighestScore, Level: rec.Level}
	if r := snap.Rank(rec.Address); r > 0 {
		standing.Rank = &r
	}
	out.Player = standing
	return out, nil
}

// Run rebuilds on the given cadence until the context is cancelled. The first
// rebuild happens immediately so standings are served right after startup.
func (i *Index) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = DefaultRefreshInterval
	}
	if err := i.Rebuild(ctx); err != nil {
		i.logger.Error("leaderboard rebuild failed", "err", err)
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := i.Rebuild(ctx); err != nil {
				i.logger.Error("leaderboard rebuild failed", "err", err)
			}
		}
	}
}
