package storage

import (
	"context"
	"errors"
	"testing"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := Open(":memory:")
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	return store
}

func strPtr(s string) *string { return &s }
func intPtr(i int) *int       { return &i }

func TestApplyScoreCreatesAndUpdates(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	rec, err := store.ApplyScore(ctx, ScoreUpdate{Address: "0xABCdef", Score: 120})
	if err != nil {
		t.Fatalf("apply: %v", err)
	}
	if rec.Address != "0xabcdef" {
		t.Fatalf("address not normalized: %q", rec.Address)
	}
	if rec.HighestScore != 120 || rec.LastScore != 120 || rec.GamesPlayed != 1 {
		t.Fatalf("unexpected record %+v", rec)
	}
	if rec.Level != 1 {
		t.Fatalf("level %d, want default 1", rec.Level)
	}

	rec, err = store.ApplyScore(ctx, ScoreUpdate{Address: "0xabcdef", Score: 80, Level: intPtr(3)})
	if err != nil {
		t.Fatalf("apply lower score: %v", err)
	}
	if rec.HighestScore != 120 {
		t.Fatalf("highest score regressed to %d", rec.HighestScore)
	}
	if rec.LastScore != 80 || rec.GamesPlayed != 2 || rec.Level != 3 {
		t.Fatalf("unexpected record %+v", rec)
	}
}

func TestApplyScoreClampsLevel(t *testing.T) {
	store := openTestStore(t)
	rec, err := store.ApplyScore(context.Background(), ScoreUpdate{Address: "0x1", Score: 5, Level: intPtr(-2)})
	if err != nil {
		t.Fatalf("apply: %v", err)
	}
	if rec.Level != 1 {
		t.Fatalf("level %d, want clamped 1", rec.Level)
	}
}

func TestHighestScoreNeverDecreases(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()
	scores := []int64{10, 500, 20, 499, 501, 0}
	best := int64(0)
	for _, sc := range scores {
		rec, err := store.ApplyScore(ctx, ScoreUpdate{Address: "0x2", Score: sc})
		if err != nil {
			t.Fatalf("apply %d: %v", sc, err)
		}
		if sc > best {
			best = sc
		}
		if rec.HighestScore != best {
			t.Fatalf("highest %d after %d, want %d", rec.HighestScore, sc, best)
		}
	}
}

func TestProfileNameUniqueness(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	if _, err := store.ApplyScore(ctx, ScoreUpdate{Address: "0xaaa", Score: 1, ProfileName: strPtr("Ace")}); err != nil {
		t.Fatalf("claim name: %v", err)
	}
	// Same name, different casing, different owner.
	_, err := store.ApplyScore(ctx, ScoreUpdate{Address: "0xbbb", Score: 1, ProfileName: strPtr("ACE")})
	if !errors.Is(err, ErrNameTaken) {
		t.Fatalf("err = %v, want ErrNameTaken", err)
	}
	// Re-claiming your own name is a no-op.
	if _, err := store.ApplyScore(ctx, ScoreUpdate{Address: "0xaaa", Score: 2, ProfileName: strPtr("ace")}); err != nil {
		t.Fatalf("re-claim own name: %v", err)
	}
}

func TestRenameReleasesOldName(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	if err := store.SetProfileName(ctx, "0xaaa", "first"); err != nil {
		t.Fatalf("set name: %v", err)
	}
	if err := store.SetProfileName(ctx, "0xaaa", "second"); err != nil {
		t.Fatalf("rename: %v", err)
	}
	// The old name is free again.
	if err := store.SetProfileName(ctx, "0xbbb", "first"); err != nil {
		t.Fatalf("claim released name: %v", err)
	}
	rec, err := store.Score(ctx, "0xaaa")
	if err != nil {
		t.Fatalf("score: %v", err)
	}
	if rec.ProfileName != "second" {
		t.Fatalf("profile name %q, want %q", rec.ProfileName, "second")
	}
}

func TestRecordPlayDeduplicates(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	play := &VerifiedPlay{SessionID: "s1", Address: "0xaaa", ReplayHash: "hash-1", Score: 50}
	if err := store.RecordPlay(ctx, play); err != nil {
		t.Fatalf("record: %v", err)
	}
	dup := &VerifiedPlay{SessionID: "s2", Address: "0xbbb", ReplayHash: "hash-1", Score: 50}
	if err := store.RecordPlay(ctx, dup); !errors.Is(err, ErrDuplicatePlay) {
		t.Fatalf("err = %v, want ErrDuplicatePlay", err)
	}
	seen, err := store.HasReplay(ctx, "hash-1")
	if err != nil || !seen {
		t.Fatalf("HasReplay = %v, %v; want true, nil", seen, err)
	}
	seen, err = store.HasReplay(ctx, "hash-2")
	if err != nil || seen {
		t.Fatalf("HasReplay unknown = %v, %v; want false, nil", seen, err)
	}
}

func TestPeriodRoundTrip(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	if _, err := store.Period(ctx, 42); !errors.Is(err, ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
	rec := PeriodRecord{PeriodIndex: 42, Status: PeriodProcessing}
	if err := store.SavePeriod(ctx, rec); err != nil {
		t.Fatalf("save: %v", err)
	}
	rec.Status = PeriodPaid
	rec.TxHash = "0xfeed"
	if err := store.SavePeriod(ctx, rec); err != nil {
		t.Fatalf("update: %v", err)
	}
	got, err := store.Period(ctx, 42)
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if got.Status != PeriodPaid || got.TxHash != "0xfeed" {
		t.Fatalf("unexpected record %+v", got)
	}
}

func TestListScoresInsertionOrder(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()
	for _, addr := range []string{"0xc", "0xa", "0xb"} {
		if _, err := store.ApplyScore(ctx, ScoreUpdate{Address: addr, Score: 10}); err != nil {
			t.Fatalf("apply %s: %v", addr, err)
		}
	}
	records, err := store.ListScores(ctx)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(records) != 3 {
		t.Fatalf("records %d, want 3", len(records))
	}
}
