package replay

import (
	"context"
	"errors"
	"sync"
	"testing"

	"arcadepool/session"
	"arcadepool/storage"
)

func newTestVerifier(t *testing.T) (*Verifier, *session.Manager, *storage.Store) {
	t.Helper()
	store, err := storage.Open(":memory:")
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	sessions := session.NewManager()
	return NewVerifier(sessions, store), sessions, store
}

func startSession(t *testing.T, sessions *session.Manager) string {
	t.Helper()
	sess, err := sessions.Start()
	if err != nil {
		t.Fatalf("start session: %v", err)
	}
	return sess.ID
}

func TestSubmitAcceptsAndPersists(t *testing.T) {
	v, sessions, store := newTestVerifier(t)
	ctx := context.Background()
	id := startSession(t, sessions)

	res, err := v.Submit(ctx, Submission{
		SessionID: id,
		Address:   "0xAAA",
		Events:    []Event{{T: 0, S: 10}, {T: 5, S: 50}},
	})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if res.Score != 50 || res.SurvivalTicks != 5 {
		t.Fatalf("unexpected result %+v", res)
	}
	rec, err := store.Score(ctx, "0xaaa")
	if err != nil {
		t.Fatalf("score lookup: %v", err)
	}
	if rec.HighestScore != 50 || rec.GamesPlayed != 1 {
		t.Fatalf("unexpected record %+v", rec)
	}
	seen, err := store.HasReplay(ctx, res.ReplayHash)
	if err != nil || !seen {
		t.Fatalf("play not recorded: %v %v", seen, err)
	}
}

func TestSubmitSameContentTwice(t *testing.T) {
	v, sessions, _ := newTestVerifier(t)
	ctx := context.Background()
	events := []Event{{T: 0, S: 10}, {T: 2, S: 25}}

	first := startSession(t, sessions)
	if _, err := v.Submit(ctx, Submission{SessionID: first, Address: "0xaaa", Events: events}); err != nil {
		t.Fatalf("first submit: %v", err)
	}
	// Identical content under a fresh session and a different address is
	// still rejected.
	second := startSession(t, sessions)
	_, err := v.Submit(ctx, Submission{SessionID: second, Address: "0xbbb", Events: events})
	if !errors.Is(err, ErrDuplicateReplay) {
		t.Fatalf("err = %v, want ErrDuplicateReplay", err)
	}
	// The duplicate was rejected before the session was touched.
	if _, err := sessions.Consume(second); err != nil {
		t.Fatalf("session should survive duplicate rejection: %v", err)
	}
}

func TestSubmitRejectionLeavesNoSideEffects(t *testing.T) {
	v, sessions, store := newTestVerifier(t)
	ctx := context.Background()
	id := startSession(t, sessions)

	_, err := v.Submit(ctx, Submission{
		SessionID: id,
		Address:   "0xaaa",
		Events:    []Event{{T: 0, S: -5}},
	})
	var invalid InvalidEntryError
	if !errors.As(err, &invalid) {
		t.Fatalf("err = %v, want InvalidEntryError", err)
	}
	if _, err := store.Score(ctx, "0xaaa"); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("score record exists after rejection: %v", err)
	}
	if _, err := sessions.Consume(id); err != nil {
		t.Fatalf("session consumed on structural rejection: %v", err)
	}
}

func TestSubmitNameConflictLeavesNoSideEffects(t *testing.T) {
	v, sessions, store := newTestVerifier(t)
	ctx := context.Background()
	if err := store.SetProfileName(ctx, "0xowner", "ace"); err != nil {
		t.Fatalf("seed name: %v", err)
	}
	id := startSession(t, sessions)
	taken := "ACE"

	_, err := v.Submit(ctx, Submission{
		SessionID:   id,
		Address:     "0xplayer",
		Events:      []Event{{T: 0, S: 10}, {T: 3, S: 42}},
		ProfileName: &taken,
	})
	if !errors.Is(err, storage.ErrNameTaken) {
		t.Fatalf("err = %v, want storage.ErrNameTaken", err)
	}
	// The conflict is rejected before any durable write or session touch:
	// hash not burned, no score record, session still live.
	eval, evalErr := Evaluate([]Event{{T: 0, S: 10}, {T: 3, S: 42}})
	if evalErr != nil {
		t.Fatalf("evaluate: %v", evalErr)
	}
	if seen, err := store.HasReplay(ctx, eval.Hash); err != nil || seen {
		t.Fatalf("replay hash burned on rejection: seen=%v err=%v", seen, err)
	}
	if _, err := store.Score(ctx, "0xplayer"); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("score record exists after rejection: %v", err)
	}
	// The same session still carries a valid play: resubmitting without the
	// conflicting name succeeds.
	res, err := v.Submit(ctx, Submission{
		SessionID: id,
		Address:   "0xplayer",
		Events:    []Event{{T: 0, S: 10}, {T: 3, S: 42}},
	})
	if err != nil {
		t.Fatalf("resubmit after conflict: %v", err)
	}
	if res.Score != 42 {
		t.Fatalf("score %d, want 42", res.Score)
	}
}

func TestSubmitUnknownSession(t *testing.T) {
	v, _, store := newTestVerifier(t)
	ctx := context.Background()
	_, err := v.Submit(ctx, Submission{
		SessionID: "bogus",
		Address:   "0xaaa",
		Events:    []Event{{T: 0, S: 5}},
	})
	if !errors.Is(err, session.ErrNotFound) {
		t.Fatalf("err = %v, want session.ErrNotFound", err)
	}
	if _, err := store.Score(ctx, "0xaaa"); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("score persisted despite session failure: %v", err)
	}
}

func TestConcurrentSubmitsSameSession(t *testing.T) {
	v, sessions, _ := newTestVerifier(t)
	ctx := context.Background()
	id := startSession(t, sessions)

	const callers = 8
	var wg sync.WaitGroup
	oks := make(chan struct{}, callers)
	for i := 0; i < callers; i++ {
		i := i
		wg.Add(1)
		go func() {
			defer wg.Done()
			// Distinct content per goroutine so only the session can
			// collide.
			events := []Event{{T: 0, S: float64(10 + i)}}
			if _, err := v.Submit(ctx, Submission{SessionID: id, Address: "0xaaa", Events: events}); err == nil {
				oks <- struct{}{}
			}
		}()
	}
	wg.Wait()
	close(oks)
	wins := 0
	for range oks {
		wins++
	}
	if wins != 1 {
		t.Fatalf("accepted %d submissions for one session, want 1", wins)
	}
}
