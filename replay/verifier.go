package replay

import (
	"context"
	"errors"
	"fmt"

	"arcadepool/observability"
	"arcadepool/session"
	"arcadepool/storage"
)

// ErrDuplicateReplay is returned when the canonical content hash was already
// accepted, under any session or address.
var ErrDuplicateReplay = errors.New("replay: duplicate replay")

// Submission is a client replay plus its claimed metadata.
type Submission struct {
	SessionID   string
	Address     string
	Events      []Event
	ProfileName *string
	Email       *string
	Level       *int
}

// Result reports an accepted submission.
type Result struct {
	ReplayHash    string
	Score         int64
	SurvivalTicks float64
	Monotonic     bool
	Saved         storage.ScoreRecord
}

// Verifier runs the full submission pipeline: structural validation,
// canonical hashing, dedup, session consumption, then persistence. Rejection
// on any step leaves the durable tables untouched.
type Verifier struct {
	sessions *session.Manager
	store    *storage.Store
	metrics  *observability.ReplayMetrics
}

// NewVerifier wires the pipeline's collaborators.
func NewVerifier(sessions *session.Manager, store *storage.Store) *Verifier {
	return &Verifier{sessions: sessions, store: store, metrics: observability.Replay()}
}

// Submit verifies and persists one replay. Session consumption happens only
// after the replay is known to be fresh, well-formed, and free of name
// conflicts; the play row and score update then commit in one transaction,
// with the unique hash column backstopping the dedup check against
// concurrent identical submissions.
func (v *Verifier) Submit(ctx context.Context, sub Submission) (Result, error) {
	if storage.NormalizeAddress(sub.Address) == "" {
		v.metrics.RecordRejected("invalid")
		return Result{}, fmt.Errorf("replay: address required")
	}
	eval, err := Evaluate(sub.Events)
	if err != nil {
		v.metrics.RecordRejected("invalid")
		return Result{}, err
	}
	seen, err := v.store.HasReplay(ctx, eval.Hash)
	if err != nil {
		v.metrics.RecordRejected("store")
		return Result{}, fmt.Errorf("replay: dedup lookup: %w", err)
	}
	if seen {
		v.metrics.RecordRejected("duplicate")
		return Result{}, ErrDuplicateReplay
	}
	if sub.ProfileName != nil {
		if err := v.store.NameAvailable(ctx, sub.Address, *sub.ProfileName); err != nil {
			if errors.Is(err, storage.ErrNameTaken) {
				v.metrics.RecordRejected("conflict")
				return Result{}, err
			}
			v.metrics.RecordRejected("store")
			return Result{}, fmt.Errorf("replay: name lookup: %w", err)
		}
	}
	sess, err := v.sessions.Consume(sub.SessionID)
	if err != nil {
		v.metrics.RecordRejected("session")
		return Result{}, err
	}
	play := &storage.VerifiedPlay{
		SessionID:     sess.ID,
		Address:       sub.Address,
		ReplayHash:    eval.Hash,
		Score:         eval.Score,
		SurvivalTicks: eval.SurvivalTicks,
		RawReplay:     eval.Canonical,
	}
	saved, err := v.store.CommitPlay(ctx, play, storage.ScoreUpdate{
		Address:     sub.Address,
		Score:       eval.Score,
		ProfileName: sub.ProfileName,
		Email:       sub.Email,
		Level:       sub.Level,
	})
	if err != nil {
		switch {
		case errors.Is(err, storage.ErrDuplicatePlay):
			v.metrics.RecordRejected("duplicate")
			return Result{}, ErrDuplicateReplay
		case errors.Is(err, storage.ErrNameTaken):
			// Lost a claim race after the availability check; the
			// transaction rolled the play back with it.
			v.metrics.RecordRejected("conflict")
			return Result{}, err
		}
		v.metrics.RecordRejected("store")
		return Result{}, fmt.Errorf("replay: persist play: %w", err)
	}
	v.metrics.RecordAccepted()
	return Result{
		ReplayHash:    eval.Hash,
		Score:         eval.Score,
		SurvivalTicks: eval.SurvivalTicks,
		Monotonic:     eval.Monotonic,
		Saved:         saved,
	}, nil
}
