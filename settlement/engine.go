package settlement

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"arcadepool/leaderboard"
	"arcadepool/ledger"
	"arcadepool/observability"
	"arcadepool/storage"
)

// ErrPaused is returned when a settlement is attempted while the engine is
// paused by an operator.
var ErrPaused = errors.New("settlement: engine paused")

// Engine converts the off-chain ranking into on-chain payouts, one settlement
// window at a time. The persisted PeriodRecord status is the idempotency
// guard: a window in processing or paid is never touched again, failed may be
// retried. The check-and-set is serialized by the engine mutex, which assumes
// a single authoritative process; running two instances against one database
// needs an external lock this engine deliberately does not provide.
type Engine struct {
	store   *storage.Store
	ledger  ledger.Ledger
	board   *leaderboard.Index
	policy  Policy
	logger  *slog.Logger
	metrics *observability.SettlementMetrics
	now     func() time.Time

	mu     sync.Mutex
	paused bool
}

// Option customises the engine instance.
type Option func(*Engine)

// WithClock sets the function used to derive timestamps.
func WithClock(clock func() time.Time) Option {
	return func(e *Engine) {
		if clock != nil {
			e.now = clock
		}
	}
}

// WithLogger overrides the default logger.
func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// NewEngine wires the settlement collaborators.
func NewEngine(store *storage.Store, chain ledger.Ledger, board *leaderboard.Index, policy Policy, opts ...Option) *Engine {
	e := &Engine{
		store:   store,
		ledger:  chain,
		board:   board,
		policy:  policy,
		logger:  slog.Default(),
		metrics: observability.Settlement(),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Pause halts new settlement attempts.
func (e *Engine) Pause() {
	e.mu.Lock()
	e.paused = true
	e.mu.Unlock()
	e.metrics.SetPause(true)
}

// Resume re-enables settlement.
func (e *Engine) Resume() {
	e.mu.Lock()
	e.paused = false
	e.mu.Unlock()
	e.metrics.SetPause(false)
}

// Paused reports whether the pause guard is engaged.
func (e *Engine) Paused() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.paused
}

// Settle runs the settlement state machine for one window. Both the
// scheduler and the operator-triggered path call this same function, so the
// idempotency guard is the single source of truth: a second call for a
// window already processing or paid returns the existing record with no
// ledger interaction. Ledger failures are recorded durably on the period
// rather than returned; the returned error covers only store access and the
// pause guard.
func (e *Engine) Settle(ctx context.Context, periodIndex int64) (storage.PeriodRecord, error) {
	start := e.now()

	e.mu.Lock()
	if e.paused {
		e.mu.Unlock()
		return storage.PeriodRecord{}, ErrPaused
	}
	rec, err := e.store.Period(ctx, periodIndex)
	switch {
	case errors.Is(err, storage.ErrNotFound):
		rec = storage.PeriodRecord{PeriodIndex: periodIndex, Status: storage.PeriodOpen}
	case err != nil:
		e.mu.Unlock()
		return storage.PeriodRecord{}, err
	}
	if rec.Status == storage.PeriodProcessing || rec.Status == storage.PeriodPaid {
		e.mu.Unlock()
		return rec, nil
	}
	rec.Status = storage.PeriodProcessing
	rec.Error = ""
	if err := e.store.SavePeriod(ctx, rec); err != nil {
		e.mu.Unlock()
		return storage.PeriodRecord{}, err
	}
	e.mu.Unlock()

	e.execute(ctx, &rec)
	if err := e.store.SavePeriod(ctx, rec); err != nil {
		return storage.PeriodRecord{}, err
	}
	e.metrics.ObserveSettle(string(rec.Status), e.now().Sub(start))
	return rec, nil
}

// execute drives a window from processing to paid or failed. Partial state
// is never advanced silently: any ledger obligation left outstanding marks
// the window failed even when the winners were already paid, keeping the
// winners' transaction hash for audit.
func (e *Engine) execute(ctx context.Context, rec *storage.PeriodRecord) {
	winners, dist, err := e.plan(ctx)
	if err != nil {
		e.fail(rec, "plan", err)
		return
	}
	if len(winners) == 0 {
		// Nothing owed: no depositors with a ranked score, or the pool
		// is empty or below the policy floor. The window closes paid
		// with an empty payout list.
		rec.Status = storage.PeriodPaid
		rec.Payouts = []byte("[]")
		e.logger.Info("settlement closed with no payouts", "period", rec.PeriodIndex)
		e.metrics.RecordOutcome("paid", "empty")
		return
	}

	addresses := make([]string, len(winners))
	payouts := make([]storage.Payout, len(winners))
	for i, w := range winners {
		addresses[i] = w.Address
		payouts[i] = storage.Payout{To: w.Address, Amount: dist.Amounts[i].String()}
	}

	txHash, err := e.ledger.PayPlayers(ctx, addresses, dist.Amounts)
	if err != nil {
		e.fail(rec, "pay_players", err)
		return
	}
	rec.TxHash = txHash
	if encoded, err := json.Marshal(payouts); err == nil {
		rec.Payouts = encoded
	}

	if dist.HouseFee.Sign() > 0 {
		if _, err := e.ledger.PayHouse(ctx, dist.HouseFirst, dist.HouseRest); err != nil {
			e.fail(rec, "pay_house", err)
			return
		}
	}
	if _, err := e.ledger.ResetPayments(ctx); err != nil {
		e.fail(rec, "reset", err)
		return
	}

	rec.Status = storage.PeriodPaid
	e.logger.Info("settlement paid",
		"period", rec.PeriodIndex,
		"winners", len(winners),
		"pool", dist.Pool.String(),
		"house_fee", dist.HouseFee.String(),
		"tx", txHash)
	e.metrics.RecordOutcome("paid", "")
}

// plan recomputes standings, filters them down to addresses with a live
// deposit, and carves the pool. A nil winner slice with nil error means
// there is nothing to disburse.
func (e *Engine) plan(ctx context.Context) ([]leaderboard.Entry, Distribution, error) {
	if err := e.board.Rebuild(ctx); err != nil {
		return nil, Distribution{}, fmt.Errorf("rebuild standings: %w", err)
	}
	standings := e.board.Snapshot().Entries

	players, err := e.ledger.CurrentPlayers(ctx)
	if err != nil {
		return nil, Distribution{}, fmt.Errorf("current players: %w", err)
	}
	depositors := make(map[string]bool, len(players))
	for _, p := range players {
		depositors[storage.NormalizeAddress(p)] = true
	}

	winners := make([]leaderboard.Entry, 0, e.policy.Winners)
	for _, entry := range standings {
		if len(winners) == e.policy.Winners {
			break
		}
		if !depositors[entry.Address] {
			continue
		}
		deposit, err := e.ledger.PlayerDeposit(ctx, entry.Address)
		if err != nil {
			return nil, Distribution{}, fmt.Errorf("deposit for %s: %w", entry.Address, err)
		}
		if deposit == nil || deposit.Sign() <= 0 {
			continue
		}
		winners = append(winners, entry)
	}
	if len(winners) == 0 {
		return nil, Distribution{}, nil
	}

	pool, err := e.ledger.PoolBalance(ctx)
	if err != nil {
		return nil, Distribution{}, fmt.Errorf("pool balance: %w", err)
	}
	e.metrics.RecordPool(pool)
	if pool == nil || pool.Sign() <= 0 || pool.Cmp(e.policy.MinPoolAmount()) < 0 {
		return nil, Distribution{}, nil
	}

	dist, err := ComputeDistribution(pool, len(winners), e.policy.HouseFeeBps, e.policy.HouseSplitBps)
	if err != nil {
		return nil, Distribution{}, err
	}
	return winners, dist, nil
}

func (e *Engine) fail(rec *storage.PeriodRecord, reason string, err error) {
	rec.Status = storage.PeriodFailed
	rec.Error = err.Error()
	e.logger.Error("settlement failed",
		"period", rec.PeriodIndex,
		"reason", reason,
		"err", err)
	e.metrics.RecordOutcome("failed", reason)
}
