package settlement

import (
	"context"
	"errors"
	"math/big"
	"testing"

	"arcadepool/leaderboard"
	"arcadepool/storage"
)

// mockLedger counts calls so tests can assert the engine never double-pays.
type mockLedger struct {
	players  []string
	deposits map[string]*big.Int
	balance  *big.Int

	payPlayersCalls int
	payHouseCalls   int
	resetCalls      int

	paidAddresses []string
	paidAmounts   []*big.Int
	housePaid     [2]*big.Int

	payPlayersErr error
	payHouseErr   error
	resetErr      error
}

func (m *mockLedger) CurrentPlayers(ctx context.Context) ([]string, error) {
	return m.players, nil
}

func (m *mockLedger) PlayerDeposit(ctx context.Context, address string) (*big.Int, error) {
	if d, ok := m.deposits[address]; ok {
		return d, nil
	}
	return big.NewInt(0), nil
}

func (m *mockLedger) PoolBalance(ctx context.Context) (*big.Int, error) {
	return new(big.Int).Set(m.balance), nil
}

func (m *mockLedger) PayPlayers(ctx context.Context, addresses []string, amounts []*big.Int) (string, error) {
	m.payPlayersCalls++
	if m.payPlayersErr != nil {
		return "", m.payPlayersErr
	}
	m.paidAddresses = addresses
	m.paidAmounts = amounts
	return "0xwinners", nil
}

func (m *mockLedger) PayHouse(ctx context.Context, first, second *big.Int) (string, error) {
	m.payHouseCalls++
	if m.payHouseErr != nil {
		return "", m.payHouseErr
	}
	m.housePaid = [2]*big.Int{first, second}
	return "0xhouse", nil
}

func (m *mockLedger) ResetPayments(ctx context.Context) (string, error) {
	m.resetCalls++
	if m.resetErr != nil {
		return "", m.resetErr
	}
	return "0xreset", nil
}

func newEngineFixture(t *testing.T, chain *mockLedger, policy Policy) (*Engine, *storage.Store) {
	t.Helper()
	store, err := storage.Open(":memory:")
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	board := leaderboard.NewIndex(store, nil)
	return NewEngine(store, chain, board, policy), store
}

func seedScores(t *testing.T, store *storage.Store, scores map[string]int64) {
	t.Helper()
	for addr, score := range scores {
		if _, err := store.ApplyScore(context.Background(), storage.ScoreUpdate{Address: addr, Score: score}); err != nil {
			t.Fatalf("seed %s: %v", addr, err)
		}
	}
}

func depositAll(addresses ...string) map[string]*big.Int {
	out := make(map[string]*big.Int, len(addresses))
	for _, a := range addresses {
		out[a] = big.NewInt(100)
	}
	return out
}

func TestSettleThreeWinnerSplit(t *testing.T) {
	chain := &mockLedger{
		players:  []string{"0xa", "0xb", "0xc"},
		deposits: depositAll("0xa", "0xb", "0xc"),
		balance:  big.NewInt(1000),
	}
	policy := DefaultPolicy()
	policy.HouseFeeBps = 0
	engine, _ := newEngineFixture(t, chain, policy)
	seedScores(t, engine.store, map[string]int64{"0xa": 300, "0xb": 200, "0xc": 100})

	rec, err := engine.Settle(context.Background(), 7)
	if err != nil {
		t.Fatalf("settle: %v", err)
	}
	if rec.Status != storage.PeriodPaid {
		t.Fatalf("status %s, want paid (error: %s)", rec.Status, rec.Error)
	}
	if rec.TxHash != "0xwinners" {
		t.Fatalf("tx hash %q", rec.TxHash)
	}
	want := []int64{500, 300, 200}
	if len(chain.paidAmounts) != 3 {
		t.Fatalf("paid %d winners, want 3", len(chain.paidAmounts))
	}
	for i, amt := range chain.paidAmounts {
		if amt.Cmp(big.NewInt(want[i])) != 0 {
			t.Fatalf("winner %d paid %s, want %d", i, amt, want[i])
		}
	}
	if chain.paidAddresses[0] != "0xa" || chain.paidAddresses[2] != "0xc" {
		t.Fatalf("winner order %v", chain.paidAddresses)
	}
	if chain.resetCalls != 1 {
		t.Fatalf("reset calls %d, want 1", chain.resetCalls)
	}
}

func TestSettleIsIdempotent(t *testing.T) {
	chain := &mockLedger{
		players:  []string{"0xa"},
		deposits: depositAll("0xa"),
		balance:  big.NewInt(1000),
	}
	engine, _ := newEngineFixture(t, chain, DefaultPolicy())
	seedScores(t, engine.store, map[string]int64{"0xa": 50})

	first, err := engine.Settle(context.Background(), 3)
	if err != nil {
		t.Fatalf("first settle: %v", err)
	}
	if first.Status != storage.PeriodPaid {
		t.Fatalf("status %s, want paid", first.Status)
	}
	second, err := engine.Settle(context.Background(), 3)
	if err != nil {
		t.Fatalf("second settle: %v", err)
	}
	if second.Status != storage.PeriodPaid {
		t.Fatalf("second status %s", second.Status)
	}
	if chain.payPlayersCalls != 1 || chain.payHouseCalls != 1 || chain.resetCalls != 1 {
		t.Fatalf("ledger called again: players=%d house=%d reset=%d",
			chain.payPlayersCalls, chain.payHouseCalls, chain.resetCalls)
	}
}

func TestSettleHouseFeeAccounting(t *testing.T) {
	chain := &mockLedger{
		players:  []string{"0xa", "0xb"},
		deposits: depositAll("0xa", "0xb"),
		balance:  big.NewInt(10000),
	}
	policy := DefaultPolicy()
	policy.Winners = 2
	policy.HouseFeeBps = 1000 // 10%
	policy.HouseSplitBps = 5000 // even split
	engine, _ := newEngineFixture(t, chain, policy)
	seedScores(t, engine.store, map[string]int64{"0xa": 9, "0xb": 8})

	rec, err := engine.Settle(context.Background(), 1)
	if err != nil {
		t.Fatalf("settle: %v", err)
	}
	if rec.Status != storage.PeriodPaid {
		t.Fatalf("status %s (error %s)", rec.Status, rec.Error)
	}
	// Pool 10000, fee 1000, payout pool 9000 split 60/40.
	if chain.paidAmounts[0].Cmp(big.NewInt(5400)) != 0 || chain.paidAmounts[1].Cmp(big.NewInt(3600)) != 0 {
		t.Fatalf("winner amounts %v", chain.paidAmounts)
	}
	if chain.housePaid[0].Cmp(big.NewInt(500)) != 0 || chain.housePaid[1].Cmp(big.NewInt(500)) != 0 {
		t.Fatalf("house amounts %v", chain.housePaid)
	}
}

func TestSettlePayPlayersFailure(t *testing.T) {
	chain := &mockLedger{
		players:       []string{"0xa"},
		deposits:      depositAll("0xa"),
		balance:       big.NewInt(100),
		payPlayersErr: errors.New("rpc timeout"),
	}
	engine, store := newEngineFixture(t, chain, DefaultPolicy())
	seedScores(t, store, map[string]int64{"0xa": 10})

	rec, err := engine.Settle(context.Background(), 5)
	if err != nil {
		t.Fatalf("settle: %v", err)
	}
	if rec.Status != storage.PeriodFailed {
		t.Fatalf("status %s, want failed", rec.Status)
	}
	if rec.Error == "" {
		t.Fatal("failure left no inspectable error")
	}
	if chain.payHouseCalls != 0 || chain.resetCalls != 0 {
		t.Fatal("follow-up ledger calls after winner payment failed")
	}
	// A failed window is retryable.
	chain.payPlayersErr = nil
	rec, err = engine.Settle(context.Background(), 5)
	if err != nil {
		t.Fatalf("retry: %v", err)
	}
	if rec.Status != storage.PeriodPaid {
		t.Fatalf("retry status %s, want paid", rec.Status)
	}
	if chain.payPlayersCalls != 2 {
		t.Fatalf("pay calls %d, want 2", chain.payPlayersCalls)
	}
}

func TestSettleLateFailureKeepsWinnersTx(t *testing.T) {
	chain := &mockLedger{
		players:  []string{"0xa"},
		deposits: depositAll("0xa"),
		balance:  big.NewInt(1000),
		resetErr: errors.New("reset reverted"),
	}
	policy := DefaultPolicy()
	policy.HouseFeeBps = 0
	engine, store := newEngineFixture(t, chain, policy)
	seedScores(t, store, map[string]int64{"0xa": 10})

	rec, err := engine.Settle(context.Background(), 9)
	if err != nil {
		t.Fatalf("settle: %v", err)
	}
	// The engine never claims paid while a ledger obligation is
	// outstanding, but the winners' tx hash survives for audit.
	if rec.Status != storage.PeriodFailed {
		t.Fatalf("status %s, want failed", rec.Status)
	}
	if rec.TxHash != "0xwinners" {
		t.Fatalf("tx hash %q, want winners tx recorded", rec.TxHash)
	}
}

func TestSettleEmptyPoolClosesPaid(t *testing.T) {
	chain := &mockLedger{
		players:  []string{"0xa"},
		deposits: depositAll("0xa"),
		balance:  big.NewInt(0),
	}
	engine, store := newEngineFixture(t, chain, DefaultPolicy())
	seedScores(t, store, map[string]int64{"0xa": 10})

	rec, err := engine.Settle(context.Background(), 2)
	if err != nil {
		t.Fatalf("settle: %v", err)
	}
	if rec.Status != storage.PeriodPaid {
		t.Fatalf("status %s, want paid", rec.Status)
	}
	if chain.payPlayersCalls != 0 {
		t.Fatal("ledger paid winners from an empty pool")
	}
	if string(rec.Payouts) != "[]" {
		t.Fatalf("payouts %s, want []", rec.Payouts)
	}
}

func TestSettleSkipsNonDepositors(t *testing.T) {
	chain := &mockLedger{
		players:  []string{"0xb"},
		deposits: depositAll("0xb"),
		balance:  big.NewInt(100),
	}
	policy := DefaultPolicy()
	policy.Winners = 1
	policy.HouseFeeBps = 0
	engine, store := newEngineFixture(t, chain, policy)
	// Highest score has no deposit; winner must be 0xb.
	seedScores(t, store, map[string]int64{"0xa": 500, "0xb": 100})

	rec, err := engine.Settle(context.Background(), 4)
	if err != nil {
		t.Fatalf("settle: %v", err)
	}
	if rec.Status != storage.PeriodPaid {
		t.Fatalf("status %s (error %s)", rec.Status, rec.Error)
	}
	if len(chain.paidAddresses) != 1 || chain.paidAddresses[0] != "0xb" {
		t.Fatalf("paid %v, want [0xb]", chain.paidAddresses)
	}
	if chain.paidAmounts[0].Cmp(big.NewInt(100)) != 0 {
		t.Fatalf("amount %s, want full pool", chain.paidAmounts[0])
	}
}

func TestSettlePausedEngine(t *testing.T) {
	chain := &mockLedger{balance: big.NewInt(100)}
	engine, _ := newEngineFixture(t, chain, DefaultPolicy())
	engine.Pause()
	if _, err := engine.Settle(context.Background(), 1); !errors.Is(err, ErrPaused) {
		t.Fatalf("err = %v, want ErrPaused", err)
	}
	engine.Resume()
	if _, err := engine.Settle(context.Background(), 1); err != nil {
		t.Fatalf("settle after resume: %v", err)
	}
}

func TestSettleDoesNotReenterProcessing(t *testing.T) {
	chain := &mockLedger{
		players:  []string{"0xa"},
		deposits: depositAll("0xa"),
		balance:  big.NewInt(100),
	}
	engine, store := newEngineFixture(t, chain, DefaultPolicy())
	seedScores(t, store, map[string]int64{"0xa": 10})

	// Simulate a crash mid-settlement: the record is stuck processing.
	if err := store.SavePeriod(context.Background(), storage.PeriodRecord{
		PeriodIndex: 11,
		Status:      storage.PeriodProcessing,
	}); err != nil {
		t.Fatalf("seed processing: %v", err)
	}
	rec, err := engine.Settle(context.Background(), 11)
	if err != nil {
		t.Fatalf("settle: %v", err)
	}
	if rec.Status != storage.PeriodProcessing {
		t.Fatalf("status %s, want untouched processing", rec.Status)
	}
	if chain.payPlayersCalls != 0 {
		t.Fatal("ledger touched for an in-flight window")
	}
}
