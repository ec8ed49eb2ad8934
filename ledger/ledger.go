// Package ledger talks to the on-chain wager contract that holds pooled
// deposits and executes payouts. The settlement engine only sees the Ledger
// interface; the EVM implementation lives alongside so tests can substitute
// a counting mock.
package ledger

import (
	"context"
	"math/big"
)

// Ledger is the external payout authority. Mutating calls return the
// transaction hash once the transaction is confirmed; a returned error means
// the disbursement must be treated as not having happened.
type Ledger interface {
	// CurrentPlayers lists the addresses holding a deposit in the current
	// pool.
	CurrentPlayers(ctx context.Context) ([]string, error)
	// PlayerDeposit reports the deposit held by one address.
	PlayerDeposit(ctx context.Context, address string) (*big.Int, error)
	// PoolBalance reports the total funds available for settlement.
	PoolBalance(ctx context.Context) (*big.Int, error)
	// PayPlayers disburses amounts[i] to addresses[i].
	PayPlayers(ctx context.Context, addresses []string, amounts []*big.Int) (string, error)
	// PayHouse disburses the house fee split across the two configured
	// house accounts.
	PayHouse(ctx context.Context, first, second *big.Int) (string, error)
	// ResetPayments clears the pool for the next period.
	ResetPayments(ctx context.Context) (string, error)
}
