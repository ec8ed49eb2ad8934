package ledger

import (
	"context"
	"errors"
	"math/big"
)

// ErrNotConfigured is returned by Unconfigured for every call.
var ErrNotConfigured = errors.New("ledger: not configured")

// Unconfigured satisfies Ledger while refusing every operation. It lets the
// service run for development and replay testing without chain access;
// settlement attempts record a failed outcome instead of crashing.
type Unconfigured struct{}

func (Unconfigured) CurrentPlayers(context.Context) ([]string, error) { return nil, ErrNotConfigured }

func (Unconfigured) PlayerDeposit(context.Context, string) (*big.Int, error) {
	return nil, ErrNotConfigured
}

func (Unconfigured) PoolBalance(context.Context) (*big.Int, error) { return nil, ErrNotConfigured }

func (Unconfigured) PayPlayers(context.Context, []string, []*big.Int) (string, error) {
	return "", ErrNotConfigured
}

func (Unconfigured) PayHouse(context.Context, *big.Int, *big.Int) (string, error) {
	return "", ErrNotConfigured
}

func (Unconfigured) ResetPayments(context.Context) (string, error) { return "", ErrNotConfigured }
