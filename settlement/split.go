package settlement

import (
	"errors"
	"fmt"
	"math/big"
)

// BpsDenominator is the fixed basis-point denominator for the house fee.
const BpsDenominator = 10000

var bigHundred = big.NewInt(100)

// SplitPercents returns the winner percentage table for n winners. The table
// is fixed for small n; larger fields split evenly with the integer remainder
// handed to the earliest ranks so the percentages always sum to exactly 100.
func SplitPercents(n int) []int64 {
	switch {
	case n <= 0:
		return nil
	case n == 1:
		return []int64{100}
	case n == 2:
		return []int64{60, 40}
	case n == 3:
		return []int64{50, 30, 20}
	}
	base := int64(100 / n)
	remainder := int64(100 % n)
	out := make([]int64, n)
	for i := range out {
		out[i] = base
		if int64(i) < remainder {
			out[i]++
		}
	}
	return out
}

// Distribution is the exact-integer outcome of carving a pool.
type Distribution struct {
	Pool       *big.Int
	PayoutPool *big.Int
	HouseFee   *big.Int
	HouseFirst *big.Int
	HouseRest  *big.Int
	Amounts    []*big.Int
}

// ComputeDistribution carves pool into n winner amounts plus the house fee.
// All arithmetic is big.Int; the division residual of the winner split is
// assigned to the highest-ranked winner, so the winner amounts sum to exactly
// the payout pool and winners plus fee never exceed the pool.
func ComputeDistribution(pool *big.Int, n int, houseFeeBps int64, houseSplitBps int64) (Distribution, error) {
	if pool == nil || pool.Sign() < 0 {
		return Distribution{}, errors.New("settlement: pool must be non-negative")
	}
	if n <= 0 {
		return Distribution{}, errors.New("settlement: need at least one winner")
	}
	if houseFeeBps < 0 || houseFeeBps > BpsDenominator {
		return Distribution{}, fmt.Errorf("settlement: house fee %d bps out of range", houseFeeBps)
	}
	if houseSplitBps < 0 || houseSplitBps > BpsDenominator {
		return Distribution{}, fmt.Errorf("settlement: house split %d bps out of range", houseSplitBps)
	}

	fee := new(big.Int).Mul(pool, big.NewInt(houseFeeBps))
	fee.Quo(fee, big.NewInt(BpsDenominator))
	payoutPool := new(big.Int).Sub(pool, fee)

	pcts := SplitPercents(n)
	amounts := make([]*big.Int, n)
	paid := new(big.Int)
	for i, pct := range pcts {
		amt := new(big.Int).Mul(payoutPool, big.NewInt(pct))
		amt.Quo(amt, bigHundred)
		amounts[i] = amt
		paid.Add(paid, amt)
	}
	// Integer residual goes to rank 1.
	residual := new(big.Int).Sub(payoutPool, paid)
	if residual.Sign() < 0 {
		return Distribution{}, errors.New("settlement: winner amounts exceed payout pool")
	}
	amounts[0] = new(big.Int).Add(amounts[0], residual)

	houseFirst := new(big.Int).Mul(fee, big.NewInt(houseSplitBps))
	houseFirst.Quo(houseFirst, big.NewInt(BpsDenominator))
	houseRest := new(big.Int).Sub(fee, houseFirst)

	dist := Distribution{
		Pool:       new(big.Int).Set(pool),
		PayoutPool: payoutPool,
		HouseFee:   fee,
		HouseFirst: houseFirst,
		HouseRest:  houseRest,
		Amounts:    amounts,
	}
	if err := dist.check(); err != nil {
		return Distribution{}, err
	}
	return dist, nil
}

// check enforces the disbursement invariant before any external call: the
// winner total plus the house fee must not exceed the pool balance.
func (d Distribution) check() error {
	total := new(big.Int).Set(d.HouseFee)
	for _, amt := range d.Amounts {
		if amt.Sign() < 0 {
			return errors.New("settlement: negative winner amount")
		}
		total.Add(total, amt)
	}
	if total.Cmp(d.Pool) > 0 {
		return fmt.Errorf("settlement: disbursement %s exceeds pool %s", total, d.Pool)
	}
	return nil
}
