package settlement

import (
	"fmt"
	"math/big"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Policy controls how a period's pool is carved up. It is loaded from a YAML
// file kept apart from the service configuration so operators can tune payout
// parameters without touching connection settings.
type Policy struct {
	Winners       int    `yaml:"winners"`
	HouseFeeBps   int64  `yaml:"house_fee_bps"`
	HouseSplitBps int64  `yaml:"house_split_bps"`
	MinPool       string `yaml:"min_pool"`

	minPool *big.Int
}

// DefaultPolicy returns the values used when no policy file is configured.
func DefaultPolicy() Policy {
	return Policy{
		Winners:       3,
		HouseFeeBps:   1000,
		HouseSplitBps: 5000,
		minPool:       big.NewInt(0),
	}
}

// LoadPolicy reads and validates a payout policy file.
func LoadPolicy(path string) (Policy, error) {
	policy := DefaultPolicy()
	file, err := os.Open(path)
	if err != nil {
		return policy, fmt.Errorf("settlement: open policy: %w", err)
	}
	defer file.Close()
	dec := yaml.NewDecoder(file)
	dec.KnownFields(true)
	if err := dec.Decode(&policy); err != nil {
		return policy, fmt.Errorf("settlement: decode policy: %w", err)
	}
	if err := policy.Validate(); err != nil {
		return policy, err
	}
	return policy, nil
}

// Validate normalises and bounds-checks the policy.
func (p *Policy) Validate() error {
	if p.Winners <= 0 {
		return fmt.Errorf("settlement: winners must be positive, got %d", p.Winners)
	}
	if p.HouseFeeBps < 0 || p.HouseFeeBps > BpsDenominator {
		return fmt.Errorf("settlement: house_fee_bps %d out of range", p.HouseFeeBps)
	}
	if p.HouseSplitBps < 0 || p.HouseSplitBps > BpsDenominator {
		return fmt.Errorf("settlement: house_split_bps %d out of range", p.HouseSplitBps)
	}
	raw := strings.TrimSpace(p.MinPool)
	if raw == "" {
		p.minPool = big.NewInt(0)
		return nil
	}
	value, ok := new(big.Int).SetString(raw, 10)
	if !ok || value.Sign() < 0 {
		return fmt.Errorf("settlement: min_pool %q is not a non-negative integer", p.MinPool)
	}
	p.minPool = value
	return nil
}

// MinPoolAmount returns the pool floor below which settlement pays nobody.
func (p Policy) MinPoolAmount() *big.Int {
	if p.minPool == nil {
		return big.NewInt(0)
	}
	return p.minPool
}
