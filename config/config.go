package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/BurntSushi/toml"

	"arcadepool/session"
)

// Duration wraps time.Duration so TOML files can use human readable strings.
type Duration struct {
	time.Duration
}

// UnmarshalText parses duration strings such as "24h" or "90s".
func (d *Duration) UnmarshalText(text []byte) error {
	raw := strings.TrimSpace(string(text))
	if raw == "" {
		d.Duration = 0
		return nil
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("parse duration %q: %w", raw, err)
	}
	d.Duration = parsed
	return nil
}

// Config captures the runtime configuration for arcadepoold.
type Config struct {
	ListenAddress string `toml:"ListenAddress"`
	DatabaseDSN   string `toml:"DatabaseDSN"`
	PolicyPath    string `toml:"PolicyPath"`

	Period      PeriodConfig      `toml:"Period"`
	Session     SessionConfig     `toml:"Session"`
	Leaderboard LeaderboardConfig `toml:"Leaderboard"`
	RateLimit   RateLimitConfig   `toml:"RateLimit"`
	Admin       AdminConfig       `toml:"Admin"`
	Ledger      LedgerConfig      `toml:"Ledger"`
}

// PeriodConfig controls the settlement window cadence.
type PeriodConfig struct {
	Duration Duration `toml:"Duration"`
}

// SessionConfig controls play session lifetime and cleanup.
type SessionConfig struct {
	TTL           Duration `toml:"TTL"`
	SweepInterval Duration `toml:"SweepInterval"`
}

// LeaderboardConfig controls snapshot rebuilds and query bounds.
type LeaderboardConfig struct {
	RebuildInterval Duration `toml:"RebuildInterval"`
	MaxLimit        int      `toml:"MaxLimit"`
}

// RateLimitConfig bounds per-client request rates on the public API.
type RateLimitConfig struct {
	RequestsPerSecond float64 `toml:"RequestsPerSecond"`
	Burst             int     `toml:"Burst"`
}

// AdminConfig captures security settings for the admin endpoints. The JWT
// secret may be given inline, via an environment variable, or via a file;
// inline wins when more than one is set.
type AdminConfig struct {
	JWTSecret     string `toml:"JWTSecret"`
	JWTSecretEnv  string `toml:"JWTSecretEnv"`
	JWTSecretFile string `toml:"JWTSecretFile"`
	Issuer        string `toml:"Issuer"`
	Audience      string `toml:"Audience"`
}

// LedgerConfig configures the on-chain wager contract client. The signer key
// follows the same inline/env/file indirection as the admin secret so the hot
// key never has to live in the config file itself.
type LedgerConfig struct {
	RPCURL          string   `toml:"RPCURL"`
	ContractAddress string   `toml:"ContractAddress"`
	ChainID         int64    `toml:"ChainID"`
	SignerKey       string   `toml:"SignerKey"`
	SignerKeyEnv    string   `toml:"SignerKeyEnv"`
	SignerKeyFile   string   `toml:"SignerKeyFile"`
	Confirmations   uint64   `toml:"Confirmations"`
	PollInterval    Duration `toml:"PollInterval"`
	Disabled        bool     `toml:"Disabled"`
}

// Load reads, defaults, and validates the configuration at path.
func Load(path string) (*Config, error) {
	cfg := &Config{}
	meta, err := toml.DecodeFile(path, cfg)
	if err != nil {
		return nil, fmt.Errorf("decode config %s: %w", path, err)
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		return nil, fmt.Errorf("config %s has unknown key %s", path, undecoded[0])
	}
	applyDefaults(cfg)
	if err := cfg.Admin.normalise(); err != nil {
		return nil, fmt.Errorf("admin security: %w", err)
	}
	if err := cfg.Ledger.normalise(); err != nil {
		return nil, fmt.Errorf("ledger signer: %w", err)
	}
	if err := validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.ListenAddress == "" {
		cfg.ListenAddress = ":7090"
	}
	if cfg.DatabaseDSN == "" {
		cfg.DatabaseDSN = "file:arcadepool.db?_pragma=busy_timeout(5000)"
	}
	if cfg.Period.Duration.Duration == 0 {
		cfg.Period.Duration.Duration = 24 * time.Hour
	}
	if cfg.Session.TTL.Duration == 0 {
		cfg.Session.TTL.Duration = session.DefaultTTL
	}
	if cfg.Session.SweepInterval.Duration == 0 {
		cfg.Session.SweepInterval.Duration = time.Minute
	}
	if cfg.Leaderboard.RebuildInterval.Duration == 0 {
		cfg.Leaderboard.RebuildInterval.Duration = 30 * time.Second
	}
	if cfg.Leaderboard.MaxLimit <= 0 {
		cfg.Leaderboard.MaxLimit = 100
	}
	if cfg.RateLimit.RequestsPerSecond <= 0 {
		cfg.RateLimit.RequestsPerSecond = 10
	}
	if cfg.RateLimit.Burst <= 0 {
		cfg.RateLimit.Burst = 20
	}
	if cfg.Ledger.Confirmations == 0 {
		cfg.Ledger.Confirmations = 3
	}
	if cfg.Ledger.PollInterval.Duration == 0 {
		cfg.Ledger.PollInterval.Duration = 3 * time.Second
	}
}

func validate(cfg *Config) error {
	if cfg.Period.Duration.Duration < time.Minute {
		return fmt.Errorf("period duration %s is below the one minute floor", cfg.Period.Duration.Duration)
	}
	if strings.TrimSpace(cfg.Admin.JWTSecret) == "" {
		return fmt.Errorf("admin JWT secret must be configured")
	}
	if !cfg.Ledger.Disabled {
		if strings.TrimSpace(cfg.Ledger.RPCURL) == "" {
			return fmt.Errorf("ledger RPC URL must be configured")
		}
		if strings.TrimSpace(cfg.Ledger.ContractAddress) == "" {
			return fmt.Errorf("ledger contract address must be configured")
		}
		if cfg.Ledger.ChainID <= 0 {
			return fmt.Errorf("ledger chain id must be positive")
		}
		if strings.TrimSpace(cfg.Ledger.SignerKey) == "" {
			return fmt.Errorf("ledger signer key must be configured")
		}
	}
	return nil
}

func (a *AdminConfig) normalise() error {
	secret, err := resolveSecret(a.JWTSecret, a.JWTSecretEnv, a.JWTSecretFile)
	if err != nil {
		return err
	}
	a.JWTSecret = secret
	return nil
}

func (l *LedgerConfig) normalise() error {
	if l.Disabled {
		return nil
	}
	key, err := resolveSecret(l.SignerKey, l.SignerKeyEnv, l.SignerKeyFile)
	if err != nil {
		return err
	}
	l.SignerKey = strings.TrimPrefix(key, "0x")
	return nil
}

func resolveSecret(inline, envName, filePath string) (string, error) {
	if value := strings.TrimSpace(inline); value != "" {
		return value, nil
	}
	if name := strings.TrimSpace(envName); name != "" {
		value := strings.TrimSpace(os.Getenv(name))
		if value == "" {
			return "", fmt.Errorf("environment variable %s is empty", name)
		}
		return value, nil
	}
	if path := strings.TrimSpace(filePath); path != "" {
		contents, err := os.ReadFile(path)
		if err != nil {
			return "", fmt.Errorf("read %s: %w", path, err)
		}
		return strings.TrimSpace(string(contents)), nil
	}
	return "", nil
}
