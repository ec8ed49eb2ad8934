package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"arcadepool/config"
	"arcadepool/gateway"
	"arcadepool/gateway/middleware"
	"arcadepool/leaderboard"
	"arcadepool/ledger"
	"arcadepool/observability/logging"
	"arcadepool/replay"
	"arcadepool/session"
	"arcadepool/settlement"
	"arcadepool/storage"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "arcadepoold: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	var cfgPath string
	flag.StringVar(&cfgPath, "config", "config.toml", "path to arcadepoold configuration")
	flag.Parse()

	env := strings.TrimSpace(os.Getenv("ARCADEPOOL_ENV"))
	logger := logging.Setup("arcadepoold", env)

	cfg, err := config.Load(cfgPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	logger.Info("configuration loaded",
		"listen", cfg.ListenAddress,
		"period", cfg.Period.Duration.Duration,
		logging.MaskField("database_dsn", cfg.DatabaseDSN),
		logging.MaskField("signer_key", cfg.Ledger.SignerKey),
	)

	policy := settlement.DefaultPolicy()
	if cfg.PolicyPath != "" {
		policy, err = settlement.LoadPolicy(cfg.PolicyPath)
		if err != nil {
			return fmt.Errorf("load payout policy: %w", err)
		}
	}

	store, err := storage.Open(cfg.DatabaseDSN)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}

	var chain ledger.Ledger = ledger.Unconfigured{}
	if cfg.Ledger.Disabled {
		logger.Warn("ledger disabled; settlement will record failures instead of paying out")
	} else {
		dialCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		evm, err := ledger.DialEVM(dialCtx, ledger.EVMConfig{
			RPCURL:          cfg.Ledger.RPCURL,
			ContractAddress: cfg.Ledger.ContractAddress,
			SignerKey:       cfg.Ledger.SignerKey,
			ChainID:         cfg.Ledger.ChainID,
			Confirmations:   cfg.Ledger.Confirmations,
			PollInterval:    cfg.Ledger.PollInterval.Duration,
		})
		cancel()
		if err != nil {
			return fmt.Errorf("dial ledger: %w", err)
		}
		defer evm.Close()
		chain = evm
	}

	sessions := session.NewManager(session.WithTTL(cfg.Session.TTL.Duration))
	verifier := replay.NewVerifier(sessions, store)
	board := leaderboard.NewIndex(store, logger.With("component", "leaderboard"))
	engine := settlement.NewEngine(store, chain, board, policy,
		settlement.WithLogger(logger.With("component", "settlement")))
	scheduler := settlement.NewScheduler(engine, cfg.Period.Duration.Duration,
		logger.With("component", "scheduler"))

	stopCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	janitorStop := make(chan struct{})
	defer close(janitorStop)
	go sessions.Janitor(cfg.Session.SweepInterval.Duration, janitorStop)
	go board.Run(stopCtx, cfg.Leaderboard.RebuildInterval.Duration)
	go scheduler.Run(stopCtx)

	srv := gateway.New(gateway.Config{
		Sessions:       sessions,
		Verifier:       verifier,
		Store:          store,
		Board:          board,
		Engine:         engine,
		PeriodDuration: cfg.Period.Duration.Duration,
		MaxBoardLimit:  cfg.Leaderboard.MaxLimit,
		Logger:         logger.With("component", "gateway"),
		Auth: middleware.AuthConfig{
			HMACSecret: cfg.Admin.JWTSecret,
			Issuer:     cfg.Admin.Issuer,
			Audience:   cfg.Admin.Audience,
		},
		RateLimit: middleware.RateLimit{
			RequestsPerSecond: cfg.RateLimit.RequestsPerSecond,
			Burst:             cfg.RateLimit.Burst,
		},
	})

	httpServer := &http.Server{
		Addr:         cfg.ListenAddress,
		Handler:      srv.Handler(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errs := make(chan error, 1)
	go func() {
		logger.Info("arcadepoold listening", "listen", cfg.ListenAddress)
		errs <- httpServer.ListenAndServe()
	}()

	select {
	case <-stopCtx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			_ = httpServer.Close()
			return err
		}
		return nil
	case err := <-errs:
		if err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	}
}
