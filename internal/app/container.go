// Package app assembles the service graph from configuration.
package app

import (
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"veilcore/internal/config"
	"veilcore/internal/deposit"
	"veilcore/internal/events"
	"veilcore/internal/handlers"
	"veilcore/internal/ledger"
	"veilcore/internal/merkle"
	"veilcore/internal/middleware"
	"veilcore/internal/nullifier"
	"veilcore/internal/prover"
	"veilcore/internal/relayer"
	"veilcore/internal/store"
	"veilcore/internal/withdraw"
)

// Container holds every constructed service.
type Container struct {
	Log *logrus.Logger
	DB  *gorm.DB
	Bus *events.Publisher

	Ledger     ledger.Ledger
	Trees      *merkle.Manager
	Nullifiers *nullifier.Manager
	Generator  *prover.Generator
	Verifier   *prover.Verifier
	Relayers   *relayer.Registry

	Deposits    *deposit.Manager
	Withdrawals *withdraw.Manager

	Handler *handlers.Handler
	Auth    *middleware.AuthMiddleware
}

// Build wires the full graph. Database and NATS are optional; everything
// else is required.
func Build(cfg *config.Config, log *logrus.Logger) (*Container, error) {
	c := &Container{Log: log}

	if cfg.Ledger.RPCURL == "" {
		return nil, fmt.Errorf("ledger.rpc_url is required")
	}
	c.Ledger = ledger.NewClient(cfg.Ledger.RPCURL, 0)

	var depositRepo store.DepositRepository
	var withdrawalRepo store.WithdrawalRepository
	var snapshotRepo store.RelayerSnapshotRepository
	if cfg.Database.DSN != "" {
		db, err := store.Open(cfg.Database.DSN)
		if err != nil {
			return nil, err
		}
		c.DB = db
		depositRepo = store.NewDepositRepository(db)
		withdrawalRepo = store.NewWithdrawalRepository(db)
		snapshotRepo = store.NewRelayerSnapshotRepository(db)
		log.Info("index database connected")
	} else {
		log.Warn("no database configured, running without the local index")
	}

	if cfg.NATS.URL != "" {
		bus, err := events.Connect(cfg.NATS.URL, log)
		if err != nil {
			return nil, fmt.Errorf("connecting to NATS: %w", err)
		}
		c.Bus = bus
	} else {
		log.Warn("no NATS configured, lifecycle events disabled")
	}

	c.Trees = merkle.NewManager(c.Ledger, log, time.Duration(cfg.Ledger.TreeCacheTTL)*time.Second)
	c.Nullifiers = nullifier.NewManager(c.Ledger, log)
	c.Relayers = relayer.NewRegistry(c.Ledger, log,
		time.Duration(cfg.Relayer.CacheTTLSeconds)*time.Second, cfg.Relayer.Score,
		snapshotRepo)

	proverClient := prover.NewClient(cfg.Prover.BaseURL,
		time.Duration(cfg.Prover.TimeoutSeconds)*time.Second)
	c.Generator = prover.NewGenerator(proverClient, log,
		time.Duration(cfg.Prover.StallWarnSeconds)*time.Second)

	verifier, err := prover.NewVerifier(cfg.Prover.VerifyingKeyPath)
	if err != nil {
		return nil, err
	}
	c.Verifier = verifier

	c.Deposits = deposit.NewManager(c.Ledger, c.Trees, depositRepo, c.Bus, log)
	c.Withdrawals = withdraw.NewManager(c.Ledger, c.Trees, c.Nullifiers,
		c.Generator, c.Verifier, c.Relayers, withdrawalRepo, c.Bus, log,
		cfg.Withdraw.MaxStaleRetries)

	c.Handler = &handlers.Handler{
		Ledger:          c.Ledger,
		Deposits:        c.Deposits,
		Withdrawals:     c.Withdrawals,
		RelayerRegistry: c.Relayers,
		Nullifiers:      c.Nullifiers,
		DepositRepo:     depositRepo,
		Log:             log,
	}
	if cfg.Auth.JWTSecret != "" {
		c.Auth = middleware.NewAuthMiddleware(cfg.Auth.JWTSecret, log)
	} else {
		log.Warn("no JWT secret configured, API runs unauthenticated")
	}
	return c, nil
}

// Close releases external connections.
func (c *Container) Close() {
	c.Bus.Close()
	if c.DB != nil {
		if sqlDB, err := c.DB.DB(); err == nil {
			_ = sqlDB.Close()
		}
	}
}
