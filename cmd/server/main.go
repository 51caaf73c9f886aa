// cmd/server/main.go
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"reliefledger/internal/chain"
	"reliefledger/internal/config"
	"reliefledger/internal/ledger"
	"reliefledger/internal/monitor"
	"reliefledger/internal/recorder"
	"reliefledger/internal/store"

	"github.com/joho/godotenv"
	"go.uber.org/zap"
)

func main() {
	// Load .env
	_ = godotenv.Load()

	// Initialize logger
	logger, err := zap.NewProduction()
	if err != nil {
		panic(fmt.Sprintf("failed to initialize logger: %v", err))
	}
	defer logger.Sync()

	logger.Info("starting relief ledger service")

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("failed to load configuration", zap.Error(err))
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Chain access is optional: without it the recorder falls back to
	// derived hashes and monitoring stays off
	var chainClient *chain.Client
	if cfg.Chain.RPCURL != "" {
		chainClient, err = chain.Dial(ctx, cfg.Chain.RPCURL, logger)
		if err != nil {
			logger.Warn("ledger network unreachable, running without chain access", zap.Error(err))
			chainClient = nil
		}
	}

	// Derive the fund wallet address from the signing key when not set
	walletAddress := cfg.Chain.WalletAddress
	if walletAddress == "" && cfg.Chain.SigningKey != "" {
		if addr, err := chain.AddressFromKey(cfg.Chain.SigningKey); err == nil {
			walletAddress = addr
		} else {
			logger.Warn("cannot derive wallet address from signing key", zap.Error(err))
		}
	}

	var submitter recorder.ChainSubmitter
	var balances ledger.BalanceReader
	if chainClient != nil {
		submitter = chainClient
		balances = chainClient
	}

	rec := recorder.New(submitter, cfg.Chain.SigningKey, walletAddress, logger)
	ledgerSvc := ledger.New(rec, balances, walletAddress, logger)
	ledgerSvc.SetPageSize(cfg.Ledger.PageSize)

	// Attach the store up front; the gateway re-probes liveness on every
	// read and write while the retry loop below is still dialing
	if cfg.Store.URI != "" {
		gw := store.New(cfg.Store.URI, cfg.Store.Database, logger)
		ledgerSvc.AttachStore(gw)
		go func() {
			if err := gw.ConnectWithRetry(ctx); err != nil {
				logger.Warn("continuing in memory-only mode", zap.Error(err))
			}
		}()
	} else {
		logger.Warn("no store URI configured, running memory-only")
	}

	// Start chain monitoring with a startup backfill
	if chainClient != nil && walletAddress != "" {
		mon := monitor.New(chainClient, walletAddress, logger)

		if recent, err := mon.FetchRecent(ctx, cfg.Ledger.BackfillLimit); err != nil {
			logger.Warn("history backfill failed", zap.Error(err))
		} else if len(recent) > 0 {
			ledgerSvc.OnChainBatch(ctx, recent)
			logger.Info("history backfilled", zap.Int("transactions", len(recent)))
		}

		batches, err := mon.Start(ctx)
		if err != nil {
			logger.Warn("block subscription failed, discovery disabled", zap.Error(err))
		} else {
			defer mon.Stop()
			go ledgerSvc.Run(ctx, batches)
		}
	}

	logger.Info("relief ledger service started",
		zap.String("network", cfg.Chain.Network),
		zap.String("wallet", walletAddress))

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down")
}
