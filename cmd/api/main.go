package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/congo-pay/mobile_ledger/internal/accounts"
	"github.com/congo-pay/mobile_ledger/internal/chain"
	"github.com/congo-pay/mobile_ledger/internal/config"
	"github.com/congo-pay/mobile_ledger/internal/events"
	"github.com/congo-pay/mobile_ledger/internal/idempotency"
	"github.com/congo-pay/mobile_ledger/internal/infra"
	"github.com/congo-pay/mobile_ledger/internal/ledger"
	"github.com/congo-pay/mobile_ledger/internal/logging"
	"github.com/congo-pay/mobile_ledger/internal/notification"
	"github.com/congo-pay/mobile_ledger/internal/posting"
	"github.com/congo-pay/mobile_ledger/internal/routes"
	"github.com/congo-pay/mobile_ledger/internal/server"
)

const eventStreamMaxLen = 100_000

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}

	logger := logging.New(cfg.LogLevel, cfg.AppName)

	ctx := context.Background()

	backend, err := infra.OpenStore(ctx, cfg, logger)
	if err != nil {
		logger.Error("open ledger store", "error", err)
		os.Exit(1)
	}
	defer func() {
		if err := backend.Close(); err != nil {
			logger.Warn("close ledger store", "error", err)
		}
	}()

	cache, err := infra.OptionalRedisClient(ctx, cfg.RedisURL)
	if err != nil {
		logger.Error("connect redis", "error", err)
		os.Exit(1)
	}
	if cache != nil {
		defer func() {
			if err := cache.Close(); err != nil {
				logger.Warn("close redis", "error", err)
			}
		}()
	}

	publisher := events.Fanout{
		events.NewLoggerPublisher(logger),
		notification.NewPublisher(notification.NewLoggerNotifier(logger)),
	}
	var locker posting.Locker = posting.NewLocalLocker()
	var receipts *idempotency.Cache
	if cache != nil {
		publisher = append(publisher, events.NewRedisStreamPublisher(cache, events.DefaultStream, eventStreamMaxLen))
		locker = posting.Layered{locker, posting.NewRedisLocker(cache, cfg.LockLease)}
		receipts = idempotency.NewCache(cache)
	}

	engine := posting.NewEngine(backend.Store, locker, receipts, publisher, logger, posting.Config{
		IdempotencyTTL: cfg.IdempotencyTTL,
		LockTimeout:    cfg.LockTimeout,
	})

	accountsSvc := accounts.NewService(backend.Store, logger)
	if err := accountsSvc.EnsureSystemAccounts(ctx, cfg.Currencies...); err != nil {
		logger.Error("ensure system accounts", "error", err)
		os.Exit(1)
	}

	auditor := chain.NewAuditor(backend.Store, publisher, logger, cfg.AuditWindow)

	bgCtx, stopBackground := context.WithCancel(ctx)
	defer stopBackground()
	go auditor.Run(bgCtx, cfg.AuditInterval)
	go ledger.NewSweeper(backend.Store, logger).Run(bgCtx, cfg.SweepInterval)

	srv, err := server.New(routes.Deps{
		Cfg:      cfg,
		DB:       backend.Pool,
		Cache:    cache,
		Logger:   logger,
		Store:    backend.Store,
		Engine:   engine,
		Accounts: accountsSvc,
		Auditor:  auditor,
	})
	if err != nil {
		logger.Error("build server", "error", err)
		os.Exit(1)
	}

	srvErrCh := make(chan error, 1)
	go func() {
		srvErrCh <- srv.Listen()
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		logger.Info("shutdown signal received", "signal", sig.String())
	case err := <-srvErrCh:
		if err != nil {
			logger.Error("server error", "error", err)
			os.Exit(1)
		}
		return
	}

	stopBackground()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownPeriod)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown error", "error", err)
		os.Exit(1)
	}

	logger.Info("server exited cleanly")
}
