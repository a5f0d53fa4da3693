package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/vault-core/vault_core/internal/audit"
	"github.com/vault-core/vault_core/internal/config"
	"github.com/vault-core/vault_core/internal/infra"
	"github.com/vault-core/vault_core/internal/logging"
	"github.com/vault-core/vault_core/internal/metrics"
	"github.com/vault-core/vault_core/internal/routes"
	"github.com/vault-core/vault_core/internal/server"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}

	logger := logging.New(cfg.LogLevel, cfg.AppName)

	ctx := context.Background()
	deps := routes.Deps{Cfg: cfg, Metrics: metrics.NewCollector()}

	if cfg.DatabaseURL != "" {
		db, err := infra.NewPostgresPool(ctx, cfg.DatabaseURL)
		if err != nil {
			logger.Error("connect postgres", "error", err)
			os.Exit(1)
		}
		defer db.Close()
		deps.DB = db

		sqlDB, err := infra.NewSQLX(ctx, cfg.DatabaseURL)
		if err != nil {
			logger.Error("connect read model", "error", err)
			os.Exit(1)
		}
		defer func() {
			if err := sqlDB.Close(); err != nil {
				logger.Warn("close read model", "error", err)
			}
		}()
		deps.SQL = sqlDB
	}

	if cfg.RedisURL != "" {
		cache, err := infra.NewRedisClient(ctx, cfg.RedisURL)
		if err != nil {
			logger.Error("connect redis", "error", err)
			os.Exit(1)
		}
		defer func() {
			if err := cache.Close(); err != nil {
				logger.Warn("close redis", "error", err)
			}
		}()
		deps.Cache = cache
	}

	if len(cfg.KafkaBrokers) > 0 {
		writer, err := infra.NewKafkaWriter(cfg.KafkaBrokers, cfg.AuditTopic)
		if err != nil {
			logger.Error("configure kafka", "error", err)
			os.Exit(1)
		}
		emitter := audit.NewKafkaEmitter(writer)
		defer func() {
			if err := emitter.Close(); err != nil {
				logger.Warn("close kafka writer", "error", err)
			}
		}()
		deps.Audit = emitter
	}

	srv, err := server.New(deps, logger)
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

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownPeriod)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown error", "error", err)
		os.Exit(1)
	}

	logger.Info("server exited cleanly")
}
