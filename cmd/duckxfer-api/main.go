package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/duckmesh/duckxfer/internal/api"
	"github.com/duckmesh/duckxfer/internal/auth"
	"github.com/duckmesh/duckxfer/internal/config"
	"github.com/duckmesh/duckxfer/internal/engine"
	"github.com/duckmesh/duckxfer/internal/exporter"
	"github.com/duckmesh/duckxfer/internal/importer"
	"github.com/duckmesh/duckxfer/internal/jobs"
	jobspostgres "github.com/duckmesh/duckxfer/internal/jobs/postgres"
	"github.com/duckmesh/duckxfer/internal/observability"
	s3store "github.com/duckmesh/duckxfer/internal/storage/s3"
	"github.com/duckmesh/duckxfer/internal/store/duckdb"
)

func main() {
	cfg, err := config.LoadFromEnv("duckxfer-api")
	if err != nil {
		slog.Error("failed to load config", slog.Any("error", err))
		os.Exit(1)
	}

	logger := observability.NewLogger(cfg, os.Stdout)

	var destination exporter.Destination = exporter.FileDestination{Dir: cfg.Transfer.ExportDir}
	if cfg.ObjectStore.Enabled {
		objectStore, err := s3store.New(context.Background(), s3store.Config{
			Endpoint:         cfg.ObjectStore.Endpoint,
			Region:           cfg.ObjectStore.Region,
			Bucket:           cfg.ObjectStore.Bucket,
			AccessKeyID:      cfg.ObjectStore.AccessKeyID,
			SecretAccessKey:  cfg.ObjectStore.SecretAccessKey,
			UseSSL:           cfg.ObjectStore.UseSSL,
			Prefix:           cfg.ObjectStore.Prefix,
			AutoCreateBucket: cfg.ObjectStore.AutoCreateBucket,
		})
		if err != nil {
			logger.Error("failed to initialize object store", slog.Any("error", err))
			os.Exit(1)
		}
		destination = exporter.ObjectStoreDestination{Store: objectStore, SpoolDir: cfg.ObjectStore.SpoolDir}
	}

	var ledger jobs.Ledger
	if cfg.Ledger.DSN != "" {
		ledgerDB, err := jobspostgres.Open(context.Background(), jobspostgres.DBConfig{
			DSN:             cfg.Ledger.DSN,
			ApplicationName: cfg.Service.Name,
			MaxOpenConns:    cfg.Ledger.MaxOpenConns,
			MaxIdleConns:    cfg.Ledger.MaxIdleConns,
			ConnMaxIdleTime: cfg.Ledger.ConnMaxIdleTime,
			ConnMaxLifetime: cfg.Ledger.ConnMaxLifetime,
		})
		if err != nil {
			logger.Error("failed to open ledger db", slog.Any("error", err))
			os.Exit(1)
		}
		defer func() { _ = ledgerDB.Close() }()
		ledger = jobspostgres.NewRepository(ledgerDB)
	}

	transferEngine, err := engine.New(engine.Config{
		PreviewLimit:    cfg.Transfer.PreviewLimit,
		InferSampleRows: cfg.Transfer.InferSampleRows,
		ImportMaxBytes:  cfg.Transfer.ImportMaxBytes,
		Exporter: exporter.Config{
			ChunkSize: cfg.Transfer.ExportChunkSize,
			CountRows: cfg.Transfer.ExportCountRows,
		},
		Importer: importer.Config{BatchSize: cfg.Transfer.ImportBatchSize},
	}, engine.Dependencies{
		Logger: logger,
		Dialer: duckdb.NewDialer(duckdb.Config{
			DefaultDatabase: cfg.Store.Database,
			Threads:         cfg.Store.Threads,
			PingTimeout:     cfg.Store.PingTimeout,
		}),
		Destination: destination,
		Ledger:      ledger,
	})
	if err != nil {
		logger.Error("failed to initialize transfer engine", slog.Any("error", err))
		os.Exit(1)
	}

	deps := api.Dependencies{
		Logger: logger,
		Engine: transferEngine,
		Readiness: api.CombineReadinessChecks(
			api.CheckLedger(ledger),
			api.CheckObjectStoreConfig(cfg),
		),
		DependencyTimeout: time.Second,
	}
	if cfg.Auth.Required {
		validator, err := auth.NewStaticAPIKeyValidator(cfg.Auth.StaticKeys)
		if err != nil {
			logger.Error("failed to parse static auth keys", slog.Any("error", err))
			os.Exit(1)
		}
		deps.AuthMiddleware = auth.Middleware(logger, validator)
	}

	server := &http.Server{
		Addr:         cfg.HTTP.Address,
		Handler:      api.NewHandler(cfg, deps),
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.HTTP.WriteTimeout,
		IdleTimeout:  cfg.HTTP.IdleTimeout,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go func() {
		logger.Info("starting api server",
			slog.String("addr", cfg.HTTP.Address),
			slog.Bool("object_store", cfg.ObjectStore.Enabled),
			slog.Bool("ledger", ledger != nil),
		)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("api server failed", slog.Any("error", err))
			stop()
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	logger.Info("shutting down api server")
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", slog.Any("error", err))
		_ = server.Close()
		os.Exit(1)
	}
}
