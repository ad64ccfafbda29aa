package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/riverqueue/river"
	"github.com/riverqueue/river/riverdriver/riverpgxv5"
	"github.com/riverqueue/river/rivermigrate"

	"github.com/taskmesh/backend/internal/config"
	"github.com/taskmesh/backend/internal/execution"
	"github.com/taskmesh/backend/internal/metrics"
	"github.com/taskmesh/backend/internal/repository"
	"github.com/taskmesh/backend/internal/services"
	"github.com/taskmesh/backend/internal/store"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("Invalid configuration", "error", err)
		os.Exit(1)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.LogLevel}))
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	m := metrics.New()

	var (
		st          store.Store
		notifier    services.Notifier = services.NopNotifier{}
		riverClient *river.Client[pgx.Tx]
	)

	switch cfg.StoreBackend {
	case config.BackendMemory:
		slog.Warn("Using in-memory store; data is lost on exit and winner callbacks are disabled")
		st = store.NewMemory()

	default:
		pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
		if err != nil {
			slog.Error("Unable to create database pool", "error", err)
			os.Exit(1)
		}
		defer pool.Close()

		if err := pool.Ping(ctx); err != nil {
			slog.Error("Cannot reach PostgreSQL. Ensure Postgres is running or set STORE_BACKEND=memory", "error", err)
			os.Exit(1)
		}
		slog.Info("Connected to PostgreSQL database successfully!")

		if err := repository.Migrate(ctx, pool); err != nil {
			slog.Error("Schema migration failed", "error", err)
			os.Exit(1)
		}

		// River migrations
		migrator, err := rivermigrate.New(riverpgxv5.New(pool), nil)
		if err != nil {
			slog.Error("Failed to create River migrator", "error", err)
			os.Exit(1)
		}
		if _, err := migrator.Migrate(ctx, rivermigrate.DirectionUp, nil); err != nil {
			slog.Error("River migrate up failed", "error", err)
			os.Exit(1)
		}
		slog.Info("River migrations applied")

		// The insert func is set after the River client is created (breaks init cycle).
		var insertMu sync.Mutex
		var insertFn execution.InsertNotifyWinnerTxFunc
		insertNotifyWinner := func(ctx context.Context, tx pgx.Tx, args execution.NotifyWinnerArgs) error {
			insertMu.Lock()
			fn := insertFn
			insertMu.Unlock()
			if fn == nil {
				return errors.New("river insert not wired")
			}
			return fn(ctx, tx, args)
		}

		workers := river.NewWorkers()
		river.AddWorker(workers, execution.NewNotifyWinnerWorker(logger))

		riverClient, err = river.NewClient(riverpgxv5.New(pool), &river.Config{
			Queues: map[string]river.QueueConfig{
				river.QueueDefault: {MaxWorkers: cfg.NotifyWorkers},
			},
			Workers: workers,
			Logger:  logger,
		})
		if err != nil {
			slog.Error("Failed to create River client", "error", err)
			os.Exit(1)
		}

		insertMu.Lock()
		insertFn = func(ctx context.Context, tx pgx.Tx, args execution.NotifyWinnerArgs) error {
			_, err := riverClient.InsertTx(ctx, tx, args, nil)
			return err
		}
		insertMu.Unlock()

		st = repository.NewPGStore(pool)
		notifier = execution.NewRiverNotifier(insertNotifyWinner, logger)
	}

	handler, err := newHandler(cfg, st, notifier, m, logger)
	if err != nil {
		slog.Error("Failed to build HTTP handler", "error", err)
		os.Exit(1)
	}

	// Start River client (processes winner notifications)
	if riverClient != nil {
		if err := riverClient.Start(ctx); err != nil {
			slog.Error("River client failed to start", "error", err)
			os.Exit(1)
		}
	}

	srv := &http.Server{
		Addr:              cfg.Addr(),
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	shutdownDone := make(chan struct{})
	go func() {
		defer close(shutdownDone)
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			slog.Error("HTTP shutdown", "error", err)
		}
		if riverClient != nil {
			if err := riverClient.Stop(shutdownCtx); err != nil {
				slog.Error("River stop", "error", err)
			}
		}
	}()

	slog.Info("Starting HTTP server", "addr", srv.Addr, "store", cfg.StoreBackend)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		slog.Error("HTTP server failed", "error", err)
		os.Exit(1)
	}
	<-shutdownDone
	slog.Info("Server stopped")
}
