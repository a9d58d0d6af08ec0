package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/joho/godotenv"
	"golang.org/x/sync/errgroup"

	"github.com/JonMunkholm/productimport/internal/config"
	"github.com/JonMunkholm/productimport/internal/core"
	"github.com/JonMunkholm/productimport/internal/database"
	"github.com/JonMunkholm/productimport/internal/logging"
	"github.com/JonMunkholm/productimport/internal/queue"
	"github.com/JonMunkholm/productimport/internal/web"
)

// backend is the queue plus control-signal transport.
type backend interface {
	core.Dispatcher
	core.Signaler
}

func main() {
	// Load .env file if it exists (Overload overwrites existing env vars)
	if err := godotenv.Overload(); err != nil {
		slog.Info("no .env file found, using environment variables")
	} else {
		slog.Info("loaded .env file (overwriting existing env vars)")
	}

	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	logging.Setup(cfg.Logging.Level, cfg.Logging.Format)
	slog.Info("configuration loaded", "config", cfg.String())

	if err := run(cfg); err != nil {
		slog.Error("server exited with error", "error", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pool, err := database.Connect(ctx, database.PoolConfig{
		URL:             cfg.Database.URL,
		MaxConns:        cfg.Database.MaxConns,
		MinConns:        cfg.Database.MinConns,
		MaxConnLifetime: cfg.Database.MaxConnLifetime,
		MaxConnIdleTime: cfg.Database.MaxConnIdleTime,
	})
	if err != nil {
		return err
	}
	defer pool.Close()

	// Log which database we connected to
	if u, err := url.Parse(cfg.Database.URL); err == nil {
		slog.Info("connected to database", "name", strings.TrimPrefix(u.Path, "/"))
	}

	store := database.New(pool)
	if err := store.Migrate(ctx); err != nil {
		return err
	}

	checks := map[string]web.HealthCheck{"database": store.Ping}

	var q backend
	if cfg.Redis.URL != "" {
		client, err := queue.Connect(ctx, cfg.Redis.URL)
		if err != nil {
			return err
		}
		defer client.Close()
		q = queue.NewRedis(client, cfg.Redis.Prefix)
		checks["redis"] = func(ctx context.Context) error { return client.Ping(ctx).Err() }
		slog.Info("using redis job queue", "prefix", cfg.Redis.Prefix)
	} else {
		q = queue.NewMemory(queue.DefaultBuffer)
		slog.Info("using in-process job queue")
	}

	svc, err := core.NewService(store, q, q, core.Options{
		TempDir:                 cfg.Import.TempDir,
		MaxFileSize:             cfg.Import.MaxFileSize,
		MaxConcurrent:           cfg.Import.MaxConcurrent,
		MaxWaitTime:             cfg.Import.MaxWaitTime,
		RowTimeout:              cfg.Import.RowTimeout,
		RequiredFields:          cfg.Import.RequiredFields,
		PartialSuccessCompletes: cfg.Import.PartialSuccessCompletes,
	})
	if err != nil {
		return err
	}

	if _, err := svc.RecoverInterrupted(ctx, cfg.Import.ResumeInterrupted); err != nil {
		return err
	}

	server := web.NewServer(svc, cfg, checks)

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return svc.RunWorkers(gctx, cfg.Import.Workers)
	})

	g.Go(func() error {
		svc.StartJanitor(gctx, core.JanitorConfig{
			Interval: cfg.Janitor.Interval,
			MinAge:   cfg.Janitor.MinAge,
		})
		return nil
	})

	g.Go(func() error {
		slog.Info("server starting", "addr", cfg.Server.Addr())
		if err := server.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	// Graceful shutdown
	g.Go(func() error {
		<-gctx.Done()
		slog.Info("shutting down...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()

		// Workers stop at the next row boundary and park their jobs as PAUSED
		if status := svc.LimiterStatus(); status.Active > 0 {
			slog.Info("waiting for import runs to stop", "active", status.Active)
			if err := svc.WaitForRuns(shutdownCtx); err != nil {
				slog.Warn("import runs did not stop in time", "error", err)
			}
		}

		return server.Shutdown(shutdownCtx)
	})

	return g.Wait()
}
