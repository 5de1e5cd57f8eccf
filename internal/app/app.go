// Package app is the composition root: it wires config, infrastructure,
// and the three scheduler loops (Loader, Janitor, Worker pool) behind one
// errgroup, then serves the ops HTTP surface alongside them.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"github.com/ridgeline-systems/creep/internal/config"
	"github.com/ridgeline-systems/creep/internal/notify"
	"github.com/ridgeline-systems/creep/internal/opsserver"
	"github.com/ridgeline-systems/creep/internal/platform"
	"github.com/ridgeline-systems/creep/internal/telemetry"
	"github.com/ridgeline-systems/creep/pkg/adapter"
	"github.com/ridgeline-systems/creep/pkg/dispenser"
	"github.com/ridgeline-systems/creep/pkg/janitor"
	"github.com/ridgeline-systems/creep/pkg/loader"
	"github.com/ridgeline-systems/creep/pkg/queue"
	"github.com/ridgeline-systems/creep/pkg/store"
	"github.com/ridgeline-systems/creep/pkg/worker"
)

func newUUID() string { return uuid.NewString() }

// Run is the main application entry point. It reads infrastructure out of
// cfg, runs migrations, then starts whichever components cfg.Mode names.
func Run(ctx context.Context, cfg *config.Config) error {
	logger := telemetry.NewLogger(cfg.LogFormat, cfg.LogLevel)
	slog.SetDefault(logger)

	logger.Info("starting creep", "mode", cfg.Mode, "listen", cfg.ListenAddr())

	if err := platform.RunMigrations(cfg.DatabaseURL, cfg.MigrationsDir); err != nil {
		return fmt.Errorf("running migrations: %w", err)
	}
	logger.Info("migrations applied")

	db, err := platform.NewPostgresPool(ctx, cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("connecting to database: %w", err)
	}
	defer db.Close()

	rdb, err := platform.NewRedisClient(ctx, cfg.RedisURL)
	if err != nil {
		return fmt.Errorf("connecting to redis: %w", err)
	}
	defer func() {
		if err := rdb.Close(); err != nil {
			logger.Error("closing redis", "error", err)
		}
	}()

	metricsReg := telemetry.NewRegistry()
	st := store.NewPostgresStore(db)
	q := queue.NewRedisQueue(rdb)

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return runOpsServer(ctx, cfg, logger, db, rdb, metricsReg)
	})

	switch cfg.Mode {
	case "run":
		g.Go(func() error { return runLoader(ctx, cfg, logger, st, q) })
		g.Go(func() error { return runJanitor(ctx, cfg, logger, st) })
		for i := 0; i < cfg.WorkerConcurrency; i++ {
			g.Go(func() error { return runWorker(ctx, cfg, logger, st, q) })
		}
	case "loader":
		g.Go(func() error { return runLoader(ctx, cfg, logger, st, q) })
	case "janitor":
		g.Go(func() error { return runJanitor(ctx, cfg, logger, st) })
	case "worker":
		for i := 0; i < cfg.WorkerConcurrency; i++ {
			g.Go(func() error { return runWorker(ctx, cfg, logger, st, q) })
		}
	default:
		return fmt.Errorf("unknown mode: %s", cfg.Mode)
	}

	return g.Wait()
}

func runOpsServer(ctx context.Context, cfg *config.Config, logger *slog.Logger, db *pgxpool.Pool, rdb *redis.Client, metricsReg *prometheus.Registry) error {
	srv := opsserver.New(logger, db, rdb, metricsReg, cfg.MetricsPath)
	httpSrv := &http.Server{
		Addr:         cfg.ListenAddr(),
		Handler:      srv,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("ops server listening", "addr", cfg.ListenAddr())
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- fmt.Errorf("ops server: %w", err)
			return
		}
		errCh <- nil
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = httpSrv.Shutdown(shutdownCtx)
		return nil
	case err := <-errCh:
		return err
	}
}

func runLoader(ctx context.Context, cfg *config.Config, logger *slog.Logger, st store.Store, q queue.Queue) error {
	l := loader.New(st, q, cfg.QueueName, logger)
	logger.Info("loader started")

	for {
		if ctx.Err() != nil {
			return nil
		}
		published, err := l.Sync(ctx)
		if err != nil {
			return fmt.Errorf("loader: %w", err)
		}
		if published {
			continue
		}
		select {
		case <-time.After(cfg.LoaderPollInterval):
		case <-ctx.Done():
			return nil
		}
	}
}

func runJanitor(ctx context.Context, cfg *config.Config, logger *slog.Logger, st store.Store) error {
	j := janitor.New(st, janitor.Config{
		BatchSize:       cfg.JanitorBatchSize,
		MaxProcessLimit: cfg.JanitorMaxProcessLimit,
	}, logger, newUUID)
	logger.Info("janitor started")

	for {
		if err := j.RunOnce(ctx); err != nil {
			return fmt.Errorf("janitor: %w", err)
		}
		select {
		case <-time.After(cfg.JanitorInterval):
		case <-ctx.Done():
			return nil
		}
	}
}

func runWorker(ctx context.Context, cfg *config.Config, logger *slog.Logger, st store.Store, q queue.Queue) error {
	factory := adapter.NewFactory()
	a, err := factory.Create(cfg.AdapterName, map[string]string{
		"success_rate": fmt.Sprintf("%v", cfg.WorkerMockSuccessRate),
	})
	if err != nil {
		return fmt.Errorf("worker: creating adapter %q: %w", cfg.AdapterName, err)
	}

	var notifier worker.Notifier
	if cfg.NotificationsEnabled() {
		notifier = notify.NewSlackNotifier(cfg.SlackBotToken, cfg.SlackAlertChannel, logger)
	}

	d := dispenser.New(q, cfg.QueueName, cfg.WorkerPollInterval)
	w := worker.New(d, st, a, notifier, cfg.WorkerPollInterval, logger, newUUID)
	logger.Info("worker started")
	return w.RunForever(ctx)
}
