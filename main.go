package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ngandimoun/voicejobs/backoff"
	"github.com/ngandimoun/voicejobs/broadcast"
	"github.com/ngandimoun/voicejobs/config"
	"github.com/ngandimoun/voicejobs/notify"
	"github.com/ngandimoun/voicejobs/pipeline"
	"github.com/ngandimoun/voicejobs/processor"
	"github.com/ngandimoun/voicejobs/server"
	"github.com/ngandimoun/voicejobs/store"
	"github.com/ngandimoun/voicejobs/sweeper"
	"github.com/ngandimoun/voicejobs/worker"
)

func main() {
	cfg := config.Load()

	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))
	slog.SetDefault(logger)

	// The file store is always available: alone when no database is
	// configured, as the degraded fallback otherwise.
	fileStore, err := store.NewFile(cfg.DataDir, logger)
	if err != nil {
		logger.Error("failed to open data directory", slog.String("error", err.Error()))
		os.Exit(1)
	}

	var jobStore store.Store = fileStore
	if cfg.DatabaseURL != "" {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
		if err == nil {
			err = pool.Ping(ctx)
		}
		if err != nil {
			logger.Warn("database unavailable, running on file store only",
				slog.String("error", err.Error()),
			)
		} else {
			pg, err := store.NewPostgres(ctx, pool)
			if err != nil {
				logger.Warn("failed to prepare database, running on file store only",
					slog.String("error", err.Error()),
				)
				pool.Close()
			} else {
				jobStore = store.NewFallback(pg, fileStore, logger)
			}
		}
		cancel()
	}

	var bus broadcast.Broadcaster = broadcast.NewBus(logger)
	var redisBus *broadcast.Redis
	if cfg.RedisAddr != "" {
		rb, err := broadcast.NewRedis(cfg.RedisAddr, "voicejobs:status", logger)
		if err != nil {
			logger.Warn("redis unavailable, status broadcast is process-local",
				slog.String("error", err.Error()),
			)
		} else {
			redisBus = rb
			bus = rb
		}
	}

	proc := processor.NewClient(cfg.ProcessorURL, cfg.ProcessorTimeout)
	orch := worker.NewOrchestrator(jobStore, bus, proc, backoff.Default(), logger)
	pipe := pipeline.New(jobStore, orch, bus, logger,
		pipeline.WithMaxAttempts(cfg.MaxAttempts),
		pipeline.WithStaleAfter(cfg.StaleAfter),
	)

	notifier := notify.New(&notify.LogSink{Logger: logger})
	stopNotifier := notifier.Attach(bus)

	sw := sweeper.New(jobStore, cfg.Retention, logger)
	if err := sw.Start(cfg.SweepSchedule); err != nil {
		logger.Error("failed to start sweeper", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// Pick up jobs left unfinished by a previous run.
	resumed := pipe.Resume(context.Background())
	logger.Info("pipeline started", slog.Int("resumed_jobs", resumed))

	srv := server.NewServer(pipe, cfg.HTTPAddr, logger)
	if err := srv.Start(); err != nil {
		logger.Error("failed to start server", slog.String("error", err.Error()))
		os.Exit(1)
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http shutdown error", slog.String("error", err.Error()))
	}
	sw.Stop()
	pipe.Close()
	stopNotifier()
	if redisBus != nil {
		if err := redisBus.Close(); err != nil {
			logger.Warn("redis close error", slog.String("error", err.Error()))
		}
	}
	if err := jobStore.Close(); err != nil {
		logger.Warn("store close error", slog.String("error", err.Error()))
	}
}
