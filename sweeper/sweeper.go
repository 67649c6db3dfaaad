// Package sweeper removes job records that have aged out of the retention
// window.
package sweeper

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/ngandimoun/voicejobs/models"
	"github.com/ngandimoun/voicejobs/store"
)

// DefaultRetention is the age past which terminal jobs become eligible for
// deletion.
const DefaultRetention = 24 * time.Hour

// DefaultSchedule is the cron spec used when none is configured.
const DefaultSchedule = "@every 1h"

// Sweeper deletes terminal jobs older than the retention window. It is safe
// to run alongside the orchestrator: terminal records are no longer
// mutated, and stale pending records past the window can no longer be
// resumed.
type Sweeper struct {
	store  store.Store
	window time.Duration
	logger *slog.Logger
	cron   *cron.Cron
}

// New creates a sweeper with the given retention window.
func New(st store.Store, window time.Duration, logger *slog.Logger) *Sweeper {
	if window <= 0 {
		window = DefaultRetention
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Sweeper{store: st, window: window, logger: logger}
}

// Sweep removes terminal jobs whose completion is older than the retention
// window, and pending jobs so old they will never be resumed. It returns
// the number of records removed.
func (s *Sweeper) Sweep(ctx context.Context) (int, error) {
	cutoff := time.Now().Add(-s.window)
	removed := 0

	for _, status := range []models.JobStatus{models.StatusCompleted, models.StatusFailed} {
		jobs, err := s.store.QueryByStatus(ctx, status)
		if err != nil {
			return removed, fmt.Errorf("sweeper: query %s jobs: %w", status, err)
		}
		for _, job := range jobs {
			if job.CompletedAt == nil || job.CompletedAt.After(cutoff) {
				continue
			}
			removed += s.remove(ctx, job.ID)
		}
	}

	// Pending jobs past the window are already excluded from resumption;
	// drop them instead of leaving them stranded.
	pending, err := s.store.QueryByStatus(ctx, models.StatusPending)
	if err != nil {
		return removed, fmt.Errorf("sweeper: query pending jobs: %w", err)
	}
	for _, job := range pending {
		if job.CreatedAt.After(cutoff) {
			continue
		}
		removed += s.remove(ctx, job.ID)
	}

	if removed > 0 {
		s.logger.Info("swept expired jobs", slog.Int("removed", removed))
	}
	return removed, nil
}

func (s *Sweeper) remove(ctx context.Context, id string) int {
	if err := s.store.Delete(ctx, id); err != nil && !errors.Is(err, store.ErrNotFound) {
		s.logger.Warn("failed to sweep job",
			slog.String("job_id", id),
			slog.String("error", err.Error()),
		)
		return 0
	}
	return 1
}

// Start schedules periodic sweeps with the given cron spec, e.g.
// "@every 1h".
func (s *Sweeper) Start(spec string) error {
	if spec == "" {
		spec = DefaultSchedule
	}

	c := cron.New()
	_, err := c.AddFunc(spec, func() {
		if _, err := s.Sweep(context.Background()); err != nil {
			s.logger.Error("scheduled sweep failed", slog.String("error", err.Error()))
		}
	})
	if err != nil {
		return fmt.Errorf("sweeper: invalid schedule %q: %w", spec, err)
	}

	c.Start()
	s.cron = c
	s.logger.Info("retention sweeper started",
		slog.String("schedule", spec),
		slog.Duration("window", s.window),
	)
	return nil
}

// Stop halts scheduled sweeps and waits for a running sweep to finish.
func (s *Sweeper) Stop() {
	if s.cron == nil {
		return
	}
	<-s.cron.Stop().Done()
}
