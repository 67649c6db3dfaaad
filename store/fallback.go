package store

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/ngandimoun/voicejobs/models"
)

var _ Store = (*Fallback)(nil)

// Fallback decorates a primary store with a secondary backend. Writes that
// fail on the primary degrade to the secondary; the degradation is logged,
// never raised. Reads consult both so records written during a degraded
// period stay visible, and lookup failures soften to not-found because the
// store is advisory persistence, not a system of record.
type Fallback struct {
	primary   Store
	secondary Store
	logger    *slog.Logger
}

// NewFallback wraps primary with secondary as the degraded backend.
func NewFallback(primary, secondary Store, logger *slog.Logger) *Fallback {
	if logger == nil {
		logger = slog.Default()
	}
	return &Fallback{primary: primary, secondary: secondary, logger: logger}
}

// Put writes to the primary, degrading to the secondary on failure.
func (f *Fallback) Put(ctx context.Context, job *models.VoiceJob) error {
	if err := f.primary.Put(ctx, job); err != nil {
		f.logger.Warn("primary store unavailable, writing to fallback",
			slog.String("job_id", job.ID),
			slog.String("error", err.Error()),
		)
		return f.secondary.Put(ctx, job)
	}
	return nil
}

// Get checks the primary, then the secondary. Errors soften to ErrNotFound.
func (f *Fallback) Get(ctx context.Context, id string) (*models.VoiceJob, error) {
	job, err := f.primary.Get(ctx, id)
	if err == nil {
		return job, nil
	}
	if !errors.Is(err, ErrNotFound) {
		f.logger.Warn("primary store lookup failed",
			slog.String("job_id", id),
			slog.String("error", err.Error()),
		)
	}

	job, err = f.secondary.Get(ctx, id)
	if err != nil {
		return nil, ErrNotFound
	}
	return job, nil
}

// QueryByStatus merges results from both backends, preferring the primary
// for duplicate IDs.
func (f *Fallback) QueryByStatus(ctx context.Context, status models.JobStatus) ([]*models.VoiceJob, error) {
	return f.merge(
		func(s Store) ([]*models.VoiceJob, error) { return s.QueryByStatus(ctx, status) },
	), nil
}

// Delete removes the record from both backends. Failures are logged, not
// raised: the caller cannot act on a failed delete of advisory state.
func (f *Fallback) Delete(ctx context.Context, id string) error {
	for _, s := range []Store{f.primary, f.secondary} {
		if err := s.Delete(ctx, id); err != nil && !errors.Is(err, ErrNotFound) {
			f.logger.Warn("store delete failed",
				slog.String("job_id", id),
				slog.String("error", err.Error()),
			)
		}
	}
	return nil
}

// ListPending merges pending jobs from both backends.
func (f *Fallback) ListPending(ctx context.Context, maxAge time.Duration) ([]*models.VoiceJob, error) {
	return f.merge(
		func(s Store) ([]*models.VoiceJob, error) { return s.ListPending(ctx, maxAge) },
	), nil
}

// Close closes both backends.
func (f *Fallback) Close() error {
	return errors.Join(f.primary.Close(), f.secondary.Close())
}

// merge runs the query against both backends, deduplicating by job ID with
// the primary winning. A backend error degrades that backend's contribution
// to empty rather than failing the query.
func (f *Fallback) merge(query func(Store) ([]*models.VoiceJob, error)) []*models.VoiceJob {
	primaryJobs, err := query(f.primary)
	if err != nil {
		f.logger.Warn("primary store query failed", slog.String("error", err.Error()))
		primaryJobs = nil
	}

	secondaryJobs, err := query(f.secondary)
	if err != nil {
		f.logger.Warn("fallback store query failed", slog.String("error", err.Error()))
		secondaryJobs = nil
	}

	seen := make(map[string]struct{}, len(primaryJobs))
	out := make([]*models.VoiceJob, 0, len(primaryJobs)+len(secondaryJobs))
	for _, job := range primaryJobs {
		seen[job.ID] = struct{}{}
		out = append(out, job)
	}
	for _, job := range secondaryJobs {
		if _, dup := seen[job.ID]; dup {
			continue
		}
		out = append(out, job)
	}
	return out
}
