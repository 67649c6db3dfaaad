// Package store provides durable persistence for job records. The primary
// backend is Postgres; a flat file backend serves as the degraded fallback
// and an in-memory backend supports tests and development.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/ngandimoun/voicejobs/models"
)

// ErrNotFound is returned when no job record exists for the given ID.
var ErrNotFound = errors.New("store: job not found")

// Store defines the persistence contract for job records.
type Store interface {
	// Put upserts a job record.
	Put(ctx context.Context, job *models.VoiceJob) error

	// Get retrieves a job by ID, returning ErrNotFound when absent.
	Get(ctx context.Context, id string) (*models.VoiceJob, error)

	// QueryByStatus returns all jobs in the given status.
	QueryByStatus(ctx context.Context, status models.JobStatus) ([]*models.VoiceJob, error)

	// Delete removes a job by ID, returning ErrNotFound when absent.
	Delete(ctx context.Context, id string) error

	// ListPending returns pending and failed jobs younger than maxAge.
	// Jobs past the ceiling are excluded so stale work is never silently
	// resumed.
	ListPending(ctx context.Context, maxAge time.Duration) ([]*models.VoiceJob, error)

	// Close releases any resources held by the store.
	Close() error
}
