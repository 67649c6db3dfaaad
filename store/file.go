package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/ngandimoun/voicejobs/models"
)

var _ Store = (*File)(nil)

// File persists each job record as one JSON document in a data directory.
// It is the flat fallback backend used when the structured store is
// unavailable, and the sole backend when no database is configured.
type File struct {
	dir    string
	logger *slog.Logger
}

// NewFile creates a file store rooted at dir, creating it if needed.
func NewFile(dir string, logger *slog.Logger) (*File, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("store: create data directory: %w", err)
	}
	return &File{dir: dir, logger: logger}, nil
}

func (f *File) path(id string) string {
	return filepath.Join(f.dir, id+".json")
}

// Put writes the job record to disk.
func (f *File) Put(_ context.Context, job *models.VoiceJob) error {
	data, err := json.MarshalIndent(job, "", "  ")
	if err != nil {
		return fmt.Errorf("store: marshal job %s: %w", job.ID, err)
	}
	if err := os.WriteFile(f.path(job.ID), data, 0o644); err != nil {
		return fmt.Errorf("store: write job %s: %w", job.ID, err)
	}
	return nil
}

// Get reads a job record from disk.
func (f *File) Get(_ context.Context, id string) (*models.VoiceJob, error) {
	data, err := os.ReadFile(f.path(id))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("store: read job %s: %w", id, err)
	}

	var job models.VoiceJob
	if err := json.Unmarshal(data, &job); err != nil {
		return nil, fmt.Errorf("store: unmarshal job %s: %w", id, err)
	}
	return &job, nil
}

// QueryByStatus scans the data directory for jobs in the given status.
func (f *File) QueryByStatus(_ context.Context, status models.JobStatus) ([]*models.VoiceJob, error) {
	jobs, err := f.loadAll()
	if err != nil {
		return nil, err
	}

	out := jobs[:0]
	for _, job := range jobs {
		if job.Status == status {
			out = append(out, job)
		}
	}
	return out, nil
}

// Delete removes the job file.
func (f *File) Delete(_ context.Context, id string) error {
	if err := os.Remove(f.path(id)); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return ErrNotFound
		}
		return fmt.Errorf("store: delete job %s: %w", id, err)
	}
	return nil
}

// ListPending returns pending and failed jobs younger than maxAge.
func (f *File) ListPending(_ context.Context, maxAge time.Duration) ([]*models.VoiceJob, error) {
	jobs, err := f.loadAll()
	if err != nil {
		return nil, err
	}

	cutoff := time.Now().Add(-maxAge)
	out := jobs[:0]
	for _, job := range jobs {
		if job.Status != models.StatusPending && job.Status != models.StatusFailed {
			continue
		}
		if job.CreatedAt.Before(cutoff) {
			continue
		}
		out = append(out, job)
	}
	return out, nil
}

// Close is a no-op for the file store.
func (f *File) Close() error { return nil }

// loadAll reads every job file, skipping entries that cannot be parsed.
func (f *File) loadAll() ([]*models.VoiceJob, error) {
	entries, err := os.ReadDir(f.dir)
	if err != nil {
		return nil, fmt.Errorf("store: read data directory: %w", err)
	}

	jobs := make([]*models.VoiceJob, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}

		path := filepath.Join(f.dir, entry.Name())
		data, err := os.ReadFile(path)
		if err != nil {
			f.logger.Warn("failed to read job file", slog.String("path", path), slog.String("error", err.Error()))
			continue
		}

		var job models.VoiceJob
		if err := json.Unmarshal(data, &job); err != nil {
			f.logger.Warn("skipping corrupt job file", slog.String("path", path), slog.String("error", err.Error()))
			continue
		}
		jobs = append(jobs, &job)
	}
	sortByCreatedAt(jobs)
	return jobs, nil
}
