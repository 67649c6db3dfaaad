package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/ngandimoun/voicejobs/models"
)

var _ Store = (*Memory)(nil)

// Memory is a fully in-memory Store. Safe for concurrent access.
// Intended for unit testing and development.
type Memory struct {
	mu   sync.RWMutex
	jobs map[string]*models.VoiceJob
}

// NewMemory returns a new empty Memory store.
func NewMemory() *Memory {
	return &Memory{jobs: make(map[string]*models.VoiceJob)}
}

// Put upserts a job record.
func (m *Memory) Put(_ context.Context, job *models.VoiceJob) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.jobs[job.ID] = job.Clone()
	return nil
}

// Get retrieves a job by ID.
func (m *Memory) Get(_ context.Context, id string) (*models.VoiceJob, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	job, ok := m.jobs[id]
	if !ok {
		return nil, ErrNotFound
	}
	return job.Clone(), nil
}

// QueryByStatus returns all jobs in the given status, ordered by creation time.
func (m *Memory) QueryByStatus(_ context.Context, status models.JobStatus) ([]*models.VoiceJob, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []*models.VoiceJob
	for _, job := range m.jobs {
		if job.Status == status {
			out = append(out, job.Clone())
		}
	}
	sortByCreatedAt(out)
	return out, nil
}

// Delete removes a job by ID.
func (m *Memory) Delete(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.jobs[id]; !ok {
		return ErrNotFound
	}
	delete(m.jobs, id)
	return nil
}

// ListPending returns pending and failed jobs younger than maxAge.
func (m *Memory) ListPending(_ context.Context, maxAge time.Duration) ([]*models.VoiceJob, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	cutoff := time.Now().Add(-maxAge)
	var out []*models.VoiceJob
	for _, job := range m.jobs {
		if job.Status != models.StatusPending && job.Status != models.StatusFailed {
			continue
		}
		if job.CreatedAt.Before(cutoff) {
			continue
		}
		out = append(out, job.Clone())
	}
	sortByCreatedAt(out)
	return out, nil
}

// Close is a no-op for the memory store.
func (m *Memory) Close() error { return nil }

func sortByCreatedAt(jobs []*models.VoiceJob) {
	sort.Slice(jobs, func(i, j int) bool {
		return jobs[i].CreatedAt.Before(jobs[j].CreatedAt)
	})
}
