// Package pipeline is the entry point for the voice processing pipeline:
// submit a recording's transcript, retry a failed job, list unfinished
// work, and subscribe to status transitions.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ngandimoun/voicejobs/broadcast"
	"github.com/ngandimoun/voicejobs/models"
	"github.com/ngandimoun/voicejobs/store"
	"github.com/ngandimoun/voicejobs/worker"
)

// DefaultStaleAfter is the age past which unfinished jobs are excluded
// from resumption.
const DefaultStaleAfter = 24 * time.Hour

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithMaxAttempts sets the attempts ceiling applied to new jobs.
func WithMaxAttempts(n int) Option {
	return func(p *Pipeline) {
		if n > 0 {
			p.maxAttempts = n
		}
	}
}

// WithStaleAfter sets the staleness ceiling for resuming unfinished jobs.
func WithStaleAfter(d time.Duration) Option {
	return func(p *Pipeline) {
		if d > 0 {
			p.staleAfter = d
		}
	}
}

// Pipeline composes the store, orchestrator and broadcaster behind the
// operations external callers use. Construct it explicitly and share one
// instance per process; multiple processes may share the same store, in
// which case processing is at-least-once.
type Pipeline struct {
	store        store.Store
	orchestrator *worker.Orchestrator
	bus          broadcast.Broadcaster
	logger       *slog.Logger

	maxAttempts int
	staleAfter  time.Duration

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a pipeline over the given collaborators.
func New(st store.Store, orch *worker.Orchestrator, bus broadcast.Broadcaster, logger *slog.Logger, opts ...Option) *Pipeline {
	if logger == nil {
		logger = slog.Default()
	}

	ctx, cancel := context.WithCancel(context.Background())
	p := &Pipeline{
		store:        st,
		orchestrator: orch,
		bus:          bus,
		logger:       logger,
		maxAttempts:  worker.DefaultMaxAttempts,
		staleAfter:   DefaultStaleAfter,
		ctx:          ctx,
		cancel:       cancel,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Submit persists a new pending job and starts processing asynchronously.
// It returns as soon as the record is durable; completion is announced
// through the broadcaster, never as a return value.
func (p *Pipeline) Submit(ctx context.Context, sourceID string, payload models.JobPayload) (string, error) {
	job := &models.VoiceJob{
		ID:          uuid.New().String(),
		SourceID:    sourceID,
		Payload:     payload,
		Status:      models.StatusPending,
		MaxAttempts: p.maxAttempts,
		CreatedAt:   time.Now().UTC(),
	}

	if err := p.store.Put(ctx, job); err != nil {
		return "", fmt.Errorf("pipeline: persist job: %w", err)
	}

	p.logger.Info("job submitted",
		slog.String("job_id", job.ID),
		slog.String("source_id", sourceID),
	)
	p.spawn(job)
	return job.ID, nil
}

// RetryJob resets an existing job and resubmits it to the orchestrator.
// This is the only sanctioned transition out of a terminal state. A missing
// job is a logged no-op: the caller cannot know whether it was already
// swept.
func (p *Pipeline) RetryJob(ctx context.Context, jobID string) {
	job, err := p.store.Get(ctx, jobID)
	if err != nil {
		p.logger.Warn("retry requested for unknown job", slog.String("job_id", jobID))
		return
	}

	job.Status = models.StatusPending
	job.Attempts = 0
	job.LastError = ""
	job.Result = nil
	job.CompletedAt = nil

	if err := p.store.Put(ctx, job); err != nil {
		p.logger.Error("failed to reset job for retry",
			slog.String("job_id", jobID),
			slog.String("error", err.Error()),
		)
		return
	}

	p.logger.Info("job resubmitted", slog.String("job_id", jobID))
	p.spawn(job)
}

// Job returns a single job record.
func (p *Pipeline) Job(ctx context.Context, jobID string) (*models.VoiceJob, error) {
	return p.store.Get(ctx, jobID)
}

// ListPendingJobs returns unfinished jobs still eligible for resumption.
func (p *Pipeline) ListPendingJobs(ctx context.Context) []models.JobView {
	jobs, err := p.store.ListPending(ctx, p.staleAfter)
	if err != nil {
		p.logger.Warn("failed to list pending jobs", slog.String("error", err.Error()))
		return nil
	}

	views := make([]models.JobView, 0, len(jobs))
	for _, job := range jobs {
		views = append(views, job.View())
	}
	return views
}

// Subscribe registers a status listener; the returned func unsubscribes.
// Listeners joining after a transition do not see it retroactively and
// should reconcile via ListPendingJobs first.
func (p *Pipeline) Subscribe(handler func(broadcast.StatusUpdate)) func() {
	return p.bus.Subscribe(handler)
}

// Resume restarts processing for jobs left pending by an earlier run.
// Another context sharing the store may have picked the same jobs up
// already; the Processor contract absorbs the duplicates. Failed jobs are
// not resumed automatically, they wait for an explicit RetryJob.
func (p *Pipeline) Resume(ctx context.Context) int {
	jobs, err := p.store.ListPending(ctx, p.staleAfter)
	if err != nil {
		p.logger.Warn("failed to load unfinished jobs", slog.String("error", err.Error()))
		return 0
	}

	resumed := 0
	for _, job := range jobs {
		if job.Status != models.StatusPending {
			continue
		}
		p.spawn(job)
		resumed++
	}
	if resumed > 0 {
		p.logger.Info("resumed unfinished jobs", slog.Int("count", resumed))
	}
	return resumed
}

// Close stops background processing and waits for in-flight orchestrators
// to yield. Jobs abandoned mid-backoff stay non-terminal and are resumed
// on the next start.
func (p *Pipeline) Close() {
	p.cancel()
	p.wg.Wait()
}

func (p *Pipeline) spawn(job *models.VoiceJob) {
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		p.orchestrator.Run(p.ctx, job)
	}()
}
