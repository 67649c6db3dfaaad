// Package worker drives a job record through its state machine: pickup,
// bounded retries with backoff, and a terminal completed or failed state.
package worker

import (
	"context"
	"log/slog"
	"time"

	"github.com/ngandimoun/voicejobs/backoff"
	"github.com/ngandimoun/voicejobs/broadcast"
	"github.com/ngandimoun/voicejobs/models"
	"github.com/ngandimoun/voicejobs/store"
)

// DefaultMaxAttempts is the attempts ceiling applied when a job carries none.
const DefaultMaxAttempts = 3

// Processor performs the remote extraction work for one job. Process must
// be safe to invoke more than once for the same payload: the pipeline
// guarantees at-least-once execution, not exactly-once, because two
// contexts may pick up the same pending job without coordination.
type Processor interface {
	Process(ctx context.Context, payload models.JobPayload) (models.JobResult, error)
}

// Orchestrator processes jobs with bounded retries. It is the only writer
// of a job's status, attempts, result and error fields.
type Orchestrator struct {
	store   store.Store
	bus     broadcast.Broadcaster
	proc    Processor
	backoff backoff.Strategy
	logger  *slog.Logger
}

// NewOrchestrator creates an orchestrator over the given collaborators.
func NewOrchestrator(st store.Store, bus broadcast.Broadcaster, proc Processor, bo backoff.Strategy, logger *slog.Logger) *Orchestrator {
	if bo == nil {
		bo = backoff.Default()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Orchestrator{store: st, bus: bus, proc: proc, backoff: bo, logger: logger}
}

// Run processes one job to a terminal state. Attempts within this call are
// strictly sequential. Each attempt is persisted before the Processor is
// invoked, so a crash mid-attempt leaves the count reflecting work that may
// have reached the remote side; duplicate execution is preferred over lost
// work. Cancelling ctx abandons the job mid-backoff without a terminal
// transition; a later Resume picks it up again.
func (o *Orchestrator) Run(ctx context.Context, j *models.VoiceJob) {
	if j.MaxAttempts <= 0 {
		j.MaxAttempts = DefaultMaxAttempts
	}

	j.Status = models.StatusProcessing
	o.persist(ctx, j)
	o.bus.Publish(broadcast.StatusUpdate{JobID: j.ID, Status: j.Status})
	o.logger.Info("job picked up",
		slog.String("job_id", j.ID),
		slog.String("source_id", j.SourceID),
	)

	// Already exhausted, e.g. recovered after a crash on the last attempt.
	if j.Attempts >= j.MaxAttempts {
		o.fail(ctx, j)
		return
	}

	for j.Attempts < j.MaxAttempts {
		j.Attempts++
		o.persist(ctx, j)

		result, err := o.proc.Process(ctx, j.Payload)
		if err == nil {
			o.complete(ctx, j, result)
			return
		}

		j.LastError = err.Error()
		o.logger.Warn("processing attempt failed",
			slog.String("job_id", j.ID),
			slog.Int("attempt", j.Attempts),
			slog.String("error", j.LastError),
		)

		if j.Attempts >= j.MaxAttempts {
			o.fail(ctx, j)
			return
		}

		o.persist(ctx, j)
		select {
		case <-time.After(o.backoff.Delay(j.Attempts)):
		case <-ctx.Done():
			o.logger.Info("orchestrator stopped during backoff", slog.String("job_id", j.ID))
			return
		}
	}
}

func (o *Orchestrator) complete(ctx context.Context, j *models.VoiceJob, result models.JobResult) {
	now := time.Now().UTC()
	j.Status = models.StatusCompleted
	j.Result = &result
	j.LastError = ""
	j.CompletedAt = &now
	o.persist(ctx, j)

	o.bus.Publish(broadcast.StatusUpdate{JobID: j.ID, Status: j.Status, Result: j.Result})
	o.logger.Info("job completed",
		slog.String("job_id", j.ID),
		slog.Int("attempts", j.Attempts),
		slog.Int("tasks", result.TaskCount),
		slog.Int("notes", result.NoteCount),
	)
}

func (o *Orchestrator) fail(ctx context.Context, j *models.VoiceJob) {
	now := time.Now().UTC()
	j.Status = models.StatusFailed
	j.Result = nil
	j.CompletedAt = &now
	o.persist(ctx, j)

	o.bus.Publish(broadcast.StatusUpdate{JobID: j.ID, Status: j.Status, Error: j.LastError})
	o.logger.Warn("job failed permanently",
		slog.String("job_id", j.ID),
		slog.Int("attempts", j.Attempts),
		slog.String("error", j.LastError),
	)
}

// persist writes the job state. Storage is advisory: an error is logged and
// processing continues rather than losing the in-flight attempt.
func (o *Orchestrator) persist(ctx context.Context, j *models.VoiceJob) {
	if err := o.store.Put(ctx, j); err != nil {
		o.logger.Error("failed to persist job state",
			slog.String("job_id", j.ID),
			slog.String("status", string(j.Status)),
			slog.String("error", err.Error()),
		)
	}
}
