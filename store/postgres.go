package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ngandimoun/voicejobs/models"
)

var _ Store = (*Postgres)(nil)

const jobColumns = `id, source_id, transcript, summary, status, attempts, max_attempts,
	last_error, task_count, note_count, created_at, completed_at`

const schema = `
CREATE TABLE IF NOT EXISTS voice_jobs (
	id           TEXT PRIMARY KEY,
	source_id    TEXT NOT NULL,
	transcript   TEXT NOT NULL,
	summary      TEXT NOT NULL DEFAULT '',
	status       TEXT NOT NULL,
	attempts     INT NOT NULL DEFAULT 0,
	max_attempts INT NOT NULL DEFAULT 3,
	last_error   TEXT NOT NULL DEFAULT '',
	task_count   INT,
	note_count   INT,
	created_at   TIMESTAMPTZ NOT NULL,
	completed_at TIMESTAMPTZ
);
CREATE INDEX IF NOT EXISTS voice_jobs_status_idx ON voice_jobs (status);
`

// Postgres is the primary structured backend, backed by a pgx pool.
type Postgres struct {
	pool *pgxpool.Pool
}

// NewPostgres creates the Postgres store and ensures the schema exists.
func NewPostgres(ctx context.Context, pool *pgxpool.Pool) (*Postgres, error) {
	if _, err := pool.Exec(ctx, schema); err != nil {
		return nil, fmt.Errorf("store: ensure schema: %w", err)
	}
	return &Postgres{pool: pool}, nil
}

// Put upserts a job record.
func (p *Postgres) Put(ctx context.Context, job *models.VoiceJob) error {
	var taskCount, noteCount *int
	if job.Result != nil {
		taskCount = &job.Result.TaskCount
		noteCount = &job.Result.NoteCount
	}

	_, err := p.pool.Exec(ctx, `
		INSERT INTO voice_jobs (`+jobColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		ON CONFLICT (id) DO UPDATE SET
			status = EXCLUDED.status,
			attempts = EXCLUDED.attempts,
			last_error = EXCLUDED.last_error,
			task_count = EXCLUDED.task_count,
			note_count = EXCLUDED.note_count,
			completed_at = EXCLUDED.completed_at`,
		job.ID, job.SourceID, job.Payload.Transcript, job.Payload.Summary,
		string(job.Status), job.Attempts, job.MaxAttempts, job.LastError,
		taskCount, noteCount, job.CreatedAt, job.CompletedAt,
	)
	if err != nil {
		return fmt.Errorf("store: put job %s: %w", job.ID, err)
	}
	return nil
}

// Get retrieves a job by ID.
func (p *Postgres) Get(ctx context.Context, id string) (*models.VoiceJob, error) {
	row := p.pool.QueryRow(ctx, `
		SELECT `+jobColumns+`
		FROM voice_jobs
		WHERE id = $1`,
		id,
	)

	job, err := scanJob(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("store: get job %s: %w", id, err)
	}
	return job, nil
}

// QueryByStatus returns all jobs in the given status, ordered by creation time.
func (p *Postgres) QueryByStatus(ctx context.Context, status models.JobStatus) ([]*models.VoiceJob, error) {
	rows, err := p.pool.Query(ctx, `
		SELECT `+jobColumns+`
		FROM voice_jobs
		WHERE status = $1
		ORDER BY created_at`,
		string(status),
	)
	if err != nil {
		return nil, fmt.Errorf("store: query jobs by status: %w", err)
	}
	defer rows.Close()

	return collectJobs(rows)
}

// Delete removes a job by ID.
func (p *Postgres) Delete(ctx context.Context, id string) error {
	tag, err := p.pool.Exec(ctx, `DELETE FROM voice_jobs WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("store: delete job %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// ListPending returns pending and failed jobs younger than maxAge.
func (p *Postgres) ListPending(ctx context.Context, maxAge time.Duration) ([]*models.VoiceJob, error) {
	rows, err := p.pool.Query(ctx, `
		SELECT `+jobColumns+`
		FROM voice_jobs
		WHERE status IN ('pending', 'failed')
		  AND created_at > $1
		ORDER BY created_at`,
		time.Now().Add(-maxAge),
	)
	if err != nil {
		return nil, fmt.Errorf("store: list pending jobs: %w", err)
	}
	defer rows.Close()

	return collectJobs(rows)
}

// Close closes the underlying pool.
func (p *Postgres) Close() error {
	p.pool.Close()
	return nil
}

func scanJob(row pgx.Row) (*models.VoiceJob, error) {
	var (
		job       models.VoiceJob
		status    string
		taskCount *int
		noteCount *int
	)
	err := row.Scan(
		&job.ID, &job.SourceID, &job.Payload.Transcript, &job.Payload.Summary,
		&status, &job.Attempts, &job.MaxAttempts, &job.LastError,
		&taskCount, &noteCount, &job.CreatedAt, &job.CompletedAt,
	)
	if err != nil {
		return nil, err
	}

	job.Status = models.JobStatus(status)
	if taskCount != nil && noteCount != nil {
		job.Result = &models.JobResult{TaskCount: *taskCount, NoteCount: *noteCount}
	}
	return &job, nil
}

func collectJobs(rows pgx.Rows) ([]*models.VoiceJob, error) {
	var jobs []*models.VoiceJob
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("store: scan job: %w", err)
		}
		jobs = append(jobs, job)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: iterate jobs: %w", err)
	}
	return jobs, nil
}
