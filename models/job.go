package models

import (
	"time"
)

// JobStatus represents the current state of a job in the pipeline
type JobStatus string

const (
	StatusPending    JobStatus = "pending"
	StatusProcessing JobStatus = "processing"
	StatusCompleted  JobStatus = "completed"
	StatusFailed     JobStatus = "failed"
)

// IsTerminal reports whether no further automatic transitions occur.
func (s JobStatus) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// JobPayload is the input handed to the Processor: the transcript of a
// captured recording plus an optional precomputed summary.
type JobPayload struct {
	Transcript string `json:"transcript"`
	Summary    string `json:"summary,omitempty"`
}

// JobResult summarizes the artifacts derived from a completed job.
type JobResult struct {
	TaskCount int `json:"task_count"`
	NoteCount int `json:"note_count"`
}

// VoiceJob represents one captured recording moving through the pipeline.
// Status, Attempts, LastError, Result and CompletedAt are mutated only by
// the orchestrator; everything else is fixed at creation.
type VoiceJob struct {
	ID          string     `json:"id"`
	SourceID    string     `json:"source_id"`
	Payload     JobPayload `json:"payload"`
	Status      JobStatus  `json:"status"`
	Attempts    int        `json:"attempts"`
	MaxAttempts int        `json:"max_attempts"`
	LastError   string     `json:"last_error,omitempty"`
	Result      *JobResult `json:"result,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// Clone returns a deep copy of the job.
func (j *VoiceJob) Clone() *VoiceJob {
	cp := *j
	if j.Result != nil {
		r := *j.Result
		cp.Result = &r
	}
	if j.CompletedAt != nil {
		t := *j.CompletedAt
		cp.CompletedAt = &t
	}
	return &cp
}

// JobView is the read-only projection returned to API callers.
type JobView struct {
	ID        string    `json:"id"`
	Status    JobStatus `json:"status"`
	Attempts  int       `json:"attempts"`
	CreatedAt time.Time `json:"created_at"`
	Error     string    `json:"error,omitempty"`
}

// View builds the caller-facing projection of the job.
func (j *VoiceJob) View() JobView {
	return JobView{
		ID:        j.ID,
		Status:    j.Status,
		Attempts:  j.Attempts,
		CreatedAt: j.CreatedAt,
		Error:     j.LastError,
	}
}
