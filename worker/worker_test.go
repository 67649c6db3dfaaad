package worker_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/ngandimoun/voicejobs/backoff"
	"github.com/ngandimoun/voicejobs/broadcast"
	"github.com/ngandimoun/voicejobs/models"
	"github.com/ngandimoun/voicejobs/store"
	"github.com/ngandimoun/voicejobs/worker"
)

// fakeProcessor fails the first failures calls, then succeeds with result.
type fakeProcessor struct {
	mu       sync.Mutex
	failures int
	err      error
	result   models.JobResult
	calls    int
}

func (p *fakeProcessor) Process(_ context.Context, _ models.JobPayload) (models.JobResult, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls++
	if p.calls <= p.failures {
		return models.JobResult{}, p.err
	}
	return p.result, nil
}

func (p *fakeProcessor) callCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls
}

// recordingStore wraps a store and snapshots every Put for invariant checks.
type recordingStore struct {
	store.Store
	mu        sync.Mutex
	snapshots []*models.VoiceJob
}

func (r *recordingStore) Put(ctx context.Context, job *models.VoiceJob) error {
	r.mu.Lock()
	r.snapshots = append(r.snapshots, job.Clone())
	r.mu.Unlock()
	return r.Store.Put(ctx, job)
}

func (r *recordingStore) all() []*models.VoiceJob {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]*models.VoiceJob(nil), r.snapshots...)
}

func newJob(maxAttempts int) *models.VoiceJob {
	return &models.VoiceJob{
		ID:          "job-1",
		SourceID:    "rec-1",
		Payload:     models.JobPayload{Transcript: "buy milk"},
		Status:      models.StatusPending,
		MaxAttempts: maxAttempts,
		CreatedAt:   time.Now().UTC(),
	}
}

func collectUpdates(t *testing.T, bus broadcast.Broadcaster) <-chan broadcast.StatusUpdate {
	t.Helper()
	ch := make(chan broadcast.StatusUpdate, 32)
	t.Cleanup(bus.Subscribe(func(u broadcast.StatusUpdate) { ch <- u }))
	return ch
}

func nextUpdate(t *testing.T, ch <-chan broadcast.StatusUpdate) broadcast.StatusUpdate {
	t.Helper()
	select {
	case u := <-ch:
		return u
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for status update")
		return broadcast.StatusUpdate{}
	}
}

func TestRunSuccessFirstAttempt(t *testing.T) {
	st := store.NewMemory()
	bus := broadcast.NewBus(nil)
	updates := collectUpdates(t, bus)

	proc := &fakeProcessor{result: models.JobResult{TaskCount: 1, NoteCount: 0}}
	orch := worker.NewOrchestrator(st, bus, proc, backoff.NewSchedule(time.Millisecond), nil)

	job := newJob(3)
	orch.Run(context.Background(), job)

	if u := nextUpdate(t, updates); u.Status != models.StatusProcessing {
		t.Fatalf("first broadcast = %s, want processing", u.Status)
	}
	u := nextUpdate(t, updates)
	if u.Status != models.StatusCompleted {
		t.Fatalf("second broadcast = %s, want completed", u.Status)
	}
	if u.Result == nil || u.Result.TaskCount != 1 {
		t.Fatalf("completed broadcast result = %+v, want TaskCount 1", u.Result)
	}

	stored, err := st.Get(context.Background(), "job-1")
	if err != nil {
		t.Fatalf("get job: %v", err)
	}
	if stored.Status != models.StatusCompleted {
		t.Fatalf("status = %s, want completed", stored.Status)
	}
	if stored.Attempts != 1 {
		t.Fatalf("attempts = %d, want 1", stored.Attempts)
	}
	if stored.Result == nil || stored.Result.TaskCount != 1 || stored.Result.NoteCount != 0 {
		t.Fatalf("result = %+v, want {1 0}", stored.Result)
	}
	if stored.CompletedAt == nil {
		t.Fatal("completedAt not set on terminal job")
	}
	if stored.LastError != "" {
		t.Fatalf("error = %q, want cleared", stored.LastError)
	}
}

func TestRunExhaustsRetries(t *testing.T) {
	st := store.NewMemory()
	bus := broadcast.NewBus(nil)
	updates := collectUpdates(t, bus)

	proc := &fakeProcessor{failures: 99, err: errors.New("timeout")}
	orch := worker.NewOrchestrator(st, bus, proc, backoff.NewSchedule(time.Millisecond), nil)

	job := newJob(3)
	orch.Run(context.Background(), job)

	if got := proc.callCount(); got != 3 {
		t.Fatalf("processor calls = %d, want 3", got)
	}

	if u := nextUpdate(t, updates); u.Status != models.StatusProcessing {
		t.Fatalf("first broadcast = %s, want processing", u.Status)
	}
	u := nextUpdate(t, updates)
	if u.Status != models.StatusFailed {
		t.Fatalf("final broadcast = %s, want failed", u.Status)
	}
	if u.Error != "timeout" {
		t.Fatalf("failed broadcast error = %q, want %q", u.Error, "timeout")
	}

	stored, err := st.Get(context.Background(), "job-1")
	if err != nil {
		t.Fatalf("get job: %v", err)
	}
	if stored.Status != models.StatusFailed {
		t.Fatalf("status = %s, want failed", stored.Status)
	}
	if stored.Attempts != 3 {
		t.Fatalf("attempts = %d, want 3", stored.Attempts)
	}
	if stored.LastError != "timeout" {
		t.Fatalf("error = %q, want %q", stored.LastError, "timeout")
	}
	if stored.CompletedAt == nil {
		t.Fatal("completedAt not set on failed job")
	}
	if stored.Result != nil {
		t.Fatalf("result = %+v, want nil on failure", stored.Result)
	}
}

func TestRunRecoversAfterTransientFailures(t *testing.T) {
	st := store.NewMemory()
	bus := broadcast.NewBus(nil)

	proc := &fakeProcessor{failures: 2, err: errors.New("flaky"), result: models.JobResult{TaskCount: 2, NoteCount: 1}}
	orch := worker.NewOrchestrator(st, bus, proc, backoff.NewSchedule(time.Millisecond), nil)

	job := newJob(3)
	orch.Run(context.Background(), job)

	stored, err := st.Get(context.Background(), "job-1")
	if err != nil {
		t.Fatalf("get job: %v", err)
	}
	if stored.Status != models.StatusCompleted {
		t.Fatalf("status = %s, want completed", stored.Status)
	}
	if stored.Attempts != 3 {
		t.Fatalf("attempts = %d, want 3", stored.Attempts)
	}
	if stored.LastError != "" {
		t.Fatalf("error = %q, want cleared after success", stored.LastError)
	}
}

func TestRunObservesBackoffSchedule(t *testing.T) {
	st := store.NewMemory()
	bus := broadcast.NewBus(nil)

	proc := &fakeProcessor{failures: 99, err: errors.New("timeout")}
	orch := worker.NewOrchestrator(st, bus, proc, backoff.NewSchedule(30*time.Millisecond, 60*time.Millisecond), nil)

	start := time.Now()
	orch.Run(context.Background(), newJob(3))
	elapsed := time.Since(start)

	// Two waits: 30ms after attempt 1, 60ms (clamped schedule) after attempt 2.
	if elapsed < 90*time.Millisecond {
		t.Fatalf("elapsed = %v, want at least 90ms of backoff", elapsed)
	}
}

func TestRunInvariantsAcrossPersistedStates(t *testing.T) {
	rec := &recordingStore{Store: store.NewMemory()}
	bus := broadcast.NewBus(nil)

	proc := &fakeProcessor{failures: 99, err: errors.New("timeout")}
	orch := worker.NewOrchestrator(rec, bus, proc, backoff.NewSchedule(time.Millisecond), nil)

	orch.Run(context.Background(), newJob(3))

	rank := map[models.JobStatus]int{
		models.StatusPending:    0,
		models.StatusProcessing: 1,
		models.StatusCompleted:  2,
		models.StatusFailed:     2,
	}

	prevRank := 0
	prevAttempts := 0
	for i, snap := range rec.all() {
		if snap.Attempts > snap.MaxAttempts {
			t.Fatalf("snapshot %d: attempts %d exceeds max %d", i, snap.Attempts, snap.MaxAttempts)
		}
		if snap.Attempts < prevAttempts {
			t.Fatalf("snapshot %d: attempts regressed %d -> %d", i, prevAttempts, snap.Attempts)
		}
		if rank[snap.Status] < prevRank {
			t.Fatalf("snapshot %d: status regressed to %s", i, snap.Status)
		}
		if (snap.CompletedAt != nil) != snap.Status.IsTerminal() {
			t.Fatalf("snapshot %d: completedAt set = %v but status = %s", i, snap.CompletedAt != nil, snap.Status)
		}
		if (snap.Result != nil) != (snap.Status == models.StatusCompleted) {
			t.Fatalf("snapshot %d: result set = %v but status = %s", i, snap.Result != nil, snap.Status)
		}
		prevRank = rank[snap.Status]
		prevAttempts = snap.Attempts
	}
}

func TestRunStopsDuringBackoffOnCancel(t *testing.T) {
	st := store.NewMemory()
	bus := broadcast.NewBus(nil)

	proc := &fakeProcessor{failures: 99, err: errors.New("timeout")}
	orch := worker.NewOrchestrator(st, bus, proc, backoff.NewSchedule(time.Hour), nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		orch.Run(ctx, newJob(3))
		close(done)
	}()

	// Give the first attempt time to fail and enter backoff.
	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancellation")
	}

	stored, err := st.Get(context.Background(), "job-1")
	if err != nil {
		t.Fatalf("get job: %v", err)
	}
	if stored.Status.IsTerminal() {
		t.Fatalf("status = %s, want non-terminal after abandon", stored.Status)
	}
	if stored.Attempts != 1 {
		t.Fatalf("attempts = %d, want 1", stored.Attempts)
	}
}
