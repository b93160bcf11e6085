package generation

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/clipcraft/clipcraft-api/internal/pkg/logger"
	"github.com/clipcraft/clipcraft-api/internal/pkg/metrics"
)

const DefaultJobRetention = time.Hour

// Runner executes one generation attempt.
type Runner interface {
	Generate(ctx context.Context, accountID uuid.UUID, req Request, reference string, progress ProgressFunc) Result
}

// ProgressEvent is pushed to job subscribers.
type ProgressEvent struct {
	JobID    uuid.UUID `json:"job_id"`
	Status   JobStatus `json:"status"`
	Progress float64   `json:"progress"`
	Result   *Result   `json:"result,omitempty"`
}

type jobEntry struct {
	job  Job
	subs map[chan ProgressEvent]struct{}
}

// JobTracker runs generations in the background and keeps their state in
// memory. Jobs are detached from the caller's context: abandoning the HTTP
// request never cancels the remote operation.
type JobTracker struct {
	runner    Runner
	retention time.Duration
	now       func() time.Time

	mu   sync.RWMutex
	jobs map[uuid.UUID]*jobEntry
	wg   sync.WaitGroup
}

func NewJobTracker(runner Runner, retention time.Duration) *JobTracker {
	if retention <= 0 {
		retention = DefaultJobRetention
	}
	return &JobTracker{
		runner:    runner,
		retention: retention,
		now:       time.Now,
		jobs:      make(map[uuid.UUID]*jobEntry),
	}
}

// Start queues a job and returns its initial snapshot.
func (t *JobTracker) Start(ctx context.Context, accountID uuid.UUID, req Request) Job {
	t.Sweep()

	now := t.now()
	job := Job{
		ID:        uuid.New(),
		AccountID: accountID,
		Prompt:    req.Prompt,
		Status:    JobQueued,
		CreatedAt: now,
		UpdatedAt: now,
	}

	t.mu.Lock()
	t.jobs[job.ID] = &jobEntry{job: job, subs: make(map[chan ProgressEvent]struct{})}
	t.mu.Unlock()

	bg := logger.WithFields(context.WithoutCancel(ctx), map[string]string{"job_id": job.ID.String()})

	t.wg.Add(1)
	metrics.JobStarted()
	go func() {
		defer t.wg.Done()
		defer metrics.JobFinished()

		t.update(job.ID, func(j *Job) { j.Status = JobRunning })
		result := t.runner.Generate(bg, accountID, req, job.ID.String(), func(p float64) {
			t.update(job.ID, func(j *Job) {
				if p > j.Progress {
					j.Progress = p
				}
			})
		})
		t.finish(job.ID, result)
	}()

	return job
}

// Get returns a snapshot of the job.
func (t *JobTracker) Get(id uuid.UUID) (Job, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	e, ok := t.jobs[id]
	if !ok {
		return Job{}, false
	}
	return e.job, true
}

// Subscribe returns the current snapshot and a channel of later events. The
// channel is closed once the job is terminal; cancel detaches early.
func (t *JobTracker) Subscribe(id uuid.UUID) (snapshot Job, events <-chan ProgressEvent, cancel func(), ok bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	e, found := t.jobs[id]
	if !found {
		return Job{}, nil, func() {}, false
	}

	ch := make(chan ProgressEvent, 16)
	if e.job.Status.Terminal() {
		close(ch)
		return e.job, ch, func() {}, true
	}

	e.subs[ch] = struct{}{}
	cancel = func() {
		t.mu.Lock()
		defer t.mu.Unlock()
		if _, still := e.subs[ch]; still {
			delete(e.subs, ch)
			close(ch)
		}
	}
	return e.job, ch, cancel, true
}

// Sweep drops terminal jobs older than the retention window.
func (t *JobTracker) Sweep() {
	cutoff := t.now().Add(-t.retention)

	t.mu.Lock()
	defer t.mu.Unlock()
	for id, e := range t.jobs {
		if e.job.Status.Terminal() && e.job.UpdatedAt.Before(cutoff) {
			delete(t.jobs, id)
		}
	}
}

// Shutdown waits for running jobs or until ctx is done.
func (t *JobTracker) Shutdown(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		t.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (t *JobTracker) update(id uuid.UUID, mutate func(*Job)) {
	t.mu.Lock()
	defer t.mu.Unlock()

	e, ok := t.jobs[id]
	if !ok {
		return
	}
	before := e.job
	mutate(&e.job)
	if e.job.Status == before.Status && e.job.Progress == before.Progress {
		return
	}
	e.job.UpdatedAt = t.now()
	t.publish(e, ProgressEvent{JobID: id, Status: e.job.Status, Progress: e.job.Progress})
}

func (t *JobTracker) finish(id uuid.UUID, result Result) {
	view := result
	if view.Metadata != nil {
		md := *view.Metadata
		md.RawResponse = nil
		view.Metadata = &md
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	e, ok := t.jobs[id]
	if !ok {
		return
	}

	e.job.Result = &view
	e.job.UpdatedAt = t.now()
	if result.Success {
		e.job.Status = JobSucceeded
		e.job.Progress = 100
	} else {
		e.job.Status = JobFailed
	}

	t.publish(e, ProgressEvent{JobID: id, Status: e.job.Status, Progress: e.job.Progress, Result: &view})
	for ch := range e.subs {
		close(ch)
	}
	e.subs = make(map[chan ProgressEvent]struct{})
}

// publish never blocks; slow subscribers miss intermediate events. Caller holds t.mu.
func (t *JobTracker) publish(e *jobEntry, ev ProgressEvent) {
	for ch := range e.subs {
		select {
		case ch <- ev:
		default:
		}
	}
}
