package generation

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"
)

// gatedRunner holds each generation until proceed is closed.
type gatedRunner struct {
	proceed chan struct{}
	result  Result
	ctxErr  chan error
}

func newGatedRunner(result Result) *gatedRunner {
	return &gatedRunner{proceed: make(chan struct{}), result: result, ctxErr: make(chan error, 1)}
}

func (r *gatedRunner) Generate(ctx context.Context, _ uuid.UUID, _ Request, _ string, progress ProgressFunc) Result {
	<-r.proceed
	progress(10)
	progress(50)
	progress(40)
	r.ctxErr <- ctx.Err()
	return r.result
}

func drain(t *testing.T, events <-chan ProgressEvent) []ProgressEvent {
	t.Helper()
	var out []ProgressEvent
	timeout := time.After(2 * time.Second)
	for {
		select {
		case ev, open := <-events:
			if !open {
				return out
			}
			out = append(out, ev)
		case <-timeout:
			t.Fatal("timed out waiting for job events")
		}
	}
}

func successResult() Result {
	return Result{
		Success:  true,
		VideoURL: "https://cdn.example.com/v.mp4",
		Metadata: &Metadata{ProviderID: ProviderGoogleVeo, RawResponse: json.RawMessage(`{"videos":[]}`)},
	}
}

func TestJobTrackerRunsToSuccess(t *testing.T) {
	runner := newGatedRunner(successResult())
	tracker := NewJobTracker(runner, time.Hour)
	accountID := uuid.New()

	job := tracker.Start(context.Background(), accountID, Request{Prompt: "a cat"})
	if job.Status != JobQueued || job.AccountID != accountID {
		t.Fatalf("unexpected initial job: %+v", job)
	}

	_, events, cancel, ok := tracker.Subscribe(job.ID)
	if !ok {
		t.Fatal("expected job to exist")
	}
	defer cancel()

	close(runner.proceed)
	seen := drain(t, events)

	last := seen[len(seen)-1]
	if last.Status != JobSucceeded || last.Result == nil || last.Progress != 100 {
		t.Fatalf("unexpected terminal event: %+v", last)
	}
	for i := 1; i < len(seen); i++ {
		if seen[i].Progress < seen[i-1].Progress {
			t.Fatalf("progress decreased: %+v", seen)
		}
	}

	final, _ := tracker.Get(job.ID)
	if final.Status != JobSucceeded || final.Result.Metadata.RawResponse != nil {
		t.Fatalf("expected succeeded job without raw response, got %+v", final)
	}
	if err := tracker.Shutdown(context.Background()); err != nil {
		t.Fatalf("shutdown: %v", err)
	}
}

func TestJobTrackerFailure(t *testing.T) {
	runner := newGatedRunner(failedResult(newError(KindTimeout, "too slow", nil)))
	tracker := NewJobTracker(runner, time.Hour)

	job := tracker.Start(context.Background(), uuid.New(), Request{Prompt: "a cat"})
	_, events, cancel, _ := tracker.Subscribe(job.ID)
	defer cancel()

	close(runner.proceed)
	drain(t, events)

	final, _ := tracker.Get(job.ID)
	if final.Status != JobFailed || final.Result.Kind != KindTimeout {
		t.Fatalf("expected failed job, got %+v", final)
	}
	if final.Progress != 50 {
		t.Fatalf("expected progress to stay at its high-water mark, got %v", final.Progress)
	}
}

func TestJobTrackerDetachesFromCaller(t *testing.T) {
	runner := newGatedRunner(successResult())
	tracker := NewJobTracker(runner, time.Hour)

	ctx, cancel := context.WithCancel(context.Background())
	tracker.Start(ctx, uuid.New(), Request{Prompt: "a cat"})
	cancel()
	close(runner.proceed)

	select {
	case err := <-runner.ctxErr:
		if err != nil {
			t.Fatalf("job context was cancelled with the caller: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("runner never ran")
	}
}

func TestJobTrackerSubscribeAfterFinish(t *testing.T) {
	runner := newGatedRunner(successResult())
	tracker := NewJobTracker(runner, time.Hour)

	job := tracker.Start(context.Background(), uuid.New(), Request{Prompt: "a cat"})
	close(runner.proceed)
	if err := tracker.Shutdown(context.Background()); err != nil {
		t.Fatalf("shutdown: %v", err)
	}

	snapshot, events, _, ok := tracker.Subscribe(job.ID)
	if !ok || snapshot.Status != JobSucceeded {
		t.Fatalf("expected terminal snapshot, got %+v", snapshot)
	}
	if _, open := <-events; open {
		t.Fatal("expected closed channel for a finished job")
	}

	if _, _, _, ok := tracker.Subscribe(uuid.New()); ok {
		t.Fatal("unknown job must not be found")
	}
}

func TestJobTrackerSweep(t *testing.T) {
	runner := newGatedRunner(successResult())
	tracker := NewJobTracker(runner, time.Minute)

	job := tracker.Start(context.Background(), uuid.New(), Request{Prompt: "a cat"})
	close(runner.proceed)
	tracker.Shutdown(context.Background())

	tracker.Sweep()
	if _, ok := tracker.Get(job.ID); !ok {
		t.Fatal("fresh job swept too early")
	}

	tracker.now = func() time.Time { return time.Now().Add(2 * time.Minute) }
	tracker.Sweep()
	if _, ok := tracker.Get(job.ID); ok {
		t.Fatal("expected expired job to be swept")
	}
}

func TestJobTrackerShutdownHonoursDeadline(t *testing.T) {
	runner := newGatedRunner(successResult())
	tracker := NewJobTracker(runner, time.Hour)
	tracker.Start(context.Background(), uuid.New(), Request{Prompt: "a cat"})

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	if err := tracker.Shutdown(ctx); err == nil {
		t.Fatal("expected deadline error while a job is blocked")
	}
	close(runner.proceed)
}
