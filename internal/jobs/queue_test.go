package jobs

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"

	"github.com/typelesshq/typeless-core/internal/config"
	"github.com/typelesshq/typeless-core/internal/fault"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
}

func testConfig() config.JobsConfig {
	cfg := config.Default().Jobs
	cfg.MaxConcurrent = 2
	return cfg
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not reached in time")
}

func TestJobCompletes(t *testing.T) {
	task := func(_ context.Context, h *Handle, input Input) (any, error) {
		h.Progress(0.5, "halfway")
		return map[string]string{"transcript": "hello " + input.Filename}, nil
	}
	q := NewQueue(context.Background(), testConfig(), task, testLogger())
	t.Cleanup(q.Shutdown)

	id, err := q.Submit(Input{Filename: "a.wav"})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}

	waitFor(t, 2*time.Second, func() bool {
		s, _ := q.Status(id)
		return s.State == StateCompleted
	})
	s, _ := q.Status(id)
	if s.Progress != 1.0 {
		t.Fatalf("completed job must have progress 1.0, got %v", s.Progress)
	}
	if s.Result == nil {
		t.Fatal("completed job must carry its result")
	}
	if s.StartedAt == nil || s.CompletedAt == nil {
		t.Fatal("timestamps must be populated")
	}
}

func TestJobFailureCapturesError(t *testing.T) {
	task := func(_ context.Context, _ *Handle, _ Input) (any, error) {
		return nil, fault.New(fault.RecognizerFailed, "all segments failed")
	}
	q := NewQueue(context.Background(), testConfig(), task, testLogger())
	t.Cleanup(q.Shutdown)

	id, _ := q.Submit(Input{Filename: "b.wav"})
	waitFor(t, 2*time.Second, func() bool {
		s, _ := q.Status(id)
		return s.State == StateFailed
	})
	s, _ := q.Status(id)
	if s.Error == "" || s.ErrorKind != string(fault.RecognizerFailed) {
		t.Fatalf("expected error details, got %+v", s)
	}
	if s.Progress == 1.0 {
		t.Fatal("failed job must not report progress 1.0")
	}
}

func TestConcurrencyBound(t *testing.T) {
	var running atomic.Int32
	var peak atomic.Int32
	block := make(chan struct{})
	task := func(_ context.Context, _ *Handle, _ Input) (any, error) {
		n := running.Add(1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		<-block
		running.Add(-1)
		return nil, nil
	}
	q := NewQueue(context.Background(), testConfig(), task, testLogger())

	for i := 0; i < 5; i++ {
		q.Submit(Input{})
	}
	waitFor(t, 2*time.Second, func() bool { return running.Load() == 2 })
	if q.Stats().Pending != 3 {
		t.Fatalf("expected 3 pending, got %d", q.Stats().Pending)
	}
	close(block)
	waitFor(t, 2*time.Second, func() bool { return q.Stats().Completed == 5 })
	if peak.Load() > 2 {
		t.Fatalf("concurrency bound violated: peak %d", peak.Load())
	}
	q.Shutdown()
}

func TestCancelPendingJob(t *testing.T) {
	block := make(chan struct{})
	task := func(_ context.Context, _ *Handle, _ Input) (any, error) {
		<-block
		return nil, nil
	}
	cfg := testConfig()
	cfg.MaxConcurrent = 1
	q := NewQueue(context.Background(), cfg, task, testLogger())

	first, _ := q.Submit(Input{})
	waitFor(t, 2*time.Second, func() bool {
		s, _ := q.Status(first)
		return s.State == StateProcessing
	})
	second, _ := q.Submit(Input{})

	s, err := q.Cancel(second)
	if err != nil {
		t.Fatalf("cancel pending: %v", err)
	}
	if s.State != StateCancelled {
		t.Fatalf("pending job must cancel immediately, got %s", s.State)
	}
	close(block)
	waitFor(t, 2*time.Second, func() bool {
		st, _ := q.Status(first)
		return st.State == StateCompleted
	})
	// Cancelled job never ran.
	s, _ = q.Status(second)
	if s.StartedAt != nil {
		t.Fatal("cancelled pending job must not start")
	}
	q.Shutdown()
}

func TestCancelProcessingJobAtSafePoint(t *testing.T) {
	started := make(chan struct{})
	task := func(_ context.Context, h *Handle, _ Input) (any, error) {
		close(started)
		// Simulate segment loop polling the cancel flag.
		for i := 0; i < 200; i++ {
			if h.Cancelled() {
				return nil, fault.New(fault.Cancelled, "cancelled at segment %d", i)
			}
			h.Progress(float64(i)/200, "working")
			time.Sleep(2 * time.Millisecond)
		}
		return "done", nil
	}
	cfg := testConfig()
	q := NewQueue(context.Background(), cfg, task, testLogger())
	t.Cleanup(q.Shutdown)

	id, _ := q.Submit(Input{})
	<-started
	time.Sleep(20 * time.Millisecond)

	if _, err := q.Cancel(id); err != nil {
		t.Fatalf("cancel processing: %v", err)
	}
	waitFor(t, 2*time.Second, func() bool {
		s, _ := q.Status(id)
		return s.State == StateCancelled
	})
	s, _ := q.Status(id)
	if s.Result != nil {
		t.Fatal("cancelled job must not carry a result")
	}
	// Idempotent status afterwards.
	again, _ := q.Cancel(id)
	if again.State != StateCancelled {
		t.Fatalf("cancel must be idempotent, got %s", again.State)
	}
}

func TestProgressMonotone(t *testing.T) {
	var afterRegression float64
	task := func(_ context.Context, h *Handle, _ Input) (any, error) {
		h.Progress(0.6, "far")
		h.Progress(0.2, "attempted regression")
		h.job.mu.Lock()
		afterRegression = h.job.progress
		h.job.mu.Unlock()
		return nil, nil
	}
	q := NewQueue(context.Background(), testConfig(), task, testLogger())
	t.Cleanup(q.Shutdown)

	id, _ := q.Submit(Input{})
	waitFor(t, 2*time.Second, func() bool {
		s, _ := q.Status(id)
		return s.State == StateCompleted
	})
	if afterRegression != 0.6 {
		t.Fatalf("progress must not go backward: expected 0.6 after regression, got %v", afterRegression)
	}
	s, _ := q.Status(id)
	if s.Progress != 1.0 {
		t.Fatalf("expected final progress 1.0, got %v", s.Progress)
	}
}

func TestFIFOOrder(t *testing.T) {
	var order []string
	var mu atomic.Pointer[[]string]
	empty := []string{}
	mu.Store(&empty)
	done := make(chan struct{}, 8)
	task := func(_ context.Context, _ *Handle, input Input) (any, error) {
		for {
			cur := mu.Load()
			next := append(append([]string{}, *cur...), input.Filename)
			if mu.CompareAndSwap(cur, &next) {
				break
			}
		}
		done <- struct{}{}
		return nil, nil
	}
	cfg := testConfig()
	cfg.MaxConcurrent = 1
	q := NewQueue(context.Background(), cfg, task, testLogger())
	t.Cleanup(q.Shutdown)

	for _, name := range []string{"one", "two", "three"} {
		q.Submit(Input{Filename: name})
	}
	for i := 0; i < 3; i++ {
		select {
		case <-done:
		case <-time.After(2 * time.Second):
			t.Fatal("jobs did not finish")
		}
	}
	order = *mu.Load()
	if order[0] != "one" || order[1] != "two" || order[2] != "three" {
		t.Fatalf("expected FIFO order, got %v", order)
	}
}

func TestReapKeepsRecentCompleted(t *testing.T) {
	task := func(_ context.Context, _ *Handle, _ Input) (any, error) { return nil, nil }
	cfg := testConfig()
	cfg.KeepCompleted = 1
	q := NewQueue(context.Background(), cfg, task, testLogger())
	t.Cleanup(q.Shutdown)

	ids := make([]string, 3)
	for i := range ids {
		ids[i], _ = q.Submit(Input{})
	}
	waitFor(t, 2*time.Second, func() bool { return q.Stats().Completed == 3 })

	// Move the clock past the TTL and reap.
	q.clock = func() time.Time {
		return time.Now().Add(time.Duration(cfg.TTLHours+1) * time.Hour)
	}
	removed := q.reap()
	if removed != 2 {
		t.Fatalf("expected 2 reaped, got %d", removed)
	}
	if q.Stats().Total != 1 {
		t.Fatalf("expected 1 surviving job, got %d", q.Stats().Total)
	}
}

func TestListFilterAndLimit(t *testing.T) {
	task := func(_ context.Context, _ *Handle, input Input) (any, error) {
		if input.Filename == "bad" {
			return nil, errors.New("broken upload")
		}
		return nil, nil
	}
	q := NewQueue(context.Background(), testConfig(), task, testLogger())
	t.Cleanup(q.Shutdown)

	q.Submit(Input{Filename: "ok1"})
	q.Submit(Input{Filename: "bad"})
	q.Submit(Input{Filename: "ok2"})
	waitFor(t, 2*time.Second, func() bool {
		st := q.Stats()
		return st.Completed == 2 && st.Failed == 1
	})

	failed := q.List(StateFailed, 10)
	if len(failed) != 1 || failed[0].Filename != "bad" {
		t.Fatalf("unexpected failed list: %+v", failed)
	}
	all := q.List("", 2)
	if len(all) != 2 {
		t.Fatalf("limit not applied, got %d", len(all))
	}
}
