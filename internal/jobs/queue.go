// Package jobs schedules bounded-concurrency, long-running transcription
// jobs with progress tracking, cancellation, and reaping.
package jobs

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/typelesshq/typeless-core/internal/config"
	"github.com/typelesshq/typeless-core/internal/fault"
)

// State is a job's lifecycle stage; transitions are monotone.
type State string

const (
	StatePending    State = "pending"
	StateProcessing State = "processing"
	StateCompleted  State = "completed"
	StateFailed     State = "failed"
	StateCancelled  State = "cancelled"
)

// Terminal reports whether the job reached a final state.
func (s State) Terminal() bool {
	switch s {
	case StateCompleted, StateFailed, StateCancelled:
		return true
	}
	return false
}

// Input references the uploaded audio and its parameters.
type Input struct {
	Filename      string `json:"filename"`
	Samples       []int16 `json:"-"`
	Language      string `json:"language,omitempty"`
	Strategy      string `json:"strategy,omitempty"`
	MergeStrategy string `json:"merge_strategy,omitempty"`
	Mode          string `json:"postprocess_mode,omitempty"`
}

// Snapshot is the externally visible job record.
type Snapshot struct {
	ID              string     `json:"job_id"`
	State           State      `json:"status"`
	Progress        float64    `json:"progress"`
	ProgressMessage string     `json:"progress_message"`
	CreatedAt       time.Time  `json:"created_at"`
	StartedAt       *time.Time `json:"started_at,omitempty"`
	CompletedAt     *time.Time `json:"completed_at,omitempty"`
	Filename        string     `json:"filename,omitempty"`
	Result          any        `json:"result,omitempty"`
	Error           string     `json:"error,omitempty"`
	ErrorKind       string     `json:"error_kind,omitempty"`
}

// Stats aggregates queue counters.
type Stats struct {
	Total         int `json:"total_jobs"`
	Pending       int `json:"pending"`
	Processing    int `json:"processing"`
	Completed     int `json:"completed"`
	Failed        int `json:"failed"`
	Cancelled     int `json:"cancelled"`
	MaxConcurrent int `json:"max_concurrent_jobs"`
}

// Handle is passed to the task so it can report progress and observe
// cancellation at safe points.
type Handle struct {
	job *job
}

// Progress updates the job's progress; values never go backward and are
// clamped to [0, 0.999]. Only completion sets 1.0.
func (h *Handle) Progress(p float64, message string) {
	h.job.mu.Lock()
	defer h.job.mu.Unlock()
	if p < 0 {
		p = 0
	}
	if p > 0.999 {
		p = 0.999 // 1.0 is reserved for completion
	}
	if p > h.job.progress {
		h.job.progress = p
	}
	h.job.progressMessage = message
}

// CancelFlag exposes the cooperative cancel flag for the pipeline.
func (h *Handle) CancelFlag() *atomic.Bool {
	return &h.job.cancelFlag
}

// Cancelled reports whether cancellation was requested.
func (h *Handle) Cancelled() bool {
	return h.job.cancelFlag.Load()
}

// Task executes one job. It should poll the handle's cancel flag at segment
// boundaries and return fault.Cancelled when observed.
type Task func(ctx context.Context, handle *Handle, input Input) (any, error)

type job struct {
	mu              sync.Mutex
	id              string
	state           State
	progress        float64
	progressMessage string
	createdAt       time.Time
	startedAt       *time.Time
	completedAt     *time.Time
	input           Input
	result          any
	err             string
	errKind         string
	cancelFlag      atomic.Bool
}

func (j *job) snapshot() Snapshot {
	j.mu.Lock()
	defer j.mu.Unlock()
	return Snapshot{
		ID:              j.id,
		State:           j.state,
		Progress:        j.progress,
		ProgressMessage: j.progressMessage,
		CreatedAt:       j.createdAt,
		StartedAt:       j.startedAt,
		CompletedAt:     j.completedAt,
		Filename:        j.input.Filename,
		Result:          j.result,
		Error:           j.err,
		ErrorKind:       j.errKind,
	}
}

// Queue runs submitted jobs through a fixed worker pool, FIFO over
// submission time.
type Queue struct {
	cfg    config.JobsConfig
	task   Task
	logger *slog.Logger

	mu      sync.Mutex
	jobs    map[string]*job
	pending []*job

	wake   chan struct{}
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	clock  func() time.Time
}

// NewQueue starts the worker pool and the reaper.
func NewQueue(parent context.Context, cfg config.JobsConfig, task Task, logger *slog.Logger) *Queue {
	ctx, cancel := context.WithCancel(parent)
	q := &Queue{
		cfg:    cfg,
		task:   task,
		logger: logger.With(slog.String("component", "jobs")),
		jobs:   make(map[string]*job),
		wake:   make(chan struct{}, 1),
		ctx:    ctx,
		cancel: cancel,
		clock:  time.Now,
	}
	for i := 0; i < cfg.MaxConcurrent; i++ {
		q.wg.Add(1)
		go q.worker()
	}
	q.wg.Add(1)
	go q.reaper()
	return q
}

// Shutdown cancels pending jobs, flags running ones, and waits for workers.
func (q *Queue) Shutdown() {
	q.mu.Lock()
	for _, j := range q.pending {
		j.mu.Lock()
		if j.state == StatePending {
			j.state = StateCancelled
			now := q.clock()
			j.completedAt = &now
		}
		j.mu.Unlock()
	}
	q.pending = nil
	for _, j := range q.jobs {
		j.cancelFlag.Store(true)
	}
	q.mu.Unlock()

	q.cancel()
	q.wg.Wait()
}

// Submit enqueues a job and returns its id.
func (q *Queue) Submit(input Input) (string, error) {
	j := &job{
		id:        uuid.NewString(),
		state:     StatePending,
		createdAt: q.clock(),
		input:     input,
	}

	q.mu.Lock()
	q.jobs[j.id] = j
	q.pending = append(q.pending, j)
	q.mu.Unlock()

	select {
	case q.wake <- struct{}{}:
	default:
	}
	q.logger.Info("job submitted", slog.String("job_id", j.id), slog.String("filename", input.Filename))
	return j.id, nil
}

// Status returns the job snapshot.
func (q *Queue) Status(id string) (Snapshot, error) {
	q.mu.Lock()
	j := q.jobs[id]
	q.mu.Unlock()
	if j == nil {
		return Snapshot{}, fault.New(fault.NotFound, "unknown job %s", id)
	}
	return j.snapshot(), nil
}

// Cancel cancels a job. Pending jobs transition immediately; processing jobs
// get the cooperative flag and transition at the next segment boundary.
// Idempotent on already-cancelled jobs.
func (q *Queue) Cancel(id string) (Snapshot, error) {
	q.mu.Lock()
	j := q.jobs[id]
	q.mu.Unlock()
	if j == nil {
		return Snapshot{}, fault.New(fault.NotFound, "unknown job %s", id)
	}

	j.mu.Lock()
	switch j.state {
	case StatePending:
		j.state = StateCancelled
		now := q.clock()
		j.completedAt = &now
	case StateProcessing:
		j.cancelFlag.Store(true)
	case StateCancelled:
		// idempotent
	default:
		j.mu.Unlock()
		return Snapshot{}, fault.New(fault.InvalidState, "cannot cancel job in state %s", j.state)
	}
	j.mu.Unlock()
	return j.snapshot(), nil
}

// List returns snapshots, newest first, optionally filtered by state.
func (q *Queue) List(filter State, limit int) []Snapshot {
	if limit <= 0 {
		limit = 100
	}
	q.mu.Lock()
	all := make([]*job, 0, len(q.jobs))
	for _, j := range q.jobs {
		all = append(all, j)
	}
	q.mu.Unlock()

	snaps := make([]Snapshot, 0, len(all))
	for _, j := range all {
		s := j.snapshot()
		if filter != "" && s.State != filter {
			continue
		}
		snaps = append(snaps, s)
	}
	sort.Slice(snaps, func(i, k int) bool {
		return snaps[i].CreatedAt.After(snaps[k].CreatedAt)
	})
	if len(snaps) > limit {
		snaps = snaps[:limit]
	}
	return snaps
}

// Stats aggregates the queue counters.
func (q *Queue) Stats() Stats {
	q.mu.Lock()
	defer q.mu.Unlock()
	stats := Stats{Total: len(q.jobs), MaxConcurrent: q.cfg.MaxConcurrent}
	for _, j := range q.jobs {
		j.mu.Lock()
		switch j.state {
		case StatePending:
			stats.Pending++
		case StateProcessing:
			stats.Processing++
		case StateCompleted:
			stats.Completed++
		case StateFailed:
			stats.Failed++
		case StateCancelled:
			stats.Cancelled++
		}
		j.mu.Unlock()
	}
	return stats
}

// nextPending pops the oldest pending job that is still runnable.
func (q *Queue) nextPending() *job {
	q.mu.Lock()
	defer q.mu.Unlock()
	for len(q.pending) > 0 {
		j := q.pending[0]
		q.pending = q.pending[1:]
		j.mu.Lock()
		runnable := j.state == StatePending
		j.mu.Unlock()
		if runnable {
			return j
		}
	}
	return nil
}

func (q *Queue) worker() {
	defer q.wg.Done()
	for {
		j := q.nextPending()
		if j == nil {
			select {
			case <-q.ctx.Done():
				return
			case <-q.wake:
				continue
			}
		}
		q.run(j)
		// Another job may be waiting; loop immediately.
		select {
		case q.wake <- struct{}{}:
		default:
		}
	}
}

func (q *Queue) run(j *job) {
	j.mu.Lock()
	if j.state != StatePending {
		j.mu.Unlock()
		return
	}
	if j.cancelFlag.Load() {
		j.state = StateCancelled
		now := q.clock()
		j.completedAt = &now
		j.mu.Unlock()
		return
	}
	j.state = StateProcessing
	now := q.clock()
	j.startedAt = &now
	input := j.input
	j.mu.Unlock()

	result, err := q.task(q.ctx, &Handle{job: j}, input)

	j.mu.Lock()
	defer j.mu.Unlock()
	done := q.clock()
	j.completedAt = &done
	switch {
	case err == nil && !j.cancelFlag.Load():
		j.state = StateCompleted
		j.progress = 1.0
		j.progressMessage = "completed"
		j.result = result
	case fault.Is(err, fault.Cancelled) || j.cancelFlag.Load():
		j.state = StateCancelled
		j.result = nil
	default:
		j.state = StateFailed
		j.err = err.Error()
		j.errKind = string(fault.KindOf(err))
		q.logger.Warn("job failed", slog.String("job_id", j.id), slog.String("error", err.Error()))
	}
}

// reaper deletes jobs whose completion is older than the TTL, always keeping
// the most recently completed ones.
func (q *Queue) reaper() {
	defer q.wg.Done()
	interval := time.Duration(q.cfg.ReapIntervalSec) * time.Second
	if interval <= 0 {
		interval = time.Hour
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-q.ctx.Done():
			return
		case <-ticker.C:
			removed := q.reap()
			if removed > 0 {
				q.logger.Info("reaped old jobs", slog.Int("count", removed))
			}
		}
	}
}

func (q *Queue) reap() int {
	ttl := time.Duration(q.cfg.TTLHours) * time.Hour
	cutoff := q.clock().Add(-ttl)

	q.mu.Lock()
	defer q.mu.Unlock()

	type done struct {
		id          string
		completedAt time.Time
	}
	var expired []done
	for id, j := range q.jobs {
		j.mu.Lock()
		if j.state.Terminal() && j.completedAt != nil && j.completedAt.Before(cutoff) {
			expired = append(expired, done{id: id, completedAt: *j.completedAt})
		}
		j.mu.Unlock()
	}
	// Keep the most recent completions regardless of age.
	sort.Slice(expired, func(i, k int) bool {
		return expired[i].completedAt.After(expired[k].completedAt)
	})
	if len(expired) > q.cfg.KeepCompleted {
		expired = expired[q.cfg.KeepCompleted:]
	} else {
		expired = nil
	}
	for _, e := range expired {
		delete(q.jobs, e.id)
	}
	return len(expired)
}

// String renders queue stats for logs.
func (s Stats) String() string {
	return fmt.Sprintf("total=%d pending=%d processing=%d completed=%d failed=%d cancelled=%d",
		s.Total, s.Pending, s.Processing, s.Completed, s.Failed, s.Cancelled)
}
