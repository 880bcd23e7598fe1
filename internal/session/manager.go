// Package session owns the lifecycle and concurrency-safe mutation of
// interactive recording sessions.
package session

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/typelesshq/typeless-core/internal/audioio"
	"github.com/typelesshq/typeless-core/internal/bus"
	"github.com/typelesshq/typeless-core/internal/config"
	"github.com/typelesshq/typeless-core/internal/fault"
	"github.com/typelesshq/typeless-core/internal/pipeline"
	"github.com/typelesshq/typeless-core/internal/postprocess"
	"github.com/typelesshq/typeless-core/internal/protocol"
	"github.com/typelesshq/typeless-core/internal/segment"
)

// State is a session's lifecycle stage. Transitions only move forward;
// Cancelled is reachable from any non-terminal state.
type State string

const (
	StateStarted   State = "started"
	StateReceiving State = "receiving"
	StateStopping  State = "stopping"
	StateStopped   State = "stopped"
	StateCancelled State = "cancelled"
	StateExpired   State = "expired"
)

// Terminal reports whether no further audio may enter the session.
func (s State) Terminal() bool {
	switch s {
	case StateStopped, StateCancelled, StateExpired:
		return true
	}
	return false
}

// maxOpenSessions bounds concurrent sessions; Open fails beyond it.
const maxOpenSessions = 256

// Snapshot is a read-only view of one session.
type Snapshot struct {
	ID                string    `json:"session_id"`
	State             State     `json:"status"`
	CreatedAt         time.Time `json:"created_at"`
	LastActivityAt    time.Time `json:"last_activity_at"`
	AppHint           string    `json:"app_hint,omitempty"`
	ChunksReceived    int       `json:"audio_chunks_received"`
	AudioSeconds      float64   `json:"audio_seconds"`
	PartialTranscript string    `json:"partial_transcript"`
}

// StopResult is the outcome of finalizing a session.
type StopResult struct {
	SessionID           string             `json:"session_id"`
	FinalTranscript     string             `json:"final_transcript"`
	ProcessedTranscript string             `json:"processed_transcript"`
	TotalChunks         int                `json:"total_chunks"`
	PerSegment          []pipeline.Transcription `json:"per_segment,omitempty"`
	MergeStats          pipeline.MergeStats `json:"merge_stats"`
	PostStats           postprocess.Stats  `json:"postprocess_stats"`
}

type session struct {
	mu             sync.Mutex
	id             string
	state          State
	createdAt      time.Time
	lastActivityAt time.Time
	appHint        string
	frames         []audioio.Frame
	totalSamples   int
	chunks         int
	partial        string
	cancelFlag     atomic.Bool
	// finalizing is set by the Stop call that owns the pipeline run;
	// backpressure moves state to Stopping without setting it.
	finalizing bool
}

// Deps are the collaborators the manager drives on stop.
type Deps struct {
	Segmenter    *segment.Segmenter
	Strategy     segment.Strategy
	Orchestrator *pipeline.Orchestrator
	Processor    *postprocess.Processor
	Merge        pipeline.MergeStrategy
	Mode         postprocess.Mode
	Bus          *bus.Client
}

// Manager owns the session map. The map mutex guards only lookup and
// insert/removal; per-session locks guard everything else and are never held
// across recognizer I/O.
type Manager struct {
	cfg    config.SessionConfig
	deps   Deps
	logger *slog.Logger

	mu       sync.Mutex
	sessions map[string]*session

	clock  func() time.Time
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewManager builds the manager and starts its reaper.
func NewManager(parent context.Context, cfg config.SessionConfig, deps Deps, logger *slog.Logger) *Manager {
	ctx, cancel := context.WithCancel(parent)
	m := &Manager{
		cfg:      cfg,
		deps:     deps,
		logger:   logger.With(slog.String("component", "sessions")),
		sessions: make(map[string]*session),
		clock:    time.Now,
		ctx:      ctx,
		cancel:   cancel,
	}
	m.wg.Add(1)
	go m.reaper()
	return m
}

// Close stops the reaper and waits for it.
func (m *Manager) Close() {
	m.cancel()
	m.wg.Wait()
}

// Open allocates a new session in state Started.
func (m *Manager) Open(appHint string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.sessions) >= maxOpenSessions {
		return "", fault.New(fault.ResourceExhausted, "too many open sessions (%d)", len(m.sessions))
	}
	now := m.clock()
	s := &session{
		id:             uuid.NewString(),
		state:          StateStarted,
		createdAt:      now,
		lastActivityAt: now,
		appHint:        appHint,
	}
	m.sessions[s.id] = s
	m.logger.Info("session opened", slog.String("session_id", s.id), slog.String("app_hint", appHint))
	return s.id, nil
}

func (m *Manager) lookup(id string) (*session, error) {
	m.mu.Lock()
	s := m.sessions[id]
	m.mu.Unlock()
	if s == nil {
		return nil, fault.New(fault.NotFound, "unknown session %s", id)
	}
	return s, nil
}

// Ingest appends a PCM chunk. The byte count must be 16-bit aligned. The
// returned string is the best-effort partial transcript; ingest never blocks
// on recognition.
func (m *Manager) Ingest(id string, pcm []byte) (string, error) {
	s, err := m.lookup(id)
	if err != nil {
		return "", err
	}
	frame, err := audioio.FrameFromBytes(pcm)
	if err != nil {
		return "", err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	switch s.state {
	case StateStarted, StateReceiving:
	default:
		return "", fault.New(fault.InvalidState, "cannot ingest audio in state %s", s.state)
	}

	maxSamples := m.cfg.MaxAudioSeconds * audioio.SampleRate
	if s.totalSamples+frame.Len() > maxSamples {
		// Buffer cap reached; the session heads for finalization and the
		// accumulated audio stays intact.
		s.state = StateStopping
		s.lastActivityAt = m.clock()
		return "", fault.New(fault.ResourceExhausted,
			"session audio buffer exceeds %d seconds", m.cfg.MaxAudioSeconds).WithRetryAfter(1)
	}

	s.state = StateReceiving
	s.frames = append(s.frames, frame)
	s.totalSamples += frame.Len()
	s.chunks++
	s.lastActivityAt = m.clock()
	return s.partial, nil
}

// Stop finalizes the session: segments the accumulated audio, runs the
// pipeline, post-processes, and returns the transcript. Synchronous; bounded
// by the stop timeout.
func (m *Manager) Stop(ctx context.Context, id string) (StopResult, error) {
	s, err := m.lookup(id)
	if err != nil {
		return StopResult{}, err
	}

	s.mu.Lock()
	switch s.state {
	case StateStarted, StateReceiving, StateStopping:
		// StateStopping is re-enterable only when set by backpressure; a
		// Stop that already owns finalization rejects the second caller.
	default:
		s.mu.Unlock()
		return StopResult{}, fault.New(fault.InvalidState, "cannot stop session in state %s", s.state)
	}
	if s.finalizing {
		s.mu.Unlock()
		return StopResult{}, fault.New(fault.InvalidState, "session %s is already being finalized", id)
	}
	s.finalizing = true
	s.state = StateStopping
	s.lastActivityAt = m.clock()
	samples := audioio.Concat(s.frames).Samples()
	chunks := s.chunks
	appHint := s.appHint
	s.mu.Unlock()

	timeout := time.Duration(m.cfg.StopTimeoutSec) * time.Second
	runCtx, cancelRun := context.WithTimeout(ctx, timeout)
	defer cancelRun()

	out, runErr := m.runPipeline(runCtx, s, samples)

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == StateCancelled {
		// Cancelled while the pipeline ran; the transcript is discarded.
		return StopResult{}, fault.New(fault.Cancelled, "session %s cancelled", id)
	}
	if runErr != nil {
		if fault.Is(runErr, fault.Cancelled) {
			s.state = StateCancelled
			s.frames = nil
			return StopResult{}, runErr
		}
		s.state = StateStopped
		s.frames = nil
		s.lastActivityAt = m.clock()
		return StopResult{}, runErr
	}

	processed := m.postProcess(runCtx, appHint, out)

	s.state = StateStopped
	s.frames = nil
	s.partial = out.FinalTranscript
	s.lastActivityAt = m.clock()

	if m.deps.Bus != nil {
		m.deps.Bus.PublishJSON(protocol.TranscriptSubject(id), protocol.FinalTranscript{
			SessionID: id,
			Text:      processed.Processed,
			Segments:  len(out.PerSegment),
			Timestamp: m.clock().UTC(),
		})
	}

	return StopResult{
		SessionID:           id,
		FinalTranscript:     out.FinalTranscript,
		ProcessedTranscript: processed.Processed,
		TotalChunks:         chunks,
		PerSegment:          out.PerSegment,
		MergeStats:          out.MergeStats,
		PostStats:           processed.Stats,
	}, nil
}

func (m *Manager) runPipeline(ctx context.Context, s *session, samples []int16) (pipeline.Output, error) {
	if len(samples) == 0 {
		return pipeline.Output{MergeStats: pipeline.MergeStats{Strategy: string(m.deps.Merge)}}, nil
	}
	segs := m.deps.Segmenter.Split(samples, m.deps.Strategy)
	return m.deps.Orchestrator.Run(ctx, samples, segs, pipeline.Options{
		Merge:  m.deps.Merge,
		Cancel: &s.cancelFlag,
		Progress: func(p pipeline.Progress) {
			// Opportunistic partial transcript; readers may observe stale
			// values.
			s.mu.Lock()
			s.partial = p.PartialText
			s.mu.Unlock()
			if m.deps.Bus != nil {
				m.deps.Bus.PublishJSON(protocol.ProgressSubject(s.id), protocol.Progress{
					SessionID:      s.id,
					CurrentSegment: p.Current,
					TotalSegments:  p.Total,
					Message:        p.Message,
					PartialText:    p.PartialText,
					Percent:        float64(p.Current) / float64(p.Total) * 100,
				})
			}
		},
	})
}

func (m *Manager) postProcess(ctx context.Context, appHint string, out pipeline.Output) postprocess.Result {
	if m.deps.Processor == nil {
		return postprocess.Result{Original: out.FinalTranscript, Processed: out.FinalTranscript}
	}
	return m.deps.Processor.Process(ctx, postprocess.Request{
		Text:           out.FinalTranscript,
		Mode:           m.deps.Mode,
		Profile:        postprocess.ProfileFor(appHint),
		ParagraphHints: out.SilenceBreaks,
	})
}

// Cancel moves any non-terminal session to Cancelled, discards its audio,
// and flags in-flight pipeline work.
func (m *Manager) Cancel(id string) error {
	s, err := m.lookup(id)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state.Terminal() {
		if s.state == StateCancelled {
			return nil // idempotent
		}
		return fault.New(fault.InvalidState, "cannot cancel session in state %s", s.state)
	}
	s.state = StateCancelled
	s.frames = nil
	s.totalSamples = 0
	s.partial = ""
	s.cancelFlag.Store(true)
	s.lastActivityAt = m.clock()
	m.logger.Info("session cancelled", slog.String("session_id", id))
	return nil
}

// Status returns a read-only snapshot.
func (m *Manager) Status(id string) (Snapshot, error) {
	s, err := m.lookup(id)
	if err != nil {
		return Snapshot{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return Snapshot{
		ID:                s.id,
		State:             s.state,
		CreatedAt:         s.createdAt,
		LastActivityAt:    s.lastActivityAt,
		AppHint:           s.appHint,
		ChunksReceived:    s.chunks,
		AudioSeconds:      float64(s.totalSamples) / audioio.SampleRate,
		PartialTranscript: s.partial,
	}, nil
}

// Partial returns the best-effort partial transcript.
func (m *Manager) Partial(id string) (string, error) {
	snap, err := m.Status(id)
	if err != nil {
		return "", err
	}
	return snap.PartialTranscript, nil
}

// Count returns the number of tracked sessions.
func (m *Manager) Count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

// reaper marks idle sessions Expired and later removes them.
func (m *Manager) reaper() {
	defer m.wg.Done()
	interval := time.Duration(m.cfg.ReapIntervalSeconds) * time.Second
	if interval <= 0 {
		interval = 30 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-m.ctx.Done():
			return
		case <-ticker.C:
			m.sweep()
		}
	}
}

func (m *Manager) sweep() {
	ttl := time.Duration(m.cfg.TTLSeconds) * time.Second
	now := m.clock()

	m.mu.Lock()
	stale := make([]*session, 0)
	for _, s := range m.sessions {
		stale = append(stale, s)
	}
	m.mu.Unlock()

	var remove []string
	for _, s := range stale {
		s.mu.Lock()
		idle := now.Sub(s.lastActivityAt)
		switch {
		case s.state == StateExpired && idle > 2*ttl:
			remove = append(remove, s.id)
		case !s.state.Terminal() && s.state != StateStopping && idle > ttl:
			s.state = StateExpired
			s.frames = nil
			s.totalSamples = 0
			s.cancelFlag.Store(true)
			m.logger.Info("session expired", slog.String("session_id", s.id))
		case s.state.Terminal() && s.state != StateExpired && idle > ttl:
			s.state = StateExpired
			s.frames = nil
		}
		s.mu.Unlock()
	}

	if len(remove) > 0 {
		m.mu.Lock()
		for _, id := range remove {
			delete(m.sessions, id)
		}
		m.mu.Unlock()
	}
}
