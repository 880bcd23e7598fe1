// Package server exposes the transcription core over a versioned HTTP and
// WebSocket surface with admission control.
package server

import (
	"log/slog"
	"net/http"
	"sync/atomic"

	"github.com/go-chi/chi/v5"
	"github.com/typelesshq/typeless-core/internal/asr"
	"github.com/typelesshq/typeless-core/internal/bus"
	"github.com/typelesshq/typeless-core/internal/config"
	"github.com/typelesshq/typeless-core/internal/jobs"
	"github.com/typelesshq/typeless-core/internal/postprocess"
	"github.com/typelesshq/typeless-core/internal/recognize"
	"github.com/typelesshq/typeless-core/internal/session"
)

// Server wires the managers behind the wire surface.
type Server struct {
	cfg        config.Config
	logger     *slog.Logger
	sessions   *session.Manager
	jobs       *jobs.Queue
	asr        *asr.Service
	recognizer recognize.Recognizer
	bus        *bus.Client
	limiter    *rateLimiter
	keys       *apiKeys
	metrics    *httpMetrics
	version    string

	// defaultMode is mutable through the config endpoint.
	defaultMode atomic.Value // postprocess.Mode
}

// Deps carries the server's collaborators.
type Deps struct {
	Sessions   *session.Manager
	Jobs       *jobs.Queue
	ASR        *asr.Service
	Recognizer recognize.Recognizer
	Bus        *bus.Client
	Version    string
}

func New(cfg config.Config, deps Deps, logger *slog.Logger) *Server {
	s := &Server{
		cfg:        cfg,
		logger:     logger.With(slog.String("component", "http")),
		sessions:   deps.Sessions,
		jobs:       deps.Jobs,
		asr:        deps.ASR,
		recognizer: deps.Recognizer,
		bus:        deps.Bus,
		limiter:    newRateLimiter(cfg.RateLimit),
		keys:       newAPIKeys(cfg.Auth),
		metrics:    newHTTPMetrics(),
		version:    deps.Version,
	}
	mode, _ := postprocess.ParseMode(cfg.PostProcess.DefaultMode)
	s.defaultMode.Store(mode)
	return s
}

// DefaultMode is the post-process mode used when a request omits one.
func (s *Server) DefaultMode() postprocess.Mode {
	return s.defaultMode.Load().(postprocess.Mode)
}

// Router assembles the full endpoint surface.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	// Health surface: no auth, no rate limit beyond its generous class.
	r.Get("/health", s.limit("health", s.handleHealth))
	r.Get("/version", s.limit("health", s.handleVersion))

	// WebSocket upgrades: exempt from quotas and the key gate.
	r.Get("/api/asr/stream-progress", s.handleStreamProgress)
	r.Get("/api/asr/stream", s.handleStream)

	r.Group(func(r chi.Router) {
		r.Use(s.keys.require)

		r.Route("/api/asr", func(r chi.Router) {
			r.Post("/start", s.limit("session-control", s.handleStart))
			r.Post("/audio/{sessionID}", s.limit("session-audio", s.handleAudio))
			r.Post("/stop/{sessionID}", s.limit("session-control", s.handleStop))
			r.Post("/cancel/{sessionID}", s.limit("session-control", s.handleCancel))
			r.Get("/status/{sessionID}", s.limit("session-status", s.handleStatus))
			r.Get("/preview/{sessionID}", s.limit("session-status", s.handlePreview))
			r.Post("/transcribe", s.limit("transcribe", s.handleTranscribe))

			r.Get("/dictionary", s.limit("dictionary", s.handleDictionaryList))
			r.Post("/dictionary", s.limit("dictionary", s.handleDictionaryAdd))
			r.Delete("/dictionary/{spoken}", s.limit("dictionary", s.handleDictionaryRemove))
		})

		r.Route("/api/postprocess", func(r chi.Router) {
			r.Post("/upload", s.limit("upload", s.handleUpload))
			r.Post("/upload-long", s.limit("upload-long", s.handleUploadLong))
			r.Post("/batch-transcribe", s.limit("batch-transcribe", s.handleBatchTranscribe))
			r.Post("/text", s.limit("text", s.handleText))
			r.Get("/config", s.limit("config", s.handleConfigGet))
			r.Post("/config", s.limit("config", s.handleConfigSet))
		})

		r.Route("/api/jobs", func(r chi.Router) {
			r.Post("/submit", s.limit("jobs-submit", s.handleJobSubmit))
			r.Get("/", s.limit("jobs-control", s.handleJobList))
			r.Get("/stats", s.limit("jobs-poll", s.handleJobStats))
			r.Get("/{jobID}", s.limit("jobs-poll", s.handleJobStatus))
			r.Post("/{jobID}/cancel", s.limit("jobs-control", s.handleJobCancel))
		})
	})

	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	status := "ok"
	if s.bus != nil && !s.bus.Healthy() {
		status = "degraded"
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":   status,
		"sessions": s.sessions.Count(),
	})
}

func (s *Server) handleVersion(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"service":     s.cfg.ServiceName,
		"version":     s.version,
		"environment": s.cfg.Environment,
		"recognizer":  s.cfg.Recognizer.Mode,
		"enhancer":    s.cfg.Enhancer.Provider,
	})
}
