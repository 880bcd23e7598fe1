// Package runtime boots the service: telemetry, bus, stores, managers, and
// the HTTP server, with graceful teardown in reverse order.
package runtime

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/typelesshq/typeless-core/internal/asr"
	"github.com/typelesshq/typeless-core/internal/bus"
	"github.com/typelesshq/typeless-core/internal/config"
	"github.com/typelesshq/typeless-core/internal/enhance"
	"github.com/typelesshq/typeless-core/internal/jobs"
	"github.com/typelesshq/typeless-core/internal/natsserver"
	"github.com/typelesshq/typeless-core/internal/pipeline"
	"github.com/typelesshq/typeless-core/internal/postprocess"
	"github.com/typelesshq/typeless-core/internal/recognize"
	"github.com/typelesshq/typeless-core/internal/segment"
	"github.com/typelesshq/typeless-core/internal/server"
	"github.com/typelesshq/typeless-core/internal/session"
)

// Sentinel errors let main map failures to exit codes.
var (
	ErrBind      = errors.New("bind failed")
	ErrModelInit = errors.New("model init failed")
)

// Runtime owns the boot sequence and shutdown.
type Runtime struct {
	cfg     config.Config
	logger  *slog.Logger
	version string
	wg      sync.WaitGroup
}

func New(cfg config.Config, logger *slog.Logger, version string) *Runtime {
	return &Runtime{cfg: cfg, logger: logger, version: version}
}

// Start brings the service up and blocks until ctx is cancelled.
func (r *Runtime) Start(ctx context.Context) error {
	cfg := r.cfg

	if err := r.ensureRuntimeDirs(); err != nil {
		return err
	}

	shutdownTelemetry, metricsHandler, err := setupTelemetry(cfg, r.logger)
	if err != nil {
		return fmt.Errorf("failed to setup telemetry: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTelemetry(shutdownCtx); err != nil {
			r.logger.Error("telemetry shutdown error", slog.String("error", err.Error()))
		}
	}()

	// Internal event bus: embedded server unless external brokers are
	// configured.
	embedded, err := natsserver.Start(cfg.Bus, r.logger)
	if err != nil {
		r.logger.Warn("embedded NATS unavailable, progress events disabled", slog.String("error", err.Error()))
	}
	defer embedded.Shutdown()

	busCfg := cfg.Bus
	if embedded != nil {
		busCfg.Servers = []string{embedded.ClientURL()}
	}
	var busClient *bus.Client
	if embedded != nil || !cfg.Bus.Embedded {
		busClient, err = bus.Connect(busCfg, r.logger)
		if err != nil {
			r.logger.Warn("bus connection failed, progress events disabled", slog.String("error", err.Error()))
		}
	}
	defer busClient.Close()

	// Recognizer: a recognizer that cannot be built exits with the
	// model-init code. A model that fails to load does not stop startup:
	// warm-up logs the failure and each recognition call returns it.
	adapter, err := recognize.NewAdapter(cfg.Recognizer, r.logger)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrModelInit, err)
	}

	enhancer, err := enhance.New(cfg.Enhancer, r.logger)
	if err != nil {
		return fmt.Errorf("invalid enhancer config: %w", err)
	}

	dict, err := postprocess.OpenDictionary(ctx, cfg.PostProcess.DictionaryPath, r.logger)
	if err != nil {
		return fmt.Errorf("open dictionary: %w", err)
	}
	defer dict.Close()

	segmenter := segment.New(cfg.Segmenter)
	orch := pipeline.New(adapter, cfg.Pipeline.Concurrency, r.logger)
	processor := postprocess.NewProcessor(cfg.PostProcess, dict, enhancer, r.logger)
	svc := asr.NewService(segmenter, orch, processor, r.logger)

	strategy, _ := segment.ParseStrategy(cfg.Segmenter.Strategy)
	mergeStrategy, _ := pipeline.ParseMergeStrategy(cfg.Pipeline.MergeStrategy)
	mode, _ := postprocess.ParseMode(cfg.PostProcess.DefaultMode)

	sessions := session.NewManager(ctx, cfg.Session, session.Deps{
		Segmenter:    segmenter,
		Strategy:     strategy,
		Orchestrator: orch,
		Processor:    processor,
		Merge:        mergeStrategy,
		Mode:         mode,
		Bus:          busClient,
	}, r.logger)
	defer sessions.Close()

	queue := jobs.NewQueue(ctx, cfg.Jobs, svc.JobTask(), r.logger)
	defer queue.Shutdown()

	srv := server.New(cfg, server.Deps{
		Sessions:   sessions,
		Jobs:       queue,
		ASR:        svc,
		Recognizer: adapter,
		Bus:        busClient,
		Version:    r.version,
	}, r.logger)

	addr := fmt.Sprintf("%s:%d", cfg.HTTP.Bind, cfg.HTTP.Port)
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrBind, err)
	}
	httpServer := &http.Server{
		Handler:           srv.Router(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		if err := httpServer.Serve(listener); err != nil && err != http.ErrServerClosed {
			r.logger.Error("http server failed", slog.String("error", err.Error()))
		}
	}()

	metricsServer := r.startMetricsServer(metricsHandler)

	r.logger.Info("runtime started",
		slog.String("addr", addr),
		slog.String("recognizer", cfg.Recognizer.Mode),
		slog.String("enhancer", cfg.Enhancer.Provider))

	<-ctx.Done()
	r.logger.Info("runtime stopping")

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancelShutdown()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		r.logger.Error("http shutdown error", slog.String("error", err.Error()))
	}
	if metricsServer != nil {
		_ = metricsServer.Shutdown(shutdownCtx)
	}
	r.wg.Wait()
	return nil
}

func (r *Runtime) startMetricsServer(handler http.Handler) *http.Server {
	if handler == nil {
		return nil
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", handler)
	srv := &http.Server{
		Addr:              r.cfg.Telemetry.PrometheusBind,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			r.logger.Warn("metrics server failed", slog.String("error", err.Error()))
		}
	}()
	return srv
}

func (r *Runtime) ensureRuntimeDirs() error {
	for _, sub := range []string{"models", "tmp", "logs"} {
		dir := filepath.Join(r.cfg.RuntimeDir, sub)
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create runtime dir %s: %w", dir, err)
		}
	}
	return nil
}
