package recognize

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/typelesshq/typeless-core/internal/config"
)

const retryBackoff = 250 * time.Millisecond

// Adapter fronts a Model with lazy initialization, request serialization
// for non-re-entrant backends, and a single inference retry.
type Adapter struct {
	model  Model
	cfg    config.RecognizerConfig
	logger *slog.Logger

	initOnce sync.Once
	initErr  error

	// gate is a semaphore of the configured parallelism for re-entrant
	// models and of width 1 (serializing) otherwise.
	gate chan struct{}

	clock func() time.Time
	sleep func(time.Duration)
}

// NewAdapter wires the configured model behind the adapter. Warm-up runs in
// the background when enabled so first-request latency does not absorb the
// model load.
func NewAdapter(cfg config.RecognizerConfig, logger *slog.Logger) (*Adapter, error) {
	var model Model
	var err error
	switch cfg.Mode {
	case "exec":
		model, err = NewExecModel(cfg)
	default:
		model = NewMockModel()
	}
	if err != nil {
		return nil, err
	}
	return newAdapter(model, cfg, logger), nil
}

func newAdapter(model Model, cfg config.RecognizerConfig, logger *slog.Logger) *Adapter {
	width := 1
	if model.Reentrant() && cfg.Parallelism > 1 {
		width = cfg.Parallelism
	}
	a := &Adapter{
		model:  model,
		cfg:    cfg,
		logger: logger.With(slog.String("component", "recognizer")),
		gate:   make(chan struct{}, width),
		clock:  time.Now,
		sleep:  time.Sleep,
	}
	if cfg.WarmupOnBoot {
		go a.Warmup(context.Background())
	}
	return a
}

// Warmup initializes the model off the request path.
func (a *Adapter) Warmup(ctx context.Context) {
	start := a.clock()
	if err := a.ensureInit(ctx); err != nil {
		a.logger.Warn("recognizer warm-up failed", slog.String("error", err.Error()))
		return
	}
	a.logger.Info("recognizer ready", slog.Duration("took", a.clock().Sub(start)))
}

func (a *Adapter) ensureInit(ctx context.Context) error {
	a.initOnce.Do(func() {
		a.initErr = a.model.Init(ctx)
	})
	return a.initErr
}

// Reentrant reports whether the underlying model accepts concurrent calls.
func (a *Adapter) Reentrant() bool { return a.model.Reentrant() }

// Transcribe runs one inference, retrying once with backoff on inference
// failure. Init failures propagate unretried.
func (a *Adapter) Transcribe(ctx context.Context, samples []int16, language string) (Result, error) {
	if !ValidLanguage(language) {
		return Result{}, fmt.Errorf("%w: %q", ErrUnsupportedLanguage, language)
	}
	if err := a.ensureInit(ctx); err != nil {
		return Result{}, fmt.Errorf("%w: %v", ErrModelInit, err)
	}

	select {
	case a.gate <- struct{}{}:
	case <-ctx.Done():
		return Result{}, ctx.Err()
	}
	defer func() { <-a.gate }()

	result, err := a.model.Transcribe(ctx, samples, language)
	if err == nil {
		return result, nil
	}
	if ctx.Err() != nil {
		return Result{}, ctx.Err()
	}

	a.logger.Warn("inference failed, retrying once", slog.String("error", err.Error()))
	a.sleep(retryBackoff)

	result, err = a.model.Transcribe(ctx, samples, language)
	if err != nil {
		return Result{}, fmt.Errorf("%w: %v", ErrModelInference, err)
	}
	return result, nil
}
