package recognize

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"

	"github.com/typelesshq/typeless-core/internal/config"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
}

type flakyModel struct {
	failures  int32
	calls     int32
	initCalls int32
	initErr   error
	reentrant bool
}

func (m *flakyModel) Init(_ context.Context) error {
	atomic.AddInt32(&m.initCalls, 1)
	return m.initErr
}

func (m *flakyModel) Reentrant() bool { return m.reentrant }

func (m *flakyModel) Transcribe(_ context.Context, samples []int16, language string) (Result, error) {
	n := atomic.AddInt32(&m.calls, 1)
	if n <= atomic.LoadInt32(&m.failures) {
		return Result{}, errors.New("boom")
	}
	return Result{Text: "ok", Language: language}, nil
}

func testAdapter(model Model) *Adapter {
	cfg := config.Default().Recognizer
	cfg.WarmupOnBoot = false
	a := newAdapter(model, cfg, testLogger())
	a.sleep = func(time.Duration) {}
	return a
}

func TestAdapterRetriesOnceThenSucceeds(t *testing.T) {
	model := &flakyModel{failures: 1}
	a := testAdapter(model)

	result, err := a.Transcribe(context.Background(), []int16{1, 2, 3}, "en")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Text != "ok" {
		t.Fatalf("unexpected text %q", result.Text)
	}
	if model.calls != 2 {
		t.Fatalf("expected 2 attempts, got %d", model.calls)
	}
}

func TestAdapterSecondFailurePropagates(t *testing.T) {
	model := &flakyModel{failures: 2}
	a := testAdapter(model)

	_, err := a.Transcribe(context.Background(), []int16{1}, "")
	if !errors.Is(err, ErrModelInference) {
		t.Fatalf("expected ErrModelInference, got %v", err)
	}
	if model.calls != 2 {
		t.Fatalf("expected exactly 2 attempts, got %d", model.calls)
	}
}

func TestAdapterInitOnce(t *testing.T) {
	model := &flakyModel{}
	a := testAdapter(model)

	for i := 0; i < 3; i++ {
		if _, err := a.Transcribe(context.Background(), []int16{1}, "auto"); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if model.initCalls != 1 {
		t.Fatalf("expected 1 init call, got %d", model.initCalls)
	}
}

func TestAdapterInitFailureNotRetried(t *testing.T) {
	model := &flakyModel{initErr: errors.New("no model file")}
	a := testAdapter(model)

	_, err := a.Transcribe(context.Background(), []int16{1}, "")
	if !errors.Is(err, ErrModelInit) {
		t.Fatalf("expected ErrModelInit, got %v", err)
	}
	if model.calls != 0 {
		t.Fatalf("inference must not run after init failure")
	}
}

func TestAdapterRejectsUnknownLanguage(t *testing.T) {
	a := testAdapter(&flakyModel{})
	_, err := a.Transcribe(context.Background(), []int16{1}, "tlh")
	if !errors.Is(err, ErrUnsupportedLanguage) {
		t.Fatalf("expected ErrUnsupportedLanguage, got %v", err)
	}
}

func TestMockModelSilenceIsEmpty(t *testing.T) {
	m := NewMockModel()
	result, err := m.Transcribe(context.Background(), make([]int16, 16000), "en")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Text != "" {
		t.Fatalf("expected empty transcript for silence, got %q", result.Text)
	}
}
