package asr

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/typelesshq/typeless-core/internal/audioio"
	"github.com/typelesshq/typeless-core/internal/config"
	"github.com/typelesshq/typeless-core/internal/pipeline"
	"github.com/typelesshq/typeless-core/internal/postprocess"
	"github.com/typelesshq/typeless-core/internal/recognize"
	"github.com/typelesshq/typeless-core/internal/segment"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
}

type scriptRecognizer struct {
	failIndex int
	calls     int
}

func (r *scriptRecognizer) Transcribe(_ context.Context, samples []int16, _ string) (recognize.Result, error) {
	idx := r.calls
	r.calls++
	if idx == r.failIndex {
		return recognize.Result{}, errors.New("segment fault injected")
	}
	return recognize.Result{Text: "words"}, nil
}

func newTestService(t *testing.T, rec recognize.Recognizer) *Service {
	t.Helper()
	cfg := config.Default()
	dict, err := postprocess.OpenDictionary(context.Background(), "", testLogger())
	if err != nil {
		t.Fatalf("open dictionary: %v", err)
	}
	t.Cleanup(func() { _ = dict.Close() })
	return NewService(
		segment.New(cfg.Segmenter),
		pipeline.New(rec, 1, testLogger()),
		postprocess.NewProcessor(cfg.PostProcess, dict, nil, testLogger()),
		testLogger(),
	)
}

// Three 30 s bursts separated by silences make three segments; failing the
// middle one must leave the request successful with the outer segments
// merged.
func TestPartialSegmentFailureDegrades(t *testing.T) {
	var buf []int16
	burst := make([]int16, 30*audioio.SampleRate)
	for i := range burst {
		burst[i] = 8000
	}
	gap := make([]int16, audioio.SampleRate)
	buf = append(buf, burst...)
	buf = append(buf, gap...)
	buf = append(buf, burst...)
	buf = append(buf, gap...)
	buf = append(buf, burst...)

	svc := newTestService(t, &scriptRecognizer{failIndex: 1})
	result, err := svc.Transcribe(context.Background(), buf, Params{
		Strategy: segment.StrategyVAD,
		Merge:    pipeline.MergeSimple,
		Mode:     postprocess.ModeNone,
	})
	if err != nil {
		t.Fatalf("partial failure must not fail the request: %v", err)
	}
	if result.Segments != 3 {
		t.Fatalf("expected 3 segments, got %d", result.Segments)
	}
	if result.Transcript != "words words" {
		t.Fatalf("expected merge of surviving segments, got %q", result.Transcript)
	}
	if result.PerSegment[1].Error == "" {
		t.Fatal("failed segment must be annotated")
	}
}

func TestProcessedTranscriptFollowsMode(t *testing.T) {
	rec := &scriptRecognizer{failIndex: -1}
	svc := newTestService(t, rec)
	samples := make([]int16, audioio.SampleRate)
	for i := range samples {
		samples[i] = 4000
	}
	result, err := svc.Transcribe(context.Background(), samples, Params{
		Strategy: segment.StrategyFixed,
		Merge:    pipeline.MergeSimple,
		Mode:     postprocess.ModeStandard,
	})
	if err != nil {
		t.Fatalf("transcribe: %v", err)
	}
	if result.Duration != 1 {
		t.Fatalf("expected 1s duration, got %v", result.Duration)
	}
	if result.Processed == "" {
		t.Fatal("expected processed transcript")
	}
	if result.PostStats.Mode != "standard" {
		t.Fatalf("expected standard mode stats, got %s", result.PostStats.Mode)
	}
}
