// Package asr composes the segmenter, the recognition pipeline, and the
// post-processor into one transcription service consumed by the one-shot,
// upload, job, and streaming surfaces.
package asr

import (
	"context"
	"log/slog"
	"sync/atomic"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/typelesshq/typeless-core/internal/audioio"
	"github.com/typelesshq/typeless-core/internal/pipeline"
	"github.com/typelesshq/typeless-core/internal/postprocess"
	"github.com/typelesshq/typeless-core/internal/segment"
)

// Params tune one transcription request.
type Params struct {
	Language string
	Strategy segment.Strategy
	Merge    pipeline.MergeStrategy
	Mode     postprocess.Mode
	AppHint  string
	Progress pipeline.ProgressFunc
	Cancel   *atomic.Bool
}

// Result is the full transcription outcome.
type Result struct {
	Transcript  string                   `json:"transcript"`
	Processed   string                   `json:"processed_transcript"`
	PerSegment  []pipeline.Transcription `json:"per_segment,omitempty"`
	MergeStats  pipeline.MergeStats      `json:"merge_stats"`
	PostStats   postprocess.Stats        `json:"postprocess_stats"`
	Duration    float64                  `json:"duration"`
	Segments    int                      `json:"total_segments"`
	SampleRate  int                      `json:"sample_rate"`
}

// Service runs buffers through segmentation, recognition, and cleanup.
type Service struct {
	segmenter *segment.Segmenter
	orch      *pipeline.Orchestrator
	processor *postprocess.Processor
	logger    *slog.Logger
	tracer    trace.Tracer
}

func NewService(segmenter *segment.Segmenter, orch *pipeline.Orchestrator, processor *postprocess.Processor, logger *slog.Logger) *Service {
	return &Service{
		segmenter: segmenter,
		orch:      orch,
		processor: processor,
		logger:    logger.With(slog.String("component", "asr")),
		tracer:    otel.Tracer("typeless-core/asr"),
	}
}

// Transcribe segments the buffer, recognizes each segment in order, merges,
// and post-processes. Per-segment failures degrade silently; the error is
// non-nil only for whole-invocation failures.
func (s *Service) Transcribe(ctx context.Context, samples []int16, p Params) (Result, error) {
	ctx, span := s.tracer.Start(ctx, "asr.transcribe", trace.WithAttributes(
		attribute.String("strategy", string(p.Strategy)),
		attribute.String("merge_strategy", string(p.Merge)),
		attribute.Float64("audio_seconds", float64(len(samples))/audioio.SampleRate),
	))
	defer span.End()

	segs := s.segmenter.Split(samples, p.Strategy)
	span.SetAttributes(attribute.Int("segments", len(segs)))

	out, err := s.orch.Run(ctx, samples, segs, pipeline.Options{
		Language: p.Language,
		Merge:    p.Merge,
		Progress: p.Progress,
		Cancel:   p.Cancel,
	})
	if err != nil {
		return Result{}, err
	}

	processed := s.processor.Process(ctx, postprocess.Request{
		Text:           out.FinalTranscript,
		Mode:           p.Mode,
		Profile:        postprocess.ProfileFor(p.AppHint),
		ParagraphHints: out.SilenceBreaks,
	})

	return Result{
		Transcript: out.FinalTranscript,
		Processed:  processed.Processed,
		PerSegment: out.PerSegment,
		MergeStats: out.MergeStats,
		PostStats:  processed.Stats,
		Duration:   float64(len(samples)) / audioio.SampleRate,
		Segments:   len(segs),
		SampleRate: audioio.SampleRate,
	}, nil
}

// Processor exposes the post-processor for the text-only endpoints.
func (s *Service) Processor() *postprocess.Processor { return s.processor }
