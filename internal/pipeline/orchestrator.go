// Package pipeline orchestrates per-segment recognition: ordered emission,
// bounded concurrency, per-segment failure isolation, and transcript
// merging.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"

	"github.com/typelesshq/typeless-core/internal/fault"
	"github.com/typelesshq/typeless-core/internal/recognize"
	"github.com/typelesshq/typeless-core/internal/segment"
)

// Transcription is one segment's recognized output. Error is set when the
// segment failed both attempts; its Text is then empty.
type Transcription struct {
	SegmentIndex int              `json:"segment_index"`
	Text         string           `json:"text"`
	Language     string           `json:"language,omitempty"`
	Speaker      string           `json:"speaker,omitempty"`
	Words        []recognize.Word `json:"words,omitempty"`
	Error        string           `json:"error,omitempty"`
}

// Progress is delivered to the sink after each segment completes, in index
// order. PartialText is the running merged transcript; SegmentText is the
// just-finished segment's own text.
type Progress struct {
	Current     int
	Total       int
	Message     string
	PartialText string
	SegmentText string
	Failed      bool
}

// ProgressFunc receives progress updates. It must not block for long; it is
// called on the orchestration goroutine between segments.
type ProgressFunc func(Progress)

// Options tune one pipeline invocation.
type Options struct {
	Language string
	Merge    MergeStrategy
	Progress ProgressFunc
	// Cancel is polled between segments. Once it is seen, Run returns and
	// cancels the context of recognizer calls still in flight; whatever
	// they return is discarded.
	Cancel *atomic.Bool
}

// Output is the pipeline result.
type Output struct {
	FinalTranscript string          `json:"final_transcript"`
	PerSegment      []Transcription `json:"per_segment"`
	MergeStats      MergeStats      `json:"merge_stats"`
	// SilenceBreaks are rune offsets into FinalTranscript at silences long
	// enough to suggest a paragraph break.
	SilenceBreaks []int `json:"-"`
}

// Orchestrator drives the recognizer over segment lists.
type Orchestrator struct {
	recognizer  recognize.Recognizer
	concurrency int
	logger      *slog.Logger
}

// New builds an orchestrator. Concurrency above 1 only helps when the
// recognizer is re-entrant; results still emit in order.
func New(recognizer recognize.Recognizer, concurrency int, logger *slog.Logger) *Orchestrator {
	if concurrency < 1 {
		concurrency = 1
	}
	return &Orchestrator{
		recognizer:  recognizer,
		concurrency: concurrency,
		logger:      logger.With(slog.String("component", "pipeline")),
	}
}

// Run transcribes every segment of samples and merges the results. Segment
// failures are isolated; only an all-segment failure reports
// RecognizerFailed. Cancellation is observed between segments.
func (o *Orchestrator) Run(ctx context.Context, samples []int16, segs []segment.Segment, opts Options) (Output, error) {
	if len(segs) == 0 {
		return Output{MergeStats: MergeStats{Strategy: string(opts.Merge)}}, nil
	}

	workCtx, cancelWork := context.WithCancel(ctx)
	defer cancelWork()

	results := make([]chan Transcription, len(segs))
	for i := range results {
		results[i] = make(chan Transcription, 1)
	}

	sem := make(chan struct{}, o.concurrency)
	go func() {
		for _, seg := range segs {
			if workCtx.Err() != nil || cancelled(opts.Cancel) {
				return
			}
			select {
			case sem <- struct{}{}:
			case <-workCtx.Done():
				return
			}
			seg := seg
			go func() {
				defer func() { <-sem }()
				results[seg.Index] <- o.transcribeSegment(workCtx, seg.Slice(samples), seg.Index, opts.Language)
			}()
		}
	}()

	parts := make([]Transcription, 0, len(segs))
	failed := 0
	for i := range segs {
		if cancelled(opts.Cancel) {
			cancelWork()
			return Output{}, fault.New(fault.Cancelled, "pipeline cancelled at segment %d/%d", i, len(segs))
		}
		var part Transcription
		select {
		case part = <-results[i]:
		case <-ctx.Done():
			return Output{}, ctx.Err()
		}
		parts = append(parts, part)
		if part.Error != "" {
			failed++
		}

		if opts.Progress != nil {
			partial, _, _ := merge(segs[:i+1], parts, MergeSimple)
			opts.Progress(Progress{
				Current:     i + 1,
				Total:       len(segs),
				Message:     fmt.Sprintf("segment %d/%d complete", i+1, len(segs)),
				PartialText: partial,
				SegmentText: part.Text,
				Failed:      part.Error != "",
			})
		}
	}

	if failed == len(segs) {
		return Output{PerSegment: parts}, fault.New(fault.RecognizerFailed, "all %d segments failed", len(segs))
	}

	text, breaks, stats := merge(segs, parts, opts.Merge)
	return Output{
		FinalTranscript: text,
		PerSegment:      parts,
		MergeStats:      stats,
		SilenceBreaks:   breaks,
	}, nil
}

func (o *Orchestrator) transcribeSegment(ctx context.Context, samples []int16, index int, language string) Transcription {
	result, err := o.recognizer.Transcribe(ctx, samples, language)
	if err != nil {
		o.logger.Warn("segment transcription failed",
			slog.Int("segment", index),
			slog.String("error", err.Error()))
		return Transcription{SegmentIndex: index, Error: err.Error()}
	}
	return Transcription{
		SegmentIndex: index,
		Text:         result.Text,
		Language:     result.Language,
		Speaker:      result.Speaker,
		Words:        result.Words,
	}
}

func cancelled(flag *atomic.Bool) bool {
	return flag != nil && flag.Load()
}
