package asr

import (
	"context"

	"github.com/typelesshq/typeless-core/internal/jobs"
	"github.com/typelesshq/typeless-core/internal/pipeline"
	"github.com/typelesshq/typeless-core/internal/postprocess"
	"github.com/typelesshq/typeless-core/internal/segment"
)

// JobTask adapts the service to the job queue: progress flows into the job
// record and the queue's cancel flag is polled at segment boundaries.
func (s *Service) JobTask() jobs.Task {
	return func(ctx context.Context, handle *jobs.Handle, input jobs.Input) (any, error) {
		strategy, _ := segment.ParseStrategy(input.Strategy)
		merge, _ := pipeline.ParseMergeStrategy(input.MergeStrategy)
		mode, _ := postprocess.ParseMode(input.Mode)

		language := input.Language
		if language == "auto" {
			language = ""
		}

		result, err := s.Transcribe(ctx, input.Samples, Params{
			Language: language,
			Strategy: strategy,
			Merge:    merge,
			Mode:     mode,
			Cancel:   handle.CancelFlag(),
			Progress: func(p pipeline.Progress) {
				handle.Progress(float64(p.Current)/float64(p.Total), p.Message)
			},
		})
		if err != nil {
			return nil, err
		}
		return result, nil
	}
}
