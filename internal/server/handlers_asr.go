package server

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/typelesshq/typeless-core/internal/asr"
	"github.com/typelesshq/typeless-core/internal/audioio"
	"github.com/typelesshq/typeless-core/internal/fault"
	"github.com/typelesshq/typeless-core/internal/pipeline"
	"github.com/typelesshq/typeless-core/internal/postprocess"
	"github.com/typelesshq/typeless-core/internal/recognize"
	"github.com/typelesshq/typeless-core/internal/segment"
)

// maxAudioBody bounds a single audio request body (30 MB ≈ 15 min of PCM).
const maxAudioBody = 30 << 20

type startRequest struct {
	AppHint string `json:"app_hint"`
}

func (s *Server) handleStart(w http.ResponseWriter, r *http.Request) {
	var req startRequest
	if r.Body != nil {
		// Body is optional; decode errors on an empty body are fine.
		_ = json.NewDecoder(r.Body).Decode(&req)
	}
	id, err := s.sessions.Open(req.AppHint)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"session_id": id,
		"status":     "started",
	})
}

func (s *Server) handleAudio(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "sessionID")
	body, err := io.ReadAll(io.LimitReader(r.Body, maxAudioBody))
	if err != nil {
		writeError(w, fault.Wrap(fault.InvalidInput, err, "read audio body"))
		return
	}
	partial, err := s.sessions.Ingest(id, body)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"partial_transcript": partial,
		"is_final":           false,
	})
}

func (s *Server) handleStop(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "sessionID")
	result, err := s.sessions.Stop(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"session_id":           result.SessionID,
		"status":               "stopped",
		"final_transcript":     result.FinalTranscript,
		"processed_transcript": result.ProcessedTranscript,
		"total_chunks":         result.TotalChunks,
		"merge_stats":          result.MergeStats,
		"postprocess_stats":    result.PostStats,
	})
}

func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "sessionID")
	if err := s.sessions.Cancel(id); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "cancelled"})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	snap, err := s.sessions.Status(chi.URLParam(r, "sessionID"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

func (s *Server) handlePreview(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "sessionID")
	partial, err := s.sessions.Partial(id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"session_id":         id,
		"partial_transcript": partial,
		"is_final":           false,
	})
}

// handleTranscribe is the one-shot endpoint. The octet-stream body is raw
// PCM, or a WAV container detected by its RIFF header.
func (s *Server) handleTranscribe(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxAudioBody))
	if err != nil {
		writeError(w, fault.Wrap(fault.InvalidInput, err, "read audio body"))
		return
	}
	if len(body) == 0 {
		writeError(w, fault.New(fault.InvalidInput, "empty audio body"))
		return
	}

	var samples []int16
	if audioio.IsRIFF(body) {
		samples, err = audioio.DecodeWAV(body)
		if err != nil {
			writeError(w, fault.Wrap(fault.InvalidInput, err, "decode wav body"))
			return
		}
	} else {
		frame, ferr := audioio.FrameFromBytes(body)
		if ferr != nil {
			writeError(w, ferr)
			return
		}
		samples = frame.Samples()
	}

	params, err := s.paramsFromQuery(r)
	if err != nil {
		writeError(w, err)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 300*time.Second)
	defer cancel()
	result, err := s.asr.Transcribe(ctx, samples, params)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"transcript":           result.Transcript,
		"processed_transcript": result.Processed,
		"duration":             result.Duration,
		"sample_rate":          result.SampleRate,
		"total_segments":       result.Segments,
		"postprocess_stats":    result.PostStats,
	})
}

// paramsFromQuery reads the shared request parameters, validating the
// enumerations.
func (s *Server) paramsFromQuery(r *http.Request) (asr.Params, error) {
	q := r.URL.Query()
	get := func(name string) string {
		if v := q.Get(name); v != "" {
			return v
		}
		return r.FormValue(name)
	}

	language := get("language")
	if language == "auto" {
		language = ""
	}
	if !recognize.ValidLanguage(language) {
		return asr.Params{}, fault.New(fault.InvalidInput, "unknown language %q", language)
	}

	strategy, ok := segment.ParseStrategy(get("strategy"))
	if !ok {
		return asr.Params{}, fault.New(fault.InvalidInput, "unknown strategy %q", get("strategy"))
	}

	merge, ok := pipeline.ParseMergeStrategy(get("merge_strategy"))
	if !ok {
		return asr.Params{}, fault.New(fault.InvalidInput, "unknown merge_strategy %q", get("merge_strategy"))
	}

	mode := s.DefaultMode()
	if raw := get("postprocess_mode"); raw != "" {
		mode, ok = postprocess.ParseMode(raw)
		if !ok {
			return asr.Params{}, fault.New(fault.InvalidInput, "unknown postprocess_mode %q", raw)
		}
	}

	return asr.Params{
		Language: language,
		Strategy: strategy,
		Merge:    merge,
		Mode:     mode,
		AppHint:  get("app_hint"),
	}, nil
}
