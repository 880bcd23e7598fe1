package server

import (
	"context"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"time"

	"github.com/typelesshq/typeless-core/internal/audioio"
	"github.com/typelesshq/typeless-core/internal/fault"
	"github.com/typelesshq/typeless-core/internal/postprocess"
)

// maxUploadMemory is the multipart parse buffer; larger parts spill to disk.
const maxUploadMemory = 8 << 20

func (s *Server) readUpload(r *http.Request, field string) (string, []int16, error) {
	if err := r.ParseMultipartForm(maxUploadMemory); err != nil {
		return "", nil, fault.Wrap(fault.InvalidInput, err, "parse multipart form")
	}
	file, header, err := r.FormFile(field)
	if err != nil {
		return "", nil, fault.Wrap(fault.InvalidInput, err, "missing %q file field", field)
	}
	defer file.Close()
	return s.decodeUploadFile(r.Context(), file, header)
}

func (s *Server) decodeUploadFile(ctx context.Context, file multipart.File, header *multipart.FileHeader) (string, []int16, error) {
	if !audioio.AcceptedUpload(header.Filename) {
		return "", nil, fault.New(fault.InvalidInput, "unsupported upload %q", header.Filename)
	}
	data, err := io.ReadAll(io.LimitReader(file, maxAudioBody))
	if err != nil {
		return "", nil, fault.Wrap(fault.InvalidInput, err, "read upload")
	}
	samples, err := audioio.DecodeUpload(ctx, header.Filename, data, s.cfg.RuntimeDir+"/tmp")
	if err != nil {
		return "", nil, err
	}
	return header.Filename, samples, nil
}

// handleUpload transcribes one short multipart file.
func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	filename, samples, err := s.readUpload(r, "file")
	if err != nil {
		writeError(w, err)
		return
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
		"filename":             filename,
		"transcript":           result.Transcript,
		"processed_transcript": result.Processed,
		"duration":             result.Duration,
		"postprocess_stats":    result.PostStats,
	})
}

// handleUploadLong transcribes a long multipart file with explicit
// segmentation and merge strategies.
func (s *Server) handleUploadLong(w http.ResponseWriter, r *http.Request) {
	filename, samples, err := s.readUpload(r, "file")
	if err != nil {
		writeError(w, err)
		return
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
		"filename":             filename,
		"transcript":           result.Transcript,
		"processed_transcript": result.Processed,
		"duration":             result.Duration,
		"total_segments":       result.Segments,
		"per_segment":          result.PerSegment,
		"merge_stats":          result.MergeStats,
		"postprocess_stats":    result.PostStats,
	})
}

// handleBatchTranscribe processes several multipart files sequentially; a
// failing file does not poison the batch.
func (s *Server) handleBatchTranscribe(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(maxUploadMemory); err != nil {
		writeError(w, fault.Wrap(fault.InvalidInput, err, "parse multipart form"))
		return
	}
	if r.MultipartForm == nil || len(r.MultipartForm.File["files"]) == 0 {
		writeError(w, fault.New(fault.InvalidInput, "no files provided"))
		return
	}
	params, err := s.paramsFromQuery(r)
	if err != nil {
		writeError(w, err)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 300*time.Second)
	defer cancel()

	type batchItem struct {
		Filename   string  `json:"filename"`
		Transcript string  `json:"transcript,omitempty"`
		Processed  string  `json:"processed_transcript,omitempty"`
		Duration   float64 `json:"duration,omitempty"`
		Error      string  `json:"error,omitempty"`
	}
	var items []batchItem
	succeeded := 0
	for _, header := range r.MultipartForm.File["files"] {
		item := batchItem{Filename: header.Filename}
		file, err := header.Open()
		if err != nil {
			item.Error = err.Error()
			items = append(items, item)
			continue
		}
		_, samples, err := s.decodeUploadFile(ctx, file, header)
		file.Close()
		if err != nil {
			item.Error = err.Error()
			items = append(items, item)
			continue
		}
		result, err := s.asr.Transcribe(ctx, samples, params)
		if err != nil {
			item.Error = err.Error()
			items = append(items, item)
			continue
		}
		item.Transcript = result.Transcript
		item.Processed = result.Processed
		item.Duration = result.Duration
		succeeded++
		items = append(items, item)
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"results":   items,
		"total":     len(items),
		"succeeded": succeeded,
	})
}

type textRequest struct {
	Text   string `json:"text"`
	Mode   string `json:"mode"`
	UseLLM bool   `json:"use_llm"`
	AppHint string `json:"app_hint"`
}

func (s *Server) handleText(w http.ResponseWriter, r *http.Request) {
	var req textRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, fault.Wrap(fault.InvalidInput, err, "decode json body"))
		return
	}
	mode := s.DefaultMode()
	if req.Mode != "" {
		var ok bool
		mode, ok = postprocess.ParseMode(req.Mode)
		if !ok {
			writeError(w, fault.New(fault.InvalidInput, "unknown mode %q", req.Mode))
			return
		}
	}
	if req.UseLLM && mode != postprocess.ModeNone {
		mode = postprocess.ModeAdvanced
	}

	result := s.asr.Processor().Process(r.Context(), postprocess.Request{
		Text:    req.Text,
		Mode:    mode,
		Profile: postprocess.ProfileFor(req.AppHint),
	})
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleConfigGet(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"default_mode":     string(s.DefaultMode()),
		"enhancer":         s.cfg.Enhancer.Provider,
		"merge_strategy":   s.cfg.Pipeline.MergeStrategy,
		"segment_strategy": s.cfg.Segmenter.Strategy,
	})
}

type configSetRequest struct {
	DefaultMode string `json:"default_mode"`
}

func (s *Server) handleConfigSet(w http.ResponseWriter, r *http.Request) {
	var req configSetRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, fault.Wrap(fault.InvalidInput, err, "decode json body"))
		return
	}
	mode, ok := postprocess.ParseMode(req.DefaultMode)
	if !ok {
		writeError(w, fault.New(fault.InvalidInput, "unknown mode %q", req.DefaultMode))
		return
	}
	s.defaultMode.Store(mode)
	writeJSON(w, http.StatusOK, map[string]any{"default_mode": string(mode)})
}
