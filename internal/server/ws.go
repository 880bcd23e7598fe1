package server

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/typelesshq/typeless-core/internal/asr"
	"github.com/typelesshq/typeless-core/internal/audioio"
	"github.com/typelesshq/typeless-core/internal/pipeline"
	"github.com/typelesshq/typeless-core/internal/postprocess"
	"github.com/typelesshq/typeless-core/internal/segment"
)

const (
	wsIdleTimeout  = 300 * time.Second
	wsWriteTimeout = 10 * time.Second
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  16 << 10,
	WriteBufferSize: 16 << 10,
	// Local desktop clients connect from arbitrary origins.
	CheckOrigin: func(*http.Request) bool { return true },
}

type wsAction struct {
	Action           string `json:"action"`
	Strategy         string `json:"strategy"`
	MergeStrategy    string `json:"merge_strategy"`
	ApplyPostprocess *bool  `json:"apply_postprocess"`
	Language         string `json:"language"`
}

type wsConn struct {
	conn *websocket.Conn
}

func (c *wsConn) send(v any) error {
	_ = c.conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
	return c.conn.WriteJSON(v)
}

func (c *wsConn) read() (int, []byte, error) {
	_ = c.conn.SetReadDeadline(time.Now().Add(wsIdleTimeout))
	return c.conn.ReadMessage()
}

// handleStreamProgress implements the progress-streaming protocol: JSON text
// frames carry actions, binary frames carry raw PCM; the server answers with
// typed events ending in exactly one complete or error.
func (s *Server) handleStreamProgress(w http.ResponseWriter, r *http.Request) {
	raw, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer raw.Close()
	c := &wsConn{conn: raw}

	sessionID := uuid.NewString()
	if err := c.send(map[string]any{
		"type":       "started",
		"session_id": sessionID,
		"timestamp":  time.Now().UTC().Format(time.RFC3339),
	}); err != nil {
		return
	}

	var frames []audioio.Frame
	started := false
	processed := false

	fail := func(message string) {
		_ = c.send(map[string]any{
			"type":       "error",
			"message":    message,
			"session_id": sessionID,
		})
	}

	for {
		msgType, payload, err := c.read()
		if err != nil {
			return
		}
		switch msgType {
		case websocket.TextMessage:
			var action wsAction
			if err := json.Unmarshal(payload, &action); err != nil {
				fail("invalid json frame")
				return
			}
			switch action.Action {
			case "start":
				if started {
					continue
				}
				started = true
				if err := c.send(map[string]any{
					"type":       "ready",
					"session_id": sessionID,
					"message":    "ready to receive audio chunks",
				}); err != nil {
					return
				}
			case "process":
				if processed {
					continue
				}
				if !s.wsProcess(c, sessionID, frames, action) {
					return
				}
				processed = true
			case "stop":
				if !processed {
					s.wsFinish(c, sessionID, frames)
				}
				return
			}
		case websocket.BinaryMessage:
			if !started || processed {
				continue
			}
			frame, err := audioio.FrameFromBytes(payload)
			if err != nil {
				fail(err.Error())
				return
			}
			frames = append(frames, frame)
			if err := c.send(map[string]any{
				"type":         "chunk_received",
				"chunk_number": len(frames),
				"session_id":   sessionID,
			}); err != nil {
				return
			}
		}
	}
}

// wsProcess runs the segmented pipeline over the accumulated audio, emitting
// progress and segment_complete events, then the terminal complete. Returns
// false when the connection should close.
func (s *Server) wsProcess(c *wsConn, sessionID string, frames []audioio.Frame, action wsAction) bool {
	if len(frames) == 0 {
		_ = c.send(map[string]any{
			"type":       "error",
			"message":    "no audio chunks received",
			"session_id": sessionID,
		})
		return false
	}

	strategy, ok := segment.ParseStrategy(action.Strategy)
	if !ok {
		_ = c.send(map[string]any{"type": "error", "message": "unknown strategy", "session_id": sessionID})
		return false
	}
	mergeStrategy, ok := pipeline.ParseMergeStrategy(action.MergeStrategy)
	if !ok {
		_ = c.send(map[string]any{"type": "error", "message": "unknown merge_strategy", "session_id": sessionID})
		return false
	}
	applyPost := action.ApplyPostprocess == nil || *action.ApplyPostprocess
	mode := postprocess.ModeNone
	if applyPost {
		mode = s.DefaultMode()
	}

	samples := audioio.Concat(frames).Samples()
	duration := float64(len(samples)) / audioio.SampleRate

	ctx, cancel := context.WithTimeout(context.Background(), 300*time.Second)
	defer cancel()

	sendFailed := false
	progress := func(p pipeline.Progress) {
		if sendFailed {
			return
		}
		percent := float64(p.Current) / float64(p.Total) * 100
		if err := c.send(map[string]any{
			"type":             "progress",
			"current_segment":  p.Current,
			"total_segments":   p.Total,
			"progress_percent": percent,
			"message":          p.Message,
			"session_id":       sessionID,
		}); err != nil {
			sendFailed = true
			return
		}
		if err := c.send(map[string]any{
			"type":            "segment_complete",
			"current_segment": p.Current,
			"total_segments":  p.Total,
			"transcript_part": p.SegmentText,
			"session_id":      sessionID,
		}); err != nil {
			sendFailed = true
		}
	}

	result, err := s.asr.Transcribe(ctx, samples, asr.Params{
		Language: normalizeLanguage(action.Language),
		Strategy: strategy,
		Merge:    mergeStrategy,
		Mode:     mode,
		Progress: progress,
	})
	if err != nil {
		_ = c.send(map[string]any{
			"type":       "error",
			"message":    err.Error(),
			"session_id": sessionID,
		})
		return false
	}
	if sendFailed {
		return false
	}

	return c.send(map[string]any{
		"type":                 "complete",
		"session_id":           sessionID,
		"final_transcript":     result.Transcript,
		"processed_transcript": result.Processed,
		"total_segments":       result.Segments,
		"duration":             duration,
		"strategy":             string(strategy),
		"merge_strategy":       string(mergeStrategy),
	}) == nil
}

// wsFinish handles stop without a prior process: one unsegmented pass.
func (s *Server) wsFinish(c *wsConn, sessionID string, frames []audioio.Frame) {
	if len(frames) == 0 {
		_ = c.send(map[string]any{
			"type":             "complete",
			"session_id":       sessionID,
			"final_transcript": "",
			"total_segments":   0,
		})
		return
	}
	samples := audioio.Concat(frames).Samples()
	ctx, cancel := context.WithTimeout(context.Background(), 300*time.Second)
	defer cancel()
	result, err := s.recognizer.Transcribe(ctx, samples, "")
	if err != nil {
		_ = c.send(map[string]any{
			"type":       "error",
			"message":    err.Error(),
			"session_id": sessionID,
		})
		return
	}
	_ = c.send(map[string]any{
		"type":             "complete",
		"session_id":       sessionID,
		"final_transcript": result.Text,
		"total_segments":   1,
		"duration":         float64(len(samples)) / audioio.SampleRate,
	})
}

// handleStream is the per-chunk streaming variant: every binary frame gets a
// partial transcript, stop returns the whole-buffer transcript.
func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	raw, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer raw.Close()
	c := &wsConn{conn: raw}

	sessionID := uuid.NewString()
	var frames []audioio.Frame
	started := false

	for {
		msgType, payload, err := c.read()
		if err != nil {
			return
		}
		switch msgType {
		case websocket.TextMessage:
			var action wsAction
			if err := json.Unmarshal(payload, &action); err != nil {
				return
			}
			switch action.Action {
			case "start":
				if started {
					continue
				}
				started = true
				if err := c.send(map[string]any{
					"status":     "started",
					"session_id": sessionID,
				}); err != nil {
					return
				}
			case "stop":
				finalText := ""
				if len(frames) > 0 {
					ctx, cancel := context.WithTimeout(context.Background(), 300*time.Second)
					result, err := s.recognizer.Transcribe(ctx, audioio.Concat(frames).Samples(), normalizeLanguage(action.Language))
					cancel()
					if err == nil {
						finalText = result.Text
					}
				}
				_ = c.send(map[string]any{
					"final_transcript": finalText,
					"total_chunks":     len(frames),
				})
				return
			}
		case websocket.BinaryMessage:
			if !started {
				continue
			}
			frame, err := audioio.FrameFromBytes(payload)
			if err != nil {
				continue
			}
			frames = append(frames, frame)

			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			result, rerr := s.recognizer.Transcribe(ctx, frame.Samples(), "")
			cancel()
			text := ""
			if rerr == nil {
				text = result.Text
			}
			if err := c.send(map[string]any{
				"transcript": text,
				"is_final":   false,
			}); err != nil {
				return
			}
		}
	}
}

func normalizeLanguage(lang string) string {
	if lang == "auto" {
		return ""
	}
	return lang
}
