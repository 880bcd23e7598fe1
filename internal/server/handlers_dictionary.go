package server

import (
	"encoding/json"
	"net/http"
	"net/url"

	"github.com/go-chi/chi/v5"
	"github.com/typelesshq/typeless-core/internal/fault"
	"github.com/typelesshq/typeless-core/internal/postprocess"
)

func (s *Server) handleDictionaryList(w http.ResponseWriter, r *http.Request) {
	entries, err := s.asr.Processor().Dictionary().List(r.Context())
	if err != nil {
		writeError(w, fault.Wrap(fault.Internal, err, "list dictionary"))
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"entries": entries,
		"total":   len(entries),
	})
}

func (s *Server) handleDictionaryAdd(w http.ResponseWriter, r *http.Request) {
	var entry postprocess.Entry
	if err := json.NewDecoder(r.Body).Decode(&entry); err != nil {
		writeError(w, fault.Wrap(fault.InvalidInput, err, "decode json body"))
		return
	}
	if entry.Spoken == "" || entry.Written == "" {
		writeError(w, fault.New(fault.InvalidInput, "spoken and written are required"))
		return
	}
	if err := s.asr.Processor().Dictionary().Upsert(r.Context(), entry); err != nil {
		writeError(w, fault.Wrap(fault.Internal, err, "store dictionary entry"))
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "added",
		"entry":  entry,
	})
}

func (s *Server) handleDictionaryRemove(w http.ResponseWriter, r *http.Request) {
	spoken, err := url.PathUnescape(chi.URLParam(r, "spoken"))
	if err != nil || spoken == "" {
		writeError(w, fault.New(fault.InvalidInput, "invalid spoken form"))
		return
	}
	removed, err := s.asr.Processor().Dictionary().Remove(r.Context(), spoken)
	if err != nil {
		writeError(w, fault.Wrap(fault.Internal, err, "remove dictionary entry"))
		return
	}
	if !removed {
		writeError(w, fault.New(fault.NotFound, "no entry for %q", spoken))
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "removed", "spoken": spoken})
}
