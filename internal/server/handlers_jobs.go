package server

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/typelesshq/typeless-core/internal/fault"
	"github.com/typelesshq/typeless-core/internal/jobs"
)

func (s *Server) handleJobSubmit(w http.ResponseWriter, r *http.Request) {
	filename, samples, err := s.readUpload(r, "file")
	if err != nil {
		writeError(w, err)
		return
	}
	// Validate the enumerations up front; the worker trusts them.
	if _, err := s.paramsFromQuery(r); err != nil {
		writeError(w, err)
		return
	}

	id, err := s.jobs.Submit(jobs.Input{
		Filename:      filename,
		Samples:       samples,
		Language:      r.FormValue("language"),
		Strategy:      r.FormValue("strategy"),
		MergeStrategy: r.FormValue("merge_strategy"),
		Mode:          r.FormValue("postprocess_mode"),
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"job_id": id,
		"status": "submitted",
	})
}

func (s *Server) handleJobStatus(w http.ResponseWriter, r *http.Request) {
	snap, err := s.jobs.Status(chi.URLParam(r, "jobID"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

func (s *Server) handleJobCancel(w http.ResponseWriter, r *http.Request) {
	snap, err := s.jobs.Cancel(chi.URLParam(r, "jobID"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

func (s *Server) handleJobList(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	var filter jobs.State
	if raw := q.Get("status"); raw != "" {
		switch jobs.State(raw) {
		case jobs.StatePending, jobs.StateProcessing, jobs.StateCompleted, jobs.StateFailed, jobs.StateCancelled:
			filter = jobs.State(raw)
		default:
			writeError(w, fault.New(fault.InvalidInput, "unknown status %q", raw))
			return
		}
	}
	limit := 100
	if raw := q.Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			writeError(w, fault.New(fault.InvalidInput, "invalid limit %q", raw))
			return
		}
		limit = parsed
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"jobs": s.jobs.List(filter, limit),
	})
}

func (s *Server) handleJobStats(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.jobs.Stats())
}
