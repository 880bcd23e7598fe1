package server

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/typelesshq/typeless-core/internal/fault"
)

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

type errorBody struct {
	Error      string `json:"error"`
	Kind       string `json:"kind"`
	RetryAfter int    `json:"retry_after,omitempty"`
}

// writeError maps a fault to its HTTP status and renders the error body.
// Internal faults never leak their cause.
func writeError(w http.ResponseWriter, err error) {
	kind := fault.KindOf(err)
	status := fault.HTTPStatus(kind)
	msg := err.Error()
	if kind == fault.Internal {
		msg = "internal error"
	}
	retryAfter := fault.RetryAfterOf(err)
	if retryAfter > 0 {
		w.Header().Set("Retry-After", strconv.Itoa(retryAfter))
	}
	writeJSON(w, status, errorBody{Error: msg, Kind: string(kind), RetryAfter: retryAfter})
}
