package server

import (
	"net/http"

	"github.com/typelesshq/typeless-core/internal/config"
	"github.com/typelesshq/typeless-core/internal/fault"
)

const apiKeyHeader = "X-API-Key"

type apiKeys struct {
	enabled bool
	keys    map[string]bool
	admin   map[string]bool
}

func newAPIKeys(cfg config.AuthConfig) *apiKeys {
	a := &apiKeys{
		enabled: cfg.Enabled,
		keys:    make(map[string]bool),
		admin:   make(map[string]bool),
	}
	for _, k := range cfg.APIKeys {
		a.keys[k] = true
	}
	for _, k := range cfg.AdminKeys {
		a.keys[k] = true
		a.admin[k] = true
	}
	return a
}

// require rejects requests without a valid API key when auth is enabled.
// Health endpoints and WebSocket upgrades bypass this middleware entirely.
func (a *apiKeys) require(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !a.enabled {
			next.ServeHTTP(w, r)
			return
		}
		key := r.Header.Get(apiKeyHeader)
		if key == "" {
			writeError(w, fault.New(fault.Unauthenticated, "missing %s header", apiKeyHeader))
			return
		}
		if !a.keys[key] {
			writeError(w, fault.New(fault.Forbidden, "invalid api key"))
			return
		}
		next.ServeHTTP(w, r)
	})
}
