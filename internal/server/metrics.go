package server

import (
	"net/http"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

type httpMetrics struct {
	requests metric.Int64Counter
	limited  metric.Int64Counter
}

func newHTTPMetrics() *httpMetrics {
	meter := otel.Meter("typeless-core/http")
	requests, _ := meter.Int64Counter("http_requests_total",
		metric.WithDescription("Requests handled per endpoint class"))
	limited, _ := meter.Int64Counter("http_rate_limited_total",
		metric.WithDescription("Requests rejected by the rate limiter"))
	return &httpMetrics{requests: requests, limited: limited}
}

func (m *httpMetrics) countRequest(r *http.Request, class string) {
	if m == nil || m.requests == nil {
		return
	}
	m.requests.Add(r.Context(), 1, metric.WithAttributes(
		attribute.String("class", class),
		attribute.String("method", r.Method),
	))
}

func (m *httpMetrics) countLimited(r *http.Request, class string) {
	if m == nil || m.limited == nil {
		return
	}
	m.limited.Add(r.Context(), 1, metric.WithAttributes(
		attribute.String("class", class),
	))
}
