package main

import (
	"net/http"

	"go.opentelemetry.io/otel/trace"

	"github.com/blueberrycongee/fincopilot/internal/config"
	"github.com/blueberrycongee/fincopilot/internal/metrics"
	"github.com/blueberrycongee/fincopilot/internal/observability"
)

// buildMiddlewareStack wraps the whole mux. Order, outermost first:
// CORS, request ID, tracing, metrics.
func buildMiddlewareStack(cfg *config.Config, tracer trace.Tracer) (func(http.Handler) http.Handler, error) {
	if cfg == nil {
		return nil, errNilConfig
	}
	return func(next http.Handler) http.Handler {
		handler := metrics.Middleware(next)
		if tracer != nil {
			handler = observability.TraceMiddleware(tracer)(handler)
		}
		handler = observability.RequestIDMiddleware(handler)
		return corsMiddleware(cfg.CORS, handler)
	}, nil
}
