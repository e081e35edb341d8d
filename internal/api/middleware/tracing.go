package middleware

import (
	"fmt"
	"net/http"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel"

	"github.com/philmcc/dbdash-backend/internal/pkg/tracing"
)

const TraceIDHeader = "X-Trace-ID"

// Tracing wraps HTTP handlers with OpenTelemetry instrumentation and
// echoes the active trace ID in the X-Trace-ID response header.
func Tracing(next http.Handler) http.Handler {
	return otelhttp.NewHandler(
		http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()

			if traceID := tracing.TraceIDFromContext(ctx); traceID != "" {
				w.Header().Set(TraceIDHeader, traceID)
			}

			next.ServeHTTP(w, r.WithContext(ctx))
		}),
		"http.request",
		otelhttp.WithSpanNameFormatter(func(operation string, r *http.Request) string {
			return fmt.Sprintf("%s %s", r.Method, r.URL.Path)
		}),
		otelhttp.WithPropagators(otel.GetTextMapPropagator()),
	)
}
