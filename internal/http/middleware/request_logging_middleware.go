package middleware

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
)

// RequestLogger emits one structured log line per request. Tokens embedded in
// verification and reset paths are logged by route pattern only.
func RequestLogger(logger *slog.Logger) func(http.Handler) http.Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := chimiddleware.NewWrapResponseWriter(w, r.ProtoMajor)

			next.ServeHTTP(ww, r)

			status := ww.Status()
			if status == 0 {
				status = http.StatusOK
			}

			routePattern := ""
			if routeCtx := chi.RouteContext(r.Context()); routeCtx != nil {
				routePattern = routeCtx.RoutePattern()
			}
			path := r.URL.Path
			if routePattern != "" {
				path = routePattern
			}

			attrs := []any{
				"method", r.Method,
				"route", path,
				"status", status,
				"bytes", ww.BytesWritten(),
				"duration_ms", float64(time.Since(start).Microseconds()) / 1000.0,
				"request_id", chimiddleware.GetReqID(r.Context()),
				"client_ip", clientIPKey(r),
				"user_agent", r.UserAgent(),
			}

			if status >= http.StatusInternalServerError {
				logger.ErrorContext(r.Context(), "http.request", attrs...)
				return
			}
			logger.InfoContext(r.Context(), "http.request", attrs...)
		})
	}
}
