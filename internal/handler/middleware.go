package handler

import (
	"fmt"
	"net/http"
	"time"

	"paperreader/internal/domain"
)

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// RequestLogger logs one line per request and turns handler panics into 500s.
func RequestLogger(logger domain.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}

			defer func() {
				if p := recover(); p != nil {
					logger.Error("Handler panicked", fmt.Errorf("%v", p), "method", r.Method, "path", r.URL.Path)
					writeError(rec, http.StatusInternalServerError, "internal server error")
				}
				fields := []interface{}{
					"method", r.Method,
					"path", r.URL.Path,
					"status", rec.status,
					"elapsed_ms", time.Since(start).Milliseconds(),
				}
				if rec.status >= http.StatusInternalServerError {
					logger.Warn("Request failed", fields...)
					return
				}
				logger.Debug("Request served", fields...)
			}()

			next.ServeHTTP(rec, r)
		})
	}
}
