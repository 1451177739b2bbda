// Package http provides net/http middleware for serving billing webhooks
package http

import (
	"fmt"
	"net/http"
	"time"

	"github.com/mihaimyh/payrecon/pkg/billing"
)

// statusRecorder captures the status code written by the wrapped handler
type statusRecorder struct {
	http.ResponseWriter
	status int
	bytes  int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (r *statusRecorder) Write(b []byte) (int, error) {
	if r.status == 0 {
		r.status = http.StatusOK
	}
	n, err := r.ResponseWriter.Write(b)
	r.bytes += n
	return n, err
}

// AccessLog logs one line per request with method, path, status and duration.
// Server errors are logged at error level, client errors at warn.
func AccessLog(logger billing.Logger) func(http.Handler) http.Handler {
	if logger == nil {
		logger = &billing.NoopLogger{}
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			rec := &statusRecorder{ResponseWriter: w}
			next.ServeHTTP(rec, r)

			status := rec.status
			if status == 0 {
				status = http.StatusOK
			}
			fields := []billing.Field{
				billing.F("method", r.Method),
				billing.F("path", r.URL.Path),
				billing.F("status", status),
				billing.F("bytes", rec.bytes),
				billing.F("duration", time.Since(start)),
			}
			switch {
			case status >= http.StatusInternalServerError:
				logger.Error("request", fields...)
			case status >= http.StatusBadRequest:
				logger.Warn("request", fields...)
			default:
				logger.Info("request", fields...)
			}
		})
	}
}

// Recover turns a panicking handler into a 500 response.
func Recover(logger billing.Logger) func(http.Handler) http.Handler {
	if logger == nil {
		logger = &billing.NoopLogger{}
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if v := recover(); v != nil {
					if v == http.ErrAbortHandler {
						panic(v)
					}
					logger.Error("handler panic", billing.Err(fmt.Errorf("%v", v)), billing.F("path", r.URL.Path))
					http.Error(w, "Internal Server Error", http.StatusInternalServerError)
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}

// Webhook mounts a provider's webhook handler on mux at path.
func Webhook(mux *http.ServeMux, path string, provider billing.Provider) {
	mux.Handle(path, provider.WebhookHandler())
}
