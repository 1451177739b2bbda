package main

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/mihaimyh/payrecon/pkg/billing"
	httpmw "github.com/mihaimyh/payrecon/middleware/http"
)

type healthCheck func(ctx context.Context) error

const healthTimeout = 2 * time.Second

func newRouter(
	provider billing.Provider, gatherer prometheus.Gatherer, checks map[string]healthCheck, logger billing.Logger,
) http.Handler {
	r := chi.NewRouter()
	r.Use(httpmw.Recover(logger))
	r.Use(httpmw.AccessLog(logger))

	r.Handle("/webhooks/"+provider.Name(), provider.WebhookHandler())
	r.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	r.Get("/healthz", healthHandler(checks))
	return r
}

func healthHandler(checks map[string]healthCheck) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), healthTimeout)
		defer cancel()

		status := http.StatusOK
		result := make(map[string]string, len(checks))
		for name, check := range checks {
			if err := check(ctx); err != nil {
				status = http.StatusServiceUnavailable
				result[name] = err.Error()
				continue
			}
			result[name] = "ok"
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_ = json.NewEncoder(w).Encode(result)
	}
}
