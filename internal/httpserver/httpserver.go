// Package httpserver mounts the ops HTTP surface (/healthz, /metrics) the
// same way kernel/cmd/kernel/main.go mounts its status/JWKS endpoints: a
// bare chi.Router with handlers registered directly, no middleware stack
// beyond what each handler needs.
package httpserver

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Pinger is satisfied by internal/store.SignatureStore.
type Pinger interface {
	Ping(ctx context.Context) error
}

// New builds the ops router: GET /healthz (backed by store connectivity)
// and GET /metrics (Prometheus exposition format).
func New(store Pinger, reg *prometheus.Registry) http.Handler {
	r := chi.NewRouter()

	r.Get("/healthz", func(w http.ResponseWriter, req *http.Request) {
		if err := store.Ping(req.Context()); err != nil {
			w.WriteHeader(http.StatusServiceUnavailable)
			w.Write([]byte("unhealthy: " + err.Error()))
			return
		}
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})

	r.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))

	return r
}
