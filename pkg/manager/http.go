package manager

import (
	"encoding/json"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Handler serves the manager's HTTP surface:
//
//	/metrics  Prometheus metrics from registry, when registry is set
//	/health   200 while the reviving loop runs, 503 otherwise
//	/status   JSON status of every target
func (m *ServersManager) Handler(registry *prometheus.Registry) http.Handler {
	mux := http.NewServeMux()

	if registry != nil {
		mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{Registry: registry}))
	}

	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		status := map[string]any{"reviving": m.Active(), "passes": m.Passes()}
		if !m.Active() {
			w.WriteHeader(http.StatusServiceUnavailable)
		}
		_ = json.NewEncoder(w).Encode(status)
	})

	mux.HandleFunc("/status", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		_ = enc.Encode(m.fleet.Status(r.Context()))
	})

	return mux
}
