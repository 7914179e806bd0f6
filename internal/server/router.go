package server

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/gaspardpetit/motionstream/internal/config"
	"github.com/gaspardpetit/motionstream/internal/hub"
	"github.com/gaspardpetit/motionstream/internal/serverstate"
)

// StateResponse is the body of GET /api/state.
type StateResponse struct {
	serverstate.State
	Subprotocol string             `json:"subprotocol"`
	Path        string             `json:"path"`
	QueueDepth  int                `json:"queue_depth"`
	Clients     []hub.ConnSnapshot `json:"clients"`
}

// NewRouter builds the HTTP handler: the websocket endpoint at cfg.Path plus
// health, state and metrics routes.
func NewRouter(cfg config.ServerConfig, h *hub.Hub, tr *serverstate.Tracker, gatherer prometheus.Gatherer) http.Handler {
	r := chi.NewRouter()
	if len(cfg.AllowedOrigins) > 0 {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins: cfg.AllowedOrigins,
			AllowedMethods: []string{"GET", "OPTIONS"},
			AllowedHeaders: []string{"*"},
		}))
	}
	for _, m := range MiddlewareChain() {
		r.Use(m)
	}

	r.Get("/healthz", healthHandler(h, tr))
	r.Route("/api", func(ar chi.Router) {
		ar.Get("/state", stateHandler(cfg, h, tr))
	})
	r.Get("/state", StatusPageHandler())
	if !cfg.SeparateMetrics() && gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	}
	r.Handle(cfg.Path, h)
	return r
}

func healthHandler(h *hub.Hub, tr *serverstate.Tracker) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		st := tr.State()
		code := http.StatusOK
		if st.Draining || h.Closing() {
			code = http.StatusServiceUnavailable
		}
		writeJSON(w, code, map[string]any{"status": st.Status, "connections": st.Connections})
	}
}

func stateHandler(cfg config.ServerConfig, h *hub.Hub, tr *serverstate.Tracker) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, StateResponse{
			State:       tr.State(),
			Subprotocol: cfg.Subprotocol,
			Path:        cfg.Path,
			QueueDepth:  h.QueueLen(),
			Clients:     h.Snapshot(),
		})
	}
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
