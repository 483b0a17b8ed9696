package gateway

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Router builds the gateway's entire HTTP surface (spec §4.1.1): the two
// WebSocket upgrade endpoints plus the ambient health/metrics endpoints. The
// REST CRUD surface for nodes/servers/templates/rules lives outside this
// core per spec §1 and is not served here.
func (g *Gateway) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.Get("/ws/agent", g.ServeAgentWS)
	r.Get("/ws/client", g.ServeClientWS)

	r.Get("/healthz", g.handleHealthz)
	r.Handle("/metrics", promhttp.Handler())

	return r
}

// healthResponse is the /healthz body (spec §2.1): database reachability
// plus every registered subsystem's liveness.
type healthResponse struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks"`
}

func (g *Gateway) handleHealthz(w http.ResponseWriter, r *http.Request) {
	healthy := true
	checks := make(map[string]string, 1+len(g.liveness))

	if err := g.store.Ping(r.Context()); err != nil {
		checks["database"] = "down: " + err.Error()
		healthy = false
	} else {
		checks["database"] = "ok"
	}

	if g.agentSupervisionAlive() {
		checks["agent"] = "ok"
	} else {
		checks["agent"] = "down"
		healthy = false
	}

	g.livenessMu.RLock()
	for name, c := range g.liveness {
		if c.Alive() {
			checks[name] = "ok"
		} else {
			checks[name] = "down"
			healthy = false
		}
	}
	g.livenessMu.RUnlock()

	resp := healthResponse{Checks: checks}
	status := http.StatusOK
	resp.Status = "ok"
	if !healthy {
		status = http.StatusServiceUnavailable
		resp.Status = "unhealthy"
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(resp)
}
