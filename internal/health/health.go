// Package health serves liveness and readiness probes on the metrics
// listener.
//
//   - /healthz answers 200 whenever the process can serve HTTP.
//   - /readyz answers 200 only while every registered probe passes, with a
//     per-probe breakdown in the JSON body.
package health

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"
)

// probeTimeout bounds a single readiness probe.
const probeTimeout = 3 * time.Second

// Probe reports whether one dependency is ready. It must respect context
// cancellation.
type Probe func(ctx context.Context) error

type namedProbe struct {
	name  string
	probe Probe
}

// Handler evaluates registered probes for /readyz. Safe for concurrent use.
type Handler struct {
	mu     sync.RWMutex
	probes []namedProbe
}

// New creates an empty Handler; register probes with Add.
func New() *Handler { return &Handler{} }

// Add registers a named readiness probe. Probes run in registration order.
func (h *Handler) Add(name string, p Probe) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.probes = append(h.probes, namedProbe{name: name, probe: p})
}

// Mount attaches the probe routes to mux.
func (h *Handler) Mount(mux *http.ServeMux) {
	mux.HandleFunc("GET /healthz", h.liveness)
	mux.HandleFunc("GET /readyz", h.readiness)
}

type report struct {
	Status string            `json:"status"`
	Probes map[string]string `json:"probes,omitempty"`
}

func (h *Handler) liveness(w http.ResponseWriter, _ *http.Request) {
	respond(w, http.StatusOK, report{Status: "ok"})
}

func (h *Handler) readiness(w http.ResponseWriter, r *http.Request) {
	h.mu.RLock()
	probes := h.probes
	h.mu.RUnlock()

	rep := report{Status: "ok", Probes: make(map[string]string, len(probes))}
	code := http.StatusOK

	for _, np := range probes {
		ctx, cancel := context.WithTimeout(r.Context(), probeTimeout)
		err := np.probe(ctx)
		cancel()

		if err != nil {
			rep.Probes[np.name] = "fail: " + err.Error()
			rep.Status = "fail"
			code = http.StatusServiceUnavailable
			continue
		}
		rep.Probes[np.name] = "ok"
	}

	respond(w, code, rep)
}

func respond(w http.ResponseWriter, code int, rep report) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(rep); err != nil {
		http.Error(w, `{"status":"error"}`, http.StatusInternalServerError)
	}
}
