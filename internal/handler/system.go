package handler

import (
	"context"
	"net/http"
	"sort"
	"time"

	"tokenvault/pkg/logger"
)

// Check reports whether a dependency is reachable.
type Check func(ctx context.Context) error

type SystemHandler struct {
	service   string
	checks    map[string]Check
	logger    logger.Logger
	startTime time.Time
}

func NewSystemHandler(service string, log logger.Logger) *SystemHandler {
	return &SystemHandler{
		service:   service,
		checks:    make(map[string]Check),
		logger:    log,
		startTime: time.Now(),
	}
}

// AddCheck registers a readiness dependency under name.
func (h *SystemHandler) AddCheck(name string, check Check) {
	h.checks[name] = check
}

type ServiceStatus struct {
	Name      string `json:"name"`
	Status    string `json:"status"` // operational, outage
	LatencyMs int64  `json:"latency_ms"`
	Error     string `json:"error,omitempty"`
}

// Health handles GET /health. It never touches dependencies.
func (h *SystemHandler) Health(w http.ResponseWriter, r *http.Request) {
	respondJSON(h.logger, w, http.StatusOK, map[string]interface{}{
		"status":    "healthy",
		"service":   h.service,
		"uptime":    time.Since(h.startTime).Round(time.Second).String(),
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

// Ready handles GET /ready, probing every registered dependency.
func (h *SystemHandler) Ready(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	names := make([]string, 0, len(h.checks))
	for name := range h.checks {
		names = append(names, name)
	}
	sort.Strings(names)

	status := http.StatusOK
	services := make([]ServiceStatus, 0, len(names))
	for _, name := range names {
		start := time.Now()
		s := ServiceStatus{Name: name, Status: "operational"}
		if err := h.checks[name](ctx); err != nil {
			s.Status = "outage"
			s.Error = err.Error()
			status = http.StatusServiceUnavailable
			h.logger.Warn("Readiness check failed", map[string]interface{}{"dependency": name, "error": err.Error()})
		}
		s.LatencyMs = time.Since(start).Milliseconds()
		services = append(services, s)
	}

	ready := "ready"
	if status != http.StatusOK {
		ready = "not ready"
	}
	respondJSON(h.logger, w, status, map[string]interface{}{
		"status":   ready,
		"service":  h.service,
		"services": services,
	})
}
