package gateway

import (
	"context"
	"net/http"
	"time"

	"go.uber.org/zap"

	"lottery/raffle"
)

// HealthResponse is the readiness report
type HealthResponse struct {
	Status       string            `json:"status"` // "healthy", "degraded", "unhealthy"
	Timestamp    string            `json:"timestamp"`
	Version      string            `json:"version"`
	Uptime       string            `json:"uptime"`
	Dependencies map[string]Health `json:"dependencies"`
	Metrics      HealthMetrics     `json:"metrics"`
}

// Health is the status of one dependency
type Health struct {
	Status      string  `json:"status"` // "up", "down", "degraded"
	Latency     *string `json:"latency,omitempty"`
	Message     string  `json:"message,omitempty"`
	LastChecked string  `json:"last_checked"`
}

// HealthMetrics are the numbers readiness is judged on
type HealthMetrics struct {
	PendingRequests  int     `json:"pending_vrf_requests"`
	MaxPending       int     `json:"max_pending"`
	CapacityUsed     float64 `json:"capacity_used_percent"`
	Players          int     `json:"players"`
	WebsocketClients int     `json:"websocket_clients"`
}

// GET /health - liveness
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Access-Control-Allow-Origin", s.cfg.AllowedOrigin)

	s.metrics.HealthChecks.WithLabelValues("liveness", "healthy").Inc()
	writeJSON(w, http.StatusOK, map[string]string{
		"status":    "healthy",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
		"uptime":    time.Since(s.started).String(),
	})
}

// GET /readiness - is the raffle able to take entries and resolve rounds
func (s *Server) handleReadiness(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Access-Control-Allow-Origin", s.cfg.AllowedOrigin)

	now := time.Now().UTC().Format(time.RFC3339)
	deps := make(map[string]Health)
	overall := "healthy"

	snap := s.raffle.Snapshot()
	if snap.State == raffle.Open {
		deps["raffle"] = Health{Status: "up", Message: "Open for entries", LastChecked: now}
	} else {
		deps["raffle"] = Health{Status: "up", Message: "Calculating winner", LastChecked: now}
	}

	pending := len(s.oracle.Pending())
	capacity := float64(pending) / float64(s.cfg.MaxPending) * 100
	switch {
	case capacity >= 100:
		deps["vrf_coordinator"] = Health{Status: "down", Message: "Pending request backlog full", LastChecked: now}
		overall = "unhealthy"
	case capacity >= 90:
		deps["vrf_coordinator"] = Health{Status: "degraded", Message: "Pending request backlog near limit", LastChecked: now}
		overall = "degraded"
	default:
		deps["vrf_coordinator"] = Health{Status: "up", Message: "Fulfilling requests", LastChecked: now}
	}

	recHealth := s.checkRecorder(r.Context())
	deps["recorder"] = recHealth
	if recHealth.Status != "up" && overall == "healthy" {
		overall = "degraded"
	}

	status := http.StatusOK
	if overall == "unhealthy" {
		status = http.StatusServiceUnavailable
	}

	writeJSON(w, status, HealthResponse{
		Status:       overall,
		Timestamp:    now,
		Version:      s.cfg.Version,
		Uptime:       time.Since(s.started).String(),
		Dependencies: deps,
		Metrics: HealthMetrics{
			PendingRequests:  pending,
			MaxPending:       s.cfg.MaxPending,
			CapacityUsed:     capacity,
			Players:          len(snap.Players),
			WebsocketClients: s.hub.Clients(),
		},
	})

	s.metrics.HealthChecks.WithLabelValues("readiness", overall).Inc()
	for name, dep := range deps {
		var value float64
		switch dep.Status {
		case "up":
			value = 1.0
		case "degraded":
			value = 0.5
		}
		s.metrics.DependencyStatus.WithLabelValues(name).Set(value)
	}

	if overall != "healthy" {
		s.logger.Warn("Readiness check failed",
			zap.String("status", overall),
			zap.Any("dependencies", deps))
	}
}

// checkRecorder runs a one-row history query against the event store
func (s *Server) checkRecorder(ctx context.Context) Health {
	checkCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	start := time.Now()
	_, err := s.history.History(checkCtx, s.raffle.Address(), 1)
	latency := time.Since(start).String()
	now := time.Now().UTC().Format(time.RFC3339)

	if err != nil {
		return Health{Status: "down", Latency: &latency, Message: "Query failed: " + err.Error(), LastChecked: now}
	}
	return Health{Status: "up", Latency: &latency, Message: "Reachable", LastChecked: now}
}
