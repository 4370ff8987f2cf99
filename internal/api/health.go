package api

import (
	"context"
	"net/http"
	"sort"
	"time"
)

const healthCheckTimeout = 2 * time.Second

// Health status values.
const (
	healthOK        = "ok"
	healthDegraded  = "degraded"
	healthUnhealthy = "unhealthy"
)

type componentHealth struct {
	Status   string `json:"status"`
	Optional bool   `json:"optional,omitempty"`
	Error    string `json:"error,omitempty"`
}

type healthResponse struct {
	Status        string                     `json:"status"`
	Version       string                     `json:"version"`
	UptimeSeconds int64                      `json:"uptime_seconds"`
	Components    map[string]componentHealth `json:"components,omitempty"`
}

// handleHealth reports the service status. A failing required dependency
// makes the service unhealthy (503); a failing optional one only degrades it.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), healthCheckTimeout)
	defer cancel()

	resp := healthResponse{
		Status:        healthOK,
		Version:       s.version,
		UptimeSeconds: int64(time.Since(s.startTime).Seconds()),
		Components:    map[string]componentHealth{},
	}

	for _, name := range sortedNames(s.checks) {
		c := checkComponent(ctx, s.checks[name], false)
		if c.Status != healthOK {
			resp.Status = healthUnhealthy
		}
		resp.Components[name] = c
	}
	for _, name := range sortedNames(s.optional) {
		c := checkComponent(ctx, s.optional[name], true)
		if c.Status != healthOK && resp.Status == healthOK {
			resp.Status = healthDegraded
		}
		resp.Components[name] = c
	}

	status := http.StatusOK
	if resp.Status == healthUnhealthy {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, resp)
}

func checkComponent(ctx context.Context, c HealthChecker, optional bool) componentHealth {
	if err := c.HealthCheck(ctx); err != nil {
		return componentHealth{Status: healthUnhealthy, Optional: optional, Error: err.Error()}
	}
	return componentHealth{Status: healthOK, Optional: optional}
}

func sortedNames(m map[string]HealthChecker) []string {
	names := make([]string, 0, len(m))
	for name := range m {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
