// Package health exposes liveness and readiness endpoints for orchestration
// probes plus the root status endpoint.
package health

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
)

// ServiceReporter reports a service's registry counters for readiness
// payloads. Both cores satisfy it.
type ServiceReporter interface {
	Counts() (workspaces, rooms, connections int)
}

// Handler manages the health check endpoints.
type Handler struct {
	services map[string]ServiceReporter
}

// NewHandler creates a health handler over the given service reporters,
// keyed by service name.
func NewHandler(services map[string]ServiceReporter) *Handler {
	return &Handler{services: services}
}

// Root answers the top-level health probe.
func (h *Handler) Root(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":         "healthy",
		"server_running": true,
		"timestamp":      time.Now().UTC().Format(time.RFC3339Nano),
	})
}

// Liveness reports that the process is up. Always 200 while serving.
func (h *Handler) Liveness(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":    "alive",
		"timestamp": time.Now().UTC().Format(time.RFC3339Nano),
	})
}

// Readiness reports per-service registry counters. The server is memory-only,
// so readiness has no external dependencies to probe.
func (h *Handler) Readiness(c *gin.Context) {
	services := make(gin.H, len(h.services))
	for name, svc := range h.services {
		workspaces, rooms, connections := svc.Counts()
		services[name] = gin.H{
			"status":      "healthy",
			"workspaces":  workspaces,
			"rooms":       rooms,
			"connections": connections,
		}
	}

	c.JSON(http.StatusOK, gin.H{
		"status":    "ready",
		"services":  services,
		"timestamp": time.Now().UTC().Format(time.RFC3339Nano),
	})
}
