package core

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
)

// HealthStatus represents the health state of the camera core
type HealthStatus struct {
	Status          string `json:"status"` // "healthy", "degraded", "unhealthy"
	UptimeSeconds   int64  `json:"uptime_seconds"`
	SourceAvailable bool   `json:"source_available"`
	MediaPresent    bool   `json:"media_present"`
	MediaMounted    bool   `json:"media_mounted"`
	MQTTEnabled     bool   `json:"mqtt_enabled"`
	MQTTConnected   bool   `json:"mqtt_connected"`
	NetworkClients  int    `json:"network_clients"`
}

// HealthCheck returns the current health status without going through the
// owner loop.
func (c *Camera) HealthCheck() HealthStatus {
	c.mu.RLock()
	running := c.isRunning
	started := c.started
	c.mu.RUnlock()

	status := HealthStatus{
		Status:          "healthy",
		SourceAvailable: c.source.Available(),
		MediaPresent:    c.card.Present(),
		MediaMounted:    c.card.Mounted(),
		MQTTEnabled:     c.emitter != nil,
		NetworkClients:  c.hub.Clients(),
	}
	if running {
		status.UptimeSeconds = int64(time.Since(started).Seconds())
	}
	if c.emitter != nil {
		status.MQTTConnected = c.emitter.Connected()
	}

	switch {
	case !running:
		status.Status = "unhealthy"
	case !status.SourceAvailable || !status.MediaPresent:
		status.Status = "degraded"
	case status.MQTTEnabled && !status.MQTTConnected:
		status.Status = "degraded"
	}
	return status
}

// LivenessHandler handles /health (simple liveness check)
func (c *Camera) LivenessHandler(ctx *gin.Context) {
	c.mu.RLock()
	started := c.started
	c.mu.RUnlock()

	var uptime int64
	if !started.IsZero() {
		uptime = int64(time.Since(started).Seconds())
	}
	ctx.JSON(http.StatusOK, gin.H{
		"status": "alive",
		"uptime": uptime,
	})
}

// ReadinessHandler handles /readiness. Degraded is still ready.
func (c *Camera) ReadinessHandler(ctx *gin.Context) {
	health := c.HealthCheck()

	statusCode := http.StatusOK
	if health.Status == "unhealthy" {
		statusCode = http.StatusServiceUnavailable
	}
	ctx.JSON(statusCode, health)
}
