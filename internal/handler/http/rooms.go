// Package http carries the thin read-only HTTP surface next to the
// WebSocket gateway: health and room stats.
package http

import (
	nethttp "net/http"

	"github.com/gin-gonic/gin"

	"collaborative-canvas/internal/hub"
	"collaborative-canvas/internal/room"
)

// StatsHandler exposes room summaries and gateway totals.
type StatsHandler struct {
	registry *room.Registry
	hub      *hub.Hub
}

func NewStatsHandler(registry *room.Registry, h *hub.Hub) *StatsHandler {
	return &StatsHandler{registry: registry, hub: h}
}

// ListRooms answers GET /api/rooms.
func (h *StatsHandler) ListRooms(c *gin.Context) {
	rooms, sessions := h.registry.Stats()
	SuccessResponse(c, nethttp.StatusOK, gin.H{
		"rooms":            h.registry.List(),
		"totalRooms":       rooms,
		"totalUsers":       sessions,
		"connectedClients": h.hub.ConnectionCount(),
	})
}

// Health answers GET /healthz.
func (h *StatsHandler) Health(c *gin.Context) {
	SuccessResponse(c, nethttp.StatusOK, gin.H{"status": "ok"})
}
