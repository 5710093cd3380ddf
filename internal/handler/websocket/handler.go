// Package websocket upgrades HTTP requests into gateway connections.
package websocket

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"collaborative-canvas/internal/hub"
)

// Handler upgrades /ws requests and hands the connection to the hub. Room
// membership is negotiated over the socket itself (join_room), not in the
// URL, so one endpoint serves every room.
type Handler struct {
	upgrader websocket.Upgrader
	hub      *hub.Hub
	log      *logrus.Entry
	logger   *logrus.Logger
}

func NewHandler(h *hub.Hub, logger *logrus.Logger) *Handler {
	if h == nil {
		panic("hub cannot be nil for websocket Handler")
	}
	return &Handler{
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// TODO: restrict origins once the deploy origin is fixed.
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		hub:    h,
		log:    logger.WithField("component", "ws_handler"),
		logger: logger,
	}
}

// HandleConnection upgrades the request and starts the client pumps.
func (h *Handler) HandleConnection(c *gin.Context) {
	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		// Upgrade already wrote the HTTP error response.
		h.log.WithError(err).Warn("Failed to upgrade connection")
		return
	}
	client := hub.NewClient(h.hub, conn, h.logger)
	h.hub.Register(client)
	client.Run()
}
