// Package hub is the connection gateway: it owns WebSocket connections,
// decodes inbound frames, dispatches them to room loops and maps each
// connection to at most one session/room association.
package hub

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"collaborative-canvas/internal/domain"
	"collaborative-canvas/internal/protocol"
	"collaborative-canvas/internal/room"
)

const statsLogInterval = 10 * time.Minute

// joinRetries bounds the GetOrCreate retry when a room closes between lookup
// and join.
const joinRetries = 3

// Hub dispatches decoded client messages to the room registry. Per-connection
// state (session and room association) is touched only by that connection's
// read pump, so it needs no locking; the hub-wide client set does.
type Hub struct {
	registry  *room.Registry
	clientURL string

	mu      sync.Mutex
	clients map[*Client]struct{}

	stop     chan struct{}
	stopOnce sync.Once
	log      *logrus.Entry
}

func NewHub(registry *room.Registry, clientURL string, logger *logrus.Logger) *Hub {
	if registry == nil {
		panic("room registry cannot be nil for Hub")
	}
	return &Hub{
		registry:  registry,
		clientURL: clientURL,
		clients:   make(map[*Client]struct{}),
		stop:      make(chan struct{}),
		log:       logger.WithField("component", "hub"),
	}
}

// Register tracks a freshly upgraded connection.
func (h *Hub) Register(c *Client) {
	h.mu.Lock()
	h.clients[c] = struct{}{}
	n := len(h.clients)
	h.mu.Unlock()
	h.log.WithField("connections", n).Info("Client connected")
}

// Disconnect performs the implicit-leave cleanup when a connection closes:
// the same logic as an explicit leave_room, then teardown of the send path.
func (h *Hub) Disconnect(c *Client) {
	h.leaveCurrentRoom(c)

	h.mu.Lock()
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		// The room no longer holds this peer, so nothing sends on c.send
		// anymore; closing it lets the write pump exit with a close frame.
		close(c.send)
	}
	n := len(h.clients)
	h.mu.Unlock()
	h.log.WithField("connections", n).Info("Client disconnected")
}

// ConnectionCount reports the number of live connections.
func (h *Hub) ConnectionCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// Run periodically logs gateway statistics until Stop is called.
func (h *Hub) Run() {
	ticker := time.NewTicker(statsLogInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			rooms, sessions := h.registry.Stats()
			h.log.WithFields(logrus.Fields{
				"connections": h.ConnectionCount(),
				"rooms":       rooms,
				"sessions":    sessions,
			}).Info("Gateway stats")
		case <-h.stop:
			return
		}
	}
}

// Stop halts the stats loop.
func (h *Hub) Stop() {
	h.stopOnce.Do(func() { close(h.stop) })
}

// Dispatch handles one inbound frame from a connection. Malformed input
// produces an error event back to the sender and is otherwise ignored; the
// connection stays open.
func (h *Hub) Dispatch(c *Client, raw []byte) {
	msg, err := protocol.Decode(raw)
	if err != nil {
		h.sendError(c, "", protocol.CodeValidation, "Invalid message format")
		return
	}

	switch msg.Type {
	case protocol.TypeCreateRoom:
		h.handleCreateRoom(c, msg)
	case protocol.TypeJoinRoom:
		h.handleJoinRoom(c, msg)
	case protocol.TypeLeaveRoom:
		h.leaveCurrentRoom(c)
	case protocol.TypeElementCreate:
		h.handleElementCreate(c, msg)
	case protocol.TypeElementUpdate:
		h.handleElementUpdate(c, msg)
	case protocol.TypeElementDelete:
		h.handleElementDelete(c, msg)
	case protocol.TypeCursorMove:
		h.handleCursorMove(c, msg)
	case protocol.TypeClearCanvas:
		h.handleClearCanvas(c, msg)
	case protocol.TypeGetRooms:
		h.handleGetRooms(c)
	default:
		h.sendError(c, msg.RoomID, protocol.CodeValidation, fmt.Sprintf("Unknown message type %q", msg.Type))
	}
}

func (h *Hub) handleCreateRoom(c *Client, msg protocol.Message) {
	data, err := protocol.DecodeCreateRoom(msg.Data)
	if err != nil {
		h.sendError(c, "", protocol.CodeValidation, err.Error())
		return
	}
	rm, err := h.registry.Create(data.RoomID, data.Settings)
	if err != nil {
		if errors.Is(err, domain.ErrRoomExists) {
			h.sendError(c, data.RoomID, protocol.CodeConflict, "Room already exists")
		} else {
			h.sendError(c, data.RoomID, protocol.CodeValidation, "Failed to create room")
		}
		return
	}
	h.reply(c, protocol.TypeRoomCreated, rm.ID(), protocol.RoomCreatedData{
		RoomID:  rm.ID(),
		RoomURL: fmt.Sprintf("%s?room=%s", h.clientURL, rm.ID()),
	})
}

func (h *Hub) handleJoinRoom(c *Client, msg protocol.Message) {
	if msg.RoomID == "" {
		h.sendError(c, "", protocol.CodeValidation, "Room ID is required to join")
		return
	}
	data, err := protocol.DecodeJoinRoom(msg.Data)
	if err != nil {
		h.sendError(c, msg.RoomID, protocol.CodeValidation, err.Error())
		return
	}

	// A second join before a leave is an implicit leave-then-join.
	h.leaveCurrentRoom(c)

	sessionID := msg.SessionID
	if sessionID == "" || sessionID == protocol.ServerSessionID {
		sessionID = uuid.NewString()
	}

	var res room.JoinResult
	for attempt := 0; ; attempt++ {
		rm := h.registry.GetOrCreate(msg.RoomID)
		res, err = rm.Join(sessionID, data.Name, data.Color, c)
		if errors.Is(err, domain.ErrRoomClosed) && attempt < joinRetries {
			continue // room evicted between lookup and join
		}
		if err == nil {
			c.sessionID = sessionID
			c.roomID = rm.ID()
		}
		break
	}
	if err != nil {
		if errors.Is(err, domain.ErrRoomFull) {
			h.sendError(c, msg.RoomID, protocol.CodeRoomFull, "Room is full")
		} else {
			h.sendError(c, msg.RoomID, protocol.CodeNotFound, "Failed to join room")
		}
		return
	}
	h.reply(c, protocol.TypeRoomJoined, msg.RoomID, protocol.RoomJoinedData{
		RoomID:   msg.RoomID,
		Elements: res.Elements,
		Users:    res.Sessions,
		User:     res.Session,
	})
}

func (h *Hub) handleElementCreate(c *Client, msg protocol.Message) {
	rm, ok := h.joinedRoom(c, msg.RoomID)
	if !ok {
		return
	}
	data, err := protocol.DecodeElementCreate(msg.Data)
	if err != nil {
		h.sendError(c, c.roomID, protocol.CodeValidation, err.Error())
		return
	}
	el, err := rm.CreateElement(c.sessionID, data.Type, data.Properties)
	if err != nil {
		h.sendOpError(c, err)
		return
	}
	// Direct ack so the author learns the server-assigned id and version;
	// the broadcast above excluded them.
	h.reply(c, protocol.TypeElementCreated, c.roomID, protocol.ElementCreatedData{
		Element:   el,
		SessionID: c.sessionID,
	})
}

func (h *Hub) handleElementUpdate(c *Client, msg protocol.Message) {
	rm, ok := h.joinedRoom(c, msg.RoomID)
	if !ok {
		return
	}
	data, err := protocol.DecodeElementUpdate(msg.Data)
	if err != nil {
		h.sendError(c, c.roomID, protocol.CodeValidation, err.Error())
		return
	}
	el, err := rm.UpdateElement(c.sessionID, data.ElementID, data.Changes, data.ExpectedVersion)
	if err != nil {
		h.sendOpError(c, err)
		return
	}
	h.reply(c, protocol.TypeElementUpdated, c.roomID, protocol.ElementUpdatedData{
		Element:   el,
		Version:   el.Version,
		SessionID: c.sessionID,
	})
}

func (h *Hub) handleElementDelete(c *Client, msg protocol.Message) {
	rm, ok := h.joinedRoom(c, msg.RoomID)
	if !ok {
		return
	}
	data, err := protocol.DecodeElementDelete(msg.Data)
	if err != nil {
		h.sendError(c, c.roomID, protocol.CodeValidation, err.Error())
		return
	}
	el, err := rm.DeleteElement(c.sessionID, data.ElementID)
	if err != nil {
		h.sendOpError(c, err)
		return
	}
	h.reply(c, protocol.TypeElementDeleted, c.roomID, protocol.ElementDeletedData{
		ElementID: el.ID,
		Version:   el.Version,
		SessionID: c.sessionID,
	})
}

func (h *Hub) handleCursorMove(c *Client, msg protocol.Message) {
	rm, ok := h.joinedRoom(c, msg.RoomID)
	if !ok {
		return
	}
	data, err := protocol.DecodeCursorMove(msg.Data)
	if err != nil {
		h.sendError(c, c.roomID, protocol.CodeValidation, err.Error())
		return
	}
	// Fire and forget; a cursor move racing a leave is a silent no-op.
	if err := rm.MoveCursor(c.sessionID, domain.Point{X: data.X, Y: data.Y}); err != nil {
		c.roomID, c.sessionID = "", ""
	}
}

func (h *Hub) handleClearCanvas(c *Client, msg protocol.Message) {
	rm, ok := h.joinedRoom(c, msg.RoomID)
	if !ok {
		return
	}
	if _, err := rm.ClearCanvas(c.sessionID); err != nil {
		h.sendOpError(c, err)
		return
	}
	h.reply(c, protocol.TypeCanvasCleared, c.roomID, protocol.CanvasClearedData{SessionID: c.sessionID})
}

func (h *Hub) handleGetRooms(c *Client) {
	rooms, sessions := h.registry.Stats()
	h.reply(c, protocol.TypeRoomsList, "", protocol.RoomsListData{
		Rooms:      h.registry.List(),
		TotalRooms: rooms,
		TotalUsers: sessions,
	})
}

// joinedRoom resolves the connection's room association, erroring back to
// the sender when there is none.
func (h *Hub) joinedRoom(c *Client, claimedRoomID string) (*room.Room, bool) {
	if c.roomID == "" || c.sessionID == "" {
		h.sendError(c, claimedRoomID, protocol.CodePermissionDenied, "Join a room first")
		return nil, false
	}
	rm, ok := h.registry.Get(c.roomID)
	if !ok {
		c.roomID, c.sessionID = "", ""
		h.sendError(c, claimedRoomID, protocol.CodeNotFound, "Room no longer exists")
		return nil, false
	}
	return rm, true
}

func (h *Hub) leaveCurrentRoom(c *Client) {
	if c.roomID == "" {
		return
	}
	if rm, ok := h.registry.Get(c.roomID); ok {
		if _, err := rm.Leave(c.sessionID); err != nil && !errors.Is(err, domain.ErrRoomClosed) {
			h.log.WithError(err).Warn("Leave failed")
		}
	}
	c.roomID, c.sessionID = "", ""
}

// sendOpError maps store errors to protocol error events for the originator.
func (h *Hub) sendOpError(c *Client, err error) {
	var conflict *domain.VersionConflictError
	switch {
	case errors.As(err, &conflict):
		frame, encErr := protocol.Encode(protocol.TypeError, c.roomID, protocol.ErrorData{
			Message:        conflict.Error(),
			Code:           protocol.CodeConflict,
			CurrentVersion: conflict.CurrentVersion,
			ElementID:      conflict.ElementID,
		})
		if encErr == nil {
			h.deliver(c, frame)
		}
	case errors.Is(err, domain.ErrElementNotFound):
		h.sendError(c, c.roomID, protocol.CodeNotFound, "Element not found")
	case errors.Is(err, domain.ErrSessionNotFound):
		h.sendError(c, c.roomID, protocol.CodePermissionDenied, "Session is not in this room")
	case errors.Is(err, domain.ErrRoomClosed):
		c.roomID, c.sessionID = "", ""
		h.sendError(c, "", protocol.CodeNotFound, "Room no longer exists")
	default:
		h.sendError(c, c.roomID, protocol.CodeValidation, err.Error())
	}
}

func (h *Hub) sendError(c *Client, roomID, code, message string) {
	h.deliver(c, protocol.EncodeError(roomID, code, message))
}

func (h *Hub) reply(c *Client, msgType, roomID string, data interface{}) {
	frame, err := protocol.Encode(msgType, roomID, data)
	if err != nil {
		h.log.WithError(err).WithField("event", msgType).Error("Failed to encode reply")
		return
	}
	h.deliver(c, frame)
}

func (h *Hub) deliver(c *Client, frame []byte) {
	if err := c.Send(frame); err != nil {
		h.log.WithError(err).Debug("Dropping reply, client send buffer full")
	}
}
