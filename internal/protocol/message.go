// Package protocol defines the transport-agnostic wire format exchanged with
// clients and the validation applied before any payload reaches the stores.
package protocol

import (
	"encoding/json"
	"fmt"
	"time"
)

// ServerSessionID marks server-originated messages in the envelope.
const ServerSessionID = "server"

// Client -> server message types.
const (
	TypeCreateRoom    = "create_room"
	TypeJoinRoom      = "join_room"
	TypeLeaveRoom     = "leave_room"
	TypeElementCreate = "element_create"
	TypeElementUpdate = "element_update"
	TypeElementDelete = "element_delete"
	TypeCursorMove    = "cursor_move"
	TypeClearCanvas   = "clear_canvas"
	TypeGetRooms      = "get_rooms"
)

// Server -> client message types.
const (
	TypeRoomCreated    = "room_created"
	TypeRoomJoined     = "room_joined"
	TypeUserJoined     = "user_joined"
	TypeUserLeft       = "user_left"
	TypeElementCreated = "element_created"
	TypeElementUpdated = "element_updated"
	TypeElementDeleted = "element_deleted"
	TypeCursorMoved    = "cursor_moved"
	TypeCanvasCleared  = "canvas_cleared"
	TypeRoomsList      = "rooms_list"
	TypeError          = "error"
)

// Machine-readable codes carried by error events.
const (
	CodeValidation       = "VALIDATION"
	CodeNotFound         = "NOT_FOUND"
	CodeConflict         = "CONFLICT"
	CodeRoomFull         = "ROOM_FULL"
	CodePermissionDenied = "PERMISSION_DENIED"
)

// Message is the envelope of every message in either direction.
type Message struct {
	Type      string          `json:"type"`
	Data      json.RawMessage `json:"data,omitempty"`
	SessionID string          `json:"sessionId"`
	RoomID    string          `json:"roomId,omitempty"`
	Timestamp int64           `json:"timestamp"`
}

// Decode parses a raw inbound frame into an envelope. Only well-formedness is
// checked here, payload validation happens per message type.
func Decode(raw []byte) (Message, error) {
	var msg Message
	if err := json.Unmarshal(raw, &msg); err != nil {
		return Message{}, fmt.Errorf("malformed message: %w", err)
	}
	if msg.Type == "" {
		return Message{}, fmt.Errorf("malformed message: missing type")
	}
	return msg, nil
}

// Encode builds a server-originated frame.
func Encode(msgType, roomID string, data interface{}) ([]byte, error) {
	var raw json.RawMessage
	if data != nil {
		b, err := json.Marshal(data)
		if err != nil {
			return nil, fmt.Errorf("encode %s data: %w", msgType, err)
		}
		raw = b
	}
	return json.Marshal(Message{
		Type:      msgType,
		Data:      raw,
		SessionID: ServerSessionID,
		RoomID:    roomID,
		Timestamp: time.Now().UnixMilli(),
	})
}

// EncodeError builds an error event for the originating session.
func EncodeError(roomID, code, message string) []byte {
	b, err := Encode(TypeError, roomID, ErrorData{Message: message, Code: code})
	if err != nil {
		// ErrorData marshalling cannot fail, but keep the path total.
		return []byte(`{"type":"error","sessionId":"server","data":{"message":"internal error"}}`)
	}
	return b
}
