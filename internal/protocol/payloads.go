package protocol

import (
	"encoding/json"
	"fmt"

	"collaborative-canvas/internal/domain"
)

// CreateRoomData is the optional payload of a create_room request.
type CreateRoomData struct {
	RoomID   string               `json:"roomId,omitempty"`
	Settings *domain.RoomSettings `json:"settings,omitempty"`
}

// JoinRoomData carries the display attributes of a joining session.
type JoinRoomData struct {
	Name  string `json:"name,omitempty"`
	Color string `json:"color,omitempty"`
}

// ElementCreateData is the element payload minus the server-assigned id and
// version.
type ElementCreateData struct {
	Type       domain.ElementType       `json:"type"`
	Properties domain.ElementProperties `json:"properties"`
}

// ElementUpdateData carries a shallow patch plus the version the client last
// observed. A nil ExpectedVersion skips the optimistic-concurrency check.
type ElementUpdateData struct {
	ElementID       string              `json:"elementId"`
	Changes         domain.ElementPatch `json:"changes"`
	ExpectedVersion *uint64             `json:"expectedVersion,omitempty"`
}

// ElementDeleteData identifies the element to tombstone.
type ElementDeleteData struct {
	ElementID string `json:"elementId"`
}

// CursorMoveData is a live cursor position, never persisted.
type CursorMoveData struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// RoomCreatedData answers a create_room request.
type RoomCreatedData struct {
	RoomID  string `json:"roomId"`
	RoomURL string `json:"roomUrl"`
}

// RoomJoinedData is the initial state handed to a newly joined session.
type RoomJoinedData struct {
	RoomID   string           `json:"roomId"`
	Elements []domain.Element `json:"elements"`
	Users    []domain.Session `json:"users"`
	User     domain.Session   `json:"user"`
}

// UserLeftData identifies the departed session.
type UserLeftData struct {
	SessionID string `json:"sessionId"`
}

// ElementCreatedData broadcasts a freshly created element.
type ElementCreatedData struct {
	Element   domain.Element `json:"element"`
	SessionID string         `json:"sessionId"`
}

// ElementUpdatedData broadcasts an accepted update with its new version.
type ElementUpdatedData struct {
	Element   domain.Element `json:"element"`
	Version   uint64         `json:"version"`
	SessionID string         `json:"sessionId"`
}

// ElementDeletedData broadcasts a tombstoned element.
type ElementDeletedData struct {
	ElementID string `json:"elementId"`
	Version   uint64 `json:"version"`
	SessionID string `json:"sessionId"`
}

// CursorMovedData broadcasts a peer's cursor position.
type CursorMovedData struct {
	SessionID string  `json:"sessionId"`
	X         float64 `json:"x"`
	Y         float64 `json:"y"`
}

// CanvasClearedData names the session that cleared the canvas.
type CanvasClearedData struct {
	SessionID string `json:"sessionId"`
}

// RoomsListData answers get_rooms with per-room summaries and totals.
type RoomsListData struct {
	Rooms      []domain.RoomSummary `json:"rooms"`
	TotalRooms int                  `json:"totalRooms"`
	TotalUsers int                  `json:"totalUsers"`
}

// ErrorData is the payload of an error event.
type ErrorData struct {
	Message string `json:"message"`
	Code    string `json:"code,omitempty"`
	// CurrentVersion is set on CONFLICT errors so the client can reconcile.
	CurrentVersion uint64 `json:"currentVersion,omitempty"`
	ElementID      string `json:"elementId,omitempty"`
}

// DecodeCreateRoom parses and validates a create_room payload. An absent
// payload is valid and yields zero values.
func DecodeCreateRoom(data json.RawMessage) (CreateRoomData, error) {
	var d CreateRoomData
	if len(data) == 0 {
		return d, nil
	}
	if err := json.Unmarshal(data, &d); err != nil {
		return d, fmt.Errorf("create_room: %w", err)
	}
	if d.Settings != nil && d.Settings.MaxSessions < 0 {
		return d, fmt.Errorf("create_room: maxSessions must not be negative")
	}
	return d, nil
}

// DecodeJoinRoom parses a join_room payload.
func DecodeJoinRoom(data json.RawMessage) (JoinRoomData, error) {
	var d JoinRoomData
	if len(data) == 0 {
		return d, nil
	}
	if err := json.Unmarshal(data, &d); err != nil {
		return d, fmt.Errorf("join_room: %w", err)
	}
	return d, nil
}

// DecodeElementCreate parses and validates the tagged element union.
func DecodeElementCreate(data json.RawMessage) (ElementCreateData, error) {
	var d ElementCreateData
	if err := json.Unmarshal(data, &d); err != nil {
		return d, fmt.Errorf("element_create: %w", err)
	}
	if err := domain.ValidateProperties(d.Type, d.Properties); err != nil {
		return d, fmt.Errorf("element_create: %w", err)
	}
	return d, nil
}

// DecodeElementUpdate parses an element_update payload.
func DecodeElementUpdate(data json.RawMessage) (ElementUpdateData, error) {
	var d ElementUpdateData
	if err := json.Unmarshal(data, &d); err != nil {
		return d, fmt.Errorf("element_update: %w", err)
	}
	if d.ElementID == "" {
		return d, fmt.Errorf("element_update: missing elementId")
	}
	return d, nil
}

// DecodeElementDelete parses an element_delete payload.
func DecodeElementDelete(data json.RawMessage) (ElementDeleteData, error) {
	var d ElementDeleteData
	if err := json.Unmarshal(data, &d); err != nil {
		return d, fmt.Errorf("element_delete: %w", err)
	}
	if d.ElementID == "" {
		return d, fmt.Errorf("element_delete: missing elementId")
	}
	return d, nil
}

// DecodeCursorMove parses a cursor_move payload.
func DecodeCursorMove(data json.RawMessage) (CursorMoveData, error) {
	var d CursorMoveData
	if err := json.Unmarshal(data, &d); err != nil {
		return d, fmt.Errorf("cursor_move: %w", err)
	}
	return d, nil
}
