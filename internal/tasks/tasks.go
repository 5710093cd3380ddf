// Package tasks defines the asynq task types that carry canvas mutations to
// the background persistence worker.
package tasks

import (
	"encoding/json"
	"time"

	"github.com/hibiken/asynq"

	"collaborative-canvas/internal/domain"
)

const (
	TypeRoomPersist    = "room:persist"
	TypeRoomTouch      = "room:touch"
	TypeRoomSweep      = "room:sweep"
	TypeSessionPersist = "session:persist"
	TypeSessionRemove  = "session:remove"
	TypeElementPersist = "element:persist"
	TypeElementsClear  = "elements:clear"
)

// QueueDefault carries mutation tasks, QueueLow carries activity touches and
// sweeps that can wait behind them.
const (
	QueueDefault = "default"
	QueueLow     = "low"
)

type RoomPersistPayload struct {
	Room domain.Room `json:"room"`
}

type RoomTouchPayload struct {
	RoomID string    `json:"roomId"`
	At     time.Time `json:"at"`
}

// RoomSweepPayload drives the periodic cleanup of stale persisted rooms.
type RoomSweepPayload struct {
	MaxIdle time.Duration `json:"maxIdle"`
}

type SessionPersistPayload struct {
	Session domain.Session `json:"session"`
}

type SessionRemovePayload struct {
	RoomID    string `json:"roomId"`
	SessionID string `json:"sessionId"`
}

type ElementPersistPayload struct {
	RoomID  string         `json:"roomId"`
	Element domain.Element `json:"element"`
}

type ElementsClearPayload struct {
	RoomID string `json:"roomId"`
}

func NewRoomPersistTask(room domain.Room) (*asynq.Task, error) {
	return newTask(TypeRoomPersist, RoomPersistPayload{Room: room})
}

func NewRoomTouchTask(roomID string, at time.Time) (*asynq.Task, error) {
	return newTask(TypeRoomTouch, RoomTouchPayload{RoomID: roomID, At: at})
}

func NewRoomSweepTask(maxIdle time.Duration) (*asynq.Task, error) {
	return newTask(TypeRoomSweep, RoomSweepPayload{MaxIdle: maxIdle})
}

func NewSessionPersistTask(session domain.Session) (*asynq.Task, error) {
	return newTask(TypeSessionPersist, SessionPersistPayload{Session: session})
}

func NewSessionRemoveTask(roomID, sessionID string) (*asynq.Task, error) {
	return newTask(TypeSessionRemove, SessionRemovePayload{RoomID: roomID, SessionID: sessionID})
}

func NewElementPersistTask(roomID string, element domain.Element) (*asynq.Task, error) {
	return newTask(TypeElementPersist, ElementPersistPayload{RoomID: roomID, Element: element})
}

func NewElementsClearTask(roomID string) (*asynq.Task, error) {
	return newTask(TypeElementsClear, ElementsClearPayload{RoomID: roomID})
}

func newTask(taskType string, payload interface{}) (*asynq.Task, error) {
	b, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(taskType, b), nil
}
