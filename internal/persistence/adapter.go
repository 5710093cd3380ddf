// Package persistence defines the optional durable backing store behind the
// in-memory authoritative state. The room logic always talks to an Adapter,
// the memory-only deployment wires the no-op implementation, so no caller
// ever branches on whether a store is configured.
package persistence

import (
	"context"
	"errors"
	"time"

	"collaborative-canvas/internal/domain"
)

var (
	// ErrNotFound means the requested record does not exist in the store.
	ErrNotFound = errors.New("persistence: record not found")
	// ErrDuplicateEntry means a write violated a unique constraint.
	ErrDuplicateEntry = errors.New("persistence: duplicate entry")
)

// Adapter is the durable backing store capability. Writes are best effort:
// a failed write is logged by the caller and never rolls back in-memory
// state or blocks the broadcast path. Cursor state is never persisted.
type Adapter interface {
	CreateRoom(ctx context.Context, room domain.Room) error
	GetRoom(ctx context.Context, id string) (*domain.Room, error)
	TouchRoomActivity(ctx context.Context, roomID string, at time.Time) error

	AddSessionToRoom(ctx context.Context, session domain.Session) error
	RemoveSessionFromRoom(ctx context.Context, roomID, sessionID string) error
	ListSessionsInRoom(ctx context.Context, roomID string) ([]domain.Session, error)

	CreateElement(ctx context.Context, roomID string, element domain.Element) error
	UpdateElement(ctx context.Context, roomID string, element domain.Element) error
	DeleteElement(ctx context.Context, roomID string, element domain.Element) error
	ListElementsInRoom(ctx context.Context, roomID string) ([]domain.Element, error)
	ClearElementsInRoom(ctx context.Context, roomID string) error
}

// Noop is the memory-only Adapter. Every write succeeds without effect and
// every read reports ErrNotFound.
type Noop struct{}

func NewNoop() Noop { return Noop{} }

func (Noop) CreateRoom(context.Context, domain.Room) error                 { return nil }
func (Noop) GetRoom(context.Context, string) (*domain.Room, error)        { return nil, ErrNotFound }
func (Noop) TouchRoomActivity(context.Context, string, time.Time) error   { return nil }
func (Noop) AddSessionToRoom(context.Context, domain.Session) error       { return nil }
func (Noop) RemoveSessionFromRoom(context.Context, string, string) error  { return nil }
func (Noop) ListSessionsInRoom(context.Context, string) ([]domain.Session, error) {
	return nil, ErrNotFound
}
func (Noop) CreateElement(context.Context, string, domain.Element) error { return nil }
func (Noop) UpdateElement(context.Context, string, domain.Element) error { return nil }
func (Noop) DeleteElement(context.Context, string, domain.Element) error { return nil }
func (Noop) ListElementsInRoom(context.Context, string) ([]domain.Element, error) {
	return nil, ErrNotFound
}
func (Noop) ClearElementsInRoom(context.Context, string) error { return nil }
