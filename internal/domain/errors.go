package domain

import (
	"errors"
	"fmt"
)

// Sentinel errors reported by room and element operations. Handlers map them
// to protocol error codes at the gateway boundary.
var (
	ErrRoomNotFound    = errors.New("room not found")
	ErrRoomExists      = errors.New("room already exists")
	ErrRoomFull        = errors.New("room is full")
	ErrRoomClosed      = errors.New("room is closed")
	ErrSessionNotFound = errors.New("session not found")
	ErrElementNotFound = errors.New("element not found")
	ErrVersionConflict = errors.New("element version conflict")
)

// VersionConflictError rejects an optimistic-concurrency update whose
// expected version no longer matches. It carries the current version so the
// client can reconcile and retry.
type VersionConflictError struct {
	ElementID       string
	ExpectedVersion uint64
	CurrentVersion  uint64
}

func (e *VersionConflictError) Error() string {
	return fmt.Sprintf("element %s: expected version %d, current version %d",
		e.ElementID, e.ExpectedVersion, e.CurrentVersion)
}

// Is makes errors.Is(err, ErrVersionConflict) match.
func (e *VersionConflictError) Is(target error) bool {
	return target == ErrVersionConflict
}
