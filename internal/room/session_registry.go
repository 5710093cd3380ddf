package room

import (
	"fmt"
	"math/rand"
	"time"

	"collaborative-canvas/internal/domain"
)

// SessionRegistry tracks one room's connected participants. Like the
// ElementStore it carries no locks: only the owning room's loop mutates it.
type SessionRegistry struct {
	sessions    map[string]*domain.Session
	maxSessions int
}

func NewSessionRegistry(maxSessions int) *SessionRegistry {
	return &SessionRegistry{
		sessions:    make(map[string]*domain.Session),
		maxSessions: maxSessions,
	}
}

// Add registers a session, filling in default display attributes when the
// client supplied none. Returns domain.ErrRoomFull at capacity.
func (r *SessionRegistry) Add(sessionID, roomID, name, color string) (domain.Session, error) {
	if r.maxSessions > 0 && len(r.sessions) >= r.maxSessions {
		return domain.Session{}, domain.ErrRoomFull
	}
	if name == "" {
		name = defaultName(sessionID)
	}
	if color == "" {
		color = randomColor()
	}
	now := time.Now().UTC()
	sess := &domain.Session{
		ID:           sessionID,
		RoomID:       roomID,
		Name:         name,
		Color:        color,
		JoinedAt:     now,
		LastActiveAt: now,
	}
	r.sessions[sessionID] = sess
	return *sess, nil
}

// Remove is idempotent. Duplicate leave/disconnect notifications are
// expected, so an absent session is reported as false, not as an error.
func (r *SessionRegistry) Remove(sessionID string) bool {
	if _, ok := r.sessions[sessionID]; !ok {
		return false
	}
	delete(r.sessions, sessionID)
	return true
}

// UpdateCursor records a live cursor position. A no-op when the session is
// gone (the move may have raced a leave). Cursor state is ephemeral and is
// never handed to the persistence adapter.
func (r *SessionRegistry) UpdateCursor(sessionID string, pos domain.Point) bool {
	sess, ok := r.sessions[sessionID]
	if !ok {
		return false
	}
	p := pos
	sess.Cursor = &p
	sess.LastActiveAt = time.Now().UTC()
	return true
}

// Touch bumps a session's last-activity timestamp.
func (r *SessionRegistry) Touch(sessionID string) {
	if sess, ok := r.sessions[sessionID]; ok {
		sess.LastActiveAt = time.Now().UTC()
	}
}

// Get returns a copy of the session.
func (r *SessionRegistry) Get(sessionID string) (domain.Session, bool) {
	sess, ok := r.sessions[sessionID]
	if !ok {
		return domain.Session{}, false
	}
	return *sess, true
}

// List returns a point-in-time copy; it does not reflect later mutations.
func (r *SessionRegistry) List() []domain.Session {
	out := make([]domain.Session, 0, len(r.sessions))
	for _, sess := range r.sessions {
		out = append(out, *sess)
	}
	return out
}

func (r *SessionRegistry) Len() int { return len(r.sessions) }

func defaultName(sessionID string) string {
	prefix := sessionID
	if len(prefix) > 6 {
		prefix = prefix[:6]
	}
	return "User " + prefix
}

func randomColor() string {
	return fmt.Sprintf("hsl(%d, 70%%, 60%%)", rand.Intn(360))
}
