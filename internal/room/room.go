package room

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"collaborative-canvas/internal/domain"
	"collaborative-canvas/internal/persistence"
	"collaborative-canvas/internal/protocol"
)

// Peer is one session's outbound message sink. Send must not block: the
// websocket client buffers writes and reports an error when the buffer is
// full or the connection is gone, which the room treats as a cue to
// deschedule that session.
type Peer interface {
	Send(data []byte) error
}

// JoinResult is the initial state handed to a freshly joined session.
type JoinResult struct {
	Session  domain.Session
	Elements []domain.Element
	Sessions []domain.Session
}

// Room owns one collaborative canvas: its element store, session registry
// and the single goroutine that serializes every mutation and the broadcasts
// those mutations produce. Operations on different rooms interleave freely;
// operations within one room never do, which is what makes the version
// invariants hold without locks.
type Room struct {
	id        string
	settings  domain.RoomSettings
	createdAt time.Time

	elements *ElementStore
	sessions *SessionRegistry
	peers    map[string]Peer

	lastActivity time.Time
	emptySince   time.Time

	inbox     chan func()
	done      chan struct{}
	closeOnce sync.Once

	sessionCount atomic.Int32

	store   persistence.Adapter
	onEmpty func(roomID string)
	log     *logrus.Entry
}

// New creates a room and starts its processing loop.
func New(id string, settings domain.RoomSettings, store persistence.Adapter, onEmpty func(roomID string), logger *logrus.Logger) *Room {
	if store == nil {
		panic("persistence adapter cannot be nil for Room")
	}
	now := time.Now().UTC()
	r := &Room{
		id:           id,
		settings:     settings,
		createdAt:    now,
		elements:     NewElementStore(),
		sessions:     NewSessionRegistry(settings.MaxSessions),
		peers:        make(map[string]Peer),
		lastActivity: now,
		emptySince:   now,
		inbox:        make(chan func(), 256),
		done:         make(chan struct{}),
		store:        store,
		onEmpty:      onEmpty,
		log:          logger.WithFields(logrus.Fields{"component": "room", "room_id": id}),
	}
	go r.run()

	if err := r.store.CreateRoom(context.Background(), r.meta(now)); err != nil {
		r.log.WithError(err).Warn("Best-effort room persistence failed")
	}
	return r
}

func (r *Room) ID() string { return r.id }

// SessionCount is safe to call from any goroutine.
func (r *Room) SessionCount() int { return int(r.sessionCount.Load()) }

func (r *Room) run() {
	for {
		select {
		case fn := <-r.inbox:
			fn()
		case <-r.done:
			r.log.Debug("Room loop stopped")
			return
		}
	}
}

// call runs fn on the room's loop and waits for it to finish. It fails with
// domain.ErrRoomClosed once the room has been evicted.
func (r *Room) call(fn func()) error {
	doneFn := make(chan struct{})
	wrapped := func() {
		defer close(doneFn)
		fn()
	}
	select {
	case r.inbox <- wrapped:
	case <-r.done:
		return domain.ErrRoomClosed
	}
	select {
	case <-doneFn:
		return nil
	case <-r.done:
		// The loop may still have executed fn right before shutting down.
		select {
		case <-doneFn:
			return nil
		default:
			return domain.ErrRoomClosed
		}
	}
}

// Join admits a session and announces it to the other peers. A session id
// already present is treated as an implicit leave-then-join.
func (r *Room) Join(sessionID, name, color string, peer Peer) (JoinResult, error) {
	var (
		res    JoinResult
		joinErr error
	)
	err := r.call(func() {
		if _, ok := r.sessions.Get(sessionID); ok {
			r.removeSessionLocked(sessionID, true)
		}
		sess, err := r.sessions.Add(sessionID, r.id, name, color)
		if err != nil {
			joinErr = err
			return
		}
		r.peers[sessionID] = peer
		r.sessionCount.Store(int32(r.sessions.Len()))
		r.touch()

		res = JoinResult{
			Session:  sess,
			Elements: r.elements.Snapshot(),
			Sessions: r.sessions.List(),
		}
		r.broadcastEvent(protocol.TypeUserJoined, sess, sessionID)

		ctx := context.Background()
		if err := r.store.AddSessionToRoom(ctx, sess); err != nil {
			r.log.WithError(err).Warn("Best-effort session persistence failed")
		}
		r.touchStore()
	})
	if err != nil {
		return JoinResult{}, err
	}
	return res, joinErr
}

// Leave removes a session, broadcasting user_left to the remaining peers.
// Idempotent: duplicate leave/disconnect notifications report false.
func (r *Room) Leave(sessionID string) (bool, error) {
	var removed bool
	err := r.call(func() {
		removed = r.removeSessionLocked(sessionID, true)
	})
	return removed, err
}

// removeSessionLocked runs on the room loop. It removes the session, fans
// out user_left and schedules eviction if the room became empty.
func (r *Room) removeSessionLocked(sessionID string, persist bool) bool {
	if !r.sessions.Remove(sessionID) {
		return false
	}
	delete(r.peers, sessionID)
	r.sessionCount.Store(int32(r.sessions.Len()))
	r.touch()

	r.broadcastEvent(protocol.TypeUserLeft, protocol.UserLeftData{SessionID: sessionID}, sessionID)

	if persist {
		if err := r.store.RemoveSessionFromRoom(context.Background(), r.id, sessionID); err != nil {
			r.log.WithError(err).Warn("Best-effort session removal persistence failed")
		}
		r.touchStore()
	}

	if r.sessions.Len() == 0 {
		r.emptySince = time.Now().UTC()
		if r.onEmpty != nil {
			r.onEmpty(r.id)
		}
	}
	return true
}

// CreateElement appends a new element and broadcasts it to the other peers.
func (r *Room) CreateElement(sessionID string, elType domain.ElementType, props domain.ElementProperties) (domain.Element, error) {
	var (
		el    domain.Element
		opErr error
	)
	err := r.call(func() {
		if _, ok := r.sessions.Get(sessionID); !ok {
			opErr = domain.ErrSessionNotFound
			return
		}
		el = r.elements.Create(elType, props, sessionID)
		r.sessions.Touch(sessionID)
		r.touch()

		r.broadcastEvent(protocol.TypeElementCreated, protocol.ElementCreatedData{
			Element:   el,
			SessionID: sessionID,
		}, sessionID)

		if err := r.store.CreateElement(context.Background(), r.id, el); err != nil {
			r.log.WithError(err).Warn("Best-effort element persistence failed")
		}
		r.touchStore()
	})
	if err != nil {
		return domain.Element{}, err
	}
	return el, opErr
}

// UpdateElement applies an optimistic-concurrency update. Conflicts are
// reported to the caller only and never retried server-side.
func (r *Room) UpdateElement(sessionID, elementID string, patch domain.ElementPatch, expectedVersion *uint64) (domain.Element, error) {
	var (
		el    domain.Element
		opErr error
	)
	err := r.call(func() {
		if _, ok := r.sessions.Get(sessionID); !ok {
			opErr = domain.ErrSessionNotFound
			return
		}
		el, opErr = r.elements.Update(elementID, patch, expectedVersion)
		if opErr != nil {
			return
		}
		r.sessions.Touch(sessionID)
		r.touch()

		r.broadcastEvent(protocol.TypeElementUpdated, protocol.ElementUpdatedData{
			Element:   el,
			Version:   el.Version,
			SessionID: sessionID,
		}, sessionID)

		if err := r.store.UpdateElement(context.Background(), r.id, el); err != nil {
			r.log.WithError(err).Warn("Best-effort element persistence failed")
		}
		r.touchStore()
	})
	if err != nil {
		return domain.Element{}, err
	}
	return el, opErr
}

// DeleteElement tombstones an element.
func (r *Room) DeleteElement(sessionID, elementID string) (domain.Element, error) {
	var (
		el    domain.Element
		opErr error
	)
	err := r.call(func() {
		if _, ok := r.sessions.Get(sessionID); !ok {
			opErr = domain.ErrSessionNotFound
			return
		}
		el, opErr = r.elements.Delete(elementID)
		if opErr != nil {
			return
		}
		r.sessions.Touch(sessionID)
		r.touch()

		r.broadcastEvent(protocol.TypeElementDeleted, protocol.ElementDeletedData{
			ElementID: el.ID,
			Version:   el.Version,
			SessionID: sessionID,
		}, sessionID)

		if err := r.store.DeleteElement(context.Background(), r.id, el); err != nil {
			r.log.WithError(err).Warn("Best-effort element persistence failed")
		}
		r.touchStore()
	})
	if err != nil {
		return domain.Element{}, err
	}
	return el, opErr
}

// MoveCursor broadcasts a live cursor position. A no-op for unknown sessions
// and never persisted.
func (r *Room) MoveCursor(sessionID string, pos domain.Point) error {
	return r.call(func() {
		if !r.sessions.UpdateCursor(sessionID, pos) {
			return
		}
		r.touch()
		r.broadcastEvent(protocol.TypeCursorMoved, protocol.CursorMovedData{
			SessionID: sessionID,
			X:         pos.X,
			Y:         pos.Y,
		}, sessionID)
	})
}

// ClearCanvas purges all elements unconditionally and tells every other peer.
func (r *Room) ClearCanvas(sessionID string) (int, error) {
	var (
		purged int
		opErr  error
	)
	err := r.call(func() {
		if _, ok := r.sessions.Get(sessionID); !ok {
			opErr = domain.ErrSessionNotFound
			return
		}
		purged = r.elements.Clear()
		r.sessions.Touch(sessionID)
		r.touch()

		r.broadcastEvent(protocol.TypeCanvasCleared, protocol.CanvasClearedData{SessionID: sessionID}, sessionID)

		if err := r.store.ClearElementsInRoom(context.Background(), r.id); err != nil {
			r.log.WithError(err).Warn("Best-effort canvas clear persistence failed")
		}
		r.touchStore()
	})
	if err != nil {
		return 0, err
	}
	return purged, opErr
}

// Snapshot returns the room's current non-deleted elements.
func (r *Room) Snapshot() ([]domain.Element, error) {
	var els []domain.Element
	err := r.call(func() { els = r.elements.Snapshot() })
	return els, err
}

// Summary describes the room for rooms_list responses.
func (r *Room) Summary() (domain.RoomSummary, error) {
	var sum domain.RoomSummary
	err := r.call(func() {
		sum = domain.RoomSummary{
			ID:           r.id,
			UserCount:    r.sessions.Len(),
			CreatedAt:    r.createdAt,
			LastActivity: r.lastActivity,
			IsPublic:     r.settings.IsPublic,
		}
	})
	return sum, err
}

// CloseIfEmpty shuts the room down if it has had no sessions for at least
// grace. Because the check runs on the room's own loop it cannot race a
// join: a queued join executes first and the check then sees the session.
func (r *Room) CloseIfEmpty(grace time.Duration) bool {
	closed := false
	err := r.call(func() {
		if r.sessions.Len() > 0 {
			return
		}
		if time.Since(r.emptySince) < grace {
			return
		}
		closed = true
		r.closeOnce.Do(func() { close(r.done) })
	})
	if err != nil {
		// Already closed counts as evicted.
		return true
	}
	return closed
}

// CloseIfIdle shuts the room down when its last activity is older than
// maxIdle, regardless of membership.
func (r *Room) CloseIfIdle(maxIdle time.Duration) bool {
	closed := false
	err := r.call(func() {
		if time.Since(r.lastActivity) < maxIdle {
			return
		}
		closed = true
		r.closeOnce.Do(func() { close(r.done) })
	})
	if err != nil {
		return true
	}
	return closed
}

// Close force-stops the room's loop.
func (r *Room) Close() {
	r.closeOnce.Do(func() { close(r.done) })
}

// broadcastEvent encodes and fans an event out to every peer except the
// originator. Runs on the room loop, so delivery order matches the order
// operations were accepted.
func (r *Room) broadcastEvent(msgType string, data interface{}, excludeSessionID string) {
	frame, err := protocol.Encode(msgType, r.id, data)
	if err != nil {
		r.log.WithError(err).WithField("event", msgType).Error("Failed to encode broadcast event")
		return
	}
	r.broadcast(frame, excludeSessionID)
}

// broadcast delivers a frame to all peers but the excluded one. Delivery is
// best effort: a failed send deschedules that session via the same cleanup
// path as an explicit leave, including its own user_left fan-out.
func (r *Room) broadcast(frame []byte, excludeSessionID string) {
	var failed []string
	for sessionID, peer := range r.peers {
		if sessionID == excludeSessionID {
			continue
		}
		if err := peer.Send(frame); err != nil {
			r.log.WithField("session_id", sessionID).WithError(err).Warn("Peer send failed, descheduling session")
			failed = append(failed, sessionID)
		}
	}
	for _, sessionID := range failed {
		r.removeSessionLocked(sessionID, true)
	}
}

func (r *Room) touch() {
	r.lastActivity = time.Now().UTC()
}

func (r *Room) touchStore() {
	if err := r.store.TouchRoomActivity(context.Background(), r.id, r.lastActivity); err != nil {
		r.log.WithError(err).Debug("Best-effort activity touch failed")
	}
}

func (r *Room) meta(now time.Time) domain.Room {
	return domain.Room{
		ID:           r.id,
		Settings:     r.settings,
		CreatedAt:    r.createdAt,
		LastActivity: now,
	}
}
