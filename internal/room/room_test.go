package room_test

import (
	"encoding/json"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"collaborative-canvas/internal/domain"
	"collaborative-canvas/internal/persistence"
	"collaborative-canvas/internal/protocol"
	"collaborative-canvas/internal/room"
)

// fakePeer records every frame the room fans out to it. Safe for concurrent
// use because broadcasts happen on the room's loop goroutine.
type fakePeer struct {
	mu     sync.Mutex
	frames [][]byte
	fail   bool
}

func (p *fakePeer) Send(data []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.fail {
		return errors.New("send buffer full")
	}
	p.frames = append(p.frames, data)
	return nil
}

func (p *fakePeer) messages(t *testing.T) []protocol.Message {
	t.Helper()
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]protocol.Message, 0, len(p.frames))
	for _, frame := range p.frames {
		var msg protocol.Message
		require.NoError(t, json.Unmarshal(frame, &msg))
		out = append(out, msg)
	}
	return out
}

func (p *fakePeer) messagesOfType(t *testing.T, msgType string) []protocol.Message {
	t.Helper()
	var out []protocol.Message
	for _, msg := range p.messages(t) {
		if msg.Type == msgType {
			out = append(out, msg)
		}
	}
	return out
}

func quietLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

func newTestRoom(t *testing.T, id string) *room.Room {
	t.Helper()
	rm := room.New(id, domain.DefaultRoomSettings(), persistence.NewNoop(), nil, quietLogger())
	t.Cleanup(rm.Close)
	return rm
}

func TestRoom_JoinReturnsSnapshotAndRoster(t *testing.T) {
	rm := newTestRoom(t, "ROOM01")
	peerA, peerB := &fakePeer{}, &fakePeer{}

	resA, err := rm.Join("session-a", "Alice", "#f00", peerA)
	require.NoError(t, err)
	assert.Empty(t, resA.Elements, "first joiner sees an empty canvas")
	require.Len(t, resA.Sessions, 1)
	assert.Equal(t, "Alice", resA.Session.Name)

	el, err := rm.CreateElement("session-a", domain.ElementRectangle, rectProps())
	require.NoError(t, err)
	assert.Equal(t, uint64(1), el.Version)

	// A later joiner receives the current document and both sessions.
	resB, err := rm.Join("session-b", "Bob", "", peerB)
	require.NoError(t, err)
	require.Len(t, resB.Elements, 1)
	assert.Equal(t, el.ID, resB.Elements[0].ID)
	assert.Len(t, resB.Sessions, 2)

	// The existing member was told about the newcomer; the newcomer was not
	// told about themselves.
	joinedA := peerA.messagesOfType(t, protocol.TypeUserJoined)
	require.Len(t, joinedA, 1)
	assert.Empty(t, peerB.messagesOfType(t, protocol.TypeUserJoined))
}

func TestRoom_ConcurrentEditConflict(t *testing.T) {
	rm := newTestRoom(t, "ROOM01")
	peerA, peerB := &fakePeer{}, &fakePeer{}

	_, err := rm.Join("session-a", "Alice", "", peerA)
	require.NoError(t, err)
	el, err := rm.CreateElement("session-a", domain.ElementRectangle, rectProps())
	require.NoError(t, err)

	_, err = rm.Join("session-b", "Bob", "", peerB)
	require.NoError(t, err)

	// Both editors observed version 1. The first update wins and bumps the
	// version to 2.
	updated, err := rm.UpdateElement("session-a", el.ID, domain.ElementPatch{X: float64Ptr(50)}, uint64Ptr(1))
	require.NoError(t, err)
	assert.Equal(t, uint64(2), updated.Version)

	events := peerB.messagesOfType(t, protocol.TypeElementUpdated)
	require.Len(t, events, 1)
	var data protocol.ElementUpdatedData
	require.NoError(t, json.Unmarshal(events[0].Data, &data))
	assert.Equal(t, uint64(2), data.Version)

	// The second editor's stale update is rejected with the current version
	// and leaves no partial write behind.
	_, err = rm.UpdateElement("session-b", el.ID, domain.ElementPatch{X: float64Ptr(99)}, uint64Ptr(1))
	var conflict *domain.VersionConflictError
	require.True(t, errors.As(err, &conflict))
	assert.Equal(t, uint64(2), conflict.CurrentVersion)

	snap, err := rm.Snapshot()
	require.NoError(t, err)
	require.Len(t, snap, 1)
	assert.Equal(t, 50.0, snap[0].Properties.X)
	assert.Equal(t, uint64(2), snap[0].Version)

	// No element_updated fan-out for the rejected write.
	assert.Len(t, peerA.messagesOfType(t, protocol.TypeElementUpdated), 0)
}

func TestRoom_BroadcastExcludesOriginator(t *testing.T) {
	rm := newTestRoom(t, "ROOM01")
	peerA, peerB := &fakePeer{}, &fakePeer{}
	_, err := rm.Join("session-a", "", "", peerA)
	require.NoError(t, err)
	_, err = rm.Join("session-b", "", "", peerB)
	require.NoError(t, err)

	_, err = rm.CreateElement("session-a", domain.ElementText, domain.ElementProperties{Text: "hello"})
	require.NoError(t, err)

	assert.Len(t, peerB.messagesOfType(t, protocol.TypeElementCreated), 1)
	assert.Empty(t, peerA.messagesOfType(t, protocol.TypeElementCreated),
		"the author gets a direct ack, not the broadcast")
}

func TestRoom_OperationsRequireMembership(t *testing.T) {
	rm := newTestRoom(t, "ROOM01")

	_, err := rm.CreateElement("ghost", domain.ElementText, domain.ElementProperties{Text: "x"})
	assert.True(t, errors.Is(err, domain.ErrSessionNotFound))

	_, err = rm.ClearCanvas("ghost")
	assert.True(t, errors.Is(err, domain.ErrSessionNotFound))
}

func TestRoom_LeaveBroadcastsOnce(t *testing.T) {
	rm := newTestRoom(t, "ROOM01")
	peerA, peerB := &fakePeer{}, &fakePeer{}
	_, err := rm.Join("session-a", "", "", peerA)
	require.NoError(t, err)
	_, err = rm.Join("session-b", "", "", peerB)
	require.NoError(t, err)

	removed, err := rm.Leave("session-a")
	require.NoError(t, err)
	assert.True(t, removed)

	// A duplicate leave (disconnect racing an explicit leave_room) is
	// absorbed without a second fan-out.
	removed, err = rm.Leave("session-a")
	require.NoError(t, err)
	assert.False(t, removed)

	assert.Len(t, peerB.messagesOfType(t, protocol.TypeUserLeft), 1)
}

func TestRoom_RejoinReplacesSession(t *testing.T) {
	rm := newTestRoom(t, "ROOM01")
	oldPeer, newPeer := &fakePeer{}, &fakePeer{}

	_, err := rm.Join("session-a", "Alice", "", oldPeer)
	require.NoError(t, err)

	// Same session id joining again is an implicit leave-then-join; the
	// stale peer stops receiving.
	res, err := rm.Join("session-a", "Alice", "", newPeer)
	require.NoError(t, err)
	assert.Len(t, res.Sessions, 1)
	assert.Equal(t, 1, rm.SessionCount())
}

func TestRoom_CursorMove(t *testing.T) {
	rm := newTestRoom(t, "ROOM01")
	peerA, peerB := &fakePeer{}, &fakePeer{}
	_, err := rm.Join("session-a", "", "", peerA)
	require.NoError(t, err)
	_, err = rm.Join("session-b", "", "", peerB)
	require.NoError(t, err)

	require.NoError(t, rm.MoveCursor("session-a", domain.Point{X: 12, Y: 34}))

	events := peerB.messagesOfType(t, protocol.TypeCursorMoved)
	require.Len(t, events, 1)
	var data protocol.CursorMovedData
	require.NoError(t, json.Unmarshal(events[0].Data, &data))
	assert.Equal(t, "session-a", data.SessionID)
	assert.Equal(t, 12.0, data.X)

	// Unknown session: silent no-op, nothing fans out.
	require.NoError(t, rm.MoveCursor("ghost", domain.Point{X: 1, Y: 1}))
	assert.Len(t, peerB.messagesOfType(t, protocol.TypeCursorMoved), 1)
}

func TestRoom_ClearCanvas(t *testing.T) {
	rm := newTestRoom(t, "ROOM01")
	peerA, peerB := &fakePeer{}, &fakePeer{}
	_, err := rm.Join("session-a", "", "", peerA)
	require.NoError(t, err)
	_, err = rm.Join("session-b", "", "", peerB)
	require.NoError(t, err)

	_, err = rm.CreateElement("session-a", domain.ElementRectangle, rectProps())
	require.NoError(t, err)
	el, err := rm.CreateElement("session-b", domain.ElementCircle, rectProps())
	require.NoError(t, err)
	_, err = rm.DeleteElement("session-b", el.ID)
	require.NoError(t, err)

	purged, err := rm.ClearCanvas("session-a")
	require.NoError(t, err)
	assert.Equal(t, 2, purged, "clear purges tombstones too")

	snap, err := rm.Snapshot()
	require.NoError(t, err)
	assert.Empty(t, snap)

	assert.Len(t, peerB.messagesOfType(t, protocol.TypeCanvasCleared), 1)
}

func TestRoom_FailedSendDeschedulesSession(t *testing.T) {
	rm := newTestRoom(t, "ROOM01")
	healthy, broken := &fakePeer{}, &fakePeer{fail: true}
	_, err := rm.Join("session-a", "", "", healthy)
	require.NoError(t, err)
	_, err = rm.Join("session-b", "", "", broken)
	require.NoError(t, err)

	// The broadcast to the broken peer fails, which removes that session via
	// the same path as an explicit leave.
	_, err = rm.CreateElement("session-a", domain.ElementText, domain.ElementProperties{Text: "x"})
	require.NoError(t, err)

	assert.Equal(t, 1, rm.SessionCount())
	assert.Len(t, healthy.messagesOfType(t, protocol.TypeUserLeft), 1)
}

func TestRoom_CloseIfEmptyHonorsGrace(t *testing.T) {
	rm := newTestRoom(t, "ROOM01")

	// Fresh room, generous grace: not evicted yet.
	assert.False(t, rm.CloseIfEmpty(time.Hour))

	peer := &fakePeer{}
	_, err := rm.Join("session-a", "", "", peer)
	require.NoError(t, err)

	// Occupied rooms never close, whatever the grace.
	assert.False(t, rm.CloseIfEmpty(0))

	_, err = rm.Leave("session-a")
	require.NoError(t, err)

	// Empty past the grace period: evicted, and every later operation fails
	// with ErrRoomClosed.
	assert.True(t, rm.CloseIfEmpty(0))
	_, err = rm.Join("session-b", "", "", peer)
	assert.True(t, errors.Is(err, domain.ErrRoomClosed))
	_, err = rm.Snapshot()
	assert.True(t, errors.Is(err, domain.ErrRoomClosed))
}

func TestRoom_Summary(t *testing.T) {
	rm := newTestRoom(t, "ROOM01")
	peer := &fakePeer{}
	_, err := rm.Join("session-a", "", "", peer)
	require.NoError(t, err)

	sum, err := rm.Summary()
	require.NoError(t, err)
	assert.Equal(t, "ROOM01", sum.ID)
	assert.Equal(t, 1, sum.UserCount)
	assert.True(t, sum.IsPublic)
	assert.False(t, sum.LastActivity.IsZero())
}
