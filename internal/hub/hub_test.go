package hub

import (
	"encoding/json"
	"io"
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

func quietLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

func newTestHub(t *testing.T) *Hub {
	t.Helper()
	logger := quietLogger()
	registry := room.NewRegistry(room.DefaultRegistryConfig(), persistence.NewNoop(), logger)
	t.Cleanup(registry.Stop)
	h := NewHub(registry, "http://localhost:3000", logger)
	t.Cleanup(h.Stop)
	return h
}

// newTestClient builds a client without a websocket connection; Dispatch and
// Send only touch the buffered channel, so tests read replies straight from
// it.
func newTestClient(h *Hub) *Client {
	c := &Client{
		hub:  h,
		send: make(chan []byte, sendBufferSize),
		log:  quietLogger().WithField("component", "ws_client"),
	}
	h.Register(c)
	return c
}

func frame(t *testing.T, msgType, roomID, sessionID string, data interface{}) []byte {
	t.Helper()
	var raw json.RawMessage
	if data != nil {
		b, err := json.Marshal(data)
		require.NoError(t, err)
		raw = b
	}
	b, err := json.Marshal(protocol.Message{
		Type:      msgType,
		Data:      raw,
		SessionID: sessionID,
		RoomID:    roomID,
		Timestamp: time.Now().UnixMilli(),
	})
	require.NoError(t, err)
	return b
}

func nextMessage(t *testing.T, c *Client) protocol.Message {
	t.Helper()
	select {
	case b := <-c.send:
		var msg protocol.Message
		require.NoError(t, json.Unmarshal(b, &msg))
		return msg
	case <-time.After(time.Second):
		t.Fatal("no message delivered to client")
		return protocol.Message{}
	}
}

func errorData(t *testing.T, msg protocol.Message) protocol.ErrorData {
	t.Helper()
	require.Equal(t, protocol.TypeError, msg.Type)
	var data protocol.ErrorData
	require.NoError(t, json.Unmarshal(msg.Data, &data))
	return data
}

func join(t *testing.T, h *Hub, c *Client, roomID string) protocol.RoomJoinedData {
	t.Helper()
	h.Dispatch(c, frame(t, protocol.TypeJoinRoom, roomID, "", protocol.JoinRoomData{}))
	msg := nextMessage(t, c)
	require.Equal(t, protocol.TypeRoomJoined, msg.Type)
	var data protocol.RoomJoinedData
	require.NoError(t, json.Unmarshal(msg.Data, &data))
	return data
}

func TestHub_MalformedFrame(t *testing.T) {
	h := newTestHub(t)
	c := newTestClient(h)

	h.Dispatch(c, []byte(`{not json`))

	data := errorData(t, nextMessage(t, c))
	assert.Equal(t, protocol.CodeValidation, data.Code)
}

func TestHub_UnknownMessageType(t *testing.T) {
	h := newTestHub(t)
	c := newTestClient(h)

	h.Dispatch(c, frame(t, "teleport", "", "", nil))

	data := errorData(t, nextMessage(t, c))
	assert.Equal(t, protocol.CodeValidation, data.Code)
}

func TestHub_OperationBeforeJoin(t *testing.T) {
	h := newTestHub(t)
	c := newTestClient(h)

	h.Dispatch(c, frame(t, protocol.TypeElementCreate, "ROOM01", "", protocol.ElementCreateData{
		Type:       domain.ElementText,
		Properties: domain.ElementProperties{Text: "hi"},
	}))

	data := errorData(t, nextMessage(t, c))
	assert.Equal(t, protocol.CodePermissionDenied, data.Code)
}

func TestHub_CreateRoom(t *testing.T) {
	h := newTestHub(t)
	c := newTestClient(h)

	h.Dispatch(c, frame(t, protocol.TypeCreateRoom, "", "", nil))

	msg := nextMessage(t, c)
	require.Equal(t, protocol.TypeRoomCreated, msg.Type)
	var data protocol.RoomCreatedData
	require.NoError(t, json.Unmarshal(msg.Data, &data))
	assert.Len(t, data.RoomID, 6)
	assert.Equal(t, "http://localhost:3000?room="+data.RoomID, data.RoomURL)
}

func TestHub_CreateRoomDuplicate(t *testing.T) {
	h := newTestHub(t)
	c := newTestClient(h)

	h.Dispatch(c, frame(t, protocol.TypeCreateRoom, "", "", protocol.CreateRoomData{RoomID: "TEAM"}))
	require.Equal(t, protocol.TypeRoomCreated, nextMessage(t, c).Type)

	h.Dispatch(c, frame(t, protocol.TypeCreateRoom, "", "", protocol.CreateRoomData{RoomID: "TEAM"}))
	data := errorData(t, nextMessage(t, c))
	assert.Equal(t, protocol.CodeConflict, data.Code)
}

func TestHub_JoinRequiresRoomID(t *testing.T) {
	h := newTestHub(t)
	c := newTestClient(h)

	h.Dispatch(c, frame(t, protocol.TypeJoinRoom, "", "", protocol.JoinRoomData{}))

	data := errorData(t, nextMessage(t, c))
	assert.Equal(t, protocol.CodeValidation, data.Code)
}

func TestHub_JoinAssignsSession(t *testing.T) {
	h := newTestHub(t)
	c := newTestClient(h)

	joined := join(t, h, c, "ROOM01")

	assert.Equal(t, "ROOM01", joined.RoomID)
	assert.NotEmpty(t, joined.User.ID)
	assert.NotEqual(t, protocol.ServerSessionID, joined.User.ID)
	assert.Len(t, joined.Users, 1)
	assert.Equal(t, joined.User.ID, c.sessionID)
	assert.Equal(t, "ROOM01", c.roomID)
}

func TestHub_ElementLifecycle(t *testing.T) {
	h := newTestHub(t)
	c := newTestClient(h)
	join(t, h, c, "ROOM01")

	h.Dispatch(c, frame(t, protocol.TypeElementCreate, "ROOM01", c.sessionID, protocol.ElementCreateData{
		Type:       domain.ElementRectangle,
		Properties: domain.ElementProperties{Width: 100, Height: 50, StrokeColor: "#000"},
	}))
	msg := nextMessage(t, c)
	require.Equal(t, protocol.TypeElementCreated, msg.Type, "the author receives a direct ack")
	var created protocol.ElementCreatedData
	require.NoError(t, json.Unmarshal(msg.Data, &created))
	assert.Equal(t, uint64(1), created.Element.Version)

	// Update with the observed version succeeds.
	expected := uint64(1)
	x := 42.0
	h.Dispatch(c, frame(t, protocol.TypeElementUpdate, "ROOM01", c.sessionID, protocol.ElementUpdateData{
		ElementID:       created.Element.ID,
		Changes:         domain.ElementPatch{X: &x},
		ExpectedVersion: &expected,
	}))
	msg = nextMessage(t, c)
	require.Equal(t, protocol.TypeElementUpdated, msg.Type)
	var updated protocol.ElementUpdatedData
	require.NoError(t, json.Unmarshal(msg.Data, &updated))
	assert.Equal(t, uint64(2), updated.Version)

	// Replaying the stale version yields CONFLICT with the current version.
	h.Dispatch(c, frame(t, protocol.TypeElementUpdate, "ROOM01", c.sessionID, protocol.ElementUpdateData{
		ElementID:       created.Element.ID,
		Changes:         domain.ElementPatch{X: &x},
		ExpectedVersion: &expected,
	}))
	errData := errorData(t, nextMessage(t, c))
	assert.Equal(t, protocol.CodeConflict, errData.Code)
	assert.Equal(t, uint64(2), errData.CurrentVersion)
	assert.Equal(t, created.Element.ID, errData.ElementID)

	// Delete, then a second delete reports NOT_FOUND.
	h.Dispatch(c, frame(t, protocol.TypeElementDelete, "ROOM01", c.sessionID, protocol.ElementDeleteData{
		ElementID: created.Element.ID,
	}))
	msg = nextMessage(t, c)
	require.Equal(t, protocol.TypeElementDeleted, msg.Type)

	h.Dispatch(c, frame(t, protocol.TypeElementDelete, "ROOM01", c.sessionID, protocol.ElementDeleteData{
		ElementID: created.Element.ID,
	}))
	errData = errorData(t, nextMessage(t, c))
	assert.Equal(t, protocol.CodeNotFound, errData.Code)
}

func TestHub_InvalidElementRejected(t *testing.T) {
	h := newTestHub(t)
	c := newTestClient(h)
	join(t, h, c, "ROOM01")

	h.Dispatch(c, frame(t, protocol.TypeElementCreate, "ROOM01", c.sessionID, protocol.ElementCreateData{
		Type:       domain.ElementFreehand,
		Properties: domain.ElementProperties{Points: []domain.Point{{X: 1, Y: 1}}},
	}))

	data := errorData(t, nextMessage(t, c))
	assert.Equal(t, protocol.CodeValidation, data.Code)
}

func TestHub_LeaveClearsAssociation(t *testing.T) {
	h := newTestHub(t)
	c := newTestClient(h)
	join(t, h, c, "ROOM01")

	h.Dispatch(c, frame(t, protocol.TypeLeaveRoom, "ROOM01", c.sessionID, nil))
	assert.Empty(t, c.roomID)
	assert.Empty(t, c.sessionID)

	h.Dispatch(c, frame(t, protocol.TypeClearCanvas, "ROOM01", "", nil))
	data := errorData(t, nextMessage(t, c))
	assert.Equal(t, protocol.CodePermissionDenied, data.Code)
}

func TestHub_JoinSwitchesRooms(t *testing.T) {
	h := newTestHub(t)
	c := newTestClient(h)

	join(t, h, c, "FIRST1")
	join(t, h, c, "SECOND")

	assert.Equal(t, "SECOND", c.roomID)
	rm, ok := h.registry.Get("FIRST1")
	require.True(t, ok)
	assert.Equal(t, 0, rm.SessionCount(), "joining another room implies leaving the first")
}

func TestHub_RoomFull(t *testing.T) {
	h := newTestHub(t)
	a := newTestClient(h)
	b := newTestClient(h)

	h.Dispatch(a, frame(t, protocol.TypeCreateRoom, "", "", protocol.CreateRoomData{
		RoomID:   "TINY01",
		Settings: &domain.RoomSettings{MaxSessions: 1, IsPublic: true},
	}))
	require.Equal(t, protocol.TypeRoomCreated, nextMessage(t, a).Type)

	join(t, h, a, "TINY01")

	h.Dispatch(b, frame(t, protocol.TypeJoinRoom, "TINY01", "", protocol.JoinRoomData{}))
	data := errorData(t, nextMessage(t, b))
	assert.Equal(t, protocol.CodeRoomFull, data.Code)
}

func TestHub_GetRooms(t *testing.T) {
	h := newTestHub(t)
	c := newTestClient(h)
	join(t, h, c, "ROOM01")

	h.Dispatch(c, frame(t, protocol.TypeGetRooms, "", c.sessionID, nil))

	msg := nextMessage(t, c)
	require.Equal(t, protocol.TypeRoomsList, msg.Type)
	var data protocol.RoomsListData
	require.NoError(t, json.Unmarshal(msg.Data, &data))
	assert.Equal(t, 1, data.TotalRooms)
	assert.Equal(t, 1, data.TotalUsers)
	require.Len(t, data.Rooms, 1)
	assert.Equal(t, "ROOM01", data.Rooms[0].ID)
}

func TestHub_BroadcastBetweenClients(t *testing.T) {
	h := newTestHub(t)
	a := newTestClient(h)
	b := newTestClient(h)

	join(t, h, a, "ROOM01")
	join(t, h, b, "ROOM01")

	// The first member hears about the second joining.
	msg := nextMessage(t, a)
	require.Equal(t, protocol.TypeUserJoined, msg.Type)

	h.Dispatch(a, frame(t, protocol.TypeElementCreate, "ROOM01", a.sessionID, protocol.ElementCreateData{
		Type:       domain.ElementText,
		Properties: domain.ElementProperties{Text: "hello"},
	}))
	require.Equal(t, protocol.TypeElementCreated, nextMessage(t, a).Type)

	msg = nextMessage(t, b)
	require.Equal(t, protocol.TypeElementCreated, msg.Type)
	var created protocol.ElementCreatedData
	require.NoError(t, json.Unmarshal(msg.Data, &created))
	assert.Equal(t, a.sessionID, created.SessionID)
}

func TestHub_DisconnectLeavesRoom(t *testing.T) {
	h := newTestHub(t)
	a := newTestClient(h)
	b := newTestClient(h)
	join(t, h, a, "ROOM01")
	join(t, h, b, "ROOM01")
	nextMessage(t, a) // user_joined for b

	h.Disconnect(a)

	assert.Equal(t, 1, h.ConnectionCount())
	rm, ok := h.registry.Get("ROOM01")
	require.True(t, ok)
	assert.Equal(t, 1, rm.SessionCount())

	// The remaining member got the user_left fan-out.
	msg := nextMessage(t, b)
	require.Equal(t, protocol.TypeUserLeft, msg.Type)
	var left protocol.UserLeftData
	require.NoError(t, json.Unmarshal(msg.Data, &left))
	assert.NotEmpty(t, left.SessionID)
}
