package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/hibiken/asynq"
	"github.com/sirupsen/logrus"

	gormpersistence "collaborative-canvas/internal/infra/persistence/gorm"
	"collaborative-canvas/internal/tasks"
)

// PersistenceHandler applies queued canvas mutations to the durable store.
// Every write is an idempotent upsert, so at-least-once delivery is safe.
type PersistenceHandler struct {
	adapter *gormpersistence.Adapter
	log     *logrus.Entry
}

func NewPersistenceHandler(adapter *gormpersistence.Adapter, logger *logrus.Logger) *PersistenceHandler {
	if adapter == nil {
		panic("gorm adapter cannot be nil for PersistenceHandler")
	}
	return &PersistenceHandler{
		adapter: adapter,
		log:     logger.WithField("component", "persistence_handler"),
	}
}

func (h *PersistenceHandler) taskLog(t *asynq.Task) *logrus.Entry {
	taskID := ""
	if rw := t.ResultWriter(); rw != nil {
		taskID = rw.TaskID()
	}
	return h.log.WithFields(logrus.Fields{
		"task_id":   taskID,
		"task_type": t.Type(),
	})
}

// unmarshal decodes a task payload; a payload that cannot decode will never
// succeed, so it skips retry.
func unmarshal(t *asynq.Task, v interface{}) error {
	if err := json.Unmarshal(t.Payload(), v); err != nil {
		return fmt.Errorf("unmarshal %s payload: %v: %w", t.Type(), err, asynq.SkipRetry)
	}
	return nil
}

func (h *PersistenceHandler) HandleRoomPersist(ctx context.Context, t *asynq.Task) error {
	var payload tasks.RoomPersistPayload
	if err := unmarshal(t, &payload); err != nil {
		return err
	}
	if err := h.adapter.CreateRoom(ctx, payload.Room); err != nil {
		return fmt.Errorf("persist room %s: %w", payload.Room.ID, err)
	}
	h.taskLog(t).WithField("room_id", payload.Room.ID).Debug("Room persisted")
	return nil
}

func (h *PersistenceHandler) HandleRoomTouch(ctx context.Context, t *asynq.Task) error {
	var payload tasks.RoomTouchPayload
	if err := unmarshal(t, &payload); err != nil {
		return err
	}
	if err := h.adapter.TouchRoomActivity(ctx, payload.RoomID, payload.At); err != nil {
		return fmt.Errorf("touch room %s: %w", payload.RoomID, err)
	}
	return nil
}

func (h *PersistenceHandler) HandleRoomSweep(ctx context.Context, t *asynq.Task) error {
	var payload tasks.RoomSweepPayload
	if err := unmarshal(t, &payload); err != nil {
		return err
	}
	maxIdle := payload.MaxIdle
	if maxIdle <= 0 {
		maxIdle = 24 * time.Hour
	}
	removed, err := h.adapter.CleanupStaleRooms(ctx, time.Now().Add(-maxIdle))
	if err != nil {
		return fmt.Errorf("sweep stale rooms: %w", err)
	}
	if removed > 0 {
		h.taskLog(t).WithField("removed", removed).Info("Stale rooms swept from store")
	}
	return nil
}

func (h *PersistenceHandler) HandleSessionPersist(ctx context.Context, t *asynq.Task) error {
	var payload tasks.SessionPersistPayload
	if err := unmarshal(t, &payload); err != nil {
		return err
	}
	if err := h.adapter.AddSessionToRoom(ctx, payload.Session); err != nil {
		return fmt.Errorf("persist session %s: %w", payload.Session.ID, err)
	}
	return nil
}

func (h *PersistenceHandler) HandleSessionRemove(ctx context.Context, t *asynq.Task) error {
	var payload tasks.SessionRemovePayload
	if err := unmarshal(t, &payload); err != nil {
		return err
	}
	if err := h.adapter.RemoveSessionFromRoom(ctx, payload.RoomID, payload.SessionID); err != nil {
		return fmt.Errorf("remove session %s: %w", payload.SessionID, err)
	}
	return nil
}

func (h *PersistenceHandler) HandleElementPersist(ctx context.Context, t *asynq.Task) error {
	var payload tasks.ElementPersistPayload
	if err := unmarshal(t, &payload); err != nil {
		return err
	}
	if err := h.adapter.UpdateElement(ctx, payload.RoomID, payload.Element); err != nil {
		return fmt.Errorf("persist element %s: %w", payload.Element.ID, err)
	}
	h.taskLog(t).WithFields(logrus.Fields{
		"room_id":    payload.RoomID,
		"element_id": payload.Element.ID,
		"version":    payload.Element.Version,
	}).Debug("Element persisted")
	return nil
}

func (h *PersistenceHandler) HandleElementsClear(ctx context.Context, t *asynq.Task) error {
	var payload tasks.ElementsClearPayload
	if err := unmarshal(t, &payload); err != nil {
		return err
	}
	if err := h.adapter.ClearElementsInRoom(ctx, payload.RoomID); err != nil {
		return fmt.Errorf("clear elements in room %s: %w", payload.RoomID, err)
	}
	return nil
}
