package persistence

import (
	"context"
	"time"

	"github.com/hibiken/asynq"
	"github.com/sirupsen/logrus"

	"collaborative-canvas/internal/domain"
	"collaborative-canvas/internal/tasks"
)

// Async is the write-through Adapter used when a durable store is configured.
// Write methods enqueue asynq tasks and return immediately, so a durable
// write never gates the in-memory mutation or its broadcast. Reads delegate
// to the wrapped adapter; they happen only at startup/recovery, never on the
// hot path.
type Async struct {
	client *asynq.Client
	reads  Adapter
	log    *logrus.Entry
}

func NewAsync(client *asynq.Client, reads Adapter, logger *logrus.Logger) *Async {
	if client == nil {
		panic("asynq client cannot be nil for Async adapter")
	}
	if reads == nil {
		panic("read adapter cannot be nil for Async adapter")
	}
	return &Async{
		client: client,
		reads:  reads,
		log:    logger.WithField("component", "async_persistence"),
	}
}

func (a *Async) enqueue(task *asynq.Task, err error, queue string) error {
	if err != nil {
		a.log.WithError(err).WithField("task_type", task.Type()).Error("Failed to build persistence task")
		return err
	}
	if _, err := a.client.Enqueue(task, asynq.Queue(queue), asynq.MaxRetry(5)); err != nil {
		a.log.WithError(err).WithField("task_type", task.Type()).Error("Failed to enqueue persistence task")
		return err
	}
	return nil
}

func (a *Async) CreateRoom(_ context.Context, room domain.Room) error {
	t, err := tasks.NewRoomPersistTask(room)
	return a.enqueue(t, err, tasks.QueueDefault)
}

func (a *Async) GetRoom(ctx context.Context, id string) (*domain.Room, error) {
	return a.reads.GetRoom(ctx, id)
}

func (a *Async) TouchRoomActivity(_ context.Context, roomID string, at time.Time) error {
	t, err := tasks.NewRoomTouchTask(roomID, at)
	return a.enqueue(t, err, tasks.QueueLow)
}

func (a *Async) AddSessionToRoom(_ context.Context, session domain.Session) error {
	t, err := tasks.NewSessionPersistTask(session)
	return a.enqueue(t, err, tasks.QueueDefault)
}

func (a *Async) RemoveSessionFromRoom(_ context.Context, roomID, sessionID string) error {
	t, err := tasks.NewSessionRemoveTask(roomID, sessionID)
	return a.enqueue(t, err, tasks.QueueDefault)
}

func (a *Async) ListSessionsInRoom(ctx context.Context, roomID string) ([]domain.Session, error) {
	return a.reads.ListSessionsInRoom(ctx, roomID)
}

func (a *Async) CreateElement(_ context.Context, roomID string, element domain.Element) error {
	t, err := tasks.NewElementPersistTask(roomID, element)
	return a.enqueue(t, err, tasks.QueueDefault)
}

func (a *Async) UpdateElement(_ context.Context, roomID string, element domain.Element) error {
	t, err := tasks.NewElementPersistTask(roomID, element)
	return a.enqueue(t, err, tasks.QueueDefault)
}

func (a *Async) DeleteElement(_ context.Context, roomID string, element domain.Element) error {
	// A delete is a tombstone write, the worker upserts the full record.
	t, err := tasks.NewElementPersistTask(roomID, element)
	return a.enqueue(t, err, tasks.QueueDefault)
}

func (a *Async) ListElementsInRoom(ctx context.Context, roomID string) ([]domain.Element, error) {
	return a.reads.ListElementsInRoom(ctx, roomID)
}

func (a *Async) ClearElementsInRoom(_ context.Context, roomID string) error {
	t, err := tasks.NewElementsClearTask(roomID)
	return a.enqueue(t, err, tasks.QueueDefault)
}
