// Package worker runs the asynq consumer that drains persistence tasks into
// the durable store.
package worker

import (
	"context"
	"errors"

	"github.com/hibiken/asynq"
	"github.com/sirupsen/logrus"

	gormpersistence "collaborative-canvas/internal/infra/persistence/gorm"
	"collaborative-canvas/internal/tasks"
)

// WorkerServer wraps the asynq server lifecycle.
type WorkerServer struct {
	server  *asynq.Server
	adapter *gormpersistence.Adapter
	log     *logrus.Entry
}

func NewWorkerServer(redisOpt asynq.RedisClientOpt, adapter *gormpersistence.Adapter, logger *logrus.Logger) *WorkerServer {
	if adapter == nil {
		panic("gorm adapter cannot be nil for WorkerServer")
	}
	logEntry := logger.WithField("component", "worker_server")

	server := asynq.NewServer(
		redisOpt,
		asynq.Config{
			Concurrency: 10,
			Queues: map[string]int{
				"critical":         6,
				tasks.QueueDefault: 3,
				tasks.QueueLow:     1,
			},
			ErrorHandler: asynq.ErrorHandlerFunc(func(ctx context.Context, task *asynq.Task, err error) {
				taskID := ""
				if rw := task.ResultWriter(); rw != nil {
					taskID = rw.TaskID()
				}
				retryCount, _ := asynq.GetRetryCount(ctx)
				maxRetry, _ := asynq.GetMaxRetry(ctx)
				logEntry.WithFields(logrus.Fields{
					"task_id":   taskID,
					"task_type": task.Type(),
					"retries":   retryCount,
					"max_retry": maxRetry,
				}).Errorf("Task failed: %v", err)
			}),
		},
	)

	return &WorkerServer{
		server:  server,
		adapter: adapter,
		log:     logEntry,
	}
}

// Start runs the worker server. It should be called in its own goroutine.
func (ws *WorkerServer) Start() {
	mux := asynq.NewServeMux()

	handler := NewPersistenceHandler(ws.adapter, ws.log.Logger)
	mux.HandleFunc(tasks.TypeRoomPersist, handler.HandleRoomPersist)
	mux.HandleFunc(tasks.TypeRoomTouch, handler.HandleRoomTouch)
	mux.HandleFunc(tasks.TypeRoomSweep, handler.HandleRoomSweep)
	mux.HandleFunc(tasks.TypeSessionPersist, handler.HandleSessionPersist)
	mux.HandleFunc(tasks.TypeSessionRemove, handler.HandleSessionRemove)
	mux.HandleFunc(tasks.TypeElementPersist, handler.HandleElementPersist)
	mux.HandleFunc(tasks.TypeElementsClear, handler.HandleElementsClear)

	ws.log.Info("Worker server starting...")
	if err := ws.server.Run(mux); err != nil {
		if !errors.Is(err, asynq.ErrServerClosed) {
			ws.log.Fatalf("Could not run worker server: %v", err)
		} else {
			ws.log.Info("Worker server stopped.")
		}
	}
}

// Shutdown gracefully stops the worker server.
func (ws *WorkerServer) Shutdown() {
	ws.log.Info("Shutting down worker server...")
	ws.server.Shutdown()
	ws.log.Info("Worker server shut down complete.")
}
