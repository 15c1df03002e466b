package jobs

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
)

// HandlerFunc executes a task and returns its result payload.
type HandlerFunc func(ctx context.Context, env *Envelope) (json.RawMessage, error)

// Worker consumes task queues, executes registered handlers, stores
// results, and advances chained runs.
type Worker struct {
	transport Transport
	store     ResultStore
	logger    *slog.Logger
	handlers  map[string]HandlerFunc
}

// WorkerOption configures the worker.
type WorkerOption func(*Worker)

// WithWorkerLogger sets the logger.
func WithWorkerLogger(logger *slog.Logger) WorkerOption {
	return func(w *Worker) {
		w.logger = logger
	}
}

// NewWorker creates a worker over the given transport and result store.
func NewWorker(transport Transport, store ResultStore, options ...WorkerOption) *Worker {
	w := &Worker{
		transport: transport,
		store:     store,
		logger:    slog.Default(),
		handlers:  make(map[string]HandlerFunc),
	}

	for _, opt := range options {
		opt(w)
	}

	return w
}

// Register binds a handler to a task name. Must be called before Start.
func (w *Worker) Register(task string, handler HandlerFunc) {
	w.handlers[task] = handler
}

// Start declares every registered task queue and begins consuming.
func (w *Worker) Start(ctx context.Context) error {
	for task := range w.handlers {
		queue := QueueName(task)
		if err := w.transport.DeclareQueue(queue); err != nil {
			return fmt.Errorf("declare queue %s: %w", queue, err)
		}
		if err := w.transport.Subscribe(ctx, queue, w.handle); err != nil {
			return fmt.Errorf("subscribe %s: %w", queue, err)
		}
	}

	w.logger.Info("worker started", "tasks", len(w.handlers))
	return nil
}

// handle processes one delivery. A non-nil return requeues the delivery,
// so only infrastructure failures (store, publish) propagate; task
// failures are stored as error results and acknowledged.
func (w *Worker) handle(ctx context.Context, body []byte) error {
	var env Envelope
	if err := json.Unmarshal(body, &env); err != nil {
		w.logger.Error("dropping undecodable envelope", "error", err)
		return nil
	}

	handler, ok := w.handlers[env.Task]
	if !ok {
		w.logger.Error("dropping envelope for unknown task", "task", env.Task, "taskId", env.ID)
		return nil
	}

	payload, taskErr := handler(ctx, &env)

	result := &Result{ReturnValue: payload}
	if taskErr != nil {
		result.IsErr = true
		result.Log = taskErr.Error()
		w.logger.Error("task failed",
			"task", env.Task,
			"taskId", env.ID,
			"error", taskErr)
	}

	// The result is stored before any successor is published, so observers
	// of stage n can rely on results for stages 1..n-1 being present.
	if err := w.store.Save(ctx, env.ID, result); err != nil {
		return fmt.Errorf("store result for %s: %w", env.ID, err)
	}

	if taskErr != nil {
		// Chained runs halt here: the failed stage stored its result and
		// no successor is enqueued.
		return nil
	}

	next, ok := env.Next(payload)
	if !ok {
		return nil
	}

	nextBody, err := json.Marshal(next)
	if err != nil {
		return fmt.Errorf("marshal next envelope: %w", err)
	}
	queue := QueueName(next.Task)
	if err := w.transport.DeclareQueue(queue); err != nil {
		return fmt.Errorf("declare queue %s: %w", queue, err)
	}
	if err := w.transport.Publish(ctx, queue, nextBody); err != nil {
		return fmt.Errorf("publish next stage %s: %w", next.Task, err)
	}

	w.logger.Debug("advanced chained run",
		"pipelineId", next.Run.PipelineID,
		"task", next.Task,
		"stage", next.Run.Index)

	return nil
}
