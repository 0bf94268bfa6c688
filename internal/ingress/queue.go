package ingress

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Task is one unit of deferred webhook processing.
type Task struct {
	ID    string
	Event *Event
}

// Queue decouples webhook acknowledgment from processing: the handler
// acknowledges immediately and enqueues, a fixed worker pool drains. A full
// queue drops the task with a log entry rather than blocking the handler.
type Queue struct {
	logger  *zap.Logger
	tasks   chan Task
	process func(ctx context.Context, evt *Event) error
	workers int

	mu     sync.Mutex
	closed bool
	wg     sync.WaitGroup
}

// NewQueue creates a task queue with the given capacity and worker count
func NewQueue(logger *zap.Logger, size, workers int, process func(ctx context.Context, evt *Event) error) *Queue {
	return &Queue{
		logger:  logger.Named("ingress.queue"),
		tasks:   make(chan Task, size),
		process: process,
		workers: workers,
	}
}

// Start launches the worker pool.
func (q *Queue) Start() {
	for i := 0; i < q.workers; i++ {
		q.wg.Add(1)
		go q.worker(i)
	}
}

func (q *Queue) worker(id int) {
	defer q.wg.Done()
	for task := range q.tasks {
		q.run(id, task)
	}
}

// run executes one task, containing panics so a bad payload cannot take a
// worker down.
func (q *Queue) run(worker int, task Task) {
	defer func() {
		if r := recover(); r != nil {
			q.logger.Error("task panicked",
				zap.Int("worker", worker),
				zap.String("task_id", task.ID),
				zap.Any("panic", r))
		}
	}()

	if err := q.process(context.Background(), task.Event); err != nil {
		q.logger.Error("task failed",
			zap.Int("worker", worker),
			zap.String("task_id", task.ID),
			zap.Int64("conversation_id", task.Event.ConversationID),
			zap.Error(err))
	}
}

// Enqueue submits an event for processing. Returns the task id, or false
// when the queue is shut down or full.
func (q *Queue) Enqueue(evt *Event) (string, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return "", false
	}

	task := Task{ID: uuid.New().String(), Event: evt}
	select {
	case q.tasks <- task:
		return task.ID, true
	default:
		q.logger.Warn("queue full, dropping event",
			zap.Int64("conversation_id", evt.ConversationID),
			zap.String("event", evt.Type.String()))
		return "", false
	}
}

// Shutdown stops accepting tasks and waits for in-flight ones, bounded by
// the context deadline.
func (q *Queue) Shutdown(ctx context.Context) error {
	q.mu.Lock()
	if !q.closed {
		q.closed = true
		close(q.tasks)
	}
	q.mu.Unlock()

	done := make(chan struct{})
	go func() {
		q.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
