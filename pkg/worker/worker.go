package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/multierr"

	"github.com/petrijr/procflow/internal/taskqueue"
)

// ErrNoHandler is returned by ProcessOne when a task's topic has no
// subscribed handler.
var ErrNoHandler = errors.New("no handler subscribed for topic")

// Handler processes one payload delivered on a topic.
type Handler func(ctx context.Context, payload []byte) error

// Config controls retries.
type Config struct {
	// MaxAttempts is the number of deliveries tried before a task is
	// discarded. Defaults to 5.
	MaxAttempts int
	// Backoff is the delay before the first retry; it doubles on every
	// further attempt. Defaults to 100ms.
	Backoff time.Duration
	// MaxBackoff caps the retry delay. Defaults to 30s.
	MaxBackoff time.Duration
	Logger     *slog.Logger
}

// Worker pulls tasks from a Queue and delivers them to topic handlers.
type Worker struct {
	queue  taskqueue.Queue
	cfg    Config
	logger *slog.Logger
	now    func() time.Time

	mu       sync.RWMutex
	handlers map[string]map[uint64]Handler
	nextID   uint64
}

// New creates a new Worker.
func New(queue taskqueue.Queue, cfg Config) *Worker {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 5
	}
	if cfg.Backoff <= 0 {
		cfg.Backoff = 100 * time.Millisecond
	}
	if cfg.MaxBackoff <= 0 {
		cfg.MaxBackoff = 30 * time.Second
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Worker{
		queue:    queue,
		cfg:      cfg,
		logger:   logger.With("module", "worker"),
		now:      time.Now,
		handlers: make(map[string]map[uint64]Handler),
	}
}

// Handle subscribes h to topic. The returned function removes it.
func (w *Worker) Handle(topic string, h Handler) (remove func()) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.nextID++
	id := w.nextID
	if w.handlers[topic] == nil {
		w.handlers[topic] = make(map[uint64]Handler)
	}
	w.handlers[topic][id] = h

	var once sync.Once
	return func() {
		once.Do(func() {
			w.mu.Lock()
			defer w.mu.Unlock()
			delete(w.handlers[topic], id)
			if len(w.handlers[topic]) == 0 {
				delete(w.handlers, topic)
			}
		})
	}
}

func (w *Worker) handlersFor(topic string) []Handler {
	w.mu.RLock()
	defer w.mu.RUnlock()
	out := make([]Handler, 0, len(w.handlers[topic]))
	for _, h := range w.handlers[topic] {
		out = append(out, h)
	}
	return out
}

// HandlerCount returns the number of handlers subscribed to topic.
func (w *Worker) HandlerCount(topic string) int {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return len(w.handlers[topic])
}

// Enqueue adds payload on topic for immediate delivery.
func (w *Worker) Enqueue(ctx context.Context, topic string, payload []byte) error {
	return w.EnqueueAt(ctx, topic, payload, time.Time{})
}

// EnqueueAt adds payload on topic for delivery no earlier than at.
func (w *Worker) EnqueueAt(ctx context.Context, topic string, payload []byte, at time.Time) error {
	return w.queue.Enqueue(ctx, taskqueue.Task{
		ID:         uuid.NewString(),
		Topic:      topic,
		Payload:    payload,
		EnqueuedAt: w.now(),
		NotBefore:  at,
	})
}

// ProcessOne pulls a single task from the queue and delivers it.
// Returns (processed, error):
//   - processed == false: no task was obtained; err is the dequeue error
//     (usually the context's).
//   - processed == true: a task was delivered; err reports handler
//     failures, in which case the task has been re-enqueued or discarded.
func (w *Worker) ProcessOne(ctx context.Context) (bool, error) {
	task, err := w.queue.Dequeue(ctx)
	if err != nil {
		return false, err
	}
	if task == nil {
		return false, nil
	}

	handlers := w.handlersFor(task.Topic)
	var deliverErr error
	if len(handlers) == 0 {
		deliverErr = fmt.Errorf("%w %q", ErrNoHandler, task.Topic)
	}
	for _, h := range handlers {
		deliverErr = multierr.Append(deliverErr, h(ctx, task.Payload))
	}
	if deliverErr == nil {
		return true, nil
	}

	if err := w.retry(ctx, *task, deliverErr); err != nil {
		deliverErr = multierr.Append(deliverErr, err)
	}
	return true, deliverErr
}

func (w *Worker) retry(ctx context.Context, task taskqueue.Task, cause error) error {
	task.Attempts++
	if task.Attempts >= w.cfg.MaxAttempts {
		w.logger.Error("task_discarded",
			slog.String("task_id", task.ID),
			slog.String("topic", task.Topic),
			slog.Int("attempts", task.Attempts),
			slog.String("error", cause.Error()),
		)
		return nil
	}
	delay := w.backoff(task.Attempts)
	task.NotBefore = w.now().Add(delay)
	w.logger.Warn("task_retry_scheduled",
		slog.String("task_id", task.ID),
		slog.String("topic", task.Topic),
		slog.Int("attempts", task.Attempts),
		slog.Duration("delay", delay),
		slog.String("error", cause.Error()),
	)
	// The dequeue context may already be cancelled; re-enqueueing must
	// still succeed or the task is lost.
	return w.queue.Enqueue(context.WithoutCancel(ctx), task)
}

func (w *Worker) backoff(attempts int) time.Duration {
	d := w.cfg.Backoff
	for i := 1; i < attempts; i++ {
		d *= 2
		if d >= w.cfg.MaxBackoff {
			return w.cfg.MaxBackoff
		}
	}
	return d
}

// Run processes tasks until ctx is done. Delivery failures are logged by
// ProcessOne's retry path; Run only returns the context's error.
func (w *Worker) Run(ctx context.Context) error {
	for {
		processed, err := w.ProcessOne(ctx)
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		if !processed && err != nil {
			w.logger.Error("dequeue_failed", slog.String("error", err.Error()))
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(w.cfg.Backoff):
			}
		}
	}
}
