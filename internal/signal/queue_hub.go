package signal

import (
	"context"
	"log/slog"
	"sync"

	"github.com/petrijr/procflow/internal/taskqueue"
	"github.com/petrijr/procflow/pkg/api"
	"github.com/petrijr/procflow/pkg/worker"
)

// QueueHub is an api.SignalHub whose messages survive in a durable task
// queue until a subscriber has handled them. Failed deliveries are retried
// with backoff by the embedded worker.
type QueueHub struct {
	resolverSet

	worker *worker.Worker
	logger *slog.Logger
	cancel context.CancelFunc
	done   chan struct{}
	once   sync.Once
}

var (
	_ api.SignalHub                  = (*QueueHub)(nil)
	_ api.SupportsInstanceResolution = (*QueueHub)(nil)
)

// NewQueueHub starts a worker draining q. Close stops it; queued messages
// stay in q for the next hub.
func NewQueueHub(q taskqueue.Queue, cfg worker.Config) *QueueHub {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	cfg.Logger = logger
	ctx, cancel := context.WithCancel(context.Background())
	h := &QueueHub{
		worker: worker.New(q, cfg),
		logger: logger.With("module", "queue_signal_hub"),
		cancel: cancel,
		done:   make(chan struct{}),
	}
	go func() {
		defer close(h.done)
		_ = h.worker.Run(ctx)
	}()
	return h
}

// Publish enqueues payload on topic.
func (h *QueueHub) Publish(ctx context.Context, topic string, payload []byte) error {
	return h.worker.Enqueue(ctx, topic, payload)
}

// Subscribe adds handler for topic until ctx is done. A handler error
// makes the message eligible for redelivery.
func (h *QueueHub) Subscribe(ctx context.Context, topic string, handler func(ctx context.Context, payload []byte) error) error {
	remove := h.worker.Handle(topic, handler)
	go func() {
		select {
		case <-ctx.Done():
		case <-h.done:
		}
		remove()
	}()
	h.logger.Debug("subscribed", slog.String("topic", topic))
	return nil
}

// Close stops the worker and waits for the in-flight delivery to finish.
func (h *QueueHub) Close() error {
	h.once.Do(func() {
		h.cancel()
		<-h.done
	})
	return nil
}
