// Package signal routes signals and completion messages between processes
// over an in-process watermill pub/sub, and answers "who is waiting for
// event X" through registered instance resolvers.
package signal

import (
	"context"
	"log/slog"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"

	"github.com/petrijr/procflow/pkg/api"
)

// Hub is the default api.SignalHub. It implements
// api.SupportsInstanceResolution.
type Hub struct {
	resolverSet

	pubSub *gochannel.GoChannel
	logger *slog.Logger
}

var (
	_ api.SignalHub                  = (*Hub)(nil)
	_ api.SupportsInstanceResolution = (*Hub)(nil)
)

// NewHub creates a hub backed by a non-persistent gochannel pub/sub.
func NewHub(logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	pubSub := gochannel.NewGoChannel(
		gochannel.Config{
			OutputChannelBuffer:            1000,
			Persistent:                     false,
			BlockPublishUntilSubscriberAck: false,
		},
		watermill.NewSlogLogger(logger),
	)
	return &Hub{
		pubSub: pubSub,
		logger: logger.With("module", "signal_hub"),
	}
}

// Publish sends payload on topic. Delivery is asynchronous.
func (h *Hub) Publish(_ context.Context, topic string, payload []byte) error {
	return h.pubSub.Publish(topic, message.NewMessage(watermill.NewUUID(), payload))
}

// Subscribe runs handler for each message on topic until ctx is done.
// Handler errors are logged and the message is acknowledged anyway: a
// failing delivery is not retried.
func (h *Hub) Subscribe(ctx context.Context, topic string, handler func(ctx context.Context, payload []byte) error) error {
	messages, err := h.pubSub.Subscribe(ctx, topic)
	if err != nil {
		return err
	}

	go func() {
		for msg := range messages {
			if err := handler(msg.Context(), msg.Payload); err != nil {
				h.logger.Warn("signal_handler_failed",
					slog.String("topic", topic),
					slog.String("message_id", msg.UUID),
					slog.String("error", err.Error()),
				)
			}
			msg.Ack()
		}
	}()
	return nil
}

// Close shuts the pub/sub down; subscribers' channels are closed.
func (h *Hub) Close() error {
	return h.pubSub.Close()
}
