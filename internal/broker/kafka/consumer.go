package kafka

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/BearBump/OrderDesk/internal/broker/messages"
	"github.com/pkg/errors"
	"github.com/segmentio/kafka-go"
)

type messageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// DeliveryChangedHandler applies one decoded delivery_changed message.
type DeliveryChangedHandler func(ctx context.Context, m messages.DeliveryChanged) error

// Consumer reads order.delivery_changed with at-least-once semantics.
type Consumer struct {
	r       messageReader
	log     *slog.Logger
	skipped atomic.Int64
}

func NewConsumer(brokers []string, topic, groupID string) *Consumer {
	cfg := kafka.ReaderConfig{
		Brokers:           brokers,
		GroupID:           groupID,
		HeartbeatInterval: 3 * time.Second,
		SessionTimeout:    30 * time.Second,
		// Новая группа не переигрывает всю историю: снапшоты всё равно читаются из БД.
		StartOffset: kafka.LastOffset,
	}
	if groupID != "" {
		cfg.GroupTopics = []string{topic}
	} else {
		cfg.Topic = topic
	}
	return newConsumerWithReader(kafka.NewReader(cfg))
}

func newConsumerWithReader(r messageReader) *Consumer {
	return &Consumer{r: r, log: slog.Default().With("component", "delivery_changed_consumer")}
}

func (c *Consumer) Close() error {
	return c.r.Close()
}

// Skipped is the number of payloads dropped because they did not decode.
func (c *Consumer) Skipped() int64 {
	return c.skipped.Load()
}

// ConsumeDeliveryChanged runs until fetching fails or handle returns an error.
// A payload that does not decode is committed and skipped, since a retry
// cannot fix it. A handler error leaves the message uncommitted so the group
// redelivers it.
func (c *Consumer) ConsumeDeliveryChanged(ctx context.Context, handle DeliveryChangedHandler) error {
	for {
		msg, err := c.r.FetchMessage(ctx)
		if err != nil {
			return errors.Wrap(err, "fetch delivery_changed")
		}

		m, err := messages.DecodeDeliveryChanged(msg.Value)
		if err != nil {
			c.skipped.Add(1)
			c.log.Warn("skip malformed delivery_changed",
				"partition", msg.Partition, "offset", msg.Offset, "error", err.Error())
		} else if err := handle(ctx, m); err != nil {
			return errors.Wrapf(err, "handle delivery_changed for order %d", m.OrderID)
		}

		if err := c.r.CommitMessages(ctx, msg); err != nil {
			return errors.Wrap(err, "commit delivery_changed")
		}
	}
}
