package events

import (
	"context"
	"log/slog"
	"time"

	"github.com/BearBump/OrderDesk/internal/broker/messages"
	"github.com/BearBump/OrderDesk/internal/metrics"
	"github.com/BearBump/OrderDesk/internal/models"
)

type Producer interface {
	Publish(ctx context.Context, topic string, key, value []byte) error
}

// Publisher emits delivery_changed messages after a transition has been
// committed. Publishing is best-effort: the database stays the source of truth
// and a lost message never rolls anything back.
type Publisher struct {
	producer Producer
	topic    string
	attempts int
	backoff  time.Duration
	metrics  *metrics.Metrics
}

// NewPublisher returns a publisher; a nil producer makes it a no-op.
func NewPublisher(p Producer, topic string, m *metrics.Metrics) *Publisher {
	return &Publisher{producer: p, topic: topic, attempts: 10, backoff: 150 * time.Millisecond, metrics: m}
}

func (p *Publisher) WithRetry(attempts int, backoff time.Duration) *Publisher {
	if attempts > 0 {
		p.attempts = attempts
	}
	if backoff > 0 {
		p.backoff = backoff
	}
	return p
}

// Changed builds the message for an order whose status moved from old to new.
func Changed(o *models.Order, direction models.Direction, oldStatus, newStatus string, at time.Time) messages.DeliveryChanged {
	return messages.DeliveryChanged{
		OrderID:        o.ID,
		Reference:      o.Reference,
		Carrier:        string(o.Transporter),
		Direction:      string(direction),
		OldStatus:      oldStatus,
		NewStatus:      newStatus,
		BusinessStatus: string(o.BusinessStatus),
		DeliveryDate:   o.DeliveryDate,
		ChangedAt:      at.UTC(),
	}
}

func (p *Publisher) Publish(ctx context.Context, msg messages.DeliveryChanged) {
	if p == nil || p.producer == nil {
		return
	}
	b, err := msg.Encode()
	if err != nil {
		slog.Error("encode delivery changed", "order_id", msg.OrderID, "error", err.Error())
		return
	}

	// Kafka может быть не готова сразу после старта, поэтому несколько попыток.
	var pubErr error
	for i := 0; i < p.attempts; i++ {
		if pubErr = p.producer.Publish(ctx, p.topic, msg.Key(), b); pubErr == nil {
			return
		}
		if i == p.attempts-1 {
			break
		}
		if err := sleep(ctx, time.Duration(i+1)*p.backoff); err != nil {
			pubErr = err
			break
		}
	}
	p.metrics.PublishFailed()
	slog.Error("publish delivery changed", "order_id", msg.OrderID, "topic", p.topic, "error", pubErr.Error())
}

func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
