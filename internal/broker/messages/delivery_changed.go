package messages

import (
	"encoding/json"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
)

// DeliveryChanged is published on order.delivery_changed after a status
// change has been committed. Consumers must treat it as at-least-once.
type DeliveryChanged struct {
	MessageID string `json:"message_id"`
	OrderID   int64  `json:"order_id"`
	Reference string `json:"reference,omitempty"`
	Carrier   string `json:"carrier,omitempty"`
	Direction string `json:"direction"`

	OldStatus      string `json:"old_status"`
	NewStatus      string `json:"new_status"`
	BusinessStatus string `json:"business_status,omitempty"`

	DeliveryDate *time.Time `json:"delivery_date,omitempty"`
	ChangedAt    time.Time  `json:"changed_at"`
}

// Key partitions by order so one order's changes stay ordered.
func (m DeliveryChanged) Key() []byte {
	return []byte(strconv.FormatInt(m.OrderID, 10))
}

func (m DeliveryChanged) Encode() ([]byte, error) {
	if m.MessageID == "" {
		m.MessageID = uuid.NewString()
	}
	b, err := json.Marshal(m)
	return b, errors.Wrap(err, "marshal delivery changed")
}

func DecodeDeliveryChanged(b []byte) (DeliveryChanged, error) {
	var m DeliveryChanged
	if err := json.Unmarshal(b, &m); err != nil {
		return m, errors.Wrap(err, "unmarshal delivery changed")
	}
	if m.OrderID <= 0 {
		return m, errors.New("delivery changed: missing order_id")
	}
	return m, nil
}
