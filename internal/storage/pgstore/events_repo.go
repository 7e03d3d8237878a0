package pgstore

import (
	"context"
	"time"

	"github.com/BearBump/OrderDesk/internal/models"
	"github.com/pkg/errors"
)

func (s *Storage) ListDeliveryEvents(ctx context.Context, orderID int64, limit, offset int) ([]*models.DeliveryEvent, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	if offset < 0 {
		offset = 0
	}

	rows, err := s.db.Query(ctx, `
SELECT id, order_id, carrier, old_status, new_status, direction, note, created_at
FROM delivery_events
WHERE order_id = $1
ORDER BY created_at DESC, id DESC
LIMIT $2 OFFSET $3
`, orderID, limit, offset)
	if err != nil {
		return nil, errors.Wrap(err, "select events")
	}
	defer rows.Close()

	var out []*models.DeliveryEvent
	for rows.Next() {
		var e models.DeliveryEvent
		if err := rows.Scan(&e.ID, &e.OrderID, &e.Carrier, &e.OldStatus, &e.NewStatus, &e.Direction, &e.Note, &e.CreatedAt); err != nil {
			return nil, errors.Wrap(err, "scan event")
		}
		out = append(out, &e)
	}
	if rows.Err() != nil {
		return nil, errors.Wrap(rows.Err(), "rows")
	}
	return out, nil
}

// InsertDeliveryEvent only ever appends; events are never updated.
func (r *txRepo) InsertDeliveryEvent(ctx context.Context, e *models.DeliveryEvent) error {
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}
	err := r.q.QueryRow(ctx, `
INSERT INTO delivery_events (order_id, carrier, old_status, new_status, direction, note, created_at)
VALUES ($1,$2,$3,$4,$5,$6,$7)
RETURNING id
`, e.OrderID, e.Carrier, e.OldStatus, e.NewStatus, e.Direction, e.Note, e.CreatedAt.UTC()).Scan(&e.ID)
	return errors.Wrap(err, "insert delivery event")
}
