package pgstore

import (
	"context"
	"time"

	"github.com/BearBump/OrderDesk/internal/models"
	"github.com/jackc/pgx/v5"
	"github.com/pkg/errors"
)

const orderColumns = `
  id, reference, customer_name, customer_phone, business_status,
  transporter, tracking_number, delivery_status, delivery_date, delivery_note, last_tracking_check,
  return_status, return_tracking_number, return_date, return_note, return_credit_note_id,
  carrier_invoiced, carrier_invoice_ref, invoice_id,
  created_at, updated_at`

func scanOrder(row pgx.Row) (*models.Order, error) {
	var o models.Order
	if err := row.Scan(
		&o.ID, &o.Reference, &o.CustomerName, &o.CustomerPhone, &o.BusinessStatus,
		&o.Transporter, &o.TrackingNumber, &o.DeliveryStatus, &o.DeliveryDate, &o.DeliveryNote, &o.LastTrackingCheck,
		&o.ReturnStatus, &o.ReturnTrackingNumber, &o.ReturnDate, &o.ReturnNote, &o.ReturnCreditNoteID,
		&o.CarrierInvoiced, &o.CarrierInvoiceRef, &o.InvoiceID,
		&o.CreatedAt, &o.UpdatedAt,
	); err != nil {
		return nil, err
	}
	return &o, nil
}

func getOrder(ctx context.Context, q querier, orderID int64, lock bool) (*models.Order, error) {
	sql := `SELECT` + orderColumns + ` FROM orders WHERE id = $1`
	if lock {
		sql += ` FOR UPDATE`
	}
	o, err := scanOrder(q.QueryRow(ctx, sql, orderID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, models.ErrOrderNotFound
	}
	if err != nil {
		return nil, errors.Wrap(err, "select order")
	}

	o.Lines, err = listOrderLines(ctx, q, orderID)
	if err != nil {
		return nil, err
	}
	return o, nil
}

func listOrderLines(ctx context.Context, q querier, orderID int64) ([]models.OrderLine, error) {
	rows, err := q.Query(ctx, `
SELECT id, order_id, product_id, quantity, unit_price
FROM order_lines
WHERE order_id = $1
ORDER BY id
`, orderID)
	if err != nil {
		return nil, errors.Wrap(err, "select order lines")
	}
	defer rows.Close()

	var out []models.OrderLine
	for rows.Next() {
		var l models.OrderLine
		if err := rows.Scan(&l.ID, &l.OrderID, &l.ProductID, &l.Quantity, &l.UnitPrice); err != nil {
			return nil, errors.Wrap(err, "scan order line")
		}
		out = append(out, l)
	}
	if rows.Err() != nil {
		return nil, errors.Wrap(rows.Err(), "rows")
	}
	return out, nil
}

func (s *Storage) GetOrder(ctx context.Context, orderID int64) (*models.Order, error) {
	return getOrder(ctx, s.db, orderID, false)
}

// ListPollableOrders returns orders an external carrier still has news about,
// least recently checked first.
func (s *Storage) ListPollableOrders(ctx context.Context, limit int) ([]*models.Order, error) {
	if limit <= 0 || limit > 1000 {
		limit = 200
	}

	rows, err := s.db.Query(ctx, `SELECT`+orderColumns+`
FROM orders
WHERE transporter IN ($1, $2)
  AND tracking_number <> ''
  AND delivery_status NOT IN ($3, $4, $5)
  AND business_status NOT IN ($6, $7, $8)
ORDER BY last_tracking_check ASC NULLS FIRST, id ASC
LIMIT $9
`,
		models.TransporterAramex, models.TransporterFirstDelivery,
		models.DeliveryDelivered, models.DeliveryReturned, models.DeliveryCancelled,
		models.OrderDelivered, models.OrderReturned, models.OrderCancelled,
		limit)
	if err != nil {
		return nil, errors.Wrap(err, "select pollable orders")
	}
	defer rows.Close()

	var out []*models.Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, errors.Wrap(err, "scan pollable order")
		}
		out = append(out, o)
	}
	if rows.Err() != nil {
		return nil, errors.Wrap(rows.Err(), "rows")
	}
	return out, nil
}

// CreateOrder inserts an order with its lines. Orders are normally created by
// the storefront; this is used by seeding and tests.
func (s *Storage) CreateOrder(ctx context.Context, o *models.Order) error {
	tx, err := s.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return errors.Wrap(err, "begin tx")
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if o.DeliveryStatus == "" {
		o.DeliveryStatus = models.DeliveryPending
	}
	if o.ReturnStatus == "" {
		o.ReturnStatus = models.ReturnNone
	}
	if o.BusinessStatus == "" {
		o.BusinessStatus = models.OrderDraft
	}

	err = tx.QueryRow(ctx, `
INSERT INTO orders (reference, customer_name, customer_phone, business_status,
  transporter, tracking_number, delivery_status, return_status, created_at, updated_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8, now(), now())
RETURNING id, created_at, updated_at
`, o.Reference, o.CustomerName, o.CustomerPhone, o.BusinessStatus,
		o.Transporter, o.TrackingNumber, o.DeliveryStatus, o.ReturnStatus).Scan(&o.ID, &o.CreatedAt, &o.UpdatedAt)
	if err != nil {
		return errors.Wrap(err, "insert order")
	}

	for i := range o.Lines {
		l := &o.Lines[i]
		l.OrderID = o.ID
		err := tx.QueryRow(ctx, `
INSERT INTO order_lines (order_id, product_id, quantity, unit_price)
VALUES ($1,$2,$3,$4)
RETURNING id
`, o.ID, l.ProductID, l.Quantity, l.UnitPrice).Scan(&l.ID)
		if err != nil {
			return errors.Wrap(err, "insert order line")
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return errors.Wrap(err, "commit tx")
	}
	return nil
}

func (r *txRepo) GetOrderForUpdate(ctx context.Context, orderID int64) (*models.Order, error) {
	return getOrder(ctx, r.q, orderID, true)
}

func (r *txRepo) UpdateOrder(ctx context.Context, o *models.Order) error {
	tag, err := r.q.Exec(ctx, `
UPDATE orders
SET
  business_status = $2,
  transporter = $3,
  tracking_number = $4,
  delivery_status = $5,
  delivery_date = $6,
  delivery_note = $7,
  last_tracking_check = $8,
  return_status = $9,
  return_tracking_number = $10,
  return_date = $11,
  return_note = $12,
  return_credit_note_id = $13,
  carrier_invoiced = $14,
  carrier_invoice_ref = $15,
  invoice_id = $16,
  updated_at = now()
WHERE id = $1
`, o.ID, o.BusinessStatus, o.Transporter, o.TrackingNumber, o.DeliveryStatus, o.DeliveryDate, o.DeliveryNote,
		o.LastTrackingCheck, o.ReturnStatus, o.ReturnTrackingNumber, o.ReturnDate, o.ReturnNote,
		o.ReturnCreditNoteID, o.CarrierInvoiced, o.CarrierInvoiceRef, o.InvoiceID)
	if err != nil {
		return errors.Wrap(err, "update order")
	}
	if tag.RowsAffected() == 0 {
		return models.ErrOrderNotFound
	}
	return nil
}

func (r *txRepo) TouchTrackingCheck(ctx context.Context, orderID int64, at time.Time) error {
	_, err := r.q.Exec(ctx, `UPDATE orders SET last_tracking_check = $2, updated_at = now() WHERE id = $1`, orderID, at.UTC())
	return errors.Wrap(err, "touch tracking check")
}
