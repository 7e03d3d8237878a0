package pgstore

import (
	"context"

	"github.com/pkg/errors"
)

func (s *Storage) initSchema(ctx context.Context) error {
	stmts := []string{
		`
CREATE TABLE IF NOT EXISTS products (
  id BIGSERIAL PRIMARY KEY,
  sku TEXT NOT NULL DEFAULT '',
  name TEXT NOT NULL DEFAULT '',
  cost NUMERIC(18,6) NOT NULL DEFAULT 0 CHECK (cost >= 0),
  invoiceable_quantity BIGINT NOT NULL DEFAULT 0 CHECK (invoiceable_quantity >= 0),
  stock_quantity BIGINT NOT NULL DEFAULT 0 CHECK (stock_quantity >= 0),
  updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
)`,
		`
CREATE TABLE IF NOT EXISTS invoices (
  id BIGSERIAL PRIMARY KEY,
  number TEXT NOT NULL UNIQUE,
  issued_at TIMESTAMPTZ NOT NULL,
  order_ids BIGINT[] NOT NULL DEFAULT '{}',
  total_ht NUMERIC(18,3) NOT NULL,
  total_vat NUMERIC(18,3) NOT NULL,
  total_ttc NUMERIC(18,3) NOT NULL
)`,
		`
CREATE TABLE IF NOT EXISTS orders (
  id BIGSERIAL PRIMARY KEY,
  reference TEXT NOT NULL DEFAULT '',
  customer_name TEXT NOT NULL DEFAULT '',
  customer_phone TEXT NOT NULL DEFAULT '',
  business_status TEXT NOT NULL,
  transporter TEXT NOT NULL DEFAULT '',
  tracking_number TEXT NOT NULL DEFAULT '',
  delivery_status TEXT NOT NULL DEFAULT 'PENDING',
  delivery_date TIMESTAMPTZ NULL,
  delivery_note TEXT NOT NULL DEFAULT '',
  last_tracking_check TIMESTAMPTZ NULL,
  return_status TEXT NOT NULL DEFAULT 'NONE',
  return_tracking_number TEXT NOT NULL DEFAULT '',
  return_date TIMESTAMPTZ NULL,
  return_note TEXT NOT NULL DEFAULT '',
  return_credit_note_id BIGINT NULL,
  carrier_invoiced BOOLEAN NOT NULL DEFAULT false,
  carrier_invoice_ref TEXT NOT NULL DEFAULT '',
  invoice_id BIGINT NULL REFERENCES invoices(id) ON DELETE SET NULL,
  created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
  updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
)`,
		`CREATE INDEX IF NOT EXISTS idx_orders_pollable ON orders(last_tracking_check NULLS FIRST)
  WHERE transporter IN ('ARAMEX','FIRST_DELIVERY') AND tracking_number <> ''`,
		`
CREATE TABLE IF NOT EXISTS order_lines (
  id BIGSERIAL PRIMARY KEY,
  order_id BIGINT NOT NULL REFERENCES orders(id) ON DELETE CASCADE,
  product_id BIGINT NOT NULL REFERENCES products(id),
  quantity BIGINT NOT NULL CHECK (quantity > 0),
  unit_price NUMERIC(18,3) NOT NULL DEFAULT 0
)`,
		`CREATE INDEX IF NOT EXISTS idx_order_lines_order_id ON order_lines(order_id)`,
		`
CREATE TABLE IF NOT EXISTS delivery_events (
  id BIGSERIAL PRIMARY KEY,
  order_id BIGINT NOT NULL REFERENCES orders(id) ON DELETE CASCADE,
  carrier TEXT NOT NULL DEFAULT '',
  old_status TEXT NOT NULL,
  new_status TEXT NOT NULL,
  direction TEXT NOT NULL,
  note TEXT NOT NULL DEFAULT '',
  created_at TIMESTAMPTZ NOT NULL
)`,
		`CREATE INDEX IF NOT EXISTS idx_delivery_events_order_id_created_at ON delivery_events(order_id, created_at DESC)`,
		`
CREATE TABLE IF NOT EXISTS cost_lots (
  id BIGSERIAL PRIMARY KEY,
  product_id BIGINT NOT NULL REFERENCES products(id) ON DELETE CASCADE,
  purchase_ref TEXT NOT NULL DEFAULT '',
  invoice_date TIMESTAMPTZ NOT NULL,
  original_quantity BIGINT NOT NULL CHECK (original_quantity > 0),
  remaining_quantity BIGINT NOT NULL,
  unit_cost NUMERIC(18,6) NOT NULL CHECK (unit_cost >= 0),
  created_at TIMESTAMPTZ NOT NULL,
  CHECK (remaining_quantity >= 0 AND remaining_quantity <= original_quantity)
)`,
		`CREATE INDEX IF NOT EXISTS idx_cost_lots_open ON cost_lots(product_id, invoice_date, id) WHERE remaining_quantity > 0`,
		`
CREATE TABLE IF NOT EXISTS invoice_lines (
  id BIGSERIAL PRIMARY KEY,
  invoice_id BIGINT NOT NULL REFERENCES invoices(id) ON DELETE CASCADE,
  order_id BIGINT NULL,
  product_id BIGINT NULL,
  label TEXT NOT NULL DEFAULT '',
  quantity BIGINT NOT NULL,
  unit_price_ht NUMERIC(18,3) NOT NULL,
  tax_rate NUMERIC(9,6) NOT NULL,
  total_ht NUMERIC(18,3) NOT NULL,
  total_vat NUMERIC(18,3) NOT NULL
)`,
		`
CREATE TABLE IF NOT EXISTS credit_notes (
  id BIGSERIAL PRIMARY KEY,
  number TEXT NOT NULL UNIQUE,
  invoice_id BIGINT NOT NULL,
  order_id BIGINT NOT NULL UNIQUE REFERENCES orders(id) ON DELETE CASCADE,
  total_ht NUMERIC(18,3) NOT NULL,
  total_vat NUMERIC(18,3) NOT NULL,
  total_ttc NUMERIC(18,3) NOT NULL,
  created_at TIMESTAMPTZ NOT NULL
)`,
		`
CREATE TABLE IF NOT EXISTS credit_note_lines (
  id BIGSERIAL PRIMARY KEY,
  credit_note_id BIGINT NOT NULL REFERENCES credit_notes(id) ON DELETE CASCADE,
  order_id BIGINT NULL,
  product_id BIGINT NULL,
  label TEXT NOT NULL DEFAULT '',
  quantity BIGINT NOT NULL,
  unit_price_ht NUMERIC(18,3) NOT NULL,
  tax_rate NUMERIC(9,6) NOT NULL,
  total_ht NUMERIC(18,3) NOT NULL,
  total_vat NUMERIC(18,3) NOT NULL
)`,
	}

	for _, q := range stmts {
		if _, err := s.db.Exec(ctx, q); err != nil {
			return errors.Wrap(err, "init schema")
		}
	}
	return nil
}
