package pgstore

import (
	"context"
	"time"

	"github.com/BearBump/OrderDesk/internal/models"
	"github.com/jackc/pgx/v5"
	"github.com/pkg/errors"
)

// CreateProduct is used by seeding and tests; the catalogue lives elsewhere.
func (s *Storage) CreateProduct(ctx context.Context, p *models.Product) error {
	err := s.db.QueryRow(ctx, `
INSERT INTO products (sku, name, cost, invoiceable_quantity, stock_quantity, updated_at)
VALUES ($1,$2,$3,$4,$5, now())
RETURNING id, updated_at
`, p.SKU, p.Name, p.Cost, p.InvoiceableQuantity, p.StockQuantity).Scan(&p.ID, &p.UpdatedAt)
	return errors.Wrap(err, "insert product")
}

func (s *Storage) GetProduct(ctx context.Context, productID int64) (*models.Product, error) {
	return getProduct(ctx, s.db, productID, false)
}

func getProduct(ctx context.Context, q querier, productID int64, lock bool) (*models.Product, error) {
	sql := `
SELECT id, sku, name, cost, invoiceable_quantity, stock_quantity, updated_at
FROM products
WHERE id = $1`
	if lock {
		sql += ` FOR UPDATE`
	}

	var p models.Product
	err := q.QueryRow(ctx, sql, productID).Scan(
		&p.ID, &p.SKU, &p.Name, &p.Cost, &p.InvoiceableQuantity, &p.StockQuantity, &p.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, models.ErrProductNotFound
	}
	if err != nil {
		return nil, errors.Wrap(err, "select product")
	}
	return &p, nil
}

func listOpenLots(ctx context.Context, q querier, productID int64, lock bool) ([]*models.CostLot, error) {
	sql := `
SELECT id, product_id, purchase_ref, invoice_date, original_quantity, remaining_quantity, unit_cost, created_at
FROM cost_lots
WHERE product_id = $1 AND remaining_quantity > 0
ORDER BY invoice_date ASC, id ASC`
	if lock {
		sql += ` FOR UPDATE`
	}

	rows, err := q.Query(ctx, sql, productID)
	if err != nil {
		return nil, errors.Wrap(err, "select open lots")
	}
	defer rows.Close()

	var out []*models.CostLot
	for rows.Next() {
		var l models.CostLot
		if err := rows.Scan(&l.ID, &l.ProductID, &l.PurchaseRef, &l.InvoiceDate,
			&l.OriginalQuantity, &l.RemainingQuantity, &l.UnitCost, &l.CreatedAt); err != nil {
			return nil, errors.Wrap(err, "scan lot")
		}
		out = append(out, &l)
	}
	if rows.Err() != nil {
		return nil, errors.Wrap(rows.Err(), "rows")
	}
	return out, nil
}

func (s *Storage) ListOpenLots(ctx context.Context, productID int64) ([]*models.CostLot, error) {
	return listOpenLots(ctx, s.db, productID, false)
}

func (r *txRepo) GetProductForUpdate(ctx context.Context, productID int64) (*models.Product, error) {
	return getProduct(ctx, r.q, productID, true)
}

func (r *txRepo) UpdateProduct(ctx context.Context, p *models.Product) error {
	tag, err := r.q.Exec(ctx, `
UPDATE products
SET cost = $2, invoiceable_quantity = $3, stock_quantity = $4, updated_at = now()
WHERE id = $1
`, p.ID, p.Cost, p.InvoiceableQuantity, p.StockQuantity)
	if err != nil {
		return errors.Wrap(err, "update product")
	}
	if tag.RowsAffected() == 0 {
		return models.ErrProductNotFound
	}
	return nil
}

func (r *txRepo) ListOpenLotsForUpdate(ctx context.Context, productID int64) ([]*models.CostLot, error) {
	return listOpenLots(ctx, r.q, productID, true)
}

// ConsumeLot never lets remaining_quantity go below zero.
func (r *txRepo) ConsumeLot(ctx context.Context, lotID int64, qty int64) error {
	if qty <= 0 {
		return models.ErrInvalidQuantity
	}
	tag, err := r.q.Exec(ctx, `
UPDATE cost_lots
SET remaining_quantity = remaining_quantity - $2
WHERE id = $1 AND remaining_quantity >= $2
`, lotID, qty)
	if err != nil {
		return errors.Wrap(err, "consume lot")
	}
	if tag.RowsAffected() == 0 {
		return errors.Errorf("lot %d: cannot consume %d", lotID, qty)
	}
	return nil
}

func (r *txRepo) InsertCostLot(ctx context.Context, lot *models.CostLot) error {
	if lot.CreatedAt.IsZero() {
		lot.CreatedAt = time.Now().UTC()
	}
	err := r.q.QueryRow(ctx, `
INSERT INTO cost_lots (product_id, purchase_ref, invoice_date, original_quantity, remaining_quantity, unit_cost, created_at)
VALUES ($1,$2,$3,$4,$5,$6,$7)
RETURNING id
`, lot.ProductID, lot.PurchaseRef, lot.InvoiceDate.UTC(), lot.OriginalQuantity, lot.RemainingQuantity,
		lot.UnitCost, lot.CreatedAt.UTC()).Scan(&lot.ID)
	return errors.Wrap(err, "insert cost lot")
}
