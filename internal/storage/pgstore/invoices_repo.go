package pgstore

import (
	"context"
	"time"

	"github.com/BearBump/OrderDesk/internal/models"
	"github.com/jackc/pgx/v5"
	"github.com/pkg/errors"
)

func (r *txRepo) GetInvoice(ctx context.Context, invoiceID int64) (*models.Invoice, error) {
	var inv models.Invoice
	err := r.q.QueryRow(ctx, `
SELECT id, number, issued_at, order_ids, total_ht, total_vat, total_ttc
FROM invoices
WHERE id = $1
`, invoiceID).Scan(&inv.ID, &inv.Number, &inv.IssuedAt, &inv.OrderIDs, &inv.TotalHT, &inv.TotalVAT, &inv.TotalTTC)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, models.ErrInvoiceNotFound
	}
	if err != nil {
		return nil, errors.Wrap(err, "select invoice")
	}

	rows, err := r.q.Query(ctx, `
SELECT id, order_id, product_id, label, quantity, unit_price_ht, tax_rate, total_ht, total_vat
FROM invoice_lines
WHERE invoice_id = $1
ORDER BY id
`, invoiceID)
	if err != nil {
		return nil, errors.Wrap(err, "select invoice lines")
	}
	defer rows.Close()

	for rows.Next() {
		var l models.DocumentLine
		if err := rows.Scan(&l.ID, &l.OrderID, &l.ProductID, &l.Label, &l.Quantity,
			&l.UnitPriceHT, &l.TaxRate, &l.TotalHT, &l.TotalVAT); err != nil {
			return nil, errors.Wrap(err, "scan invoice line")
		}
		inv.Lines = append(inv.Lines, l)
	}
	if rows.Err() != nil {
		return nil, errors.Wrap(rows.Err(), "rows")
	}
	return &inv, nil
}

func (r *txRepo) InsertInvoice(ctx context.Context, inv *models.Invoice) error {
	if inv.IssuedAt.IsZero() {
		inv.IssuedAt = time.Now().UTC()
	}
	if inv.OrderIDs == nil {
		inv.OrderIDs = []int64{}
	}
	err := r.q.QueryRow(ctx, `
INSERT INTO invoices (number, issued_at, order_ids, total_ht, total_vat, total_ttc)
VALUES ($1,$2,$3,$4,$5,$6)
RETURNING id
`, inv.Number, inv.IssuedAt.UTC(), inv.OrderIDs, inv.TotalHT, inv.TotalVAT, inv.TotalTTC).Scan(&inv.ID)
	if err != nil {
		return errors.Wrap(err, "insert invoice")
	}

	for i := range inv.Lines {
		if err := insertLine(ctx, r.q, "invoice_lines", "invoice_id", inv.ID, &inv.Lines[i]); err != nil {
			return err
		}
	}
	return nil
}

func (r *txRepo) InsertCreditNote(ctx context.Context, cn *models.CreditNote) error {
	if cn.CreatedAt.IsZero() {
		cn.CreatedAt = time.Now().UTC()
	}
	err := r.q.QueryRow(ctx, `
INSERT INTO credit_notes (number, invoice_id, order_id, total_ht, total_vat, total_ttc, created_at)
VALUES ($1,$2,$3,$4,$5,$6,$7)
RETURNING id
`, cn.Number, cn.InvoiceID, cn.OrderID, cn.TotalHT, cn.TotalVAT, cn.TotalTTC, cn.CreatedAt.UTC()).Scan(&cn.ID)
	if err != nil {
		return errors.Wrap(err, "insert credit note")
	}

	for i := range cn.Lines {
		if err := insertLine(ctx, r.q, "credit_note_lines", "credit_note_id", cn.ID, &cn.Lines[i]); err != nil {
			return err
		}
	}
	return nil
}

// table and parent are constants from this file, never user input.
func insertLine(ctx context.Context, q querier, table, parent string, parentID int64, l *models.DocumentLine) error {
	err := q.QueryRow(ctx, `
INSERT INTO `+table+` (`+parent+`, order_id, product_id, label, quantity, unit_price_ht, tax_rate, total_ht, total_vat)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
RETURNING id
`, parentID, l.OrderID, l.ProductID, l.Label, l.Quantity, l.UnitPriceHT, l.TaxRate, l.TotalHT, l.TotalVAT).Scan(&l.ID)
	return errors.Wrap(err, "insert "+table)
}
