package costing

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/BearBump/OrderDesk/internal/metrics"
	"github.com/BearBump/OrderDesk/internal/models"
	"github.com/BearBump/OrderDesk/internal/ports/ordertx"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type Service struct {
	store    ordertx.Store
	settings Settings
	metrics  *metrics.Metrics
	log      *slog.Logger
	now      func() time.Time
}

func New(store ordertx.Store, settings Settings, m *metrics.Metrics) *Service {
	return &Service{
		store:    store,
		settings: settings.withDefaults(),
		metrics:  m,
		log:      slog.Default().With("component", "costing"),
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// ProductConsumption sums what a batch draws for one product.
type ProductConsumption struct {
	ProductID   int64           `json:"product_id"`
	Quantity    int64           `json:"quantity"`
	Consumed    int64           `json:"consumed"`
	AverageCost decimal.Decimal `json:"average_cost"`
	Draws       []Draw          `json:"draws,omitempty"`
}

// InvoicePreview is a fully priced batch that has not been written anywhere.
type InvoicePreview struct {
	OrderIDs     []int64               `json:"order_ids"`
	Lines        []models.DocumentLine `json:"lines"`
	TotalHT      decimal.Decimal       `json:"total_ht"`
	TotalVAT     decimal.Decimal       `json:"total_vat"`
	TotalTTC     decimal.Decimal       `json:"total_ttc"`
	Consumptions []ProductConsumption  `json:"consumptions"`
}

// PriceInvoiceBatch prices the batch without mutating anything. It produces
// the same lines CommitInvoiceBatch would on the same data.
func (s *Service) PriceInvoiceBatch(ctx context.Context, orderIDs []int64) (*InvoicePreview, error) {
	ids, err := normalizeIDs(orderIDs)
	if err != nil {
		return nil, err
	}

	orders := make([]*models.Order, 0, len(ids))
	for _, id := range ids {
		o, err := s.store.GetOrder(ctx, id)
		if err != nil {
			return nil, err
		}
		if err := checkInvoiceable(o); err != nil {
			return nil, err
		}
		orders = append(orders, o)
	}

	ledger := NewLedger()
	products := map[int64]*models.Product{}
	for _, pid := range productIDs(orders) {
		p, err := s.store.GetProduct(ctx, pid)
		if err != nil {
			return nil, err
		}
		lots, err := s.store.ListOpenLots(ctx, pid)
		if err != nil {
			return nil, err
		}
		products[pid] = p
		ledger.Load(pid, lots)
	}

	return s.price(ids, orders, products, ledger)
}

// CommitInvoiceBatch prices the batch and, in one transaction, consumes the
// drawn lots, lowers invoiceable quantities, stores the invoice and links the
// orders to it. Rows are locked orders first, then products, each by ascending id.
func (s *Service) CommitInvoiceBatch(ctx context.Context, orderIDs []int64) (inv *models.Invoice, err error) {
	defer func() { s.metrics.InvoiceCommit(err) }()

	ids, err := normalizeIDs(orderIDs)
	if err != nil {
		return nil, err
	}

	err = s.store.WithTx(ctx, func(ctx context.Context, tx ordertx.Repository) error {
		orders := make([]*models.Order, 0, len(ids))
		for _, id := range ids {
			o, err := tx.GetOrderForUpdate(ctx, id)
			if err != nil {
				return err
			}
			if err := checkInvoiceable(o); err != nil {
				return err
			}
			orders = append(orders, o)
		}

		ledger := NewLedger()
		products := map[int64]*models.Product{}
		for _, pid := range productIDs(orders) {
			p, err := tx.GetProductForUpdate(ctx, pid)
			if err != nil {
				return err
			}
			lots, err := tx.ListOpenLotsForUpdate(ctx, pid)
			if err != nil {
				return err
			}
			products[pid] = p
			ledger.Load(pid, lots)
		}

		preview, err := s.price(ids, orders, products, ledger)
		if err != nil {
			return err
		}

		for _, pc := range preview.Consumptions {
			for _, d := range pc.Draws {
				if err := tx.ConsumeLot(ctx, d.LotID, d.Quantity); err != nil {
					return err
				}
			}
			p := products[pc.ProductID]
			p.InvoiceableQuantity = max(p.InvoiceableQuantity-pc.Quantity, 0)
			if err := tx.UpdateProduct(ctx, p); err != nil {
				return err
			}
		}

		issued := s.now()
		inv = &models.Invoice{
			Number:   invoiceNumber("INV", issued),
			IssuedAt: issued,
			OrderIDs: preview.OrderIDs,
			Lines:    preview.Lines,
			TotalHT:  preview.TotalHT,
			TotalVAT: preview.TotalVAT,
			TotalTTC: preview.TotalTTC,
		}
		if err := tx.InsertInvoice(ctx, inv); err != nil {
			return err
		}

		for _, o := range orders {
			o.InvoiceID = &inv.ID
			if err := tx.UpdateOrder(ctx, o); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.log.Info("invoice committed", "invoice_id", inv.ID, "number", inv.Number, "orders", len(ids), "total_ttc", inv.TotalTTC.String())
	return inv, nil
}

// price is shared by the dry run and the commit so both produce identical lines.
func (s *Service) price(ids []int64, orders []*models.Order, products map[int64]*models.Product, ledger *Ledger) (*InvoicePreview, error) {
	set := s.settings
	vat := set.vatRate()

	preview := &InvoicePreview{
		OrderIDs: ids,
		TotalHT:  decimal.Zero,
		TotalVAT: decimal.Zero,
	}
	byProduct := map[int64]*ProductConsumption{}
	totalCost := map[int64]decimal.Decimal{}
	var order []int64

	for _, o := range orders {
		for _, line := range o.Lines {
			if line.Quantity <= 0 {
				return nil, models.ErrInvalidQuantity.WithMessage(
					fmt.Sprintf("order %d line %d: quantity must be positive", o.ID, line.ID))
			}

			c := ledger.Consume(line.ProductID, line.Quantity)
			unit := set.SalePrice(line.UnitPrice)
			if avg, ok := c.AverageCost(); ok {
				unit = set.SalePrice(avg)
			}

			totalHT := unit.Mul(decimal.NewFromInt(line.Quantity)).Round(set.Scale)
			orderID, productID := o.ID, line.ProductID
			label := fmt.Sprintf("Product #%d", line.ProductID)
			if p := products[line.ProductID]; p != nil && p.Name != "" {
				label = p.Name
			}
			preview.Lines = append(preview.Lines, models.DocumentLine{
				OrderID:     &orderID,
				ProductID:   &productID,
				Label:       label,
				Quantity:    line.Quantity,
				UnitPriceHT: unit,
				TaxRate:     vat,
				TotalHT:     totalHT,
				TotalVAT:    totalHT.Mul(vat).Round(set.Scale),
			})

			pc, ok := byProduct[line.ProductID]
			if !ok {
				pc = &ProductConsumption{ProductID: line.ProductID}
				byProduct[line.ProductID] = pc
				order = append(order, line.ProductID)
			}
			pc.Quantity += line.Quantity
			pc.Consumed += c.Consumed
			pc.Draws = append(pc.Draws, c.Draws...)
			totalCost[line.ProductID] = totalCost[line.ProductID].Add(c.TotalCost)
		}
	}

	for _, pid := range order {
		pc := byProduct[pid]
		p := products[pid]
		if set.StrictInvoiceable && p != nil && p.InvoiceableQuantity < pc.Quantity {
			return nil, models.ErrInsufficientInvoiceable.WithMessage(fmt.Sprintf(
				"product %d: %d invoiceable, %d requested", pid, p.InvoiceableQuantity, pc.Quantity))
		}
		pc.AverageCost = totalCost[pid].Div(decimal.NewFromInt(pc.Quantity)).Round(set.Scale)
		preview.Consumptions = append(preview.Consumptions, *pc)
	}

	if set.DeliveryFeeTTC.IsPositive() {
		rate := set.feeRate()
		feeHT := set.DeliveryFeeTTC.Div(decimal.NewFromInt(1).Add(rate)).Round(set.Scale)
		preview.Lines = append(preview.Lines, models.DocumentLine{
			Label:       set.DeliveryFeeLabel,
			Quantity:    1,
			UnitPriceHT: feeHT,
			TaxRate:     rate,
			TotalHT:     feeHT,
			TotalVAT:    feeHT.Mul(rate).Round(set.Scale),
		})
	}

	for _, l := range preview.Lines {
		preview.TotalHT = preview.TotalHT.Add(l.TotalHT)
		preview.TotalVAT = preview.TotalVAT.Add(l.TotalVAT)
	}
	preview.TotalTTC = preview.TotalHT.Add(preview.TotalVAT)
	return preview, nil
}

// PurchaseInput is one purchase-invoice line received into stock.
type PurchaseInput struct {
	ProductID   int64
	Quantity    int64
	UnitCost    decimal.Decimal
	InvoiceDate time.Time
	PurchaseRef string
}

// RecordPurchase blends the purchase into the product's weighted-average
// cost, adds the units to stock and invoiceable quantity, and opens a lot.
func (s *Service) RecordPurchase(ctx context.Context, in PurchaseInput) (*models.CostLot, error) {
	if in.Quantity <= 0 {
		return nil, models.ErrInvalidQuantity
	}
	if in.UnitCost.IsNegative() {
		return nil, models.ErrInvalidUnitCost
	}
	if in.InvoiceDate.IsZero() {
		in.InvoiceDate = s.now()
	}

	var lot *models.CostLot
	err := s.store.WithTx(ctx, func(ctx context.Context, tx ordertx.Repository) error {
		p, err := tx.GetProductForUpdate(ctx, in.ProductID)
		if err != nil {
			return err
		}

		p.Cost = WeightedAverage(p.StockQuantity, p.Cost, in.Quantity, in.UnitCost)
		p.InvoiceableQuantity += in.Quantity
		p.StockQuantity += in.Quantity
		if err := tx.UpdateProduct(ctx, p); err != nil {
			return err
		}

		lot = &models.CostLot{
			ProductID:         in.ProductID,
			PurchaseRef:       strings.TrimSpace(in.PurchaseRef),
			InvoiceDate:       in.InvoiceDate.UTC(),
			OriginalQuantity:  in.Quantity,
			RemainingQuantity: in.Quantity,
			UnitCost:          in.UnitCost,
		}
		return tx.InsertCostLot(ctx, lot)
	})
	if err != nil {
		return nil, err
	}

	s.metrics.PurchaseRecorded()
	return lot, nil
}

// WeightedAverage is (sOld*cOld + qNew*cNew)/(sOld+qNew), or cNew when there
// is no stock to blend with. The result keeps 6 decimals like the cost column.
func WeightedAverage(sOld int64, cOld decimal.Decimal, qNew int64, cNew decimal.Decimal) decimal.Decimal {
	if sOld <= 0 {
		return cNew
	}
	total := decimal.NewFromInt(sOld).Mul(cOld).Add(decimal.NewFromInt(qNew).Mul(cNew))
	return total.Div(decimal.NewFromInt(sOld + qNew)).Round(6)
}

func checkInvoiceable(o *models.Order) error {
	if o.InvoiceID != nil {
		return models.ErrAlreadyInvoiced.WithMessage(fmt.Sprintf("order %d is already invoiced", o.ID))
	}
	if o.BusinessStatus == models.OrderCancelled {
		return models.ErrOrderTerminal.WithMessage(fmt.Sprintf("order %d is cancelled", o.ID))
	}
	return nil
}

// normalizeIDs dedupes and sorts, which also fixes the lock order.
func normalizeIDs(ids []int64) ([]int64, error) {
	seen := make(map[int64]struct{}, len(ids))
	out := make([]int64, 0, len(ids))
	for _, id := range ids {
		if id <= 0 {
			return nil, models.ErrOrderNotFound.WithMessage(fmt.Sprintf("order %d not found", id))
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	if len(out) == 0 {
		return nil, models.ErrEmptyBatch
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out, nil
}

func productIDs(orders []*models.Order) []int64 {
	seen := map[int64]struct{}{}
	var out []int64
	for _, o := range orders {
		for _, l := range o.Lines {
			if _, ok := seen[l.ProductID]; ok {
				continue
			}
			seen[l.ProductID] = struct{}{}
			out = append(out, l.ProductID)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func invoiceNumber(prefix string, at time.Time) string {
	return prefix + "-" + at.Format("20060102") + "-" + strings.ToUpper(uuid.NewString()[:8])
}
