package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Product carries only the cost and stock facet of a catalogue item.
type Product struct {
	ID                  int64           `json:"id"`
	SKU                 string          `json:"sku"`
	Name                string          `json:"name"`
	Cost                decimal.Decimal `json:"cost"`
	InvoiceableQuantity int64           `json:"invoiceable_quantity"`
	StockQuantity       int64           `json:"stock_quantity"`
	UpdatedAt           time.Time       `json:"updated_at"`
}

// CostLot is a purchase-invoice line consumed oldest first.
type CostLot struct {
	ID                int64           `json:"id"`
	ProductID         int64           `json:"product_id"`
	PurchaseRef       string          `json:"purchase_ref,omitempty"`
	InvoiceDate       time.Time       `json:"invoice_date"`
	OriginalQuantity  int64           `json:"original_quantity"`
	RemainingQuantity int64           `json:"remaining_quantity"`
	UnitCost          decimal.Decimal `json:"unit_cost"`
	CreatedAt         time.Time       `json:"created_at"`
}

// DocumentLine is shared by invoices and credit notes.
type DocumentLine struct {
	ID          int64           `json:"id"`
	OrderID     *int64          `json:"order_id,omitempty"`
	ProductID   *int64          `json:"product_id,omitempty"`
	Label       string          `json:"label"`
	Quantity    int64           `json:"quantity"`
	UnitPriceHT decimal.Decimal `json:"unit_price_ht"`
	TaxRate     decimal.Decimal `json:"tax_rate"`
	TotalHT     decimal.Decimal `json:"total_ht"`
	TotalVAT    decimal.Decimal `json:"total_vat"`
}

type Invoice struct {
	ID       int64           `json:"id"`
	Number   string          `json:"number"`
	IssuedAt time.Time       `json:"issued_at"`
	OrderIDs []int64         `json:"order_ids"`
	Lines    []DocumentLine  `json:"lines"`
	TotalHT  decimal.Decimal `json:"total_ht"`
	TotalVAT decimal.Decimal `json:"total_vat"`
	TotalTTC decimal.Decimal `json:"total_ttc"`
}

type CreditNote struct {
	ID        int64           `json:"id"`
	Number    string          `json:"number"`
	InvoiceID int64           `json:"invoice_id"`
	OrderID   int64           `json:"order_id"`
	Lines     []DocumentLine  `json:"lines"`
	TotalHT   decimal.Decimal `json:"total_ht"`
	TotalVAT  decimal.Decimal `json:"total_vat"`
	TotalTTC  decimal.Decimal `json:"total_ttc"`
	CreatedAt time.Time       `json:"created_at"`
}
