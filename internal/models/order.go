package models

import (
	"time"

	"github.com/shopspring/decimal"
)

type Order struct {
	ID             int64          `json:"id"`
	Reference      string         `json:"reference"`
	CustomerName   string         `json:"customer_name"`
	CustomerPhone  string         `json:"customer_phone,omitempty"`
	BusinessStatus BusinessStatus `json:"business_status"`

	Transporter       Transporter    `json:"transporter,omitempty"`
	TrackingNumber    string         `json:"tracking_number,omitempty"`
	DeliveryStatus    DeliveryStatus `json:"delivery_status"`
	DeliveryDate      *time.Time     `json:"delivery_date,omitempty"`
	DeliveryNote      string         `json:"delivery_note,omitempty"`
	LastTrackingCheck *time.Time     `json:"last_tracking_check,omitempty"`

	ReturnStatus         ReturnStatus `json:"return_status"`
	ReturnTrackingNumber string       `json:"return_tracking_number,omitempty"`
	ReturnDate           *time.Time   `json:"return_date,omitempty"`
	ReturnNote           string       `json:"return_note,omitempty"`
	ReturnCreditNoteID   *int64       `json:"return_credit_note_id,omitempty"`

	CarrierInvoiced   bool   `json:"carrier_invoiced"`
	CarrierInvoiceRef string `json:"carrier_invoice_ref,omitempty"`

	InvoiceID *int64 `json:"invoice_id,omitempty"`

	Lines []OrderLine `json:"lines,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

type OrderLine struct {
	ID        int64           `json:"id"`
	OrderID   int64           `json:"order_id"`
	ProductID int64           `json:"product_id"`
	Quantity  int64           `json:"quantity"`
	UnitPrice decimal.Decimal `json:"unit_price"`
}

// Pollable reports whether a carrier can still tell us something new about the order.
func (o *Order) Pollable() bool {
	if !o.Transporter.External() || o.TrackingNumber == "" {
		return false
	}
	if o.BusinessStatus.Terminal() {
		return false
	}
	return !o.DeliveryStatus.Terminal()
}

// DeliveryEvent is an append-only audit record of one observed transition.
type DeliveryEvent struct {
	ID        int64       `json:"id"`
	OrderID   int64       `json:"order_id"`
	Carrier   Transporter `json:"carrier,omitempty"`
	OldStatus string      `json:"old_status"`
	NewStatus string      `json:"new_status"`
	Direction Direction   `json:"direction"`
	Note      string      `json:"note,omitempty"`
	CreatedAt time.Time   `json:"created_at"`
}
