package httpapi

import (
	"time"

	"github.com/BearBump/OrderDesk/internal/models"
	"github.com/BearBump/OrderDesk/internal/services/costing"
	"github.com/BearBump/OrderDesk/internal/services/reconcile"
	"github.com/BearBump/OrderDesk/internal/services/returns"
	"github.com/shopspring/decimal"
)

type deliveryRequest struct {
	Transporter    string `json:"transporter" validate:"required,oneof=ARAMEX FIRST_DELIVERY OUR_COMPANY"`
	TrackingNumber string `json:"tracking_number" validate:"max=64"`
	Note           string `json:"note" validate:"max=1000"`
}

func (d deliveryRequest) toInput(orderID int64) reconcile.StartDeliveryInput {
	return reconcile.StartDeliveryInput{
		OrderID:        orderID,
		Transporter:    models.Transporter(d.Transporter),
		TrackingNumber: d.TrackingNumber,
		Note:           d.Note,
	}
}

type returnRequest struct {
	Transporter    string `json:"transporter" validate:"required,oneof=ARAMEX FIRST_DELIVERY OUR_COMPANY"`
	TrackingNumber string `json:"tracking_number" validate:"max=64"`
	Note           string `json:"note" validate:"max=1000"`
}

func (d returnRequest) toInput(orderID int64) returns.StartReturnInput {
	return returns.StartReturnInput{
		OrderID:        orderID,
		Transporter:    models.Transporter(d.Transporter),
		TrackingNumber: d.TrackingNumber,
		Note:           d.Note,
	}
}

type completeReturnRequest struct {
	Note string `json:"note" validate:"max=1000"`
}

type invoiceBatchRequest struct {
	OrderIDs []int64 `json:"order_ids" validate:"required,min=1,max=500,dive,gt=0"`
}

type purchaseRequest struct {
	ProductID   int64           `json:"product_id" validate:"required,gt=0"`
	Quantity    int64           `json:"quantity" validate:"required,gt=0"`
	UnitCost    decimal.Decimal `json:"unit_cost"`
	InvoiceDate *time.Time      `json:"invoice_date"`
	PurchaseRef string          `json:"purchase_ref" validate:"max=128"`
}

func (p purchaseRequest) toInput(now time.Time) costing.PurchaseInput {
	at := now
	if p.InvoiceDate != nil {
		at = p.InvoiceDate.UTC()
	}
	return costing.PurchaseInput{
		ProductID:   p.ProductID,
		Quantity:    p.Quantity,
		UnitCost:    p.UnitCost,
		InvoiceDate: at,
		PurchaseRef: p.PurchaseRef,
	}
}

type ordersResponse struct {
	Orders []*models.Order `json:"orders"`
}

type eventsResponse struct {
	Events []*models.DeliveryEvent `json:"events"`
}
