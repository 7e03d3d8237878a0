package carrier

import (
	"context"
	"time"

	"github.com/BearBump/OrderDesk/internal/models"
)

// DeliveryInfo is what a carrier told us about one shipment, already normalized.
type DeliveryInfo struct {
	Status      models.DeliveryStatus
	Notes       string
	DeliveredAt *time.Time
	Delivered   bool
}

// Client fetches the latest tracking state of a shipment.
// Implementations never return an error: any transport, auth or parse failure
// is logged and reported as nil ("no update available").
type Client interface {
	FetchTracking(ctx context.Context, trackingNumber string) *DeliveryInfo
}

// Registry resolves the adapter for a transporter.
type Registry map[models.Transporter]Client

func (r Registry) For(t models.Transporter) (Client, bool) {
	c, ok := r[t]
	if !ok || c == nil {
		return nil, false
	}
	return c, true
}

func NewDeliveryInfo(status models.DeliveryStatus, notes string, at *time.Time) *DeliveryInfo {
	info := &DeliveryInfo{Status: status, Notes: notes}
	if status == models.DeliveryDelivered {
		info.Delivered = true
		info.DeliveredAt = at
	}
	return info
}
