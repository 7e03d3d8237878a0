package reconcile

import (
	"context"
	"fmt"
	"strings"

	"github.com/BearBump/OrderDesk/internal/models"
	"github.com/BearBump/OrderDesk/internal/ports/ordertx"
)

type StartDeliveryInput struct {
	OrderID        int64
	Transporter    models.Transporter
	TrackingNumber string
	Note           string
}

// StartDelivery hands the order to a transporter. Our own fleet is out for
// delivery at once; an external carrier starts PENDING and, when a tracking
// number is known, is polled right away.
func (e *Engine) StartDelivery(ctx context.Context, in StartDeliveryInput) (*models.Order, error) {
	in.TrackingNumber = strings.TrimSpace(in.TrackingNumber)
	if !in.Transporter.Valid() || in.Transporter == models.TransporterNone {
		return nil, models.ErrUnknownTransporter.WithMessage(fmt.Sprintf("unknown transporter %q", in.Transporter))
	}
	if in.Transporter.External() && in.TrackingNumber == "" {
		return nil, models.ErrTrackingRequired
	}

	var (
		updated *models.Order
		ev      *models.DeliveryEvent
	)
	err := e.store.WithTx(ctx, func(ctx context.Context, tx ordertx.Repository) error {
		o, err := tx.GetOrderForUpdate(ctx, in.OrderID)
		if err != nil {
			return err
		}
		if o.BusinessStatus.Terminal() {
			return models.ErrOrderTerminal.WithMessage(fmt.Sprintf("order %d is %s", o.ID, o.BusinessStatus))
		}

		old := o.DeliveryStatus
		o.Transporter = in.Transporter
		o.TrackingNumber = in.TrackingNumber
		o.DeliveryNote = strings.TrimSpace(in.Note)
		o.BusinessStatus = models.OrderOutForDelivery
		if in.Transporter.External() {
			o.DeliveryStatus = models.DeliveryPending
		} else {
			o.DeliveryStatus = models.DeliveryOutForDelivery
		}
		if err := tx.UpdateOrder(ctx, o); err != nil {
			return err
		}

		if o.DeliveryStatus != old {
			ev = &models.DeliveryEvent{
				OrderID:   o.ID,
				Carrier:   o.Transporter,
				OldStatus: string(old),
				NewStatus: string(o.DeliveryStatus),
				Direction: models.DirectionOutbound,
				Note:      o.DeliveryNote,
				CreatedAt: e.now(),
			}
			if err := tx.InsertDeliveryEvent(ctx, ev); err != nil {
				return err
			}
		}
		updated = o
		return nil
	})
	if err != nil {
		return nil, err
	}

	if ev != nil {
		e.afterTransition(ctx, updated, &Transition{
			OrderID:        updated.ID,
			Changed:        true,
			OldStatus:      models.DeliveryStatus(ev.OldStatus),
			NewStatus:      updated.DeliveryStatus,
			BusinessStatus: updated.BusinessStatus,
			Event:          ev,
		})
	}

	if !updated.Pollable() {
		return updated, nil
	}
	if _, err := e.PollOne(ctx, updated.ID); err != nil {
		e.log.Warn("initial poll failed", "order_id", updated.ID, "error", err.Error())
		return updated, nil
	}
	return e.store.GetOrder(ctx, updated.ID)
}
