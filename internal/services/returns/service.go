package returns

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/BearBump/OrderDesk/internal/broker/events"
	"github.com/BearBump/OrderDesk/internal/metrics"
	"github.com/BearBump/OrderDesk/internal/models"
	"github.com/BearBump/OrderDesk/internal/ports/ordertx"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
)

type Service struct {
	store     ordertx.Runner
	publisher *events.Publisher
	metrics   *metrics.Metrics
	log       *slog.Logger
	now       func() time.Time
}

func New(store ordertx.Runner, publisher *events.Publisher, m *metrics.Metrics) *Service {
	return &Service{
		store:     store,
		publisher: publisher,
		metrics:   m,
		log:       slog.Default().With("component", "returns"),
		now:       func() time.Time { return time.Now().UTC() },
	}
}

type StartReturnInput struct {
	OrderID        int64
	Transporter    models.Transporter
	TrackingNumber string
	Note           string
}

// StartReturn puts the return in transit. Calling it again on a return that
// is already in transit only refreshes the tracking fields.
func (s *Service) StartReturn(ctx context.Context, in StartReturnInput) (*models.Order, error) {
	in.TrackingNumber = strings.TrimSpace(in.TrackingNumber)
	if !in.Transporter.Valid() || in.Transporter == models.TransporterNone {
		return nil, models.ErrUnknownTransporter.WithMessage(fmt.Sprintf("unknown transporter %q", in.Transporter))
	}
	if in.Transporter.External() && in.TrackingNumber == "" {
		return nil, models.ErrTrackingRequired
	}

	var (
		o   *models.Order
		old models.ReturnStatus
	)
	err := s.store.WithTx(ctx, func(ctx context.Context, tx ordertx.Repository) error {
		var err error
		o, err = tx.GetOrderForUpdate(ctx, in.OrderID)
		if err != nil {
			return err
		}
		old = o.ReturnStatus
		if old == models.ReturnStocked {
			return models.ErrReturnAlreadyStocked
		}
		if !old.CanAdvanceTo(models.ReturnInTransit) {
			return models.ErrReturnRegression
		}

		o.ReturnStatus = models.ReturnInTransit
		o.ReturnTrackingNumber = in.TrackingNumber
		if note := strings.TrimSpace(in.Note); note != "" {
			o.ReturnNote = note
		}
		if err := tx.UpdateOrder(ctx, o); err != nil {
			return err
		}
		if old == o.ReturnStatus {
			return nil
		}
		return tx.InsertDeliveryEvent(ctx, &models.DeliveryEvent{
			OrderID:   o.ID,
			Carrier:   in.Transporter,
			OldStatus: string(old),
			NewStatus: string(o.ReturnStatus),
			Direction: models.DirectionReturn,
			Note:      o.ReturnNote,
			CreatedAt: s.now(),
		})
	})
	if err != nil {
		return nil, err
	}

	if old != o.ReturnStatus {
		s.publisher.Publish(ctx, events.Changed(o, models.DirectionReturn, string(old), string(o.ReturnStatus), s.now()))
	}
	return o, nil
}

// CompleteResult is what completing a return changed.
type CompleteResult struct {
	Order      *models.Order      `json:"order"`
	CreditNote *models.CreditNote `json:"credit_note,omitempty"`
	Restocked  map[int64]int64    `json:"restocked"`
}

// CompleteReturn stocks the returned goods back. In one transaction it
// restocks every line, restores invoiceable quantities and issues a credit
// note when the order was invoiced, and marks the return STOCKED.
func (s *Service) CompleteReturn(ctx context.Context, orderID int64, note string) (*CompleteResult, error) {
	res := &CompleteResult{Restocked: map[int64]int64{}}
	var old models.ReturnStatus

	err := s.store.WithTx(ctx, func(ctx context.Context, tx ordertx.Repository) error {
		o, err := tx.GetOrderForUpdate(ctx, orderID)
		if err != nil {
			return err
		}
		old = o.ReturnStatus
		if old == models.ReturnStocked {
			return models.ErrReturnAlreadyStocked
		}

		inv, err := s.loadInvoice(ctx, tx, o)
		if err != nil {
			return err
		}

		qty := map[int64]int64{}
		for _, l := range o.Lines {
			qty[l.ProductID] += l.Quantity
		}
		ids := make([]int64, 0, len(qty))
		for id := range qty {
			ids = append(ids, id)
		}
		sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

		for _, id := range ids {
			p, err := tx.GetProductForUpdate(ctx, id)
			if err != nil {
				return err
			}
			p.StockQuantity += qty[id]
			if inv != nil {
				p.InvoiceableQuantity += qty[id]
			}
			if err := tx.UpdateProduct(ctx, p); err != nil {
				return err
			}
			res.Restocked[id] = qty[id]
		}

		if inv != nil && o.ReturnCreditNoteID == nil {
			cn := s.creditNoteFor(inv, o.ID)
			if cn != nil {
				if err := tx.InsertCreditNote(ctx, cn); err != nil {
					return err
				}
				o.ReturnCreditNoteID = &cn.ID
				res.CreditNote = cn
			}
		}

		now := s.now()
		o.ReturnStatus = models.ReturnStocked
		o.ReturnDate = &now
		if n := strings.TrimSpace(note); n != "" {
			o.ReturnNote = n
		}
		if o.BusinessStatus != models.OrderCancelled {
			o.BusinessStatus = models.OrderReturned
		}
		if err := tx.UpdateOrder(ctx, o); err != nil {
			return err
		}
		res.Order = o

		return tx.InsertDeliveryEvent(ctx, &models.DeliveryEvent{
			OrderID:   o.ID,
			Carrier:   o.Transporter,
			OldStatus: string(old),
			NewStatus: string(models.ReturnStocked),
			Direction: models.DirectionReturn,
			Note:      o.ReturnNote,
			CreatedAt: now,
		})
	})
	if err != nil {
		return nil, err
	}

	s.metrics.ReturnCompleted()
	s.publisher.Publish(ctx, events.Changed(res.Order, models.DirectionReturn, string(old), string(models.ReturnStocked), s.now()))
	return res, nil
}

// loadInvoice returns nil when the order was never invoiced or its invoice
// no longer exists. In the latter case only physical stock is restored.
func (s *Service) loadInvoice(ctx context.Context, tx ordertx.Repository, o *models.Order) (*models.Invoice, error) {
	if o.InvoiceID == nil {
		return nil, nil
	}
	inv, err := tx.GetInvoice(ctx, *o.InvoiceID)
	if errors.Is(err, models.ErrInvoiceNotFound) {
		s.log.Warn("return on order whose invoice is gone, skipping credit note",
			"order_id", o.ID, "invoice_id", *o.InvoiceID)
		return nil, nil
	}
	return inv, err
}

// creditNoteFor mirrors the invoice lines of one order. Lines without an
// order (the delivery fee) are included only when the invoice covers this
// order alone.
func (s *Service) creditNoteFor(inv *models.Invoice, orderID int64) *models.CreditNote {
	soleOrder := len(inv.OrderIDs) == 1 && inv.OrderIDs[0] == orderID

	cn := &models.CreditNote{
		Number:    documentNumber("AV", s.now()),
		InvoiceID: inv.ID,
		OrderID:   orderID,
		TotalHT:   decimal.Zero,
		TotalVAT:  decimal.Zero,
		CreatedAt: s.now(),
	}
	for _, l := range inv.Lines {
		mine := l.OrderID != nil && *l.OrderID == orderID
		if !mine && !(soleOrder && l.OrderID == nil) {
			continue
		}
		l.ID = 0
		cn.Lines = append(cn.Lines, l)
		cn.TotalHT = cn.TotalHT.Add(l.TotalHT)
		cn.TotalVAT = cn.TotalVAT.Add(l.TotalVAT)
	}
	if len(cn.Lines) == 0 {
		return nil
	}
	cn.TotalTTC = cn.TotalHT.Add(cn.TotalVAT)
	return cn
}

func documentNumber(prefix string, at time.Time) string {
	return prefix + "-" + at.Format("20060102") + "-" + strings.ToUpper(uuid.NewString()[:8])
}
