package reconcile

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/BearBump/OrderDesk/internal/broker/events"
	"github.com/BearBump/OrderDesk/internal/integrations/carrier"
	"github.com/BearBump/OrderDesk/internal/metrics"
	"github.com/BearBump/OrderDesk/internal/models"
	"github.com/BearBump/OrderDesk/internal/notify"
	"github.com/BearBump/OrderDesk/internal/ports/ordertx"
	"golang.org/x/sync/singleflight"
)

type Engine struct {
	store     ordertx.Store
	carriers  carrier.Registry
	publisher *events.Publisher
	notifier  notify.Notifier
	metrics   *metrics.Metrics
	planner   *Planner

	pollInterval time.Duration
	batchSize    int
	concurrency  int

	sf        singleflight.Group
	triggerCh chan struct{}
	now       func() time.Time
	log       *slog.Logger

	startedAtUnixNano   int64
	lastCycleUnixNano   atomic.Int64
	lastTriggerUnixNano atomic.Int64
	totalSweeps         atomic.Int64
	totalPolled         atomic.Int64
	totalChanged        atomic.Int64
	totalErrors         atomic.Int64
	inFlight            atomic.Int64
	lastErrorMu         sync.Mutex
	lastError           string
}

// New builds the engine. publisher and notifier may be nil.
func New(store ordertx.Store, carriers carrier.Registry, publisher *events.Publisher, notifier notify.Notifier, m *metrics.Metrics) *Engine {
	if notifier == nil {
		notifier = notify.Nop{}
	}
	return &Engine{
		store:             store,
		carriers:          carriers,
		publisher:         publisher,
		notifier:          notifier,
		metrics:           m,
		planner:           NewPlanner(DefaultPlannerConfig()),
		pollInterval:      10 * time.Minute,
		batchSize:         500,
		concurrency:       4,
		triggerCh:         make(chan struct{}, 1),
		now:               func() time.Time { return time.Now().UTC() },
		log:               slog.Default().With("component", "reconcile"),
		startedAtUnixNano: time.Now().UTC().UnixNano(),
	}
}

func (e *Engine) WithSettings(pollInterval time.Duration, batchSize, concurrency int) *Engine {
	if pollInterval > 0 {
		e.pollInterval = pollInterval
	}
	if batchSize > 0 {
		e.batchSize = batchSize
	}
	if concurrency > 0 {
		e.concurrency = concurrency
	}
	return e
}

func (e *Engine) WithPlanner(cfg PlannerConfig) *Engine {
	e.planner = NewPlanner(cfg)
	return e
}

// Transition is the outcome of one poll.
type Transition struct {
	OrderID        int64                 `json:"order_id"`
	Changed        bool                  `json:"changed"`
	NoUpdate       bool                  `json:"no_update,omitempty"`
	OldStatus      models.DeliveryStatus `json:"old_status"`
	NewStatus      models.DeliveryStatus `json:"new_status"`
	BusinessStatus models.BusinessStatus `json:"business_status"`
	Event          *models.DeliveryEvent `json:"event,omitempty"`
}

// PollOne asks the order's carrier for news and applies it. Concurrent calls
// for the same order share one carrier request, which outlives the caller
// that started it; the adapter timeout bounds it.
func (e *Engine) PollOne(ctx context.Context, orderID int64) (*Transition, error) {
	shared := context.WithoutCancel(ctx)
	v, err, _ := e.sf.Do(strconv.FormatInt(orderID, 10), func() (any, error) {
		return e.pollOne(shared, orderID)
	})
	if err != nil {
		return nil, err
	}
	tr := *v.(*Transition)
	return &tr, nil
}

func (e *Engine) pollOne(ctx context.Context, orderID int64) (*Transition, error) {
	o, err := e.store.GetOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if !o.Pollable() {
		return nil, models.ErrOrderNotPollable.WithMessage(fmt.Sprintf("order %d has nothing to poll", orderID))
	}
	client, ok := e.carriers.For(o.Transporter)
	if !ok {
		return nil, models.ErrUnknownTransporter.WithMessage(fmt.Sprintf("no adapter for transporter %q", o.Transporter))
	}

	e.inFlight.Add(1)
	info := client.FetchTracking(ctx, o.TrackingNumber)
	e.inFlight.Add(-1)
	e.totalPolled.Add(1)

	if info == nil {
		e.metrics.Poll(string(o.Transporter), "no_update")
		return &Transition{
			OrderID:        o.ID,
			NoUpdate:       true,
			OldStatus:      o.DeliveryStatus,
			NewStatus:      o.DeliveryStatus,
			BusinessStatus: o.BusinessStatus,
		}, nil
	}

	var (
		tr      *Transition
		updated *models.Order
	)
	err = e.store.WithTx(ctx, func(ctx context.Context, tx ordertx.Repository) error {
		cur, err := tx.GetOrderForUpdate(ctx, orderID)
		if err != nil {
			return err
		}
		tr, err = e.apply(ctx, tx, cur, info)
		updated = cur
		return err
	})
	if err != nil {
		e.metrics.Poll(string(o.Transporter), "error")
		return nil, err
	}

	if !tr.Changed {
		e.metrics.Poll(string(o.Transporter), "unchanged")
		return tr, nil
	}

	e.metrics.Poll(string(o.Transporter), "changed")
	e.afterTransition(ctx, updated, tr)
	return tr, nil
}

// apply runs inside the transaction on the locked order. Only a real status
// change writes the order fields and appends an event.
func (e *Engine) apply(ctx context.Context, tx ordertx.Repository, o *models.Order, info *carrier.DeliveryInfo) (*Transition, error) {
	now := e.now()
	tr := &Transition{
		OrderID:        o.ID,
		OldStatus:      o.DeliveryStatus,
		NewStatus:      o.DeliveryStatus,
		BusinessStatus: o.BusinessStatus,
	}

	// Заказ мог закрыться, пока мы ходили к перевозчику.
	if !o.Pollable() {
		tr.NoUpdate = true
		return tr, nil
	}

	if info.Status == o.DeliveryStatus {
		return tr, tx.TouchTrackingCheck(ctx, o.ID, now)
	}

	o.DeliveryStatus = info.Status
	o.DeliveryNote = info.Notes
	if info.DeliveredAt != nil {
		at := info.DeliveredAt.UTC()
		o.DeliveryDate = &at
	}
	o.LastTrackingCheck = &now
	o.BusinessStatus = BusinessStatusFor(info.Status, o.BusinessStatus)
	if err := tx.UpdateOrder(ctx, o); err != nil {
		return nil, err
	}

	ev := &models.DeliveryEvent{
		OrderID:   o.ID,
		Carrier:   o.Transporter,
		OldStatus: string(tr.OldStatus),
		NewStatus: string(info.Status),
		Direction: DirectionFor(info.Status),
		Note:      info.Notes,
		CreatedAt: now,
	}
	if err := tx.InsertDeliveryEvent(ctx, ev); err != nil {
		return nil, err
	}

	tr.Changed = true
	tr.NewStatus = info.Status
	tr.BusinessStatus = o.BusinessStatus
	tr.Event = ev
	return tr, nil
}

// afterTransition runs the side effects of a committed change. None of them
// can fail the poll.
func (e *Engine) afterTransition(ctx context.Context, o *models.Order, tr *Transition) {
	e.totalChanged.Add(1)
	e.metrics.Transition(string(tr.NewStatus), string(tr.Event.Direction))
	e.log.Info("delivery status changed",
		"order_id", o.ID, "carrier", string(o.Transporter),
		"old", string(tr.OldStatus), "new", string(tr.NewStatus))

	e.publisher.Publish(ctx, events.Changed(o, tr.Event.Direction, string(tr.OldStatus), string(tr.NewStatus), tr.Event.CreatedAt))

	if tr.NewStatus == models.DeliveryDelivered {
		e.notifyDelivered(ctx, o)
	}
}

func (e *Engine) notifyDelivered(ctx context.Context, o *models.Order) {
	if strings.TrimSpace(o.CustomerPhone) == "" {
		return
	}
	ref := o.Reference
	if ref == "" {
		ref = "#" + strconv.FormatInt(o.ID, 10)
	}
	text := fmt.Sprintf("Your order %s has been delivered. Thank you!", ref)
	if err := e.notifier.Send(ctx, o.CustomerPhone, text); err != nil {
		e.log.Warn("delivered notification failed", "order_id", o.ID, "error", err.Error())
	}
}

// BusinessStatusFor maps a canonical delivery status to the order's business
// status. Statuses without a dedicated mapping keep a terminal order as is
// and move any other order to out_for_delivery.
func BusinessStatusFor(ds models.DeliveryStatus, cur models.BusinessStatus) models.BusinessStatus {
	switch ds {
	case models.DeliveryDelivered:
		return models.OrderDelivered
	case models.DeliveryOutForDelivery:
		return models.OrderOutForDelivery
	case models.DeliveryAtDepot:
		return models.OrderHeldAtDepot
	case models.DeliveryReturned:
		return models.OrderReturned
	}
	if cur.Terminal() {
		return cur
	}
	return models.OrderOutForDelivery
}

func DirectionFor(ds models.DeliveryStatus) models.Direction {
	if ds == models.DeliveryReturned {
		return models.DirectionReturn
	}
	return models.DirectionOutbound
}

func (e *Engine) recordError(err error) {
	e.totalErrors.Add(1)
	e.lastErrorMu.Lock()
	e.lastError = err.Error()
	e.lastErrorMu.Unlock()
}
