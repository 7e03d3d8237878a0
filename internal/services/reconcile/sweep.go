package reconcile

import (
	"context"
	"sync"
	"time"

	"github.com/BearBump/OrderDesk/internal/models"
	"golang.org/x/sync/errgroup"
)

// SweepReport summarizes one bulk poll. Per-order failures are collected,
// never returned.
type SweepReport struct {
	StartedAt  time.Time        `json:"started_at"`
	FinishedAt time.Time        `json:"finished_at"`
	Checked    int              `json:"checked"`
	Changed    int              `json:"changed"`
	NoUpdate   int              `json:"no_update"`
	Failed     int              `json:"failed"`
	Errors     map[int64]string `json:"errors,omitempty"`
	Changes    []*Transition    `json:"changes,omitempty"`
	mu         sync.Mutex
}

func (r *SweepReport) add(orderID int64, tr *Transition, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Checked++
	switch {
	case err != nil:
		r.Failed++
		if r.Errors == nil {
			r.Errors = map[int64]string{}
		}
		r.Errors[orderID] = err.Error()
	case tr.Changed:
		r.Changed++
		r.Changes = append(r.Changes, tr)
	case tr.NoUpdate:
		r.NoUpdate++
	}
}

// SweepInTransit polls every pollable order.
func (e *Engine) SweepInTransit(ctx context.Context) (*SweepReport, error) {
	return e.sweep(ctx, nil)
}

// sweepDue polls only the orders the planner considers due.
func (e *Engine) sweepDue(ctx context.Context) (*SweepReport, error) {
	now := e.now()
	return e.sweep(ctx, func(o *models.Order) bool { return e.planner.Due(o, now) })
}

func (e *Engine) sweep(ctx context.Context, filter func(*models.Order) bool) (*SweepReport, error) {
	rep := &SweepReport{StartedAt: e.now()}
	defer e.metrics.ObserveSweep(time.Now())
	e.totalSweeps.Add(1)
	e.lastCycleUnixNano.Store(rep.StartedAt.UnixNano())

	orders, err := e.store.ListPollableOrders(ctx, e.batchSize)
	if err != nil {
		e.recordError(err)
		return nil, err
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.concurrency)
	for _, o := range orders {
		if filter != nil && !filter(o) {
			continue
		}
		id := o.ID
		g.Go(func() error {
			tr, err := e.PollOne(gctx, id)
			if err != nil {
				e.recordError(err)
				e.log.Error("poll order", "order_id", id, "error", err.Error())
			}
			rep.add(id, tr, err)
			return nil
		})
	}
	_ = g.Wait()

	rep.FinishedAt = e.now()
	return rep, nil
}

// Trigger forces an immediate full sweep (best-effort, non-blocking).
func (e *Engine) Trigger() {
	e.lastTriggerUnixNano.Store(time.Now().UTC().UnixNano())
	select {
	case e.triggerCh <- struct{}{}:
	default:
	}
}

// Run sweeps due orders on every tick and all orders on Trigger, until ctx is done.
func (e *Engine) Run(ctx context.Context) error {
	t := time.NewTicker(e.pollInterval)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.C:
			e.logCycle(e.sweepDue(ctx))
		case <-e.triggerCh:
			e.logCycle(e.SweepInTransit(ctx))
		}
	}
}

func (e *Engine) logCycle(rep *SweepReport, err error) {
	if err != nil {
		e.log.Error("sweep failed", "error", err.Error())
		return
	}
	e.log.Info("sweep done",
		"checked", rep.Checked, "changed", rep.Changed, "no_update", rep.NoUpdate, "failed", rep.Failed,
		"took", rep.FinishedAt.Sub(rep.StartedAt).String())
}

type Stats struct {
	StartedAt     time.Time  `json:"startedAt"`
	LastCycleAt   *time.Time `json:"lastCycleAt,omitempty"`
	LastTriggerAt *time.Time `json:"lastTriggerAt,omitempty"`
	TotalSweeps   int64      `json:"totalSweeps"`
	TotalPolled   int64      `json:"totalPolled"`
	TotalChanged  int64      `json:"totalChanged"`
	TotalErrors   int64      `json:"totalErrors"`
	InFlight      int64      `json:"inFlight"`
	LastError     string     `json:"lastError,omitempty"`
}

func (e *Engine) Stats() Stats {
	st := Stats{
		StartedAt:    time.Unix(0, e.startedAtUnixNano).UTC(),
		TotalSweeps:  e.totalSweeps.Load(),
		TotalPolled:  e.totalPolled.Load(),
		TotalChanged: e.totalChanged.Load(),
		TotalErrors:  e.totalErrors.Load(),
		InFlight:     e.inFlight.Load(),
	}
	if n := e.lastCycleUnixNano.Load(); n > 0 {
		t := time.Unix(0, n).UTC()
		st.LastCycleAt = &t
	}
	if n := e.lastTriggerUnixNano.Load(); n > 0 {
		t := time.Unix(0, n).UTC()
		st.LastTriggerAt = &t
	}
	e.lastErrorMu.Lock()
	st.LastError = e.lastError
	e.lastErrorMu.Unlock()
	return st
}

// Settings is what the worker exposes on /config.
type Settings struct {
	PollInterval string        `json:"pollInterval"`
	BatchSize    int           `json:"batchSize"`
	Concurrency  int           `json:"concurrency"`
	Planner      PlannerConfig `json:"planner"`
}

func (e *Engine) Settings() Settings {
	return Settings{
		PollInterval: e.pollInterval.String(),
		BatchSize:    e.batchSize,
		Concurrency:  e.concurrency,
		Planner:      e.planner.Config(),
	}
}
