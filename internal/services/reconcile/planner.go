package reconcile

import (
	"time"

	"github.com/BearBump/OrderDesk/internal/models"
)

// PlannerConfig sets how long the scheduled loop waits before polling an
// order again, by its current delivery status.
type PlannerConfig struct {
	InTransitDelay time.Duration // default: 30 minutes
	DepotDelay     time.Duration // default: 2 hours
	PendingDelay   time.Duration // default: 1 hour
	DefaultDelay   time.Duration // default: 1 hour
}

func DefaultPlannerConfig() PlannerConfig {
	return PlannerConfig{
		InTransitDelay: 30 * time.Minute,
		DepotDelay:     2 * time.Hour,
		PendingDelay:   1 * time.Hour,
		DefaultDelay:   1 * time.Hour,
	}
}

type Planner struct {
	cfg PlannerConfig
}

func NewPlanner(cfg PlannerConfig) *Planner {
	def := DefaultPlannerConfig()
	if cfg.InTransitDelay <= 0 {
		cfg.InTransitDelay = def.InTransitDelay
	}
	if cfg.DepotDelay <= 0 {
		cfg.DepotDelay = def.DepotDelay
	}
	if cfg.PendingDelay <= 0 {
		cfg.PendingDelay = def.PendingDelay
	}
	if cfg.DefaultDelay <= 0 {
		cfg.DefaultDelay = def.DefaultDelay
	}
	return &Planner{cfg: cfg}
}

func (p *Planner) Config() PlannerConfig { return p.cfg }

func (p *Planner) RecheckDelay(status models.DeliveryStatus) time.Duration {
	switch status {
	case models.DeliveryInTransit, models.DeliveryOutForDelivery, models.DeliveryPickedUp:
		return p.cfg.InTransitDelay
	case models.DeliveryAtDepot:
		return p.cfg.DepotDelay
	case models.DeliveryPending:
		return p.cfg.PendingDelay
	default:
		return p.cfg.DefaultDelay
	}
}

// Due reports whether the order's last check is old enough to poll again.
// Orders never checked are always due.
func (p *Planner) Due(o *models.Order, now time.Time) bool {
	if o.LastTrackingCheck == nil {
		return true
	}
	return !now.Before(o.LastTrackingCheck.Add(p.RecheckDelay(o.DeliveryStatus)))
}
