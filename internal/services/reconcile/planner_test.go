package reconcile

import (
	"testing"
	"time"

	"github.com/BearBump/OrderDesk/internal/models"
	"github.com/stretchr/testify/require"
)

func TestNewPlanner_Defaults(t *testing.T) {
	p := NewPlanner(PlannerConfig{InTransitDelay: 5 * time.Minute})
	require.Equal(t, 5*time.Minute, p.Config().InTransitDelay)
	require.Equal(t, DefaultPlannerConfig().DepotDelay, p.Config().DepotDelay)
}

func TestPlanner_RecheckDelay(t *testing.T) {
	p := NewPlanner(PlannerConfig{InTransitDelay: time.Minute, DepotDelay: 2 * time.Minute, PendingDelay: 3 * time.Minute, DefaultDelay: 4 * time.Minute})

	require.Equal(t, time.Minute, p.RecheckDelay(models.DeliveryInTransit))
	require.Equal(t, time.Minute, p.RecheckDelay(models.DeliveryOutForDelivery))
	require.Equal(t, 2*time.Minute, p.RecheckDelay(models.DeliveryAtDepot))
	require.Equal(t, 3*time.Minute, p.RecheckDelay(models.DeliveryPending))
	require.Equal(t, 4*time.Minute, p.RecheckDelay(models.DeliveryFailed))
}

func TestPlanner_Due(t *testing.T) {
	p := NewPlanner(PlannerConfig{InTransitDelay: 10 * time.Minute})
	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

	require.True(t, p.Due(&models.Order{DeliveryStatus: models.DeliveryInTransit}, now))

	recent := now.Add(-5 * time.Minute)
	require.False(t, p.Due(&models.Order{DeliveryStatus: models.DeliveryInTransit, LastTrackingCheck: &recent}, now))

	old := now.Add(-10 * time.Minute)
	require.True(t, p.Due(&models.Order{DeliveryStatus: models.DeliveryInTransit, LastTrackingCheck: &old}, now))
}
