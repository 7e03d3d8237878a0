package fake

import (
	"context"
	"hash/fnv"
	"time"

	"github.com/BearBump/OrderDesk/internal/integrations/carrier"
	"github.com/BearBump/OrderDesk/internal/models"
)

// FakeClient - заглушка перевозчика для локального запуска без учётных данных.
// Статус детерминирован по номеру отслеживания: часть заказов "доставлена".
type FakeClient struct {
	now func() time.Time
}

func New() *FakeClient {
	return &FakeClient{now: func() time.Time { return time.Now().UTC() }}
}

var progression = []models.DeliveryStatus{
	models.DeliveryPickedUp,
	models.DeliveryInTransit,
	models.DeliveryOutForDelivery,
	models.DeliveryAtDepot,
	models.DeliveryDelivered,
}

func (f *FakeClient) FetchTracking(ctx context.Context, trackingNumber string) *carrier.DeliveryInfo {
	if trackingNumber == "" {
		return nil
	}
	h := fnv.New32a()
	_, _ = h.Write([]byte(trackingNumber))
	status := progression[h.Sum32()%uint32(len(progression))]

	now := f.now()
	return carrier.NewDeliveryInfo(status, "fake carrier update", &now)
}
