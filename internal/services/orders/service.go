package orders

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/BearBump/OrderDesk/internal/broker/messages"
	"github.com/BearBump/OrderDesk/internal/cache"
	"github.com/BearBump/OrderDesk/internal/models"
	"github.com/pkg/errors"
)

type Repository interface {
	GetOrder(ctx context.Context, orderID int64) (*models.Order, error)
	ListDeliveryEvents(ctx context.Context, orderID int64, limit, offset int) ([]*models.DeliveryEvent, error)
}

// Service is the read side of orders. Snapshots are cached in Redis and
// refreshed from delivery_changed messages.
type Service struct {
	repo     Repository
	cache    cache.BytesCache
	cacheTTL time.Duration
}

// New builds the service. A nil cache or a zero TTL disables caching.
func New(repo Repository, c cache.BytesCache, cacheTTL time.Duration) *Service {
	return &Service{repo: repo, cache: c, cacheTTL: cacheTTL}
}

func (s *Service) cacheEnabled() bool {
	return s.cache != nil && s.cacheTTL > 0
}

func (s *Service) GetOrder(ctx context.Context, orderID int64) (*models.Order, error) {
	out, err := s.GetOrders(ctx, []int64{orderID})
	if err != nil {
		return nil, err
	}
	if len(out) == 0 {
		return nil, models.ErrOrderNotFound
	}
	return out[0], nil
}

// GetOrders returns the known orders in the order of ids. Unknown ids are
// skipped. Cache errors are treated as misses.
func (s *Service) GetOrders(ctx context.Context, ids []int64) ([]*models.Order, error) {
	if len(ids) == 0 {
		return []*models.Order{}, nil
	}
	if len(ids) > 500 {
		return nil, models.ErrTooManyIDs.WithMessage("too many ids (max 500)")
	}

	got := make(map[int64]*models.Order, len(ids))
	miss := make([]int64, 0, len(ids))
	for _, id := range ids {
		if _, dup := got[id]; dup {
			continue
		}
		if o, ok := s.fromCache(ctx, id); ok {
			got[id] = o
			continue
		}
		miss = append(miss, id)
	}

	for _, id := range miss {
		if _, done := got[id]; done {
			continue
		}
		o, err := s.repo.GetOrder(ctx, id)
		if errors.Is(err, models.ErrOrderNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		s.toCache(ctx, o)
		got[id] = o
	}

	// Собираем ответ в том же порядке, что ids.
	out := make([]*models.Order, 0, len(ids))
	for _, id := range ids {
		if o, ok := got[id]; ok {
			out = append(out, o)
		}
	}
	return out, nil
}

func (s *Service) ListEvents(ctx context.Context, orderID int64, limit, offset int) ([]*models.DeliveryEvent, error) {
	if orderID <= 0 {
		return nil, models.ErrOrderNotFound
	}
	return s.repo.ListDeliveryEvents(ctx, orderID, limit, offset)
}

// ApplyDeliveryChanged reloads the order named by a delivery_changed message
// into the cache. It is the Kafka consumer handler of the api process.
func (s *Service) ApplyDeliveryChanged(ctx context.Context, msg messages.DeliveryChanged) error {
	if msg.OrderID <= 0 {
		return errors.New("order_id is required")
	}
	if !s.cacheEnabled() {
		return nil
	}

	o, err := s.repo.GetOrder(ctx, msg.OrderID)
	if errors.Is(err, models.ErrOrderNotFound) {
		return s.cache.Delete(ctx, snapshotKey(msg.OrderID))
	}
	if err != nil {
		return err
	}
	s.toCache(ctx, o)
	return nil
}

// Invalidate drops cached snapshots after a local write.
func (s *Service) Invalidate(ctx context.Context, orderIDs ...int64) {
	if !s.cacheEnabled() || len(orderIDs) == 0 {
		return
	}
	keys := make([]string, 0, len(orderIDs))
	for _, id := range orderIDs {
		keys = append(keys, snapshotKey(id))
	}
	_ = s.cache.Delete(ctx, keys...)
}

func (s *Service) fromCache(ctx context.Context, id int64) (*models.Order, bool) {
	if !s.cacheEnabled() {
		return nil, false
	}
	b, ok, err := s.cache.Get(ctx, snapshotKey(id))
	if err != nil || !ok {
		return nil, false
	}
	var o models.Order
	if json.Unmarshal(b, &o) != nil {
		return nil, false
	}
	return &o, true
}

func (s *Service) toCache(ctx context.Context, o *models.Order) {
	if !s.cacheEnabled() {
		return
	}
	b, err := json.Marshal(o)
	if err != nil {
		return
	}
	_ = s.cache.Set(ctx, snapshotKey(o.ID), b, s.cacheTTL)
}

func snapshotKey(id int64) string {
	return fmt.Sprintf("order:%d:snapshot", id)
}
