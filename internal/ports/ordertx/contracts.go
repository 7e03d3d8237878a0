package ordertx

import (
	"context"
	"time"

	"github.com/BearBump/OrderDesk/internal/models"
)

// Repository is the set of writes an engine may perform inside one transaction.
// Every *ForUpdate read locks the row until the transaction ends.
type Repository interface {
	GetOrderForUpdate(ctx context.Context, orderID int64) (*models.Order, error)
	UpdateOrder(ctx context.Context, o *models.Order) error
	TouchTrackingCheck(ctx context.Context, orderID int64, at time.Time) error
	InsertDeliveryEvent(ctx context.Context, e *models.DeliveryEvent) error

	GetProductForUpdate(ctx context.Context, productID int64) (*models.Product, error)
	UpdateProduct(ctx context.Context, p *models.Product) error

	ListOpenLotsForUpdate(ctx context.Context, productID int64) ([]*models.CostLot, error)
	ConsumeLot(ctx context.Context, lotID int64, qty int64) error
	InsertCostLot(ctx context.Context, lot *models.CostLot) error

	GetInvoice(ctx context.Context, invoiceID int64) (*models.Invoice, error)
	InsertInvoice(ctx context.Context, inv *models.Invoice) error
	InsertCreditNote(ctx context.Context, cn *models.CreditNote) error
}

// Runner commits everything fn did, or nothing if fn returns an error.
type Runner interface {
	WithTx(ctx context.Context, fn func(ctx context.Context, tx Repository) error) error
}

// Reader serves non-locking reads outside of transactions.
type Reader interface {
	GetOrder(ctx context.Context, orderID int64) (*models.Order, error)
	GetProduct(ctx context.Context, productID int64) (*models.Product, error)
	ListPollableOrders(ctx context.Context, limit int) ([]*models.Order, error)
	ListDeliveryEvents(ctx context.Context, orderID int64, limit, offset int) ([]*models.DeliveryEvent, error)
	ListOpenLots(ctx context.Context, productID int64) ([]*models.CostLot, error)
}

// Store is what the storage layer provides to the engines.
type Store interface {
	Runner
	Reader
}
