// Package memstore is an in-memory ordertx.Store for service tests.
// Transactions are serialized by one mutex and rolled back by restoring a snapshot.
package memstore

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/BearBump/OrderDesk/internal/models"
	"github.com/BearBump/OrderDesk/internal/ports/ordertx"
)

type Store struct {
	mu sync.Mutex

	orders      map[int64]models.Order
	products    map[int64]models.Product
	lots        map[int64]models.CostLot
	invoices    map[int64]models.Invoice
	creditNotes map[int64]models.CreditNote
	events      []models.DeliveryEvent
	seq         int64

	// FailOn makes the named tx method return an error, to exercise rollbacks.
	FailOn string
	// Commits counts successful WithTx calls.
	Commits int
}

var _ ordertx.Store = (*Store)(nil)

func New() *Store {
	return &Store{
		orders:      map[int64]models.Order{},
		products:    map[int64]models.Product{},
		lots:        map[int64]models.CostLot{},
		invoices:    map[int64]models.Invoice{},
		creditNotes: map[int64]models.CreditNote{},
	}
}

func (s *Store) nextID() int64 {
	s.seq++
	return s.seq
}

// Seeding helpers. They assign IDs when zero and return the stored copy.

func (s *Store) PutOrder(o models.Order) models.Order {
	s.mu.Lock()
	defer s.mu.Unlock()
	if o.ID == 0 {
		o.ID = s.nextID()
	}
	if o.ReturnStatus == "" {
		o.ReturnStatus = models.ReturnNone
	}
	if o.DeliveryStatus == "" {
		o.DeliveryStatus = models.DeliveryPending
	}
	for i := range o.Lines {
		if o.Lines[i].ID == 0 {
			o.Lines[i].ID = s.nextID()
		}
		o.Lines[i].OrderID = o.ID
	}
	s.orders[o.ID] = copyOrder(o)
	return copyOrder(o)
}

func (s *Store) PutProduct(p models.Product) models.Product {
	s.mu.Lock()
	defer s.mu.Unlock()
	if p.ID == 0 {
		p.ID = s.nextID()
	}
	s.products[p.ID] = p
	return p
}

func (s *Store) PutLot(l models.CostLot) models.CostLot {
	s.mu.Lock()
	defer s.mu.Unlock()
	if l.ID == 0 {
		l.ID = s.nextID()
	}
	if l.OriginalQuantity == 0 {
		l.OriginalQuantity = l.RemainingQuantity
	}
	s.lots[l.ID] = l
	return l
}

func (s *Store) PutInvoice(inv models.Invoice) models.Invoice {
	s.mu.Lock()
	defer s.mu.Unlock()
	if inv.ID == 0 {
		inv.ID = s.nextID()
	}
	s.invoices[inv.ID] = copyInvoice(inv)
	return inv
}

func (s *Store) DeleteInvoice(id int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.invoices, id)
}

// Inspection helpers.

func (s *Store) Order(id int64) models.Order {
	s.mu.Lock()
	defer s.mu.Unlock()
	return copyOrder(s.orders[id])
}

func (s *Store) Product(id int64) models.Product {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.products[id]
}

func (s *Store) Lot(id int64) models.CostLot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lots[id]
}

func (s *Store) Events(orderID int64) []models.DeliveryEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.DeliveryEvent
	for _, e := range s.events {
		if e.OrderID == orderID {
			out = append(out, e)
		}
	}
	return out
}

func (s *Store) CreditNotes() []models.CreditNote {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.CreditNote, 0, len(s.creditNotes))
	for _, cn := range s.creditNotes {
		out = append(out, cn)
	}
	return out
}

func (s *Store) Invoices() []models.Invoice {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.Invoice, 0, len(s.invoices))
	for _, inv := range s.invoices {
		out = append(out, copyInvoice(inv))
	}
	return out
}

type snapshot struct {
	orders      map[int64]models.Order
	products    map[int64]models.Product
	lots        map[int64]models.CostLot
	invoices    map[int64]models.Invoice
	creditNotes map[int64]models.CreditNote
	events      []models.DeliveryEvent
	seq         int64
}

func (s *Store) snapshot() snapshot {
	return snapshot{
		orders:      cloneMap(s.orders),
		products:    cloneMap(s.products),
		lots:        cloneMap(s.lots),
		invoices:    cloneMap(s.invoices),
		creditNotes: cloneMap(s.creditNotes),
		events:      append([]models.DeliveryEvent(nil), s.events...),
		seq:         s.seq,
	}
}

func (s *Store) restore(sn snapshot) {
	s.orders = sn.orders
	s.products = sn.products
	s.lots = sn.lots
	s.invoices = sn.invoices
	s.creditNotes = sn.creditNotes
	s.events = sn.events
	s.seq = sn.seq
}

func cloneMap[K comparable, V any](m map[K]V) map[K]V {
	out := make(map[K]V, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func (s *Store) WithTx(ctx context.Context, fn func(ctx context.Context, tx ordertx.Repository) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sn := s.snapshot()
	if err := fn(ctx, &txRepo{s: s}); err != nil {
		s.restore(sn)
		return err
	}
	s.Commits++
	return nil
}

// Reader.

func (s *Store) GetOrder(ctx context.Context, orderID int64) (*models.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.orders[orderID]
	if !ok {
		return nil, models.ErrOrderNotFound
	}
	c := copyOrder(o)
	return &c, nil
}

func (s *Store) GetProduct(ctx context.Context, productID int64) (*models.Product, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.products[productID]
	if !ok {
		return nil, models.ErrProductNotFound
	}
	return &p, nil
}

func (s *Store) ListPollableOrders(ctx context.Context, limit int) ([]*models.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := make([]int64, 0, len(s.orders))
	for id, o := range s.orders {
		if o.Pollable() {
			ids = append(ids, id)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	if limit > 0 && len(ids) > limit {
		ids = ids[:limit]
	}
	out := make([]*models.Order, 0, len(ids))
	for _, id := range ids {
		c := copyOrder(s.orders[id])
		out = append(out, &c)
	}
	return out, nil
}

func (s *Store) ListDeliveryEvents(ctx context.Context, orderID int64, limit, offset int) ([]*models.DeliveryEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*models.DeliveryEvent
	for i := len(s.events) - 1; i >= 0; i-- {
		if s.events[i].OrderID == orderID {
			e := s.events[i]
			out = append(out, &e)
		}
	}
	if offset >= len(out) {
		return nil, nil
	}
	out = out[offset:]
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *Store) ListOpenLots(ctx context.Context, productID int64) ([]*models.CostLot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.openLots(productID), nil
}

func (s *Store) openLots(productID int64) []*models.CostLot {
	var out []*models.CostLot
	for _, l := range s.lots {
		if l.ProductID == productID && l.RemainingQuantity > 0 {
			c := l
			out = append(out, &c)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].InvoiceDate.Equal(out[j].InvoiceDate) {
			return out[i].InvoiceDate.Before(out[j].InvoiceDate)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// txRepo runs with s.mu already held.
type txRepo struct {
	s *Store
}

func (t *txRepo) fail(method string) error {
	if t.s.FailOn == method {
		return fmt.Errorf("memstore: injected failure in %s", method)
	}
	return nil
}

func (t *txRepo) GetOrderForUpdate(ctx context.Context, orderID int64) (*models.Order, error) {
	if err := t.fail("GetOrderForUpdate"); err != nil {
		return nil, err
	}
	o, ok := t.s.orders[orderID]
	if !ok {
		return nil, models.ErrOrderNotFound
	}
	c := copyOrder(o)
	return &c, nil
}

func (t *txRepo) UpdateOrder(ctx context.Context, o *models.Order) error {
	if err := t.fail("UpdateOrder"); err != nil {
		return err
	}
	if _, ok := t.s.orders[o.ID]; !ok {
		return models.ErrOrderNotFound
	}
	c := copyOrder(*o)
	c.UpdatedAt = time.Now().UTC()
	t.s.orders[o.ID] = c
	return nil
}

func (t *txRepo) TouchTrackingCheck(ctx context.Context, orderID int64, at time.Time) error {
	if err := t.fail("TouchTrackingCheck"); err != nil {
		return err
	}
	o, ok := t.s.orders[orderID]
	if !ok {
		return models.ErrOrderNotFound
	}
	at = at.UTC()
	o.LastTrackingCheck = &at
	t.s.orders[orderID] = o
	return nil
}

func (t *txRepo) InsertDeliveryEvent(ctx context.Context, e *models.DeliveryEvent) error {
	if err := t.fail("InsertDeliveryEvent"); err != nil {
		return err
	}
	e.ID = t.s.nextID()
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}
	t.s.events = append(t.s.events, *e)
	return nil
}

func (t *txRepo) GetProductForUpdate(ctx context.Context, productID int64) (*models.Product, error) {
	if err := t.fail("GetProductForUpdate"); err != nil {
		return nil, err
	}
	p, ok := t.s.products[productID]
	if !ok {
		return nil, models.ErrProductNotFound
	}
	return &p, nil
}

func (t *txRepo) UpdateProduct(ctx context.Context, p *models.Product) error {
	if err := t.fail("UpdateProduct"); err != nil {
		return err
	}
	if _, ok := t.s.products[p.ID]; !ok {
		return models.ErrProductNotFound
	}
	if p.InvoiceableQuantity < 0 || p.StockQuantity < 0 || p.Cost.IsNegative() {
		return fmt.Errorf("memstore: product %d would go negative", p.ID)
	}
	t.s.products[p.ID] = *p
	return nil
}

func (t *txRepo) ListOpenLotsForUpdate(ctx context.Context, productID int64) ([]*models.CostLot, error) {
	if err := t.fail("ListOpenLotsForUpdate"); err != nil {
		return nil, err
	}
	return t.s.openLots(productID), nil
}

func (t *txRepo) ConsumeLot(ctx context.Context, lotID int64, qty int64) error {
	if err := t.fail("ConsumeLot"); err != nil {
		return err
	}
	l, ok := t.s.lots[lotID]
	if !ok {
		return fmt.Errorf("memstore: lot %d not found", lotID)
	}
	if qty <= 0 || qty > l.RemainingQuantity {
		return fmt.Errorf("memstore: lot %d has %d remaining, asked %d", lotID, l.RemainingQuantity, qty)
	}
	l.RemainingQuantity -= qty
	t.s.lots[lotID] = l
	return nil
}

func (t *txRepo) InsertCostLot(ctx context.Context, lot *models.CostLot) error {
	if err := t.fail("InsertCostLot"); err != nil {
		return err
	}
	lot.ID = t.s.nextID()
	if lot.CreatedAt.IsZero() {
		lot.CreatedAt = time.Now().UTC()
	}
	t.s.lots[lot.ID] = *lot
	return nil
}

func (t *txRepo) GetInvoice(ctx context.Context, invoiceID int64) (*models.Invoice, error) {
	if err := t.fail("GetInvoice"); err != nil {
		return nil, err
	}
	inv, ok := t.s.invoices[invoiceID]
	if !ok {
		return nil, models.ErrInvoiceNotFound
	}
	c := copyInvoice(inv)
	return &c, nil
}

func (t *txRepo) InsertInvoice(ctx context.Context, inv *models.Invoice) error {
	if err := t.fail("InsertInvoice"); err != nil {
		return err
	}
	inv.ID = t.s.nextID()
	for i := range inv.Lines {
		inv.Lines[i].ID = t.s.nextID()
	}
	t.s.invoices[inv.ID] = copyInvoice(*inv)
	return nil
}

func (t *txRepo) InsertCreditNote(ctx context.Context, cn *models.CreditNote) error {
	if err := t.fail("InsertCreditNote"); err != nil {
		return err
	}
	cn.ID = t.s.nextID()
	for i := range cn.Lines {
		cn.Lines[i].ID = t.s.nextID()
	}
	c := *cn
	c.Lines = append([]models.DocumentLine(nil), cn.Lines...)
	t.s.creditNotes[cn.ID] = c
	return nil
}

func copyOrder(o models.Order) models.Order {
	o.Lines = append([]models.OrderLine(nil), o.Lines...)
	return o
}

func copyInvoice(inv models.Invoice) models.Invoice {
	inv.Lines = append([]models.DocumentLine(nil), inv.Lines...)
	inv.OrderIDs = append([]int64(nil), inv.OrderIDs...)
	return inv
}
