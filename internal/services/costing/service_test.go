package costing

import (
	"context"
	"testing"
	"time"

	"github.com/BearBump/OrderDesk/internal/models"
	"github.com/BearBump/OrderDesk/internal/testutil/memstore"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/suite"
)

var (
	d1 = time.Date(2025, 1, 10, 0, 0, 0, 0, time.UTC)
	d2 = time.Date(2025, 2, 10, 0, 0, 0, 0, time.UTC)
)

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

type CostingSuite struct {
	suite.Suite
	ctx   context.Context
	store *memstore.Store
	svc   *Service
}

func (s *CostingSuite) SetupTest() {
	s.ctx = context.Background()
	s.store = memstore.New()
	set := DefaultSettings()
	set.DeliveryFeeTTC = decimal.Zero
	s.svc = New(s.store, set, nil)
}

func (s *CostingSuite) seedTwoLots() (models.Product, models.CostLot, models.CostLot) {
	p := s.store.PutProduct(models.Product{Name: "Mug", Cost: dec("5.5"), InvoiceableQuantity: 20, StockQuantity: 20})
	l1 := s.store.PutLot(models.CostLot{ProductID: p.ID, InvoiceDate: d1, RemainingQuantity: 10, UnitCost: dec("5.000")})
	l2 := s.store.PutLot(models.CostLot{ProductID: p.ID, InvoiceDate: d2, RemainingQuantity: 10, UnitCost: dec("6.000")})
	return p, l1, l2
}

func (s *CostingSuite) TestCommit_FIFOScenario() {
	p, l1, l2 := s.seedTwoLots()
	o := s.store.PutOrder(models.Order{Reference: "CMD-1", Lines: []models.OrderLine{{ProductID: p.ID, Quantity: 15, UnitPrice: dec("9")}}})

	inv, err := s.svc.CommitInvoiceBatch(s.ctx, []int64{o.ID})
	s.Require().NoError(err)
	s.Require().Len(inv.Lines, 1)

	// (10*5 + 5*6) / 15 = 5.333…; 5.333… * 1.07 = 5.707
	s.Require().Equal("5.707", inv.Lines[0].UnitPriceHT.StringFixed(3))
	s.Require().Equal("85.605", inv.Lines[0].TotalHT.StringFixed(3))
	s.Require().Equal("16.265", inv.Lines[0].TotalVAT.StringFixed(3))
	s.Require().True(inv.TotalTTC.Equal(dec("101.870")))

	s.Require().Equal(int64(0), s.store.Lot(l1.ID).RemainingQuantity)
	s.Require().Equal(int64(5), s.store.Lot(l2.ID).RemainingQuantity)
	s.Require().Equal(int64(5), s.store.Product(p.ID).InvoiceableQuantity)
	s.Require().Equal(int64(20), s.store.Product(p.ID).StockQuantity, "physical stock is not touched by invoicing")

	s.Require().NotNil(s.store.Order(o.ID).InvoiceID)
	s.Require().Equal(inv.ID, *s.store.Order(o.ID).InvoiceID)
	s.Require().Regexp(`^INV-\d{8}-[0-9A-F]{8}$`, inv.Number)
}

func (s *CostingSuite) TestPreview_MatchesCommitAndDoesNotMutate() {
	p, l1, l2 := s.seedTwoLots()
	o1 := s.store.PutOrder(models.Order{Lines: []models.OrderLine{{ProductID: p.ID, Quantity: 8}}})
	o2 := s.store.PutOrder(models.Order{Lines: []models.OrderLine{{ProductID: p.ID, Quantity: 4}, {ProductID: p.ID, Quantity: 3}}})

	preview, err := s.svc.PriceInvoiceBatch(s.ctx, []int64{o2.ID, o1.ID, o2.ID})
	s.Require().NoError(err)
	s.Require().Equal([]int64{o1.ID, o2.ID}, preview.OrderIDs)
	s.Require().Equal(int64(10), s.store.Lot(l1.ID).RemainingQuantity)
	s.Require().Equal(int64(20), s.store.Product(p.ID).InvoiceableQuantity)
	s.Require().Nil(s.store.Order(o1.ID).InvoiceID)
	s.Require().Zero(s.store.Commits)

	// вторая строка того же товара берёт из того, что осталось после первой
	s.Require().Equal("5.350", preview.Lines[0].UnitPriceHT.StringFixed(3)) // 8 по 5
	s.Require().Equal("5.885", preview.Lines[1].UnitPriceHT.StringFixed(3)) // 2 по 5 и 2 по 6
	s.Require().Equal("6.420", preview.Lines[2].UnitPriceHT.StringFixed(3)) // 3 по 6

	s.Require().Len(preview.Consumptions, 1)
	s.Require().Equal(int64(15), preview.Consumptions[0].Quantity)
	s.Require().Equal("5.333", preview.Consumptions[0].AverageCost.StringFixed(3))

	inv, err := s.svc.CommitInvoiceBatch(s.ctx, []int64{o1.ID, o2.ID})
	s.Require().NoError(err)
	s.Require().Len(inv.Lines, len(preview.Lines))
	for i := range inv.Lines {
		s.Require().True(inv.Lines[i].UnitPriceHT.Equal(preview.Lines[i].UnitPriceHT))
		s.Require().True(inv.Lines[i].TotalHT.Equal(preview.Lines[i].TotalHT))
	}
	s.Require().True(inv.TotalTTC.Equal(preview.TotalTTC))
	s.Require().Equal(int64(5), s.store.Lot(l2.ID).RemainingQuantity)
}

func (s *CostingSuite) TestNoLots_FallsBackToLinePrice() {
	p := s.store.PutProduct(models.Product{Name: "Plate", InvoiceableQuantity: 1})
	o := s.store.PutOrder(models.Order{Lines: []models.OrderLine{{ProductID: p.ID, Quantity: 1, UnitPrice: dec("10")}}})

	preview, err := s.svc.PriceInvoiceBatch(s.ctx, []int64{o.ID})
	s.Require().NoError(err)
	s.Require().Equal("10.700", preview.Lines[0].UnitPriceHT.StringFixed(3))
	s.Require().Equal("Plate", preview.Lines[0].Label)
}

func (s *CostingSuite) TestDeliveryFeeLine() {
	set := DefaultSettings()
	svc := New(s.store, set, nil)
	p := s.store.PutProduct(models.Product{InvoiceableQuantity: 1})
	o := s.store.PutOrder(models.Order{Lines: []models.OrderLine{{ProductID: p.ID, Quantity: 1, UnitPrice: dec("10")}}})

	preview, err := svc.PriceInvoiceBatch(s.ctx, []int64{o.ID})
	s.Require().NoError(err)
	s.Require().Len(preview.Lines, 2)

	fee := preview.Lines[1]
	s.Require().Nil(fee.OrderID)
	s.Require().Nil(fee.ProductID)
	s.Require().Equal("5.882", fee.TotalHT.StringFixed(3))
	s.Require().Equal("1.118", fee.TotalVAT.StringFixed(3))
	s.Require().Equal("Delivery fee", fee.Label)
	s.Require().True(preview.TotalHT.Equal(dec("16.582")))
}

func (s *CostingSuite) TestInvoiceableFlooredAtZero() {
	p := s.store.PutProduct(models.Product{InvoiceableQuantity: 2})
	s.store.PutLot(models.CostLot{ProductID: p.ID, InvoiceDate: d1, RemainingQuantity: 10, UnitCost: dec("1")})
	o := s.store.PutOrder(models.Order{Lines: []models.OrderLine{{ProductID: p.ID, Quantity: 5}}})

	_, err := s.svc.CommitInvoiceBatch(s.ctx, []int64{o.ID})
	s.Require().NoError(err)
	s.Require().Equal(int64(0), s.store.Product(p.ID).InvoiceableQuantity)
}

func (s *CostingSuite) TestStrictInvoiceableRejects() {
	set := DefaultSettings()
	set.StrictInvoiceable = true
	svc := New(s.store, set, nil)

	p := s.store.PutProduct(models.Product{InvoiceableQuantity: 2})
	lot := s.store.PutLot(models.CostLot{ProductID: p.ID, InvoiceDate: d1, RemainingQuantity: 10, UnitCost: dec("1")})
	o := s.store.PutOrder(models.Order{Lines: []models.OrderLine{{ProductID: p.ID, Quantity: 5}}})

	_, err := svc.CommitInvoiceBatch(s.ctx, []int64{o.ID})
	s.Require().True(errors.Is(err, models.ErrInsufficientInvoiceable))
	s.Require().True(errors.Is(err, models.ErrInvalid))
	s.Require().Equal(int64(10), s.store.Lot(lot.ID).RemainingQuantity)
}

func (s *CostingSuite) TestCommit_IsAtomic() {
	p, l1, _ := s.seedTwoLots()
	o := s.store.PutOrder(models.Order{Lines: []models.OrderLine{{ProductID: p.ID, Quantity: 12}}})

	s.store.FailOn = "InsertInvoice"
	_, err := s.svc.CommitInvoiceBatch(s.ctx, []int64{o.ID})
	s.Require().Error(err)

	s.Require().Equal(int64(10), s.store.Lot(l1.ID).RemainingQuantity)
	s.Require().Equal(int64(20), s.store.Product(p.ID).InvoiceableQuantity)
	s.Require().Nil(s.store.Order(o.ID).InvoiceID)
	s.Require().Empty(s.store.Invoices())
}

func (s *CostingSuite) TestCommit_Rejections() {
	p, _, _ := s.seedTwoLots()
	o := s.store.PutOrder(models.Order{Lines: []models.OrderLine{{ProductID: p.ID, Quantity: 1}}})

	_, err := s.svc.CommitInvoiceBatch(s.ctx, nil)
	s.Require().True(errors.Is(err, models.ErrEmptyBatch))

	_, err = s.svc.CommitInvoiceBatch(s.ctx, []int64{o.ID + 999})
	s.Require().True(errors.Is(err, models.ErrOrderNotFound))

	_, err = s.svc.CommitInvoiceBatch(s.ctx, []int64{o.ID})
	s.Require().NoError(err)

	_, err = s.svc.CommitInvoiceBatch(s.ctx, []int64{o.ID})
	s.Require().True(errors.Is(err, models.ErrAlreadyInvoiced))
	s.Require().Len(s.store.Invoices(), 1)

	cancelled := s.store.PutOrder(models.Order{BusinessStatus: models.OrderCancelled, Lines: []models.OrderLine{{ProductID: p.ID, Quantity: 1}}})
	_, err = s.svc.PriceInvoiceBatch(s.ctx, []int64{cancelled.ID})
	s.Require().True(errors.Is(err, models.ErrOrderTerminal))
}

func (s *CostingSuite) TestRecordPurchase_WeightedAverage() {
	p := s.store.PutProduct(models.Product{Cost: dec("5"), StockQuantity: 10, InvoiceableQuantity: 4})

	lot, err := s.svc.RecordPurchase(s.ctx, PurchaseInput{ProductID: p.ID, Quantity: 10, UnitCost: dec("6"), InvoiceDate: d2, PurchaseRef: " PO-7 "})
	s.Require().NoError(err)
	s.Require().Equal(int64(10), lot.RemainingQuantity)
	s.Require().Equal(int64(10), lot.OriginalQuantity)
	s.Require().Equal("PO-7", lot.PurchaseRef)

	got := s.store.Product(p.ID)
	s.Require().True(got.Cost.Equal(dec("5.5")), got.Cost.String())
	s.Require().Equal(int64(20), got.StockQuantity)
	s.Require().Equal(int64(14), got.InvoiceableQuantity)

	lots, err := s.store.ListOpenLots(s.ctx, p.ID)
	s.Require().NoError(err)
	s.Require().Len(lots, 1)
}

func (s *CostingSuite) TestRecordPurchase_EmptyStockTakesNewCost() {
	p := s.store.PutProduct(models.Product{Cost: dec("5")})

	_, err := s.svc.RecordPurchase(s.ctx, PurchaseInput{ProductID: p.ID, Quantity: 3, UnitCost: dec("7.25")})
	s.Require().NoError(err)
	s.Require().True(s.store.Product(p.ID).Cost.Equal(dec("7.25")))
}

func (s *CostingSuite) TestRecordPurchase_Validation() {
	p := s.store.PutProduct(models.Product{})

	_, err := s.svc.RecordPurchase(s.ctx, PurchaseInput{ProductID: p.ID, Quantity: 0, UnitCost: dec("1")})
	s.Require().True(errors.Is(err, models.ErrInvalidQuantity))

	_, err = s.svc.RecordPurchase(s.ctx, PurchaseInput{ProductID: p.ID, Quantity: 1, UnitCost: dec("-1")})
	s.Require().True(errors.Is(err, models.ErrInvalidUnitCost))

	_, err = s.svc.RecordPurchase(s.ctx, PurchaseInput{ProductID: p.ID + 100, Quantity: 1, UnitCost: dec("1")})
	s.Require().True(errors.Is(err, models.ErrProductNotFound))
}

func TestCostingSuite(t *testing.T) {
	suite.Run(t, new(CostingSuite))
}
