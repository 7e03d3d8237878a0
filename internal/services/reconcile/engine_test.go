package reconcile

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/BearBump/OrderDesk/internal/broker/events"
	"github.com/BearBump/OrderDesk/internal/broker/messages"
	"github.com/BearBump/OrderDesk/internal/integrations/carrier"
	"github.com/BearBump/OrderDesk/internal/integrations/carrier/aramex"
	"github.com/BearBump/OrderDesk/internal/models"
	"github.com/BearBump/OrderDesk/internal/testutil/memstore"
	pkgerrors "github.com/pkg/errors"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
)

type clientMock struct {
	mock.Mock
}

func (m *clientMock) FetchTracking(ctx context.Context, trackingNumber string) *carrier.DeliveryInfo {
	args := m.Called(ctx, trackingNumber)
	info, _ := args.Get(0).(*carrier.DeliveryInfo)
	return info
}

type notifierMock struct {
	mock.Mock
}

func (m *notifierMock) Send(ctx context.Context, phone, text string) error {
	return m.Called(ctx, phone, text).Error(0)
}

type producerMock struct {
	mock.Mock
}

func (m *producerMock) Publish(ctx context.Context, topic string, key, value []byte) error {
	return m.Called(ctx, topic, key, value).Error(0)
}

type EngineSuite struct {
	suite.Suite
	ctx      context.Context
	store    *memstore.Store
	aramex   *clientMock
	fd       *clientMock
	notifier *notifierMock
	producer *producerMock
	engine   *Engine
}

func (s *EngineSuite) SetupTest() {
	s.ctx = context.Background()
	s.store = memstore.New()
	s.aramex = &clientMock{}
	s.fd = &clientMock{}
	s.notifier = &notifierMock{}
	s.producer = &producerMock{}

	pub := events.NewPublisher(s.producer, "order.delivery_changed", nil).WithRetry(1, time.Millisecond)
	s.engine = New(s.store, carrier.Registry{
		models.TransporterAramex:        s.aramex,
		models.TransporterFirstDelivery: s.fd,
	}, pub, s.notifier, nil)
}

func (s *EngineSuite) inTransit(t models.Transporter, tracking string) models.Order {
	return s.store.PutOrder(models.Order{
		Reference:      "CMD-" + tracking,
		CustomerPhone:  "+21650000000",
		BusinessStatus: models.OrderOutForDelivery,
		Transporter:    t,
		TrackingNumber: tracking,
		DeliveryStatus: models.DeliveryInTransit,
	})
}

func (s *EngineSuite) TestPollOne_ChargesPaidMeansDelivered() {
	o := s.inTransit(models.TransporterAramex, "51331931571")

	// код SH014 сам по себе не про доставку, решает фраза
	chain := carrier.Chain{carrier.ChargesPaidOverride, aramex.Codes, carrier.Generic{}}
	status := chain.Resolve("SH014", "Shipment charges paid")
	at := time.Date(2025, 3, 4, 10, 15, 0, 0, time.UTC)
	s.aramex.On("FetchTracking", mock.Anything, "51331931571").
		Return(carrier.NewDeliveryInfo(status, "Shipment charges paid - Tunis", &at)).Once()
	s.producer.On("Publish", mock.Anything, "order.delivery_changed", []byte("1"), mock.Anything).Return(nil).Once()
	s.notifier.On("Send", mock.Anything, "+21650000000", mock.MatchedBy(func(text string) bool {
		return len(text) > 0
	})).Return(nil).Once()

	tr, err := s.engine.PollOne(s.ctx, o.ID)
	s.Require().NoError(err)
	s.Require().True(tr.Changed)
	s.Require().Equal(models.DeliveryDelivered, tr.NewStatus)

	got := s.store.Order(o.ID)
	s.Require().Equal(models.DeliveryDelivered, got.DeliveryStatus)
	s.Require().Equal(models.OrderDelivered, got.BusinessStatus)
	s.Require().Equal("Shipment charges paid - Tunis", got.DeliveryNote)
	s.Require().NotNil(got.DeliveryDate)
	s.Require().True(got.DeliveryDate.Equal(at))
	s.Require().NotNil(got.LastTrackingCheck)

	evs := s.store.Events(o.ID)
	s.Require().Len(evs, 1)
	s.Require().Equal(models.DirectionOutbound, evs[0].Direction)
	s.Require().Equal(string(models.DeliveryInTransit), evs[0].OldStatus)
	s.Require().Equal(string(models.DeliveryDelivered), evs[0].NewStatus)
	s.Require().Equal(models.TransporterAramex, evs[0].Carrier)

	msg, err := messages.DecodeDeliveryChanged(s.producer.Calls[0].Arguments.Get(3).([]byte))
	s.Require().NoError(err)
	s.Require().Equal("DELIVERED", msg.NewStatus)
	s.Require().Equal("delivered", msg.BusinessStatus)

	s.aramex.AssertExpectations(s.T())
	s.producer.AssertExpectations(s.T())
	s.notifier.AssertExpectations(s.T())

	// доставленный заказ больше не опрашивается
	_, err = s.engine.PollOne(s.ctx, o.ID)
	s.Require().True(pkgerrors.Is(err, models.ErrOrderNotPollable))
}

func (s *EngineSuite) TestPollOne_UnchangedIsIdempotent() {
	o := s.inTransit(models.TransporterFirstDelivery, "FD1")
	s.fd.On("FetchTracking", mock.Anything, "FD1").
		Return(carrier.NewDeliveryInfo(models.DeliveryAtDepot, "Au magasin", nil))
	s.producer.On("Publish", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(nil)

	tr, err := s.engine.PollOne(s.ctx, o.ID)
	s.Require().NoError(err)
	s.Require().True(tr.Changed)
	s.Require().Equal(models.OrderHeldAtDepot, s.store.Order(o.ID).BusinessStatus)
	first := *s.store.Order(o.ID).LastTrackingCheck

	s.engine.now = func() time.Time { return first.Add(time.Minute) }
	tr, err = s.engine.PollOne(s.ctx, o.ID)
	s.Require().NoError(err)
	s.Require().False(tr.Changed)

	got := s.store.Order(o.ID)
	s.Require().Equal(models.DeliveryAtDepot, got.DeliveryStatus)
	s.Require().Len(s.store.Events(o.ID), 1)
	s.Require().True(got.LastTrackingCheck.Equal(first.Add(time.Minute)))
	s.producer.AssertNumberOfCalls(s.T(), "Publish", 1)
	s.notifier.AssertNotCalled(s.T(), "Send", mock.Anything, mock.Anything, mock.Anything)
}

func (s *EngineSuite) TestPollOne_NoUpdateLeavesOrderAlone() {
	o := s.inTransit(models.TransporterAramex, "A1")
	s.aramex.On("FetchTracking", mock.Anything, "A1").Return(nil)

	tr, err := s.engine.PollOne(s.ctx, o.ID)
	s.Require().NoError(err)
	s.Require().True(tr.NoUpdate)
	s.Require().False(tr.Changed)

	got := s.store.Order(o.ID)
	s.Require().Equal(models.DeliveryInTransit, got.DeliveryStatus)
	s.Require().Nil(got.LastTrackingCheck)
	s.Require().Empty(s.store.Events(o.ID))
	s.Require().Zero(s.store.Commits)
}

func (s *EngineSuite) TestPollOne_ReturnedToShipper() {
	o := s.inTransit(models.TransporterAramex, "A2")
	s.aramex.On("FetchTracking", mock.Anything, "A2").Return(carrier.NewDeliveryInfo(models.DeliveryReturned, "Returned to shipper", nil))
	s.producer.On("Publish", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(nil)

	_, err := s.engine.PollOne(s.ctx, o.ID)
	s.Require().NoError(err)

	got := s.store.Order(o.ID)
	s.Require().Equal(models.OrderReturned, got.BusinessStatus)
	s.Require().Nil(got.DeliveryDate)
	evs := s.store.Events(o.ID)
	s.Require().Len(evs, 1)
	s.Require().Equal(models.DirectionReturn, evs[0].Direction)
}

func (s *EngineSuite) TestPollOne_SideEffectFailuresDoNotFail() {
	o := s.inTransit(models.TransporterAramex, "A3")
	s.aramex.On("FetchTracking", mock.Anything, "A3").Return(carrier.NewDeliveryInfo(models.DeliveryDelivered, "Delivered", nil))
	s.producer.On("Publish", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(errors.New("kafka down"))
	s.notifier.On("Send", mock.Anything, mock.Anything, mock.Anything).Return(errors.New("sms down"))

	tr, err := s.engine.PollOne(s.ctx, o.ID)
	s.Require().NoError(err)
	s.Require().True(tr.Changed)
	s.Require().Equal(models.OrderDelivered, s.store.Order(o.ID).BusinessStatus)
}

func (s *EngineSuite) TestPollOne_StoreFailureRollsBack() {
	o := s.inTransit(models.TransporterAramex, "A4")
	s.aramex.On("FetchTracking", mock.Anything, "A4").Return(carrier.NewDeliveryInfo(models.DeliveryDelivered, "Delivered", nil))
	s.store.FailOn = "InsertDeliveryEvent"

	_, err := s.engine.PollOne(s.ctx, o.ID)
	s.Require().Error(err)

	got := s.store.Order(o.ID)
	s.Require().Equal(models.DeliveryInTransit, got.DeliveryStatus)
	s.Require().Equal(models.OrderOutForDelivery, got.BusinessStatus)
	s.producer.AssertNotCalled(s.T(), "Publish", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func (s *EngineSuite) TestPollOne_NotPollable() {
	own := s.store.PutOrder(models.Order{Transporter: models.TransporterOurCompany, BusinessStatus: models.OrderOutForDelivery})
	_, err := s.engine.PollOne(s.ctx, own.ID)
	s.Require().True(pkgerrors.Is(err, models.ErrOrderNotPollable))
	s.Require().True(pkgerrors.Is(err, models.ErrConflict))

	_, err = s.engine.PollOne(s.ctx, 9999)
	s.Require().True(pkgerrors.Is(err, models.ErrOrderNotFound))
}

func (s *EngineSuite) TestPollOne_UnregisteredCarrier() {
	engine := New(s.store, carrier.Registry{models.TransporterAramex: s.aramex}, nil, nil, nil)
	o := s.inTransit(models.TransporterFirstDelivery, "FD-NOCFG")

	_, err := engine.PollOne(s.ctx, o.ID)
	s.Require().True(pkgerrors.Is(err, models.ErrUnknownTransporter))

	got := s.store.Order(o.ID)
	s.Require().Equal(models.DeliveryInTransit, got.DeliveryStatus)
	s.Require().Empty(s.store.Events(o.ID))
	s.fd.AssertNotCalled(s.T(), "FetchTracking", mock.Anything, mock.Anything)
}

func (s *EngineSuite) TestSweepInTransit_IsolatesFailures() {
	a := s.inTransit(models.TransporterAramex, "S1")
	f := s.inTransit(models.TransporterFirstDelivery, "S2")
	quiet := s.inTransit(models.TransporterAramex, "S3")
	s.store.PutOrder(models.Order{Transporter: models.TransporterOurCompany, BusinessStatus: models.OrderOutForDelivery})

	s.aramex.On("FetchTracking", mock.Anything, "S1").Return(carrier.NewDeliveryInfo(models.DeliveryOutForDelivery, "Out for delivery", nil))
	s.aramex.On("FetchTracking", mock.Anything, "S3").Return(nil)
	s.producer.On("Publish", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(nil)

	// у FIRST_DELIVERY нет адаптера: этот заказ падает, остальные проходят
	s.engine.carriers = carrier.Registry{models.TransporterAramex: s.aramex}

	rep, err := s.engine.SweepInTransit(s.ctx)
	s.Require().NoError(err)
	s.Require().Equal(3, rep.Checked)
	s.Require().Equal(1, rep.Changed)
	s.Require().Equal(1, rep.NoUpdate)
	s.Require().Equal(1, rep.Failed)
	s.Require().Contains(rep.Errors, f.ID)

	s.Require().Equal(models.DeliveryOutForDelivery, s.store.Order(a.ID).DeliveryStatus)
	s.Require().Equal(models.DeliveryInTransit, s.store.Order(quiet.ID).DeliveryStatus)
	s.Require().Equal(int64(1), s.engine.Stats().TotalErrors)
}

func (s *EngineSuite) TestSweepDue_SkipsRecentlyChecked() {
	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	s.engine.now = func() time.Time { return now }
	s.engine.WithPlanner(PlannerConfig{InTransitDelay: time.Hour})

	recent := now.Add(-10 * time.Minute)
	o := s.inTransit(models.TransporterAramex, "D1")
	o.LastTrackingCheck = &recent
	s.store.PutOrder(o)
	due := s.inTransit(models.TransporterAramex, "D2")
	s.aramex.On("FetchTracking", mock.Anything, "D2").Return(nil).Once()

	rep, err := s.engine.sweepDue(s.ctx)
	s.Require().NoError(err)
	s.Require().Equal(1, rep.Checked)
	s.Require().Equal(1, rep.NoUpdate)
	s.Require().NotZero(due.ID)
	s.aramex.AssertExpectations(s.T())
}

func (s *EngineSuite) TestStartDelivery_OurCompany() {
	o := s.store.PutOrder(models.Order{BusinessStatus: models.OrderPreparing})
	s.producer.On("Publish", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(nil)

	got, err := s.engine.StartDelivery(s.ctx, StartDeliveryInput{OrderID: o.ID, Transporter: models.TransporterOurCompany, Note: " driver Sami "})
	s.Require().NoError(err)
	s.Require().Equal(models.DeliveryOutForDelivery, got.DeliveryStatus)
	s.Require().Equal(models.OrderOutForDelivery, got.BusinessStatus)
	s.Require().Equal("driver Sami", got.DeliveryNote)

	evs := s.store.Events(o.ID)
	s.Require().Len(evs, 1)
	s.Require().Equal(string(models.DeliveryPending), evs[0].OldStatus)
	s.Require().Equal(string(models.DeliveryOutForDelivery), evs[0].NewStatus)
	s.aramex.AssertNotCalled(s.T(), "FetchTracking", mock.Anything, mock.Anything)
}

func (s *EngineSuite) TestStartDelivery_ExternalPollsImmediately() {
	o := s.store.PutOrder(models.Order{BusinessStatus: models.OrderPreparing})
	s.aramex.On("FetchTracking", mock.Anything, "AWB9").Return(carrier.NewDeliveryInfo(models.DeliveryPickedUp, "Picked up", nil)).Once()
	s.producer.On("Publish", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(nil)

	got, err := s.engine.StartDelivery(s.ctx, StartDeliveryInput{OrderID: o.ID, Transporter: models.TransporterAramex, TrackingNumber: " AWB9 "})
	s.Require().NoError(err)
	s.Require().Equal("AWB9", got.TrackingNumber)
	s.Require().Equal(models.DeliveryPickedUp, got.DeliveryStatus)
	s.Require().Equal(models.OrderOutForDelivery, got.BusinessStatus)

	// PENDING -> PENDING не событие, PENDING -> PICKED_UP событие
	s.Require().Len(s.store.Events(o.ID), 1)
	s.aramex.AssertExpectations(s.T())
}

func (s *EngineSuite) TestStartDelivery_Rejections() {
	o := s.store.PutOrder(models.Order{BusinessStatus: models.OrderPreparing})

	_, err := s.engine.StartDelivery(s.ctx, StartDeliveryInput{OrderID: o.ID, Transporter: models.TransporterFirstDelivery})
	s.Require().True(pkgerrors.Is(err, models.ErrTrackingRequired))

	_, err = s.engine.StartDelivery(s.ctx, StartDeliveryInput{OrderID: o.ID, Transporter: "DHL", TrackingNumber: "X"})
	s.Require().True(pkgerrors.Is(err, models.ErrUnknownTransporter))

	done := s.store.PutOrder(models.Order{BusinessStatus: models.OrderDelivered})
	_, err = s.engine.StartDelivery(s.ctx, StartDeliveryInput{OrderID: done.ID, Transporter: models.TransporterOurCompany})
	s.Require().True(pkgerrors.Is(err, models.ErrOrderTerminal))

	s.Require().Empty(s.store.Events(o.ID))
}

func TestEngineSuite(t *testing.T) {
	suite.Run(t, new(EngineSuite))
}

type blockingClient struct {
	calls   atomic.Int64
	release chan struct{}
}

func (c *blockingClient) FetchTracking(ctx context.Context, trackingNumber string) *carrier.DeliveryInfo {
	c.calls.Add(1)
	<-c.release
	return nil
}

func TestPollOne_ConcurrentCallsShareOneRequest(t *testing.T) {
	store := memstore.New()
	o := store.PutOrder(models.Order{
		BusinessStatus: models.OrderOutForDelivery,
		Transporter:    models.TransporterFirstDelivery,
		TrackingNumber: "FD-X",
	})
	bc := &blockingClient{release: make(chan struct{})}
	e := New(store, carrier.Registry{models.TransporterFirstDelivery: bc}, nil, nil, nil)

	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			tr, err := e.PollOne(context.Background(), o.ID)
			require.NoError(t, err)
			require.True(t, tr.NoUpdate)
		}()
	}

	require.Eventually(t, func() bool { return bc.calls.Load() == 1 }, time.Second, 5*time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	close(bc.release)
	wg.Wait()
	require.Equal(t, int64(1), bc.calls.Load())
}

// ctxClient answers only while its request context is alive.
type ctxClient struct {
	calls   atomic.Int64
	release chan struct{}
}

func (c *ctxClient) FetchTracking(ctx context.Context, trackingNumber string) *carrier.DeliveryInfo {
	c.calls.Add(1)
	<-c.release
	if ctx.Err() != nil {
		return nil
	}
	return carrier.NewDeliveryInfo(models.DeliveryOutForDelivery, "Out for delivery", nil)
}

func TestPollOne_CancelledCallerDoesNotSpoilSharedPoll(t *testing.T) {
	store := memstore.New()
	o := store.PutOrder(models.Order{
		BusinessStatus: models.OrderOutForDelivery,
		Transporter:    models.TransporterAramex,
		TrackingNumber: "AX-SHARED",
		DeliveryStatus: models.DeliveryInTransit,
	})
	cc := &ctxClient{release: make(chan struct{})}
	e := New(store, carrier.Registry{models.TransporterAramex: cc}, nil, nil, nil)

	reqCtx, cancel := context.WithCancel(context.Background())
	firstDone := make(chan struct{})
	go func() {
		defer close(firstDone)
		_, _ = e.PollOne(reqCtx, o.ID)
	}()
	require.Eventually(t, func() bool { return cc.calls.Load() == 1 }, time.Second, 5*time.Millisecond)

	joined := make(chan *Transition, 1)
	go func() {
		tr, err := e.PollOne(context.Background(), o.ID)
		require.NoError(t, err)
		joined <- tr
	}()
	time.Sleep(20 * time.Millisecond)

	cancel()
	close(cc.release)

	tr := <-joined
	<-firstDone
	require.True(t, tr.Changed)
	require.Equal(t, models.DeliveryOutForDelivery, tr.NewStatus)
	require.Equal(t, int64(1), cc.calls.Load())
	require.Equal(t, models.DeliveryOutForDelivery, store.Order(o.ID).DeliveryStatus)
}

func TestRun_TriggerSweeps(t *testing.T) {
	store := memstore.New()
	e := New(store, carrier.Registry{}, nil, nil, nil).WithSettings(time.Hour, 10, 2)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- e.Run(ctx) }()

	e.Trigger()
	require.Eventually(t, func() bool { return e.Stats().TotalSweeps >= 1 }, time.Second, 5*time.Millisecond)
	require.NotNil(t, e.Stats().LastTriggerAt)

	cancel()
	require.ErrorIs(t, <-done, context.Canceled)
}

func TestBusinessStatusFor(t *testing.T) {
	cases := []struct {
		ds   models.DeliveryStatus
		cur  models.BusinessStatus
		want models.BusinessStatus
	}{
		{models.DeliveryDelivered, models.OrderOutForDelivery, models.OrderDelivered},
		{models.DeliveryOutForDelivery, models.OrderHeldAtDepot, models.OrderOutForDelivery},
		{models.DeliveryAtDepot, models.OrderOutForDelivery, models.OrderHeldAtDepot},
		{models.DeliveryReturned, models.OrderOutForDelivery, models.OrderReturned},
		{models.DeliveryInTransit, models.OrderPreparing, models.OrderOutForDelivery},
		{models.DeliveryFailed, models.OrderHeldAtDepot, models.OrderOutForDelivery},
		{models.DeliveryInTransit, models.OrderCancelled, models.OrderCancelled},
	}
	for _, c := range cases {
		require.Equal(t, c.want, BusinessStatusFor(c.ds, c.cur), "%s from %s", c.ds, c.cur)
	}
}
