package app

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/BearBump/OrderDesk/config"
	"github.com/BearBump/OrderDesk/internal/cache/rediscache"
	"github.com/BearBump/OrderDesk/internal/integrations/carrier"
	"github.com/BearBump/OrderDesk/internal/integrations/carrier/aramex"
	"github.com/BearBump/OrderDesk/internal/integrations/carrier/fake"
	"github.com/BearBump/OrderDesk/internal/integrations/carrier/firstdelivery"
	"github.com/BearBump/OrderDesk/internal/models"
	"github.com/BearBump/OrderDesk/internal/notify"
	"github.com/BearBump/OrderDesk/internal/notify/sms"
	"github.com/BearBump/OrderDesk/internal/services/reconcile"
	"github.com/BearBump/OrderDesk/internal/testutil/memstore"
	"github.com/stretchr/testify/require"
)

func TestCarriers_UnconfiguredAreLeftOut(t *testing.T) {
	reg := Carriers(&config.Config{}, nil)

	for _, tr := range []models.Transporter{
		models.TransporterAramex, models.TransporterFirstDelivery, models.TransporterOurCompany,
	} {
		_, ok := reg.For(tr)
		require.False(t, ok, tr)
	}

	// Без токена FirstDelivery не настроен.
	reg = Carriers(&config.Config{Carriers: config.CarriersConfig{
		FirstDelivery: config.FirstDeliveryConfig{BaseURL: "http://fd.local/api"},
	}}, nil)
	_, ok := reg.For(models.TransporterFirstDelivery)
	require.False(t, ok)
}

func TestCarriers_FakeOnlyWhenAsked(t *testing.T) {
	reg := Carriers(&config.Config{Carriers: config.CarriersConfig{Fake: true}}, nil)

	c, ok := reg.For(models.TransporterAramex)
	require.True(t, ok)
	require.IsType(t, &fake.FakeClient{}, c)

	c, ok = reg.For(models.TransporterFirstDelivery)
	require.True(t, ok)
	require.IsType(t, &fake.FakeClient{}, c)

	_, ok = reg.For(models.TransporterOurCompany)
	require.False(t, ok)
}

func TestCarriers_AramexAccountCredentialsAreEnough(t *testing.T) {
	cfg := &config.Config{Carriers: config.CarriersConfig{
		Aramex: config.AramexConfig{AccountNumber: "20016", AccountPIN: "331421", AccountEntity: "TUN", CountryCode: "TN"},
		Fake:   true,
	}}
	reg := Carriers(cfg, nil)

	c, ok := reg.For(models.TransporterAramex)
	require.True(t, ok)
	require.IsType(t, &aramex.Client{}, c)

	// Логин без номера счёта и PIN не считается настройкой.
	reg = Carriers(&config.Config{Carriers: config.CarriersConfig{
		Aramex: config.AramexConfig{Username: "u", Password: "p"},
	}}, nil)
	_, ok = reg.For(models.TransporterAramex)
	require.False(t, ok)
}

func TestCarriers_Configured(t *testing.T) {
	cfg := &config.Config{Carriers: config.CarriersConfig{
		Aramex:        config.AramexConfig{Username: "u", Password: "p", AccountNumber: "1", AccountPIN: "2"},
		FirstDelivery: config.FirstDeliveryConfig{BaseURL: "http://fd.local/api", Token: "t"},
	}}
	reg := Carriers(cfg, nil)

	c, _ := reg.For(models.TransporterAramex)
	require.IsType(t, &aramex.Client{}, c)
	c, _ = reg.For(models.TransporterFirstDelivery)
	require.IsType(t, &firstdelivery.Client{}, c)
}

func TestThrottle(t *testing.T) {
	require.IsType(t, &carrier.LocalThrottle{}, Throttle(nil, "fd", 1))

	rl := rediscache.NewRateLimiter("127.0.0.1:0")
	defer rl.Close()
	require.IsType(t, &rediscache.Throttle{}, Throttle(rl, "fd", 1))
}

func TestNotifier(t *testing.T) {
	require.IsType(t, notify.Nop{}, Notifier(&config.Config{}))
	require.IsType(t, &sms.Client{}, Notifier(&config.Config{SMS: config.SMSConfig{BaseURL: "http://sms.local"}}))
}

func TestCostingSettings(t *testing.T) {
	s, err := CostingSettings(config.PricingConfig{})
	require.NoError(t, err)
	require.Equal(t, "7", s.MarginPercent.String())
	require.Equal(t, "19", s.VATPercent.String())
	require.Equal(t, int32(3), s.Scale)
	require.False(t, s.StrictInvoiceable)

	s, err = CostingSettings(config.PricingConfig{
		MarginPercent:     "12.5",
		DeliveryFeeTTC:    "0",
		PriceScale:        2,
		StrictInvoiceable: true,
	})
	require.NoError(t, err)
	require.Equal(t, "12.5", s.MarginPercent.String())
	require.True(t, s.DeliveryFeeTTC.IsZero())
	require.Equal(t, int32(2), s.Scale)
	require.True(t, s.StrictInvoiceable)

	_, err = CostingSettings(config.PricingConfig{VATRatePercent: "abc"})
	require.ErrorContains(t, err, "pricing.vat_rate_percent")

	_, err = CostingSettings(config.PricingConfig{MarginPercent: "-1"})
	require.ErrorContains(t, err, "must not be negative")
}

func TestConfigureEngine(t *testing.T) {
	e := reconcile.New(memstore.New(), carrier.Registry{}, nil, nil, nil)
	ConfigureEngine(e, config.OrderDeskConfig{
		WorkerPollIntervalSeconds:     60,
		WorkerConcurrency:             8,
		WorkerRecheckInTransitSeconds: 600,
	})

	got := e.Settings()
	require.Equal(t, "1m0s", got.PollInterval)
	require.Equal(t, 500, got.BatchSize)
	require.Equal(t, 8, got.Concurrency)
	require.Equal(t, 10*time.Minute, got.Planner.InTransitDelay)
	require.Equal(t, 2*time.Hour, got.Planner.DepotDelay)
}

func TestNewLogger(t *testing.T) {
	var buf bytes.Buffer
	newLogger(&buf, "json").Info("hello", "k", "v")
	require.True(t, strings.HasPrefix(buf.String(), "{"))

	buf.Reset()
	newLogger(&buf, "text").Info("hello")
	require.Contains(t, buf.String(), "msg=hello")
}
