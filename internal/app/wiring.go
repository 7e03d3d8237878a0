// Package app holds the wiring shared by order-api and order-worker.
package app

import (
	"fmt"
	"log/slog"
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
	"github.com/BearBump/OrderDesk/internal/services/costing"
	"github.com/BearBump/OrderDesk/internal/services/reconcile"
	"github.com/BearBump/OrderDesk/internal/storage/pgstore"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
)

// OpenPostgresWithRetry waits for the database to accept connections.
func OpenPostgresWithRetry(connString string, wait time.Duration) (*pgstore.Storage, error) {
	deadline := time.Now().Add(wait)
	var lastErr error
	for {
		st, err := pgstore.New(connString)
		if err == nil {
			return st, nil
		}
		lastErr = err
		if time.Now().After(deadline) {
			break
		}
		time.Sleep(1 * time.Second)
	}
	return nil, fmt.Errorf("postgres is not ready after %s: %w", wait, lastErr)
}

// Carriers builds the adapter registry. A carrier without credentials is
// left out, so polling its orders fails with unknown_transporter, unless
// carriers.fake asks for the offline fake client. rl may be nil: FirstDelivery
// then throttles in-process only.
func Carriers(cfg *config.Config, rl *rediscache.RateLimiter) carrier.Registry {
	reg := carrier.Registry{}

	ax := cfg.Carriers.Aramex
	if ax.Configured() {
		reg[models.TransporterAramex] = aramex.New(aramex.Settings{
			Endpoint: ax.Endpoint,
			Credentials: aramex.Credentials{
				Username:      ax.Username,
				Password:      ax.Password,
				AccountNumber: ax.AccountNumber,
				AccountPIN:    ax.AccountPIN,
				AccountEntity: ax.AccountEntity,
				CountryCode:   ax.CountryCode,
				Version:       ax.Version,
			},
			Timeout: ax.Timeout(),
		})
	} else {
		unconfigured(reg, models.TransporterAramex, cfg.Carriers.Fake)
	}

	fd := cfg.Carriers.FirstDelivery
	if fd.Configured() {
		reg[models.TransporterFirstDelivery] = firstdelivery.New(firstdelivery.Settings{
			BaseURL: fd.BaseURL,
			Token:   fd.Token,
			Timeout: fd.Timeout(),
		}, Throttle(rl, string(models.TransporterFirstDelivery), fd.Rate()))
	} else {
		unconfigured(reg, models.TransporterFirstDelivery, cfg.Carriers.Fake)
	}

	return reg
}

func unconfigured(reg carrier.Registry, t models.Transporter, useFake bool) {
	if useFake {
		slog.Warn("carrier is not configured, using fake client", "carrier", string(t))
		reg[t] = fake.New()
		return
	}
	slog.Warn("carrier is not configured, its orders will not be polled", "carrier", string(t))
}

// Throttle shares the budget through Redis when rl is set, so that every
// process polling the same account stays under the provider limit.
func Throttle(rl *rediscache.RateLimiter, name string, perSecond int) carrier.Throttle {
	if rl == nil {
		return carrier.NewLocalThrottle(perSecond)
	}
	return rediscache.NewThrottle(rl, name, perSecond)
}

func Notifier(cfg *config.Config) notify.Notifier {
	if cfg.SMS.BaseURL == "" {
		return notify.Nop{}
	}
	return sms.New(sms.Settings{
		BaseURL: cfg.SMS.BaseURL,
		Token:   cfg.SMS.Token,
		Sender:  cfg.SMS.Sender,
		Timeout: cfg.SMS.Timeout(),
	})
}

// ConfigureEngine applies the worker section of the config.
func ConfigureEngine(e *reconcile.Engine, o config.OrderDeskConfig) *reconcile.Engine {
	return e.
		WithSettings(
			time.Duration(o.WorkerPollIntervalSeconds)*time.Second,
			o.WorkerBatchSize,
			o.WorkerConcurrency,
		).
		WithPlanner(reconcile.PlannerConfig{
			InTransitDelay: time.Duration(o.WorkerRecheckInTransitSeconds) * time.Second,
			DepotDelay:     time.Duration(o.WorkerRecheckDepotSeconds) * time.Second,
			PendingDelay:   time.Duration(o.WorkerRecheckPendingSeconds) * time.Second,
		})
}

// CostingSettings parses the pricing section. Empty values keep the defaults.
func CostingSettings(p config.PricingConfig) (costing.Settings, error) {
	s := costing.DefaultSettings()
	fields := []struct {
		name string
		raw  string
		dst  *decimal.Decimal
	}{
		{"margin_percent", p.MarginPercent, &s.MarginPercent},
		{"vat_rate_percent", p.VATRatePercent, &s.VATPercent},
		{"delivery_fee_ttc", p.DeliveryFeeTTC, &s.DeliveryFeeTTC},
		{"delivery_tax_percent", p.DeliveryTaxPercent, &s.DeliveryTaxPercent},
	}
	for _, f := range fields {
		if f.raw == "" {
			continue
		}
		v, err := decimal.NewFromString(f.raw)
		if err != nil {
			return costing.Settings{}, errors.Wrapf(err, "pricing.%s", f.name)
		}
		if v.IsNegative() {
			return costing.Settings{}, errors.Errorf("pricing.%s must not be negative", f.name)
		}
		*f.dst = v
	}
	if p.PriceScale > 0 {
		s.Scale = p.PriceScale
	}
	s.StrictInvoiceable = p.StrictInvoiceable
	return s, nil
}
