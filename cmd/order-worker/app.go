package main

import (
	"context"
	"log/slog"
	"time"

	"github.com/BearBump/OrderDesk/config"
	"github.com/BearBump/OrderDesk/internal/app"
	"github.com/BearBump/OrderDesk/internal/broker/events"
	"github.com/BearBump/OrderDesk/internal/broker/kafka"
	"github.com/BearBump/OrderDesk/internal/cache/rediscache"
	"github.com/BearBump/OrderDesk/internal/integrations/carrier"
	"github.com/BearBump/OrderDesk/internal/metrics"
	"github.com/BearBump/OrderDesk/internal/notify"
	"github.com/BearBump/OrderDesk/internal/ports/ordertx"
	"github.com/BearBump/OrderDesk/internal/services/reconcile"
	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/errgroup"
)

type workerFactories struct {
	newStorage     func(cfg *config.Config) (store ordertx.Store, closeFn func(), err error)
	newProducer    func(cfg *config.Config) events.Producer
	newRateLimiter func(cfg *config.Config) *rediscache.RateLimiter
	newCarriers    func(cfg *config.Config, rl *rediscache.RateLimiter) carrier.Registry
	newNotifier    func(cfg *config.Config) notify.Notifier
	registerer     prometheus.Registerer
}

func defaultWorkerFactories() workerFactories {
	return workerFactories{
		newStorage: func(cfg *config.Config) (ordertx.Store, func(), error) {
			st, err := app.OpenPostgresWithRetry(cfg.PostgresDSN(), 60*time.Second)
			if err != nil {
				return nil, nil, err
			}
			return st, st.Close, nil
		},
		newProducer: func(cfg *config.Config) events.Producer {
			return kafka.NewProducer(cfg.KafkaBrokers())
		},
		newRateLimiter: func(cfg *config.Config) *rediscache.RateLimiter {
			addr := cfg.RedisAddr()
			if addr == "" {
				return nil
			}
			return rediscache.NewRateLimiter(addr)
		},
		newCarriers: app.Carriers,
		newNotifier: app.Notifier,
	}
}

type workerOpts struct {
	httpAddr    string
	swaggerPath string
	onListen    func(httpAddr string)
}

func RunOrderWorker(ctx context.Context, cfg *config.Config, f workerFactories, opts workerOpts) error {
	store, closeFn, err := f.newStorage(cfg)
	if err != nil {
		return err
	}
	if closeFn != nil {
		defer closeFn()
	}

	rl := f.newRateLimiter(cfg)
	if rl != nil {
		defer func() { _ = rl.Close() }()
	}

	m := metrics.New(f.registerer)
	producer := f.newProducer(cfg)
	if c, ok := producer.(interface{ Close() error }); ok {
		defer func() { _ = c.Close() }()
	}
	pub := events.NewPublisher(producer, cfg.DeliveryChangedTopic(), m)

	engine := app.ConfigureEngine(
		reconcile.New(store, f.newCarriers(cfg, rl), pub, f.newNotifier(cfg), m),
		cfg.OrderDesk,
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		slog.Info("reconcile loop started", "settings", engine.Settings())
		return engine.Run(gctx)
	})
	if opts.httpAddr != "" {
		g.Go(func() error {
			return runWorkerHTTPServer(gctx, workerHTTPOpts{
				httpAddr:    opts.httpAddr,
				swaggerPath: opts.swaggerPath,
				onListen:    opts.onListen,
				engine:      engine,
				store:       store,
				gatherer:    gathererFor(f.registerer),
			})
		})
	}
	return g.Wait()
}

func gathererFor(reg prometheus.Registerer) prometheus.Gatherer {
	if g, ok := reg.(prometheus.Gatherer); ok {
		return g
	}
	return prometheus.DefaultGatherer
}
