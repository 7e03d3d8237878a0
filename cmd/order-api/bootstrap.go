package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/BearBump/OrderDesk/config"
	"github.com/BearBump/OrderDesk/internal/api/httpapi"
	"github.com/BearBump/OrderDesk/internal/app"
	"github.com/BearBump/OrderDesk/internal/broker/events"
	"github.com/BearBump/OrderDesk/internal/broker/kafka"
	"github.com/BearBump/OrderDesk/internal/cache"
	"github.com/BearBump/OrderDesk/internal/cache/rediscache"
	"github.com/BearBump/OrderDesk/internal/metrics"
	"github.com/BearBump/OrderDesk/internal/services/costing"
	"github.com/BearBump/OrderDesk/internal/services/orders"
	"github.com/BearBump/OrderDesk/internal/services/reconcile"
	"github.com/BearBump/OrderDesk/internal/services/returns"
)

type orderAPIApp struct {
	ctx      context.Context
	cancel   context.CancelFunc
	opts     orderAPIOpts
	deps     httpapi.Deps
	consumer *kafka.Consumer
	closers  []func()
}

func mustBootstrapOrderAPI() *orderAPIApp {
	cfgPath := os.Getenv("configPath")
	if cfgPath == "" {
		panic("configPath env var is required")
	}
	swaggerPath := os.Getenv("swaggerPath")
	if swaggerPath == "" {
		panic("swaggerPath env var is required")
	}

	cfg, err := config.LoadConfig(cfgPath)
	if err != nil {
		panic(fmt.Sprintf("ошибка парсинга конфига, %v", err))
	}
	slog.SetDefault(app.NewLogger(cfg.OrderDesk.LogFormat))

	httpAddr := cfg.OrderDesk.HTTPAddr
	if httpAddr == "" {
		httpAddr = ":8080"
	}
	consumerGroup := cfg.OrderDesk.KafkaConsumerGroup
	if consumerGroup == "" {
		consumerGroup = "order-api"
	}
	topic := cfg.DeliveryChangedTopic()

	pricing, err := app.CostingSettings(cfg.Pricing)
	if err != nil {
		panic(fmt.Sprintf("ошибка настроек цен, %v", err))
	}

	st, err := app.OpenPostgresWithRetry(cfg.PostgresDSN(), 60*time.Second)
	if err != nil {
		panic(err)
	}
	a := &orderAPIApp{closers: []func(){st.Close}}

	var (
		rc *rediscache.RedisCache
		rl *rediscache.RateLimiter
	)
	if addr := cfg.RedisAddr(); addr != "" {
		rc = rediscache.New(addr)
		rl = rediscache.NewRateLimiter(addr)
		a.closers = append(a.closers, func() { _ = rc.Close() }, func() { _ = rl.Close() })
	} else {
		slog.Warn("redis is not configured, order cache disabled")
	}

	m := metrics.New(nil)
	producer := kafka.NewProducer(cfg.KafkaBrokers())
	a.closers = append(a.closers, func() { _ = producer.Close() })
	pub := events.NewPublisher(producer, topic, m)

	engine := app.ConfigureEngine(
		reconcile.New(st, app.Carriers(cfg, rl), pub, app.Notifier(cfg), m),
		cfg.OrderDesk,
	)

	// Без Redis nil-кэш выключает кэширование.
	var c cache.BytesCache
	if rc != nil {
		c = rc
	}

	a.deps = httpapi.Deps{
		Engine:  engine,
		Returns: returns.New(st, pub, m),
		Costing: costing.New(st, pricing, m),
		Orders:  orders.New(st, c, cfg.OrderDesk.OrderCacheTTL()),
	}
	a.consumer = kafka.NewConsumer(cfg.KafkaBrokers(), topic, consumerGroup)

	a.ctx, a.cancel = signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	a.opts = orderAPIOpts{
		httpAddr:      httpAddr,
		swaggerPath:   swaggerPath,
		topic:         topic,
		consumerGroup: consumerGroup,
	}
	return a
}

func (a *orderAPIApp) Close() {
	if a.cancel != nil {
		a.cancel()
	}
	if a.consumer != nil {
		_ = a.consumer.Close()
	}
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
}

func (a *orderAPIApp) Run() error {
	return runOrderAPI(a.ctx, a.opts, a.deps, a.consumer)
}
