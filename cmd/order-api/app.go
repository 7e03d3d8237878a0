package main

import (
	"context"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/BearBump/OrderDesk/internal/api/httpapi"
	"github.com/BearBump/OrderDesk/internal/broker/kafka"
	"github.com/BearBump/OrderDesk/internal/services/orders"
)

type orderAPIOpts struct {
	httpAddr    string
	swaggerPath string

	topic         string
	consumerGroup string

	onListen func(httpAddr string)
}

type kafkaConsumer interface {
	ConsumeDeliveryChanged(ctx context.Context, handle kafka.DeliveryChangedHandler) error
}

func runOrderAPI(ctx context.Context, opts orderAPIOpts, deps httpapi.Deps, consumer kafkaConsumer) error {
	if err := httpapi.SwaggerAvailable(opts.swaggerPath); err != nil {
		return err
	}
	deps.SwaggerPath = opts.swaggerPath

	lis, err := net.Listen("tcp", opts.httpAddr)
	if err != nil {
		return err
	}
	if opts.onListen != nil {
		opts.onListen(lis.Addr().String())
	}

	httpErr := make(chan error, 1)
	go func() {
		httpErr <- runHTTPServer(ctx, lis, httpapi.New(deps).Routes())
	}()

	if consumer != nil {
		go consumeDeliveryChanged(ctx, opts, deps.Orders, consumer)
	}

	select {
	case <-ctx.Done():
		return ctx.Err()
	case err := <-httpErr:
		return err
	}
}

func consumeDeliveryChanged(ctx context.Context, opts orderAPIOpts, svc *orders.Service, consumer kafkaConsumer) {
	slog.Info("kafka consumer started", "topic", opts.topic, "group", opts.consumerGroup)
	err := consumer.ConsumeDeliveryChanged(ctx, svc.ApplyDeliveryChanged)
	if err != nil && ctx.Err() == nil {
		slog.Error("kafka consumer stopped", "error", err.Error())
	}
}

func runHTTPServer(ctx context.Context, lis net.Listener, h http.Handler) error {
	srv := &http.Server{
		Handler:           h,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	slog.Info("HTTP server listening", "addr", lis.Addr().String())
	return srv.Serve(lis)
}
