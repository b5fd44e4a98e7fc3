package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/ariefcatur/go-shop-orders/internal/backend"
	"github.com/ariefcatur/go-shop-orders/internal/config"
	"github.com/ariefcatur/go-shop-orders/internal/httpx"
	kafkax "github.com/ariefcatur/go-shop-orders/internal/kafka"
	"github.com/ariefcatur/go-shop-orders/internal/logging"
	"github.com/ariefcatur/go-shop-orders/internal/orders"
	"github.com/ariefcatur/go-shop-orders/internal/redisx"
	"github.com/ariefcatur/go-shop-orders/internal/seed"
	"github.com/joho/godotenv"
	"go.uber.org/zap"
)

func main() {
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	logger, err := logging.New(cfg.LogLevel)
	if err != nil {
		log.Fatalf("logger: %v", err)
	}
	defer func() { _ = logger.Sync() }()
	logger = logger.With(zap.String("service", cfg.ServiceName))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Store
	store, closeStore, err := backend.Open(ctx, cfg, logger)
	if err != nil {
		logger.Fatal("open store", zap.Error(err))
	}
	defer closeStore()
	if cfg.Storage == config.StorageMemory {
		if _, err := seed.Products(ctx, store); err != nil {
			logger.Fatal("seed memory catalog", zap.Error(err))
		}
	}

	svc := &orders.Service{
		Store:           store,
		Logger:          logger,
		DeadlockRetries: cfg.Orders.DeadlockRetries,
	}

	// Redis
	var idem httpx.Idempotency
	if cfg.NeedsRedis() {
		rdb := redisx.New(cfg.Redis.Addr)
		defer rdb.Close()
		if err := redisx.Ping(ctx, rdb); err != nil {
			logger.Fatal("redis", zap.Error(err))
		}
		if cfg.Features.OrderCache {
			svc.Cache = &redisx.OrderCache{RDB: rdb, TTL: cfg.Redis.CacheTTL}
		}
		if cfg.Features.Idempotency {
			idem = &redisx.Idempotency{RDB: rdb}
		}
	}

	// Kafka producer
	var prod *kafkax.Producer
	if cfg.Features.OrderEvents {
		prod = kafkax.NewProducer(cfg.Kafka.Brokers, orders.TopicOrderCreated, cfg.Kafka.Buffer, logger)
		prod.Start()
		svc.Events = &kafkax.OrderPublisher{Sink: prod, Service: cfg.ServiceName}
	}

	router := httpx.NewRouter(cfg.ServiceName, logger)
	oh := &httpx.OrdersHandler{
		Orders:  svc,
		Idem:    idem,
		Log:     logger,
		Timeout: cfg.Orders.RequestTimeout,
	}
	oh.Register(router)

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		logger.Info("http listening",
			zap.String("addr", cfg.HTTPAddr),
			zap.String("storage", cfg.Storage),
			zap.Bool("order_cache", svc.Cache != nil),
			zap.Bool("order_events", prod != nil),
			zap.Bool("idempotency", idem != nil))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("listen", zap.Error(err))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http shutdown", zap.Error(err))
	}
	if prod != nil {
		prod.Close()
		prod.WaitClosed()
	}
}
