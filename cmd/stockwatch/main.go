package main

import (
	"context"
	"log"
	"os/signal"
	"syscall"

	"github.com/ariefcatur/go-shop-orders/internal/backend"
	"github.com/ariefcatur/go-shop-orders/internal/config"
	kafkax "github.com/ariefcatur/go-shop-orders/internal/kafka"
	"github.com/ariefcatur/go-shop-orders/internal/logging"
	"github.com/ariefcatur/go-shop-orders/internal/orders"
	"github.com/ariefcatur/go-shop-orders/internal/redisx"
	"github.com/ariefcatur/go-shop-orders/internal/stockwatch"
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
	service := cfg.ServiceName + "-stockwatch"
	logger = logger.With(zap.String("service", service))

	if cfg.Storage != config.StoragePostgres {
		logger.Fatal("stockwatch reads stock from postgres; set STORAGE=postgres")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// DB
	store, closeStore, err := backend.Open(ctx, cfg, logger)
	if err != nil {
		logger.Fatal("open store", zap.Error(err))
	}
	defer closeStore()

	// Redis
	rdb := redisx.New(cfg.Redis.Addr)
	defer rdb.Close()
	if err := redisx.Ping(ctx, rdb); err != nil {
		logger.Fatal("redis", zap.Error(err))
	}

	// Producer
	prod := kafkax.NewProducer(cfg.Kafka.Brokers, orders.TopicProductOutOfStock, cfg.Kafka.Buffer, logger)
	prod.Start()

	svc := &stockwatch.Service{
		Products: store,
		Dedup:    &redisx.Dedup{RDB: rdb, Service: service},
		Notify:   &kafkax.OutOfStockPublisher{Sink: prod, Service: service},
		Log:      logger,
	}

	// Consumer
	cons := kafkax.NewConsumer(cfg.Kafka.Brokers, cfg.Stockwatch.Group, orders.TopicOrderCreated, cfg.Stockwatch.Workers, logger)
	logger.Info("stockwatch consumer started",
		zap.String("group", cfg.Stockwatch.Group),
		zap.String("topic", orders.TopicOrderCreated),
		zap.Int("workers", cfg.Stockwatch.Workers))

	if err := cons.Start(ctx, svc.HandleOrderCreated); err != nil {
		logger.Error("consumer exit", zap.Error(err))
	}
	logger.Info("shutting down")
	prod.Close()
	prod.WaitClosed()
}
