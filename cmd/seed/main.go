package main

import (
	"context"
	"log"
	"time"

	"github.com/ariefcatur/go-shop-orders/internal/backend"
	"github.com/ariefcatur/go-shop-orders/internal/config"
	"github.com/ariefcatur/go-shop-orders/internal/logging"
	"github.com/ariefcatur/go-shop-orders/internal/orders"
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

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	store, closeStore, err := backend.Open(ctx, cfg, logger)
	if err != nil {
		logger.Fatal("open store", zap.Error(err))
	}
	defer closeStore()

	svc := &orders.Service{
		Store:           store,
		Logger:          logger,
		DeadlockRetries: cfg.Orders.DeadlockRetries,
	}
	res, err := seed.Run(ctx, store, svc, cfg.Seed.UserID, logger)
	if err != nil {
		logger.Fatal("seed failed", zap.Error(err))
	}
	logger.Info("seed complete",
		zap.Int("products", len(res.Products)),
		zap.Int64("order_id", res.Order.OrderID),
		zap.String("total", res.Order.Total.StringFixed(2)))
}
