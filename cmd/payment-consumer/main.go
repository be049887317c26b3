package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/kammounmedaziz/ekrini-app/internal/consumer"
	"github.com/kammounmedaziz/ekrini-app/internal/di"
	"github.com/kammounmedaziz/ekrini-app/internal/metrics"
	"github.com/kammounmedaziz/ekrini-app/pkg/config"
	"github.com/kammounmedaziz/ekrini-app/pkg/logger"
	"github.com/kammounmedaziz/ekrini-app/pkg/telemetry"
	"go.uber.org/zap"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	// Initialize logger
	if err := logger.Init(&logger.Config{
		Level:       cfg.App.Environment,
		ServiceName: "payment-consumer",
		Development: cfg.IsDevelopment(),
	}); err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer logger.Sync()

	appLog := logger.Get()
	appLog.Info("Starting payment consumer...")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if _, err := telemetry.Init(ctx, &telemetry.Config{
		Enabled:        cfg.OTel.Enabled,
		ServiceName:    "payment-consumer",
		ServiceVersion: cfg.App.Version,
		Environment:    cfg.App.Environment,
		CollectorAddr:  cfg.OTel.CollectorAddr,
		SampleRatio:    cfg.OTel.SampleRatio,
	}); err != nil {
		appLog.Warn("Telemetry disabled", zap.Error(err))
	}
	if err := metrics.Init(); err != nil {
		appLog.Warn("Failed to register booking metrics", zap.Error(err))
	}

	container, err := di.Build(ctx, cfg, di.Options{Publisher: true}, appLog)
	if err != nil {
		appLog.Fatal("Failed to initialize dependencies", zap.Error(err))
	}
	defer container.Close()

	consumerCfg := consumer.DefaultPaymentConsumerConfig()
	consumerCfg.Brokers = cfg.Kafka.Brokers
	consumerCfg.GroupID = cfg.Kafka.ConsumerGroup
	consumerCfg.ClientID = cfg.Kafka.ClientID + "-payments"

	paymentConsumer, err := consumer.NewPaymentConsumer(ctx, consumerCfg, container.BookingService, appLog)
	if err != nil {
		appLog.Fatal("Failed to create payment consumer", zap.Error(err))
	}

	if err := paymentConsumer.Start(ctx); err != nil {
		appLog.Fatal("Failed to start payment consumer", zap.Error(err))
	}
	appLog.Info("Payment consumer started successfully", zap.Strings("topics", consumerCfg.Topics))

	// Wait for interrupt signal for graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	appLog.Info("Shutting down consumer...")
	paymentConsumer.Stop()

	stats := paymentConsumer.GetStats()
	appLog.Info("Consumer exited gracefully",
		zap.Int64("processed", stats.Processed),
		zap.Int64("rejected", stats.Rejected),
		zap.Int64("skipped", stats.Skipped),
		zap.Int64("failed", stats.Failed),
	)
	if err := telemetry.Shutdown(context.Background()); err != nil {
		appLog.Warn("Failed to flush telemetry", zap.Error(err))
	}
}
