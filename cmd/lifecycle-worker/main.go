package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/kammounmedaziz/ekrini-app/internal/di"
	"github.com/kammounmedaziz/ekrini-app/internal/metrics"
	"github.com/kammounmedaziz/ekrini-app/internal/worker"
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
		ServiceName: "lifecycle-worker",
		Development: cfg.IsDevelopment(),
	}); err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer logger.Sync()

	appLog := logger.Get()
	appLog.Info("Starting lifecycle worker...")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if _, err := telemetry.Init(ctx, &telemetry.Config{
		Enabled:        cfg.OTel.Enabled,
		ServiceName:    "lifecycle-worker",
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

	// Create worker
	lifecycleWorker := worker.NewLifecycleWorker(container.BookingService, &worker.LifecycleWorkerConfig{
		ScanInterval: cfg.Booking.LifecycleInterval,
		BatchSize:    cfg.Booking.LifecycleBatchSize,
	}, appLog)

	if err := lifecycleWorker.Start(ctx); err != nil {
		appLog.Fatal("Failed to start lifecycle worker", zap.Error(err))
	}
	appLog.Info("Lifecycle worker started successfully")

	// Wait for interrupt signal for graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	appLog.Info("Shutting down worker...")
	lifecycleWorker.Stop()

	stats := lifecycleWorker.GetStats()
	appLog.Info("Worker exited gracefully",
		zap.Int64("passes", stats.Passes),
		zap.Int64("expired", stats.TotalExpired),
		zap.Int64("activated", stats.TotalActivated),
		zap.Int64("completed", stats.TotalCompleted),
	)
	if err := telemetry.Shutdown(context.Background()); err != nil {
		appLog.Warn("Failed to flush telemetry", zap.Error(err))
	}
}
