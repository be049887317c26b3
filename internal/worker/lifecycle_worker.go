package worker

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/kammounmedaziz/ekrini-app/internal/service"
	"github.com/kammounmedaziz/ekrini-app/pkg/logger"
	"go.uber.org/zap"
)

// LifecycleAdvancer is the part of the booking service the worker drives
type LifecycleAdvancer interface {
	AdvanceLifecycle(ctx context.Context, limit int) (*service.LifecycleResult, error)
}

// LifecycleWorkerConfig contains configuration for the lifecycle worker
type LifecycleWorkerConfig struct {
	// ScanInterval is the time between passes
	ScanInterval time.Duration
	// BatchSize caps the bookings moved per step of a pass
	BatchSize int
}

func DefaultLifecycleWorkerConfig() *LifecycleWorkerConfig {
	return &LifecycleWorkerConfig{
		ScanInterval: 30 * time.Second,
		BatchSize:    100,
	}
}

// LifecycleWorker periodically expires unpaid holds and moves bookings
// through active and completed as their intervals begin and end.
type LifecycleWorker struct {
	advancer LifecycleAdvancer
	config   *LifecycleWorkerConfig
	log      *logger.Logger
	stopCh   chan struct{}
	wg       sync.WaitGroup

	mu      sync.Mutex
	running bool
	stats   LifecycleWorkerStats
}

func NewLifecycleWorker(advancer LifecycleAdvancer, config *LifecycleWorkerConfig, log *logger.Logger) *LifecycleWorker {
	def := DefaultLifecycleWorkerConfig()
	if config == nil {
		config = def
	}
	cfg := *config
	if cfg.ScanInterval <= 0 {
		cfg.ScanInterval = def.ScanInterval
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = def.BatchSize
	}
	if log == nil {
		log = logger.Get()
	}

	return &LifecycleWorker{
		advancer: advancer,
		config:   &cfg,
		log:      log,
		stopCh:   make(chan struct{}),
	}
}

// Start runs a pass immediately and then every ScanInterval until ctx ends
// or Stop is called.
func (w *LifecycleWorker) Start(ctx context.Context) error {
	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		return fmt.Errorf("lifecycle worker already running")
	}
	w.running = true
	w.stats.IsRunning = true
	w.mu.Unlock()

	w.log.Info("Starting lifecycle worker",
		zap.Duration("interval", w.config.ScanInterval),
		zap.Int("batch_size", w.config.BatchSize),
	)

	w.wg.Add(1)
	go w.loop(ctx)
	return nil
}

func (w *LifecycleWorker) Stop() {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return
	}
	w.running = false
	w.stats.IsRunning = false
	w.mu.Unlock()

	w.log.Info("Stopping lifecycle worker")
	close(w.stopCh)
	w.wg.Wait()
	w.log.Info("Lifecycle worker stopped")
}

// Wait blocks until the loop exits
func (w *LifecycleWorker) Wait() {
	w.wg.Wait()
}

func (w *LifecycleWorker) loop(ctx context.Context) {
	defer w.wg.Done()

	ticker := time.NewTicker(w.config.ScanInterval)
	defer ticker.Stop()

	w.RunOnce(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stopCh:
			return
		case <-ticker.C:
			w.RunOnce(ctx)
		}
	}
}

// RunOnce performs a single pass and folds its result into the stats
func (w *LifecycleWorker) RunOnce(ctx context.Context) *service.LifecycleResult {
	started := time.Now()
	result, err := w.advancer.AdvanceLifecycle(ctx, w.config.BatchSize)
	if result == nil {
		result = &service.LifecycleResult{}
	}

	w.mu.Lock()
	w.stats.Passes++
	w.stats.LastScanTime = started
	w.stats.TotalExpired += int64(result.Expired)
	w.stats.TotalActivated += int64(result.Activated)
	w.stats.TotalCompleted += int64(result.Completed)
	w.stats.TotalFailed += int64(result.Failed)
	if err != nil {
		w.stats.LastError = err.Error()
	} else {
		w.stats.LastError = ""
	}
	w.mu.Unlock()

	if err != nil {
		w.log.ErrorContext(ctx, "Lifecycle pass finished with errors",
			zap.Int("failed", result.Failed),
			zap.Error(err),
		)
	}
	if result.Total() > 0 {
		w.log.InfoContext(ctx, "Lifecycle pass moved bookings",
			zap.Int("expired", result.Expired),
			zap.Int("activated", result.Activated),
			zap.Int("completed", result.Completed),
			zap.Int("skipped", result.Skipped),
			zap.Duration("took", time.Since(started)),
		)
	}
	return result
}

func (w *LifecycleWorker) GetStats() LifecycleWorkerStats {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.stats
}

// LifecycleWorkerStats contains worker statistics
type LifecycleWorkerStats struct {
	IsRunning      bool      `json:"is_running"`
	Passes         int64     `json:"passes"`
	TotalExpired   int64     `json:"total_expired"`
	TotalActivated int64     `json:"total_activated"`
	TotalCompleted int64     `json:"total_completed"`
	TotalFailed    int64     `json:"total_failed"`
	LastScanTime   time.Time `json:"last_scan_time"`
	LastError      string    `json:"last_error,omitempty"`
}
