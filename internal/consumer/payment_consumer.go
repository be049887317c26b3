package consumer

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/kammounmedaziz/ekrini-app/internal/domain"
	"github.com/kammounmedaziz/ekrini-app/pkg/kafka"
	"github.com/kammounmedaziz/ekrini-app/pkg/logger"
	"github.com/kammounmedaziz/ekrini-app/pkg/retry"
	"github.com/kammounmedaziz/ekrini-app/pkg/telemetry"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

// PaymentResultHandler applies a payment outcome to its booking
type PaymentResultHandler interface {
	HandlePaymentResult(ctx context.Context, event *domain.PaymentResultEvent) error
}

// RecordSource is the consumer group the records come from.
// *kafka.Consumer satisfies it.
type RecordSource interface {
	Poll(ctx context.Context) ([]*kafka.Record, error)
	CommitRecords(ctx context.Context, records []*kafka.Record) error
	Close()
}

// PaymentConsumerConfig contains configuration for the payment consumer
type PaymentConsumerConfig struct {
	Brokers  []string
	GroupID  string
	Topics   []string
	ClientID string
	// WorkerCount is the number of workers; a partition always maps to the
	// same worker so its records are applied in order.
	WorkerCount    int
	ProcessTimeout time.Duration
	// Retry bounds re-attempts of a record that failed for a non-domain reason
	Retry *retry.Config
	// RedeliveryInterval is the pause before a failed record is tried again.
	// Its lane stays blocked meanwhile so no later offset of the partition
	// is committed past it.
	RedeliveryInterval time.Duration
}

func DefaultPaymentConsumerConfig() *PaymentConsumerConfig {
	return &PaymentConsumerConfig{
		Brokers:        []string{"localhost:9092"},
		GroupID:        "ekrini-booking",
		Topics:         []string{domain.TopicPaymentSuccess, domain.TopicPaymentFailed, domain.TopicPaymentRefunded},
		ClientID:       "ekrini-booking-consumer",
		WorkerCount:    4,
		ProcessTimeout: 30 * time.Second,
		Retry: &retry.Config{
			MaxRetries:      5,
			InitialInterval: 200 * time.Millisecond,
			MaxInterval:     10 * time.Second,
			Multiplier:      2,
			JitterFactor:    0.2,
		},
		RedeliveryInterval: 5 * time.Second,
	}
}

// PaymentConsumer feeds payment results from Kafka into the booking service
type PaymentConsumer struct {
	source  RecordSource
	handler PaymentResultHandler
	retrier *retry.Retrier
	config  *PaymentConsumerConfig
	log     *logger.Logger

	wg         sync.WaitGroup
	stopCh     chan struct{}
	mu         sync.RWMutex
	running    bool
	cancelPoll context.CancelFunc
	stats      PaymentConsumerStats
}

// NewPaymentConsumer joins the consumer group described by cfg
func NewPaymentConsumer(ctx context.Context, cfg *PaymentConsumerConfig, handler PaymentResultHandler, log *logger.Logger) (*PaymentConsumer, error) {
	cfg = withDefaults(cfg)

	source, err := kafka.NewConsumer(ctx, &kafka.ConsumerConfig{
		Brokers:       cfg.Brokers,
		GroupID:       cfg.GroupID,
		Topics:        cfg.Topics,
		ClientID:      cfg.ClientID,
		MaxRetries:    3,
		RetryInterval: 2 * time.Second,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create kafka consumer: %w", err)
	}

	return NewPaymentConsumerWithSource(source, cfg, handler, log), nil
}

// NewPaymentConsumerWithSource builds a consumer over an existing record source
func NewPaymentConsumerWithSource(source RecordSource, cfg *PaymentConsumerConfig, handler PaymentResultHandler, log *logger.Logger) *PaymentConsumer {
	cfg = withDefaults(cfg)
	if log == nil {
		log = logger.Get()
	}

	rc := *cfg.Retry
	rc.ShouldRetry = func(err error) bool { return !domain.IsDomainError(err) }

	return &PaymentConsumer{
		source:  source,
		handler: handler,
		retrier: retry.New(&rc),
		config:  cfg,
		log:     log,
		stopCh:  make(chan struct{}),
	}
}

func withDefaults(cfg *PaymentConsumerConfig) *PaymentConsumerConfig {
	def := DefaultPaymentConsumerConfig()
	if cfg == nil {
		return def
	}
	c := *cfg
	if len(c.Topics) == 0 {
		c.Topics = def.Topics
	}
	if c.GroupID == "" {
		c.GroupID = def.GroupID
	}
	if c.ClientID == "" {
		c.ClientID = def.ClientID
	}
	if c.WorkerCount <= 0 {
		c.WorkerCount = def.WorkerCount
	}
	if c.ProcessTimeout <= 0 {
		c.ProcessTimeout = def.ProcessTimeout
	}
	if c.Retry == nil {
		c.Retry = def.Retry
	}
	if c.RedeliveryInterval <= 0 {
		c.RedeliveryInterval = def.RedeliveryInterval
	}
	return &c
}

// Start launches the poll loop and the workers
func (c *PaymentConsumer) Start(ctx context.Context) error {
	c.mu.Lock()
	if c.running {
		c.mu.Unlock()
		return fmt.Errorf("consumer is already running")
	}
	c.running = true
	// Poll blocks until records arrive; Stop cancels it without cutting
	// short records already handed to workers
	pollCtx, cancel := context.WithCancel(ctx)
	c.cancelPoll = cancel
	c.mu.Unlock()

	c.log.Info("Starting payment consumer",
		zap.Strings("topics", c.config.Topics),
		zap.String("group_id", c.config.GroupID),
		zap.Int("workers", c.config.WorkerCount),
	)

	lanes := make([]chan *kafka.Record, c.config.WorkerCount)
	for i := range lanes {
		lanes[i] = make(chan *kafka.Record, 64)
		c.wg.Add(1)
		go c.worker(ctx, i, lanes[i])
	}

	c.wg.Add(1)
	go c.poll(pollCtx, lanes)
	return nil
}

// Stop stops polling, drains the workers and closes the source
func (c *PaymentConsumer) Stop() {
	c.mu.Lock()
	if !c.running {
		c.mu.Unlock()
		return
	}
	c.running = false
	cancel := c.cancelPoll
	c.mu.Unlock()

	c.log.Info("Stopping payment consumer")
	close(c.stopCh)
	cancel()
	c.wg.Wait()
	c.source.Close()
	c.log.Info("Payment consumer stopped")
}

// Wait blocks until the poll loop and workers exit
func (c *PaymentConsumer) Wait() {
	c.wg.Wait()
}

func (c *PaymentConsumer) poll(ctx context.Context, lanes []chan *kafka.Record) {
	defer c.wg.Done()
	defer func() {
		for _, lane := range lanes {
			close(lane)
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case <-c.stopCh:
			return
		default:
		}

		records, err := c.source.Poll(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			c.log.Error("Failed to poll payment records", zap.Error(err))
			select {
			case <-time.After(time.Second):
			case <-ctx.Done():
				return
			case <-c.stopCh:
				return
			}
			continue
		}

		for _, record := range records {
			lane := lanes[int(record.Partition)%len(lanes)]
			select {
			case lane <- record:
			case <-ctx.Done():
				return
			case <-c.stopCh:
				return
			}
		}
	}
}

func (c *PaymentConsumer) worker(ctx context.Context, id int, records <-chan *kafka.Record) {
	defer c.wg.Done()

	for record := range records {
		if !c.processUntilDone(ctx, id, record) {
			return
		}
	}
}

// processUntilDone holds the lane on record until it is committed. Offsets
// are committed per partition, so moving on would commit past it. Returns
// false when the consumer stops first; the record is then redelivered to
// the next group member.
func (c *PaymentConsumer) processUntilDone(ctx context.Context, id int, record *kafka.Record) bool {
	for {
		err := c.processRecord(ctx, record)
		if err == nil {
			return true
		}
		c.log.Error("Payment record not applied, holding partition",
			zap.Int("worker", id),
			zap.String("topic", record.Topic),
			zap.Int32("partition", record.Partition),
			zap.Int64("offset", record.Offset),
			zap.Duration("retry_in", c.config.RedeliveryInterval),
			zap.Error(err),
		)

		select {
		case <-time.After(c.config.RedeliveryInterval):
		case <-ctx.Done():
			return false
		case <-c.stopCh:
			return false
		}
	}
}

// processRecord applies one record. Records are committed once applied or
// once they are known to be unprocessable; infrastructure failures are
// retried and, if still failing, returned uncommitted.
func (c *PaymentConsumer) processRecord(ctx context.Context, record *kafka.Record) error {
	ctx = telemetry.ExtractContext(ctx, record.Headers)
	ctx, span := telemetry.StartSpan(ctx, "consumer.payment.process")
	defer span.End()
	span.SetAttributes(
		attribute.String("topic", record.Topic),
		attribute.Int("partition", int(record.Partition)),
		attribute.Int64("offset", record.Offset),
	)

	event, err := decodePaymentResult(record)
	if err != nil {
		c.log.WarnContext(ctx, "Skipping malformed payment record",
			zap.String("topic", record.Topic),
			zap.Int64("offset", record.Offset),
			zap.Error(err),
		)
		c.count(func(s *PaymentConsumerStats) { s.Skipped++ })
		return c.commit(ctx, record)
	}
	span.SetAttributes(
		attribute.String("booking_id", event.BookingID),
		attribute.String("event_type", string(event.EventType)),
	)

	res := c.retrier.DoWithCallback(ctx, func(ctx context.Context) error {
		pctx, cancel := context.WithTimeout(ctx, c.config.ProcessTimeout)
		defer cancel()
		return c.handler.HandlePaymentResult(pctx, event)
	}, func(attempt int, err error, next time.Duration) {
		c.log.WarnContext(ctx, "Retrying payment result",
			zap.String("booking_id", event.BookingID),
			zap.Int("attempt", attempt),
			zap.Duration("backoff", next),
			zap.Error(err),
		)
	})

	switch err := res.Cause(); {
	case err == nil:
		c.count(func(s *PaymentConsumerStats) { s.Processed++ })
	case domain.IsDomainError(err):
		// the booking cannot take this result; redelivery would not change that
		c.log.WarnContext(ctx, "Payment result rejected",
			zap.String("booking_id", event.BookingID),
			zap.String("event_type", string(event.EventType)),
			zap.Error(err),
		)
		c.count(func(s *PaymentConsumerStats) { s.Rejected++ })
	default:
		telemetry.SetSpanError(span, err)
		c.count(func(s *PaymentConsumerStats) { s.Failed++ })
		return fmt.Errorf("payment result for booking %s: %w", event.BookingID, err)
	}

	return c.commit(ctx, record)
}

func (c *PaymentConsumer) commit(ctx context.Context, record *kafka.Record) error {
	if err := c.source.CommitRecords(ctx, []*kafka.Record{record}); err != nil {
		return fmt.Errorf("failed to commit offset %d: %w", record.Offset, err)
	}
	return nil
}

func (c *PaymentConsumer) count(f func(*PaymentConsumerStats)) {
	c.mu.Lock()
	f(&c.stats)
	c.mu.Unlock()
}

// decodePaymentResult reads a payment event. The event type comes from the
// payload, then the event_type header, then the topic name.
func decodePaymentResult(record *kafka.Record) (*domain.PaymentResultEvent, error) {
	var event domain.PaymentResultEvent
	if err := json.Unmarshal(record.Value, &event); err != nil {
		return nil, fmt.Errorf("invalid payment event: %w", err)
	}
	if event.EventType == "" {
		event.EventType = domain.PaymentEventType(record.Header("event_type"))
	}
	if event.EventType == "" {
		event.EventType = domain.PaymentEventType(record.Topic)
	}
	if event.BookingID == "" {
		return nil, fmt.Errorf("payment event has no booking_id")
	}
	return &event, nil
}

func (c *PaymentConsumer) GetStats() PaymentConsumerStats {
	c.mu.RLock()
	defer c.mu.RUnlock()
	s := c.stats
	s.IsRunning = c.running
	return s
}

// PaymentConsumerStats counts records by outcome
type PaymentConsumerStats struct {
	IsRunning bool  `json:"is_running"`
	Processed int64 `json:"processed"`
	Rejected  int64 `json:"rejected"`
	Skipped   int64 `json:"skipped"`
	Failed    int64 `json:"failed"`
}
