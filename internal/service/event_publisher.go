package service

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/kammounmedaziz/ekrini-app/internal/domain"
	"github.com/kammounmedaziz/ekrini-app/pkg/kafka"
	"github.com/kammounmedaziz/ekrini-app/pkg/telemetry"
)

// EventPublisher publishes committed booking changes
type EventPublisher interface {
	PublishBookingCreated(ctx context.Context, booking *domain.Booking) error
	PublishBookingConfirmed(ctx context.Context, booking *domain.Booking) error
	PublishBookingActivated(ctx context.Context, booking *domain.Booking) error
	PublishBookingCompleted(ctx context.Context, booking *domain.Booking) error
	PublishBookingCancelled(ctx context.Context, booking *domain.Booking) error
	Close() error
}

// publishFor dispatches on the status the booking just entered
func publishFor(ctx context.Context, p EventPublisher, booking *domain.Booking) error {
	switch booking.Status {
	case domain.BookingStatusPending:
		return p.PublishBookingCreated(ctx, booking)
	case domain.BookingStatusConfirmed:
		return p.PublishBookingConfirmed(ctx, booking)
	case domain.BookingStatusActive:
		return p.PublishBookingActivated(ctx, booking)
	case domain.BookingStatusCompleted:
		return p.PublishBookingCompleted(ctx, booking)
	case domain.BookingStatusCancelled:
		return p.PublishBookingCancelled(ctx, booking)
	}
	return fmt.Errorf("no event for status %q", booking.Status)
}

// KafkaEventPublisher writes BookingEvent JSON to one topic keyed by car id
type KafkaEventPublisher struct {
	producer    *kafka.Producer
	topic       string
	serviceName string
}

type EventPublisherConfig struct {
	Brokers     []string
	Topic       string
	ServiceName string
	ClientID    string
}

func NewKafkaEventPublisher(ctx context.Context, cfg *EventPublisherConfig) (*KafkaEventPublisher, error) {
	if cfg == nil {
		return nil, fmt.Errorf("event publisher config is required")
	}
	if len(cfg.Brokers) == 0 {
		return nil, fmt.Errorf("kafka brokers are required")
	}

	topic := cfg.Topic
	if topic == "" {
		topic = "booking.events"
	}
	serviceName := cfg.ServiceName
	if serviceName == "" {
		serviceName = "ekrini-booking"
	}
	clientID := cfg.ClientID
	if clientID == "" {
		clientID = serviceName + "-producer"
	}

	producer, err := kafka.NewProducer(ctx, &kafka.ProducerConfig{
		Brokers:       cfg.Brokers,
		ClientID:      clientID,
		MaxRetries:    3,
		RetryInterval: 2 * time.Second,
		LingerMs:      10,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create kafka producer: %w", err)
	}

	return &KafkaEventPublisher{producer: producer, topic: topic, serviceName: serviceName}, nil
}

func (p *KafkaEventPublisher) PublishBookingCreated(ctx context.Context, booking *domain.Booking) error {
	return p.publishEvent(ctx, domain.BookingEventCreated, booking)
}

func (p *KafkaEventPublisher) PublishBookingConfirmed(ctx context.Context, booking *domain.Booking) error {
	return p.publishEvent(ctx, domain.BookingEventConfirmed, booking)
}

func (p *KafkaEventPublisher) PublishBookingActivated(ctx context.Context, booking *domain.Booking) error {
	return p.publishEvent(ctx, domain.BookingEventActivated, booking)
}

func (p *KafkaEventPublisher) PublishBookingCompleted(ctx context.Context, booking *domain.Booking) error {
	return p.publishEvent(ctx, domain.BookingEventCompleted, booking)
}

func (p *KafkaEventPublisher) PublishBookingCancelled(ctx context.Context, booking *domain.Booking) error {
	return p.publishEvent(ctx, domain.BookingEventCancelled, booking)
}

func (p *KafkaEventPublisher) Close() error {
	if p.producer != nil {
		p.producer.Close()
	}
	return nil
}

func (p *KafkaEventPublisher) publishEvent(ctx context.Context, eventType domain.BookingEventType, booking *domain.Booking) error {
	msg, err := buildEventMessage(p.topic, p.serviceName, eventType, booking, time.Now().UTC())
	if err != nil {
		return err
	}
	for k, v := range telemetry.InjectContext(ctx) {
		msg.Headers[k] = v
	}

	if err := p.producer.Produce(ctx, msg); err != nil {
		return fmt.Errorf("failed to publish %s event: %w", eventType, err)
	}
	return nil
}

func buildEventMessage(topic, source string, eventType domain.BookingEventType, booking *domain.Booking, at time.Time) (*kafka.Message, error) {
	eventID := uuid.New().String()
	event := domain.NewBookingEvent(eventType, booking, eventID, at)

	value, err := json.Marshal(event)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal event: %w", err)
	}

	return &kafka.Message{
		Topic: topic,
		Key:   []byte(event.Key()),
		Value: value,
		Headers: map[string]string{
			"event_type":   string(eventType),
			"event_id":     eventID,
			"source":       source,
			"content_type": "application/json",
		},
		Timestamp: at,
	}, nil
}

// NoOpEventPublisher drops every event. Used when Kafka is not configured.
type NoOpEventPublisher struct{}

func NewNoOpEventPublisher() *NoOpEventPublisher {
	return &NoOpEventPublisher{}
}

func (p *NoOpEventPublisher) PublishBookingCreated(ctx context.Context, booking *domain.Booking) error {
	return nil
}

func (p *NoOpEventPublisher) PublishBookingConfirmed(ctx context.Context, booking *domain.Booking) error {
	return nil
}

func (p *NoOpEventPublisher) PublishBookingActivated(ctx context.Context, booking *domain.Booking) error {
	return nil
}

func (p *NoOpEventPublisher) PublishBookingCompleted(ctx context.Context, booking *domain.Booking) error {
	return nil
}

func (p *NoOpEventPublisher) PublishBookingCancelled(ctx context.Context, booking *domain.Booking) error {
	return nil
}

func (p *NoOpEventPublisher) Close() error {
	return nil
}
