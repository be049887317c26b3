package service

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/kammounmedaziz/ekrini-app/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildEventMessage(t *testing.T) {
	now := time.Date(2026, 7, 1, 8, 0, 0, 0, time.UTC)
	b := &domain.Booking{
		ID:         "b-1",
		CarID:      "car-9",
		RenterID:   "r-1",
		Interval:   domain.Interval{Start: now.Add(2 * time.Hour), End: now.Add(26 * time.Hour)},
		Status:     domain.BookingStatusConfirmed,
		TotalPrice: 80,
		PaymentRef: "pay-1",
	}

	msg, err := buildEventMessage("booking.events", "ekrini-booking", domain.BookingEventConfirmed, b, now)
	require.NoError(t, err)

	assert.Equal(t, "booking.events", msg.Topic)
	assert.Equal(t, []byte("car-9"), msg.Key)
	assert.Equal(t, "booking.confirmed", msg.Headers["event_type"])
	assert.Equal(t, "ekrini-booking", msg.Headers["source"])
	assert.Equal(t, "application/json", msg.Headers["content_type"])
	assert.NotEmpty(t, msg.Headers["event_id"])
	assert.Equal(t, now, msg.Timestamp)

	var ev domain.BookingEvent
	require.NoError(t, json.Unmarshal(msg.Value, &ev))
	assert.Equal(t, msg.Headers["event_id"], ev.EventID)
	assert.Equal(t, domain.BookingEventConfirmed, ev.EventType)
	assert.Equal(t, 1, ev.Version)
	assert.Equal(t, "b-1", ev.Data.BookingID)
	assert.Equal(t, "pay-1", ev.Data.PaymentRef)
	assert.True(t, b.Interval.Start.Equal(ev.Data.Start))
}

func TestPublishFor(t *testing.T) {
	tests := []struct {
		status domain.BookingStatus
		want   domain.BookingEventType
	}{
		{domain.BookingStatusPending, domain.BookingEventCreated},
		{domain.BookingStatusConfirmed, domain.BookingEventConfirmed},
		{domain.BookingStatusActive, domain.BookingEventActivated},
		{domain.BookingStatusCompleted, domain.BookingEventCompleted},
		{domain.BookingStatusCancelled, domain.BookingEventCancelled},
	}

	for _, tt := range tests {
		t.Run(string(tt.status), func(t *testing.T) {
			p := &MockEventPublisher{}
			require.NoError(t, publishFor(context.Background(), p, &domain.Booking{ID: "b", Status: tt.status}))
			assert.Equal(t, []domain.BookingEventType{tt.want}, p.Types())
		})
	}

	err := publishFor(context.Background(), &MockEventPublisher{}, &domain.Booking{Status: "unknown"})
	assert.Error(t, err)
}

func TestNewKafkaEventPublisher_Validation(t *testing.T) {
	_, err := NewKafkaEventPublisher(context.Background(), nil)
	assert.Error(t, err)

	_, err = NewKafkaEventPublisher(context.Background(), &EventPublisherConfig{})
	assert.Error(t, err)
}

func TestNoOpEventPublisher(t *testing.T) {
	p := NewNoOpEventPublisher()
	b := &domain.Booking{ID: "b", Status: domain.BookingStatusPending}
	assert.NoError(t, publishFor(context.Background(), p, b))
	assert.NoError(t, p.Close())
}
