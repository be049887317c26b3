package domain

import "time"

// BookingEventType is the event_type header of records on the booking topic
type BookingEventType string

const (
	BookingEventCreated   BookingEventType = "booking.created"
	BookingEventConfirmed BookingEventType = "booking.confirmed"
	BookingEventActivated BookingEventType = "booking.activated"
	BookingEventCompleted BookingEventType = "booking.completed"
	BookingEventCancelled BookingEventType = "booking.cancelled"
)

// EventTypeFor maps the status a booking just entered to its event
func EventTypeFor(status BookingStatus) (BookingEventType, bool) {
	switch status {
	case BookingStatusPending:
		return BookingEventCreated, true
	case BookingStatusConfirmed:
		return BookingEventConfirmed, true
	case BookingStatusActive:
		return BookingEventActivated, true
	case BookingStatusCompleted:
		return BookingEventCompleted, true
	case BookingStatusCancelled:
		return BookingEventCancelled, true
	}
	return "", false
}

// BookingEvent is published after a booking change commits
type BookingEvent struct {
	EventID    string           `json:"event_id"`
	EventType  BookingEventType `json:"event_type"`
	OccurredAt time.Time        `json:"occurred_at"`
	Version    int              `json:"version"`
	Data       BookingEventData `json:"data"`
}

type BookingEventData struct {
	BookingID  string        `json:"booking_id"`
	CarID      string        `json:"car_id"`
	RenterID   string        `json:"renter_id"`
	Start      time.Time     `json:"start"`
	End        time.Time     `json:"end"`
	Status     BookingStatus `json:"status"`
	TotalPrice float64       `json:"total_price"`
	PaymentRef string        `json:"payment_ref,omitempty"`
}

func NewBookingEvent(eventType BookingEventType, b *Booking, eventID string, at time.Time) *BookingEvent {
	return &BookingEvent{
		EventID:    eventID,
		EventType:  eventType,
		OccurredAt: at,
		Version:    1,
		Data: BookingEventData{
			BookingID:  b.ID,
			CarID:      b.CarID,
			RenterID:   b.RenterID,
			Start:      b.Interval.Start,
			End:        b.Interval.End,
			Status:     b.Status,
			TotalPrice: b.TotalPrice,
			PaymentRef: b.PaymentRef,
		},
	}
}

// Key partitions events by car so a car's history stays ordered
func (e *BookingEvent) Key() string {
	return e.Data.CarID
}

// Payment topics consumed by the booking service
const (
	TopicPaymentSuccess  = "payment.success"
	TopicPaymentFailed   = "payment.failed"
	TopicPaymentRefunded = "payment.refunded"
)

type PaymentEventType string

const (
	PaymentEventSuccess  PaymentEventType = "payment.success"
	PaymentEventFailed   PaymentEventType = "payment.failed"
	PaymentEventRefunded PaymentEventType = "payment.refunded"
)

// PaymentResultEvent is the outcome reported by the payment subsystem
type PaymentResultEvent struct {
	EventType PaymentEventType `json:"event_type"`
	BookingID string           `json:"booking_id"`
	PaymentID string           `json:"payment_id"`
	Provider  string           `json:"provider,omitempty"`
	Amount    int64            `json:"amount"`
	Currency  string           `json:"currency"`
	Reason    string           `json:"reason,omitempty"`
	Timestamp time.Time        `json:"timestamp"`
}
