package domain

import (
	"math"
	"strings"
	"time"
)

// BookingStatus represents the lifecycle status of a booking
type BookingStatus string

const (
	BookingStatusPending   BookingStatus = "pending"
	BookingStatusConfirmed BookingStatus = "confirmed"
	BookingStatusActive    BookingStatus = "active"
	BookingStatusCompleted BookingStatus = "completed"
	BookingStatusCancelled BookingStatus = "cancelled"
)

// IsValid checks if the status is a known BookingStatus
func (s BookingStatus) IsValid() bool {
	switch s {
	case BookingStatusPending, BookingStatusConfirmed, BookingStatusActive,
		BookingStatusCompleted, BookingStatusCancelled:
		return true
	}
	return false
}

// IsLive reports whether a booking in this status holds the car.
// Only live bookings take part in conflict checks.
func (s BookingStatus) IsLive() bool {
	return s == BookingStatusConfirmed || s == BookingStatusActive
}

// IsTerminal reports whether no transition leaves this status
func (s BookingStatus) IsTerminal() bool {
	return s == BookingStatusCompleted || s == BookingStatusCancelled
}

func (s BookingStatus) String() string {
	return string(s)
}

// LiveStatuses lists the statuses that block a car
var LiveStatuses = []BookingStatus{BookingStatusConfirmed, BookingStatusActive}

var transitions = map[BookingStatus][]BookingStatus{
	BookingStatusPending:   {BookingStatusConfirmed, BookingStatusCancelled},
	BookingStatusConfirmed: {BookingStatusActive, BookingStatusCancelled},
	BookingStatusActive:    {BookingStatusCompleted, BookingStatusCancelled},
}

// CanTransition reports whether from -> to is an edge of the lifecycle
func CanTransition(from, to BookingStatus) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// ValidateTransition returns a *TransitionError for any edge outside the lifecycle
func ValidateTransition(from, to BookingStatus) error {
	if !CanTransition(from, to) {
		return &TransitionError{From: from, To: to}
	}
	return nil
}

// Booking is a time-bounded hold of one car by one renter
type Booking struct {
	ID         string        `json:"id"`
	CarID      string        `json:"car_id"`
	RenterID   string        `json:"renter_id"`
	Interval   Interval      `json:"interval"`
	Status     BookingStatus `json:"status"`
	TotalPrice float64       `json:"total_price"`
	PaymentRef string        `json:"payment_ref,omitempty"`
	CreatedAt  time.Time     `json:"created_at"`
	UpdatedAt  time.Time     `json:"updated_at"`
}

// Validate checks the fields that must hold before a booking is stored
func (b *Booking) Validate() error {
	if strings.TrimSpace(b.CarID) == "" {
		return &ValidationError{Field: "car_id", Err: ErrInvalidCarID}
	}
	if strings.TrimSpace(b.RenterID) == "" {
		return &ValidationError{Field: "renter_id", Err: ErrInvalidRenterID}
	}
	if !b.Interval.IsValid() {
		return &ValidationError{Field: "interval", Err: ErrInvalidInterval}
	}
	if b.TotalPrice < 0 || math.IsNaN(b.TotalPrice) {
		return &ValidationError{Field: "total_price", Err: ErrNegativePrice}
	}
	if !b.Status.IsValid() {
		return &ValidationError{Field: "status", Err: ErrInvalidStatus}
	}
	return nil
}

// DurationDays is the rental length in whole days, rounded up
func (b *Booking) DurationDays() int {
	d := b.Interval.Duration()
	if d <= 0 {
		return 0
	}
	return int(math.Ceil(d.Hours() / 24))
}

// IsInProgress reports whether the rental is active and now falls inside it
func (b *Booking) IsInProgress(now time.Time) bool {
	return b.Status == BookingStatusActive && b.Interval.Contains(now)
}

// BelongsTo checks if the booking was made by renterID
func (b *Booking) BelongsTo(renterID string) bool {
	return b.RenterID == renterID
}

// StatusChange is a compare-and-swap request on a booking's status
type StatusChange struct {
	BookingID string
	From      BookingStatus
	To        BookingStatus
	At        time.Time
	// PaymentRef is recorded when set, typically on confirmation
	PaymentRef string
}
