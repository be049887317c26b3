package repository

import (
	"context"
	"time"

	"github.com/kammounmedaziz/ekrini-app/internal/domain"
)

// BookingRepository is the reservation store. CreateIfNoConflict and
// ConfirmIfNoConflict are serialized per car; UpdateStatus is a
// compare-and-swap on the current status.
type BookingRepository interface {
	// ListLiveBookings returns confirmed and active bookings of a car ordered by start
	ListLiveBookings(ctx context.Context, carID string) ([]domain.LiveBooking, error)

	// CreateIfNoConflict evaluates predicate against the car's live set and
	// inserts booking in one atomic step. Returns *domain.ConflictError when
	// the predicate reports a blocking booking.
	CreateIfNoConflict(ctx context.Context, booking *domain.Booking, predicate domain.ConflictPredicate) (*domain.Booking, error)

	// UpdateStatus moves a booking from change.From to change.To. It refuses
	// promotions to confirmed, which must go through ConfirmIfNoConflict.
	UpdateStatus(ctx context.Context, change *domain.StatusChange) (*domain.Booking, error)

	// ConfirmIfNoConflict is UpdateStatus for pending -> confirmed with the
	// predicate re-run inside the car's atomic scope.
	ConfirmIfNoConflict(ctx context.Context, change *domain.StatusChange, predicate domain.ConflictPredicate) (*domain.Booking, error)

	GetByID(ctx context.Context, id string) (*domain.Booking, error)

	// ListByRenter returns a renter's bookings, newest first
	ListByRenter(ctx context.Context, renterID string, limit, offset int) ([]*domain.Booking, error)

	CountByRenter(ctx context.Context, renterID string) (int64, error)

	// ListExpiredPending returns pending bookings created before createdBefore
	// or starting before startBefore, oldest first
	ListExpiredPending(ctx context.Context, createdBefore, startBefore time.Time, limit int) ([]*domain.Booking, error)

	// ListConfirmedStarting returns confirmed bookings whose start is <= now
	ListConfirmedStarting(ctx context.Context, now time.Time, limit int) ([]*domain.Booking, error)

	// ListActiveEnded returns active bookings whose end is <= now
	ListActiveEnded(ctx context.Context, now time.Time, limit int) ([]*domain.Booking, error)
}

// CarRepository reads the bookable resources
type CarRepository interface {
	GetByID(ctx context.Context, id string) (*domain.Car, error)
}
