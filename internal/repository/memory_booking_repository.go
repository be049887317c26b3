package repository

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/kammounmedaziz/ekrini-app/internal/domain"
)

// MemoryBookingRepository keeps bookings in process. Creation and promotion
// for a car run under that car's mutex; the map itself has its own lock.
type MemoryBookingRepository struct {
	mu       sync.RWMutex
	bookings map[string]*domain.Booking

	locksMu  sync.Mutex
	carLocks map[string]*sync.Mutex
}

func NewMemoryBookingRepository() *MemoryBookingRepository {
	return &MemoryBookingRepository{
		bookings: make(map[string]*domain.Booking),
		carLocks: make(map[string]*sync.Mutex),
	}
}

func (r *MemoryBookingRepository) carLock(carID string) *sync.Mutex {
	r.locksMu.Lock()
	defer r.locksMu.Unlock()
	l, ok := r.carLocks[carID]
	if !ok {
		l = &sync.Mutex{}
		r.carLocks[carID] = l
	}
	return l
}

func (r *MemoryBookingRepository) ListLiveBookings(ctx context.Context, carID string) ([]domain.LiveBooking, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.liveLocked(carID), nil
}

func (r *MemoryBookingRepository) liveLocked(carID string) []domain.LiveBooking {
	live := []domain.LiveBooking{}
	for _, b := range r.bookings {
		if b.CarID == carID && b.Status.IsLive() {
			live = append(live, domain.LiveBooking{BookingID: b.ID, Interval: b.Interval})
		}
	}
	sort.Slice(live, func(i, j int) bool {
		if !live[i].Interval.Start.Equal(live[j].Interval.Start) {
			return live[i].Interval.Start.Before(live[j].Interval.Start)
		}
		return live[i].BookingID < live[j].BookingID
	})
	return live
}

func (r *MemoryBookingRepository) CreateIfNoConflict(ctx context.Context, booking *domain.Booking, predicate domain.ConflictPredicate) (*domain.Booking, error) {
	lock := r.carLock(booking.CarID)
	lock.Lock()
	defer lock.Unlock()

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if blocking, found := predicate(r.liveLocked(booking.CarID)); found {
		return nil, conflictFrom(booking.CarID, blocking)
	}

	stored := *booking
	r.bookings[stored.ID] = &stored
	out := stored
	return &out, nil
}

func (r *MemoryBookingRepository) UpdateStatus(ctx context.Context, change *domain.StatusChange) (*domain.Booking, error) {
	if change.To == domain.BookingStatusConfirmed {
		return nil, ErrConfirmNeedsConflictCheck
	}
	if err := domain.ValidateTransition(change.From, change.To); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	return r.swapLocked(change)
}

func (r *MemoryBookingRepository) ConfirmIfNoConflict(ctx context.Context, change *domain.StatusChange, predicate domain.ConflictPredicate) (*domain.Booking, error) {
	if err := domain.ValidateTransition(change.From, change.To); err != nil {
		return nil, err
	}
	if change.To != domain.BookingStatusConfirmed {
		return nil, &domain.TransitionError{From: change.From, To: change.To}
	}

	current, err := r.GetByID(ctx, change.BookingID)
	if err != nil {
		return nil, err
	}

	lock := r.carLock(current.CarID)
	lock.Lock()
	defer lock.Unlock()

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if blocking, found := predicate(r.liveLocked(current.CarID)); found {
		return nil, conflictFrom(current.CarID, blocking)
	}
	return r.swapLocked(change)
}

func (r *MemoryBookingRepository) swapLocked(change *domain.StatusChange) (*domain.Booking, error) {
	b, ok := r.bookings[change.BookingID]
	if !ok {
		return nil, &domain.NotFoundError{Entity: "booking", ID: change.BookingID}
	}
	if b.Status != change.From {
		return nil, &domain.StaleStateError{BookingID: b.ID, Expected: change.From, Actual: b.Status}
	}

	b.Status = change.To
	if change.PaymentRef != "" {
		b.PaymentRef = change.PaymentRef
	}
	b.UpdatedAt = change.At
	if b.UpdatedAt.IsZero() {
		b.UpdatedAt = time.Now().UTC()
	}
	out := *b
	return &out, nil
}

func (r *MemoryBookingRepository) GetByID(ctx context.Context, id string) (*domain.Booking, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()

	b, ok := r.bookings[id]
	if !ok {
		return nil, &domain.NotFoundError{Entity: "booking", ID: id}
	}
	out := *b
	return &out, nil
}

func (r *MemoryBookingRepository) ListByRenter(ctx context.Context, renterID string, limit, offset int) ([]*domain.Booking, error) {
	all := r.filter(func(b *domain.Booking) bool { return b.RenterID == renterID }, func(a, b *domain.Booking) bool {
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.After(b.CreatedAt)
		}
		return a.ID < b.ID
	})
	if offset >= len(all) {
		return []*domain.Booking{}, nil
	}
	all = all[offset:]
	if limit > 0 && len(all) > limit {
		all = all[:limit]
	}
	return all, nil
}

func (r *MemoryBookingRepository) CountByRenter(ctx context.Context, renterID string) (int64, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var n int64
	for _, b := range r.bookings {
		if b.RenterID == renterID {
			n++
		}
	}
	return n, nil
}

func (r *MemoryBookingRepository) ListExpiredPending(ctx context.Context, createdBefore, startBefore time.Time, limit int) ([]*domain.Booking, error) {
	return limited(r.filter(func(b *domain.Booking) bool {
		return b.Status == domain.BookingStatusPending &&
			(b.CreatedAt.Before(createdBefore) || !b.Interval.Start.After(startBefore))
	}, func(a, b *domain.Booking) bool { return a.CreatedAt.Before(b.CreatedAt) }), limit), nil
}

func (r *MemoryBookingRepository) ListConfirmedStarting(ctx context.Context, now time.Time, limit int) ([]*domain.Booking, error) {
	return limited(r.filter(func(b *domain.Booking) bool {
		return b.Status == domain.BookingStatusConfirmed && !b.Interval.Start.After(now)
	}, func(a, b *domain.Booking) bool { return a.Interval.Start.Before(b.Interval.Start) }), limit), nil
}

func (r *MemoryBookingRepository) ListActiveEnded(ctx context.Context, now time.Time, limit int) ([]*domain.Booking, error) {
	return limited(r.filter(func(b *domain.Booking) bool {
		return b.Status == domain.BookingStatusActive && !b.Interval.End.After(now)
	}, func(a, b *domain.Booking) bool { return a.Interval.End.Before(b.Interval.End) }), limit), nil
}

func (r *MemoryBookingRepository) filter(keep func(*domain.Booking) bool, less func(a, b *domain.Booking) bool) []*domain.Booking {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := []*domain.Booking{}
	for _, b := range r.bookings {
		if keep(b) {
			c := *b
			out = append(out, &c)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return less(out[i], out[j]) })
	return out
}

func limited(bookings []*domain.Booking, limit int) []*domain.Booking {
	if limit > 0 && len(bookings) > limit {
		return bookings[:limit]
	}
	return bookings
}

// MemoryCarRepository is a fixed catalogue for local runs and tests
type MemoryCarRepository struct {
	mu   sync.RWMutex
	cars map[string]*domain.Car
}

func NewMemoryCarRepository(cars ...*domain.Car) *MemoryCarRepository {
	r := &MemoryCarRepository{cars: make(map[string]*domain.Car)}
	for _, c := range cars {
		r.Put(c)
	}
	return r
}

// Put adds or replaces a car
func (r *MemoryCarRepository) Put(car *domain.Car) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c := *car
	r.cars[c.ID] = &c
}

func (r *MemoryCarRepository) GetByID(ctx context.Context, id string) (*domain.Car, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.cars[id]
	if !ok {
		return nil, &domain.NotFoundError{Entity: "car", ID: id}
	}
	out := *c
	return &out, nil
}
