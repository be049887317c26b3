package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/kammounmedaziz/ekrini-app/internal/domain"
	"github.com/kammounmedaziz/ekrini-app/internal/metrics"
	"github.com/kammounmedaziz/ekrini-app/internal/repository"
	"github.com/kammounmedaziz/ekrini-app/pkg/logger"
	"github.com/kammounmedaziz/ekrini-app/pkg/retry"
	"github.com/kammounmedaziz/ekrini-app/pkg/telemetry"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// BookingService is the admission controller plus the lifecycle operations
// around it.
type BookingService interface {
	// RequestBooking admits a new pending booking or rejects it with a
	// validation, not-found or conflict error.
	RequestBooking(ctx context.Context, req *BookingRequest) (*domain.Booking, error)

	// TransitionBooking applies one lifecycle edge. Promotion to confirmed
	// re-runs the conflict check.
	TransitionBooking(ctx context.Context, bookingID string, newStatus domain.BookingStatus) (*domain.Booking, error)

	// ListLiveBookings returns the intervals a car is held for, ordered by start.
	// An unknown car has no live bookings.
	ListLiveBookings(ctx context.Context, carID string) ([]domain.Interval, error)

	// GetBooking returns a booking owned by renterID
	GetBooking(ctx context.Context, bookingID, renterID string) (*domain.Booking, error)

	GetRenterBookings(ctx context.Context, renterID string, page, pageSize int) (*RenterBookings, error)

	// CancelBooking cancels a booking owned by renterID. Cancelling an
	// already cancelled booking returns it unchanged.
	CancelBooking(ctx context.Context, bookingID, renterID string) (*domain.Booking, error)

	// HandlePaymentResult applies a payment outcome. Results that no longer
	// apply to the booking's status are ignored.
	HandlePaymentResult(ctx context.Context, event *domain.PaymentResultEvent) error

	// AdvanceLifecycle expires stale pending holds and moves confirmed and
	// active bookings along with the clock.
	AdvanceLifecycle(ctx context.Context, limit int) (*LifecycleResult, error)

	GetCarAvailability(ctx context.Context, carID string) (*CarAvailability, error)
}

type BookingRequest struct {
	CarID      string
	RenterID   string
	Start      time.Time
	End        time.Time
	TotalPrice float64
	PaymentRef string
}

type RenterBookings struct {
	Bookings []*domain.Booking
	Total    int64
	Page     int
	PageSize int
}

type CarAvailability struct {
	CarID     string
	Available bool
	Booked    []domain.Interval
}

// LifecycleResult counts what one AdvanceLifecycle pass did
type LifecycleResult struct {
	Expired   int
	Activated int
	Completed int
	Skipped   int
	Failed    int
}

func (r *LifecycleResult) Total() int {
	return r.Expired + r.Activated + r.Completed
}

type BookingServiceConfig struct {
	MinLeadTime  time.Duration
	PendingTTL   time.Duration
	StoreTimeout time.Duration
	// ReadRetry is used for ListLiveBookings only
	ReadRetry       *retry.Config
	Clock           Clock
	Logger          *logger.Logger
	DefaultPageSize int
	MaxPageSize     int
}

const (
	defaultMinLeadTime  = time.Hour
	defaultPendingTTL   = 15 * time.Minute
	defaultStoreTimeout = 5 * time.Second
	publishTimeout      = 5 * time.Second
	maxCancelAttempts   = 3
)

type bookingService struct {
	bookingRepo    repository.BookingRepository
	carRepo        repository.CarRepository
	eventPublisher EventPublisher
	readRetrier    *retry.Retrier
	clock          Clock
	log            *logger.Logger

	minLeadTime     time.Duration
	pendingTTL      time.Duration
	storeTimeout    time.Duration
	defaultPageSize int
	maxPageSize     int
}

func NewBookingService(
	bookingRepo repository.BookingRepository,
	carRepo repository.CarRepository,
	eventPublisher EventPublisher,
	cfg *BookingServiceConfig,
) BookingService {
	if cfg == nil {
		cfg = &BookingServiceConfig{}
	}
	if eventPublisher == nil {
		eventPublisher = NewNoOpEventPublisher()
	}

	s := &bookingService{
		bookingRepo:     bookingRepo,
		carRepo:         carRepo,
		eventPublisher:  eventPublisher,
		clock:           cfg.Clock,
		log:             cfg.Logger,
		minLeadTime:     cfg.MinLeadTime,
		pendingTTL:      cfg.PendingTTL,
		storeTimeout:    cfg.StoreTimeout,
		defaultPageSize: cfg.DefaultPageSize,
		maxPageSize:     cfg.MaxPageSize,
	}
	if s.clock == nil {
		s.clock = SystemClock{}
	}
	if s.log == nil {
		s.log = logger.Get()
	}
	if s.minLeadTime < 0 {
		s.minLeadTime = defaultMinLeadTime
	}
	if s.pendingTTL <= 0 {
		s.pendingTTL = defaultPendingTTL
	}
	if s.storeTimeout <= 0 {
		s.storeTimeout = defaultStoreTimeout
	}
	if s.defaultPageSize <= 0 {
		s.defaultPageSize = 20
	}
	if s.maxPageSize <= 0 {
		s.maxPageSize = 100
	}

	readCfg := cfg.ReadRetry
	if readCfg == nil {
		readCfg = retry.DefaultConfig()
	}
	rc := *readCfg
	rc.ShouldRetry = isTransient
	s.readRetrier = retry.New(&rc)

	return s
}

// isTransient leaves domain errors and cancellation to the caller
func isTransient(err error) bool {
	return !domain.IsDomainError(err) &&
		!errors.Is(err, context.Canceled) &&
		!errors.Is(err, context.DeadlineExceeded)
}

func (s *bookingService) storeCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, s.storeTimeout)
}

func (s *bookingService) RequestBooking(ctx context.Context, req *BookingRequest) (*domain.Booking, error) {
	ctx, span := telemetry.StartSpan(ctx, "service.booking.request")
	defer span.End()
	started := time.Now()

	booking, err := s.newPendingBooking(req)
	if err != nil {
		metrics.RecordAdmission(ctx, "", "invalid", started)
		setSpanError(span, err)
		return nil, err
	}
	span.SetAttributes(
		attribute.String("booking_id", booking.ID),
		attribute.String("car_id", booking.CarID),
		attribute.String("renter_id", booking.RenterID),
		attribute.String("interval", booking.Interval.String()),
	)

	if err := s.checkCarBookable(ctx, booking.CarID); err != nil {
		metrics.RecordAdmission(ctx, booking.CarID, outcomeOf(err), started)
		setSpanError(span, err)
		return nil, err
	}

	sctx, cancel := s.storeCtx(ctx)
	created, err := s.bookingRepo.CreateIfNoConflict(sctx, booking, domain.ConflictWith(booking.Interval, ""))
	cancel()
	if err != nil {
		metrics.RecordAdmission(ctx, booking.CarID, outcomeOf(err), started)
		setSpanError(span, err)
		if domain.IsConflictError(err) {
			s.log.InfoContext(ctx, "Booking request rejected by conflict",
				zap.String("car_id", booking.CarID),
				zap.String("interval", booking.Interval.String()),
				zap.Error(err),
			)
			return nil, err
		}
		return nil, fmt.Errorf("failed to create booking: %w", err)
	}

	metrics.RecordAdmission(ctx, created.CarID, "created", started)
	s.publish(ctx, created)

	s.log.InfoContext(ctx, "Booking created",
		zap.String("booking_id", created.ID),
		zap.String("car_id", created.CarID),
		zap.String("renter_id", created.RenterID),
	)
	span.SetStatus(codes.Ok, "")
	return created, nil
}

func (s *bookingService) newPendingBooking(req *BookingRequest) (*domain.Booking, error) {
	if req == nil {
		return nil, &domain.ValidationError{Field: "request", Err: errors.New("request is required")}
	}

	now := s.clock.Now()
	booking := &domain.Booking{
		ID:         uuid.New().String(),
		CarID:      strings.TrimSpace(req.CarID),
		RenterID:   strings.TrimSpace(req.RenterID),
		Interval:   domain.Interval{Start: req.Start.UTC(), End: req.End.UTC()},
		Status:     domain.BookingStatusPending,
		TotalPrice: req.TotalPrice,
		PaymentRef: req.PaymentRef,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if err := booking.Validate(); err != nil {
		return nil, err
	}
	if booking.Interval.Start.Before(now.Add(s.minLeadTime)) {
		return nil, &domain.ValidationError{
			Field: "start",
			Err:   fmt.Errorf("%w: must be at least %s from now", domain.ErrLeadTimeTooShort, s.minLeadTime),
		}
	}
	return booking, nil
}

func (s *bookingService) checkCarBookable(ctx context.Context, carID string) error {
	sctx, cancel := s.storeCtx(ctx)
	defer cancel()

	car, err := s.carRepo.GetByID(sctx, carID)
	if err != nil {
		if domain.IsNotFoundError(err) {
			return err
		}
		return fmt.Errorf("failed to load car: %w", err)
	}
	return car.CheckBookable()
}

func (s *bookingService) TransitionBooking(ctx context.Context, bookingID string, newStatus domain.BookingStatus) (*domain.Booking, error) {
	ctx, span := telemetry.StartSpan(ctx, "service.booking.transition")
	defer span.End()
	span.SetAttributes(
		attribute.String("booking_id", bookingID),
		attribute.String("to", newStatus.String()),
	)

	if !newStatus.IsValid() {
		err := &domain.ValidationError{Field: "status", Err: domain.ErrInvalidStatus}
		setSpanError(span, err)
		return nil, err
	}

	current, err := s.getBooking(ctx, bookingID)
	if err != nil {
		setSpanError(span, err)
		return nil, err
	}

	updated, err := s.apply(ctx, current, newStatus, "")
	if err != nil {
		setSpanError(span, err)
		return nil, err
	}

	span.SetStatus(codes.Ok, "")
	return updated, nil
}

// apply moves current to status using the store operation the edge needs,
// then reports the committed change.
func (s *bookingService) apply(ctx context.Context, current *domain.Booking, status domain.BookingStatus, paymentRef string) (*domain.Booking, error) {
	if err := domain.ValidateTransition(current.Status, status); err != nil {
		return nil, err
	}

	change := &domain.StatusChange{
		BookingID:  current.ID,
		From:       current.Status,
		To:         status,
		At:         s.clock.Now(),
		PaymentRef: paymentRef,
	}

	sctx, cancel := s.storeCtx(ctx)
	var (
		updated *domain.Booking
		err     error
	)
	if status == domain.BookingStatusConfirmed {
		updated, err = s.bookingRepo.ConfirmIfNoConflict(sctx, change, domain.ConflictWith(current.Interval, current.ID))
	} else {
		updated, err = s.bookingRepo.UpdateStatus(sctx, change)
	}
	cancel()

	if err != nil {
		if domain.IsConflictError(err) {
			metrics.RecordPromotionConflict(ctx)
		}
		if domain.IsDomainError(err) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to update booking %s: %w", current.ID, err)
	}

	metrics.RecordTransition(ctx, change.From.String(), change.To.String())
	s.publish(ctx, updated)
	s.log.InfoContext(ctx, fmt.Sprintf("Booking %s moved %s -> %s", updated.ID, change.From, change.To))
	return updated, nil
}

func (s *bookingService) ListLiveBookings(ctx context.Context, carID string) ([]domain.Interval, error) {
	ctx, span := telemetry.StartSpan(ctx, "service.booking.list_live")
	defer span.End()
	span.SetAttributes(attribute.String("car_id", carID))

	live, err := s.listLive(ctx, carID)
	if err != nil {
		setSpanError(span, err)
		return nil, err
	}

	intervals := make([]domain.Interval, 0, len(live))
	for _, lb := range live {
		intervals = append(intervals, lb.Interval)
	}
	return intervals, nil
}

func (s *bookingService) listLive(ctx context.Context, carID string) ([]domain.LiveBooking, error) {
	var live []domain.LiveBooking
	res := s.readRetrier.DoWithCallback(ctx, func(ctx context.Context) error {
		sctx, cancel := s.storeCtx(ctx)
		defer cancel()
		l, err := s.bookingRepo.ListLiveBookings(sctx, carID)
		if err != nil {
			return err
		}
		live = l
		return nil
	}, func(attempt int, err error, next time.Duration) {
		s.log.WarnContext(ctx, "Retrying live bookings read",
			zap.String("car_id", carID),
			zap.Int("attempt", attempt),
			zap.Duration("backoff", next),
			zap.Error(err),
		)
	})
	if res.Err != nil {
		return nil, fmt.Errorf("failed to list live bookings for car %s: %w", carID, res.Cause())
	}
	if live == nil {
		live = []domain.LiveBooking{}
	}
	return live, nil
}

func (s *bookingService) GetBooking(ctx context.Context, bookingID, renterID string) (*domain.Booking, error) {
	ctx, span := telemetry.StartSpan(ctx, "service.booking.get")
	defer span.End()
	span.SetAttributes(attribute.String("booking_id", bookingID))

	booking, err := s.getOwned(ctx, bookingID, renterID)
	if err != nil {
		setSpanError(span, err)
		return nil, err
	}
	return booking, nil
}

func (s *bookingService) getBooking(ctx context.Context, bookingID string) (*domain.Booking, error) {
	if strings.TrimSpace(bookingID) == "" {
		return nil, &domain.ValidationError{Field: "booking_id", Err: domain.ErrInvalidBookingID}
	}
	sctx, cancel := s.storeCtx(ctx)
	defer cancel()

	booking, err := s.bookingRepo.GetByID(sctx, bookingID)
	if err != nil {
		if domain.IsDomainError(err) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to get booking: %w", err)
	}
	return booking, nil
}

// getOwned hides bookings of other renters behind NotFound
func (s *bookingService) getOwned(ctx context.Context, bookingID, renterID string) (*domain.Booking, error) {
	booking, err := s.getBooking(ctx, bookingID)
	if err != nil {
		return nil, err
	}
	if !booking.BelongsTo(renterID) {
		return nil, &domain.NotFoundError{Entity: "booking", ID: bookingID}
	}
	return booking, nil
}

func (s *bookingService) GetRenterBookings(ctx context.Context, renterID string, page, pageSize int) (*RenterBookings, error) {
	ctx, span := telemetry.StartSpan(ctx, "service.booking.list_by_renter")
	defer span.End()

	if strings.TrimSpace(renterID) == "" {
		return nil, &domain.ValidationError{Field: "renter_id", Err: domain.ErrInvalidRenterID}
	}
	if page < 1 {
		page = 1
	}
	if pageSize < 1 {
		pageSize = s.defaultPageSize
	}
	if pageSize > s.maxPageSize {
		pageSize = s.maxPageSize
	}

	sctx, cancel := s.storeCtx(ctx)
	defer cancel()

	bookings, err := s.bookingRepo.ListByRenter(sctx, renterID, pageSize, (page-1)*pageSize)
	if err != nil {
		setSpanError(span, err)
		return nil, fmt.Errorf("failed to list bookings: %w", err)
	}
	total, err := s.bookingRepo.CountByRenter(sctx, renterID)
	if err != nil {
		setSpanError(span, err)
		return nil, fmt.Errorf("failed to count bookings: %w", err)
	}

	return &RenterBookings{Bookings: bookings, Total: total, Page: page, PageSize: pageSize}, nil
}

func (s *bookingService) CancelBooking(ctx context.Context, bookingID, renterID string) (*domain.Booking, error) {
	ctx, span := telemetry.StartSpan(ctx, "service.booking.cancel")
	defer span.End()
	span.SetAttributes(attribute.String("booking_id", bookingID))

	// a concurrent payment result or lifecycle pass may move the booking
	// between the read and the swap; re-read and try again
	for attempt := 1; ; attempt++ {
		current, err := s.getOwned(ctx, bookingID, renterID)
		if err != nil {
			setSpanError(span, err)
			return nil, err
		}
		if current.Status == domain.BookingStatusCancelled {
			return current, nil
		}

		updated, err := s.apply(ctx, current, domain.BookingStatusCancelled, "")
		if err == nil {
			span.SetStatus(codes.Ok, "")
			return updated, nil
		}
		if !domain.IsStaleStateError(err) || attempt >= maxCancelAttempts {
			setSpanError(span, err)
			return nil, err
		}
	}
}

func (s *bookingService) HandlePaymentResult(ctx context.Context, event *domain.PaymentResultEvent) error {
	ctx, span := telemetry.StartSpan(ctx, "service.booking.handle_payment_result")
	defer span.End()

	if event == nil || strings.TrimSpace(event.BookingID) == "" {
		err := &domain.ValidationError{Field: "booking_id", Err: domain.ErrInvalidBookingID}
		setSpanError(span, err)
		return err
	}
	span.SetAttributes(
		attribute.String("booking_id", event.BookingID),
		attribute.String("payment_id", event.PaymentID),
		attribute.String("event_type", string(event.EventType)),
	)

	current, err := s.getBooking(ctx, event.BookingID)
	if err != nil {
		setSpanError(span, err)
		return err
	}

	var target domain.BookingStatus
	switch event.EventType {
	case domain.PaymentEventSuccess:
		if current.Status != domain.BookingStatusPending {
			return s.ignorePayment(ctx, event, current)
		}
		target = domain.BookingStatusConfirmed
	case domain.PaymentEventFailed:
		if current.Status != domain.BookingStatusPending {
			return s.ignorePayment(ctx, event, current)
		}
		target = domain.BookingStatusCancelled
	case domain.PaymentEventRefunded:
		if current.Status != domain.BookingStatusConfirmed {
			return s.ignorePayment(ctx, event, current)
		}
		target = domain.BookingStatusCancelled
	default:
		err := &domain.ValidationError{Field: "event_type", Err: fmt.Errorf("unknown payment event %q", event.EventType)}
		setSpanError(span, err)
		return err
	}

	_, err = s.apply(ctx, current, target, event.PaymentID)
	switch {
	case err == nil:
		span.SetStatus(codes.Ok, "")
		return nil
	case domain.IsStaleStateError(err):
		return s.ignorePayment(ctx, event, current)
	case domain.IsConflictError(err) && target == domain.BookingStatusConfirmed:
		// the slot was taken after this hold was admitted; release the hold
		// so the payment side can refund it
		s.log.WarnContext(ctx, "Paid booking lost its slot, cancelling",
			zap.String("booking_id", current.ID),
			zap.String("payment_id", event.PaymentID),
			zap.Error(err),
		)
		if _, cerr := s.apply(ctx, current, domain.BookingStatusCancelled, ""); cerr != nil && !domain.IsStaleStateError(cerr) {
			err = errors.Join(err, cerr)
		}
		setSpanError(span, err)
		return err
	default:
		setSpanError(span, err)
		return err
	}
}

func (s *bookingService) ignorePayment(ctx context.Context, event *domain.PaymentResultEvent, current *domain.Booking) error {
	s.log.InfoContext(ctx, "Ignoring payment result already applied or no longer relevant",
		zap.String("booking_id", current.ID),
		zap.String("status", current.Status.String()),
		zap.String("event_type", string(event.EventType)),
	)
	return nil
}

func (s *bookingService) AdvanceLifecycle(ctx context.Context, limit int) (*LifecycleResult, error) {
	ctx, span := telemetry.StartSpan(ctx, "service.booking.advance_lifecycle")
	defer span.End()

	if limit <= 0 {
		limit = 100
	}
	now := s.clock.Now()
	result := &LifecycleResult{}
	var errs []error

	step := func(name string, list func(context.Context) ([]*domain.Booking, error), move func(*domain.Booking) error) {
		sctx, cancel := s.storeCtx(ctx)
		bookings, err := list(sctx)
		cancel()
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", name, err))
			return
		}
		for _, b := range bookings {
			if ctx.Err() != nil {
				errs = append(errs, ctx.Err())
				return
			}
			err := move(b)
			switch {
			case err == nil:
			case domain.IsStaleStateError(err), domain.IsNotFoundError(err):
				result.Skipped++
			default:
				result.Failed++
				errs = append(errs, fmt.Errorf("%s %s: %w", name, b.ID, err))
			}
		}
	}

	step("expire pending", func(c context.Context) ([]*domain.Booking, error) {
		return s.bookingRepo.ListExpiredPending(c, now.Add(-s.pendingTTL), now, limit)
	}, func(b *domain.Booking) error {
		if _, err := s.apply(ctx, b, domain.BookingStatusCancelled, ""); err != nil {
			return err
		}
		result.Expired++
		return nil
	})

	step("activate confirmed", func(c context.Context) ([]*domain.Booking, error) {
		return s.bookingRepo.ListConfirmedStarting(c, now, limit)
	}, func(b *domain.Booking) error {
		active, err := s.apply(ctx, b, domain.BookingStatusActive, "")
		if err != nil {
			return err
		}
		result.Activated++
		if now.Before(active.Interval.End) {
			return nil
		}
		if _, err := s.apply(ctx, active, domain.BookingStatusCompleted, ""); err != nil {
			return err
		}
		result.Completed++
		return nil
	})

	step("complete active", func(c context.Context) ([]*domain.Booking, error) {
		return s.bookingRepo.ListActiveEnded(c, now, limit)
	}, func(b *domain.Booking) error {
		if _, err := s.apply(ctx, b, domain.BookingStatusCompleted, ""); err != nil {
			return err
		}
		result.Completed++
		return nil
	})

	metrics.RecordLifecycle(ctx, "expired", result.Expired)
	metrics.RecordLifecycle(ctx, "activated", result.Activated)
	metrics.RecordLifecycle(ctx, "completed", result.Completed)

	span.SetAttributes(
		attribute.Int("expired", result.Expired),
		attribute.Int("activated", result.Activated),
		attribute.Int("completed", result.Completed),
		attribute.Int("skipped", result.Skipped),
	)

	if len(errs) > 0 {
		err := errors.Join(errs...)
		setSpanError(span, err)
		return result, err
	}
	span.SetStatus(codes.Ok, "")
	return result, nil
}

func (s *bookingService) GetCarAvailability(ctx context.Context, carID string) (*CarAvailability, error) {
	ctx, span := telemetry.StartSpan(ctx, "service.booking.car_availability")
	defer span.End()
	span.SetAttributes(attribute.String("car_id", carID))

	sctx, cancel := s.storeCtx(ctx)
	car, err := s.carRepo.GetByID(sctx, carID)
	cancel()
	if err != nil {
		setSpanError(span, err)
		if domain.IsNotFoundError(err) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to load car: %w", err)
	}

	booked, err := s.ListLiveBookings(ctx, carID)
	if err != nil {
		setSpanError(span, err)
		return nil, err
	}

	return &CarAvailability{CarID: car.ID, Available: car.Available, Booked: booked}, nil
}

// publish reports a committed change. It never fails the operation and is
// detached from the caller's cancellation.
func (s *bookingService) publish(ctx context.Context, booking *domain.Booking) {
	pctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), publishTimeout)
	defer cancel()

	if err := publishFor(pctx, s.eventPublisher, booking); err != nil {
		s.log.ErrorContext(ctx, "Failed to publish booking event",
			zap.String("booking_id", booking.ID),
			zap.String("status", booking.Status.String()),
			zap.Error(err),
		)
	}
}

func outcomeOf(err error) string {
	switch {
	case domain.IsConflictError(err):
		return "conflict"
	case domain.IsValidationError(err):
		return "invalid"
	case domain.IsNotFoundError(err):
		return "not_found"
	}
	return "error"
}

func setSpanError(span trace.Span, err error) {
	if !domain.IsDomainError(err) {
		span.RecordError(err)
	}
	span.SetStatus(codes.Error, err.Error())
}
