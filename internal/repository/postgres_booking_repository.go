package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/kammounmedaziz/ekrini-app/internal/domain"
	"github.com/kammounmedaziz/ekrini-app/pkg/telemetry"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// ErrConfirmNeedsConflictCheck is returned by UpdateStatus for a promotion to confirmed
var ErrConfirmNeedsConflictCheck = errors.New("promotion to confirmed must use ConfirmIfNoConflict")

const (
	pgExclusionViolation = "23P01"

	bookingColumns = `id::text, car_id, renter_id, start_time, end_time, status,
		total_price, COALESCE(payment_ref, ''), created_at, updated_at`
)

// PostgresBookingRepository implements BookingRepository on PostgreSQL.
// Check-then-write runs under a transaction-scoped advisory lock keyed by
// car id; the bookings_no_live_overlap exclusion constraint backs it up.
type PostgresBookingRepository struct {
	pool *pgxpool.Pool
}

func NewPostgresBookingRepository(pool *pgxpool.Pool) *PostgresBookingRepository {
	return &PostgresBookingRepository{pool: pool}
}

type querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type rowScanner interface {
	Scan(dest ...any) error
}

func (r *PostgresBookingRepository) ListLiveBookings(ctx context.Context, carID string) ([]domain.LiveBooking, error) {
	ctx, span := telemetry.StartSpan(ctx, "repo.postgres.booking.list_live")
	defer span.End()
	span.SetAttributes(attribute.String("car_id", carID))

	live, err := listLive(ctx, r.pool, carID)
	if err != nil {
		failSpan(span, err)
		return nil, err
	}
	span.SetAttributes(attribute.Int("live_count", len(live)))
	return live, nil
}

func (r *PostgresBookingRepository) CreateIfNoConflict(ctx context.Context, booking *domain.Booking, predicate domain.ConflictPredicate) (*domain.Booking, error) {
	ctx, span := telemetry.StartSpan(ctx, "repo.postgres.booking.create_if_no_conflict")
	defer span.End()
	span.SetAttributes(
		attribute.String("booking_id", booking.ID),
		attribute.String("car_id", booking.CarID),
	)

	var created *domain.Booking
	err := r.withCarLock(ctx, booking.CarID, func(tx pgx.Tx) error {
		live, err := listLive(ctx, tx, booking.CarID)
		if err != nil {
			return err
		}
		if blocking, found := predicate(live); found {
			return conflictFrom(booking.CarID, blocking)
		}

		query := `
			INSERT INTO bookings (
				id, car_id, renter_id, start_time, end_time, status,
				total_price, payment_ref, created_at, updated_at
			) VALUES ($1, $2, $3, $4, $5, $6, $7, NULLIF($8, ''), $9, $10)
			RETURNING ` + bookingColumns

		created, err = scanBooking(tx.QueryRow(ctx, query,
			booking.ID,
			booking.CarID,
			booking.RenterID,
			booking.Interval.Start,
			booking.Interval.End,
			booking.Status.String(),
			booking.TotalPrice,
			booking.PaymentRef,
			booking.CreatedAt,
			booking.UpdatedAt,
		))
		if err != nil {
			return r.mapWriteError(ctx, err, booking.CarID, booking.Interval)
		}
		return nil
	})
	if err != nil {
		failSpan(span, err)
		return nil, err
	}

	span.SetStatus(codes.Ok, "")
	return created, nil
}

func (r *PostgresBookingRepository) UpdateStatus(ctx context.Context, change *domain.StatusChange) (*domain.Booking, error) {
	ctx, span := telemetry.StartSpan(ctx, "repo.postgres.booking.update_status")
	defer span.End()
	span.SetAttributes(
		attribute.String("booking_id", change.BookingID),
		attribute.String("from", change.From.String()),
		attribute.String("to", change.To.String()),
	)

	if change.To == domain.BookingStatusConfirmed {
		return nil, ErrConfirmNeedsConflictCheck
	}
	if err := domain.ValidateTransition(change.From, change.To); err != nil {
		return nil, err
	}
	if !isUUID(change.BookingID) {
		return nil, &domain.NotFoundError{Entity: "booking", ID: change.BookingID}
	}

	updated, err := compareAndSwap(ctx, r.pool, change)
	if err != nil {
		failSpan(span, err)
		return nil, err
	}
	span.SetStatus(codes.Ok, "")
	return updated, nil
}

func (r *PostgresBookingRepository) ConfirmIfNoConflict(ctx context.Context, change *domain.StatusChange, predicate domain.ConflictPredicate) (*domain.Booking, error) {
	ctx, span := telemetry.StartSpan(ctx, "repo.postgres.booking.confirm_if_no_conflict")
	defer span.End()
	span.SetAttributes(attribute.String("booking_id", change.BookingID))

	if err := domain.ValidateTransition(change.From, change.To); err != nil {
		return nil, err
	}
	if change.To != domain.BookingStatusConfirmed {
		return nil, &domain.TransitionError{From: change.From, To: change.To}
	}

	// car_id never changes, so reading it before taking the lock is safe
	current, err := r.GetByID(ctx, change.BookingID)
	if err != nil {
		failSpan(span, err)
		return nil, err
	}
	span.SetAttributes(attribute.String("car_id", current.CarID))

	var confirmed *domain.Booking
	err = r.withCarLock(ctx, current.CarID, func(tx pgx.Tx) error {
		live, err := listLive(ctx, tx, current.CarID)
		if err != nil {
			return err
		}
		if blocking, found := predicate(live); found {
			return conflictFrom(current.CarID, blocking)
		}

		confirmed, err = compareAndSwap(ctx, tx, change)
		if err != nil {
			return r.mapWriteError(ctx, err, current.CarID, current.Interval)
		}
		return nil
	})
	if err != nil {
		failSpan(span, err)
		return nil, err
	}

	span.SetStatus(codes.Ok, "")
	return confirmed, nil
}

func (r *PostgresBookingRepository) GetByID(ctx context.Context, id string) (*domain.Booking, error) {
	ctx, span := telemetry.StartSpan(ctx, "repo.postgres.booking.get_by_id")
	defer span.End()
	span.SetAttributes(attribute.String("booking_id", id))

	if !isUUID(id) {
		return nil, &domain.NotFoundError{Entity: "booking", ID: id}
	}

	booking, err := scanBooking(r.pool.QueryRow(ctx,
		`SELECT `+bookingColumns+` FROM bookings WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			span.SetStatus(codes.Error, "not found")
			return nil, &domain.NotFoundError{Entity: "booking", ID: id}
		}
		failSpan(span, err)
		return nil, fmt.Errorf("failed to get booking: %w", err)
	}
	return booking, nil
}

func (r *PostgresBookingRepository) ListByRenter(ctx context.Context, renterID string, limit, offset int) ([]*domain.Booking, error) {
	ctx, span := telemetry.StartSpan(ctx, "repo.postgres.booking.list_by_renter")
	defer span.End()
	span.SetAttributes(attribute.String("renter_id", renterID))

	return r.queryBookings(ctx, span, `
		SELECT `+bookingColumns+`
		FROM bookings
		WHERE renter_id = $1
		ORDER BY created_at DESC, id
		LIMIT $2 OFFSET $3`, renterID, limit, offset)
}

func (r *PostgresBookingRepository) CountByRenter(ctx context.Context, renterID string) (int64, error) {
	var n int64
	err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM bookings WHERE renter_id = $1`, renterID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count bookings: %w", err)
	}
	return n, nil
}

func (r *PostgresBookingRepository) ListExpiredPending(ctx context.Context, createdBefore, startBefore time.Time, limit int) ([]*domain.Booking, error) {
	ctx, span := telemetry.StartSpan(ctx, "repo.postgres.booking.list_expired_pending")
	defer span.End()

	return r.queryBookings(ctx, span, `
		SELECT `+bookingColumns+`
		FROM bookings
		WHERE status = 'pending' AND (created_at < $1 OR start_time <= $2)
		ORDER BY created_at
		LIMIT $3`, createdBefore, startBefore, limit)
}

func (r *PostgresBookingRepository) ListConfirmedStarting(ctx context.Context, now time.Time, limit int) ([]*domain.Booking, error) {
	ctx, span := telemetry.StartSpan(ctx, "repo.postgres.booking.list_confirmed_starting")
	defer span.End()

	return r.queryBookings(ctx, span, `
		SELECT `+bookingColumns+`
		FROM bookings
		WHERE status = 'confirmed' AND start_time <= $1
		ORDER BY start_time
		LIMIT $2`, now, limit)
}

func (r *PostgresBookingRepository) ListActiveEnded(ctx context.Context, now time.Time, limit int) ([]*domain.Booking, error) {
	ctx, span := telemetry.StartSpan(ctx, "repo.postgres.booking.list_active_ended")
	defer span.End()

	return r.queryBookings(ctx, span, `
		SELECT `+bookingColumns+`
		FROM bookings
		WHERE status = 'active' AND end_time <= $1
		ORDER BY end_time
		LIMIT $2`, now, limit)
}

func (r *PostgresBookingRepository) queryBookings(ctx context.Context, span trace.Span, query string, args ...any) ([]*domain.Booking, error) {
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		failSpan(span, err)
		return nil, fmt.Errorf("failed to query bookings: %w", err)
	}
	defer rows.Close()

	var bookings []*domain.Booking
	for rows.Next() {
		b, err := scanBooking(rows)
		if err != nil {
			failSpan(span, err)
			return nil, fmt.Errorf("failed to scan booking: %w", err)
		}
		bookings = append(bookings, b)
	}
	if err := rows.Err(); err != nil {
		failSpan(span, err)
		return nil, fmt.Errorf("failed to iterate bookings: %w", err)
	}
	span.SetAttributes(attribute.Int("result_count", len(bookings)))
	return bookings, nil
}

// withCarLock runs fn in a transaction holding the car's advisory lock.
// The lock is released on commit or rollback.
func (r *PostgresBookingRepository) withCarLock(ctx context.Context, carID string, fn func(tx pgx.Tx) error) error {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(context.WithoutCancel(ctx))

	if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtextextended($1, 0))`, carID); err != nil {
		return fmt.Errorf("failed to lock car %s: %w", carID, err)
	}

	if err := fn(tx); err != nil {
		return err
	}

	return commitTx(ctx, tx)
}

// commitTx commits detached from ctx's deadline. Once COMMIT is sent the
// write may land, so the caller must wait for its outcome.
func commitTx(ctx context.Context, tx pgx.Tx) error {
	if err := tx.Commit(context.WithoutCancel(ctx)); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// mapWriteError turns an exclusion violation into a ConflictError naming the
// booking that now holds the interval.
func (r *PostgresBookingRepository) mapWriteError(ctx context.Context, err error, carID string, candidate domain.Interval) error {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) || pgErr.Code != pgExclusionViolation {
		if domain.IsDomainError(err) {
			return err
		}
		return fmt.Errorf("failed to write booking: %w", err)
	}

	conflict := &domain.ConflictError{CarID: carID, Interval: candidate}
	live, lerr := listLive(context.WithoutCancel(ctx), r.pool, carID)
	if lerr == nil {
		if blocking, found := domain.FindConflict(candidate, live); found {
			conflict.BookingID = blocking.BookingID
			conflict.Interval = blocking.Interval
		}
	}
	return conflict
}

func listLive(ctx context.Context, q querier, carID string) ([]domain.LiveBooking, error) {
	rows, err := q.Query(ctx, `
		SELECT id::text, start_time, end_time
		FROM bookings
		WHERE car_id = $1 AND status IN ('confirmed', 'active')
		ORDER BY start_time, id`, carID)
	if err != nil {
		return nil, fmt.Errorf("failed to list live bookings: %w", err)
	}
	defer rows.Close()

	live := []domain.LiveBooking{}
	for rows.Next() {
		var lb domain.LiveBooking
		if err := rows.Scan(&lb.BookingID, &lb.Interval.Start, &lb.Interval.End); err != nil {
			return nil, fmt.Errorf("failed to scan live booking: %w", err)
		}
		lb.Interval.Start = lb.Interval.Start.UTC()
		lb.Interval.End = lb.Interval.End.UTC()
		live = append(live, lb)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate live bookings: %w", err)
	}
	return live, nil
}

// compareAndSwap applies change only if the stored status is still change.From
func compareAndSwap(ctx context.Context, q querier, change *domain.StatusChange) (*domain.Booking, error) {
	at := change.At
	if at.IsZero() {
		at = time.Now()
	}

	updated, err := scanBooking(q.QueryRow(ctx, `
		UPDATE bookings
		SET status = $3,
		    payment_ref = COALESCE(NULLIF($4, ''), payment_ref),
		    updated_at = $5
		WHERE id = $1 AND status = $2
		RETURNING `+bookingColumns,
		change.BookingID, change.From.String(), change.To.String(), change.PaymentRef, at.UTC(),
	))
	if err == nil {
		return updated, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, err
	}

	var actual string
	err = q.QueryRow(ctx, `SELECT status FROM bookings WHERE id = $1`, change.BookingID).Scan(&actual)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, &domain.NotFoundError{Entity: "booking", ID: change.BookingID}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read booking status: %w", err)
	}
	return nil, &domain.StaleStateError{
		BookingID: change.BookingID,
		Expected:  change.From,
		Actual:    domain.BookingStatus(actual),
	}
}

func scanBooking(row rowScanner) (*domain.Booking, error) {
	b := &domain.Booking{}
	var status string
	err := row.Scan(
		&b.ID,
		&b.CarID,
		&b.RenterID,
		&b.Interval.Start,
		&b.Interval.End,
		&status,
		&b.TotalPrice,
		&b.PaymentRef,
		&b.CreatedAt,
		&b.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	b.Status = domain.BookingStatus(status)
	b.Interval.Start = b.Interval.Start.UTC()
	b.Interval.End = b.Interval.End.UTC()
	b.CreatedAt = b.CreatedAt.UTC()
	b.UpdatedAt = b.UpdatedAt.UTC()
	return b, nil
}

func conflictFrom(carID string, blocking domain.LiveBooking) *domain.ConflictError {
	return &domain.ConflictError{CarID: carID, BookingID: blocking.BookingID, Interval: blocking.Interval}
}

func isUUID(id string) bool {
	_, err := uuid.Parse(id)
	return err == nil
}

func failSpan(span trace.Span, err error) {
	if domain.IsDomainError(err) {
		span.SetStatus(codes.Error, err.Error())
		return
	}
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}
