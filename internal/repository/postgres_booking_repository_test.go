package repository

import (
	"context"
	"fmt"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/kammounmedaziz/ekrini-app/internal/domain"
	"github.com/kammounmedaziz/ekrini-app/migrations"
	"github.com/kammounmedaziz/ekrini-app/pkg/database"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func skipIfNoIntegration(t *testing.T) {
	if os.Getenv("INTEGRATION_TEST") != "true" {
		t.Skip("Skipping integration test. Set INTEGRATION_TEST=true to run")
	}
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

// getPostgresPool connects to the test database and applies migrations
func getPostgresPool(t *testing.T) *pgxpool.Pool {
	skipIfNoIntegration(t)

	connStr := fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=disable",
		envOr("TEST_POSTGRES_USER", "postgres"),
		envOr("TEST_POSTGRES_PASSWORD", "postgres"),
		envOr("TEST_POSTGRES_HOST", "localhost"),
		envOr("TEST_POSTGRES_PORT", "5432"),
		envOr("TEST_POSTGRES_DB", "ekrini_booking_test"),
	)

	ctx := context.Background()
	pool, err := pgxpool.New(ctx, connStr)
	require.NoError(t, err)
	require.NoError(t, pool.Ping(ctx))

	_, err = database.Migrate(ctx, pool, migrations.FS)
	require.NoError(t, err)

	t.Cleanup(pool.Close)
	return pool
}

func createTestCar(t *testing.T, pool *pgxpool.Pool) string {
	t.Helper()
	id := "test-car-" + uuid.New().String()
	_, err := pool.Exec(context.Background(), `
		INSERT INTO cars (id, title, category, price_per_day, city, address)
		VALUES ($1, 'Test car', 'sedan', 50, 'Tunis', 'Rue 1')`, id)
	require.NoError(t, err)

	t.Cleanup(func() {
		ctx := context.Background()
		_, _ = pool.Exec(ctx, `DELETE FROM bookings WHERE car_id = $1`, id)
		_, _ = pool.Exec(ctx, `DELETE FROM cars WHERE id = $1`, id)
	})
	return id
}

func TestPostgresBookingRepository_CreateAndConfirm(t *testing.T) {
	pool := getPostgresPool(t)
	repo := NewPostgresBookingRepository(pool)
	carID := createTestCar(t, pool)
	ctx := context.Background()

	first := seedConfirmed(t, repo, carID, hours(10, 12))

	got, err := repo.GetByID(ctx, first.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.BookingStatusConfirmed, got.Status)
	assert.True(t, got.Interval.Start.Equal(hours(10, 12).Start))

	_, err = repo.CreateIfNoConflict(ctx, newBooking(carID, hours(11, 13)), domain.ConflictWith(hours(11, 13), ""))
	var ce *domain.ConflictError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, first.ID, ce.BookingID)

	_, err = repo.CreateIfNoConflict(ctx, newBooking(carID, hours(12, 13)), domain.ConflictWith(hours(12, 13), ""))
	assert.NoError(t, err)

	live, err := repo.ListLiveBookings(ctx, carID)
	require.NoError(t, err)
	require.Len(t, live, 1)
	assert.Equal(t, first.ID, live[0].BookingID)
}

func TestPostgresBookingRepository_ConfirmAfterCompetingConfirm(t *testing.T) {
	pool := getPostgresPool(t)
	repo := NewPostgresBookingRepository(pool)
	carID := createTestCar(t, pool)
	ctx := context.Background()

	a, err := repo.CreateIfNoConflict(ctx, newBooking(carID, hours(14, 16)), domain.ConflictWith(hours(14, 16), ""))
	require.NoError(t, err)
	b, err := repo.CreateIfNoConflict(ctx, newBooking(carID, hours(15, 17)), domain.ConflictWith(hours(15, 17), ""))
	require.NoError(t, err)

	_, err = repo.ConfirmIfNoConflict(ctx, &domain.StatusChange{
		BookingID: b.ID, From: domain.BookingStatusPending, To: domain.BookingStatusConfirmed,
	}, domain.ConflictWith(b.Interval, b.ID))
	require.NoError(t, err)

	_, err = repo.ConfirmIfNoConflict(ctx, &domain.StatusChange{
		BookingID: a.ID, From: domain.BookingStatusPending, To: domain.BookingStatusConfirmed,
	}, domain.ConflictWith(a.Interval, a.ID))
	assert.True(t, domain.IsConflictError(err))

	stored, err := repo.GetByID(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.BookingStatusPending, stored.Status)
}

func TestPostgresBookingRepository_ConcurrentConfirm(t *testing.T) {
	pool := getPostgresPool(t)
	repo := NewPostgresBookingRepository(pool)
	carID := createTestCar(t, pool)
	ctx := context.Background()

	const n = 10
	pending := make([]*domain.Booking, n)
	for i := range pending {
		b, err := repo.CreateIfNoConflict(ctx, newBooking(carID, hours(10, 12)), domain.ConflictWith(hours(10, 12), ""))
		require.NoError(t, err)
		pending[i] = b
	}

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		winners int
	)
	for _, b := range pending {
		wg.Add(1)
		go func(b *domain.Booking) {
			defer wg.Done()
			_, err := repo.ConfirmIfNoConflict(ctx, &domain.StatusChange{
				BookingID: b.ID, From: domain.BookingStatusPending, To: domain.BookingStatusConfirmed,
			}, domain.ConflictWith(b.Interval, b.ID))
			if err == nil {
				mu.Lock()
				winners++
				mu.Unlock()
				return
			}
			assert.True(t, domain.IsConflictError(err), "unexpected error: %v", err)
		}(b)
	}
	wg.Wait()

	assert.Equal(t, 1, winners)
}

func TestPostgresBookingRepository_UpdateStatus(t *testing.T) {
	pool := getPostgresPool(t)
	repo := NewPostgresBookingRepository(pool)
	carID := createTestCar(t, pool)
	ctx := context.Background()

	b := seedConfirmed(t, repo, carID, hours(1, 2))

	updated, err := repo.UpdateStatus(ctx, &domain.StatusChange{
		BookingID: b.ID, From: domain.BookingStatusConfirmed, To: domain.BookingStatusCancelled, At: time.Now(),
	})
	require.NoError(t, err)
	assert.Equal(t, domain.BookingStatusCancelled, updated.Status)

	_, err = repo.UpdateStatus(ctx, &domain.StatusChange{
		BookingID: b.ID, From: domain.BookingStatusConfirmed, To: domain.BookingStatusActive,
	})
	assert.True(t, domain.IsStaleStateError(err))

	_, err = repo.UpdateStatus(ctx, &domain.StatusChange{
		BookingID: uuid.New().String(), From: domain.BookingStatusConfirmed, To: domain.BookingStatusActive,
	})
	assert.True(t, domain.IsNotFoundError(err))

	_, err = repo.GetByID(ctx, "not-a-uuid")
	assert.True(t, domain.IsNotFoundError(err))
}

func TestPostgresCarRepository_GetByID(t *testing.T) {
	pool := getPostgresPool(t)
	repo := NewPostgresCarRepository(pool)
	carID := createTestCar(t, pool)

	car, err := repo.GetByID(context.Background(), carID)
	require.NoError(t, err)
	assert.Equal(t, domain.CarCategorySedan, car.Category)
	assert.True(t, car.Available)

	_, err = repo.GetByID(context.Background(), "test-car-missing")
	assert.True(t, domain.IsNotFoundError(err))
}

// commitRecorder captures the context Commit is called with
type commitRecorder struct {
	pgx.Tx
	commitCtxErr error
	committed    bool
}

func (r *commitRecorder) Commit(ctx context.Context) error {
	r.committed = true
	r.commitCtxErr = ctx.Err()
	return nil
}

func TestCommitTx_OutlivesStoreDeadline(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Nanosecond)
	defer cancel()
	<-ctx.Done()

	tx := &commitRecorder{}
	require.NoError(t, commitTx(ctx, tx))
	assert.True(t, tx.committed)
	assert.NoError(t, tx.commitCtxErr, "commit must not inherit the expired deadline")
}
