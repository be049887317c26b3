package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/kammounmedaziz/ekrini-app/internal/domain"
	"github.com/kammounmedaziz/ekrini-app/pkg/telemetry"
	"go.opentelemetry.io/otel/attribute"
)

type PostgresCarRepository struct {
	pool *pgxpool.Pool
}

func NewPostgresCarRepository(pool *pgxpool.Pool) *PostgresCarRepository {
	return &PostgresCarRepository{pool: pool}
}

func (r *PostgresCarRepository) GetByID(ctx context.Context, id string) (*domain.Car, error) {
	ctx, span := telemetry.StartSpan(ctx, "repo.postgres.car.get_by_id")
	defer span.End()
	span.SetAttributes(attribute.String("car_id", id))

	car := &domain.Car{}
	var category string
	err := r.pool.QueryRow(ctx, `
		SELECT id, owner_id, title, category, price_per_day, city, address,
		       available, created_at, updated_at
		FROM cars
		WHERE id = $1`, id).Scan(
		&car.ID,
		&car.OwnerID,
		&car.Title,
		&category,
		&car.PricePerDay,
		&car.City,
		&car.Address,
		&car.Available,
		&car.CreatedAt,
		&car.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, &domain.NotFoundError{Entity: "car", ID: id}
		}
		failSpan(span, err)
		return nil, fmt.Errorf("failed to get car: %w", err)
	}
	car.Category = domain.CarCategory(category)
	return car, nil
}
