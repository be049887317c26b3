package di

import (
	"context"
	"fmt"
	"time"

	"github.com/kammounmedaziz/ekrini-app/internal/domain"
	"github.com/kammounmedaziz/ekrini-app/internal/handler"
	"github.com/kammounmedaziz/ekrini-app/internal/repository"
	"github.com/kammounmedaziz/ekrini-app/internal/service"
	"github.com/kammounmedaziz/ekrini-app/migrations"
	"github.com/kammounmedaziz/ekrini-app/pkg/config"
	"github.com/kammounmedaziz/ekrini-app/pkg/database"
	"github.com/kammounmedaziz/ekrini-app/pkg/logger"
	"github.com/kammounmedaziz/ekrini-app/pkg/redis"
	"github.com/kammounmedaziz/ekrini-app/pkg/retry"
	"go.uber.org/zap"
)

// Container holds all dependencies for the booking service
type Container struct {
	// Infrastructure
	DB    *database.PostgresDB
	Redis *redis.Client

	// Repositories
	BookingRepo repository.BookingRepository
	CarRepo     repository.CarRepository

	// Publishers
	EventPublisher service.EventPublisher

	// Services
	Clock          service.Clock
	BookingService service.BookingService

	// Handlers
	HealthHandler  *handler.HealthHandler
	BookingHandler *handler.BookingHandler
}

// ContainerConfig contains configuration for building the container
type ContainerConfig struct {
	DB             *database.PostgresDB
	Redis          *redis.Client
	BookingRepo    repository.BookingRepository
	CarRepo        repository.CarRepository
	EventPublisher service.EventPublisher
	ServiceConfig  *service.BookingServiceConfig
	Logger         *logger.Logger
}

// NewContainer creates a new dependency injection container
func NewContainer(cfg *ContainerConfig) *Container {
	c := &Container{
		DB:             cfg.DB,
		Redis:          cfg.Redis,
		BookingRepo:    cfg.BookingRepo,
		CarRepo:        cfg.CarRepo,
		EventPublisher: cfg.EventPublisher,
	}
	if c.EventPublisher == nil {
		c.EventPublisher = service.NewNoOpEventPublisher()
	}

	svcCfg := cfg.ServiceConfig
	if svcCfg == nil {
		svcCfg = &service.BookingServiceConfig{}
	}
	if svcCfg.Clock == nil {
		svcCfg.Clock = service.SystemClock{}
	}
	if svcCfg.Logger == nil {
		svcCfg.Logger = cfg.Logger
	}
	c.Clock = svcCfg.Clock

	// Initialize services
	c.BookingService = service.NewBookingService(
		c.BookingRepo,
		c.CarRepo,
		c.EventPublisher,
		svcCfg,
	)

	// Initialize handlers. A nil pointer must not reach the map as a
	// non-nil interface.
	checks := map[string]handler.HealthChecker{}
	if c.DB != nil {
		checks["postgres"] = c.DB
	}
	if c.Redis != nil {
		checks["redis"] = c.Redis
	}
	c.HealthHandler = handler.NewHealthHandler(checks)
	c.BookingHandler = handler.NewBookingHandler(c.BookingService, c.Clock, cfg.Logger)

	return c
}

// ServiceConfig maps booking policy from the environment onto the service
func ServiceConfig(cfg *config.BookingConfig, log *logger.Logger) *service.BookingServiceConfig {
	readRetry := retry.DefaultConfig()
	readRetry.MaxRetries = cfg.ReadMaxRetries
	if cfg.ReadRetryInterval > 0 {
		readRetry.InitialInterval = cfg.ReadRetryInterval
	}

	return &service.BookingServiceConfig{
		MinLeadTime:  cfg.MinLeadTime,
		PendingTTL:   cfg.PendingTTL,
		StoreTimeout: cfg.StoreTimeout,
		ReadRetry:    readRetry,
		Logger:       log,
	}
}

// Options toggles the infrastructure a binary needs
type Options struct {
	// Redis is optional unless RequireRedis is set
	Redis        bool
	RequireRedis bool

	// Publisher connects a Kafka producer for booking events
	Publisher bool
}

// Build connects the infrastructure selected by cfg and assembles the
// container. Kafka failures fall back to a no-op publisher; a missing
// Redis is fatal only when opts.RequireRedis is set.
func Build(ctx context.Context, cfg *config.Config, opts Options, log *logger.Logger) (*Container, error) {
	if log == nil {
		log = logger.Get()
	}
	cc := &ContainerConfig{
		ServiceConfig: ServiceConfig(&cfg.Booking, log),
		Logger:        log,
	}

	switch cfg.Booking.Store {
	case "memory":
		log.Warn("Using in-memory booking store; reservations are lost on restart",
			zap.Int("seeded_cars", len(cfg.Booking.MemoryCars)),
		)
		cc.BookingRepo = repository.NewMemoryBookingRepository()
		cc.CarRepo = repository.NewMemoryCarRepository(seedCars(cfg.Booking.MemoryCars)...)
	default:
		db, err := connectPostgres(ctx, cfg, log)
		if err != nil {
			return nil, err
		}
		cc.DB = db
		cc.BookingRepo = repository.NewPostgresBookingRepository(db.Pool())
		cc.CarRepo = repository.NewPostgresCarRepository(db.Pool())
	}

	if opts.Redis {
		rdb, err := connectRedis(ctx, cfg)
		switch {
		case err == nil:
			cc.Redis = rdb
			log.Info("Connected to Redis", zap.String("addr", cfg.Redis.Addr()))
		case opts.RequireRedis:
			closeInfra(cc)
			return nil, err
		default:
			log.Warn("Redis unavailable, idempotency keys disabled", zap.Error(err))
		}
	}

	if opts.Publisher {
		cc.EventPublisher = connectPublisher(ctx, cfg, log)
	}

	return NewContainer(cc), nil
}

func connectPostgres(ctx context.Context, cfg *config.Config, log *logger.Logger) (*database.PostgresDB, error) {
	dbCfg := &database.PostgresConfig{
		Host:            cfg.Database.Host,
		Port:            cfg.Database.Port,
		User:            cfg.Database.User,
		Password:        cfg.Database.Password,
		Database:        cfg.Database.DBName,
		SSLMode:         cfg.Database.SSLMode,
		MaxConns:        int32(cfg.Database.MaxConns),
		MinConns:        int32(cfg.Database.MinConns),
		MaxConnLifetime: cfg.Database.ConnMaxLifetime,
		MaxConnIdleTime: cfg.Database.ConnMaxIdleTime,
		ConnectTimeout:  10 * time.Second,
		MaxRetries:      5,
		RetryInterval:   2 * time.Second,
		EnableTracing:   cfg.OTel.Enabled,
	}

	db, err := database.NewPostgres(ctx, dbCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	log.Info("Connected to PostgreSQL",
		zap.String("host", cfg.Database.Host),
		zap.String("database", cfg.Database.DBName),
	)

	if cfg.Database.AutoMigrate {
		applied, err := db.Migrate(ctx, migrations.FS)
		if err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to run migrations: %w", err)
		}
		log.Info("Database migrations applied", zap.Strings("versions", applied))
	}
	return db, nil
}

func connectRedis(ctx context.Context, cfg *config.Config) (*redis.Client, error) {
	redisCfg := &redis.Config{
		Host:          cfg.Redis.Host,
		Port:          cfg.Redis.Port,
		Password:      cfg.Redis.Password,
		DB:            cfg.Redis.DB,
		PoolSize:      cfg.Redis.PoolSize,
		MinIdleConns:  cfg.Redis.MinIdleConns,
		DialTimeout:   cfg.Redis.DialTimeout,
		ReadTimeout:   cfg.Redis.ReadTimeout,
		WriteTimeout:  cfg.Redis.WriteTimeout,
		MaxRetries:    3,
		RetryInterval: time.Second,
		EnableTracing: cfg.OTel.Enabled,
	}
	rdb, err := redis.NewClient(ctx, redisCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}
	return rdb, nil
}

func connectPublisher(ctx context.Context, cfg *config.Config, log *logger.Logger) service.EventPublisher {
	if len(cfg.Kafka.Brokers) == 0 {
		log.Warn("No Kafka brokers configured, booking events are dropped")
		return service.NewNoOpEventPublisher()
	}

	publisher, err := service.NewKafkaEventPublisher(ctx, &service.EventPublisherConfig{
		Brokers:     cfg.Kafka.Brokers,
		Topic:       cfg.Booking.EventsTopic,
		ServiceName: cfg.App.Name,
		ClientID:    cfg.Kafka.ClientID + "-producer",
	})
	if err != nil {
		log.Warn("Failed to create Kafka event publisher, using no-op publisher", zap.Error(err))
		return service.NewNoOpEventPublisher()
	}
	log.Info("Kafka event publisher initialized",
		zap.Strings("brokers", cfg.Kafka.Brokers),
		zap.String("topic", cfg.Booking.EventsTopic),
	)
	return publisher
}

// seedCars turns configured ids into bookable cars for the memory store
func seedCars(ids []string) []*domain.Car {
	now := time.Now().UTC()
	cars := make([]*domain.Car, 0, len(ids))
	for _, id := range ids {
		cars = append(cars, &domain.Car{
			ID:        id,
			Title:     id,
			Category:  domain.CarCategorySedan,
			Available: true,
			CreatedAt: now,
			UpdatedAt: now,
		})
	}
	return cars
}

// Close releases the publisher, Redis and the database pool
func (c *Container) Close() {
	if c.EventPublisher != nil {
		if err := c.EventPublisher.Close(); err != nil {
			logger.Get().Warn("Failed to close event publisher", zap.Error(err))
		}
	}
	closeInfra(&ContainerConfig{DB: c.DB, Redis: c.Redis})
}

func closeInfra(cc *ContainerConfig) {
	if cc.Redis != nil {
		if err := cc.Redis.Close(); err != nil {
			logger.Get().Warn("Failed to close redis", zap.Error(err))
		}
	}
	if cc.DB != nil {
		cc.DB.Close()
	}
}
