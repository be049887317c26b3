package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "ekrini-booking", cfg.App.Name)
	assert.True(t, cfg.IsDevelopment())
	assert.Equal(t, 8083, cfg.Server.Port)
	assert.Equal(t, "postgres", cfg.Booking.Store)
	assert.Equal(t, time.Hour, cfg.Booking.MinLeadTime)
	assert.Equal(t, 15*time.Minute, cfg.Booking.PendingTTL)
	assert.Equal(t, 5*time.Second, cfg.Booking.StoreTimeout)
	assert.Equal(t, 3, cfg.Booking.ReadMaxRetries)
	assert.Equal(t, []string{"localhost:9092"}, cfg.Kafka.Brokers)
	assert.Equal(t, "booking.events", cfg.Booking.EventsTopic)
	assert.Empty(t, cfg.Booking.MemoryCars)
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("BOOKING_MIN_LEAD_TIME", "30m")
	t.Setenv("BOOKING_STORE", "MEMORY")
	t.Setenv("KAFKA_BROKERS", "kafka-1:9092, kafka-2:9092,")
	t.Setenv("SERVER_PORT", "9000")
	t.Setenv("BOOKING_MEMORY_CARS", "car-1,car-2")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 30*time.Minute, cfg.Booking.MinLeadTime)
	assert.Equal(t, "memory", cfg.Booking.Store)
	assert.Equal(t, []string{"kafka-1:9092", "kafka-2:9092"}, cfg.Kafka.Brokers)
	assert.Equal(t, 9000, cfg.Server.Port)
	assert.Equal(t, []string{"car-1", "car-2"}, cfg.Booking.MemoryCars)
}

func TestLoadWithPath(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "test.env")
	content := "APP_NAME=ekrini-test\nBOOKING_PENDING_TTL=5m\nDATABASE_DBNAME=booking_test\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	cfg, err := LoadWithPath(path)
	require.NoError(t, err)

	assert.Equal(t, "ekrini-test", cfg.App.Name)
	assert.Equal(t, 5*time.Minute, cfg.Booking.PendingTTL)
	assert.Equal(t, "booking_test", cfg.Database.DBName)
}

func TestLoadWithPath_MissingFile(t *testing.T) {
	_, err := LoadWithPath(filepath.Join(t.TempDir(), "missing.env"))
	assert.Error(t, err)
}

func TestConfig_Validate(t *testing.T) {
	valid := func() *Config {
		return &Config{
			App:    AppConfig{Name: "ekrini-booking", Environment: "development"},
			Server: ServerConfig{Port: 8083},
			JWT:    JWTConfig{Secret: "secret"},
			Booking: BookingConfig{
				Store:        "postgres",
				MinLeadTime:  time.Hour,
				PendingTTL:   15 * time.Minute,
				StoreTimeout: 5 * time.Second,
			},
		}
	}

	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr bool
	}{
		{name: "valid", mutate: func(c *Config) {}},
		{name: "missing app name", mutate: func(c *Config) { c.App.Name = "" }, wantErr: true},
		{name: "bad port", mutate: func(c *Config) { c.Server.Port = 70000 }, wantErr: true},
		{name: "empty jwt secret", mutate: func(c *Config) { c.JWT.Secret = "" }, wantErr: true},
		{
			name: "default jwt secret in production",
			mutate: func(c *Config) {
				c.App.Environment = "production"
				c.JWT.Secret = defaultJWTSecret
			},
			wantErr: true,
		},
		{name: "unknown store", mutate: func(c *Config) { c.Booking.Store = "mongo" }, wantErr: true},
		{
			name: "memory store in production",
			mutate: func(c *Config) {
				c.App.Environment = "production"
				c.Booking.Store = "memory"
			},
			wantErr: true,
		},
		{name: "zero lead time allowed", mutate: func(c *Config) { c.Booking.MinLeadTime = 0 }},
		{name: "negative lead time", mutate: func(c *Config) { c.Booking.MinLeadTime = -time.Minute }, wantErr: true},
		{name: "zero store timeout", mutate: func(c *Config) { c.Booking.StoreTimeout = 0 }, wantErr: true},
		{name: "zero pending ttl", mutate: func(c *Config) { c.Booking.PendingTTL = 0 }, wantErr: true},
		{name: "negative read retries", mutate: func(c *Config) { c.Booking.ReadMaxRetries = -1 }, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := valid()
			tt.mutate(c)
			err := c.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestDatabaseConfig_DSN(t *testing.T) {
	d := &DatabaseConfig{Host: "db", Port: 5432, User: "u", Password: "p", DBName: "bookings", SSLMode: "disable"}
	assert.Equal(t, "host=db port=5432 user=u password=p dbname=bookings sslmode=disable", d.DSN())
}
