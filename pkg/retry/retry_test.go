package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fastConfig(maxRetries int) *Config {
	return &Config{
		MaxRetries:      maxRetries,
		InitialInterval: time.Millisecond,
		MaxInterval:     5 * time.Millisecond,
		Multiplier:      2.0,
	}
}

func TestNew_FillsDefaults(t *testing.T) {
	r := New(&Config{MaxRetries: -2, Multiplier: 0.5, JitterFactor: 3})

	assert.Equal(t, 0, r.config.MaxRetries)
	assert.Equal(t, 100*time.Millisecond, r.config.InitialInterval)
	assert.Equal(t, 2*time.Second, r.config.MaxInterval)
	assert.Equal(t, 2.0, r.config.Multiplier)
	assert.Equal(t, 1.0, r.config.JitterFactor)

	assert.NotNil(t, New(nil).config)
}

func TestRetrier_Do(t *testing.T) {
	errTemp := errors.New("temporary")

	tests := []struct {
		name         string
		maxRetries   int
		failures     int
		wantErr      error
		wantAttempts int
	}{
		{name: "first attempt succeeds", maxRetries: 3, failures: 0, wantAttempts: 1},
		{name: "succeeds after retries", maxRetries: 5, failures: 2, wantAttempts: 3},
		{name: "retries exhausted", maxRetries: 2, failures: 10, wantErr: ErrMaxRetriesExceeded, wantAttempts: 3},
		{name: "single attempt", maxRetries: 0, failures: 1, wantErr: ErrMaxRetriesExceeded, wantAttempts: 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			calls := 0
			res := New(fastConfig(tt.maxRetries)).Do(context.Background(), func(ctx context.Context) error {
				calls++
				if calls <= tt.failures {
					return errTemp
				}
				return nil
			})

			if tt.wantErr != nil {
				assert.ErrorIs(t, res.Err, tt.wantErr)
				assert.ErrorIs(t, res.Cause(), errTemp)
			} else {
				assert.NoError(t, res.Err)
				assert.NoError(t, res.Cause())
			}
			assert.Equal(t, tt.wantAttempts, res.Attempts)
			assert.Equal(t, tt.wantAttempts, calls)
		})
	}
}

func TestRetrier_Do_PermanentStopsImmediately(t *testing.T) {
	errFatal := errors.New("fatal")
	calls := 0

	res := New(fastConfig(5)).Do(context.Background(), func(ctx context.Context) error {
		calls++
		return Permanent(errFatal)
	})

	assert.Equal(t, 1, calls)
	assert.ErrorIs(t, res.Err, errFatal)
	assert.ErrorIs(t, res.Cause(), errFatal)
}

func TestRetrier_Do_ShouldRetry(t *testing.T) {
	errNotFound := errors.New("not found")
	cfg := fastConfig(5)
	cfg.ShouldRetry = func(err error) bool { return !errors.Is(err, errNotFound) }

	calls := 0
	res := New(cfg).Do(context.Background(), func(ctx context.Context) error {
		calls++
		return errNotFound
	})

	assert.Equal(t, 1, calls)
	assert.ErrorIs(t, res.Err, errNotFound)
}

func TestRetrier_Do_ContextCanceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cfg := &Config{MaxRetries: 10, InitialInterval: time.Second, MaxInterval: time.Second, Multiplier: 1}

	calls := 0
	res := New(cfg).Do(ctx, func(ctx context.Context) error {
		calls++
		cancel()
		return errors.New("boom")
	})

	assert.Equal(t, 1, calls)
	assert.ErrorIs(t, res.Err, ErrContextCanceled)
	assert.EqualError(t, res.Cause(), "boom")
}

func TestRetrier_DoWithCallback(t *testing.T) {
	var attempts []int
	res := New(fastConfig(2)).DoWithCallback(context.Background(),
		func(ctx context.Context) error { return errors.New("again") },
		func(attempt int, err error, next time.Duration) {
			attempts = append(attempts, attempt)
			assert.Positive(t, next)
		},
	)

	require.ErrorIs(t, res.Err, ErrMaxRetriesExceeded)
	assert.Equal(t, []int{1, 2}, attempts)
}

func TestRetrier_Backoff(t *testing.T) {
	r := New(&Config{
		MaxRetries:      5,
		InitialInterval: time.Second,
		MaxInterval:     30 * time.Second,
		Multiplier:      2.0,
	})

	tests := []struct {
		attempt int
		want    time.Duration
	}{
		{0, time.Second},
		{1, 2 * time.Second},
		{3, 8 * time.Second},
		{5, 30 * time.Second},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, r.backoff(tt.attempt), "attempt %d", tt.attempt)
	}
}

func TestRetrier_BackoffJitterBounds(t *testing.T) {
	r := New(&Config{InitialInterval: time.Second, MaxInterval: time.Minute, Multiplier: 2, JitterFactor: 0.1})

	for i := 0; i < 50; i++ {
		got := r.backoff(0)
		assert.GreaterOrEqual(t, got, 900*time.Millisecond)
		assert.LessOrEqual(t, got, 1100*time.Millisecond)
	}
}

func TestPermanent(t *testing.T) {
	assert.Nil(t, Permanent(nil))

	base := errors.New("base")
	err := Permanent(base)
	var pe *PermanentError
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, "base", pe.Error())
	assert.ErrorIs(t, err, base)
}
