package worker

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/kammounmedaziz/ekrini-app/internal/service"
	"github.com/kammounmedaziz/ekrini-app/pkg/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type mockAdvancer struct {
	calls       int32
	lastLimit   int32
	AdvanceFunc func(ctx context.Context, limit int) (*service.LifecycleResult, error)
}

func (m *mockAdvancer) AdvanceLifecycle(ctx context.Context, limit int) (*service.LifecycleResult, error) {
	atomic.AddInt32(&m.calls, 1)
	atomic.StoreInt32(&m.lastLimit, int32(limit))
	if m.AdvanceFunc != nil {
		return m.AdvanceFunc(ctx, limit)
	}
	return &service.LifecycleResult{}, nil
}

func nopLogger() *logger.Logger {
	return logger.New(zap.NewNop())
}

func TestNewLifecycleWorker_Defaults(t *testing.T) {
	w := NewLifecycleWorker(&mockAdvancer{}, &LifecycleWorkerConfig{}, nopLogger())
	assert.Equal(t, 30*time.Second, w.config.ScanInterval)
	assert.Equal(t, 100, w.config.BatchSize)
}

func TestLifecycleWorker_RunOnce(t *testing.T) {
	passErr := errors.New("store unavailable")
	results := []struct {
		res *service.LifecycleResult
		err error
	}{
		{res: &service.LifecycleResult{Expired: 2, Activated: 1}},
		{res: &service.LifecycleResult{Completed: 3, Failed: 1}, err: passErr},
		{res: nil, err: passErr},
	}

	var i int
	adv := &mockAdvancer{AdvanceFunc: func(ctx context.Context, limit int) (*service.LifecycleResult, error) {
		r := results[i]
		i++
		return r.res, r.err
	}}
	w := NewLifecycleWorker(adv, &LifecycleWorkerConfig{ScanInterval: time.Minute, BatchSize: 25}, nopLogger())

	w.RunOnce(context.Background())
	stats := w.GetStats()
	assert.Equal(t, int64(2), stats.TotalExpired)
	assert.Equal(t, int64(1), stats.TotalActivated)
	assert.Empty(t, stats.LastError)

	w.RunOnce(context.Background())
	w.RunOnce(context.Background())
	stats = w.GetStats()
	assert.Equal(t, int64(3), stats.Passes)
	assert.Equal(t, int64(3), stats.TotalCompleted)
	assert.Equal(t, int64(1), stats.TotalFailed)
	assert.Equal(t, passErr.Error(), stats.LastError)
	assert.Equal(t, int32(25), atomic.LoadInt32(&adv.lastLimit))
}

func TestLifecycleWorker_StartStop(t *testing.T) {
	adv := &mockAdvancer{}
	w := NewLifecycleWorker(adv, &LifecycleWorkerConfig{ScanInterval: 10 * time.Millisecond}, nopLogger())

	require.NoError(t, w.Start(context.Background()))
	assert.Error(t, w.Start(context.Background()), "second start must fail")
	assert.True(t, w.GetStats().IsRunning)

	assert.Eventually(t, func() bool {
		return atomic.LoadInt32(&adv.calls) >= 3
	}, time.Second, 5*time.Millisecond)

	w.Stop()
	assert.False(t, w.GetStats().IsRunning)

	calls := atomic.LoadInt32(&adv.calls)
	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, calls, atomic.LoadInt32(&adv.calls), "no passes after Stop")

	w.Stop()
}

func TestLifecycleWorker_StopsWithContext(t *testing.T) {
	adv := &mockAdvancer{}
	w := NewLifecycleWorker(adv, &LifecycleWorkerConfig{ScanInterval: time.Hour}, nopLogger())

	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, w.Start(ctx))
	cancel()

	done := make(chan struct{})
	go func() {
		w.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("worker did not exit after context cancel")
	}
	assert.Equal(t, int32(1), atomic.LoadInt32(&adv.calls))
}
