package logger

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want zapcore.Level
	}{
		{"debug", zapcore.DebugLevel},
		{"development", zapcore.DebugLevel},
		{"production", zapcore.InfoLevel},
		{"", zapcore.InfoLevel},
		{"WARN", zapcore.WarnLevel},
		{"error", zapcore.ErrorLevel},
		{"dpanic", zapcore.DPanicLevel},
		{"nonsense", zapcore.InfoLevel},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, parseLevel(tt.in))
		})
	}
}

func TestGet_BeforeInitReturnsNop(t *testing.T) {
	mu.Lock()
	prev := global
	global = nil
	mu.Unlock()
	defer func() {
		mu.Lock()
		global = prev
		mu.Unlock()
	}()

	l := Get()
	require.NotNil(t, l)
	l.Info("dropped")
	assert.NoError(t, Sync())
}

func TestInit_SetsGlobal(t *testing.T) {
	err := Init(&Config{Level: "debug", ServiceName: "booking-service", Development: true})
	require.NoError(t, err)
	assert.NotNil(t, Get().Logger)
}

func TestErrorContext_AttachesTraceID(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	l := New(zap.New(core))

	traceID, _ := trace.TraceIDFromHex("4bf92f3577b34da6a3ce929d0e0e4736")
	spanID, _ := trace.SpanIDFromHex("00f067aa0ba902b7")
	sc := trace.NewSpanContext(trace.SpanContextConfig{TraceID: traceID, SpanID: spanID})
	ctx := trace.ContextWithSpanContext(context.Background(), sc)

	l.ErrorContext(ctx, "store unavailable", zap.String("car_id", "car-1"))
	l.InfoContext(context.Background(), "no span")

	entries := logs.All()
	require.Len(t, entries, 2)
	assert.Equal(t, "4bf92f3577b34da6a3ce929d0e0e4736", entries[0].ContextMap()["trace_id"])
	assert.Equal(t, "car-1", entries[0].ContextMap()["car_id"])
	_, ok := entries[1].ContextMap()["trace_id"]
	assert.False(t, ok)
}
