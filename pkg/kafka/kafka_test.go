package kafka

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/twmb/franz-go/pkg/kgo"
)

func TestToRecord(t *testing.T) {
	ts := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	rec := toRecord(&Message{
		Topic:     "booking.events",
		Key:       []byte("booking-1"),
		Value:     []byte(`{"a":1}`),
		Headers:   map[string]string{"event_type": "booking.created"},
		Timestamp: ts,
	})

	assert.Equal(t, "booking.events", rec.Topic)
	assert.Equal(t, []byte("booking-1"), rec.Key)
	assert.Equal(t, ts, rec.Timestamp)
	require.Len(t, rec.Headers, 1)
	assert.Equal(t, "event_type", rec.Headers[0].Key)
	assert.Equal(t, "booking.created", string(rec.Headers[0].Value))
}

func TestToRecord_DefaultsTimestampAndKey(t *testing.T) {
	rec := toRecord(&Message{Topic: "t", Value: []byte("v")})

	assert.Nil(t, rec.Key)
	assert.False(t, rec.Timestamp.IsZero())
}

func TestFromRecord(t *testing.T) {
	raw := &kgo.Record{
		Topic:     "payment.success",
		Partition: 2,
		Offset:    41,
		Value:     []byte("{}"),
		Headers:   []kgo.RecordHeader{{Key: "traceparent", Value: []byte("00-abc")}},
	}

	rec := fromRecord(raw)
	assert.Equal(t, "payment.success", rec.Topic)
	assert.Equal(t, int32(2), rec.Partition)
	assert.Equal(t, int64(41), rec.Offset)
	assert.Equal(t, "00-abc", rec.Header("traceparent"))
	assert.Equal(t, "", rec.Header("missing"))
	assert.Same(t, raw, rec.raw)
}

func TestNewConsumer_Validation(t *testing.T) {
	_, err := NewConsumer(context.Background(), nil)
	assert.Error(t, err)

	_, err = NewConsumer(context.Background(), &ConsumerConfig{Brokers: []string{"localhost:9092"}})
	assert.Error(t, err)
}

func TestNewProducer_NoBrokers(t *testing.T) {
	_, err := NewProducer(context.Background(), &ProducerConfig{})
	assert.Error(t, err)
}

func TestProducerConsumer_Integration(t *testing.T) {
	if os.Getenv("INTEGRATION_TEST") != "true" {
		t.Skip("Skipping integration test. Set INTEGRATION_TEST=true to run")
	}
	brokers := []string{"localhost:9092"}
	if b := os.Getenv("TEST_KAFKA_BROKER"); b != "" {
		brokers = []string{b}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	topic := "test.booking.events." + time.Now().Format("150405")
	producer, err := NewProducer(ctx, &ProducerConfig{Brokers: brokers, ClientID: "test", MaxRetries: 1, RetryInterval: time.Second})
	require.NoError(t, err)
	defer producer.Close()

	require.NoError(t, producer.Produce(ctx, &Message{Topic: topic, Key: []byte("b1"), Value: []byte("hello")}))

	consumer, err := NewConsumer(ctx, &ConsumerConfig{
		Brokers: brokers, GroupID: "test-" + topic, Topics: []string{topic}, ClientID: "test",
		MaxRetries: 1, RetryInterval: time.Second,
	})
	require.NoError(t, err)
	defer consumer.Close()

	records, err := consumer.Poll(ctx)
	require.NoError(t, err)
	require.NotEmpty(t, records)
	assert.Equal(t, "hello", string(records[0].Value))
	assert.NoError(t, consumer.CommitRecords(ctx, records))
}
