package metrics

import (
	"context"
	"sync"
	"time"

	"github.com/kammounmedaziz/ekrini-app/pkg/telemetry"
	"go.opentelemetry.io/otel/attribute"
)

var (
	BookingRequests    *telemetry.Counter
	BookingConflicts   *telemetry.Counter
	Transitions        *telemetry.Counter
	LifecycleProcessed *telemetry.Counter

	AdmissionDuration *telemetry.Histogram

	initOnce sync.Once
	initErr  error
)

// Init registers the booking instruments on the global meter. Safe to call
// more than once; recorders are no-ops until it succeeds.
func Init() error {
	initOnce.Do(func() {
		initErr = initMetrics()
	})
	return initErr
}

func initMetrics() error {
	var err error

	BookingRequests, err = telemetry.NewCounter(telemetry.MetricOpts{
		Name:        "booking_requests_total",
		Description: "Booking requests by outcome",
		Unit:        "1",
	})
	if err != nil {
		return err
	}

	BookingConflicts, err = telemetry.NewCounter(telemetry.MetricOpts{
		Name:        "booking_conflicts_total",
		Description: "Requests or promotions rejected by an overlapping live booking",
		Unit:        "1",
	})
	if err != nil {
		return err
	}

	Transitions, err = telemetry.NewCounter(telemetry.MetricOpts{
		Name:        "booking_transitions_total",
		Description: "Applied booking status transitions",
		Unit:        "1",
	})
	if err != nil {
		return err
	}

	LifecycleProcessed, err = telemetry.NewCounter(telemetry.MetricOpts{
		Name:        "booking_lifecycle_processed_total",
		Description: "Bookings moved by the lifecycle worker",
		Unit:        "1",
	})
	if err != nil {
		return err
	}

	AdmissionDuration, err = telemetry.NewHistogramWithBuckets(telemetry.MetricOpts{
		Name:        "booking_admission_duration_seconds",
		Description: "Time to admit or reject a booking request",
		Unit:        "s",
	}, []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5})
	return err
}

// RecordAdmission records the outcome (created, conflict, invalid, error) of a request
func RecordAdmission(ctx context.Context, carID, outcome string, started time.Time) {
	BookingRequests.Inc(ctx, attribute.String("outcome", outcome))
	AdmissionDuration.Record(ctx, time.Since(started).Seconds(), attribute.String("outcome", outcome))
	if outcome == "conflict" {
		BookingConflicts.Inc(ctx, attribute.String("stage", "admission"))
	}
}

// RecordPromotionConflict counts a pending booking that lost its slot at confirmation
func RecordPromotionConflict(ctx context.Context) {
	BookingConflicts.Inc(ctx, attribute.String("stage", "promotion"))
}

func RecordTransition(ctx context.Context, from, to string) {
	Transitions.Inc(ctx, attribute.String("from", from), attribute.String("to", to))
}

func RecordLifecycle(ctx context.Context, action string, n int) {
	if n <= 0 {
		return
	}
	LifecycleProcessed.Add(ctx, int64(n), attribute.String("action", action))
}
