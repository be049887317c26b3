package domain

import (
	"fmt"
	"time"
)

// Interval is the half-open range [Start, End)
type Interval struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

func NewInterval(start, end time.Time) (Interval, error) {
	iv := Interval{Start: start, End: end}
	if !iv.IsValid() {
		return Interval{}, &ValidationError{Field: "interval", Err: ErrInvalidInterval}
	}
	return iv, nil
}

// IsValid requires Start strictly before End
func (iv Interval) IsValid() bool {
	return !iv.Start.IsZero() && !iv.End.IsZero() && iv.Start.Before(iv.End)
}

func (iv Interval) Duration() time.Duration {
	return iv.End.Sub(iv.Start)
}

// Contains reports Start <= t < End
func (iv Interval) Contains(t time.Time) bool {
	return !t.Before(iv.Start) && t.Before(iv.End)
}

func (iv Interval) String() string {
	return fmt.Sprintf("[%s, %s)", iv.Start.UTC().Format(time.RFC3339), iv.End.UTC().Format(time.RFC3339))
}

// Overlaps reports whether a and b share any instant. Intervals that only
// touch (a.End == b.Start) do not overlap.
func Overlaps(a, b Interval) bool {
	return a.Start.Before(b.End) && b.Start.Before(a.End)
}

// LiveBooking is the part of a confirmed or active booking the checker needs
type LiveBooking struct {
	BookingID string
	Interval  Interval
}

// FindConflict returns the first live booking, in the order given, that
// overlaps candidate.
func FindConflict(candidate Interval, live []LiveBooking) (LiveBooking, bool) {
	for _, lb := range live {
		if Overlaps(candidate, lb.Interval) {
			return lb, true
		}
	}
	return LiveBooking{}, false
}

// ConflictPredicate is evaluated by a store against the live set of a car
// while it holds that car's atomic scope.
type ConflictPredicate func(live []LiveBooking) (LiveBooking, bool)

// ConflictWith binds candidate into a predicate. excludeID skips the booking
// being promoted so it is never compared with itself.
func ConflictWith(candidate Interval, excludeID string) ConflictPredicate {
	return func(live []LiveBooking) (LiveBooking, bool) {
		for _, lb := range live {
			if excludeID != "" && lb.BookingID == excludeID {
				continue
			}
			if Overlaps(candidate, lb.Interval) {
				return lb, true
			}
		}
		return LiveBooking{}, false
	}
}
