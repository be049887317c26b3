package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var day = time.Date(2026, 6, 10, 0, 0, 0, 0, time.UTC)

func at(hour int) time.Time {
	return day.Add(time.Duration(hour) * time.Hour)
}

func iv(start, end int) Interval {
	return Interval{Start: at(start), End: at(end)}
}

func TestOverlaps(t *testing.T) {
	tests := []struct {
		name string
		a, b Interval
		want bool
	}{
		{"identical", iv(10, 12), iv(10, 12), true},
		{"partial right", iv(10, 12), iv(11, 13), true},
		{"partial left", iv(10, 12), iv(9, 11), true},
		{"contained", iv(10, 14), iv(11, 12), true},
		{"containing", iv(11, 12), iv(10, 14), true},
		{"touching end", iv(10, 12), iv(12, 13), false},
		{"touching start", iv(10, 12), iv(9, 10), false},
		{"disjoint", iv(10, 12), iv(14, 16), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Overlaps(tt.a, tt.b))
			assert.Equal(t, tt.want, Overlaps(tt.b, tt.a), "overlap must be symmetric")
		})
	}
}

func TestFindConflict(t *testing.T) {
	live := []LiveBooking{
		{BookingID: "b1", Interval: iv(8, 10)},
		{BookingID: "b2", Interval: iv(10, 12)},
		{BookingID: "b3", Interval: iv(11, 15)},
	}

	got, ok := FindConflict(iv(11, 13), live)
	require.True(t, ok)
	assert.Equal(t, "b2", got.BookingID)

	_, ok = FindConflict(iv(15, 18), live)
	assert.False(t, ok)

	_, ok = FindConflict(iv(1, 2), nil)
	assert.False(t, ok)
}

func TestConflictWith_ExcludesSelf(t *testing.T) {
	live := []LiveBooking{
		{BookingID: "self", Interval: iv(14, 16)},
		{BookingID: "other", Interval: iv(15, 17)},
	}

	got, ok := ConflictWith(iv(14, 16), "self")(live)
	require.True(t, ok)
	assert.Equal(t, "other", got.BookingID)

	_, ok = ConflictWith(iv(14, 16), "self")(live[:1])
	assert.False(t, ok)

	got, ok = ConflictWith(iv(14, 16), "")(live)
	require.True(t, ok)
	assert.Equal(t, "self", got.BookingID)
}

func TestNewInterval(t *testing.T) {
	_, err := NewInterval(at(10), at(12))
	assert.NoError(t, err)

	_, err = NewInterval(at(12), at(12))
	assert.ErrorIs(t, err, ErrInvalidInterval)

	_, err = NewInterval(time.Time{}, at(12))
	assert.ErrorIs(t, err, ErrInvalidInterval)
}

func TestInterval_Contains(t *testing.T) {
	i := iv(10, 12)
	assert.True(t, i.Contains(at(10)))
	assert.False(t, i.Contains(at(12)))
	assert.Equal(t, 2*time.Hour, i.Duration())
	assert.Equal(t, "[2026-06-10T10:00:00Z, 2026-06-10T12:00:00Z)", i.String())
}
