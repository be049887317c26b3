package dto

import (
	"time"

	"github.com/kammounmedaziz/ekrini-app/internal/domain"
)

// CreateBookingRequest represents a request to book a car
type CreateBookingRequest struct {
	CarID      string    `json:"car_id" binding:"required"`
	StartDate  time.Time `json:"start_date" binding:"required"`
	EndDate    time.Time `json:"end_date" binding:"required"`
	TotalPrice float64   `json:"total_price" binding:"gte=0"`
	PaymentRef string    `json:"payment_ref,omitempty" binding:"max=128"`
}

// UpdateStatusRequest represents an operator status change
type UpdateStatusRequest struct {
	Status string `json:"status" binding:"required,oneof=pending confirmed active completed cancelled"`
}

// ListBookingsQuery holds pagination parameters
type ListBookingsQuery struct {
	Page     int `form:"page" binding:"omitempty,min=1"`
	PageSize int `form:"page_size" binding:"omitempty,min=1,max=100"`
}

// BookingResponse represents a booking in API response
type BookingResponse struct {
	ID           string    `json:"id"`
	CarID        string    `json:"car_id"`
	RenterID     string    `json:"renter_id"`
	StartDate    time.Time `json:"start_date"`
	EndDate      time.Time `json:"end_date"`
	Status       string    `json:"status"`
	TotalPrice   float64   `json:"total_price"`
	PaymentRef   string    `json:"payment_ref,omitempty"`
	DurationDays int       `json:"duration_days"`
	IsInProgress bool      `json:"is_in_progress"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// IntervalResponse is a half-open [start, end) range
type IntervalResponse struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// CarAvailabilityResponse lists the ranges a car is held for
type CarAvailabilityResponse struct {
	CarID     string             `json:"car_id"`
	Available bool               `json:"available"`
	Booked    []IntervalResponse `json:"booked"`
}

// ConflictDetails names the interval that blocked a request. The blocking
// booking belongs to another renter and is not exposed.
type ConflictDetails struct {
	CarID string    `json:"car_id"`
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// FromDomain converts domain Booking to BookingResponse. now drives is_in_progress.
func FromDomain(b *domain.Booking, now time.Time) *BookingResponse {
	return &BookingResponse{
		ID:           b.ID,
		CarID:        b.CarID,
		RenterID:     b.RenterID,
		StartDate:    b.Interval.Start,
		EndDate:      b.Interval.End,
		Status:       b.Status.String(),
		TotalPrice:   b.TotalPrice,
		PaymentRef:   b.PaymentRef,
		DurationDays: b.DurationDays(),
		IsInProgress: b.IsInProgress(now),
		CreatedAt:    b.CreatedAt,
		UpdatedAt:    b.UpdatedAt,
	}
}

func FromDomainList(bookings []*domain.Booking, now time.Time) []*BookingResponse {
	out := make([]*BookingResponse, 0, len(bookings))
	for _, b := range bookings {
		out = append(out, FromDomain(b, now))
	}
	return out
}

func FromIntervals(intervals []domain.Interval) []IntervalResponse {
	out := make([]IntervalResponse, 0, len(intervals))
	for _, iv := range intervals {
		out = append(out, IntervalResponse{Start: iv.Start, End: iv.End})
	}
	return out
}

func FromConflict(e *domain.ConflictError) *ConflictDetails {
	return &ConflictDetails{
		CarID: e.CarID,
		Start: e.Interval.Start,
		End:   e.Interval.End,
	}
}
