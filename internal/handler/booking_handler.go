package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/kammounmedaziz/ekrini-app/internal/domain"
	"github.com/kammounmedaziz/ekrini-app/internal/dto"
	"github.com/kammounmedaziz/ekrini-app/internal/service"
	"github.com/kammounmedaziz/ekrini-app/pkg/logger"
	"github.com/kammounmedaziz/ekrini-app/pkg/middleware"
	"github.com/kammounmedaziz/ekrini-app/pkg/response"
	"github.com/kammounmedaziz/ekrini-app/pkg/telemetry"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"
)

// BookingHandler handles booking HTTP requests
type BookingHandler struct {
	bookingService service.BookingService
	clock          service.Clock
	log            *logger.Logger
}

func NewBookingHandler(bookingService service.BookingService, clock service.Clock, log *logger.Logger) *BookingHandler {
	if clock == nil {
		clock = service.SystemClock{}
	}
	if log == nil {
		log = logger.Get()
	}
	return &BookingHandler{bookingService: bookingService, clock: clock, log: log}
}

// RegisterRoutes mounts the booking endpoints on an authenticated group
func (h *BookingHandler) RegisterRoutes(rg *gin.RouterGroup, idempotency gin.HandlerFunc) {
	bookings := rg.Group("/bookings")
	if idempotency != nil {
		bookings.POST("", idempotency, h.CreateBooking)
	} else {
		bookings.POST("", h.CreateBooking)
	}
	bookings.GET("", h.ListBookings)
	bookings.GET("/:id", h.GetBooking)
	bookings.POST("/:id/cancel", h.CancelBooking)
	bookings.PATCH("/:id/status", middleware.RequireRole("admin"), h.UpdateStatus)

	rg.GET("/cars/:id/availability", h.GetCarAvailability)
}

// CreateBooking handles POST /bookings
func (h *BookingHandler) CreateBooking(c *gin.Context) {
	ctx, span := telemetry.StartSpan(c.Request.Context(), "handler.booking.create")
	defer span.End()
	c.Request = c.Request.WithContext(ctx)

	renterID, _ := middleware.GetUserID(c)
	if renterID == "" {
		span.SetStatus(codes.Error, "unauthorized")
		response.Unauthorized(c, "authentication required")
		return
	}

	var req dto.CreateBookingRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		span.SetStatus(codes.Error, "invalid request")
		response.Error(c, http.StatusBadRequest, response.CodeValidation, "invalid request", err.Error())
		return
	}

	span.SetAttributes(
		attribute.String("renter_id", renterID),
		attribute.String("car_id", req.CarID),
	)

	booking, err := h.bookingService.RequestBooking(ctx, &service.BookingRequest{
		CarID:      req.CarID,
		RenterID:   renterID,
		Start:      req.StartDate,
		End:        req.EndDate,
		TotalPrice: req.TotalPrice,
		PaymentRef: req.PaymentRef,
	})
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		h.handleError(c, err)
		return
	}

	span.SetAttributes(attribute.String("booking_id", booking.ID))
	span.SetStatus(codes.Ok, "")
	response.Created(c, dto.FromDomain(booking, h.clock.Now()))
}

// ListBookings handles GET /bookings
func (h *BookingHandler) ListBookings(c *gin.Context) {
	ctx, span := telemetry.StartSpan(c.Request.Context(), "handler.booking.list")
	defer span.End()

	renterID, _ := middleware.GetUserID(c)
	if renterID == "" {
		response.Unauthorized(c, "authentication required")
		return
	}

	var q dto.ListBookingsQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		response.Error(c, http.StatusBadRequest, response.CodeValidation, "invalid query", err.Error())
		return
	}

	result, err := h.bookingService.GetRenterBookings(ctx, renterID, q.Page, q.PageSize)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		h.handleError(c, err)
		return
	}

	response.Paginated(c, dto.FromDomainList(result.Bookings, h.clock.Now()), result.Page, result.PageSize, result.Total)
}

// GetBooking handles GET /bookings/:id
func (h *BookingHandler) GetBooking(c *gin.Context) {
	ctx, span := telemetry.StartSpan(c.Request.Context(), "handler.booking.get")
	defer span.End()

	renterID, _ := middleware.GetUserID(c)
	if renterID == "" {
		response.Unauthorized(c, "authentication required")
		return
	}

	booking, err := h.bookingService.GetBooking(ctx, c.Param("id"), renterID)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		h.handleError(c, err)
		return
	}

	response.Success(c, dto.FromDomain(booking, h.clock.Now()))
}

// CancelBooking handles POST /bookings/:id/cancel
func (h *BookingHandler) CancelBooking(c *gin.Context) {
	ctx, span := telemetry.StartSpan(c.Request.Context(), "handler.booking.cancel")
	defer span.End()

	renterID, _ := middleware.GetUserID(c)
	if renterID == "" {
		response.Unauthorized(c, "authentication required")
		return
	}
	span.SetAttributes(attribute.String("booking_id", c.Param("id")))

	booking, err := h.bookingService.CancelBooking(ctx, c.Param("id"), renterID)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		h.handleError(c, err)
		return
	}

	span.SetStatus(codes.Ok, "")
	response.Success(c, dto.FromDomain(booking, h.clock.Now()))
}

// UpdateStatus handles PATCH /bookings/:id/status
func (h *BookingHandler) UpdateStatus(c *gin.Context) {
	ctx, span := telemetry.StartSpan(c.Request.Context(), "handler.booking.update_status")
	defer span.End()

	var req dto.UpdateStatusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, http.StatusBadRequest, response.CodeValidation, "invalid request", err.Error())
		return
	}
	span.SetAttributes(
		attribute.String("booking_id", c.Param("id")),
		attribute.String("status", req.Status),
	)

	booking, err := h.bookingService.TransitionBooking(ctx, c.Param("id"), domain.BookingStatus(req.Status))
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		h.handleError(c, err)
		return
	}

	span.SetStatus(codes.Ok, "")
	response.Success(c, dto.FromDomain(booking, h.clock.Now()))
}

// GetCarAvailability handles GET /cars/:id/availability
func (h *BookingHandler) GetCarAvailability(c *gin.Context) {
	ctx, span := telemetry.StartSpan(c.Request.Context(), "handler.car.availability")
	defer span.End()

	avail, err := h.bookingService.GetCarAvailability(ctx, c.Param("id"))
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		h.handleError(c, err)
		return
	}

	response.Success(c, &dto.CarAvailabilityResponse{
		CarID:     avail.CarID,
		Available: avail.Available,
		Booked:    dto.FromIntervals(avail.Booked),
	})
}

func (h *BookingHandler) handleError(c *gin.Context, err error) {
	var (
		validation *domain.ValidationError
		conflict   *domain.ConflictError
	)

	switch {
	case errors.As(err, &conflict):
		response.Error(c, http.StatusConflict, response.CodeConflict, err.Error(), dto.FromConflict(conflict))
	case errors.As(err, &validation):
		response.Error(c, http.StatusBadRequest, response.CodeValidation, err.Error(), gin.H{"field": validation.Field})
	case domain.IsValidationError(err):
		response.Error(c, http.StatusBadRequest, response.CodeValidation, err.Error(), nil)
	case domain.IsInvalidTransitionError(err):
		response.Error(c, http.StatusUnprocessableEntity, response.CodeInvalidTransition, err.Error(), nil)
	case domain.IsStaleStateError(err):
		response.Error(c, http.StatusConflict, response.CodeStaleState, err.Error(), nil)
	case domain.IsNotFoundError(err):
		response.NotFound(c, err.Error())
	default:
		h.log.ErrorContext(c.Request.Context(), "Booking request failed",
			zap.String("path", c.FullPath()),
			zap.Error(err),
		)
		response.InternalError(c)
	}
}
