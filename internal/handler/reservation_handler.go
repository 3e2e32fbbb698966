package handler

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	"github.com/divemarket/trip-reservation-service/internal/capacity"
	"github.com/divemarket/trip-reservation-service/internal/dto"
	"github.com/divemarket/trip-reservation-service/internal/models"
	"github.com/divemarket/trip-reservation-service/internal/service"
	"github.com/divemarket/trip-reservation-service/internal/waitlist"
)

type ReservationHandler struct {
	svc service.ReservationService
}

func NewReservationHandler(svc service.ReservationService) *ReservationHandler {
	return &ReservationHandler{svc: svc}
}

func (h *ReservationHandler) RegisterRoutes(e *echo.Echo) {
	trips := e.Group("/api/v1/trips")
	trips.GET("/:id/availability", h.GetAvailability)
	trips.POST("/:id/quotes", h.Quote)
	trips.POST("/:id/reservations", h.Reserve)
	trips.GET("/:id/bookings", h.ListBookings)
	trips.POST("/:id/waitlist", h.JoinWaitlist)
	trips.DELETE("/:id/waitlist", h.LeaveWaitlist)
	trips.POST("/:id/waitlist/claim", h.ClaimOffer)

	bookings := e.Group("/api/v1/bookings")
	bookings.GET("/:id", h.GetBooking)
	bookings.DELETE("/:id", h.CancelBooking)
	bookings.POST("/:id/check-in", h.CheckIn)
	bookings.POST("/:id/complete", h.Complete)
	bookings.POST("/:id/no-show", h.MarkNoShow)
}

func (h *ReservationHandler) Quote(c echo.Context) error {
	tripID, err := pathID(c)
	if err != nil {
		return err
	}

	var req dto.QuoteRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if err := c.Validate(&req); err != nil {
		return err
	}

	breakdown, err := h.svc.Quote(c.Request().Context(), tripID, req.UserID, req.ParticipantCount, req.EquipmentRental)
	if err != nil {
		return mapError(c, err)
	}
	return c.JSON(http.StatusOK, breakdown)
}

func (h *ReservationHandler) Reserve(c echo.Context) error {
	tripID, err := pathID(c)
	if err != nil {
		return err
	}

	var req dto.ReserveRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if err := c.Validate(&req); err != nil {
		return err
	}

	booking, created, err := h.svc.Reserve(c.Request().Context(), service.ReserveRequest{
		TripID:           tripID,
		UserID:           req.UserID,
		ParticipantCount: req.ParticipantCount,
		EquipmentRental:  req.EquipmentRental,
		IdempotencyKey:   c.Request().Header.Get("Idempotency-Key"),
	})
	if err != nil {
		return mapError(c, err)
	}

	status := http.StatusCreated
	if !created {
		// Idempotent replay of a key we have already seen.
		status = http.StatusOK
	}
	return c.JSON(status, dto.ToBookingResponse(booking))
}

func (h *ReservationHandler) GetAvailability(c echo.Context) error {
	tripID, err := pathID(c)
	if err != nil {
		return err
	}

	av, err := h.svc.Availability(c.Request().Context(), tripID)
	if err != nil {
		return mapError(c, err)
	}

	return c.JSON(http.StatusOK, dto.AvailabilityResponse{
		TripID:          av.Trip.ID,
		Name:            av.Trip.Name,
		Status:          av.Trip.Status,
		MaxParticipants: av.Trip.MaxParticipants,
		SeatsRemaining:  av.SeatsRemaining,
		QuotaRemaining:  av.QuotaRemaining,
		Available:       av.Available,
		WaitlistLength:  av.WaitlistLength,
	})
}

func (h *ReservationHandler) GetBooking(c echo.Context) error {
	id, err := pathID(c)
	if err != nil {
		return err
	}

	booking, err := h.svc.GetBooking(c.Request().Context(), id)
	if err != nil {
		return mapError(c, err)
	}
	return c.JSON(http.StatusOK, dto.ToBookingResponse(booking))
}

func (h *ReservationHandler) ListBookings(c echo.Context) error {
	tripID, err := pathID(c)
	if err != nil {
		return err
	}

	var status *models.BookingStatus
	if s := c.QueryParam("status"); s != "" {
		bs := models.BookingStatus(s)
		status = &bs
	}

	bookings, err := h.svc.ListBookings(c.Request().Context(), tripID, status)
	if err != nil {
		return mapError(c, err)
	}

	resp := make([]dto.BookingResponse, len(bookings))
	for i, b := range bookings {
		resp[i] = dto.ToBookingResponse(&b)
	}
	return c.JSON(http.StatusOK, resp)
}

func (h *ReservationHandler) CancelBooking(c echo.Context) error {
	id, err := pathID(c)
	if err != nil {
		return err
	}

	var req dto.CancelRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}

	booking, err := h.svc.Cancel(c.Request().Context(), id, req.Reason)
	if err != nil {
		return mapError(c, err)
	}
	return c.JSON(http.StatusOK, dto.ToBookingResponse(booking))
}

func (h *ReservationHandler) CheckIn(c echo.Context) error {
	return h.transition(c, h.svc.CheckIn)
}

func (h *ReservationHandler) Complete(c echo.Context) error {
	return h.transition(c, h.svc.Complete)
}

func (h *ReservationHandler) MarkNoShow(c echo.Context) error {
	return h.transition(c, h.svc.MarkNoShow)
}

func (h *ReservationHandler) JoinWaitlist(c echo.Context) error {
	tripID, err := pathID(c)
	if err != nil {
		return err
	}

	var req dto.WaitlistJoinRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if err := c.Validate(&req); err != nil {
		return err
	}

	entry, position, err := h.svc.JoinWaitlist(c.Request().Context(), tripID, req.UserID)
	if err != nil {
		return mapError(c, err)
	}

	return c.JSON(http.StatusCreated, dto.WaitlistResponse{
		TripID:   entry.TripID,
		UserID:   entry.UserID,
		Position: position,
		Status:   entry.Status,
		JoinedAt: entry.JoinedAt,
	})
}

func (h *ReservationHandler) LeaveWaitlist(c echo.Context) error {
	tripID, err := pathID(c)
	if err != nil {
		return err
	}

	var req dto.WaitlistLeaveRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if err := c.Validate(&req); err != nil {
		return err
	}

	if err := h.svc.LeaveWaitlist(c.Request().Context(), tripID, req.UserID); err != nil {
		return mapError(c, err)
	}
	return c.NoContent(http.StatusNoContent)
}

func (h *ReservationHandler) ClaimOffer(c echo.Context) error {
	tripID, err := pathID(c)
	if err != nil {
		return err
	}

	var req dto.ClaimOfferRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if err := c.Validate(&req); err != nil {
		return err
	}

	booking, err := h.svc.ClaimOffer(c.Request().Context(), service.ClaimOfferRequest{
		TripID:          tripID,
		OfferToken:      req.OfferToken,
		EquipmentRental: req.EquipmentRental,
		IdempotencyKey:  c.Request().Header.Get("Idempotency-Key"),
	})
	if err != nil {
		return mapError(c, err)
	}
	return c.JSON(http.StatusCreated, dto.ToBookingResponse(booking))
}

func (h *ReservationHandler) transition(c echo.Context, op func(ctx context.Context, id uint) (*models.Booking, error)) error {
	id, err := pathID(c)
	if err != nil {
		return err
	}
	booking, err := op(c.Request().Context(), id)
	if err != nil {
		return mapError(c, err)
	}
	return c.JSON(http.StatusOK, dto.ToBookingResponse(booking))
}

func pathID(c echo.Context) (uint, error) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil {
		return 0, echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	return uint(id), nil
}

// mapError translates engine errors into HTTP responses. TripFull and
// QuotaExceeded get distinct codes so clients can decide whether joining
// the waitlist is worthwhile.
func mapError(c echo.Context, err error) error {
	var notEligible *service.NotEligibleError
	if errors.As(err, &notEligible) {
		return c.JSON(http.StatusUnprocessableEntity, dto.ErrorResponse{
			Message: "diver is not eligible for this trip",
			Code:    "not_eligible",
			Reasons: notEligible.Reasons,
		})
	}

	switch {
	case errors.Is(err, service.ErrValidation):
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	case errors.Is(err, service.ErrTripNotFound),
		errors.Is(err, service.ErrBookingNotFound),
		errors.Is(err, service.ErrDiverNotFound):
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	case errors.Is(err, capacity.ErrTripFull):
		return c.JSON(http.StatusConflict, dto.ErrorResponse{Message: err.Error(), Code: "trip_full"})
	case errors.Is(err, capacity.ErrQuotaExceeded):
		return c.JSON(http.StatusConflict, dto.ErrorResponse{Message: err.Error(), Code: "quota_exceeded"})
	case errors.Is(err, service.ErrAlreadyBooked),
		errors.Is(err, waitlist.ErrAlreadyWaitlisted),
		errors.Is(err, service.ErrTripNotFull),
		errors.Is(err, service.ErrBookingNotCancellable),
		errors.Is(err, service.ErrInvalidTransition):
		return echo.NewHTTPError(http.StatusConflict, err.Error())
	case errors.Is(err, service.ErrTripNotBookable):
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	case errors.Is(err, waitlist.ErrOfferInvalid),
		errors.Is(err, waitlist.ErrNotWaitlisted):
		return echo.NewHTTPError(http.StatusGone, err.Error())
	default:
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
}
