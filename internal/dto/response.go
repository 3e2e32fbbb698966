package dto

import (
	"time"

	"github.com/divemarket/trip-reservation-service/internal/models"
)

type BookingResponse struct {
	ID               uint                  `json:"id"`
	TripID           uint                  `json:"trip_id"`
	UserID           string                `json:"user_id"`
	ParticipantCount int                   `json:"participant_count"`
	EquipmentRental  bool                  `json:"equipment_rental"`
	Status           models.BookingStatus  `json:"status"`
	PriceBreakdown   models.PriceBreakdown `json:"price_breakdown"`
	RefundPercentage float64               `json:"refund_percentage,omitempty"`
	RefundAmount     float64               `json:"refund_amount,omitempty"`
	CancelledAt      *time.Time            `json:"cancelled_at,omitempty"`
	CreatedAt        time.Time             `json:"created_at"`
}

type AvailabilityResponse struct {
	TripID          uint              `json:"trip_id"`
	Name            string            `json:"name"`
	Status          models.TripStatus `json:"status"`
	MaxParticipants int               `json:"max_participants"`
	SeatsRemaining  int               `json:"seats_remaining"`
	QuotaRemaining  int               `json:"quota_remaining"`
	Available       int               `json:"available"`
	WaitlistLength  int64             `json:"waitlist_length"`
}

type WaitlistResponse struct {
	TripID         uint                  `json:"trip_id"`
	UserID         string                `json:"user_id"`
	Position       int                   `json:"position"`
	Status         models.WaitlistStatus `json:"status"`
	JoinedAt       time.Time             `json:"joined_at"`
	OfferExpiresAt *time.Time            `json:"offer_expires_at,omitempty"`
}

type ErrorResponse struct {
	Message string   `json:"message"`
	Code    string   `json:"code,omitempty"`
	Reasons []string `json:"reasons,omitempty"`
}

func ToBookingResponse(b *models.Booking) BookingResponse {
	return BookingResponse{
		ID:               b.ID,
		TripID:           b.TripID,
		UserID:           b.UserID,
		ParticipantCount: b.ParticipantCount,
		EquipmentRental:  b.EquipmentRental,
		Status:           b.Status,
		PriceBreakdown:   b.PriceBreakdown,
		RefundPercentage: b.RefundPercentage,
		RefundAmount:     b.RefundAmount,
		CancelledAt:      b.CancelledAt,
		CreatedAt:        b.CreatedAt,
	}
}
