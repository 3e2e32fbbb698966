package models

import "time"

type BookingStatus string

const (
	StatusPending   BookingStatus = "pending"
	StatusConfirmed BookingStatus = "confirmed"
	StatusCheckedIn BookingStatus = "checked_in"
	StatusCompleted BookingStatus = "completed"
	StatusCancelled BookingStatus = "cancelled"
	StatusNoShow    BookingStatus = "no_show"
	StatusExpired   BookingStatus = "expired"
)

// Active reports whether the booking blocks the user from booking the same
// trip again.
func (s BookingStatus) Active() bool {
	switch s {
	case StatusPending, StatusConfirmed, StatusCheckedIn:
		return true
	}
	return false
}

// PriceBreakdown is frozen onto the booking at reservation time; later price
// changes on the trip never touch existing bookings.
type PriceBreakdown struct {
	BasePrice       float64 `gorm:"not null" json:"base_price"`
	EquipmentFee    float64 `gorm:"not null" json:"equipment_fee"`
	ConservationFee float64 `gorm:"not null" json:"conservation_fee"`
	InsuranceFee    float64 `gorm:"not null" json:"insurance_fee"`
	Discount        float64 `gorm:"not null" json:"discount"`
	VAT             float64 `gorm:"not null" json:"vat"`
	Total           float64 `gorm:"not null" json:"total"`
}

type Booking struct {
	ID     uint   `gorm:"primaryKey" json:"id"`
	TripID uint   `gorm:"not null;index" json:"trip_id"`
	UserID string `gorm:"not null" json:"user_id"`

	ParticipantCount int  `gorm:"not null" json:"participant_count"`
	EquipmentRental  bool `gorm:"not null;default:false" json:"equipment_rental"`

	// CommittedCount is how many seats this booking currently holds against
	// the trip and site counters. Zeroed on release, which makes release
	// idempotent per booking.
	CommittedCount int `gorm:"not null" json:"-"`

	PriceBreakdown `gorm:"embedded" json:"price_breakdown"`

	Status         BookingStatus `gorm:"type:varchar(20);not null;default:'pending'" json:"status"`
	IdempotencyKey string        `gorm:"type:varchar(64);not null;uniqueIndex" json:"-"`

	CancelledAt        *time.Time `json:"cancelled_at,omitempty"`
	CancellationReason string     `json:"cancellation_reason,omitempty"`
	RefundPercentage   float64    `json:"refund_percentage"`
	RefundAmount       float64    `json:"refund_amount"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	Trip *Trip `gorm:"foreignKey:TripID" json:"trip,omitempty"`
}
