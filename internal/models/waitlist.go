package models

import "time"

type WaitlistStatus string

const (
	// WaitlistWaiting entries queue FIFO by id.
	WaitlistWaiting WaitlistStatus = "waiting"
	// WaitlistOffered entries hold a time-bounded right to claim a freed
	// seat through the normal capacity-checked reservation path.
	WaitlistOffered WaitlistStatus = "offered"
)

type WaitlistEntry struct {
	ID     uint   `gorm:"primaryKey" json:"id"`
	TripID uint   `gorm:"not null;uniqueIndex:idx_waitlist_member" json:"trip_id"`
	UserID string `gorm:"not null;uniqueIndex:idx_waitlist_member" json:"user_id"`

	Status WaitlistStatus `gorm:"type:varchar(20);not null;default:'waiting'" json:"status"`

	// OfferToken and OfferExpiresAt are set only while Status is offered.
	OfferToken     string     `gorm:"type:varchar(64)" json:"offer_token,omitempty"`
	OfferExpiresAt *time.Time `json:"offer_expires_at,omitempty"`

	JoinedAt  time.Time `gorm:"not null" json:"joined_at"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}
