package models

import "time"

type TripStatus string

const (
	TripDraft      TripStatus = "draft"
	TripPublished  TripStatus = "published"
	TripFull       TripStatus = "full"
	TripInProgress TripStatus = "in_progress"
	TripCompleted  TripStatus = "completed"
	TripCancelled  TripStatus = "cancelled"
)

// Bookable reports whether the trip can accept new reservations at all.
// Seat/quota availability is checked separately under the capacity lock.
func (s TripStatus) Bookable() bool {
	return s == TripPublished || s == TripFull
}

type Trip struct {
	ID       uint   `gorm:"primaryKey" json:"id"`
	SiteID   uint   `gorm:"not null;index" json:"site_id"`
	CenterID uint   `gorm:"not null" json:"center_id"`
	Name     string `gorm:"not null" json:"name"`

	// Date is the calendar day the trip dives; it keys the shared site quota.
	Date              time.Time `gorm:"type:date;not null" json:"date"`
	DepartureAt       time.Time `gorm:"not null" json:"departure_at"`
	ReturnAt          time.Time `gorm:"not null" json:"return_at"`

	MaxParticipants     int `gorm:"not null" json:"max_participants"`
	CurrentParticipants int `gorm:"not null;default:0" json:"current_participants"`

	PricePerDiver        float64 `gorm:"not null" json:"price_per_diver"`
	EquipmentRentalPrice float64 `gorm:"not null;default:0" json:"equipment_rental_price"`

	MinCertificationLevel CertificationLevel `gorm:"type:varchar(30)" json:"min_certification_level"`
	MinLoggedDives        int                `gorm:"not null;default:0" json:"min_logged_dives"`
	MinAge                int                `gorm:"not null;default:0" json:"min_age"`
	MaxAge                *int               `json:"max_age,omitempty"`
	RequiresInsurance     bool               `gorm:"not null;default:false" json:"requires_insurance"`

	CancellationDeadlineHours int        `gorm:"not null;default:24" json:"cancellation_deadline_hours"`
	Status                    TripStatus `gorm:"type:varchar(20);not null;default:'published'" json:"status"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	Site *DiveSite `gorm:"foreignKey:SiteID" json:"site,omitempty"`
}

type DiveSite struct {
	ID               uint   `gorm:"primaryKey" json:"id"`
	Name             string `gorm:"not null" json:"name"`
	DailyDiverQuota  int    `gorm:"not null" json:"daily_diver_quota"`
	ConservationZone string `gorm:"type:varchar(30);not null;default:'none'" json:"conservation_zone"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// SiteDailyQuota is the shared ledger row for all trips diving a site on a
// given day. Rows are created lazily inside the reservation transaction.
type SiteDailyQuota struct {
	ID            uint      `gorm:"primaryKey" json:"id"`
	SiteID        uint      `gorm:"not null;uniqueIndex:idx_site_day" json:"site_id"`
	Date          time.Time `gorm:"type:date;not null;uniqueIndex:idx_site_day" json:"date"`
	ReservedCount int       `gorm:"not null;default:0" json:"reserved_count"`
	QuotaLimit    int       `gorm:"not null" json:"quota_limit"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}
