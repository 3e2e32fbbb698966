package models

import "time"

// CertificationLevel is an ordered agency scale; Rank gives the ordering.
type CertificationLevel string

const (
	CertNone              CertificationLevel = ""
	CertOpenWater         CertificationLevel = "open_water"
	CertAdvancedOpenWater CertificationLevel = "advanced_open_water"
	CertRescue            CertificationLevel = "rescue"
	CertDivemaster        CertificationLevel = "divemaster"
	CertInstructor        CertificationLevel = "instructor"
)

var certRanks = map[CertificationLevel]int{
	CertNone:              0,
	CertOpenWater:         1,
	CertAdvancedOpenWater: 2,
	CertRescue:            3,
	CertDivemaster:        4,
	CertInstructor:        5,
}

func (l CertificationLevel) Rank() int {
	return certRanks[l]
}

// DiverProfile is read-only input owned by the user-profile subsystem.
type DiverProfile struct {
	ID                 uint               `gorm:"primaryKey" json:"id"`
	UserID             string             `gorm:"not null;uniqueIndex" json:"user_id"`
	CertificationLevel CertificationLevel `gorm:"type:varchar(30)" json:"certification_level"`
	LoggedDives        int                `gorm:"not null;default:0" json:"logged_dives"`
	BirthDate          time.Time          `gorm:"not null" json:"birth_date"`
	InsuranceExpiresAt *time.Time         `json:"insurance_expires_at,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// AgeAt returns the diver's age in whole years on the given date.
func (d *DiverProfile) AgeAt(t time.Time) int {
	age := t.Year() - d.BirthDate.Year()
	if t.YearDay() < d.BirthDate.YearDay() {
		age--
	}
	return age
}

// HasValidInsurance reports whether the diver's insurance covers the given
// date.
func (d *DiverProfile) HasValidInsurance(at time.Time) bool {
	return d.InsuranceExpiresAt != nil && d.InsuranceExpiresAt.After(at)
}
