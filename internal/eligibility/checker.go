package eligibility

import (
	"fmt"
	"time"

	"github.com/divemarket/trip-reservation-service/internal/models"
)

// Result carries every violated rule, not just the first one, so callers can
// show all blocking reasons at once.
type Result struct {
	Eligible bool
	Reasons  []string
}

// Check evaluates a diver against a trip's requirements. It is pure: safe to
// call speculatively before any capacity is committed. The rules run
// independently and collect every violation.
func Check(diver *models.DiverProfile, trip *models.Trip, now time.Time) Result {
	var reasons []string

	if trip.MinCertificationLevel != models.CertNone &&
		diver.CertificationLevel.Rank() < trip.MinCertificationLevel.Rank() {
		reasons = append(reasons, fmt.Sprintf(
			"certification level %q is below required %q",
			diver.CertificationLevel, trip.MinCertificationLevel))
	}

	if diver.LoggedDives < trip.MinLoggedDives {
		reasons = append(reasons, fmt.Sprintf(
			"%d logged dives, trip requires %d", diver.LoggedDives, trip.MinLoggedDives))
	}

	age := diver.AgeAt(trip.Date)
	if age < trip.MinAge {
		reasons = append(reasons, fmt.Sprintf(
			"age %d is below minimum %d", age, trip.MinAge))
	}
	// Absent MaxAge means no upper bound.
	if trip.MaxAge != nil && age > *trip.MaxAge {
		reasons = append(reasons, fmt.Sprintf(
			"age %d is above maximum %d", age, *trip.MaxAge))
	}

	if trip.RequiresInsurance && !diver.HasValidInsurance(trip.DepartureAt) {
		reasons = append(reasons, "trip requires valid dive insurance")
	}

	return Result{Eligible: len(reasons) == 0, Reasons: reasons}
}
