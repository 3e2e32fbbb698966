package pricing

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/divemarket/trip-reservation-service/internal/models"
)

// Config holds the business constants the calculator needs. All values come
// from configuration, never from capacity state.
type Config struct {
	VATRate              float64
	InsuranceFeePerDiver float64
	ZoneFees             map[string]float64
	GroupDiscountRate    float64
	GroupSizeThreshold   int
}

// ParseZoneFees parses "none:0,protected:15,marine_reserve:30" into the
// per-diver conservation fee table.
func ParseZoneFees(s string) (map[string]float64, error) {
	fees := make(map[string]float64)
	for _, part := range strings.Split(s, ",") {
		zone, raw, ok := strings.Cut(strings.TrimSpace(part), ":")
		if !ok {
			return nil, fmt.Errorf("zone fee %q: want zone:fee", part)
		}
		fee, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return nil, fmt.Errorf("zone fee %q: %w", part, err)
		}
		if fee < 0 {
			return nil, fmt.Errorf("zone fee %q: negative fee", part)
		}
		fees[zone] = fee
	}
	return fees, nil
}

type Calculator struct {
	cfg Config
}

func NewCalculator(cfg Config) *Calculator {
	return &Calculator{cfg: cfg}
}

// Price computes the breakdown for a reservation. It is deterministic and
// side-effect-free; the same inputs always produce the same breakdown. The
// result is rounded to cents once at the end (on VAT and total), not per
// line item, so rounding drift cannot compound.
func (c *Calculator) Price(trip *models.Trip, site *models.DiveSite, participantCount int, equipmentRental bool, diver *models.DiverProfile) models.PriceBreakdown {
	n := float64(participantCount)

	base := trip.PricePerDiver * n

	equipment := 0.0
	if equipmentRental {
		equipment = trip.EquipmentRentalPrice * n
	}

	conservation := c.cfg.ZoneFees[site.ConservationZone] * n

	insurance := 0.0
	if !diver.HasValidInsurance(trip.DepartureAt) {
		insurance = c.cfg.InsuranceFeePerDiver * n
	}

	discount := 0.0
	if c.cfg.GroupSizeThreshold > 0 && participantCount >= c.cfg.GroupSizeThreshold {
		discount = (base + equipment) * c.cfg.GroupDiscountRate
	}

	subtotal := base + equipment + conservation + insurance - discount
	vat := roundCents(subtotal * c.cfg.VATRate)

	return models.PriceBreakdown{
		BasePrice:       base,
		EquipmentFee:    equipment,
		ConservationFee: conservation,
		InsuranceFee:    insurance,
		Discount:        discount,
		VAT:             vat,
		Total:           roundCents(subtotal + vat),
	}
}

func roundCents(v float64) float64 {
	return math.Round(v*100) / 100
}
