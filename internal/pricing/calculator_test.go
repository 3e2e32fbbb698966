package pricing

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/divemarket/trip-reservation-service/internal/models"
)

func testConfig() Config {
	return Config{
		VATRate:              0.15,
		InsuranceFeePerDiver: 12,
		ZoneFees:             map[string]float64{"none": 0, "protected": 15, "marine_reserve": 30},
		GroupDiscountRate:    0.10,
		GroupSizeThreshold:   4,
	}
}

func testTrip() *models.Trip {
	return &models.Trip{
		PricePerDiver:        100,
		EquipmentRentalPrice: 25,
		DepartureAt:          time.Date(2026, 9, 10, 8, 0, 0, 0, time.UTC),
	}
}

func insuredDiver() *models.DiverProfile {
	exp := time.Date(2027, 1, 1, 0, 0, 0, 0, time.UTC)
	return &models.DiverProfile{InsuranceExpiresAt: &exp}
}

func TestPrice_BasicBreakdown(t *testing.T) {
	calc := NewCalculator(testConfig())
	site := &models.DiveSite{ConservationZone: "protected"}

	pb := calc.Price(testTrip(), site, 2, true, insuredDiver())

	assert.Equal(t, 200.0, pb.BasePrice)
	assert.Equal(t, 50.0, pb.EquipmentFee)
	assert.Equal(t, 30.0, pb.ConservationFee)
	assert.Equal(t, 0.0, pb.InsuranceFee)
	assert.Equal(t, 0.0, pb.Discount)
	assert.Equal(t, 42.0, pb.VAT) // 280 * 0.15
	assert.Equal(t, 322.0, pb.Total)
}

func TestPrice_NoEquipmentRental(t *testing.T) {
	calc := NewCalculator(testConfig())
	site := &models.DiveSite{ConservationZone: "none"}

	pb := calc.Price(testTrip(), site, 1, false, insuredDiver())

	assert.Equal(t, 0.0, pb.EquipmentFee)
	assert.Equal(t, 100.0, pb.BasePrice)
	assert.Equal(t, 115.0, pb.Total)
}

func TestPrice_UninsuredDiverPaysFee(t *testing.T) {
	calc := NewCalculator(testConfig())
	site := &models.DiveSite{ConservationZone: "none"}

	pb := calc.Price(testTrip(), site, 3, false, &models.DiverProfile{})

	assert.Equal(t, 36.0, pb.InsuranceFee)
}

func TestPrice_ExpiredInsuranceTreatedAsUninsured(t *testing.T) {
	calc := NewCalculator(testConfig())
	site := &models.DiveSite{ConservationZone: "none"}
	expired := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	diver := &models.DiverProfile{InsuranceExpiresAt: &expired}

	pb := calc.Price(testTrip(), site, 1, false, diver)

	assert.Equal(t, 12.0, pb.InsuranceFee)
}

func TestPrice_GroupDiscountAtThreshold(t *testing.T) {
	calc := NewCalculator(testConfig())
	site := &models.DiveSite{ConservationZone: "none"}

	below := calc.Price(testTrip(), site, 3, true, insuredDiver())
	assert.Equal(t, 0.0, below.Discount)

	at := calc.Price(testTrip(), site, 4, true, insuredDiver())
	// 10% of base (400) + equipment (100)
	assert.Equal(t, 50.0, at.Discount)
	assert.Equal(t, 517.5, at.Total) // 450 + 67.50 VAT
}

func TestPrice_RoundsOnceAtTheEnd(t *testing.T) {
	cfg := testConfig()
	cfg.VATRate = 0.07
	calc := NewCalculator(cfg)
	site := &models.DiveSite{ConservationZone: "protected"}
	trip := testTrip()
	trip.PricePerDiver = 33.33

	pb := calc.Price(trip, site, 3, false, insuredDiver())

	// subtotal 99.99 + 45 = 144.99; VAT rounds to 10.15, not a sum of
	// per-line roundings
	assert.Equal(t, 10.15, pb.VAT)
	assert.Equal(t, 155.14, pb.Total)
}

func TestPrice_Deterministic(t *testing.T) {
	calc := NewCalculator(testConfig())
	site := &models.DiveSite{ConservationZone: "marine_reserve"}
	trip := testTrip()
	diver := insuredDiver()

	first := calc.Price(trip, site, 5, true, diver)
	second := calc.Price(trip, site, 5, true, diver)

	assert.Equal(t, first, second)
}

func TestParseZoneFees(t *testing.T) {
	fees, err := ParseZoneFees("none:0,protected:15.5,marine_reserve:30")
	require.NoError(t, err)
	assert.Equal(t, 15.5, fees["protected"])
	assert.Equal(t, 0.0, fees["none"])

	_, err = ParseZoneFees("protected")
	assert.Error(t, err)

	_, err = ParseZoneFees("protected:-5")
	assert.Error(t, err)
}
