package refund

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var departure = time.Date(2026, 9, 10, 8, 0, 0, 0, time.UTC)

func defaultPolicy(t *testing.T) *Policy {
	t.Helper()
	bands, err := ParseBands("48:100,24:50,0:0")
	require.NoError(t, err)
	return NewPolicy(bands)
}

func TestParseBands(t *testing.T) {
	bands, err := ParseBands("72:100, 24:50, 0:0")
	require.NoError(t, err)
	require.Len(t, bands, 3)
	assert.Equal(t, Band{MinHoursBefore: 72, Percentage: 100}, bands[0])
	assert.Equal(t, Band{MinHoursBefore: 0, Percentage: 0}, bands[2])
}

func TestParseBands_Invalid(t *testing.T) {
	cases := []string{
		"48",          // missing percentage
		"48:abc",      // bad number
		"48:150",      // percentage over 100
		"24:50,48:100", // not descending by hours
		"48:50,24:100", // percentage increases toward departure
	}
	for _, in := range cases {
		_, err := ParseBands(in)
		assert.Error(t, err, in)
	}
}

func TestRefundFor_BandSelection(t *testing.T) {
	p := defaultPolicy(t)

	pct, amount := p.RefundFor(1000, 48, departure, departure.Add(-72*time.Hour))
	assert.Equal(t, 100.0, pct)
	assert.Equal(t, 1000.0, amount)

	pct, amount = p.RefundFor(1000, 48, departure, departure.Add(-30*time.Hour))
	assert.Equal(t, 50.0, pct)
	assert.Equal(t, 500.0, amount)

	pct, amount = p.RefundFor(1000, 48, departure, departure.Add(-2*time.Hour))
	assert.Equal(t, 0.0, pct)
	assert.Equal(t, 0.0, amount)
}

func TestRefundFor_TripDeadlineRaisesFullRefundThreshold(t *testing.T) {
	p := defaultPolicy(t)

	// 60h out is past the 48h band, but the trip's own deadline is 72h.
	pct, _ := p.RefundFor(1000, 72, departure, departure.Add(-60*time.Hour))
	assert.Equal(t, 50.0, pct)

	pct, _ = p.RefundFor(1000, 72, departure, departure.Add(-80*time.Hour))
	assert.Equal(t, 100.0, pct)
}

func TestRefundFor_AfterDeparture(t *testing.T) {
	p := defaultPolicy(t)
	pct, amount := p.RefundFor(1000, 48, departure, departure.Add(3*time.Hour))
	assert.Equal(t, 0.0, pct)
	assert.Equal(t, 0.0, amount)
}

func TestRefundFor_AmountRoundedToCents(t *testing.T) {
	bands, err := ParseBands("24:33,0:0")
	require.NoError(t, err)
	p := NewPolicy(bands)

	_, amount := p.RefundFor(99.99, 24, departure, departure.Add(-48*time.Hour))
	assert.Equal(t, 33.0, amount) // 33% of 99.99 = 32.9967 -> 33.00
}

// Percentage never increases as now approaches departure.
func TestRefundFor_Monotone(t *testing.T) {
	p := defaultPolicy(t)

	prev := 101.0
	for h := 120; h >= -12; h -= 3 {
		pct, _ := p.RefundFor(500, 48, departure, departure.Add(-time.Duration(h)*time.Hour))
		assert.LessOrEqual(t, pct, prev, "hours=%d", h)
		prev = pct
	}
}
