package refund

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

// Band maps a minimum number of hours before departure to a refund
// percentage (0-100). Bands are business configuration, injected at startup,
// never hard-coded by the engine.
type Band struct {
	MinHoursBefore float64
	Percentage     float64
}

// ParseBands parses "48:100,24:50,0:0" into an ordered band table. The table
// must be strictly descending by hours and non-increasing in percentage, so
// the resulting policy is monotone: cancelling earlier never refunds less.
func ParseBands(s string) ([]Band, error) {
	parts := strings.Split(s, ",")
	bands := make([]Band, 0, len(parts))
	for _, part := range parts {
		rawHours, rawPct, ok := strings.Cut(strings.TrimSpace(part), ":")
		if !ok {
			return nil, fmt.Errorf("band %q: want hours:percentage", part)
		}
		hours, err := strconv.ParseFloat(rawHours, 64)
		if err != nil {
			return nil, fmt.Errorf("band %q: %w", part, err)
		}
		pct, err := strconv.ParseFloat(rawPct, 64)
		if err != nil {
			return nil, fmt.Errorf("band %q: %w", part, err)
		}
		if hours < 0 || pct < 0 || pct > 100 {
			return nil, fmt.Errorf("band %q: out of range", part)
		}
		bands = append(bands, Band{MinHoursBefore: hours, Percentage: pct})
	}
	for i := 1; i < len(bands); i++ {
		if bands[i].MinHoursBefore >= bands[i-1].MinHoursBefore {
			return nil, fmt.Errorf("bands must be strictly descending by hours")
		}
		if bands[i].Percentage > bands[i-1].Percentage {
			return nil, fmt.Errorf("refund percentage must not increase toward departure")
		}
	}
	return bands, nil
}

type Policy struct {
	bands []Band
}

func NewPolicy(bands []Band) *Policy {
	return &Policy{bands: bands}
}

// RefundFor returns the refund percentage and rounded amount for cancelling
// a booking worth total at the given moment. deadlineHours is the trip's own
// cancellation deadline: a full-refund band never applies inside it, even if
// the band's threshold is lower.
func (p *Policy) RefundFor(total float64, deadlineHours int, departureAt, now time.Time) (percentage, amount float64) {
	hours := departureAt.Sub(now).Hours()

	for _, b := range p.bands {
		threshold := b.MinHoursBefore
		if b.Percentage >= 100 && float64(deadlineHours) > threshold {
			threshold = float64(deadlineHours)
		}
		if hours >= threshold {
			percentage = b.Percentage
			break
		}
	}

	return percentage, math.Round(total*percentage) / 100
}
