package service

import (
	"context"
	"log"
	"time"
)

// Sweeper periodically expires stale pending bookings and lapsed waitlist
// offers. Reservations never block on these timeouts; the sweep applies
// them out of band.
type Sweeper struct {
	svc      ReservationService
	interval time.Duration
}

func NewSweeper(svc ReservationService, interval time.Duration) *Sweeper {
	return &Sweeper{svc: svc, interval: interval}
}

// Run blocks until ctx is cancelled; callers start it in a goroutine.
func (s *Sweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	log.Printf("[Sweeper] running every %s", s.interval)
	for {
		select {
		case <-ctx.Done():
			log.Println("[Sweeper] stopped")
			return
		case <-ticker.C:
			if err := s.svc.SweepExpirations(ctx); err != nil {
				log.Printf("[Sweeper] sweep failed: %v", err)
			}
		}
	}
}
