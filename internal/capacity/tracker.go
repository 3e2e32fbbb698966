package capacity

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"

	"github.com/divemarket/trip-reservation-service/internal/models"
	"github.com/divemarket/trip-reservation-service/internal/repository"
)

var (
	// ErrTripFull means the trip's own seat limit is the binding constraint.
	ErrTripFull = errors.New("trip is full")
	// ErrQuotaExceeded means the site's shared daily diver quota is the
	// binding constraint, even though the trip may have free seats.
	ErrQuotaExceeded = errors.New("site daily diver quota exceeded")
)

// Tracker is the single primitive through which trip seats and the shared
// site-day quota are taken and released. Both reserve and release lock the
// trip row first, then the quota row, so every caller serializes in the same
// order and the two counters move together or not at all.
type Tracker struct {
	trips  repository.TripRepository
	quotas repository.SiteQuotaRepository
}

func NewTracker(trips repository.TripRepository, quotas repository.SiteQuotaRepository) *Tracker {
	return &Tracker{trips: trips, quotas: quotas}
}

// TryReserve checks both bounds under row locks and applies both increments,
// or applies neither. Returns the locked trip so the caller can reuse it
// within the same transaction. The trip-seat bound is checked before the
// quota bound, so the reported constraint tells the caller whether
// waitlisting this trip is meaningful.
func (t *Tracker) TryReserve(ctx context.Context, tx *gorm.DB, tripID uint, siteQuotaLimit, count int) (*models.Trip, error) {
	trip, err := t.trips.FindByIDForUpdate(ctx, tx, tripID)
	if err != nil {
		return nil, err
	}

	if trip.CurrentParticipants+count > trip.MaxParticipants {
		return trip, ErrTripFull
	}

	quota, err := t.quotas.FindOrCreateForUpdate(ctx, tx, trip.SiteID, trip.Date, siteQuotaLimit)
	if err != nil {
		return nil, fmt.Errorf("lock site quota: %w", err)
	}
	if quota.ReservedCount+count > quota.QuotaLimit {
		return trip, ErrQuotaExceeded
	}

	if err := t.trips.AddParticipants(ctx, tx, trip.ID, count); err != nil {
		return nil, err
	}
	if err := t.quotas.AddReserved(ctx, tx, quota.ID, count); err != nil {
		return nil, err
	}

	trip.CurrentParticipants += count
	if trip.CurrentParticipants == trip.MaxParticipants && trip.Status == models.TripPublished {
		if err := t.trips.UpdateStatus(ctx, tx, trip.ID, models.TripFull); err != nil {
			return nil, err
		}
		trip.Status = models.TripFull
	}

	return trip, nil
}

// Release gives count seats back to both counters. The caller is responsible
// for idempotency: it must only pass a booking's committed count and zero it
// in the same transaction.
func (t *Tracker) Release(ctx context.Context, tx *gorm.DB, tripID uint, count int) (*models.Trip, error) {
	if count <= 0 {
		return nil, nil
	}

	trip, err := t.trips.FindByIDForUpdate(ctx, tx, tripID)
	if err != nil {
		return nil, err
	}

	// The ledger row always exists once a reservation committed against it.
	quota, err := t.quotas.FindForUpdate(ctx, tx, trip.SiteID, trip.Date)
	if err != nil {
		return nil, fmt.Errorf("lock site quota: %w", err)
	}

	if err := t.trips.AddParticipants(ctx, tx, trip.ID, -count); err != nil {
		return nil, err
	}
	if err := t.quotas.AddReserved(ctx, tx, quota.ID, -count); err != nil {
		return nil, err
	}

	trip.CurrentParticipants -= count
	if trip.Status == models.TripFull && trip.CurrentParticipants < trip.MaxParticipants {
		if err := t.trips.UpdateStatus(ctx, tx, trip.ID, models.TripPublished); err != nil {
			return nil, err
		}
		trip.Status = models.TripPublished
	}

	return trip, nil
}
