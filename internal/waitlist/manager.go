package waitlist

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/divemarket/trip-reservation-service/internal/models"
	"github.com/divemarket/trip-reservation-service/internal/repository"
)

var (
	ErrAlreadyWaitlisted = errors.New("user is already on this trip's waitlist")
	ErrNotWaitlisted     = errors.New("user is not on this trip's waitlist")
	ErrOfferInvalid      = errors.New("waitlist offer is invalid or expired")
)

// Manager owns the per-trip FIFO queue. It never creates bookings: a
// promotion only produces an offer, and the coordinator converts an accepted
// offer through the normal capacity-checked path. All methods that take a tx
// expect the caller to hold the trip row lock, which serializes the queue
// per trip.
type Manager struct {
	entries  repository.WaitlistRepository
	offerTTL time.Duration
}

func NewManager(entries repository.WaitlistRepository, offerTTL time.Duration) *Manager {
	return &Manager{entries: entries, offerTTL: offerTTL}
}

// Join appends the user to the queue and returns the entry with its 1-based
// position.
func (m *Manager) Join(ctx context.Context, tx *gorm.DB, tripID uint, userID string, now time.Time) (*models.WaitlistEntry, int, error) {
	if _, err := m.entries.FindByTripAndUser(ctx, tx, tripID, userID); err == nil {
		return nil, 0, ErrAlreadyWaitlisted
	} else if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, 0, err
	}

	entry := &models.WaitlistEntry{
		TripID:   tripID,
		UserID:   userID,
		Status:   models.WaitlistWaiting,
		JoinedAt: now,
	}
	if err := m.entries.Create(ctx, tx, entry); err != nil {
		return nil, 0, err
	}

	pos, err := m.entries.PositionOf(ctx, tx, entry)
	if err != nil {
		return nil, 0, err
	}
	return entry, pos, nil
}

// Leave removes the user's entry, whether waiting or offered.
func (m *Manager) Leave(ctx context.Context, tx *gorm.DB, tripID uint, userID string) error {
	entry, err := m.entries.FindByTripAndUser(ctx, tx, tripID, userID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrNotWaitlisted
		}
		return err
	}
	return m.entries.Delete(ctx, tx, entry.ID)
}

// PromoteNext turns up to freedSeats waiting entries into offers. An offer
// carries a claim token and an expiry; it holds no seat.
func (m *Manager) PromoteNext(ctx context.Context, tx *gorm.DB, tripID uint, freedSeats int, now time.Time) ([]models.WaitlistEntry, error) {
	if freedSeats <= 0 {
		return nil, nil
	}

	waiting, err := m.entries.FindFirstWaiting(ctx, tx, tripID, freedSeats)
	if err != nil {
		return nil, err
	}

	expiresAt := now.Add(m.offerTTL)
	offered := make([]models.WaitlistEntry, 0, len(waiting))
	for i := range waiting {
		entry := waiting[i]
		entry.Status = models.WaitlistOffered
		entry.OfferToken = uuid.NewString()
		entry.OfferExpiresAt = &expiresAt
		if err := m.entries.Save(ctx, tx, &entry); err != nil {
			return nil, err
		}
		offered = append(offered, entry)
	}
	return offered, nil
}

// TakeOffer validates and consumes an offered entry by token. The entry is
// deleted; the caller must immediately run the capacity-checked reservation
// in the same transaction.
func (m *Manager) TakeOffer(ctx context.Context, tx *gorm.DB, token string, now time.Time) (*models.WaitlistEntry, error) {
	entry, err := m.entries.FindByOfferToken(ctx, tx, token)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrOfferInvalid
		}
		return nil, err
	}
	if entry.OfferExpiresAt == nil || entry.OfferExpiresAt.Before(now) {
		return nil, ErrOfferInvalid
	}
	if err := m.entries.Delete(ctx, tx, entry.ID); err != nil {
		return nil, err
	}
	return entry, nil
}

// ReapOffer deletes the entry behind the token if it is still an expired
// offer, so the next waiting entry can be promoted. Returns false when the
// offer was claimed or removed in the meantime. The lapsed user may rejoin
// at the tail of the queue.
func (m *Manager) ReapOffer(ctx context.Context, tx *gorm.DB, token string, now time.Time) (bool, error) {
	entry, err := m.entries.FindByOfferToken(ctx, tx, token)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return false, nil
		}
		return false, err
	}
	if entry.OfferExpiresAt == nil || entry.OfferExpiresAt.After(now) {
		return false, nil
	}
	if err := m.entries.Delete(ctx, tx, entry.ID); err != nil {
		return false, err
	}
	return true, nil
}

func (m *Manager) Length(ctx context.Context, tripID uint) (int64, error) {
	return m.entries.CountByTrip(ctx, tripID)
}

func (m *Manager) ExpiredOffers(ctx context.Context, now time.Time) ([]models.WaitlistEntry, error) {
	return m.entries.FindOffersExpiredBy(ctx, now)
}
