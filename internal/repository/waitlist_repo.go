package repository

import (
	"context"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/divemarket/trip-reservation-service/internal/models"
)

type WaitlistRepository interface {
	Create(ctx context.Context, tx *gorm.DB, entry *models.WaitlistEntry) error
	FindByTripAndUser(ctx context.Context, tx *gorm.DB, tripID uint, userID string) (*models.WaitlistEntry, error)
	FindByOfferToken(ctx context.Context, tx *gorm.DB, token string) (*models.WaitlistEntry, error)
	FindFirstWaiting(ctx context.Context, tx *gorm.DB, tripID uint, limit int) ([]models.WaitlistEntry, error)
	FindOffersExpiredBy(ctx context.Context, now time.Time) ([]models.WaitlistEntry, error)
	PositionOf(ctx context.Context, tx *gorm.DB, entry *models.WaitlistEntry) (int, error)
	CountByTrip(ctx context.Context, tripID uint) (int64, error)
	Save(ctx context.Context, tx *gorm.DB, entry *models.WaitlistEntry) error
	Delete(ctx context.Context, tx *gorm.DB, entryID uint) error
}

type waitlistRepository struct {
	db *gorm.DB
}

func NewWaitlistRepository(db *gorm.DB) WaitlistRepository {
	return &waitlistRepository{db: db}
}

func (r *waitlistRepository) Create(ctx context.Context, tx *gorm.DB, entry *models.WaitlistEntry) error {
	return tx.WithContext(ctx).Create(entry).Error
}

func (r *waitlistRepository) FindByTripAndUser(ctx context.Context, tx *gorm.DB, tripID uint, userID string) (*models.WaitlistEntry, error) {
	var entry models.WaitlistEntry
	err := tx.WithContext(ctx).
		Where("trip_id = ? AND user_id = ?", tripID, userID).
		First(&entry).Error
	if err != nil {
		return nil, err
	}
	return &entry, nil
}

func (r *waitlistRepository) FindByOfferToken(ctx context.Context, tx *gorm.DB, token string) (*models.WaitlistEntry, error) {
	var entry models.WaitlistEntry
	err := tx.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("offer_token = ? AND status = ?", token, models.WaitlistOffered).
		First(&entry).Error
	if err != nil {
		return nil, err
	}
	return &entry, nil
}

// FindFirstWaiting returns up to limit entries in promotion order. The
// auto-increment id breaks joined_at ties, giving a deterministic total
// order.
func (r *waitlistRepository) FindFirstWaiting(ctx context.Context, tx *gorm.DB, tripID uint, limit int) ([]models.WaitlistEntry, error) {
	var entries []models.WaitlistEntry
	err := tx.WithContext(ctx).
		Where("trip_id = ? AND status = ?", tripID, models.WaitlistWaiting).
		Order("joined_at ASC, id ASC").
		Limit(limit).
		Find(&entries).Error
	return entries, err
}

func (r *waitlistRepository) FindOffersExpiredBy(ctx context.Context, now time.Time) ([]models.WaitlistEntry, error) {
	var entries []models.WaitlistEntry
	err := r.db.WithContext(ctx).
		Where("status = ? AND offer_expires_at < ?", models.WaitlistOffered, now).
		Order("id ASC").
		Find(&entries).Error
	return entries, err
}

// PositionOf returns the entry's 1-based place in the trip's queue.
func (r *waitlistRepository) PositionOf(ctx context.Context, tx *gorm.DB, entry *models.WaitlistEntry) (int, error) {
	var ahead int64
	err := tx.WithContext(ctx).
		Model(&models.WaitlistEntry{}).
		Where("trip_id = ? AND (joined_at < ? OR (joined_at = ? AND id <= ?))",
			entry.TripID, entry.JoinedAt, entry.JoinedAt, entry.ID).
		Count(&ahead).Error
	return int(ahead), err
}

func (r *waitlistRepository) CountByTrip(ctx context.Context, tripID uint) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&models.WaitlistEntry{}).
		Where("trip_id = ?", tripID).
		Count(&count).Error
	return count, err
}

func (r *waitlistRepository) Save(ctx context.Context, tx *gorm.DB, entry *models.WaitlistEntry) error {
	return tx.WithContext(ctx).Save(entry).Error
}

func (r *waitlistRepository) Delete(ctx context.Context, tx *gorm.DB, entryID uint) error {
	return tx.WithContext(ctx).Delete(&models.WaitlistEntry{}, entryID).Error
}
