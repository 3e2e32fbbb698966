package repository

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/divemarket/trip-reservation-service/internal/models"
)

type SiteQuotaRepository interface {
	FindForDay(ctx context.Context, siteID uint, date time.Time) (*models.SiteDailyQuota, error)
	FindForUpdate(ctx context.Context, tx *gorm.DB, siteID uint, date time.Time) (*models.SiteDailyQuota, error)
	FindOrCreateForUpdate(ctx context.Context, tx *gorm.DB, siteID uint, date time.Time, limit int) (*models.SiteDailyQuota, error)
	AddReserved(ctx context.Context, tx *gorm.DB, quotaID uint, delta int) error
}

type siteQuotaRepository struct {
	db *gorm.DB
}

func NewSiteQuotaRepository(db *gorm.DB) SiteQuotaRepository {
	return &siteQuotaRepository{db: db}
}

func (r *siteQuotaRepository) FindForDay(ctx context.Context, siteID uint, date time.Time) (*models.SiteDailyQuota, error) {
	var quota models.SiteDailyQuota
	err := r.db.WithContext(ctx).
		Where("site_id = ? AND date = ?", siteID, date.Format("2006-01-02")).
		First(&quota).Error
	if err != nil {
		return nil, err
	}
	return &quota, nil
}

func (r *siteQuotaRepository) FindForUpdate(ctx context.Context, tx *gorm.DB, siteID uint, date time.Time) (*models.SiteDailyQuota, error) {
	var quota models.SiteDailyQuota
	err := tx.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("site_id = ? AND date = ?", siteID, date.Format("2006-01-02")).
		First(&quota).Error
	if err != nil {
		return nil, err
	}
	return &quota, nil
}

// FindOrCreateForUpdate locks the shared ledger row for a site and day,
// creating it lazily on first reservation. Always called after the trip row
// is locked, never before, so lock ordering is fixed across the system.
func (r *siteQuotaRepository) FindOrCreateForUpdate(ctx context.Context, tx *gorm.DB, siteID uint, date time.Time, limit int) (*models.SiteDailyQuota, error) {
	day := date.Format("2006-01-02")

	var quota models.SiteDailyQuota
	err := tx.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("site_id = ? AND date = ?", siteID, day).
		First(&quota).Error
	if err == nil {
		return &quota, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}

	quota = models.SiteDailyQuota{SiteID: siteID, Date: date, QuotaLimit: limit}
	if err := tx.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "site_id"}, {Name: "date"}},
			DoNothing: true,
		}).
		Create(&quota).Error; err != nil {
		return nil, err
	}

	// Re-read under lock: a concurrent transaction may have won the insert.
	if err := tx.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("site_id = ? AND date = ?", siteID, day).
		First(&quota).Error; err != nil {
		return nil, err
	}
	return &quota, nil
}

func (r *siteQuotaRepository) AddReserved(ctx context.Context, tx *gorm.DB, quotaID uint, delta int) error {
	return tx.WithContext(ctx).
		Model(&models.SiteDailyQuota{}).
		Where("id = ?", quotaID).
		UpdateColumn("reserved_count", gorm.Expr("reserved_count + ?", delta)).Error
}
