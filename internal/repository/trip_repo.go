package repository

import (
	"context"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/divemarket/trip-reservation-service/internal/models"
)

type TripRepository interface {
	FindByID(ctx context.Context, id uint) (*models.Trip, error)
	FindByIDForUpdate(ctx context.Context, tx *gorm.DB, id uint) (*models.Trip, error)
	AddParticipants(ctx context.Context, tx *gorm.DB, tripID uint, delta int) error
	UpdateStatus(ctx context.Context, tx *gorm.DB, tripID uint, status models.TripStatus) error
}

type tripRepository struct {
	db *gorm.DB
}

func NewTripRepository(db *gorm.DB) TripRepository {
	return &tripRepository{db: db}
}

func (r *tripRepository) FindByID(ctx context.Context, id uint) (*models.Trip, error) {
	var trip models.Trip
	if err := r.db.WithContext(ctx).Preload("Site").First(&trip, id).Error; err != nil {
		return nil, err
	}
	return &trip, nil
}

// FindByIDForUpdate acquires a row-level lock on the trip within the given
// transaction. This is always the first lock taken by the capacity primitive.
func (r *tripRepository) FindByIDForUpdate(ctx context.Context, tx *gorm.DB, id uint) (*models.Trip, error) {
	var trip models.Trip
	if err := tx.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		First(&trip, id).Error; err != nil {
		return nil, err
	}
	return &trip, nil
}

func (r *tripRepository) AddParticipants(ctx context.Context, tx *gorm.DB, tripID uint, delta int) error {
	return tx.WithContext(ctx).
		Model(&models.Trip{}).
		Where("id = ?", tripID).
		UpdateColumn("current_participants", gorm.Expr("current_participants + ?", delta)).Error
}

func (r *tripRepository) UpdateStatus(ctx context.Context, tx *gorm.DB, tripID uint, status models.TripStatus) error {
	return tx.WithContext(ctx).
		Model(&models.Trip{}).
		Where("id = ?", tripID).
		Update("status", status).Error
}
