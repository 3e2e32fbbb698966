package repository

import (
	"context"

	"gorm.io/gorm"

	"github.com/divemarket/trip-reservation-service/internal/models"
)

// DiverRepository reads profile data owned by the user-profile subsystem.
type DiverRepository interface {
	FindByUserID(ctx context.Context, userID string) (*models.DiverProfile, error)
}

type diverRepository struct {
	db *gorm.DB
}

func NewDiverRepository(db *gorm.DB) DiverRepository {
	return &diverRepository{db: db}
}

func (r *diverRepository) FindByUserID(ctx context.Context, userID string) (*models.DiverProfile, error) {
	var diver models.DiverProfile
	if err := r.db.WithContext(ctx).Where("user_id = ?", userID).First(&diver).Error; err != nil {
		return nil, err
	}
	return &diver, nil
}
