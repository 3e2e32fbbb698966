package database

import (
	"log"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/divemarket/trip-reservation-service/internal/models"
)

func NewPostgresDB(dsn string) *gorm.DB {
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Warn),
	})
	if err != nil {
		log.Fatalf("failed to connect to database: %v", err)
	}

	if err := db.AutoMigrate(
		&models.DiveSite{},
		&models.Trip{},
		&models.SiteDailyQuota{},
		&models.DiverProfile{},
		&models.Booking{},
		&models.WaitlistEntry{},
	); err != nil {
		log.Fatalf("failed to auto-migrate: %v", err)
	}

	// Partial unique index: one active booking per user per trip. The
	// locked reservation path already enforces this, the index is the
	// backstop against races outside it.
	db.Exec(`
		CREATE UNIQUE INDEX IF NOT EXISTS idx_booking_active
		ON bookings (trip_id, user_id)
		WHERE status IN ('pending', 'confirmed', 'checked_in')
	`)

	return db
}
