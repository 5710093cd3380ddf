package setup

import (
	"fmt"

	"gorm.io/gorm"

	gormpersistence "collaborative-canvas/internal/infra/persistence/gorm"
)

// MigrateDB creates or updates the rooms, sessions and elements tables.
func MigrateDB(db *gorm.DB) error {
	if db == nil {
		return fmt.Errorf("cannot migrate database with nil DB connection")
	}
	err := db.AutoMigrate(
		&gormpersistence.RoomRecord{},
		&gormpersistence.SessionRecord{},
		&gormpersistence.ElementRecord{},
	)
	if err != nil {
		return fmt.Errorf("auto-migrate tables: %w", err)
	}
	return nil
}
