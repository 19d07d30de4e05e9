package database

import (
	"fmt"

	"github.com/winubot/trading-engine/internal/database/migrations"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

// NewDatabase opens the sqlite database at path and runs all migrations.
func NewDatabase(path string) (*gorm.DB, error) {
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{})
	if err != nil {
		return nil, err
	}

	if err := Migrate(db); err != nil {
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return db, nil
}

// Migrate applies the schema to an already-open connection. Tests use this
// with in-memory databases.
func Migrate(db *gorm.DB) error {
	if err := migrations.AddExecutionTables(db); err != nil {
		return err
	}
	return migrations.AddBillingTables(db)
}
