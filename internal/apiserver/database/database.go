package database

import (
	"fmt"

	"github.com/amoylab/riderwatch/internal/common/config"

	"gorm.io/gorm"
)

// Open connects to the configured database and migrates the given models
func Open(cfg *config.DatabaseConfig, models ...any) (*gorm.DB, error) {
	d, err := dialector(cfg)
	if err != nil {
		return nil, err
	}

	db, err := gorm.Open(d, &gorm.Config{})
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if cfg.Type == "sqlite" {
		// a single connection keeps ":memory:" databases shared and avoids SQLITE_BUSY
		if sqlDB, err := db.DB(); err == nil {
			sqlDB.SetMaxOpenConns(1)
		}
	}

	if len(models) > 0 {
		if err := db.AutoMigrate(models...); err != nil {
			_ = Close(db)
			return nil, fmt.Errorf("failed to migrate database: %w", err)
		}
	}
	return db, nil
}

// Close closes the underlying connection pool
func Close(db *gorm.DB) error {
	if db == nil {
		return nil
	}
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
