// Package db opens the sqlite store backing the request-log monitor.
package db

import (
	"fmt"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/pysugar/antigravity-proxy/internal/db/models"
)

// Open connects to the sqlite file at path and migrates the schema.
func Open(path string) (*gorm.DB, error) {
	gdb, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Warn),
	})
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	if err := gdb.AutoMigrate(&models.RequestLog{}); err != nil {
		return nil, fmt.Errorf("migrate request logs: %w", err)
	}
	return gdb, nil
}
