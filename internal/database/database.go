package database

import (
	"fmt"
	"log"
	"strings"
	"time"

	"gorm.io/driver/mysql"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"gamewatch/internal/models"
)

// Initialize opens the database and runs migrations. A MySQL DSN
// (user:pass@tcp(host)/db) selects the MySQL driver; anything else is
// treated as a SQLite file path.
func Initialize(databaseURL string) (*gorm.DB, error) {
	if databaseURL == "" {
		databaseURL = "gamewatch.db"
	}

	cfg := &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	}

	var db *gorm.DB
	var err error
	if strings.Contains(databaseURL, "@tcp(") {
		db, err = gorm.Open(mysql.Open(databaseURL), cfg)
	} else {
		db, err = gorm.Open(sqlite.Open(databaseURL), cfg)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	// Configure connection pool
	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get underlying sql.DB: %w", err)
	}
	sqlDB.SetMaxIdleConns(10)
	sqlDB.SetMaxOpenConns(100)
	sqlDB.SetConnMaxLifetime(time.Hour)

	if err := Migrate(db); err != nil {
		return nil, err
	}

	log.Println("Database initialized successfully")
	return db, nil
}

// Migrate creates or updates the schema for all models.
func Migrate(db *gorm.DB) error {
	err := db.AutoMigrate(
		&models.Watch{},
		&models.PriceSnapshot{},
		&models.Notification{},
	)
	if err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}
	return nil
}
