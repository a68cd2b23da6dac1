package db

import (
	"fmt"
	stlog "log"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"waconnect/internal/models"
)

// Open connects to the database and runs migrations for all models.
func Open(dsn string) (*gorm.DB, error) {
	if dsn == "" {
		return nil, fmt.Errorf("database DSN cannot be empty")
	}

	gormLevel := gormlogger.Warn
	if zerolog.GlobalLevel() <= zerolog.DebugLevel {
		gormLevel = gormlogger.Info
	}
	newLogger := gormlogger.New(
		stlog.New(log.Logger, "", stlog.LstdFlags),
		gormlogger.Config{
			LogLevel:                  gormLevel,
			IgnoreRecordNotFoundError: true,
		},
	)

	conn, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{Logger: newLogger})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	if err := conn.AutoMigrate(models.All()...); err != nil {
		return nil, fmt.Errorf("failed to auto-migrate database: %w", err)
	}

	log.Info().Msg("Database connection established and migrated")
	return conn, nil
}
