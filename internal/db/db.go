// internal/db/db.go
package db

import (
	"fmt"
	"time"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"github.com/zkwallet/zkwallet/internal/logging"
)

var DB *gorm.DB

// Init connects to Postgres and applies pending migrations. The retry loop
// covers container startup ordering, where the database may come up later
// than the application.
func Init(databaseURL, migrationsPath string) error {
	var err error
	var conn *gorm.DB

	for i := 0; i < 30; i++ {
		conn, err = gorm.Open(postgres.Open(databaseURL), &gorm.Config{
			TranslateError: true,
		})
		if err == nil {
			break
		}
		logging.Warn("database connection attempt failed",
			zap.Int("attempt", i+1),
			zap.Error(err))
		time.Sleep(time.Second * 2)
	}

	if err != nil {
		return fmt.Errorf("failed to connect to the database after 30 attempts: %w", err)
	}

	DB = conn

	if err := runMigrations(databaseURL, migrationsPath); err != nil {
		return fmt.Errorf("error running migrations: %w", err)
	}

	return nil
}

func Close() error {
	if DB != nil {
		sqlDB, err := DB.DB()
		if err != nil {
			return fmt.Errorf("error getting sql.DB: %w", err)
		}
		return sqlDB.Close()
	}
	return nil
}

func runMigrations(databaseURL, migrationsPath string) error {
	logging.Info("starting migrations", zap.String("path", migrationsPath))

	m, err := migrate.New("file://"+migrationsPath, databaseURL)
	if err != nil {
		return fmt.Errorf("error initializing migrations: %w", err)
	}

	if err := m.Up(); err != nil && err != migrate.ErrNoChange {
		return fmt.Errorf("error running migrations: %w", err)
	}

	logging.Info("migrations completed")
	return nil
}
