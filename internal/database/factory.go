package database

import (
	"fmt"
	"time"

	"github.com/civicmesh/presence/internal/common/config"

	"github.com/cenkalti/backoff/v4"
	"github.com/glebarez/sqlite"
	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

// NewDatabase creates a new database based on configuration
func NewDatabase(cfg *config.DatabaseConfig) (Database, error) {
	dialector, err := newDialector(cfg)
	if err != nil {
		return nil, err
	}

	// The database may still be coming up when the service starts;
	// retry the initial connection with exponential backoff.
	bo := backoff.NewExponentialBackOff()
	bo.MaxElapsedTime = 30 * time.Second

	var db *DB
	err = backoff.Retry(func() error {
		var openErr error
		db, openErr = newDB(cfg, dialector)
		return openErr
	}, bo)
	if err != nil {
		return nil, err
	}
	return db, nil
}

func newDialector(cfg *config.DatabaseConfig) (gorm.Dialector, error) {
	switch cfg.Type {
	case "sqlite":
		if err := ensureSQLiteDir(cfg.DBName); err != nil {
			return nil, err
		}
		return sqlite.Open(cfg.DBName), nil
	case "postgres":
		dsn := fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
			cfg.Host, cfg.Port, cfg.User, cfg.Password, cfg.DBName, cfg.SSLMode)
		return postgres.Open(dsn), nil
	case "mysql":
		dsn := fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?charset=utf8mb4&parseTime=True&loc=Local",
			cfg.User, cfg.Password, cfg.Host, cfg.Port, cfg.DBName)
		return mysql.Open(dsn), nil
	default:
		return nil, fmt.Errorf("unsupported database type: %s", cfg.Type)
	}
}
