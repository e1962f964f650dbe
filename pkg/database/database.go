package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"library_catalog/pkg/config"
	"library_catalog/pkg/logging"
	"library_catalog/pkg/models"

	"github.com/sirupsen/logrus"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

// Open connects to the configured database and tunes the pool. The schema is
// left to the catalog store.
func Open(cfg config.DatabaseConfig, log *logrus.Logger) (*gorm.DB, error) {
	dialector, err := dialectorFor(cfg, log)
	if err != nil {
		return nil, err
	}

	db, err := connect(dialector, cfg, log)
	if err != nil {
		return nil, err
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("get database instance: %w", err)
	}
	if err := preparePool(sqlDB, cfg); err != nil {
		return nil, err
	}
	log.Info("Database ping successful")
	return db, nil
}

// preparePool tunes the pool and pings it. The pool is closed when the ping
// fails.
func preparePool(sqlDB *sql.DB, cfg config.DatabaseConfig) error {
	if cfg.Driver == config.DriverSQLite {
		// one connection keeps :memory: databases shared and lets sqlite
		// serialize writers itself
		sqlDB.SetMaxOpenConns(1)
	} else {
		sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
		sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)
		sqlDB.SetConnMaxLifetime(cfg.ConnLifetime)
	}

	if err := sqlDB.Ping(); err != nil {
		sqlDB.Close()
		return fmt.Errorf("database ping failed: %w", err)
	}
	return nil
}

// Verify reports an error unless the books table exists.
func Verify(db *gorm.DB) error {
	if !db.Migrator().HasTable(&models.Book{}) {
		return errors.New("books table does not exist")
	}
	return nil
}

func Ping(ctx context.Context, db *gorm.DB) error {
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

func Close(db *gorm.DB) error {
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func dialectorFor(cfg config.DatabaseConfig, log *logrus.Logger) (gorm.Dialector, error) {
	switch cfg.Driver {
	case config.DriverSQLite:
		if err := ensureDir(cfg.Path); err != nil {
			return nil, err
		}
		log.WithField("path", cfg.Path).Info("Connecting to sqlite database")
		return sqlite.Open(cfg.Path), nil
	case config.DriverPostgres:
		log.Infof("Connecting to database: %s@%s:%s/%s", cfg.User, cfg.Host, cfg.Port, cfg.Name)
		return postgres.Open(cfg.DSN()), nil
	default:
		return nil, fmt.Errorf("unsupported db driver %q", cfg.Driver)
	}
}

func connect(dialector gorm.Dialector, cfg config.DatabaseConfig, log *logrus.Logger) (*gorm.DB, error) {
	gormCfg := &gorm.Config{Logger: logging.Gorm(log)}

	maxRetries := cfg.MaxRetries
	if maxRetries < 1 {
		maxRetries = 1
	}

	var (
		db  *gorm.DB
		err error
	)
	for i := 0; i < maxRetries; i++ {
		db, err = gorm.Open(dialector, gormCfg)
		if err == nil {
			return db, nil
		}
		log.Warnf("Database connection attempt %d/%d failed: %v", i+1, maxRetries, err)
		if i < maxRetries-1 {
			time.Sleep(cfg.RetryDelay)
		}
	}
	return nil, fmt.Errorf("failed to connect to database: %w", err)
}

func ensureDir(path string) error {
	if path == ":memory:" || strings.HasPrefix(path, "file:") {
		return nil
	}
	dir := filepath.Dir(path)
	if dir == "." || dir == "" {
		return nil
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create database directory %s: %w", dir, err)
	}
	return nil
}
