// Package database wraps the bbolt file that keeps calibration runs.
package database

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	bolt "go.etcd.io/bbolt"

	"github.com/go-sod/calib/internal/logging"
)

type Config struct {
	// FileName is the bbolt file. An empty name disables run persistence.
	FileName    string        `envconfig:"CALIB_DB_FILE" default:"calib.db"`
	OpenTimeout time.Duration `envconfig:"CALIB_DB_OPEN_TIMEOUT" default:"5s"`
}

func (c *Config) Enabled() bool {
	return c.FileName != ""
}

type DB struct {
	DB *bolt.DB
}

func NewFromEnv(ctx context.Context, config *Config) (*DB, error) {
	logger := logging.FromContext(ctx)
	logger.Infof("opening run database %s", config.FileName)

	if dir := filepath.Dir(config.FileName); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("creating db dir: %w", err)
		}
	}
	db, err := bolt.Open(config.FileName, 0o600, &bolt.Options{Timeout: config.OpenTimeout})
	if err != nil {
		return nil, fmt.Errorf("opening db %s: %w", config.FileName, err)
	}

	return &DB{DB: db}, nil
}

func (db *DB) Close(ctx context.Context) error {
	logger := logging.FromContext(ctx)
	logger.Infof("closing run database")

	if err := db.DB.Close(); err != nil {
		return fmt.Errorf("closing db: %w", err)
	}

	return nil
}
