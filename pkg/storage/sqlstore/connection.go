package sqlstore

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// ConnectionConfig holds database connection configuration
type ConnectionConfig struct {
	// Driver is a registered database/sql driver name ("postgres" or "sqlite3")
	Driver      string
	DSN         string
	MaxConns    int
	MinConns    int
	Timeout     time.Duration
	MaxLifetime time.Duration
	MaxIdleTime time.Duration
}

// Open opens and pings a connection pool
func Open(ctx context.Context, config ConnectionConfig) (*sql.DB, error) {
	if config.Driver == "" {
		config.Driver = "postgres"
	}
	if config.Timeout == 0 {
		config.Timeout = 5 * time.Second
	}

	db, err := sql.Open(config.Driver, config.DSN)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s connection: %w", config.Driver, err)
	}

	if config.MaxConns > 0 {
		db.SetMaxOpenConns(config.MaxConns)
	}
	if config.MinConns > 0 {
		db.SetMaxIdleConns(config.MinConns)
	}
	db.SetConnMaxLifetime(config.MaxLifetime)
	db.SetConnMaxIdleTime(config.MaxIdleTime)

	ctx, cancel := context.WithTimeout(ctx, config.Timeout)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping %s: %w", config.Driver, err)
	}

	return db, nil
}
