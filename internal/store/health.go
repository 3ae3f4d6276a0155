package store

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresChecker reports database health for the readiness probe.
type PostgresChecker struct {
	db *pgxpool.Pool
}

// NewPostgresChecker wraps a pool for health checking.
func NewPostgresChecker(db *pgxpool.Pool) *PostgresChecker {
	return &PostgresChecker{db: db}
}

func (c *PostgresChecker) Name() string {
	return "postgres"
}

func (c *PostgresChecker) Check(ctx context.Context) error {
	if err := c.db.Ping(ctx); err != nil {
		return fmt.Errorf("postgres ping failed: %w", err)
	}
	return nil
}
