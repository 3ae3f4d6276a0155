package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/norns-io/norns/internal/ruleengine"
)

// Compile-time check to verify that PostgresPersistence implements
// Persistence. If the interface changes and the struct doesn't, the build
// fails here.
var _ Persistence = (*PostgresPersistence)(nil)

// PostgresPersistence stores each specification as one JSONB document in the
// config_specs table, keyed by (app_id, version). The document column is the
// source of truth; app_id and version are denormalized for the key and the
// timestamps for inspection.
type PostgresPersistence struct {
	db *pgxpool.Pool
}

// NewPostgresPersistence creates a repository instance with the given
// connection pool.
func NewPostgresPersistence(db *pgxpool.Pool) *PostgresPersistence {
	if db == nil {
		panic("store: database pool cannot be nil")
	}
	return &PostgresPersistence{db: db}
}

// NewPostgresPool initializes a PostgreSQL connection pool with fail-fast
// connect behavior and a verified ping.
func NewPostgresPool(ctx context.Context, connString string) (*pgxpool.Pool, error) {
	config, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, fmt.Errorf("store: parse database config: %w", err)
	}

	// MaxConns caps the app's footprint on the database; MinConns keeps a
	// few connections warm for startup seeding and write bursts.
	config.MaxConns = 25
	config.MinConns = 2
	config.MaxConnLifetime = 1 * time.Hour
	config.MaxConnIdleTime = 30 * time.Minute

	initCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	pool, err := pgxpool.NewWithConfig(initCtx, config)
	if err != nil {
		return nil, fmt.Errorf("store: create connection pool: %w", err)
	}

	if err := pool.Ping(initCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("store: ping database: %w", err)
	}
	return pool, nil
}

// EnsureSchema creates the config_specs table when it does not exist yet.
func (p *PostgresPersistence) EnsureSchema(ctx context.Context) error {
	query := `
		CREATE TABLE IF NOT EXISTS config_specs (
			app_id     TEXT        NOT NULL,
			version    TEXT        NOT NULL,
			document   JSONB       NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			PRIMARY KEY (app_id, version)
		)
	`
	if _, err := p.db.Exec(ctx, query); err != nil {
		return fmt.Errorf("store: ensure schema: %w", err)
	}
	return nil
}

// LoadAll retrieves every stored specification document.
func (p *PostgresPersistence) LoadAll(ctx context.Context) ([]*ruleengine.Specification, error) {
	query := `SELECT document FROM config_specs ORDER BY app_id, version`

	rows, err := p.db.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("store: load specifications: %w", err)
	}
	defer rows.Close()

	var specs []*ruleengine.Specification
	for rows.Next() {
		var raw []byte
		if err := rows.Scan(&raw); err != nil {
			return nil, fmt.Errorf("store: scan specification row: %w", err)
		}
		var spec ruleengine.Specification
		if err := json.Unmarshal(raw, &spec); err != nil {
			return nil, fmt.Errorf("store: decode specification document: %w", err)
		}
		specs = append(specs, &spec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: rows iteration error: %w", err)
	}
	return specs, nil
}

// Save upserts the document for one (appId, version) pair.
func (p *PostgresPersistence) Save(ctx context.Context, spec *ruleengine.Specification) error {
	doc, err := json.Marshal(spec)
	if err != nil {
		return fmt.Errorf("store: encode %s@%s: %w", spec.AppID, spec.Version, err)
	}

	query := `
		INSERT INTO config_specs (app_id, version, document, updated_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (app_id, version)
		DO UPDATE SET document = EXCLUDED.document, updated_at = EXCLUDED.updated_at
	`
	if _, err := p.db.Exec(ctx, query, spec.AppID, spec.Version, doc, spec.UpdatedAt); err != nil {
		return fmt.Errorf("store: save %s@%s: %w", spec.AppID, spec.Version, err)
	}
	return nil
}

// Delete removes the document for one (appId, version) pair; deleting a
// missing row is not an error.
func (p *PostgresPersistence) Delete(ctx context.Context, appID, version string) error {
	query := `DELETE FROM config_specs WHERE app_id = $1 AND version = $2`
	if _, err := p.db.Exec(ctx, query, appID, version); err != nil {
		return fmt.Errorf("store: delete %s@%s: %w", appID, version, err)
	}
	return nil
}
