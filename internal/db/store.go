// Package db persists accepted run artifacts to Postgres. The pipeline never
// reads them back; the table exists for downstream analysis.
package db

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"go.uber.org/zap"
)

// RunRow is one persisted run.
type RunRow struct {
	RunID         string          `db:"run_id"`
	Mode          string          `db:"mode"`
	Geography     string          `db:"geography"`
	Sector        string          `db:"sector"`
	Iterations    int             `db:"iterations"`
	FinalDecision string          `db:"final_decision"`
	Artifact      json.RawMessage `db:"artifact"`
	CreatedAt     time.Time       `db:"created_at"`
}

// Store writes run rows.
type Store struct {
	db     *sqlx.DB
	logger *zap.Logger
}

// NewStore opens a Postgres connection pool.
func NewStore(dsn string, logger *zap.Logger) (*Store, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	db, err := sqlx.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening postgres: %w", err)
	}
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(5 * time.Minute)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("pinging postgres: %w", err)
	}
	return &Store{db: db, logger: logger}, nil
}

// NewStoreWithDB wraps an existing connection, mostly for tests.
func NewStoreWithDB(db *sqlx.DB, logger *zap.Logger) *Store {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{db: db, logger: logger}
}

const insertRunSQL = `
INSERT INTO research_runs (run_id, mode, geography, sector, iterations, final_decision, artifact, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
ON CONFLICT (run_id) DO NOTHING`

// SaveRun inserts one run row. A repeated run_id is a no-op so a retried
// persist activity cannot duplicate rows.
func (s *Store) SaveRun(ctx context.Context, row RunRow) error {
	if row.CreatedAt.IsZero() {
		row.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, insertRunSQL,
		row.RunID, row.Mode, row.Geography, row.Sector,
		row.Iterations, row.FinalDecision, row.Artifact, row.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("inserting run %s: %w", row.RunID, err)
	}
	s.logger.Info("Persisted run artifact",
		zap.String("run_id", row.RunID),
		zap.String("decision", row.FinalDecision),
	)
	return nil
}

// Ping probes the connection pool, for health checks.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close releases the connection pool.
func (s *Store) Close() error {
	return s.db.Close()
}
