// Package pgstore is the Postgres-backed domain.ContextStore, persisting
// enriched per-(project, conversation) context as a single JSONB row per
// key, mirroring internal/ledger/pgstore's explicit-column style.
package pgstore

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/scribeforge/orchestrator/internal/domain"
)

// PgxPool is the minimal subset of *pgxpool.Pool the store needs.
type PgxPool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

// Store persists context entries in the context_entries table.
type Store struct {
	Pool PgxPool
}

// New constructs a Store over pool.
func New(pool PgxPool) *Store {
	return &Store{Pool: pool}
}

// EnsureSchema creates the context_entries table if it does not already
// exist. No migration runner is carried; schema management is out of
// scope for this module.
func (s *Store) EnsureSchema(ctx domain.Context) error {
	_, err := s.Pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS context_entries (
			key         TEXT PRIMARY KEY,
			project_id  TEXT NOT NULL,
			value       JSONB NOT NULL,
			updated_at  TIMESTAMPTZ NOT NULL
		)
	`)
	if err != nil {
		return fmt.Errorf("op=contextstore.pgstore.ensure_schema: %w", err)
	}
	return nil
}

// SaveContext upserts value under key.
func (s *Store) SaveContext(ctx domain.Context, key string, value domain.ProjectContext) error {
	tracer := otel.Tracer("contextstore.pgstore")
	ctx, span := tracer.Start(ctx, "contextstore.SaveContext")
	defer span.End()
	span.SetAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation", "UPSERT"),
		attribute.String("db.sql.table", "context_entries"),
	)

	value.UpdatedAt = time.Now()
	payload, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("op=contextstore.pgstore.save: marshal: %w", err)
	}

	_, err = s.Pool.Exec(ctx, `
		INSERT INTO context_entries (key, project_id, value, updated_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value, updated_at = EXCLUDED.updated_at
	`, key, value.ProjectID, payload, value.UpdatedAt)
	if err != nil {
		return fmt.Errorf("op=contextstore.pgstore.save: %w", err)
	}
	return nil
}

// LoadContext reads the entry for key, reporting (zero, false, nil) on miss.
func (s *Store) LoadContext(ctx domain.Context, key string) (domain.ProjectContext, bool, error) {
	tracer := otel.Tracer("contextstore.pgstore")
	ctx, span := tracer.Start(ctx, "contextstore.LoadContext")
	defer span.End()

	var payload []byte
	err := s.Pool.QueryRow(ctx, `SELECT value FROM context_entries WHERE key = $1`, key).Scan(&payload)
	if err != nil {
		if err == pgx.ErrNoRows {
			return domain.ProjectContext{}, false, nil
		}
		return domain.ProjectContext{}, false, fmt.Errorf("op=contextstore.pgstore.load: %w", err)
	}

	var pc domain.ProjectContext
	if err := json.Unmarshal(payload, &pc); err != nil {
		return domain.ProjectContext{}, false, fmt.Errorf("op=contextstore.pgstore.load: unmarshal: %w", err)
	}
	return pc, true, nil
}

// DeleteContext removes the entry for key.
func (s *Store) DeleteContext(ctx domain.Context, key string) error {
	_, err := s.Pool.Exec(ctx, `DELETE FROM context_entries WHERE key = $1`, key)
	if err != nil {
		return fmt.Errorf("op=contextstore.pgstore.delete: %w", err)
	}
	return nil
}

// CleanupExpired deletes entries whose updated_at is older than cutoff,
// returning the number removed.
func (s *Store) CleanupExpired(ctx domain.Context, cutoff time.Time) (int, error) {
	tag, err := s.Pool.Exec(ctx, `DELETE FROM context_entries WHERE updated_at < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("op=contextstore.pgstore.cleanup_expired: %w", err)
	}
	return int(tag.RowsAffected()), nil
}
