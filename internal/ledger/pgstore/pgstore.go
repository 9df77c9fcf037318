// Package pgstore is the Postgres-backed domain.LedgerStore, persisting
// cost-ledger entries as an append-only table.
package pgstore

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/oklog/ulid/v2"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/scribeforge/orchestrator/internal/domain"
)

// PgxPool is the minimal subset of *pgxpool.Pool the store needs, kept as
// an interface so tests can stub it without a live database.
type PgxPool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

// Store persists ledger entries in the ledger_entries table.
type Store struct {
	Pool PgxPool
}

// New constructs a Store over pool.
func New(pool PgxPool) *Store {
	return &Store{Pool: pool}
}

// EnsureSchema creates the ledger_entries table if it does not already
// exist. Called once at startup; this module carries no migration runner
// since schema management is out of scope.
func (s *Store) EnsureSchema(ctx domain.Context) error {
	_, err := s.Pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS ledger_entries (
			id                TEXT PRIMARY KEY,
			user_id           TEXT NOT NULL,
			worker_kind       TEXT NOT NULL,
			model             TEXT NOT NULL,
			prompt_tokens     INTEGER NOT NULL,
			completion_tokens INTEGER NOT NULL,
			cost_usd          DOUBLE PRECISION NOT NULL,
			request_id        TEXT NOT NULL,
			created_at        TIMESTAMPTZ NOT NULL,
			metadata          JSONB
		)
	`)
	if err != nil {
		return fmt.Errorf("op=pgstore.ensure_schema: %w", err)
	}
	return nil
}

// Append inserts e, assigning a ULID id when e.ID is empty so entries sort
// monotonically by insertion time.
func (s *Store) Append(ctx domain.Context, e domain.LedgerEntry) error {
	tracer := otel.Tracer("ledger.pgstore")
	ctx, span := tracer.Start(ctx, "ledger.Append")
	defer span.End()
	span.SetAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation", "INSERT"),
		attribute.String("db.sql.table", "ledger_entries"),
	)

	id := e.ID
	if id == "" {
		id = ulid.Make().String()
	}
	q := `INSERT INTO ledger_entries
		(id, user_id, worker_kind, model, prompt_tokens, completion_tokens, cost_usd, request_id, created_at, metadata)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)`
	_, err := s.Pool.Exec(ctx, q, id, e.UserID, string(e.WorkerKind), e.Model, e.PromptTokens, e.CompletionTokens, e.CostUSD, e.RequestID, e.CreatedAt, metadataJSON(e.Metadata))
	if err != nil {
		return fmt.Errorf("op=pgstore.append: %w", err)
	}
	return nil
}

// EntriesSince returns every entry for userID with created_at >= since.
func (s *Store) EntriesSince(ctx domain.Context, userID string, since time.Time) ([]domain.LedgerEntry, error) {
	tracer := otel.Tracer("ledger.pgstore")
	ctx, span := tracer.Start(ctx, "ledger.EntriesSince")
	defer span.End()
	span.SetAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation", "SELECT"),
		attribute.String("db.sql.table", "ledger_entries"),
	)

	q := `SELECT id, user_id, worker_kind, model, prompt_tokens, completion_tokens, cost_usd, request_id, created_at, metadata
		FROM ledger_entries WHERE user_id = $1 AND created_at >= $2 ORDER BY created_at ASC`
	rows, err := s.Pool.Query(ctx, q, userID, since)
	if err != nil {
		return nil, fmt.Errorf("op=pgstore.entries_since: %w", err)
	}
	defer rows.Close()
	return scanEntries(rows)
}

// EntriesInRange returns entries for userID within [from, to), optionally
// filtered to a single worker kind.
func (s *Store) EntriesInRange(ctx domain.Context, userID string, from, to time.Time, workerKind domain.WorkerKind) ([]domain.LedgerEntry, error) {
	tracer := otel.Tracer("ledger.pgstore")
	ctx, span := tracer.Start(ctx, "ledger.EntriesInRange")
	defer span.End()
	span.SetAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation", "SELECT"),
		attribute.String("db.sql.table", "ledger_entries"),
	)

	q := `SELECT id, user_id, worker_kind, model, prompt_tokens, completion_tokens, cost_usd, request_id, created_at, metadata
		FROM ledger_entries WHERE user_id = $1 AND created_at >= $2 AND created_at < $3`
	args := []any{userID, from, to}
	if workerKind != "" {
		q += " AND worker_kind = $4"
		args = append(args, string(workerKind))
	}
	q += " ORDER BY created_at ASC"

	rows, err := s.Pool.Query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("op=pgstore.entries_in_range: %w", err)
	}
	defer rows.Close()
	return scanEntries(rows)
}

func scanEntries(rows pgx.Rows) ([]domain.LedgerEntry, error) {
	var out []domain.LedgerEntry
	for rows.Next() {
		var e domain.LedgerEntry
		var workerKind string
		var metadata []byte
		if err := rows.Scan(&e.ID, &e.UserID, &workerKind, &e.Model, &e.PromptTokens, &e.CompletionTokens, &e.CostUSD, &e.RequestID, &e.CreatedAt, &metadata); err != nil {
			return nil, fmt.Errorf("op=pgstore.scan: %w", err)
		}
		e.WorkerKind = domain.WorkerKind(workerKind)
		e.Metadata = unmarshalMetadata(metadata)
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("op=pgstore.rows: %w", err)
	}
	return out, nil
}
