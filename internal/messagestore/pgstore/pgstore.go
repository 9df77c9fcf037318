// Package pgstore is the Postgres-backed domain.MessageStore, appending
// message rows keyed by conversation and ordered by insertion, mirroring
// internal/ledger/pgstore's explicit-column style.
package pgstore

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/oklog/ulid/v2"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/scribeforge/orchestrator/internal/domain"
)

// PgxPool is the minimal subset of *pgxpool.Pool the store needs.
type PgxPool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// Store persists messages in the messages table.
type Store struct {
	Pool PgxPool
}

// New constructs a Store over pool.
func New(pool PgxPool) *Store {
	return &Store{Pool: pool}
}

// EnsureSchema creates the messages table if it does not already exist.
func (s *Store) EnsureSchema(ctx domain.Context) error {
	_, err := s.Pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS messages (
			id              TEXT PRIMARY KEY,
			project_id      TEXT NOT NULL,
			conversation_id TEXT NOT NULL,
			role            TEXT NOT NULL,
			worker_kind     TEXT NOT NULL,
			content         TEXT NOT NULL,
			metadata        JSONB,
			created_at      TIMESTAMPTZ NOT NULL
		)
	`)
	if err != nil {
		return fmt.Errorf("op=messagestore.pgstore.ensure_schema: %w", err)
	}
	_, err = s.Pool.Exec(ctx, `CREATE INDEX IF NOT EXISTS idx_messages_conversation ON messages (conversation_id, created_at)`)
	if err != nil {
		return fmt.Errorf("op=messagestore.pgstore.ensure_schema: %w", err)
	}
	return nil
}

// Append inserts msg, assigning a ULID id when empty so rows for one
// conversation sort monotonically by insertion time, preserving the
// user-then-agent adjacency the caller relies on.
func (s *Store) Append(ctx domain.Context, msg domain.Message) error {
	tracer := otel.Tracer("messagestore.pgstore")
	ctx, span := tracer.Start(ctx, "messagestore.Append")
	defer span.End()
	span.SetAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation", "INSERT"),
		attribute.String("db.sql.table", "messages"),
	)

	id := msg.ID
	if id == "" {
		id = ulid.Make().String()
	}
	metadata, err := json.Marshal(msg.Metadata)
	if err != nil {
		metadata = []byte("{}")
	}
	_, err = s.Pool.Exec(ctx, `
		INSERT INTO messages (id, project_id, conversation_id, role, worker_kind, content, metadata, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
	`, id, msg.ProjectID, msg.ConversationID, string(msg.Role), string(msg.WorkerKind), msg.Content, metadata, msg.CreatedAt)
	if err != nil {
		return fmt.Errorf("op=messagestore.pgstore.append: %w", err)
	}
	return nil
}
