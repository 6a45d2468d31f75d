package remote

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/lib/pq"

	"github.com/roach88/dairyledger/internal/model"
)

// postgresSchema creates the table the Postgres remote writes to.
const postgresSchema = `
CREATE TABLE IF NOT EXISTS sync_records (
	id          BIGSERIAL PRIMARY KEY,
	client_id   TEXT NOT NULL UNIQUE,
	entity_type TEXT NOT NULL,
	payload     JSONB NOT NULL,
	writes      INTEGER NOT NULL DEFAULT 1,
	received_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at  TIMESTAMPTZ NOT NULL DEFAULT now()
)`

// Postgres upserts records into a sync_records table keyed by client_id.
type Postgres struct {
	db *sql.DB
}

// OpenPostgres connects with dsn and ensures the sync_records table exists.
func OpenPostgres(ctx context.Context, dsn string) (*Postgres, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	p := NewPostgres(db)
	if err := p.EnsureSchema(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return p, nil
}

// NewPostgres wraps an open database.
func NewPostgres(db *sql.DB) *Postgres {
	return &Postgres{db: db}
}

// EnsureSchema creates sync_records if it is missing.
func (p *Postgres) EnsureSchema(ctx context.Context) error {
	if _, err := p.db.ExecContext(ctx, postgresSchema); err != nil {
		return classifyPostgres("remote.postgres.schema", err)
	}
	return nil
}

// Submit inserts payload under client_id = key. A repeated key updates the
// existing row in place and returns its id.
func (p *Postgres) Submit(ctx context.Context, entityType model.EntityType, key string, payload []byte) (Receipt, error) {
	const query = `
		INSERT INTO sync_records (client_id, entity_type, payload)
		VALUES ($1, $2, $3)
		ON CONFLICT (client_id) DO UPDATE
		SET payload = EXCLUDED.payload,
		    writes = sync_records.writes + 1,
		    updated_at = now()
		RETURNING id`

	var id int64
	if err := p.db.QueryRowContext(ctx, query, key, string(entityType), string(payload)).Scan(&id); err != nil {
		return Receipt{}, classifyPostgres("remote.postgres.submit", err)
	}
	return Receipt{RemoteID: fmt.Sprintf("%d", id)}, nil
}

// Ping checks the connection.
func (p *Postgres) Ping(ctx context.Context) error {
	if err := p.db.PingContext(ctx); err != nil {
		return classifyPostgres("remote.postgres.ping", err)
	}
	return nil
}

// Close closes the database.
func (p *Postgres) Close() error {
	return p.db.Close()
}

// classifyPostgres maps data exceptions (22), integrity violations (23) and
// syntax or access errors (42) to rejections. Everything else, including
// connection failures, is retriable.
func classifyPostgres(op string, err error) error {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		switch pqErr.Code.Class() {
		case "22", "23", "42":
			return model.NewRejectionError(op, strings.TrimSpace(pqErr.Message))
		}
		return model.NewNetworkError(op, err)
	}
	return Classify(op, err)
}
