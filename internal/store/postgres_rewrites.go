package store

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresRewrites persists query-rewrite audit records. Writes are issued
// fire-and-forget by the rewriter; a failure here never fails the query.
type PostgresRewrites struct {
	pool *pgxpool.Pool
}

// NewPostgresRewrites bootstraps the query_rewrites audit table.
func NewPostgresRewrites(ctx context.Context, pool *pgxpool.Pool) (*PostgresRewrites, error) {
	if _, err := pool.Exec(ctx, `
CREATE TABLE IF NOT EXISTS query_rewrites (
  id TEXT PRIMARY KEY,
  original TEXT NOT NULL,
  rewritten TEXT NOT NULL,
  reason TEXT NOT NULL DEFAULT '',
  created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);
`); err != nil {
		return nil, err
	}
	return &PostgresRewrites{pool: pool}, nil
}

// PersistRewrite records one rewrite. Records are immutable once written.
func (s *PostgresRewrites) PersistRewrite(ctx context.Context, original, rewritten, reason string) error {
	_, err := s.pool.Exec(ctx, `
INSERT INTO query_rewrites(id, original, rewritten, reason) VALUES($1,$2,$3,$4)
`, uuid.NewString(), original, rewritten, reason)
	return err
}
