package store

import (
	"context"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresKeyword is the trigram-backed keyword side channel (C4) fused
// against vector similarity during hybrid retrieval.
type PostgresKeyword struct {
	pool *pgxpool.Pool
}

// NewPostgresKeyword bootstraps pg_trgm and a chunks full-text table.
func NewPostgresKeyword(ctx context.Context, pool *pgxpool.Pool) (*PostgresKeyword, error) {
	if _, err := pool.Exec(ctx, `CREATE EXTENSION IF NOT EXISTS pg_trgm`); err != nil {
		return nil, err
	}
	if _, err := pool.Exec(ctx, `
CREATE TABLE IF NOT EXISTS chunks_fts (
  id TEXT PRIMARY KEY,
  text TEXT NOT NULL,
  metadata JSONB NOT NULL DEFAULT '{}'::jsonb,
  ts tsvector GENERATED ALWAYS AS (to_tsvector('simple', coalesce(text,''))) STORED
);
`); err != nil {
		return nil, err
	}
	if _, err := pool.Exec(ctx, `CREATE INDEX IF NOT EXISTS chunks_fts_ts_idx ON chunks_fts USING GIN (ts)`); err != nil {
		return nil, err
	}
	if _, err := pool.Exec(ctx, `CREATE INDEX IF NOT EXISTS chunks_fts_trgm_idx ON chunks_fts USING GIN (text gin_trgm_ops)`); err != nil {
		return nil, err
	}
	return &PostgresKeyword{pool: pool}, nil
}

func (p *PostgresKeyword) Index(ctx context.Context, id, text string, metadata map[string]string) error {
	_, err := p.pool.Exec(ctx, `
INSERT INTO chunks_fts(id, text, metadata) VALUES($1,$2,$3)
ON CONFLICT (id) DO UPDATE SET text=EXCLUDED.text, metadata=EXCLUDED.metadata
`, id, text, mapToJSON(metadata))
	return err
}

func (p *PostgresKeyword) Remove(ctx context.Context, id string) error {
	_, err := p.pool.Exec(ctx, `DELETE FROM chunks_fts WHERE id=$1`, id)
	return err
}

// Search scores each row by its trigram similarity to the query (a row
// qualifies on a trigram match or a full-text match), capping results at two chunks per source document (metadata "doc_id") so
// a single large document cannot monopolize the keyword side of the fusion.
func (p *PostgresKeyword) Search(ctx context.Context, query string, limit int) ([]KeywordResult, error) {
	if limit <= 0 {
		limit = 10
	}
	q := strings.TrimSpace(query)
	if q == "" {
		return nil, nil
	}
	rows, err := p.pool.Query(ctx, `
SELECT id, similarity(text, $1) AS score, left(text, 160) AS snippet, metadata
FROM chunks_fts
WHERE text % $1 OR ts @@ plainto_tsquery('simple', $1)
ORDER BY score DESC
LIMIT $2
`, q, limit*4) // over-fetch so the per-document cap below still yields `limit` rows
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	perDoc := make(map[string]int)
	out := make([]KeywordResult, 0, limit)
	for rows.Next() {
		var r KeywordResult
		var md map[string]string
		if err := rows.Scan(&r.ID, &r.Score, &r.Snippet, &md); err != nil {
			return nil, err
		}
		r.Metadata = md
		docID := md["doc_id"]
		if perDoc[docID] >= 2 {
			continue
		}
		perDoc[docID]++
		out = append(out, r)
		if len(out) >= limit {
			break
		}
	}
	return out, rows.Err()
}
