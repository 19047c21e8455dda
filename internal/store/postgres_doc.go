package store

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresDocStore is the relational layer documents and chunks sit on:
// deleting a document cascades to every chunk row beneath it.
type PostgresDocStore struct {
	pool *pgxpool.Pool
}

// NewPostgresDocStore bootstraps the documents/chunks relational schema.
func NewPostgresDocStore(ctx context.Context, pool *pgxpool.Pool) (*PostgresDocStore, error) {
	if _, err := pool.Exec(ctx, `
CREATE TABLE IF NOT EXISTS ingest_documents (
  id TEXT PRIMARY KEY,
  source TEXT NOT NULL,
  hash TEXT NOT NULL,
  metadata JSONB NOT NULL DEFAULT '{}'::jsonb
);
`); err != nil {
		return nil, err
	}
	if _, err := pool.Exec(ctx, `
CREATE TABLE IF NOT EXISTS ingest_chunks (
  id TEXT PRIMARY KEY,
  doc_id TEXT NOT NULL REFERENCES ingest_documents(id) ON DELETE CASCADE,
  idx INT NOT NULL,
  text TEXT NOT NULL,
  metadata JSONB NOT NULL DEFAULT '{}'::jsonb
);
`); err != nil {
		return nil, err
	}
	return &PostgresDocStore{pool: pool}, nil
}

func (s *PostgresDocStore) PutDocument(ctx context.Context, doc Document) error {
	_, err := s.pool.Exec(ctx, `
INSERT INTO ingest_documents(id, source, hash, metadata) VALUES($1,$2,$3,$4)
ON CONFLICT (id) DO UPDATE SET source=EXCLUDED.source, hash=EXCLUDED.hash, metadata=EXCLUDED.metadata
`, doc.ID, doc.Source, doc.Hash, mapToJSON(doc.Metadata))
	return err
}

func (s *PostgresDocStore) GetDocument(ctx context.Context, id string) (Document, bool, error) {
	row := s.pool.QueryRow(ctx, `SELECT id, source, hash, metadata FROM ingest_documents WHERE id=$1`, id)
	var d Document
	var md map[string]string
	if err := row.Scan(&d.ID, &d.Source, &d.Hash, &md); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Document{}, false, nil
		}
		return Document{}, false, err
	}
	d.Metadata = md
	return d, true, nil
}

func (s *PostgresDocStore) PutChunk(ctx context.Context, chunk Chunk) error {
	_, err := s.pool.Exec(ctx, `
INSERT INTO ingest_chunks(id, doc_id, idx, text, metadata) VALUES($1,$2,$3,$4,$5)
ON CONFLICT (id) DO UPDATE SET text=EXCLUDED.text, metadata=EXCLUDED.metadata, idx=EXCLUDED.idx
`, chunk.ID, chunk.DocID, chunk.Index, chunk.Text, mapToJSON(chunk.Metadata))
	return err
}

// DeleteDocument removes the document row; ingest_chunks rows cascade via FK.
func (s *PostgresDocStore) DeleteDocument(ctx context.Context, id string) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM ingest_documents WHERE id=$1`, id)
	return err
}

func (s *PostgresDocStore) CountChunks(ctx context.Context) (int, error) {
	var n int
	err := s.pool.QueryRow(ctx, `SELECT count(*) FROM ingest_chunks`).Scan(&n)
	return n, err
}
