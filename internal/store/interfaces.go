// Package store implements the primary/secondary vector stores (C3), the
// keyword side-channel (C4), and the document/chunk relational layer that
// ingestion and retrieval sit on top of.
package store

import "context"

// VectorResult is a single nearest-neighbor hit. Score is similarity, not
// distance: higher is always closer regardless of the underlying metric.
type VectorResult struct {
	ID       string
	Score    float64
	Metadata map[string]string
}

// VectorStore is the minimal contract both the primary (pgvector) and
// secondary (Qdrant) stores satisfy. Ingestion writes to both when dual-store
// mode is enabled; retrieval reads from both in parallel.
type VectorStore interface {
	Upsert(ctx context.Context, id string, vector []float32, metadata map[string]string) error
	Delete(ctx context.Context, id string) error
	SimilaritySearch(ctx context.Context, vector []float32, k int, filter map[string]string) ([]VectorResult, error)
}

// KeywordResult is a single trigram-similarity hit from the keyword store.
type KeywordResult struct {
	ID       string
	Score    float64
	Snippet  string
	Metadata map[string]string
}

// KeywordStore is the trigram-backed side channel used to fuse with vector
// similarity during hybrid retrieval.
type KeywordStore interface {
	Index(ctx context.Context, id, text string, metadata map[string]string) error
	Remove(ctx context.Context, id string) error
	Search(ctx context.Context, query string, limit int) ([]KeywordResult, error)
}

// Chunk is a single indexed unit of a document: the text window plus its
// position, used by both vector and keyword stores as the unit of retrieval.
type Chunk struct {
	ID       string
	DocID    string
	Index    int
	Text     string
	Metadata map[string]string
}

// Document is the relational record a chunk's DocID refers back to.
type Document struct {
	ID       string
	Source   string
	Hash     string
	Metadata map[string]string
}

// DocStore is the relational layer for documents and their chunks: CRUD with
// cascading delete from document down to chunk.
type DocStore interface {
	PutDocument(ctx context.Context, doc Document) error
	GetDocument(ctx context.Context, id string) (Document, bool, error)
	PutChunk(ctx context.Context, chunk Chunk) error
	DeleteDocument(ctx context.Context, id string) error // cascades to chunks
	CountChunks(ctx context.Context) (int, error)
}
