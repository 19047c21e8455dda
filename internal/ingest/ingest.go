package ingest

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/henryperkins/agentic-rag/internal/embedding"
	"github.com/henryperkins/agentic-rag/internal/events"
	"github.com/henryperkins/agentic-rag/internal/logging"
	"github.com/henryperkins/agentic-rag/internal/metrics"
	"github.com/henryperkins/agentic-rag/internal/store"
)

// Result reports a completed ingest.
type Result struct {
	DocumentID     string
	ChunksInserted int
}

// Pipeline is the two-phase ingestion pipeline. Chunks are written
// sequentially: ordering matters for rollback correctness, so ingestion is
// the one place in the core that deliberately avoids fan-out.
type Pipeline struct {
	Docs      store.DocStore
	Primary   store.VectorStore
	Secondary store.VectorStore  // nil when dual-store mode is off
	Keyword   store.KeywordStore // nil skips title indexing
	Embedder  embedding.Embedder
	Chunker   Chunker
	Objects   ObjectResolver // nil skips object-store source resolution
	Events    *events.Publisher
	Metrics   metrics.Metrics
	Log       logging.Logger

	// Secondary-insert retry schedule: initial delay, doubling per attempt,
	// capped, for up to RetryCount retries after the first attempt.
	RetryInitial time.Duration
	RetryMax     time.Duration
	RetryCount   int
}

// Ingest chunks content, embeds every chunk, and writes each chunk to the
// primary store then the secondary store in order. If any secondary insert
// exhausts its retries, the just-inserted primary chunk is deleted, the
// document is deleted (cascading its chunks), and every previously-inserted
// secondary point is deleted by chunk ID before the error surfaces.
//
// On success both stores contain exactly ChunksInserted records correlated
// by chunk ID; on failure neither contains any record of the document.
func (p *Pipeline) Ingest(ctx context.Context, content, title, source string) (Result, error) {
	log := p.Log
	if log == nil {
		log = logging.Noop{}
	}
	m := p.Metrics
	if m == nil {
		m = metrics.Noop{}
	}

	if content == "" && p.Objects != nil && strings.HasPrefix(source, "s3://") {
		resolved, err := p.Objects.Resolve(ctx, source)
		if err != nil {
			return Result{}, fmt.Errorf("ingest: resolve source %s: %w", source, err)
		}
		content = resolved
	}
	if strings.TrimSpace(content) == "" {
		return Result{}, fmt.Errorf("ingest: empty content")
	}

	chunks := p.Chunker.Split(content)
	vectors, err := p.Embedder.Embed(ctx, chunks)
	if err != nil {
		return Result{}, fmt.Errorf("ingest: embed chunks: %w", err)
	}
	dim := p.Embedder.Dimension()
	for _, v := range vectors {
		if len(v) != dim {
			return Result{}, embedding.ErrDimensionMismatch{Want: dim, Got: len(v)}
		}
	}

	sum := sha256.Sum256([]byte(content))
	docID := uuid.NewString()
	doc := store.Document{
		ID:     docID,
		Source: source,
		Hash:   hex.EncodeToString(sum[:]),
		Metadata: map[string]string{
			"title": title,
		},
	}
	if err := p.Docs.PutDocument(ctx, doc); err != nil {
		return Result{}, fmt.Errorf("ingest: put document: %w", err)
	}

	var committed []string // chunk IDs fully written to both stores
	for i, text := range chunks {
		chunkID := uuid.NewString()
		meta := map[string]string{
			"doc_id": docID,
			"idx":    strconv.Itoa(i),
			"text":   text,
			"title":  title,
			"source": source,
		}

		if err := p.Docs.PutChunk(ctx, store.Chunk{ID: chunkID, DocID: docID, Index: i, Text: text, Metadata: meta}); err != nil {
			p.rollback(ctx, docID, chunkID, committed, log)
			return Result{}, fmt.Errorf("ingest: put chunk %d: %w", i, err)
		}
		if err := p.Primary.Upsert(ctx, chunkID, vectors[i], meta); err != nil {
			p.rollback(ctx, docID, chunkID, committed, log)
			return Result{}, fmt.Errorf("ingest: primary insert for chunk %d: %w", i, err)
		}
		if p.Keyword != nil && title != "" {
			if err := p.Keyword.Index(ctx, chunkID, title, meta); err != nil {
				p.rollback(ctx, docID, chunkID, committed, log)
				return Result{}, fmt.Errorf("ingest: keyword index for chunk %d: %w", i, err)
			}
		}

		if p.Secondary != nil {
			if err := p.upsertSecondaryWithRetry(ctx, chunkID, vectors[i], meta); err != nil {
				// Delete the just-inserted primary chunk first, then unwind
				// everything else.
				if derr := p.Primary.Delete(ctx, chunkID); derr != nil {
					log.Error("ingest.rollback_primary_delete_failed", map[string]any{"chunk_id": chunkID, "error": derr.Error()})
				}
				if p.Keyword != nil {
					_ = p.Keyword.Remove(ctx, chunkID)
				}
				p.rollback(ctx, docID, "", committed, log)
				m.IncCounter("ingest_rollback_total", nil)
				return Result{}, fmt.Errorf("ingest: secondary insert for chunk %d: %w", i, err)
			}
		}
		committed = append(committed, chunkID)
	}

	m.IncCounter("ingest_documents_total", nil)
	m.ObserveHistogram("ingest_chunks", float64(len(committed)), nil)
	p.Events.Publish("document.ingested", map[string]any{
		"document_id": docID,
		"chunk_count": len(committed),
		"source":      source,
	})
	log.Info("ingest.completed", map[string]any{"document_id": docID, "chunks": len(committed)})

	return Result{DocumentID: docID, ChunksInserted: len(committed)}, nil
}

// upsertSecondaryWithRetry retries transient secondary-store failures with
// exponential backoff: initial 100ms, doubling, capped at 5s, up to 3
// retries after the first attempt.
func (p *Pipeline) upsertSecondaryWithRetry(ctx context.Context, id string, vector []float32, meta map[string]string) error {
	initial := p.RetryInitial
	if initial <= 0 {
		initial = 100 * time.Millisecond
	}
	maxDelay := p.RetryMax
	if maxDelay <= 0 {
		maxDelay = 5 * time.Second
	}
	retries := p.RetryCount
	if retries <= 0 {
		retries = 3
	}

	delay := initial
	var err error
	for attempt := 0; attempt <= retries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
			delay *= 2
			if delay > maxDelay {
				delay = maxDelay
			}
		}
		if err = p.Secondary.Upsert(ctx, id, vector, meta); err == nil {
			return nil
		}
	}
	return err
}

// rollback deletes the document (cascading its relational chunks), the
// partially-written chunk if any, and every committed chunk from the
// vector/keyword/secondary stores. Best-effort: individual delete failures
// are logged, not surfaced, since the caller already has the real error.
func (p *Pipeline) rollback(ctx context.Context, docID, partialChunkID string, committed []string, log logging.Logger) {
	if err := p.Docs.DeleteDocument(ctx, docID); err != nil {
		log.Error("ingest.rollback_document_delete_failed", map[string]any{"document_id": docID, "error": err.Error()})
	}
	ids := committed
	if partialChunkID != "" {
		ids = append(append([]string{}, committed...), partialChunkID)
	}
	for _, id := range ids {
		if err := p.Primary.Delete(ctx, id); err != nil {
			log.Error("ingest.rollback_primary_delete_failed", map[string]any{"chunk_id": id, "error": err.Error()})
		}
		if p.Keyword != nil {
			_ = p.Keyword.Remove(ctx, id)
		}
	}
	if p.Secondary != nil {
		for _, id := range committed {
			if err := p.Secondary.Delete(ctx, id); err != nil {
				log.Error("ingest.rollback_secondary_delete_failed", map[string]any{"chunk_id": id, "error": err.Error()})
			}
		}
	}
}

// DeleteDocument removes a document and its chunks from every store. Both
// deletes are idempotent: deleting a missing document succeeds as a no-op.
func (p *Pipeline) DeleteDocument(ctx context.Context, docID string, chunkIDs []string) error {
	for _, id := range chunkIDs {
		if err := p.Primary.Delete(ctx, id); err != nil {
			return fmt.Errorf("ingest: delete chunk %s: %w", id, err)
		}
		if p.Keyword != nil {
			_ = p.Keyword.Remove(ctx, id)
		}
		if p.Secondary != nil {
			if err := p.Secondary.Delete(ctx, id); err != nil {
				return fmt.Errorf("ingest: delete secondary point %s: %w", id, err)
			}
		}
	}
	return p.Docs.DeleteDocument(ctx, docID)
}
