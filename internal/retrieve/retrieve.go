package retrieve

import (
	"context"

	"github.com/henryperkins/agentic-rag/internal/config"
	"github.com/henryperkins/agentic-rag/internal/embedding"
	"github.com/henryperkins/agentic-rag/internal/logging"
	"github.com/henryperkins/agentic-rag/internal/store"
)

// Retriever performs hybrid retrieval: embed the query, fan out across the
// primary/secondary vector stores and the keyword side channel, fuse with
// weighted scoring, rerank, and truncate to TopK.
type Retriever struct {
	Primary   store.VectorStore
	Secondary store.VectorStore // may be nil when dual-store mode is off
	Keyword   store.KeywordStore
	Embedder  embedding.Embedder
	Reranker  Reranker
	Hybrid    config.HybridConfig
	Log       logging.Logger
}

// UseKeyword, when false, skips the keyword fan-out entirely — the
// coordinator passes its UseHybrid option here, so non-hybrid runs are
// vector-only.
func (r *Retriever) Retrieve(ctx context.Context, query string, useKeyword bool, filters map[string]string) (Response, error) {
	plan := BuildQueryPlan(query, r.Hybrid.TopK, filters)

	vecs, err := r.Embedder.Embed(ctx, []string{query})
	if err != nil {
		return Response{}, err
	}
	var queryVec []float32
	if len(vecs) > 0 {
		queryVec = vecs[0]
	}

	keyword := r.Keyword
	if !useKeyword {
		keyword = nil
	}

	src, err := FanOut(ctx, r.Primary, r.Secondary, keyword, queryVec, plan, r.Log)
	if err != nil {
		return Response{}, err
	}

	fused := Fuse(src, r.Hybrid.VectorWeight, r.Hybrid.KeywordWeight)

	reranker := r.Reranker
	if reranker == nil {
		reranker = JaccardReranker{}
	}
	reranked, err := reranker.Rerank(ctx, query, fused)
	if err != nil {
		reranked = fused
	}

	topK := r.Hybrid.TopK
	if topK <= 0 {
		topK = 10
	}
	if len(reranked) > topK {
		reranked = reranked[:topK]
	}

	return Response{
		Query:          query,
		QueryEmbedding: queryVec,
		Items:          reranked,
		SecondaryDown:  src.secondaryDown,
	}, nil
}
