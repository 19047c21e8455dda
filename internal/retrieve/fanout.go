package retrieve

import (
	"context"

	"golang.org/x/sync/errgroup"

	"github.com/henryperkins/agentic-rag/internal/logging"
	"github.com/henryperkins/agentic-rag/internal/store"
)

// candidateSources holds the raw, unfused output of the parallel fan-out.
type candidateSources struct {
	primary       []store.VectorResult
	secondary     []store.VectorResult
	keyword       []store.KeywordResult
	secondaryDown bool
}

// FanOut queries the primary vector store, the secondary vector store, and
// the keyword store concurrently. A secondary-store failure is demoted to a
// logged "retrieval.qdrant_fallback" event and does not fail the group — the
// primary vector store and keyword store alone are sufficient to answer.
func FanOut(ctx context.Context, primary store.VectorStore, secondary store.VectorStore, keyword store.KeywordStore, queryVec []float32, plan QueryPlan, log logging.Logger) (candidateSources, error) {
	var out candidateSources
	g, gctx := errgroup.WithContext(ctx)

	if primary != nil && len(queryVec) > 0 {
		g.Go(func() error {
			res, err := primary.SimilaritySearch(gctx, queryVec, plan.VecK, plan.Filters)
			if err != nil {
				return err
			}
			out.primary = res
			return nil
		})
	}

	if secondary != nil && len(queryVec) > 0 {
		g.Go(func() error {
			res, err := secondary.SimilaritySearch(ctx, queryVec, plan.VecK, plan.Filters)
			if err != nil {
				out.secondaryDown = true
				if log != nil {
					log.Error("retrieval.qdrant_fallback", map[string]any{"error": err.Error()})
				}
				return nil
			}
			out.secondary = res
			return nil
		})
	}

	if keyword != nil && plan.Query != "" {
		g.Go(func() error {
			res, err := keyword.Search(gctx, plan.Query, plan.KeyK)
			if err != nil {
				return err
			}
			out.keyword = res
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return candidateSources{}, err
	}
	return out, nil
}
