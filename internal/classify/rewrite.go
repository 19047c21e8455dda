package classify

import (
	"context"
	"strings"

	"github.com/henryperkins/agentic-rag/internal/logging"
)

// RewriteResult is the outcome of expanding a short or ambiguous query.
type RewriteResult struct {
	Query    string
	Original string
	Reason   string
	Changed  bool
}

// Persister asynchronously records a rewrite; failures are logged, never
// surfaced, since persistence is advisory.
type Persister interface {
	PersistRewrite(ctx context.Context, original, rewritten, reason string) error
}

// Rewriter expands queries under six tokens with a fixed contextual suffix.
type Rewriter struct {
	Persist Persister
	Log     logging.Logger
}

// Rewrite expands q when it has fewer than six tokens. The rewrite is
// persisted fire-and-forget; a persistence failure never fails the query.
func (r *Rewriter) Rewrite(ctx context.Context, q string) RewriteResult {
	if len(strings.Fields(q)) >= 6 {
		return RewriteResult{Query: q, Original: q, Changed: false}
	}
	rewritten := q + " (context: RAG chat app, hybrid retrieval, citations)"
	result := RewriteResult{
		Query:    rewritten,
		Original: q,
		Reason:   "Short/ambiguous query expanded",
		Changed:  true,
	}
	r.persistAsync(q, rewritten, result.Reason)
	return result
}

// RewriteForQuality refines the working query after a low-confidence
// verification pass, steering the next retrieval toward exact terminology.
func (r *Rewriter) RewriteForQuality(ctx context.Context, q string) RewriteResult {
	rewritten := q + " (refined: emphasize key entities and exact terminology)"
	result := RewriteResult{
		Query:    rewritten,
		Original: q,
		Reason:   "Low verification confidence; refined for precision",
		Changed:  true,
	}
	r.persistAsync(q, rewritten, result.Reason)
	return result
}

func (r *Rewriter) persistAsync(original, rewritten, reason string) {
	if r.Persist == nil {
		return
	}
	go func() {
		if err := r.Persist.PersistRewrite(context.Background(), original, rewritten, reason); err != nil && r.Log != nil {
			r.Log.Error("classify.rewrite_persist_failed", map[string]any{"error": err.Error()})
		}
	}()
}
