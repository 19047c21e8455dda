// Package retrieve implements hybrid retrieval (C6) and reranking (C5): a
// parallel fan-out across the primary/secondary vector stores and the
// keyword side channel, weighted score fusion with max-score dedup, and a
// Jaccard-fallback or model-backed reranker.
package retrieve

// QueryPlan sizes the per-source candidate pulls. Each source is asked for
// 2*TopK candidates so fusion/dedup has enough material to settle on the
// final TopK without starving any one source.
type QueryPlan struct {
	Query   string
	VecK    int
	KeyK    int
	TopK    int
	Filters map[string]string
}

// BuildQueryPlan derives a QueryPlan from the configured TopK.
func BuildQueryPlan(query string, topK int, filters map[string]string) QueryPlan {
	if topK <= 0 {
		topK = 10
	}
	return QueryPlan{
		Query:   query,
		VecK:    2 * topK,
		KeyK:    2 * topK,
		TopK:    topK,
		Filters: filters,
	}
}
