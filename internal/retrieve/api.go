package retrieve

// RetrievedItem is a fused, reranked retrieval hit ready for grading.
type RetrievedItem struct {
	ID       string
	DocID    string
	Score    float64 // final score after reranking
	Prior    float64 // pre-rerank fused score, kept for explanation/debug
	Text     string
	Snippet  string
	Metadata map[string]string
	FromWeb  bool
}

// Response wraps a completed hybrid retrieval call, carrying the query
// embedding alongside the fused items since downstream grading reuses it.
type Response struct {
	Query          string
	QueryEmbedding []float32
	Items          []RetrievedItem
	SecondaryDown  bool // true when the Qdrant read failed and was demoted
}
