// Package websearch implements the Web-Search Client (C9): a cached,
// semaphore-bounded, per-query-throttled web retrieval path with streaming
// progress callbacks, sitting alongside the vector/keyword retrieval path in
// the Coordinator's fan-out.
package websearch

// Hit is a single raw provider search result before scoring.
type Hit struct {
	Title     string
	URL       string
	Snippet   string
	Relevance *float64 // nil when the provider doesn't report one
}

// Chunk is a search hit wrapped into retrieval-candidate shape: identifier
// prefixed `web:<hash-of-url>`, with a derived score.
type Chunk struct {
	ID    string
	URL   string
	Title string
	Text  string
	Score float64
}

// Metadata summarizes a completed search for the `web_search_metadata`
// pipeline event.
type Metadata struct {
	Query       string
	Sources     []string
	ResultCount int
}

// Response is the full result of a (possibly cached) web search.
type Response struct {
	Chunks   []Chunk
	Metadata Metadata
}

// ProgressStage names a streaming progress event.
type ProgressStage string

const (
	StageInProgress ProgressStage = "in_progress"
	StageSearching  ProgressStage = "searching"
	StageCompleted  ProgressStage = "completed"
)

// ProgressEvent is forwarded by the streaming search variant; the coordinator
// translates these into researcher agent_log entries.
type ProgressEvent struct {
	Stage       ProgressStage
	ResultCount int // only meaningful when Stage == StageCompleted
}
