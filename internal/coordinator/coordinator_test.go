package coordinator

import (
	"context"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/henryperkins/agentic-rag/internal/cache"
	"github.com/henryperkins/agentic-rag/internal/classify"
	"github.com/henryperkins/agentic-rag/internal/config"
	"github.com/henryperkins/agentic-rag/internal/grade"
	"github.com/henryperkins/agentic-rag/internal/logging"
	"github.com/henryperkins/agentic-rag/internal/metrics"
	"github.com/henryperkins/agentic-rag/internal/retrieve"
	"github.com/henryperkins/agentic-rag/internal/store"
	"github.com/henryperkins/agentic-rag/internal/websearch"
)

// vocabEmbedder embeds text as a bag-of-words vector over a fixed
// vocabulary, so cosine similarity tracks token overlap and tests can
// control grading outcomes precisely.
type vocabEmbedder struct {
	vocab []string
}

func (v vocabEmbedder) Dimension() int { return len(v.vocab) }

func (v vocabEmbedder) Embed(_ context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, text := range texts {
		vec := make([]float32, len(v.vocab))
		present := map[string]bool{}
		for _, tok := range strings.Fields(strings.ToLower(text)) {
			present[strings.Trim(tok, ".,;:!?\"'()[]{}*")] = true
		}
		var norm float64
		for j, word := range v.vocab {
			if present[word] {
				vec[j] = 1
				norm++
			}
		}
		if norm > 0 {
			inv := float32(1.0 / sqrt(norm))
			for j := range vec {
				vec[j] *= inv
			}
		}
		out[i] = vec
	}
	return out, nil
}

func sqrt(f float64) float64 {
	if f <= 0 {
		return 0
	}
	x := f
	for i := 0; i < 32; i++ {
		x = (x + f/x) / 2
	}
	return x
}

// recorder collects every emitted event.
type recorder struct {
	events []Event
}

func (r *recorder) sink() Sink {
	return func(ev Event) bool {
		r.events = append(r.events, ev)
		return true
	}
}

func (r *recorder) byType(t EventType) []Event {
	var out []Event
	for _, ev := range r.events {
		if ev.Type == t {
			out = append(out, ev)
		}
	}
	return out
}

func (r *recorder) final(t *testing.T) Event {
	t.Helper()
	finals := r.byType(EventFinal)
	require.Len(t, finals, 1, "exactly one final event per invocation")
	return finals[0]
}

func (r *recorder) tokensConcat() string {
	var b strings.Builder
	for _, ev := range r.byType(EventTokens) {
		b.WriteString(ev.Text)
	}
	return b.String()
}

func (r *recorder) firstIndex(t EventType) int {
	for i, ev := range r.events {
		if ev.Type == t {
			return i
		}
	}
	return -1
}

const evidenceQuery = "How does hybrid retrieval fusion work in this system?"

var testVocab = strings.Fields("how does hybrid retrieval fusion work in this system weighted vector keyword scores deduplication reranking")

const evidenceChunk = "Hybrid retrieval fusion shows how the system does its work: in this design, weighted vector scores and keyword scores are fused, then deduplication and reranking settle the final ordering."

type testEnv struct {
	co      *Coordinator
	docs    *store.MemoryDocStore
	primary *store.MemoryVector
	metrics *metrics.Mock
}

func newTestEnv(t *testing.T, mutate func(*config.Config)) *testEnv {
	t.Helper()
	cfg := config.Default()
	cfg.Coordinator.DeterministicMock = true
	cfg.Embedding.Dimensions = len(testVocab)
	if mutate != nil {
		mutate(&cfg)
	}

	emb := vocabEmbedder{vocab: testVocab}
	primary := store.NewMemoryVector()
	keyword := store.NewMemoryKeyword()
	docs := store.NewMemoryDocStore()
	m := metrics.NewMock()

	retriever := &retrieve.Retriever{
		Primary:  primary,
		Keyword:  keyword,
		Embedder: emb,
		Hybrid:   cfg.Hybrid,
		Log:      logging.Noop{},
	}
	caches := &cache.Registry{
		Response:  cache.New[string]("response", 5*time.Minute, 200, m),
		Retrieval: cache.New[any]("retrieval", 2*time.Minute, 200, m),
		WebSearch: cache.New[any]("webSearch", 10*time.Minute, 100, m),
	}

	co := &Coordinator{
		Cfg:       cfg,
		Caches:    caches,
		Retriever: retriever,
		Grader:    &grade.Grader{Embedder: emb, Cfg: cfg.Grader},
		Verifier:  &grade.Verifier{Cfg: cfg.Verifier},
		Rewriter:  &classify.Rewriter{Log: logging.Noop{}},
		Metrics:   m,
		Log:       logging.Noop{},
	}
	return &testEnv{co: co, docs: docs, primary: primary, metrics: m}
}

func (e *testEnv) seedChunk(t *testing.T, docID string, idx int, text string) {
	t.Helper()
	ctx := context.Background()
	chunkID := docID + "-c" + strconv.Itoa(idx)
	meta := map[string]string{
		"doc_id": docID,
		"idx":    strconv.Itoa(idx),
		"text":   text,
		"source": "manual.md",
		"title":  "hybrid retrieval guide",
	}
	require.NoError(t, e.docs.PutDocument(ctx, store.Document{ID: docID, Source: "manual.md"}))
	require.NoError(t, e.docs.PutChunk(ctx, store.Chunk{ID: chunkID, DocID: docID, Index: idx, Text: text, Metadata: meta}))
	vecs, err := e.co.Retriever.Embedder.Embed(ctx, []string{text})
	require.NoError(t, err)
	require.NoError(t, e.primary.Upsert(ctx, chunkID, vecs[0], meta))
}

func TestRunDirectModeForGreeting(t *testing.T) {
	env := newTestEnv(t, nil)
	rec := &recorder{}
	env.co.Run(context.Background(), "hi", rec.sink(), Options{UseRAG: true, UseWeb: true})

	fin := rec.final(t)
	assert.Equal(t, "Direct mode: hi", fin.Text)
	assert.Equal(t, fin.Text, rec.tokensConcat())
	assert.False(t, fin.Verified)
}

func TestRunGuidanceWhenNoSourcesEnabled(t *testing.T) {
	env := newTestEnv(t, nil)
	rec := &recorder{}
	env.co.Run(context.Background(), evidenceQuery, rec.sink(), Options{})

	fin := rec.final(t)
	assert.Contains(t, fin.Text, "No retrieval sources are enabled")
}

func TestRunAnswersFromEvidence(t *testing.T) {
	env := newTestEnv(t, nil)
	env.seedChunk(t, "d1", 0, evidenceChunk)

	rec := &recorder{}
	env.co.Run(context.Background(), evidenceQuery, rec.sink(), Options{UseRAG: true, UseHybrid: true})

	fin := rec.final(t)
	assert.True(t, fin.Verified)
	assert.True(t, strings.HasPrefix(fin.Text, "**Answer (from evidence):**"))
	assert.Contains(t, fin.Text, "*[Source: manual.md]*")
	assert.Equal(t, fin.Text, rec.tokensConcat())

	cits := rec.byType(EventCitations)
	require.NotEmpty(t, cits)
	require.NotEmpty(t, cits[0].Citations)
	assert.Equal(t, "d1", cits[0].Citations[0].DocumentID)
	assert.Equal(t, cits[len(cits)-1].Citations, fin.Citations,
		"citations in final equal those in the prior citations event")
}

func TestRunEventOrderingWithinQuery(t *testing.T) {
	env := newTestEnv(t, nil)
	env.seedChunk(t, "d1", 0, evidenceChunk)

	rec := &recorder{}
	env.co.Run(context.Background(), evidenceQuery, rec.sink(), Options{UseRAG: true, UseHybrid: true})

	require.NotEmpty(t, rec.events)
	first := rec.events[0]
	assert.Equal(t, EventAgentLog, first.Type)
	assert.Equal(t, RolePlanner, first.Role)

	iCitations := rec.firstIndex(EventCitations)
	iTokens := rec.firstIndex(EventTokens)
	iVerification := rec.firstIndex(EventVerification)
	iFinal := rec.firstIndex(EventFinal)
	require.True(t, iCitations >= 0 && iTokens >= 0 && iVerification >= 0 && iFinal >= 0)
	assert.Less(t, iCitations, iTokens, "citations precede the first tokens")
	assert.Less(t, iTokens, iVerification, "tokens precede verification")
	assert.Less(t, iVerification, iFinal, "verification precedes final")
	assert.Equal(t, iFinal, len(rec.events)-1, "final is last")
}

func TestRunNoEvidenceEmitsGuidance(t *testing.T) {
	env := newTestEnv(t, nil)
	rec := &recorder{}
	env.co.Run(context.Background(), evidenceQuery, rec.sink(), Options{UseRAG: true})

	fin := rec.final(t)
	assert.False(t, fin.Verified)
	assert.Contains(t, fin.Text, "No supporting evidence found")
	assert.Contains(t, fin.Text, "high: 0, medium: 0, low: 0")
	assert.Empty(t, fin.Citations)
}

func TestRunResponseCacheReplay(t *testing.T) {
	env := newTestEnv(t, func(cfg *config.Config) {
		cfg.Coordinator.DeterministicMock = false
	})
	env.seedChunk(t, "d1", 0, evidenceChunk)

	first := &recorder{}
	opts := Options{UseRAG: true, UseHybrid: true}
	env.co.Run(context.Background(), evidenceQuery, first.sink(), opts)
	firstFinal := first.final(t)
	require.True(t, firstFinal.Verified)

	second := &recorder{}
	env.co.Run(context.Background(), evidenceQuery, second.sink(), opts)
	secondFinal := second.final(t)

	assert.Equal(t, firstFinal.Text, secondFinal.Text)
	assert.Equal(t, firstFinal.Citations, secondFinal.Citations)
	assert.Equal(t, firstFinal.Verified, secondFinal.Verified)
	assert.Equal(t, secondFinal.Text, second.tokensConcat(),
		"replayed tokens concatenate to the cached final text")
	assert.Empty(t, second.byType(EventCitations), "replay skips the pipeline entirely")
	assert.Equal(t, 1, env.metrics.Counters["coordinator_response_cache_hit_total"])
}

func TestRunCacheDisabledInDeterministicMockMode(t *testing.T) {
	env := newTestEnv(t, nil) // DeterministicMock = true
	env.seedChunk(t, "d1", 0, evidenceChunk)

	opts := Options{UseRAG: true, UseHybrid: true}
	for i := 0; i < 2; i++ {
		rec := &recorder{}
		env.co.Run(context.Background(), evidenceQuery, rec.sink(), opts)
		require.NotEmpty(t, rec.byType(EventCitations), "every run executes the full pipeline")
	}
	assert.Zero(t, env.metrics.Counters["coordinator_response_cache_hit_total"])
}

// failingVector always errors, standing in for a down Qdrant.
type failingVector struct{}

func (failingVector) Upsert(context.Context, string, []float32, map[string]string) error {
	return assert.AnError
}
func (failingVector) Delete(context.Context, string) error { return assert.AnError }
func (failingVector) SimilaritySearch(context.Context, []float32, int, map[string]string) ([]store.VectorResult, error) {
	return nil, assert.AnError
}

func TestRunSecondaryOutageDoesNotSurface(t *testing.T) {
	env := newTestEnv(t, nil)
	env.seedChunk(t, "d1", 0, evidenceChunk)
	env.co.Retriever.Secondary = failingVector{}

	rec := &recorder{}
	env.co.Run(context.Background(), evidenceQuery, rec.sink(), Options{UseRAG: true, UseHybrid: true})

	fin := rec.final(t)
	assert.True(t, fin.Verified, "primary evidence alone answers the query")
	assert.NotContains(t, fin.Text, "failed")
	assert.GreaterOrEqual(t, env.metrics.Counters["retrieval_qdrant_fallback_total"], 1)
}

// stubSQLAgent returns a canned error.
type stubSQLAgent struct{ err error }

func (s stubSQLAgent) Query(context.Context, string) ([]SQLRow, error) {
	return nil, s.err
}

func TestRunSQLAgentFailureIsFatal(t *testing.T) {
	env := newTestEnv(t, func(cfg *config.Config) {
		cfg.SQLAgent.Enabled = true
	})
	env.co.SQL = stubSQLAgent{err: assert.AnError}

	rec := &recorder{}
	env.co.Run(context.Background(), "SELECT count FROM documents please", rec.sink(), Options{UseRAG: true})

	fin := rec.final(t)
	assert.False(t, fin.Verified)
	assert.Contains(t, fin.Text, "Retrieval failed")
	assert.Contains(t, fin.Text, "sql sub-agent")
}

// stubWebProvider returns fixed hits.
type stubWebProvider struct{ hits []websearch.Hit }

func (s stubWebProvider) Search(context.Context, string, int, []string, int, string) ([]websearch.Hit, error) {
	return s.hits, nil
}

func TestRunWebOnlyMode(t *testing.T) {
	env := newTestEnv(t, nil)
	snippet := "Here is what the latest AI updates are in the 2025 cycle: model releases, evaluation suites, and agent tooling all moved quickly across the industry this year."
	env.co.Web = websearch.New(
		stubWebProvider{hits: []websearch.Hit{
			{Title: "AI news", URL: "https://news.example.com/ai-2025", Snippet: snippet},
		}},
		nil, nil, env.metrics, logging.Noop{}, config.Default().WebSearch,
	)

	rec := &recorder{}
	env.co.Run(context.Background(), "What are the latest AI updates in 2025?", rec.sink(),
		Options{UseWeb: true, WebMaxResults: 3})

	fin := rec.final(t)
	assert.False(t, strings.HasPrefix(fin.Text, "Direct mode:"))
	assert.True(t, fin.Verified)
	assert.False(t, strings.HasPrefix(fin.Text, "**Answer"), "web-led answers omit the evidence prefix")

	var sawWebLog bool
	for _, ev := range rec.byType(EventAgentLog) {
		if ev.Role == RoleResearcher && strings.Contains(strings.ToLower(ev.Message), "web") {
			sawWebLog = true
		}
	}
	assert.True(t, sawWebLog, "researcher log mentions web")

	iMeta := rec.firstIndex(EventWebSearchMetadata)
	iFinal := rec.firstIndex(EventFinal)
	require.GreaterOrEqual(t, iMeta, 0, "web_search_metadata emitted")
	assert.Less(t, iMeta, iFinal, "web_search_metadata precedes final")

	cits := rec.byType(EventCitations)
	require.NotEmpty(t, cits)
	require.NotEmpty(t, cits[0].Citations)
	assert.True(t, cits[0].Citations[0].IsWebSource)
}

func TestRunRefinesQueryAfterFailedVerification(t *testing.T) {
	env := newTestEnv(t, func(cfg *config.Config) {
		// Force approval of weak evidence and make verification unpassable:
		// the term-length floor drops every answer token, so confidence is 0.
		cfg.Grader.AllowLowFallback = true
		cfg.Verifier.MinTermLength = 50
		cfg.Coordinator.MaxVerificationLoops = 1
	})
	env.seedChunk(t, "d1", 0, "completely unrelated content about gardening and soil acidity for tomato plants in raised beds")

	rec := &recorder{}
	env.co.Run(context.Background(), evidenceQuery, rec.sink(), Options{UseRAG: true, UseHybrid: true})

	fin := rec.final(t)
	assert.False(t, fin.Verified, "verification cannot pass once every answer token is filtered out")
	assert.NotEmpty(t, rec.byType(EventRewrite), "a failed pass triggers a refinement rewrite")
	assert.Len(t, rec.byType(EventVerification), 2, "one verification per pass")
}

func TestResponseCacheKeyIncludesAllOptions(t *testing.T) {
	base := responseCacheKey("q", Options{UseRAG: true})
	assert.NotEqual(t, base, responseCacheKey("q", Options{UseRAG: true, UseWeb: true}))
	assert.NotEqual(t, base, responseCacheKey("q", Options{UseRAG: true, WebMaxResults: 5}))
	assert.NotEqual(t, base, responseCacheKey("q", Options{UseRAG: true, AllowedDomains: []string{"a.com"}}))
	assert.Equal(t,
		responseCacheKey("q", Options{UseRAG: true, AllowedDomains: []string{"b.com", "a.com"}}),
		responseCacheKey("q", Options{UseRAG: true, AllowedDomains: []string{"a.com", "b.com"}}),
		"domain order does not change the key")
}

func TestApprovedSetFallbackLadder(t *testing.T) {
	mk := func(n int) []retrieve.RetrievedItem {
		out := make([]retrieve.RetrievedItem, n)
		for i := range out {
			out[i] = retrieve.RetrievedItem{ID: strconv.Itoa(i)}
		}
		return out
	}
	assert.Len(t, approvedSet(grade.Result{High: mk(5)}, false), 5, "all high chunks approved")
	assert.Len(t, approvedSet(grade.Result{Medium: mk(5)}, false), 3, "medium capped at three")
	assert.Empty(t, approvedSet(grade.Result{Low: mk(5)}, false), "low needs the fallback flag")
	assert.Len(t, approvedSet(grade.Result{Low: mk(5)}, true), 3, "low capped at three with fallback")
}
