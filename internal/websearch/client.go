package websearch

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/henryperkins/agentic-rag/internal/cache"
	"github.com/henryperkins/agentic-rag/internal/config"
	"github.com/henryperkins/agentic-rag/internal/logging"
	"github.com/henryperkins/agentic-rag/internal/metrics"
)

// Client is the Web-Search Client (C9): cached, semaphore-bounded,
// per-query-throttled, with optional page-body enrichment.
type Client struct {
	Provider Provider
	Fetcher  PageFetcher // optional; nil skips page-body enrichment
	Cache    *cache.Cache[any]
	Metrics  metrics.Metrics
	Log      logging.Logger
	Cfg      config.WebSearchConfig

	sem      *semaphore.Weighted
	throttle *throttle
}

// New constructs a Client. The semaphore and failure throttle are
// constructed once here and must be shared across every query the process
// handles; both are process-global by construction.
func New(provider Provider, fetcher PageFetcher, c *cache.Cache[any], m metrics.Metrics, log logging.Logger, cfg config.WebSearchConfig) *Client {
	if m == nil {
		m = metrics.Noop{}
	}
	if log == nil {
		log = logging.Noop{}
	}
	concurrency := cfg.ConcurrentRequests
	if concurrency <= 0 {
		concurrency = 3
	}
	base := time.Duration(cfg.FailureThrottleMS) * time.Millisecond
	return &Client{
		Provider: provider,
		Fetcher:  fetcher,
		Cache:    c,
		Metrics:  m,
		Log:      log,
		Cfg:      cfg,
		sem:      semaphore.NewWeighted(int64(concurrency)),
		throttle: newThrottle(base),
	}
}

// cacheKey builds the normalized composite key for a search request.
func cacheKey(query string, allowedDomains []string, maxResults int) string {
	domains := make([]string, len(allowedDomains))
	copy(domains, allowedDomains)
	sort.Strings(domains)
	return cache.Normalize(fmt.Sprintf("websearch:%s:%s:%d", query, strings.Join(domains, ","), maxResults))
}

// ThrottleKey derives the per-working-query throttle key the coordinator
// reuses to decide whether to attempt a search at all before calling
// PerformWebSearch/StreamSearch.
func ThrottleKey(query string) string {
	return cache.Normalize(query)
}

// ShouldSkip reports whether key is still inside its exponential backoff
// window.
func (c *Client) ShouldSkip(key string) bool {
	return c.throttle.shouldSkip(key, time.Now())
}

func resolveDomains(requested []string, defaults []string) []string {
	domains := requested
	if domains == nil {
		domains = defaults
	}
	if len(domains) > 20 {
		domains = domains[:20]
	}
	return domains
}

// PerformWebSearch is the non-streaming entry point: cache lookup, then a
// semaphore-bounded provider call, then cache store. Failures propagate
// after incrementing an error counter; the caller decides whether to demote
// them to a log line.
func (c *Client) PerformWebSearch(ctx context.Context, query string, maxResults int, allowedDomains []string) (Response, error) {
	return c.search(ctx, query, maxResults, allowedDomains, nil)
}

// StreamSearch is the progress-emitting variant the Coordinator uses: the
// same cache/semaphore machinery (the caller consults the throttle through
// ShouldSkip), plus in_progress/searching/completed callbacks for researcher
// agent_log translation.
func (c *Client) StreamSearch(ctx context.Context, query string, maxResults int, allowedDomains []string, onProgress func(ProgressEvent)) (Response, error) {
	return c.search(ctx, query, maxResults, allowedDomains, onProgress)
}

func (c *Client) search(ctx context.Context, query string, maxResults int, allowedDomains []string, onProgress func(ProgressEvent)) (Response, error) {
	emit := func(ev ProgressEvent) {
		if onProgress != nil {
			onProgress(ev)
		}
	}
	emit(ProgressEvent{Stage: StageInProgress})

	trimmed := strings.TrimSpace(query)
	if trimmed == "" {
		emit(ProgressEvent{Stage: StageCompleted, ResultCount: 0})
		return Response{}, nil
	}
	if maxResults <= 0 {
		maxResults = 5
	}
	if maxResults > 8 {
		maxResults = 8
	}
	domains := resolveDomains(allowedDomains, c.Cfg.DefaultAllowlist)

	key := cacheKey(trimmed, domains, maxResults)
	if c.Cache != nil {
		if cached, ok := c.Cache.Get(key); ok {
			c.Metrics.IncCounter("websearch_cache_hit_total", nil)
			resp, _ := cached.(Response)
			emit(ProgressEvent{Stage: StageCompleted, ResultCount: len(resp.Chunks)})
			return resp, nil
		}
	}

	if err := c.sem.Acquire(ctx, 1); err != nil {
		return Response{}, err
	}
	defer c.sem.Release(1)

	emit(ProgressEvent{Stage: StageSearching})

	hits, err := c.Provider.Search(ctx, trimmed, maxResults, domains, c.Cfg.ContextSize, c.Cfg.Location)
	if err != nil {
		c.Metrics.IncCounter("websearch_error_total", nil)
		return Response{}, err
	}

	chunks := make([]Chunk, 0, len(hits))
	sources := make([]string, 0, len(hits))
	for i, h := range hits {
		score := 1.0 / float64(i+1)
		if h.Relevance != nil {
			score = *h.Relevance
		}
		text := h.Snippet
		// Page-body enrichment is bounded to the top hits so a page of slow
		// fetches never stalls the query loop.
		if c.Fetcher != nil && i < 3 {
			if body, ferr := c.Fetcher.FetchReadable(ctx, h.URL); ferr == nil && body != "" {
				text = body
			}
		}
		chunks = append(chunks, Chunk{
			ID:    "web:" + hashURL(h.URL),
			URL:   h.URL,
			Title: h.Title,
			Text:  text,
			Score: score,
		})
		sources = append(sources, h.URL)
	}

	resp := Response{
		Chunks:   chunks,
		Metadata: Metadata{Query: trimmed, Sources: sources, ResultCount: len(chunks)},
	}

	if c.Cache != nil {
		c.Cache.Set(key, resp)
	}
	emit(ProgressEvent{Stage: StageCompleted, ResultCount: len(chunks)})
	return resp, nil
}

// RecordEmpty/RecordSuccess let the coordinator update the per-query
// throttle once it has decided what "empty" means for the overall pipeline
// pass (a web search that returns chunks, but all of which are later
// graded out, still counts as a successful search here).
func (c *Client) RecordEmpty(key string) { c.throttle.recordEmpty(key, time.Now()) }
func (c *Client) RecordSuccess(key string) { c.throttle.recordSuccess(key) }

func hashURL(u string) string {
	sum := sha256.Sum256([]byte(u))
	return hex.EncodeToString(sum[:8])
}
