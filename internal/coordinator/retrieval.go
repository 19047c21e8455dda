package coordinator

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/henryperkins/agentic-rag/internal/cache"
	"github.com/henryperkins/agentic-rag/internal/classify"
	"github.com/henryperkins/agentic-rag/internal/retrieve"
	"github.com/henryperkins/agentic-rag/internal/websearch"
)

// passResult is everything one retrieval pass hands to grading.
type passResult struct {
	items          []retrieve.RetrievedItem
	queryEmbedding []float32
	webMeta        *WebSearchMetadata
}

// retrievalCacheEntry is the payload stored in the retrieval cache. Web
// results are never part of it: the cache is bypassed entirely whenever web
// search is in play for the pass.
type retrievalCacheEntry struct {
	Items          []retrieve.RetrievedItem
	QueryEmbedding []float32
}

// retrievePass fans out across the enabled sources for one loop pass.
// Secondary-store failures were already demoted inside the retriever; a
// primary retrieval failure or a SQL sub-agent failure is fatal and returned
// as such.
func (c *Coordinator) retrievePass(ctx context.Context, working string, cls classify.Classification, opts Options, cachingEnabled bool, em *emitter) (passResult, error) {
	var out passResult

	retKey := retrievalCacheKey(cls.Targets, working)
	cacheUsable := cachingEnabled && !opts.UseWeb && c.Caches.Retrieval != nil
	if cacheUsable {
		if cached, ok := c.Caches.Retrieval.Get(retKey); ok {
			if entry, ok := cached.(retrievalCacheEntry); ok {
				c.metrics().IncCounter("coordinator_retrieval_cache_hit_total", nil)
				out.items = entry.Items
				out.queryEmbedding = entry.QueryEmbedding
				return out, nil
			}
		}
	}

	if opts.UseRAG && c.Retriever != nil {
		resp, err := c.Retriever.Retrieve(ctx, working, opts.UseHybrid, nil)
		if err != nil {
			return passResult{}, fmt.Errorf("hybrid retrieval: %w", err)
		}
		out.items = append(out.items, resp.Items...)
		out.queryEmbedding = resp.QueryEmbedding
		if resp.SecondaryDown {
			c.metrics().IncCounter("retrieval_qdrant_fallback_total", nil)
		}
	}

	if hasTarget(cls, classify.TargetSQL) && c.Cfg.SQLAgent.Enabled && c.SQL != nil {
		rows, err := c.SQL.Query(ctx, working)
		if err != nil {
			return passResult{}, fmt.Errorf("sql sub-agent: %w", err)
		}
		out.items = append(out.items, sqlRowsToItems(rows)...)
	}

	webUsed := false
	localEmpty := len(out.items) == 0
	if opts.UseWeb && c.Web != nil && (hasTarget(cls, classify.TargetWeb) || localEmpty) {
		throttleKey := websearch.ThrottleKey(working)
		if c.Web.ShouldSkip(throttleKey) {
			em.agentLog(RoleResearcher, "Web search throttled for this query; skipping")
		} else {
			webUsed = true
			resp, err := c.Web.StreamSearch(ctx, working, opts.WebMaxResults, opts.AllowedDomains, func(ev websearch.ProgressEvent) {
				em.agentLog(RoleResearcher, webProgressMessage(ev))
			})
			switch {
			case err != nil:
				em.agentLog(RoleResearcher, "web search failed: "+err.Error())
			case len(resp.Chunks) == 0:
				c.Web.RecordEmpty(throttleKey)
			default:
				c.Web.RecordSuccess(throttleKey)
				out.items = append(out.items, webChunksToItems(resp.Chunks)...)
				md := WebSearchMetadata(resp.Metadata)
				out.webMeta = &md
			}
		}
	}

	if cacheUsable && !webUsed {
		c.Caches.Retrieval.Set(retKey, retrievalCacheEntry{
			Items:          out.items,
			QueryEmbedding: out.queryEmbedding,
		})
	}
	return out, nil
}

func retrievalCacheKey(targets []classify.Target, working string) string {
	names := make([]string, len(targets))
	for i, t := range targets {
		names[i] = string(t)
	}
	sort.Strings(names)
	return cache.Normalize("ret:" + strings.Join(names, ",") + ":" + working)
}

func webProgressMessage(ev websearch.ProgressEvent) string {
	switch ev.Stage {
	case websearch.StageInProgress:
		return "Web search starting"
	case websearch.StageSearching:
		return "Searching the web..."
	case websearch.StageCompleted:
		return fmt.Sprintf("Web search completed with %d results", ev.ResultCount)
	default:
		return "Web search " + string(ev.Stage)
	}
}

func webChunksToItems(chunks []websearch.Chunk) []retrieve.RetrievedItem {
	out := make([]retrieve.RetrievedItem, 0, len(chunks))
	for _, ch := range chunks {
		out = append(out, retrieve.RetrievedItem{
			ID:      ch.ID,
			Score:   ch.Score,
			Prior:   ch.Score,
			Text:    ch.Text,
			Snippet: ch.Text,
			Metadata: map[string]string{
				"source": ch.URL,
				"title":  ch.Title,
			},
			FromWeb: true,
		})
	}
	return out
}

// sqlRowsToItems maps SQL sub-agent rows to candidates tagged source=sql
// with score zero, leaving their final placement to the grader.
func sqlRowsToItems(rows []SQLRow) []retrieve.RetrievedItem {
	out := make([]retrieve.RetrievedItem, 0, len(rows))
	for i, row := range rows {
		cols := make([]string, 0, len(row))
		for k := range row {
			cols = append(cols, k)
		}
		sort.Strings(cols)
		parts := make([]string, 0, len(cols))
		for _, k := range cols {
			parts = append(parts, fmt.Sprintf("%s: %v", k, row[k]))
		}
		out = append(out, retrieve.RetrievedItem{
			ID:       fmt.Sprintf("sql:%d", i),
			Score:    0,
			Prior:    0,
			Text:     strings.Join(parts, ", "),
			Metadata: map[string]string{"source": "sql"},
		})
	}
	return out
}
