package coordinator

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/henryperkins/agentic-rag/internal/cache"
	"github.com/henryperkins/agentic-rag/internal/classify"
	"github.com/henryperkins/agentic-rag/internal/config"
	"github.com/henryperkins/agentic-rag/internal/grade"
	"github.com/henryperkins/agentic-rag/internal/llm"
	"github.com/henryperkins/agentic-rag/internal/logging"
	"github.com/henryperkins/agentic-rag/internal/metrics"
	"github.com/henryperkins/agentic-rag/internal/retrieve"
	"github.com/henryperkins/agentic-rag/internal/websearch"
)

// Options carries the caller's per-query source toggles.
type Options struct {
	UseRAG         bool
	UseHybrid      bool
	UseWeb         bool
	AllowedDomains []string
	WebMaxResults  int // clamped to [1,8] downstream
}

// SQLRow is one row returned by the external SQL sub-agent.
type SQLRow map[string]any

// SQLAgent is the interface boundary of the external structured-SQL
// sub-agent. It enforces its own statement timeout and cost cap; a failure
// here is fatal to the query.
type SQLAgent interface {
	Query(ctx context.Context, question string) ([]SQLRow, error)
}

// Coordinator drives the bounded retrieve-grade-compose-verify loop. It is
// an explicit dependency object: the default factory wires the real
// implementations and tests inject fakes.
type Coordinator struct {
	Cfg       config.Config
	Caches    *cache.Registry
	Retriever *retrieve.Retriever
	Grader    *grade.Grader
	Verifier  *grade.Verifier
	Rewriter  *classify.Rewriter
	LLM       llm.Provider      // optional, for the LLM classifier path
	Web       *websearch.Client // optional
	SQL       SQLAgent          // optional
	Metrics   metrics.Metrics
	Log       logging.Logger
	Now       func() time.Time // test seam; defaults to time.Now
}

// Run executes one query against the event sink. It never returns an error:
// every path, including failures, terminates in exactly one final event.
func (c *Coordinator) Run(ctx context.Context, message string, send Sink, opts Options) {
	log := c.logger()
	m := c.metrics()
	em := newEmitter(send, c.Now)
	m.IncCounter("coordinator_queries_total", nil)

	cls := c.classify(ctx, message, opts)
	em.agentLog(RolePlanner, fmt.Sprintf("route=%s complexity=%s targets=[%s]",
		cls.Mode, cls.Complexity, joinTargets(cls.Targets)))

	cachingEnabled := !c.Cfg.Coordinator.DeterministicMock && c.Caches != nil && c.Caches.Response != nil
	respKey := responseCacheKey(message, opts)
	if cachingEnabled {
		if raw, ok := c.Caches.Response.Get(respKey); ok {
			var fin Event
			if err := json.Unmarshal([]byte(raw), &fin); err == nil && fin.Type == EventFinal {
				m.IncCounter("coordinator_response_cache_hit_total", nil)
				em.streamTokens(fin.Text)
				em.emit(fin)
				return
			}
		}
	}

	if !opts.UseRAG && !opts.UseWeb {
		msg := "No retrieval sources are enabled. Enable the document knowledge base or web search to get grounded answers."
		em.streamTokens(msg)
		em.final(msg, nil, false)
		return
	}
	if cls.Mode == classify.ModeDirect {
		text := "Direct mode: " + message
		em.streamTokens(text)
		em.final(text, nil, false)
		return
	}

	original := message
	working := message
	if c.Cfg.Coordinator.EnableQueryRewriting && c.Rewriter != nil {
		rw := c.Rewriter.Rewrite(ctx, working)
		if rw.Changed {
			em.agentLog(RolePlanner, "Expanded short query before retrieval")
			em.rewrite(rw.Original, rw.Query, rw.Reason)
			working = rw.Query
		}
	}

	passes := c.Cfg.Coordinator.MaxVerificationLoops + 1
	if passes <= 0 {
		passes = 3
	}

	for pass := 0; pass < passes; pass++ {
		last := pass == passes-1
		em.agentLog(RoleResearcher, "Retrieving evidence ("+modeLabel(opts, cls)+")")

		res, fatal := c.retrievePass(ctx, working, cls, opts, cachingEnabled, em)
		if fatal != nil {
			log.Error("coordinator.retrieval_failed", map[string]any{"error": fatal.Error()})
			em.agentLog(RoleCritic, "retrieval failed: "+fatal.Error())
			msg := "Retrieval failed: " + fatal.Error()
			em.streamTokens(msg)
			em.final(msg, nil, false)
			return
		}
		if res.webMeta != nil {
			em.webMetadata(*res.webMeta)
			em.agentLog(RoleResearcher, fmt.Sprintf("Web search returned %d sources", res.webMeta.ResultCount))
		}

		em.agentLog(RoleResearcher, "Grading retrieved chunks...")
		graded, err := c.Grader.Grade(ctx, working, res.items, res.queryEmbedding)
		if err != nil {
			em.agentLog(RoleCritic, "grading failed: "+err.Error())
			msg := "Grading failed: " + err.Error()
			em.streamTokens(msg)
			em.final(msg, nil, false)
			return
		}

		approved := approvedSet(graded, c.Cfg.Grader.AllowLowFallback)
		cits := citationsFor(approved)
		em.citations(cits)

		if len(approved) == 0 {
			msg := guidanceMessage(opts, graded)
			em.streamTokens(msg)
			em.verification(Verification{
				IsValid:      false,
				Confidence:   0,
				GradeSummary: gradeSummary(graded),
				Feedback:     "no evidence chunk cleared the grade thresholds",
			})
			if !last {
				em.agentLog(RolePlanner, "No evidence approved; refining and retrying")
				working = c.refineQuery(ctx, working, original, 0, em)
				continue
			}
			if cachingEnabled && c.Cfg.Coordinator.CacheFailures {
				c.cacheFinal(respKey, Event{Type: EventFinal, Text: msg, Verified: false})
			}
			em.final(msg, nil, false)
			return
		}

		em.agentLog(RoleWriter, fmt.Sprintf("Composing answer from %d approved chunks", len(approved)))
		answer := composeAnswer(approved)
		em.streamTokens(answer)

		em.agentLog(RoleCritic, "Verifying answer grounding against evidence")
		ver := c.Verifier.Verify(answer, evidenceTexts(approved))
		em.verification(Verification{
			IsValid:      ver.IsValid,
			Confidence:   ver.Confidence,
			GradeSummary: gradeSummary(graded),
			Feedback:     ver.Feedback,
		})

		if ver.IsValid || last {
			fin := Event{Type: EventFinal, Text: answer, Citations: cits, Verified: ver.IsValid}
			if cachingEnabled {
				c.cacheFinal(respKey, fin)
			}
			em.emit(fin)
			m.ObserveHistogram("coordinator_loop_passes", float64(pass+1), nil)
			return
		}

		em.agentLog(RolePlanner, "Verification failed; refining and retrying")
		working = c.refineQuery(ctx, working, original, ver.Confidence, em)
	}
}

// classify dispatches to the LLM classifier when enabled, falling back to
// the heuristic rules internally on error or timeout.
func (c *Coordinator) classify(ctx context.Context, message string, opts Options) classify.Classification {
	copts := classify.Options{UseRAG: opts.UseRAG, UseWeb: opts.UseWeb}
	if c.Cfg.Coordinator.UseLLMClassifier && c.LLM != nil {
		return classify.ClassifyWithLLM(ctx, c.LLM, message, copts)
	}
	return classify.Classify(message, copts)
}

// refineQuery picks the next working query after a failed pass: a quality
// rewrite when confidence was low, else a disambiguation nudge on the
// original.
func (c *Coordinator) refineQuery(ctx context.Context, working, original string, confidence float64, em *emitter) string {
	if confidence < 0.5 && c.Rewriter != nil {
		rw := c.Rewriter.RewriteForQuality(ctx, working)
		em.rewrite(rw.Original, rw.Query, rw.Reason)
		return rw.Query
	}
	return original + " (focus: disambiguate terms)"
}

func (c *Coordinator) cacheFinal(key string, fin Event) {
	data, err := json.Marshal(fin)
	if err != nil {
		return
	}
	c.Caches.Response.Set(key, string(data))
}

// approvedSet prefers high-graded chunks; with none, the first three medium;
// with none of those and the fallback enabled, the first three low.
func approvedSet(res grade.Result, allowLowFallback bool) []retrieve.RetrievedItem {
	if len(res.High) > 0 {
		return res.High
	}
	if len(res.Medium) > 0 {
		if len(res.Medium) > 3 {
			return res.Medium[:3]
		}
		return res.Medium
	}
	if allowLowFallback && len(res.Low) > 0 {
		if len(res.Low) > 3 {
			return res.Low[:3]
		}
		return res.Low
	}
	return nil
}

// responseCacheKey builds the normalized cache key from every option that
// changes the answer, including webMaxResults.
func responseCacheKey(message string, opts Options) string {
	domains := make([]string, len(opts.AllowedDomains))
	copy(domains, opts.AllowedDomains)
	sort.Strings(domains)
	return cache.Normalize(fmt.Sprintf("resp:%t:%t:%t:%s:%d:%s",
		opts.UseRAG, opts.UseHybrid, opts.UseWeb, strings.Join(domains, ","), opts.WebMaxResults, message))
}

// modeLabel names the composite retrieval mode for the researcher log.
func modeLabel(opts Options, cls classify.Classification) string {
	var parts []string
	if opts.UseRAG {
		if opts.UseHybrid {
			parts = append(parts, "hybrid")
		} else {
			parts = append(parts, "vector")
		}
	}
	if hasTarget(cls, classify.TargetSQL) {
		parts = append(parts, "sql")
	}
	if opts.UseWeb {
		parts = append(parts, "web")
	}
	if len(parts) == 0 {
		return "none"
	}
	return strings.Join(parts, "+")
}

func hasTarget(cls classify.Classification, t classify.Target) bool {
	for _, target := range cls.Targets {
		if target == t {
			return true
		}
	}
	return false
}

func (c *Coordinator) logger() logging.Logger {
	if c.Log == nil {
		return logging.Noop{}
	}
	return c.Log
}

func (c *Coordinator) metrics() metrics.Metrics {
	if c.Metrics == nil {
		return metrics.Noop{}
	}
	return c.Metrics
}

func joinTargets(targets []classify.Target) string {
	parts := make([]string, len(targets))
	for i, t := range targets {
		parts[i] = string(t)
	}
	return strings.Join(parts, ",")
}
