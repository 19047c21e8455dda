package retrieve

import (
	"context"
	"errors"
	"regexp"
	"sort"
	"strconv"
	"strings"
)

// Reranker reorders fused candidates before the final TopK truncation.
// Implementations must not drop items.
type Reranker interface {
	Rerank(ctx context.Context, query string, items []RetrievedItem) ([]RetrievedItem, error)
}

// JaccardReranker is the default, dependency-free reranker: it blends token
// overlap with the query against the prior fused score, weighted 0.7/0.3.
type JaccardReranker struct{}

func (JaccardReranker) Rerank(_ context.Context, query string, items []RetrievedItem) ([]RetrievedItem, error) {
	qset := tokenSet(query)
	out := make([]RetrievedItem, len(items))
	copy(out, items)
	for i := range out {
		j := jaccard(qset, tokenSet(out[i].Text+" "+out[i].Snippet))
		out[i].Score = 0.7*j + 0.3*out[i].Prior
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func tokenSet(s string) map[string]struct{} {
	fields := strings.Fields(strings.ToLower(s))
	set := make(map[string]struct{}, len(fields))
	for _, f := range fields {
		set[f] = struct{}{}
	}
	return set
}

func jaccard(a, b map[string]struct{}) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	inter := 0
	for k := range a {
		if _, ok := b[k]; ok {
			inter++
		}
	}
	union := len(a) + len(b) - inter
	if union == 0 {
		return 0
	}
	return float64(inter) / float64(union)
}

// ChatCompleter is the narrow slice of internal/llm.Provider the model-backed
// reranker needs; kept local to avoid a retrieve -> llm import cycle risk as
// the llm package grows additional surface.
type ChatCompleter interface {
	Complete(ctx context.Context, prompt string) (string, error)
}

// ModelReranker asks a chat-completion model to score relevance on a 0..1
// scale per item; a malformed or failed response falls back to the prior
// fused score for that item rather than failing the whole rerank.
type ModelReranker struct {
	Completer ChatCompleter
}

func (m ModelReranker) Rerank(ctx context.Context, query string, items []RetrievedItem) ([]RetrievedItem, error) {
	if m.Completer == nil {
		return JaccardReranker{}.Rerank(ctx, query, items)
	}
	out := make([]RetrievedItem, len(items))
	copy(out, items)
	for i := range out {
		score, err := m.scoreOne(ctx, query, out[i])
		if err != nil {
			out[i].Score = out[i].Prior
			continue
		}
		out[i].Score = score
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (m ModelReranker) scoreOne(ctx context.Context, query string, item RetrievedItem) (float64, error) {
	prompt := "Rate how relevant this passage is to the question on a scale from 0 to 1. Respond with only the number.\n\nQuestion: " +
		query + "\n\nPassage: " + item.Text
	resp, err := m.Completer.Complete(ctx, prompt)
	if err != nil {
		return 0, err
	}
	score, ok := parseScore(resp)
	if !ok {
		return 0, errors.New("retrieve: rerank response holds no score")
	}
	return score, nil
}

var scorePattern = regexp.MustCompile(`-?\d+(\.\d+)?`)

func parseScore(s string) (float64, bool) {
	match := scorePattern.FindString(strings.TrimSpace(s))
	if match == "" {
		return 0, false
	}
	val, err := strconv.ParseFloat(match, 64)
	if err != nil {
		return 0, false
	}
	if val < 0 {
		val = 0
	}
	if val > 1 {
		val = 1
	}
	return val, true
}
