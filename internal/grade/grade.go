// Package grade implements the Grader & Verifier (C7): scoring retrieved
// chunks against a query, and checking a composed answer's grounding in its
// supporting evidence.
package grade

import (
	"context"
	"math"
	"strings"
	"sync"

	"github.com/henryperkins/agentic-rag/internal/config"
	"github.com/henryperkins/agentic-rag/internal/embedding"
	"github.com/henryperkins/agentic-rag/internal/retrieve"
)

// Label is the grade bucket a chunk falls into.
type Label string

const (
	High   Label = "high"
	Medium Label = "medium"
	Low    Label = "low"
)

// Method names the scoring method actually used, reported for observability.
type Method string

const (
	MethodKeyword  Method = "keyword"
	MethodSemantic Method = "semantic"
	MethodHybrid   Method = "hybrid"
)

// Result is the outcome of grading a candidate set.
type Result struct {
	Method       Method
	ScoresByID   map[string]float64
	GradesByID   map[string]Label
	High, Medium, Low []retrieve.RetrievedItem
}

// Grader scores retrieved items against a query.
type Grader struct {
	Embedder embedding.Embedder
	Cfg      config.GraderConfig
}

// Grade scores every item and buckets it into high/medium/low. queryEmbedding
// may be nil; hybrid requires semantic grading enabled and a non-nil
// embedding, semantic requires just the embedding, otherwise keyword is used.
func (g *Grader) Grade(ctx context.Context, query string, items []retrieve.RetrievedItem, queryEmbedding []float32) (Result, error) {
	method := MethodKeyword
	if len(queryEmbedding) > 0 {
		if g.Cfg.UseSemanticGrading {
			method = MethodHybrid
		} else {
			method = MethodSemantic
		}
	}

	var semScores map[string]float64
	var err error
	if method == MethodSemantic || method == MethodHybrid {
		semScores, err = g.semanticScores(ctx, queryEmbedding, items)
		if err != nil {
			return Result{}, err
		}
	}

	qTokens := tokenSet(query)
	res := Result{Method: method, ScoresByID: map[string]float64{}, GradesByID: map[string]Label{}}
	high := g.Cfg.HighThreshold
	medium := g.Cfg.MediumThreshold

	for _, item := range items {
		keywordScore := keywordScore(qTokens, item)
		var score float64
		switch method {
		case MethodHybrid:
			score = 0.7*semScores[item.ID] + 0.3*keywordScore
		case MethodSemantic:
			score = semScores[item.ID]
		default:
			score = keywordScore
		}

		label := Low
		switch {
		case score > high:
			label = High
		case score > medium:
			label = Medium
		}

		res.ScoresByID[item.ID] = score
		res.GradesByID[item.ID] = label
		switch label {
		case High:
			res.High = append(res.High, item)
		case Medium:
			res.Medium = append(res.Medium, item)
		default:
			res.Low = append(res.Low, item)
		}
	}
	return res, nil
}

// semanticScores embeds every chunk concurrently and scores cosine
// similarity against the query embedding (chunk embeddings
// fetched in parallel").
func (g *Grader) semanticScores(ctx context.Context, queryEmbedding []float32, items []retrieve.RetrievedItem) (map[string]float64, error) {
	scores := make(map[string]float64, len(items))
	var mu sync.Mutex
	var wg sync.WaitGroup
	errCh := make(chan error, len(items))

	for _, item := range items {
		item := item
		wg.Add(1)
		go func() {
			defer wg.Done()
			text := item.Text
			if text == "" {
				text = item.Snippet
			}
			vecs, err := g.Embedder.Embed(ctx, []string{text})
			if err != nil {
				errCh <- err
				return
			}
			sim := cosine(queryEmbedding, vecs[0])
			mu.Lock()
			scores[item.ID] = sim
			mu.Unlock()
		}()
	}
	wg.Wait()
	close(errCh)
	if err := <-errCh; err != nil {
		return nil, err
	}
	return scores, nil
}

func keywordScore(queryTokens map[string]struct{}, item retrieve.RetrievedItem) float64 {
	if len(queryTokens) == 0 {
		return 0
	}
	text := item.Text
	if text == "" {
		text = item.Snippet
	}
	chunkTokens := tokenSet(text)
	inter := 0
	for t := range queryTokens {
		if _, ok := chunkTokens[t]; ok {
			inter++
		}
	}
	return float64(inter) / float64(len(queryTokens))
}

func tokenSet(s string) map[string]struct{} {
	fields := strings.Fields(strings.ToLower(s))
	set := make(map[string]struct{}, len(fields))
	for _, f := range fields {
		set[f] = struct{}{}
	}
	return set
}

func cosine(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}
