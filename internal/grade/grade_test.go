package grade

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/henryperkins/agentic-rag/internal/config"
	"github.com/henryperkins/agentic-rag/internal/embedding"
	"github.com/henryperkins/agentic-rag/internal/retrieve"
)

func TestGradeKeywordMethodWhenNoEmbedding(t *testing.T) {
	g := &Grader{Cfg: config.GraderConfig{HighThreshold: 0.5, MediumThreshold: 0.2}}
	items := []retrieve.RetrievedItem{{ID: "a", Text: "hybrid retrieval fuses vector and keyword scores"}}
	res, err := g.Grade(context.Background(), "hybrid retrieval keyword", items, nil)
	require.NoError(t, err)
	require.Equal(t, MethodKeyword, res.Method)
	require.Contains(t, res.ScoresByID, "a")
}

func TestGradeSemanticMethodWhenEmbeddingPresentButHybridDisabled(t *testing.T) {
	emb := embedding.NewDeterministic(8)
	g := &Grader{Embedder: emb, Cfg: config.GraderConfig{HighThreshold: 0.5, MediumThreshold: 0.2, UseSemanticGrading: false}}
	vecs, _ := emb.Embed(context.Background(), []string{"query text"})
	items := []retrieve.RetrievedItem{{ID: "a", Text: "query text"}}
	res, err := g.Grade(context.Background(), "query text", items, vecs[0])
	require.NoError(t, err)
	require.Equal(t, MethodSemantic, res.Method)
}

func TestGradeHybridMethodWhenSemanticGradingEnabled(t *testing.T) {
	emb := embedding.NewDeterministic(8)
	g := &Grader{Embedder: emb, Cfg: config.GraderConfig{HighThreshold: 0.5, MediumThreshold: 0.2, UseSemanticGrading: true}}
	vecs, _ := emb.Embed(context.Background(), []string{"query text"})
	items := []retrieve.RetrievedItem{{ID: "a", Text: "query text"}}
	res, err := g.Grade(context.Background(), "query text", items, vecs[0])
	require.NoError(t, err)
	require.Equal(t, MethodHybrid, res.Method)
}

func TestGradeBucketsExactMatchAsHigh(t *testing.T) {
	emb := embedding.NewDeterministic(8)
	g := &Grader{Embedder: emb, Cfg: config.GraderConfig{HighThreshold: 0.5, MediumThreshold: 0.2, UseSemanticGrading: true}}
	vecs, _ := emb.Embed(context.Background(), []string{"exact match text"})
	items := []retrieve.RetrievedItem{{ID: "a", Text: "exact match text"}}
	res, err := g.Grade(context.Background(), "exact match text", items, vecs[0])
	require.NoError(t, err)
	require.Equal(t, High, res.GradesByID["a"])
	require.Len(t, res.High, 1)
}

func TestVerifyHighOverlapIsValidAndStronglySupported(t *testing.T) {
	v := &Verifier{Cfg: config.VerifierConfig{Threshold: 0.5, MinTermLength: 4}}
	res := v.Verify("hybrid retrieval fuses vector search", []string{"hybrid retrieval fuses vector and keyword search results"})
	require.True(t, res.IsValid)
	require.Equal(t, "strongly supported by the retrieved evidence", res.Feedback)
}

func TestVerifyNoOverlapIsInvalid(t *testing.T) {
	v := &Verifier{Cfg: config.VerifierConfig{Threshold: 0.5, MinTermLength: 4}}
	res := v.Verify("completely unrelated statement about weather", []string{"database transactions use write-ahead logging"})
	require.False(t, res.IsValid)
	require.Equal(t, "insufficiently supported by the retrieved evidence", res.Feedback)
}

func TestVerifyKeepsWhitelistedShortTokens(t *testing.T) {
	v := &Verifier{Cfg: config.VerifierConfig{Threshold: 0.5, MinTermLength: 4}}
	res := v.Verify("sql api", []string{"the sql api supports transactions"})
	require.True(t, res.IsValid)
	require.Equal(t, 1.0, res.Confidence)
}

func TestVerifyEmptyAnswerIsInvalid(t *testing.T) {
	v := &Verifier{Cfg: config.VerifierConfig{Threshold: 0.5, MinTermLength: 4}}
	res := v.Verify("", []string{"some evidence text"})
	require.False(t, res.IsValid)
	require.Equal(t, 0.0, res.Confidence)
}
