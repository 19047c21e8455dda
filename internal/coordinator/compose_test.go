package coordinator

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/henryperkins/agentic-rag/internal/grade"
	"github.com/henryperkins/agentic-rag/internal/retrieve"
)

func gradeResultWithCounts() grade.Result {
	return grade.Result{Method: grade.MethodKeyword}
}

func TestSmartTruncateLongStringEndsWithEllipsis(t *testing.T) {
	s := strings.Repeat("evidence text with several words in each sentence. ", 14) // ~700 chars
	out := SmartTruncate(s, 500)
	assert.LessOrEqual(t, len([]rune(out)), 500)
	assert.True(t, strings.HasSuffix(out, "..."), "got suffix %q", out[len(out)-10:])
}

func TestSmartTruncateShortStringUnchanged(t *testing.T) {
	s := "short enough"
	assert.Equal(t, s, SmartTruncate(s, 500))
}

func TestSmartTruncateClosesUnclosedCodeFence(t *testing.T) {
	s := "Intro paragraph.\n\n```go\n" + strings.Repeat("fmt.Println(\"x\")\n", 60)
	out := SmartTruncate(s, 500)
	assert.True(t, strings.HasSuffix(out, "\n...\n```"), "got suffix %q", out[len(out)-12:])
	assert.LessOrEqual(t, len([]rune(out)), 500)
}

func TestSmartTruncatePrefersSentenceBreak(t *testing.T) {
	head := strings.Repeat("a", 380)
	s := head + ". tail sentence that runs well past the truncation window " + strings.Repeat("b", 200)
	out := SmartTruncate(s, 500)
	assert.True(t, strings.HasSuffix(out, "."+"..."), "sentence-break cut keeps the period: %q", out[len(out)-6:])
}

func TestCleanTextStripsFrontmatterTagsAndMetaLines(t *testing.T) {
	in := "---\ntitle: Doc\nauthor: someone\n---\n" +
		"<article>Real content here.</article>\n" +
		"source_url: https://example.com/page\n" +
		"More content.\n\n\n\n\nFinal line."
	out := CleanText(in)
	assert.NotContains(t, out, "---")
	assert.NotContains(t, out, "<article>")
	assert.NotContains(t, out, "source_url")
	assert.Contains(t, out, "Real content here.")
	assert.NotContains(t, out, "\n\n\n")
}

func TestComposeAnswerPrefixesEvidenceHeader(t *testing.T) {
	items := []retrieve.RetrievedItem{
		{ID: "c1", DocID: "d1", Text: "Chunk one text.", Metadata: map[string]string{"source": "manual.md", "idx": "0"}},
		{ID: "c2", DocID: "d1", Text: "Chunk two text.", Metadata: map[string]string{"idx": "1"}},
	}
	out := composeAnswer(items)
	assert.True(t, strings.HasPrefix(out, "**Answer (from evidence):**\n\n"))
	assert.Contains(t, out, "*[Source: manual.md]*")
	assert.Contains(t, out, "*[Source: document d1]*")
}

func TestComposeAnswerOmitsPrefixForWebFirst(t *testing.T) {
	items := []retrieve.RetrievedItem{
		{ID: "web:abc123", Text: "Web result text.", FromWeb: true, Metadata: map[string]string{"source": "https://news.example.com/story"}},
	}
	out := composeAnswer(items)
	assert.False(t, strings.HasPrefix(out, "**Answer"))
	assert.Contains(t, out, "*[Source: news.example.com]*")
}

func TestComposeAnswerUsesAtMostThreeItems(t *testing.T) {
	items := make([]retrieve.RetrievedItem, 5)
	for i := range items {
		items[i] = retrieve.RetrievedItem{ID: string(rune('a' + i)), DocID: "d", Text: "text"}
	}
	out := composeAnswer(items)
	assert.Equal(t, 3, strings.Count(out, "*[Source:"))
}

func TestCitationsMarkWebSources(t *testing.T) {
	items := []retrieve.RetrievedItem{
		{ID: "web:abc", Metadata: map[string]string{"source": "https://x.test/a"}},
		{ID: "c1", DocID: "d1", Metadata: map[string]string{"idx": "2", "source": "manual.md"}},
	}
	cits := citationsFor(items)
	require.Len(t, cits, 2)
	assert.True(t, cits[0].IsWebSource)
	assert.False(t, cits[1].IsWebSource)
	assert.Equal(t, 2, cits[1].ChunkIndex)
	assert.Equal(t, "d1", cits[1].DocumentID)
}

func TestGuidanceMessageVariants(t *testing.T) {
	var res = gradeResultWithCounts()
	webOnly := guidanceMessage(Options{UseWeb: true}, res)
	assert.Contains(t, webOnly, "No supporting evidence found from web search")
	assert.Contains(t, webOnly, "high: 0, medium: 0, low: 0")

	ragOnly := guidanceMessage(Options{UseRAG: true}, res)
	assert.Contains(t, ragOnly, "No supporting evidence found in the indexed documents")
	assert.Contains(t, ragOnly, "Enable web search")
}
