package coordinator

import (
	"fmt"
	"net/url"
	"regexp"
	"strings"

	"github.com/henryperkins/agentic-rag/internal/grade"
	"github.com/henryperkins/agentic-rag/internal/retrieve"
)

const truncateTarget = 500

var (
	xmlTagPattern   = regexp.MustCompile(`</?[^<>]+>`)
	metaLinePattern = regexp.MustCompile(`(?m)^(title|description|author|published|created|lastUpdated|chatbotDeprioritize|source_url|html|md):\s*.*$`)
	newlineRuns     = regexp.MustCompile(`\n{3,}`)
)

// CleanText strips document scaffolding from chunk text before composition:
// YAML frontmatter, XML-like tags, metadata header lines, and excess blank
// lines.
func CleanText(s string) string {
	s = stripFrontmatter(s)
	s = xmlTagPattern.ReplaceAllString(s, "")
	s = metaLinePattern.ReplaceAllString(s, "")
	s = newlineRuns.ReplaceAllString(s, "\n\n")
	return strings.TrimSpace(s)
}

func stripFrontmatter(s string) string {
	lines := strings.Split(s, "\n")
	if len(lines) < 2 || strings.TrimSpace(lines[0]) != "---" {
		return s
	}
	for i := 1; i < len(lines); i++ {
		if strings.TrimSpace(lines[i]) == "---" {
			return strings.Join(lines[i+1:], "\n")
		}
	}
	return s
}

// SmartTruncate bounds s to limit runes including the suffix. Inside an
// unclosed fenced code block the fence is closed; otherwise the cut prefers
// the latest sentence or paragraph break in the last 30% of the window, then
// the latest space in the last 20%, then a hard cut. Truncation always
// leaves a visible "..." marker.
func SmartTruncate(s string, limit int) string {
	if limit <= 0 {
		limit = truncateTarget
	}
	runes := []rune(s)
	if len(runes) <= limit {
		return s
	}

	const plainSuffix = "..."
	const fenceSuffix = "\n...\n```"

	cut := string(runes[:limit-len(plainSuffix)])
	if strings.Count(cut, "```")%2 == 1 {
		fenced := string(runes[:limit-len(fenceSuffix)])
		// Re-check: the shorter cut may have dropped the opening fence.
		if strings.Count(fenced, "```")%2 == 1 {
			return fenced + fenceSuffix
		}
		return fenced + plainSuffix
	}

	window := len(cut)
	sentenceFloor := window - window*30/100
	best := -1
	for _, marker := range []string{". ", ".\n", "! ", "? ", "\n\n"} {
		if idx := strings.LastIndex(cut, marker); idx >= sentenceFloor && idx > best {
			best = idx
		}
	}
	if best >= 0 {
		return strings.TrimRight(cut[:best+1], " ") + plainSuffix
	}

	spaceFloor := window - window*20/100
	if idx := strings.LastIndex(cut, " "); idx >= spaceFloor {
		return cut[:idx] + plainSuffix
	}
	return cut + plainSuffix
}

// composeAnswer builds the extractive answer from the first three approved
// items: cleaned, truncated, each attributed to its source, joined by blank
// lines. The evidence prefix is omitted when the leading item is
// web-sourced, since web answers read as prose rather than document quotes.
func composeAnswer(approved []retrieve.RetrievedItem) string {
	n := len(approved)
	if n > 3 {
		n = 3
	}
	parts := make([]string, 0, n)
	for _, item := range approved[:n] {
		text := item.Text
		if text == "" {
			text = item.Snippet
		}
		cleaned := SmartTruncate(CleanText(text), truncateTarget)
		parts = append(parts, cleaned+"\n*[Source: "+sourceLabel(item)+"]*")
	}
	body := strings.Join(parts, "\n\n")
	if n > 0 && !isWebItem(approved[0]) {
		body = "**Answer (from evidence):**\n\n" + body
	}
	return body
}

func isWebItem(item retrieve.RetrievedItem) bool {
	return item.FromWeb || strings.HasPrefix(item.ID, "web:")
}

// sourceLabel renders the attribution for one item: the hostname for web
// sources, the raw source string when present, else "document <id>".
func sourceLabel(item retrieve.RetrievedItem) string {
	src := item.Metadata["source"]
	if isWebItem(item) && src != "" {
		if parsed, err := url.Parse(src); err == nil && parsed.Host != "" {
			return parsed.Host
		}
		return src
	}
	if src != "" {
		return src
	}
	if item.DocID != "" {
		return "document " + item.DocID
	}
	return "document " + item.ID
}

func citationsFor(approved []retrieve.RetrievedItem) []Citation {
	out := make([]Citation, 0, len(approved))
	for _, item := range approved {
		idx := 0
		fmt.Sscanf(item.Metadata["idx"], "%d", &idx)
		docID := item.DocID
		if docID == "" {
			docID = item.ID
		}
		out = append(out, Citation{
			DocumentID:  docID,
			Source:      item.Metadata["source"],
			ChunkIndex:  idx,
			IsWebSource: strings.HasPrefix(item.ID, "web:"),
		})
	}
	return out
}

func evidenceTexts(approved []retrieve.RetrievedItem) []string {
	out := make([]string, 0, len(approved))
	for _, item := range approved {
		text := item.Text
		if text == "" {
			text = item.Snippet
		}
		out = append(out, text)
	}
	return out
}

func gradeSummary(res grade.Result) string {
	return fmt.Sprintf("high=%d medium=%d low=%d (method=%s)",
		len(res.High), len(res.Medium), len(res.Low), res.Method)
}

// guidanceMessage explains an empty approved set with accurate grade counts
// and actionable next steps, without fabricating an answer.
func guidanceMessage(opts Options, res grade.Result) string {
	counts := fmt.Sprintf("graded high: %d, medium: %d, low: %d",
		len(res.High), len(res.Medium), len(res.Low))
	if !opts.UseRAG && opts.UseWeb {
		return "No supporting evidence found from web search (" + counts + ").\n\n" +
			"Try one of the following:\n" +
			"- Rephrase the question with more specific terms\n" +
			"- Broaden or remove the allowed-domain filter\n" +
			"- Try again shortly; repeated empty searches back off before retrying"
	}
	msg := "No supporting evidence found in the indexed documents (" + counts + ").\n\n" +
		"Try one of the following:\n" +
		"- Rephrase the question using terms that appear in your documents\n" +
		"- Upload documents covering this topic"
	if opts.UseWeb {
		msg += "\n- The web search for this query also returned nothing usable"
	} else {
		msg += "\n- Enable web search for questions outside the indexed corpus"
	}
	return msg
}
