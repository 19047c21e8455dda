package websearch

import (
	"context"
	"net/http"
	"net/url"
	"strings"
	"time"

	htmltomarkdown "github.com/JohannesKaufmann/html-to-markdown/v2"
	readability "github.com/go-shiori/go-readability"
)

// PageFetcher resolves a hit's readable body text beyond the provider's
// short snippet, so the composer has enough material to quote from. A fetch
// failure is never fatal to the search: the caller falls back to the
// snippet.
type PageFetcher interface {
	FetchReadable(ctx context.Context, rawURL string) (string, error)
}

// ReadabilityFetcher downloads a page and extracts its main article text
// via go-readability, then converts the resulting HTML to Markdown so it
// composes cleanly alongside extractive RAG chunks.
type ReadabilityFetcher struct {
	http *http.Client
}

// NewReadabilityFetcher constructs a fetcher with the given total timeout.
func NewReadabilityFetcher(timeout time.Duration) *ReadabilityFetcher {
	if timeout <= 0 {
		timeout = 8 * time.Second
	}
	return &ReadabilityFetcher{http: &http.Client{Timeout: timeout}}
}

func (f *ReadabilityFetcher) FetchReadable(ctx context.Context, rawURL string) (string, error) {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return "", err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return "", err
	}
	resp, err := f.http.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	article, err := readability.FromReader(resp.Body, parsed)
	if err != nil {
		return "", err
	}
	md, err := htmltomarkdown.ConvertString(article.Content)
	if err != nil {
		return strings.TrimSpace(article.TextContent), nil
	}
	return strings.TrimSpace(md), nil
}
