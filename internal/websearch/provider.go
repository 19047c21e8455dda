package websearch

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/net/html"
)

// Provider performs the actual outbound search; SearXNGProvider is the
// default implementation.
type Provider interface {
	Search(ctx context.Context, query string, maxResults int, allowedDomains []string, contextSize int, location string) ([]Hit, error)
}

// SearXNGProvider queries a SearXNG instance, trying its JSON API first and
// falling back to HTML scraping, with a rotating User-Agent list to reduce
// the odds of being rate-limited by the upstream search engines SearXNG
// federates across.
type SearXNGProvider struct {
	http       *http.Client
	searxngURL string
	uaList     []string
}

// NewSearXNGProvider constructs a provider bound to the given SearXNG base
// URL with the given total per-request timeout.
func NewSearXNGProvider(searxngURL string, timeout time.Duration) *SearXNGProvider {
	if timeout <= 0 {
		timeout = 12 * time.Second
	}
	return &SearXNGProvider{
		http:       &http.Client{Timeout: timeout},
		searxngURL: strings.TrimSuffix(searxngURL, "/"),
		uaList: []string{
			"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/115.0.0.0 Safari/537.36",
			"Mozilla/5.0 (Macintosh; Intel Mac OS X 10.15; rv:102.0) Gecko/20100101 Firefox/102.0",
			"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/115.0.0.0 Safari/537.36 Edg/115.0.0.0",
		},
	}
}

func (p *SearXNGProvider) Search(ctx context.Context, query string, maxResults int, allowedDomains []string, contextSize int, location string) ([]Hit, error) {
	hits, err := p.searchJSON(ctx, query, maxResults)
	if err == nil && len(hits) > 0 {
		return filterDomains(hits, allowedDomains), nil
	}
	hits, err = p.searchHTML(ctx, query, maxResults)
	if err != nil {
		return nil, err
	}
	return filterDomains(hits, allowedDomains), nil
}

func (p *SearXNGProvider) searchJSON(ctx context.Context, query string, max int) ([]Hit, error) {
	req, err := p.newRequest(ctx, query, "json")
	if err != nil {
		return nil, err
	}
	resp, err := p.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("websearch: searxng http %d", resp.StatusCode)
	}

	var parsed struct {
		Results []struct {
			Title   string  `json:"title"`
			URL     string  `json:"url"`
			Content string  `json:"content"`
			Score   float64 `json:"score"`
		} `json:"results"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, err
	}
	hits := make([]Hit, 0, len(parsed.Results))
	for i, r := range parsed.Results {
		if i >= max {
			break
		}
		h := Hit{Title: strings.TrimSpace(r.Title), URL: r.URL, Snippet: strings.TrimSpace(r.Content)}
		if r.Score > 0 {
			score := r.Score
			h.Relevance = &score
		}
		hits = append(hits, h)
	}
	return hits, nil
}

func (p *SearXNGProvider) searchHTML(ctx context.Context, query string, max int) ([]Hit, error) {
	req, err := p.newRequest(ctx, query, "")
	if err != nil {
		return nil, err
	}
	resp, err := p.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("websearch: searxng http %d", resp.StatusCode)
	}
	root, err := html.Parse(resp.Body)
	if err != nil {
		return nil, err
	}
	urls := extractURLs(root)
	seen := map[string]struct{}{}
	hits := make([]Hit, 0, len(urls))
	for _, u := range urls {
		if _, ok := seen[u]; ok {
			continue
		}
		seen[u] = struct{}{}
		title := u
		if parsed, err := url.Parse(u); err == nil && parsed.Host != "" {
			title = parsed.Host + parsed.Path
		}
		hits = append(hits, Hit{Title: title, URL: u})
		if len(hits) >= max {
			break
		}
	}
	return hits, nil
}

func (p *SearXNGProvider) newRequest(ctx context.Context, query, format string) (*http.Request, error) {
	v := url.Values{}
	v.Set("q", query)
	if format != "" {
		v.Set("format", format)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.searxngURL+"/search?"+v.Encode(), nil)
	if err != nil {
		return nil, err
	}
	ua := p.uaList[int(time.Now().UnixNano())%len(p.uaList)]
	req.Header.Set("User-Agent", ua)
	return req, nil
}

func extractURLs(doc *html.Node) []string {
	var urls []string
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode && n.Data == "a" {
			for _, attr := range n.Attr {
				if attr.Key == "href" && strings.Contains(attr.Val, "http") {
					urls = append(urls, attr.Val)
				}
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(doc)
	return urls
}

func filterDomains(hits []Hit, allowedDomains []string) []Hit {
	if len(allowedDomains) == 0 {
		return hits
	}
	allowed := make(map[string]struct{}, len(allowedDomains))
	for _, d := range allowedDomains {
		allowed[strings.ToLower(strings.TrimSpace(d))] = struct{}{}
	}
	out := make([]Hit, 0, len(hits))
	for _, h := range hits {
		parsed, err := url.Parse(h.URL)
		if err != nil {
			continue
		}
		host := strings.ToLower(strings.TrimPrefix(parsed.Host, "www."))
		if _, ok := allowed[host]; ok {
			out = append(out, h)
		}
	}
	return out
}
