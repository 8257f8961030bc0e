// Package websearch implements web search against a self-hosted metasearch
// instance (SearXNG-style HTML endpoint).
//
// The orchestrator defines the provider interface it consumes; this package
// supplies the concrete client. Results are parsed from the HTML results
// page, and the top result's snippet can be enriched by fetching the page
// and extracting its readable text.
package websearch

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	readability "github.com/go-shiori/go-readability"

	"github.com/quarrylabs/quarry/internal/log"
)

// DefaultTimeout bounds one search request.
const DefaultTimeout = 15 * time.Second

// maxResponseSize caps how much of a response body is read.
const maxResponseSize = 10 << 20 // 10MB

// snippetLimit truncates enriched snippets to a displayable length.
const snippetLimit = 500

// Result is one web search hit.
type Result struct {
	Title    string
	URL      string
	Snippet  string
	Position int
}

// Response is a full search response.
type Response struct {
	Results      []Result
	TotalResults int
	SearchTime   time.Duration
}

// Client queries a metasearch HTML endpoint.
//
// Client is safe for concurrent use.
type Client struct {
	endpoint   string
	httpClient *http.Client
	logger     log.Logger
	enrichTop  int
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the underlying HTTP client, e.g. to change the
// timeout or inject a test transport.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		c.httpClient = hc
	}
}

// WithEnrichment makes Search fetch the top n result pages and replace
// their snippets with readable page text. Fetch failures keep the parsed
// snippet.
func WithEnrichment(n int) Option {
	return func(c *Client) {
		if n > 0 {
			c.enrichTop = n
		}
	}
}

// New creates a Client for the given search endpoint
// (e.g. "https://search.example.com/search").
func New(endpoint string, logger log.Logger, opts ...Option) (*Client, error) {
	if endpoint == "" {
		return nil, fmt.Errorf("search endpoint is required")
	}
	if _, err := url.ParseRequestURI(endpoint); err != nil {
		return nil, fmt.Errorf("invalid search endpoint: %w", err)
	}
	if logger == nil {
		logger = log.NewNop()
	}

	c := &Client{
		endpoint:   endpoint,
		httpClient: &http.Client{Timeout: DefaultTimeout},
		logger:     logger,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Search runs the query and parses the HTML results page. Recognized
// settings: "language" (search language hint) and "max_results".
func (c *Client) Search(ctx context.Context, query string, settings map[string]string) (*Response, error) {
	start := time.Now()

	u, err := url.Parse(c.endpoint)
	if err != nil {
		return nil, fmt.Errorf("parse endpoint: %w", err)
	}
	params := u.Query()
	params.Set("q", query)
	if lang := settings["language"]; lang != "" {
		params.Set("language", lang)
	}
	u.RawQuery = params.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("build search request: %w", err)
	}
	req.Header.Set("Accept", "text/html")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("search request: %w", err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("search returned status %d", resp.StatusCode)
	}

	results, err := parseResults(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return nil, fmt.Errorf("parse search results: %w", err)
	}

	if maxStr := settings["max_results"]; maxStr != "" {
		if n, err := strconv.Atoi(maxStr); err == nil && n > 0 && n < len(results) {
			results = results[:n]
		}
	}

	for i := 0; i < c.enrichTop && i < len(results); i++ {
		c.EnrichSnippet(ctx, &results[i])
	}

	c.logger.Debug("web search complete", "query", query, "results", len(results))
	return &Response{
		Results:      results,
		TotalResults: len(results),
		SearchTime:   time.Since(start),
	}, nil
}

// parseResults extracts hits from a SearXNG-style results page: each hit is
// an <article class="result"> with an <h3><a href> title link and a
// <p class="content"> snippet.
func parseResults(r io.Reader) ([]Result, error) {
	doc, err := goquery.NewDocumentFromReader(r)
	if err != nil {
		return nil, err
	}

	var results []Result
	doc.Find("article.result, div.result").Each(func(i int, sel *goquery.Selection) {
		link := sel.Find("h3 a").First()
		href, ok := link.Attr("href")
		if !ok || href == "" {
			return
		}
		results = append(results, Result{
			Title:    strings.TrimSpace(link.Text()),
			URL:      href,
			Snippet:  strings.TrimSpace(sel.Find("p.content").First().Text()),
			Position: len(results) + 1,
		})
	})
	return results, nil
}

// EnrichSnippet fetches the result's page and replaces its snippet with the
// leading readable text. Failures leave the original snippet in place; the
// search result is still usable.
func (c *Client) EnrichSnippet(ctx context.Context, result *Result) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, result.URL, nil)
	if err != nil {
		return
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.Debug("snippet fetch failed", "url", result.URL, "error", err)
		return
	}
	defer func() {
		_ = resp.Body.Close()
	}()
	if resp.StatusCode != http.StatusOK {
		return
	}

	pageURL, err := url.Parse(result.URL)
	if err != nil {
		return
	}
	article, err := readability.FromReader(io.LimitReader(resp.Body, maxResponseSize), pageURL)
	if err != nil {
		c.logger.Debug("readability extraction failed", "url", result.URL, "error", err)
		return
	}

	text := strings.TrimSpace(article.TextContent)
	if text == "" {
		return
	}
	if len(text) > snippetLimit {
		text = text[:snippetLimit]
	}
	result.Snippet = text
}
