package web

import (
	"context"
	"fmt"
	"maps"
	"net/http"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/gomarkdown/markdown"
	"github.com/gomarkdown/markdown/html"
	"github.com/gomarkdown/markdown/parser"
	"github.com/microcosm-cc/bluemonday"

	"github.com/smallnest/ragbridge/httpx"
	"github.com/smallnest/ragbridge/log"
	"github.com/smallnest/ragbridge/rag"
)

// Mode selects the Spider endpoint.
type Mode string

const (
	ModeScrape Mode = "scrape"
	ModeCrawl  Mode = "crawl"
)

const (
	// DefaultBaseURL is the Spider API endpoint.
	DefaultBaseURL = "https://api.spider.cloud"

	apiKeyEnv = "SPIDER_API_KEY"

	blockElements = "p,div,br,li,tr,pre,blockquote,h1,h2,h3,h4,h5,h6"
)

type spiderOptions struct {
	apiKey     string
	baseURL    string
	mode       Mode
	params     map[string]any
	plainText  bool
	timeout    time.Duration
	maxRetries int
	httpClient *http.Client
	logger     log.Logger
}

// SpiderOption configures a SpiderReader.
type SpiderOption func(*spiderOptions)

// WithAPIKey sets the API key. Defaults to SPIDER_API_KEY.
func WithAPIKey(key string) SpiderOption {
	return func(o *spiderOptions) {
		o.apiKey = key
	}
}

// WithBaseURL overrides the API endpoint.
func WithBaseURL(u string) SpiderOption {
	return func(o *spiderOptions) {
		o.baseURL = u
	}
}

// WithMode selects scrape (one page) or crawl (the site). Defaults to scrape.
func WithMode(mode Mode) SpiderOption {
	return func(o *spiderOptions) {
		o.mode = mode
	}
}

// WithParams merges extra request parameters over the defaults.
func WithParams(params map[string]any) SpiderOption {
	return func(o *spiderOptions) {
		maps.Copy(o.params, params)
	}
}

// WithPlainText strips markup from page content.
func WithPlainText(enabled bool) SpiderOption {
	return func(o *spiderOptions) {
		o.plainText = enabled
	}
}

// WithTimeout sets the per-request timeout. Crawls can take minutes.
func WithTimeout(d time.Duration) SpiderOption {
	return func(o *spiderOptions) {
		o.timeout = d
	}
}

// WithMaxRetries sets how often retryable failures are retried.
func WithMaxRetries(n int) SpiderOption {
	return func(o *spiderOptions) {
		o.maxRetries = n
	}
}

// WithHTTPClient replaces the retrying client.
func WithHTTPClient(c *http.Client) SpiderOption {
	return func(o *spiderOptions) {
		o.httpClient = c
	}
}

// WithLogger sets the logger.
func WithLogger(l log.Logger) SpiderOption {
	return func(o *spiderOptions) {
		o.logger = l
	}
}

// SpiderReader loads pages through the Spider scraping API.
type SpiderReader struct {
	apiKey    string
	baseURL   string
	mode      Mode
	params    map[string]any
	plainText bool
	client    *http.Client
	logger    log.Logger
}

// NewSpiderReader returns a Spider reader. An API key is required.
func NewSpiderReader(opts ...SpiderOption) (*SpiderReader, error) {
	o := &spiderOptions{
		baseURL:    DefaultBaseURL,
		mode:       ModeScrape,
		params:     map[string]any{"return_format": "markdown"},
		timeout:    httpx.DefaultTimeout,
		maxRetries: httpx.DefaultMaxRetries,
	}
	for _, opt := range opts {
		opt(o)
	}

	if o.mode != ModeScrape && o.mode != ModeCrawl {
		return nil, rag.NewConfigError("mode", nil, "unknown mode %q, use scrape or crawl", o.mode)
	}
	apiKey, err := rag.ResolveAPIKey(o.apiKey, apiKeyEnv)
	if err != nil {
		return nil, err
	}

	r := &SpiderReader{
		apiKey:    apiKey,
		baseURL:   strings.TrimRight(o.baseURL, "/"),
		mode:      o.mode,
		params:    o.params,
		plainText: o.plainText,
		client:    o.httpClient,
		logger:    o.logger,
	}
	if r.client == nil {
		r.client = httpx.NewClient(httpx.Config{Timeout: o.timeout, MaxRetries: o.maxRetries})
	}
	if r.logger == nil {
		r.logger = log.WithPrefix(nil, "spider")
	}
	return r, nil
}

type page struct {
	Content string `json:"content"`
	URL     string `json:"url"`
	Status  int    `json:"status"`
	Error   string `json:"error"`
}

// LoadData scrapes or crawls url and returns one node per page.
func (r *SpiderReader) LoadData(ctx context.Context, url string) ([]*rag.Node, error) {
	if url == "" {
		return nil, fmt.Errorf("spider: url is required")
	}

	body := make(map[string]any, len(r.params)+1)
	maps.Copy(body, r.params)
	body["url"] = url

	var pages []page
	if err := httpx.DoJSON(ctx, r.client, httpx.Request{
		Method: http.MethodPost,
		URL:    r.baseURL + "/" + string(r.mode),
		Header: httpx.BearerHeader(r.apiKey),
		Body:   body,
	}, &pages); err != nil {
		return nil, fmt.Errorf("spider %s %s: %w", r.mode, url, err)
	}

	format, _ := r.params["return_format"].(string)
	nodes := make([]*rag.Node, 0, len(pages))
	for _, p := range pages {
		if p.Error != "" && p.Content == "" {
			r.logger.Warn("skipping %s: %s", p.URL, p.Error)
			continue
		}

		content := p.Content
		if r.plainText {
			text, err := PlainText(content, format)
			if err != nil {
				return nil, fmt.Errorf("spider %s: %w", p.URL, err)
			}
			content = text
		}
		nodes = append(nodes, rag.NewNode(content, map[string]any{
			"url":    p.URL,
			"status": p.Status,
		}))
	}
	r.logger.Debug("%s %s returned %d pages", r.mode, url, len(nodes))
	return nodes, nil
}

// Reader binds url so the reader can be used as a rag.Reader.
func (r *SpiderReader) Reader(url string) rag.Reader {
	return rag.ReaderFunc(func(ctx context.Context) ([]*rag.Node, error) {
		return r.LoadData(ctx, url)
	})
}

// PlainText strips markup from content in the given Spider return format.
// markdown and commonmark are rendered to HTML first, raw is treated as
// HTML, anything else is returned unchanged.
func PlainText(content, format string) (string, error) {
	var htmlBytes []byte
	switch format {
	case "markdown", "commonmark", "":
		p := parser.NewWithExtensions(parser.CommonExtensions)
		doc := p.Parse([]byte(content))
		renderer := html.NewRenderer(html.RendererOptions{Flags: html.CommonFlags})
		htmlBytes = markdown.Render(doc, renderer)
	case "raw":
		htmlBytes = []byte(content)
	default:
		return content, nil
	}

	htmlBytes = bluemonday.UGCPolicy().SanitizeBytes(htmlBytes)

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(string(htmlBytes)))
	if err != nil {
		return "", fmt.Errorf("parse html: %w", err)
	}

	// keep block boundaries as line breaks
	doc.Find(blockElements).Each(func(_ int, s *goquery.Selection) {
		s.AppendHtml("\n")
	})

	var lines []string
	for line := range strings.SplitSeq(doc.Text(), "\n") {
		if line = strings.TrimSpace(line); line != "" {
			lines = append(lines, line)
		}
	}
	return strings.Join(lines, "\n"), nil
}
