package pinecone

import (
	"context"
	"fmt"
	"maps"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/smallnest/ragbridge/httpx"
	"github.com/smallnest/ragbridge/log"
	"github.com/smallnest/ragbridge/rag"
)

const (
	// DefaultControlURL is the Pinecone control plane.
	DefaultControlURL = "https://api.pinecone.io"
	// DefaultTopK is used when LoadParams.TopK is unset.
	DefaultTopK = 10

	apiVersion = "2024-07"
	apiKeyEnv  = "PINECONE_API_KEY"
)

type options struct {
	apiKey     string
	controlURL string
	timeout    time.Duration
	maxRetries int
	httpClient *http.Client
	logger     log.Logger
}

// Option configures a Reader.
type Option func(*options)

// WithAPIKey sets the API key. Defaults to PINECONE_API_KEY.
func WithAPIKey(key string) Option {
	return func(o *options) {
		o.apiKey = key
	}
}

// WithControlURL overrides the control plane endpoint.
func WithControlURL(u string) Option {
	return func(o *options) {
		o.controlURL = u
	}
}

// WithTimeout sets the per-request timeout.
func WithTimeout(d time.Duration) Option {
	return func(o *options) {
		o.timeout = d
	}
}

// WithMaxRetries sets how often retryable failures are retried.
func WithMaxRetries(n int) Option {
	return func(o *options) {
		o.maxRetries = n
	}
}

// WithHTTPClient replaces the retrying client.
func WithHTTPClient(c *http.Client) Option {
	return func(o *options) {
		o.httpClient = c
	}
}

// WithLogger sets the logger.
func WithLogger(l log.Logger) Option {
	return func(o *options) {
		o.logger = l
	}
}

// Reader loads the texts of the nearest neighbours of a vector.
// Pinecone stores only ids, so the caller supplies the id to text mapping.
type Reader struct {
	apiKey     string
	controlURL string
	client     *http.Client
	logger     log.Logger
}

// LoadParams describes one query.
type LoadParams struct {
	IndexName string
	IDToText  map[string]string
	Vector    []float32
	TopK      int

	// SeparateDocuments returns one node per match instead of one joined node.
	SeparateDocuments bool
	IncludeValues     bool

	Namespace string
	Filter    map[string]any
}

// New returns a Pinecone reader. An API key is required.
func New(opts ...Option) (*Reader, error) {
	o := &options{
		controlURL: DefaultControlURL,
		timeout:    httpx.DefaultTimeout,
		maxRetries: httpx.DefaultMaxRetries,
	}
	for _, opt := range opts {
		opt(o)
	}

	apiKey, err := rag.ResolveAPIKey(o.apiKey, apiKeyEnv)
	if err != nil {
		return nil, err
	}

	r := &Reader{
		apiKey:     apiKey,
		controlURL: strings.TrimRight(o.controlURL, "/"),
		client:     o.httpClient,
		logger:     o.logger,
	}
	if r.client == nil {
		r.client = httpx.NewClient(httpx.Config{Timeout: o.timeout, MaxRetries: o.maxRetries})
	}
	if r.logger == nil {
		r.logger = log.WithPrefix(nil, "pinecone")
	}
	return r, nil
}

type match struct {
	ID       string         `json:"id"`
	Score    float64        `json:"score"`
	Values   []float32      `json:"values"`
	Metadata map[string]any `json:"metadata"`
}

// LoadData queries the index and maps the matches to nodes.
func (r *Reader) LoadData(ctx context.Context, p LoadParams) ([]*rag.Node, error) {
	if p.IndexName == "" {
		return nil, rag.NewConfigError("index_name", nil, "an index name is required")
	}
	if len(p.Vector) == 0 {
		return nil, fmt.Errorf("pinecone: %w: empty query vector", rag.ErrMissingQuery)
	}
	if p.TopK <= 0 {
		p.TopK = DefaultTopK
	}

	host, err := r.indexHost(ctx, p.IndexName)
	if err != nil {
		return nil, err
	}

	body := map[string]any{
		"vector":          p.Vector,
		"topK":            p.TopK,
		"includeValues":   p.IncludeValues,
		"includeMetadata": true,
	}
	if p.Namespace != "" {
		body["namespace"] = p.Namespace
	}
	if len(p.Filter) > 0 {
		body["filter"] = p.Filter
	}

	var resp struct {
		Matches []match `json:"matches"`
	}
	if err := httpx.DoJSON(ctx, r.client, httpx.Request{
		Method: http.MethodPost,
		URL:    host + "/query",
		Header: r.header(),
		Body:   body,
	}, &resp); err != nil {
		return nil, fmt.Errorf("pinecone query %s: %w", p.IndexName, err)
	}
	r.logger.Debug("index %s returned %d matches", p.IndexName, len(resp.Matches))

	texts := make([]string, len(resp.Matches))
	for i, m := range resp.Matches {
		text, ok := p.IDToText[m.ID]
		if !ok {
			return nil, fmt.Errorf("pinecone: id %q not found in id to text map", m.ID)
		}
		texts[i] = text
	}

	if !p.SeparateDocuments {
		return []*rag.Node{rag.NewNode(strings.Join(texts, "\n"), nil)}, nil
	}

	nodes := make([]*rag.Node, len(resp.Matches))
	for i, m := range resp.Matches {
		metadata := make(map[string]any, len(m.Metadata)+1)
		maps.Copy(metadata, m.Metadata)
		metadata["score"] = m.Score

		node := &rag.Node{ID: m.ID, Text: texts[i], Metadata: metadata}
		if p.IncludeValues {
			node.Embedding = m.Values
		}
		nodes[i] = node
	}
	return nodes, nil
}

// indexHost resolves the data plane host of an index.
func (r *Reader) indexHost(ctx context.Context, name string) (string, error) {
	var desc struct {
		Host string `json:"host"`
	}
	if err := httpx.DoJSON(ctx, r.client, httpx.Request{
		URL:    r.controlURL + "/indexes/" + url.PathEscape(name),
		Header: r.header(),
	}, &desc); err != nil {
		return "", fmt.Errorf("pinecone describe index %s: %w", name, err)
	}
	if desc.Host == "" {
		return "", fmt.Errorf("pinecone describe index %s: %w: no host", name, rag.ErrEmptyResponse)
	}
	if strings.HasPrefix(desc.Host, "http://") || strings.HasPrefix(desc.Host, "https://") {
		return strings.TrimRight(desc.Host, "/"), nil
	}
	return "https://" + desc.Host, nil
}

func (r *Reader) header() http.Header {
	h := http.Header{}
	h.Set("Api-Key", r.apiKey)
	h.Set("X-Pinecone-API-Version", apiVersion)
	return h
}
