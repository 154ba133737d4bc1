package kdbai

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/smallnest/ragbridge/httpx"
	"github.com/smallnest/ragbridge/rag"
)

const apiKeyEnv = "KDBAI_API_KEY"

// Column describes one table column.
type Column struct {
	Name   string `json:"name"`
	Type   string `json:"type,omitempty"`
	PyType string `json:"pytype"`
}

// Filter is one KDB.AI filter clause: [operator, column, value].
type Filter []any

// SparseVector maps token ids to weights.
type SparseVector map[int]float64

// Table is the KDB.AI table API the store needs.
type Table interface {
	Schema(ctx context.Context) ([]Column, error)
	Insert(ctx context.Context, rows []map[string]any) error
	// Search returns, per query vector, the n nearest rows.
	Search(ctx context.Context, vectors [][]float32, n int, filter []Filter) ([][]map[string]any, error)
	// HybridSearch blends dense and sparse scores. alpha weights the dense side.
	HybridSearch(ctx context.Context, dense [][]float32, sparse []SparseVector, n int, filter []Filter, alpha float64) ([][]map[string]any, error)
}

type restOptions struct {
	apiKey     string
	timeout    time.Duration
	maxRetries int
	httpClient *http.Client
}

// RESTOption configures a RESTTable.
type RESTOption func(*restOptions)

// WithAPIKey sets the API key. Defaults to KDBAI_API_KEY; a local server
// needs none.
func WithAPIKey(key string) RESTOption {
	return func(o *restOptions) {
		o.apiKey = key
	}
}

// WithTimeout sets the per-request timeout.
func WithTimeout(d time.Duration) RESTOption {
	return func(o *restOptions) {
		o.timeout = d
	}
}

// WithMaxRetries sets how often retryable failures are retried.
func WithMaxRetries(n int) RESTOption {
	return func(o *restOptions) {
		o.maxRetries = n
	}
}

// WithHTTPClient replaces the retrying client.
func WithHTTPClient(c *http.Client) RESTOption {
	return func(o *restOptions) {
		o.httpClient = c
	}
}

// RESTTable talks to a table through the KDB.AI server REST API.
type RESTTable struct {
	apiKey  string
	baseURL string
	client  *http.Client
}

var _ Table = (*RESTTable)(nil)

// NewRESTTable returns a table client for database/table at endpoint.
func NewRESTTable(endpoint, database, table string, opts ...RESTOption) (*RESTTable, error) {
	if endpoint == "" {
		return nil, rag.NewConfigError("endpoint", nil, "an endpoint is required")
	}
	if database == "" || table == "" {
		return nil, rag.NewConfigError("table", nil, "database and table are required")
	}

	o := &restOptions{
		timeout:    httpx.DefaultTimeout,
		maxRetries: httpx.DefaultMaxRetries,
	}
	for _, opt := range opts {
		opt(o)
	}
	apiKey, _ := rag.ResolveAPIKey(o.apiKey, apiKeyEnv)

	t := &RESTTable{
		apiKey: apiKey,
		baseURL: strings.TrimRight(endpoint, "/") + "/api/v2/databases/" + url.PathEscape(database) +
			"/tables/" + url.PathEscape(table),
		client: o.httpClient,
	}
	if t.client == nil {
		t.client = httpx.NewClient(httpx.Config{Timeout: o.timeout, MaxRetries: o.maxRetries})
	}
	return t, nil
}

func (t *RESTTable) header() http.Header {
	h := http.Header{}
	if t.apiKey != "" {
		h.Set("X-Api-Key", t.apiKey)
	}
	return h
}

// Schema implements Table.
func (t *RESTTable) Schema(ctx context.Context) ([]Column, error) {
	var resp struct {
		Columns []Column `json:"columns"`
	}
	if err := httpx.DoJSON(ctx, t.client, httpx.Request{URL: t.baseURL, Header: t.header()}, &resp); err != nil {
		return nil, fmt.Errorf("kdbai schema: %w", err)
	}
	return resp.Columns, nil
}

// Insert implements Table.
func (t *RESTTable) Insert(ctx context.Context, rows []map[string]any) error {
	if err := httpx.DoJSON(ctx, t.client, httpx.Request{
		Method: http.MethodPost,
		URL:    t.baseURL + "/insert",
		Header: t.header(),
		Body:   map[string]any{"rows": rows},
	}, nil); err != nil {
		return fmt.Errorf("kdbai insert: %w", err)
	}
	return nil
}

type searchResponse struct {
	Result [][]map[string]any `json:"result"`
}

// Search implements Table.
func (t *RESTTable) Search(ctx context.Context, vectors [][]float32, n int, filter []Filter) ([][]map[string]any, error) {
	var resp searchResponse
	if err := httpx.DoJSON(ctx, t.client, httpx.Request{
		Method: http.MethodPost,
		URL:    t.baseURL + "/search",
		Header: t.header(),
		Body:   map[string]any{"vectors": vectors, "n": n, "filter": filter},
	}, &resp); err != nil {
		return nil, fmt.Errorf("kdbai search: %w", err)
	}
	return resp.Result, nil
}

// HybridSearch implements Table.
func (t *RESTTable) HybridSearch(ctx context.Context, dense [][]float32, sparse []SparseVector, n int, filter []Filter, alpha float64) ([][]map[string]any, error) {
	var resp searchResponse
	if err := httpx.DoJSON(ctx, t.client, httpx.Request{
		Method: http.MethodPost,
		URL:    t.baseURL + "/hybrid-search",
		Header: t.header(),
		Body: map[string]any{
			"denseVectors":  dense,
			"sparseVectors": sparse,
			"n":             n,
			"filter":        filter,
			"alpha":         alpha,
		},
	}, &resp); err != nil {
		return nil, fmt.Errorf("kdbai hybrid search: %w", err)
	}
	return resp.Result, nil
}
