package openvino

import (
	"context"
	"math"
	"net/http"
	"strings"
	"time"

	"github.com/tmc/langchaingo/callbacks"

	"github.com/smallnest/ragbridge/httpx"
	"github.com/smallnest/ragbridge/log"
	"github.com/smallnest/ragbridge/postprocessor"
	"github.com/smallnest/ragbridge/rag"
)

const (
	DefaultBaseURL = "http://localhost:8000"
	DefaultModel   = "BAAI/bge-reranker-large"
	DefaultTopN    = 3

	apiKeyEnv = "OVMS_API_KEY"
)

type options struct {
	apiKey             string
	baseURL            string
	model              string
	topN               int
	logits             bool
	keepRetrievalScore bool
	timeout            time.Duration
	maxRetries         int
	httpClient         *http.Client
	logger             log.Logger
	callbacksHandler   callbacks.Handler
}

// Option configures a Rerank.
type Option func(*options)

// WithAPIKey sets a bearer token for servers behind an auth proxy.
// Default is $OVMS_API_KEY, and none is required.
func WithAPIKey(apiKey string) Option {
	return func(opts *options) {
		opts.apiKey = apiKey
	}
}

// WithBaseURL sets the model server root.
func WithBaseURL(baseURL string) Option {
	return func(opts *options) {
		opts.baseURL = baseURL
	}
}

// WithModel sets the served model name.
func WithModel(model string) Option {
	return func(opts *options) {
		opts.model = model
	}
}

// WithTopN sets how many nodes are kept.
func WithTopN(n int) Option {
	return func(opts *options) {
		opts.topN = n
	}
}

// WithLogits marks the server output as raw logits, which are then passed
// through a sigmoid to land in (0, 1).
func WithLogits(logits bool) Option {
	return func(opts *options) {
		opts.logits = logits
	}
}

// WithKeepRetrievalScore stores the pre-rerank score in node metadata.
func WithKeepRetrievalScore(keep bool) Option {
	return func(opts *options) {
		opts.keepRetrievalScore = keep
	}
}

// WithTimeout sets the per-request timeout.
func WithTimeout(d time.Duration) Option {
	return func(opts *options) {
		opts.timeout = d
	}
}

// WithMaxRetries sets how many times a failed request is retried.
func WithMaxRetries(n int) Option {
	return func(opts *options) {
		opts.maxRetries = n
	}
}

// WithHTTPClient replaces both the sync and async HTTP clients.
func WithHTTPClient(client *http.Client) Option {
	return func(opts *options) {
		opts.httpClient = client
	}
}

// WithLogger sets the logger.
func WithLogger(l log.Logger) Option {
	return func(opts *options) {
		opts.logger = l
	}
}

// WithCallbacks sets the callbacks handler.
func WithCallbacks(handler callbacks.Handler) Option {
	return func(opts *options) {
		opts.callbacksHandler = handler
	}
}

// Rerank scores nodes with a cross-encoder served by OpenVINO Model Server.
type Rerank struct {
	*postprocessor.Base

	apiKey  string
	url     string
	model   string
	logits  bool
	client  *http.Client
	aclient *http.Client
}

var _ rag.NodePostprocessor = (*Rerank)(nil)

// New returns an OpenVINO reranker.
func New(opts ...Option) (*Rerank, error) {
	o := &options{
		baseURL:    DefaultBaseURL,
		model:      DefaultModel,
		topN:       DefaultTopN,
		timeout:    httpx.DefaultTimeout,
		maxRetries: httpx.DefaultMaxRetries,
	}
	for _, opt := range opts {
		opt(o)
	}
	if o.baseURL == "" {
		return nil, rag.NewConfigError("base_url", nil, "must not be empty")
	}

	logger := o.logger
	if logger == nil {
		logger = log.WithPrefix(nil, "openvino")
	}
	base, err := postprocessor.NewBase(postprocessor.Config{
		TopN:               o.topN,
		KeepRetrievalScore: o.keepRetrievalScore,
		Logger:             logger,
		Callbacks:          o.callbacksHandler,
	})
	if err != nil {
		return nil, err
	}

	r := &Rerank{
		Base:   base,
		url:    strings.TrimSuffix(o.baseURL, "/") + "/v3/rerank",
		model:  o.model,
		logits: o.logits,
	}
	r.apiKey, _ = rag.ResolveAPIKey(o.apiKey, apiKeyEnv)
	if o.httpClient != nil {
		r.client, r.aclient = o.httpClient, o.httpClient
	} else {
		r.client, r.aclient = httpx.NewClientPair(httpx.Config{Timeout: o.timeout, MaxRetries: o.maxRetries})
	}
	return r, nil
}

// PostprocessNodes implements rag.NodePostprocessor.
func (r *Rerank) PostprocessNodes(ctx context.Context, nodes []rag.NodeWithScore, query *rag.QueryBundle) ([]rag.NodeWithScore, error) {
	return r.Rerank(ctx, nodes, query, r.rerankWith(r.client))
}

// PostprocessNodesAsync runs PostprocessNodes on the async client.
func (r *Rerank) PostprocessNodesAsync(ctx context.Context, nodes []rag.NodeWithScore, query *rag.QueryBundle) *rag.Future[[]rag.NodeWithScore] {
	return rag.Go(ctx, func(ctx context.Context) ([]rag.NodeWithScore, error) {
		return r.Rerank(ctx, nodes, query, r.rerankWith(r.aclient))
	})
}

type rerankRequest struct {
	Model     string   `json:"model"`
	Query     string   `json:"query"`
	Documents []string `json:"documents"`
}

type rerankResponse struct {
	Results []struct {
		Index          int     `json:"index"`
		RelevanceScore float64 `json:"relevance_score"`
	} `json:"results"`
}

func (r *Rerank) rerankWith(client *http.Client) postprocessor.RerankFunc {
	return func(ctx context.Context, query string, batch []rag.NodeWithScore) ([]postprocessor.Scored, error) {
		var resp rerankResponse
		err := httpx.DoJSON(ctx, client, httpx.Request{
			Method: http.MethodPost,
			URL:    r.url,
			Header: httpx.BearerHeader(r.apiKey),
			Body: rerankRequest{
				Model:     r.model,
				Query:     query,
				Documents: postprocessor.Texts(batch),
			},
		}, &resp)
		if err != nil {
			return nil, err
		}

		out := make([]postprocessor.Scored, len(resp.Results))
		for i, res := range resp.Results {
			score := res.RelevanceScore
			if r.logits {
				score = sigmoid(score)
			}
			out[i] = postprocessor.Scored{Index: res.Index, Score: score}
		}
		return out, nil
	}
}

func sigmoid(x float64) float64 {
	return 1 / (1 + math.Exp(-x))
}
