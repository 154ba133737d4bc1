package jinaai

import (
	"net/http"
	"time"

	"github.com/tmc/langchaingo/callbacks"

	"github.com/smallnest/ragbridge/log"
)

const (
	DefaultURL   = "https://api.jina.ai/v1/rerank"
	DefaultModel = "jina-reranker-v1-base-en"
	DefaultTopN  = 2

	apiKeyEnv = "JINAAI_API_KEY"
)

type options struct {
	apiKey             string
	url                string
	model              string
	topN               int
	keepRetrievalScore bool
	timeout            time.Duration
	maxRetries         int
	httpClient         *http.Client
	logger             log.Logger
	callbacksHandler   callbacks.Handler
}

// Option configures a Rerank.
type Option func(*options)

// WithAPIKey sets the API key. Default is $JINAAI_API_KEY.
func WithAPIKey(apiKey string) Option {
	return func(opts *options) {
		opts.apiKey = apiKey
	}
}

// WithURL overrides the rerank endpoint.
func WithURL(url string) Option {
	return func(opts *options) {
		opts.url = url
	}
}

// WithModel sets the rerank model.
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
