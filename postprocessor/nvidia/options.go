package nvidia

import (
	"net/http"
	"time"

	"github.com/tmc/langchaingo/callbacks"

	"github.com/smallnest/ragbridge/log"
)

// Mode selects where rerank requests are sent.
type Mode string

const (
	// ModeNVIDIA is the hosted API catalog endpoint.
	ModeNVIDIA Mode = "nvidia"
	// ModeNIM is a self-hosted NIM container.
	ModeNIM Mode = "nim"
)

const (
	DefaultURL          = "https://ai.api.nvidia.com/v1/retrieval/nvidia/reranking"
	DefaultModel        = "nvidia/nv-rerankqa-mistral-4b-v3"
	DefaultTopN         = 5
	DefaultMaxBatchSize = 64
	DefaultTimeout      = 120 * time.Second

	apiKeyEnv = "NVIDIA_API_KEY"
)

// Truncate tells the service how to handle passages longer than the model limit.
type Truncate string

const (
	TruncateNone Truncate = "NONE"
	TruncateEnd  Truncate = "END"
)

type options struct {
	apiKey             string
	mode               Mode
	baseURL            string
	model              string
	truncate           Truncate
	topN               int
	maxBatchSize       int
	keepRetrievalScore bool
	timeout            time.Duration
	maxRetries         int
	httpClient         *http.Client
	logger             log.Logger
	callbacksHandler   callbacks.Handler
}

// Option configures a Rerank.
type Option func(*options)

// WithAPIKey sets the API key. Default is $NVIDIA_API_KEY.
func WithAPIKey(apiKey string) Option {
	return func(opts *options) {
		opts.apiKey = apiKey
	}
}

// WithMode switches between the hosted service and a NIM deployment.
// For ModeNIM, baseURL is the NIM root (e.g. http://localhost:8000/v1) and
// the API key becomes optional. For ModeNVIDIA, an empty baseURL keeps the
// default endpoint.
func WithMode(mode Mode, baseURL string) Option {
	return func(opts *options) {
		opts.mode = mode
		opts.baseURL = baseURL
	}
}

// WithModel sets the rerank model.
func WithModel(model string) Option {
	return func(opts *options) {
		opts.model = model
	}
}

// WithTruncate sets the truncation policy sent with each request.
func WithTruncate(t Truncate) Option {
	return func(opts *options) {
		opts.truncate = t
	}
}

// WithTopN sets how many nodes are kept.
func WithTopN(n int) Option {
	return func(opts *options) {
		opts.topN = n
	}
}

// WithMaxBatchSize caps the passages sent per request.
func WithMaxBatchSize(n int) Option {
	return func(opts *options) {
		opts.maxBatchSize = n
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
