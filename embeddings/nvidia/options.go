package nvidia

import (
	"time"

	"github.com/tmc/langchaingo/callbacks"

	"github.com/smallnest/ragbridge/log"
)

// Mode selects where embedding requests are sent.
type Mode string

const (
	// ModeNVIDIA is the hosted API catalog.
	ModeNVIDIA Mode = "nvidia"
	// ModeNIM is a self-hosted NIM container.
	ModeNIM Mode = "nim"
)

// Truncate tells the service how to handle inputs longer than the model limit.
type Truncate string

const (
	TruncateNone  Truncate = "NONE"
	TruncateStart Truncate = "START"
	TruncateEnd   Truncate = "END"
)

const (
	DefaultBaseURL    = "https://integrate.api.nvidia.com/v1"
	DefaultModel      = "nvidia/nv-embedqa-e5-v5"
	DefaultBatchSize  = 10
	MaxBatchSize      = 259
	DefaultTimeout    = 120 * time.Second
	DefaultMaxRetries = 5

	apiKeyEnv = "NVIDIA_API_KEY"
)

type options struct {
	apiKey           string
	mode             Mode
	baseURL          string
	model            string
	truncate         Truncate
	batchSize        int
	timeout          time.Duration
	maxRetries       int
	logger           log.Logger
	callbacksHandler callbacks.Handler
}

// Option configures an Embedder.
type Option func(*options)

// WithAPIKey sets the API key. Default is $NVIDIA_API_KEY.
func WithAPIKey(apiKey string) Option {
	return func(opts *options) {
		opts.apiKey = apiKey
	}
}

// WithMode switches between the hosted service and a NIM deployment. For
// ModeNIM the API key is optional and baseURL is required.
func WithMode(mode Mode, baseURL string) Option {
	return func(opts *options) {
		opts.mode = mode
		opts.baseURL = baseURL
	}
}

// WithModel sets the embedding model.
func WithModel(model string) Option {
	return func(opts *options) {
		opts.model = model
	}
}

// WithTruncate sets the truncation policy. Default is TruncateNone.
func WithTruncate(t Truncate) Option {
	return func(opts *options) {
		opts.truncate = t
	}
}

// WithBatchSize sets how many texts go in one request, 1 to MaxBatchSize.
func WithBatchSize(n int) Option {
	return func(opts *options) {
		opts.batchSize = n
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
