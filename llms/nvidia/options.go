package nvidia

import (
	"time"

	"github.com/tmc/langchaingo/callbacks"

	"github.com/smallnest/ragbridge/log"
)

// Mode selects where chat requests are sent.
type Mode string

const (
	// ModeNVIDIA is the hosted API catalog.
	ModeNVIDIA Mode = "nvidia"
	// ModeNIM is a self-hosted NIM container.
	ModeNIM Mode = "nim"
)

const (
	DefaultBaseURL    = "https://integrate.api.nvidia.com/v1"
	DefaultModel      = "meta/llama3-8b-instruct"
	DefaultMaxTokens  = 1024
	DefaultTimeout    = 120 * time.Second
	DefaultMaxRetries = 5

	apiKeyEnv = "NVIDIA_API_KEY"
)

type options struct {
	apiKey           string
	mode             Mode
	baseURL          string
	model            string
	maxTokens        int
	temperature      float64
	topLogprobs      int
	logprobs         bool
	timeout          time.Duration
	maxRetries       int
	logger           log.Logger
	callbacksHandler callbacks.Handler
}

// Option configures an LLM.
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

// WithModel sets the chat model.
func WithModel(model string) Option {
	return func(opts *options) {
		opts.model = model
	}
}

// WithMaxTokens sets the default completion length.
func WithMaxTokens(n int) Option {
	return func(opts *options) {
		opts.maxTokens = n
	}
}

// WithTemperature sets the default sampling temperature.
func WithTemperature(t float64) Option {
	return func(opts *options) {
		opts.temperature = t
	}
}

// WithLogprobs asks for token log probabilities with topN alternatives per
// token. They are returned in GenerationInfo["logprobs"].
func WithLogprobs(topN int) Option {
	return func(opts *options) {
		opts.logprobs = true
		opts.topLogprobs = topN
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

// WithCallbacks sets the callbacks handler for the LLM.
func WithCallbacks(handler callbacks.Handler) Option {
	return func(opts *options) {
		opts.callbacksHandler = handler
	}
}
