package openaiutil

import (
	"github.com/sashabaranov/go-openai"

	"github.com/smallnest/ragbridge/httpx"
	"github.com/smallnest/ragbridge/rag"
)

const (
	DefaultBaseURL = "https://api.openai.com/v1"

	apiKeyEnv  = "OPENAI_API_KEY"
	apiBaseEnv = "OPENAI_API_BASE"
)

// ResolveOpenAICredentials fills apiKey from $OPENAI_API_KEY and baseURL from
// $OPENAI_API_BASE, falling back to DefaultBaseURL.
func ResolveOpenAICredentials(apiKey, baseURL string) (string, string, error) {
	key, err := rag.ResolveAPIKey(apiKey, apiKeyEnv)
	if err != nil {
		return "", "", err
	}
	if baseURL == "" {
		baseURL = rag.GetEnvOrDefault(apiBaseEnv, DefaultBaseURL)
	}
	return key, baseURL, nil
}

// NewClient builds an OpenAI-compatible client whose requests go through the
// retrying transport described by cfg.
func NewClient(apiKey, baseURL string, cfg httpx.Config) *openai.Client {
	config := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		config.BaseURL = baseURL
	}
	config.HTTPClient = httpx.NewClient(cfg)
	return openai.NewClientWithConfig(config)
}

// NewClientPair returns independent sync and async clients for one adapter.
func NewClientPair(apiKey, baseURL string, cfg httpx.Config) (client, aclient *openai.Client) {
	return NewClient(apiKey, baseURL, cfg), NewClient(apiKey, baseURL, cfg)
}
