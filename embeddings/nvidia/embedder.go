package nvidia

import (
	"context"
	"fmt"
	"sort"

	"github.com/sashabaranov/go-openai"
	"github.com/tmc/langchaingo/callbacks"
	"github.com/tmc/langchaingo/embeddings"

	"github.com/smallnest/ragbridge/httpx"
	"github.com/smallnest/ragbridge/llms/openaiutil"
	"github.com/smallnest/ragbridge/log"
	"github.com/smallnest/ragbridge/rag"
)

type inputType string

const (
	inputQuery   inputType = "query"
	inputPassage inputType = "passage"
)

// Embedder produces embeddings with an NVIDIA retrieval embedding model
// through the OpenAI-compatible /embeddings endpoint.
type Embedder struct {
	client     *openai.Client
	aclient    *openai.Client
	httpConfig httpx.Config
	mode       Mode
	model      string
	truncate   Truncate
	batchSize  int
	logger     log.Logger
	handler    callbacks.Handler
}

var (
	_ rag.Embedder        = (*Embedder)(nil)
	_ embeddings.Embedder = (*Embedder)(nil)
)

// New returns an NVIDIA embedder.
//
// Authentication options:
// 1. WithAPIKey(apiKey) - pass API key directly
// 2. Set NVIDIA_API_KEY environment variable
//
// A NIM deployment (WithMode(ModeNIM, url)) does not need a key.
func New(opts ...Option) (*Embedder, error) {
	o := &options{
		mode:       ModeNVIDIA,
		baseURL:    DefaultBaseURL,
		model:      DefaultModel,
		truncate:   TruncateNone,
		batchSize:  DefaultBatchSize,
		timeout:    DefaultTimeout,
		maxRetries: DefaultMaxRetries,
	}
	for _, opt := range opts {
		opt(o)
	}

	if err := rag.ValidateBatchSize("embed_batch_size", o.batchSize, MaxBatchSize); err != nil {
		return nil, err
	}

	var apiKey string
	switch o.mode {
	case ModeNVIDIA:
		key, err := rag.ResolveAPIKey(o.apiKey, apiKeyEnv)
		if err != nil {
			return nil, err
		}
		apiKey = key
		if o.baseURL == "" {
			o.baseURL = DefaultBaseURL
		}
	case ModeNIM:
		if o.baseURL == "" {
			return nil, rag.NewConfigError("base_url", nil, "mode %q requires a base URL", o.mode)
		}
		apiKey, _ = rag.ResolveAPIKey(o.apiKey, apiKeyEnv)
	default:
		return nil, rag.NewConfigError("mode", nil, "unknown mode %q", o.mode)
	}

	e := &Embedder{
		httpConfig: httpx.Config{Timeout: o.timeout, MaxRetries: o.maxRetries},
		mode:       o.mode,
		model:      o.model,
		truncate:   o.truncate,
		batchSize:  o.batchSize,
		logger:     o.logger,
		handler:    o.callbacksHandler,
	}
	if e.logger == nil {
		e.logger = log.WithPrefix(nil, "nvidia")
	}
	e.client, e.aclient = openaiutil.NewClientPair(apiKey, o.baseURL, e.httpConfig)
	return e, nil
}

// Model returns the embedding model name.
func (e *Embedder) Model() string { return e.model }

// BatchSize returns how many texts are sent per request.
func (e *Embedder) BatchSize() int { return e.batchSize }

// SetBatchSize changes the request batch size. It must be within 1..MaxBatchSize.
func (e *Embedder) SetBatchSize(n int) error {
	if err := rag.ValidateBatchSize("embed_batch_size", n, MaxBatchSize); err != nil {
		return err
	}
	e.batchSize = n
	return nil
}

// EmbedQuery embeds a search query.
func (e *Embedder) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	return e.embedQuery(ctx, e.client, text)
}

// EmbedDocuments embeds passages, batchSize texts per request, in input order.
func (e *Embedder) EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error) {
	return e.embedDocuments(ctx, e.client, texts)
}

// EmbedQueryAsync runs EmbedQuery on the async client.
func (e *Embedder) EmbedQueryAsync(ctx context.Context, text string) *rag.Future[[]float32] {
	return rag.Go(ctx, func(ctx context.Context) ([]float32, error) {
		return e.embedQuery(ctx, e.aclient, text)
	})
}

// EmbedDocumentsAsync runs EmbedDocuments on the async client.
func (e *Embedder) EmbedDocumentsAsync(ctx context.Context, texts []string) *rag.Future[[][]float32] {
	return rag.Go(ctx, func(ctx context.Context) ([][]float32, error) {
		return e.embedDocuments(ctx, e.aclient, texts)
	})
}

// AvailableModels lists the models the endpoint serves.
func (e *Embedder) AvailableModels(ctx context.Context) ([]string, error) {
	list, err := e.client.ListModels(ctx)
	if err != nil {
		return nil, fmt.Errorf("list models: %w", err)
	}
	models := make([]string, len(list.Models))
	for i, m := range list.Models {
		models[i] = m.ID
	}
	return models, nil
}

func (e *Embedder) embedQuery(ctx context.Context, client *openai.Client, text string) ([]float32, error) {
	vecs, err := e.embed(ctx, client, []string{text}, inputQuery)
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

func (e *Embedder) embedDocuments(ctx context.Context, client *openai.Client, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return [][]float32{}, nil
	}

	out := make([][]float32, 0, len(texts))
	for _, batch := range rag.Batches(texts, e.batchSize) {
		vecs, err := e.embed(ctx, client, batch, inputPassage)
		if err != nil {
			return nil, err
		}
		out = append(out, vecs...)
	}
	return out, nil
}

func (e *Embedder) embed(ctx context.Context, client *openai.Client, texts []string, kind inputType) ([][]float32, error) {
	if e.handler != nil {
		e.handler.HandleText(ctx, "embedding start")
	}

	resp, err := client.CreateEmbeddings(ctx, openai.EmbeddingRequestStrings{
		Input:          texts,
		Model:          openai.EmbeddingModel(e.model),
		EncodingFormat: openai.EmbeddingEncodingFormatFloat,
		ExtraBody: map[string]any{
			"input_type": string(kind),
			"truncate":   string(e.truncate),
		},
	})
	if err != nil {
		e.logger.Debug("embedding request failed: %v", err)
		return nil, fmt.Errorf("nvidia embeddings: %w", err)
	}
	if len(resp.Data) != len(texts) {
		return nil, fmt.Errorf("nvidia embeddings: %w: got %d vectors for %d inputs", rag.ErrEmptyResponse, len(resp.Data), len(texts))
	}

	data := resp.Data
	sort.SliceStable(data, func(i, j int) bool { return data[i].Index < data[j].Index })

	vecs := make([][]float32, len(data))
	for i, d := range data {
		vecs[i] = d.Embedding
	}

	if e.handler != nil {
		e.handler.HandleText(ctx, "embedding end")
	}
	return vecs, nil
}
