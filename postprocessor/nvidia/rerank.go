package nvidia

import (
	"context"
	"net/http"
	"strings"

	"github.com/smallnest/ragbridge/httpx"
	"github.com/smallnest/ragbridge/log"
	"github.com/smallnest/ragbridge/postprocessor"
	"github.com/smallnest/ragbridge/rag"
)

// KnownModels are the rerank models served by the hosted API catalog.
var KnownModels = []string{
	"nvidia/nv-rerankqa-mistral-4b-v3",
	"nvidia/llama-3.2-nv-rerankqa-1b-v1",
	"nvidia/llama-3.2-nv-rerankqa-1b-v2",
	"nv-rerank-qa-mistral-4b:1",
}

// Rerank reorders nodes with an NVIDIA reranking model. Inputs larger than
// MaxBatchSize are sent in consecutive requests.
type Rerank struct {
	*postprocessor.Base

	apiKey   string
	mode     Mode
	baseURL  string
	url      string
	model    string
	truncate Truncate
	client   *http.Client
	aclient  *http.Client
}

var _ rag.NodePostprocessor = (*Rerank)(nil)

// New returns an NVIDIA reranker.
//
// Authentication options:
// 1. WithAPIKey(apiKey) - pass API key directly
// 2. Set NVIDIA_API_KEY environment variable
//
// A NIM deployment (WithMode(ModeNIM, url)) does not need a key.
func New(opts ...Option) (*Rerank, error) {
	o := &options{
		mode:         ModeNVIDIA,
		model:        DefaultModel,
		topN:         DefaultTopN,
		maxBatchSize: DefaultMaxBatchSize,
		timeout:      DefaultTimeout,
		maxRetries:   httpx.DefaultMaxRetries,
	}
	for _, opt := range opts {
		opt(o)
	}

	r := &Rerank{
		mode:     o.mode,
		model:    o.model,
		truncate: o.truncate,
	}

	switch o.mode {
	case ModeNVIDIA:
		apiKey, err := rag.ResolveAPIKey(o.apiKey, apiKeyEnv)
		if err != nil {
			return nil, err
		}
		r.apiKey = apiKey
		r.url = DefaultURL
		if o.baseURL != "" {
			r.url = o.baseURL
		}
	case ModeNIM:
		if o.baseURL == "" {
			return nil, rag.NewConfigError("base_url", nil, "mode %q requires a base URL", o.mode)
		}
		// optional for NIM
		r.apiKey, _ = rag.ResolveAPIKey(o.apiKey, apiKeyEnv)
		r.baseURL = strings.TrimSuffix(o.baseURL, "/")
		r.url = r.baseURL + "/ranking"
	default:
		return nil, rag.NewConfigError("mode", nil, "unknown mode %q", o.mode)
	}

	if err := rag.ValidateBatchSize("max_batch_size", o.maxBatchSize, 0); err != nil {
		return nil, err
	}

	logger := o.logger
	if logger == nil {
		logger = log.WithPrefix(nil, "nvidia")
	}
	base, err := postprocessor.NewBase(postprocessor.Config{
		TopN:               o.topN,
		MaxBatchSize:       o.maxBatchSize,
		KeepRetrievalScore: o.keepRetrievalScore,
		Logger:             logger,
		Callbacks:          o.callbacksHandler,
	})
	if err != nil {
		return nil, err
	}
	r.Base = base

	if o.httpClient != nil {
		r.client, r.aclient = o.httpClient, o.httpClient
	} else {
		r.client, r.aclient = httpx.NewClientPair(httpx.Config{Timeout: o.timeout, MaxRetries: o.maxRetries})
	}
	return r, nil
}

// Mode returns the deployment mode.
func (r *Rerank) Mode() Mode { return r.mode }

// Model returns the rerank model name.
func (r *Rerank) Model() string { return r.model }

// AvailableModels lists the rerank models the endpoint can serve. The hosted
// catalog returns KnownModels; a NIM deployment is asked for its models.
func (r *Rerank) AvailableModels(ctx context.Context) ([]string, error) {
	if r.mode != ModeNIM {
		return append([]string(nil), KnownModels...), nil
	}

	var resp struct {
		Data []struct {
			ID string `json:"id"`
		} `json:"data"`
	}
	err := httpx.DoJSON(ctx, r.client, httpx.Request{
		URL:    r.baseURL + "/models",
		Header: httpx.BearerHeader(r.apiKey),
	}, &resp)
	if err != nil {
		return nil, err
	}
	models := make([]string, len(resp.Data))
	for i, m := range resp.Data {
		models[i] = m.ID
	}
	return models, nil
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

type text struct {
	Text string `json:"text"`
}

type rankingRequest struct {
	Model    string   `json:"model"`
	Query    text     `json:"query"`
	Passages []text   `json:"passages"`
	Truncate Truncate `json:"truncate,omitempty"`
}

type rankingResponse struct {
	Rankings []struct {
		Index int     `json:"index"`
		Logit float64 `json:"logit"`
	} `json:"rankings"`
}

func (r *Rerank) rerankWith(client *http.Client) postprocessor.RerankFunc {
	return func(ctx context.Context, query string, batch []rag.NodeWithScore) ([]postprocessor.Scored, error) {
		req := rankingRequest{
			Model:    r.model,
			Query:    text{Text: query},
			Passages: make([]text, len(batch)),
			Truncate: r.truncate,
		}
		for i, n := range batch {
			req.Passages[i] = text{Text: n.Node.Content()}
		}

		var resp rankingResponse
		err := httpx.DoJSON(ctx, client, httpx.Request{
			Method: http.MethodPost,
			URL:    r.url,
			Header: httpx.BearerHeader(r.apiKey),
			Body:   req,
		}, &resp)
		if err != nil {
			return nil, err
		}

		out := make([]postprocessor.Scored, len(resp.Rankings))
		for i, rk := range resp.Rankings {
			out[i] = postprocessor.Scored{Index: rk.Index, Score: rk.Logit}
		}
		return out, nil
	}
}
