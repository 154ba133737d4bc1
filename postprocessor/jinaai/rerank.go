package jinaai

import (
	"context"
	"fmt"
	"net/http"

	"github.com/smallnest/ragbridge/httpx"
	"github.com/smallnest/ragbridge/log"
	"github.com/smallnest/ragbridge/postprocessor"
	"github.com/smallnest/ragbridge/rag"
)

// Rerank reorders nodes with the Jina AI rerank API.
type Rerank struct {
	*postprocessor.Base

	apiKey  string
	url     string
	model   string
	client  *http.Client
	aclient *http.Client
}

var _ rag.NodePostprocessor = (*Rerank)(nil)

// New returns a Jina reranker.
//
// Authentication options:
// 1. WithAPIKey(apiKey) - pass API key directly
// 2. Set JINAAI_API_KEY environment variable
func New(opts ...Option) (*Rerank, error) {
	o := &options{
		url:        DefaultURL,
		model:      DefaultModel,
		topN:       DefaultTopN,
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

	logger := o.logger
	if logger == nil {
		logger = log.WithPrefix(nil, "jinaai")
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
		apiKey: apiKey,
		url:    o.url,
		model:  o.model,
	}
	if o.httpClient != nil {
		r.client, r.aclient = o.httpClient, o.httpClient
	} else {
		r.client, r.aclient = httpx.NewClientPair(httpx.Config{Timeout: o.timeout, MaxRetries: o.maxRetries})
	}
	return r, nil
}

// Model returns the rerank model name.
func (r *Rerank) Model() string { return r.model }

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
	Query     string   `json:"query"`
	Documents []string `json:"documents"`
	Model     string   `json:"model"`
	TopN      int      `json:"top_n"`
}

type rerankResponse struct {
	Results []struct {
		Index          int     `json:"index"`
		RelevanceScore float64 `json:"relevance_score"`
	} `json:"results"`
	Detail any `json:"detail,omitempty"`
}

func (r *Rerank) rerankWith(client *http.Client) postprocessor.RerankFunc {
	return func(ctx context.Context, query string, batch []rag.NodeWithScore) ([]postprocessor.Scored, error) {
		header := httpx.BearerHeader(r.apiKey)
		header.Set("Accept-Encoding", "identity")

		var resp rerankResponse
		err := httpx.DoJSON(ctx, client, httpx.Request{
			Method: http.MethodPost,
			URL:    r.url,
			Header: header,
			Body: rerankRequest{
				Query:     query,
				Documents: postprocessor.Texts(batch),
				Model:     r.model,
				TopN:      r.TopN(),
			},
		}, &resp)
		if err != nil {
			return nil, err
		}
		if resp.Results == nil {
			return nil, fmt.Errorf("jinaai: %w: %v", rag.ErrEmptyResponse, resp.Detail)
		}

		out := make([]postprocessor.Scored, len(resp.Results))
		for i, res := range resp.Results {
			out[i] = postprocessor.Scored{Index: res.Index, Score: res.RelevanceScore}
		}
		return out, nil
	}
}
