package voyageai

import (
	"context"
	"net/http"

	"github.com/smallnest/ragbridge/httpx"
	"github.com/smallnest/ragbridge/log"
	"github.com/smallnest/ragbridge/postprocessor"
	"github.com/smallnest/ragbridge/rag"
)

// Known rerank models.
const (
	ModelRerank2     = "rerank-2"
	ModelRerank2Lite = "rerank-2-lite"
	ModelRerank1     = "rerank-1"
	ModelRerankLite1 = "rerank-lite-1"
)

// Rerank reorders nodes with the Voyage AI rerank API.
type Rerank struct {
	*postprocessor.Base

	apiKey     string
	url        string
	model      string
	truncation bool
	client     *http.Client
	aclient    *http.Client
}

var _ rag.NodePostprocessor = (*Rerank)(nil)

// New returns a Voyage reranker for model. The model has no default.
func New(model string, opts ...Option) (*Rerank, error) {
	if model == "" {
		return nil, rag.NewConfigError("model", nil, "a Voyage rerank model is required, e.g. %q", ModelRerank2)
	}

	o := &options{
		url:        DefaultURL,
		topN:       DefaultTopN,
		truncation: true,
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
		logger = log.WithPrefix(nil, "voyageai")
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
		Base:       base,
		apiKey:     apiKey,
		url:        o.url,
		model:      model,
		truncation: o.truncation,
	}
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
	Query      string   `json:"query"`
	Documents  []string `json:"documents"`
	Model      string   `json:"model"`
	TopK       int      `json:"top_k"`
	Truncation bool     `json:"truncation"`
}

type rerankResponse struct {
	Data []struct {
		Index          int     `json:"index"`
		RelevanceScore float64 `json:"relevance_score"`
	} `json:"data"`
	Usage struct {
		TotalTokens int `json:"total_tokens"`
	} `json:"usage"`
}

func (r *Rerank) rerankWith(client *http.Client) postprocessor.RerankFunc {
	return func(ctx context.Context, query string, batch []rag.NodeWithScore) ([]postprocessor.Scored, error) {
		var resp rerankResponse
		err := httpx.DoJSON(ctx, client, httpx.Request{
			Method: http.MethodPost,
			URL:    r.url,
			Header: httpx.BearerHeader(r.apiKey),
			Body: rerankRequest{
				Query:      query,
				Documents:  postprocessor.Texts(batch),
				Model:      r.model,
				TopK:       r.TopN(),
				Truncation: r.truncation,
			},
		}, &resp)
		if err != nil {
			return nil, err
		}
		r.Logger().Debug("rerank used %d tokens", resp.Usage.TotalTokens)

		out := make([]postprocessor.Scored, len(resp.Data))
		for i, d := range resp.Data {
			out[i] = postprocessor.Scored{Index: d.Index, Score: d.RelevanceScore}
		}
		return out, nil
	}
}
