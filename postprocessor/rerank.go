package postprocessor

import (
	"context"
	"fmt"

	"github.com/tmc/langchaingo/callbacks"
	"github.com/tmc/langchaingo/schema"

	"github.com/smallnest/ragbridge/log"
	"github.com/smallnest/ragbridge/rag"
)

// RetrievalScoreKey is the metadata key holding the pre-rerank score when
// KeepRetrievalScore is enabled.
const RetrievalScoreKey = "retrieval_score"

// Scored is one vendor result: an index into the submitted batch and its score.
type Scored struct {
	Index int
	Score float64
}

// RerankFunc scores one batch of nodes against the query.
type RerankFunc func(ctx context.Context, query string, batch []rag.NodeWithScore) ([]Scored, error)

// Base carries the settings and control flow shared by every reranker.
// SetTopN and SetMaxBatchSize must not race with PostprocessNodes.
type Base struct {
	topN               int
	maxBatchSize       int
	keepRetrievalScore bool
	logger             log.Logger
	handler            callbacks.Handler
}

// Config seeds a Base.
type Config struct {
	TopN int

	// MaxBatchSize caps the nodes sent per vendor call. 0 sends one call.
	MaxBatchSize       int
	KeepRetrievalScore bool
	Logger             log.Logger
	Callbacks          callbacks.Handler
}

// NewBase validates cfg and returns a Base.
func NewBase(cfg Config) (*Base, error) {
	b := &Base{
		keepRetrievalScore: cfg.KeepRetrievalScore,
		logger:             cfg.Logger,
		handler:            cfg.Callbacks,
	}
	if b.logger == nil {
		b.logger = log.WithPrefix(nil, "rerank")
	}
	if err := b.SetTopN(cfg.TopN); err != nil {
		return nil, err
	}
	if cfg.MaxBatchSize != 0 {
		if err := b.SetMaxBatchSize(cfg.MaxBatchSize); err != nil {
			return nil, err
		}
	}
	return b, nil
}

// TopN returns the number of nodes kept after reranking.
func (b *Base) TopN() int { return b.topN }

// SetTopN changes top_n. Negative values are rejected and leave it unchanged.
func (b *Base) SetTopN(n int) error {
	if err := rag.ValidateTopN(n); err != nil {
		return err
	}
	b.topN = n
	return nil
}

// MaxBatchSize returns the per-call node limit, 0 when unbounded.
func (b *Base) MaxBatchSize() int { return b.maxBatchSize }

// SetMaxBatchSize changes the per-call node limit. It must be positive.
func (b *Base) SetMaxBatchSize(n int) error {
	if err := rag.ValidateBatchSize("max_batch_size", n, 0); err != nil {
		return err
	}
	b.maxBatchSize = n
	return nil
}

// Logger returns the logger the reranker writes to.
func (b *Base) Logger() log.Logger { return b.logger }

// Rerank runs fn over nodes and returns at most TopN results sorted by
// descending score. Empty input and top_n 0 return an empty result without
// calling fn. Batches are submitted one at a time in input order. The
// caller's slice and nodes are never modified.
func (b *Base) Rerank(ctx context.Context, nodes []rag.NodeWithScore, query *rag.QueryBundle, fn RerankFunc) ([]rag.NodeWithScore, error) {
	if len(nodes) == 0 {
		return []rag.NodeWithScore{}, nil
	}
	if query == nil || query.QueryStr == "" {
		return nil, rag.ErrMissingQuery
	}
	if b.topN == 0 {
		return []rag.NodeWithScore{}, nil
	}

	if b.handler != nil {
		b.handler.HandleRetrieverStart(ctx, query.QueryStr)
	}

	batches := rag.Batches(nodes, b.maxBatchSize)
	results := make([]rag.NodeWithScore, 0, len(nodes))
	for i, batch := range batches {
		b.logger.Debug("rerank batch %d of %d (%d nodes)", i+1, len(batches), len(batch))

		scored, err := fn(ctx, query.QueryStr, batch)
		if err != nil {
			return nil, fmt.Errorf("rerank batch %d: %w", i, err)
		}

		for _, s := range scored {
			if s.Index < 0 || s.Index >= len(batch) {
				return nil, fmt.Errorf("rerank batch %d: result index %d out of range [0,%d)", i, s.Index, len(batch))
			}
			results = append(results, b.rescore(batch[s.Index], s.Score))
		}
	}

	rag.SortByScore(results)
	results = rag.TruncateTopN(results, b.topN)

	if b.handler != nil {
		docs := make([]schema.Document, len(results))
		for i, r := range results {
			docs[i] = rag.DocumentFromNode(r)
		}
		b.handler.HandleRetrieverEnd(ctx, query.QueryStr, docs)
	}
	return results, nil
}

func (b *Base) rescore(orig rag.NodeWithScore, score float64) rag.NodeWithScore {
	node := orig.Node
	if b.keepRetrievalScore && orig.Score != nil {
		node = node.Clone()
		if node.Metadata == nil {
			node.Metadata = make(map[string]any, 1)
		}
		node.Metadata[RetrievalScoreKey] = *orig.Score
	}
	return rag.NewNodeWithScore(node, score)
}

// Texts returns the content of each node in the batch.
func Texts(batch []rag.NodeWithScore) []string {
	texts := make([]string, len(batch))
	for i, n := range batch {
		texts[i] = n.Node.Content()
	}
	return texts
}
