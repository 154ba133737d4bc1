package postprocessor

import (
	"context"
	"strings"

	"github.com/smallnest/ragbridge/rag"
)

// KeywordReranker scores nodes locally by query term frequency blended with
// the retrieval score. It needs no vendor and is useful as a fallback.
type KeywordReranker struct {
	*Base
}

var _ rag.NodePostprocessor = (*KeywordReranker)(nil)

// NewKeywordReranker creates a KeywordReranker keeping topN nodes.
func NewKeywordReranker(topN int) (*KeywordReranker, error) {
	base, err := NewBase(Config{TopN: topN})
	if err != nil {
		return nil, err
	}
	return &KeywordReranker{Base: base}, nil
}

// PostprocessNodes implements rag.NodePostprocessor.
func (r *KeywordReranker) PostprocessNodes(ctx context.Context, nodes []rag.NodeWithScore, query *rag.QueryBundle) ([]rag.NodeWithScore, error) {
	return r.Rerank(ctx, nodes, query, keywordScores)
}

func keywordScores(_ context.Context, query string, batch []rag.NodeWithScore) ([]Scored, error) {
	queryTerms := strings.Fields(strings.ToLower(query))

	out := make([]Scored, len(batch))
	for i, n := range batch {
		content := strings.ToLower(n.Node.Content())

		var score float64
		for _, term := range queryTerms {
			score += float64(strings.Count(content, term))
		}
		// per thousand characters
		if len(content) > 0 {
			score = score / float64(len(content)) * 1000
		}

		out[i] = Scored{Index: i, Score: 0.7*n.GetScore() + 0.3*score}
	}
	return out, nil
}
