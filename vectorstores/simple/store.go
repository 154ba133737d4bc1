// Package simple is an in-memory rag.VectorStore. It ranks by cosine
// similarity and is meant for tests and small corpora.
package simple

import (
	"context"
	"fmt"
	"math"
	"reflect"
	"slices"
	"sync"

	"github.com/smallnest/ragbridge/rag"
)

// Store keeps nodes and their embeddings in memory. It is safe for
// concurrent use.
type Store struct {
	mu       sync.RWMutex
	nodes    []*rag.Node
	embedder rag.Embedder
}

var _ rag.VectorStore = (*Store)(nil)

// New creates a Store. embedder may be nil; when set it embeds nodes added
// without an embedding and queries given only QueryStr.
func New(embedder rag.Embedder) *Store {
	return &Store{embedder: embedder}
}

// Add stores copies of nodes, replacing any node with the same id.
func (s *Store) Add(ctx context.Context, nodes []*rag.Node) ([]string, error) {
	if len(nodes) == 0 {
		return []string{}, nil
	}

	copies := make([]*rag.Node, len(nodes))
	var missing []int
	for i, n := range nodes {
		copies[i] = n.Clone()
		copies[i].Embedding = slices.Clone(n.Embedding)
		if copies[i].ID == "" {
			copies[i].ID = rag.NewNodeID()
		}
		if len(n.Embedding) == 0 {
			missing = append(missing, i)
		}
	}

	if len(missing) > 0 {
		if s.embedder == nil {
			return nil, fmt.Errorf("no embedder configured and %d nodes have no embedding", len(missing))
		}
		texts := make([]string, len(missing))
		for j, i := range missing {
			texts[j] = copies[i].Content()
		}
		vectors, err := s.embedder.EmbedDocuments(ctx, texts)
		if err != nil {
			return nil, fmt.Errorf("failed to embed nodes: %w", err)
		}
		if len(vectors) != len(missing) {
			return nil, fmt.Errorf("embedder returned %d vectors for %d nodes", len(vectors), len(missing))
		}
		for j, i := range missing {
			copies[i].Embedding = vectors[j]
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	ids := make([]string, len(copies))
	for i, c := range copies {
		ids[i] = c.ID
		if idx := s.indexOf(c.ID); idx >= 0 {
			s.nodes[idx] = c
			continue
		}
		s.nodes = append(s.nodes, c)
	}
	return ids, nil
}

// Query returns the SimilarityTopK nodes most similar to the query embedding
// among those matching Filters.
func (s *Store) Query(ctx context.Context, query rag.VectorStoreQuery) (*rag.VectorStoreQueryResult, error) {
	embedding := query.QueryEmbedding
	if len(embedding) == 0 {
		if s.embedder == nil || query.QueryStr == "" {
			return nil, fmt.Errorf("query embedding is required")
		}
		var err error
		embedding, err = s.embedder.EmbedQuery(ctx, query.QueryStr)
		if err != nil {
			return nil, fmt.Errorf("failed to embed query: %w", err)
		}
	}
	topK := query.SimilarityTopK
	if topK <= 0 {
		topK = 1
	}

	s.mu.RLock()
	scored := make([]rag.NodeWithScore, 0, len(s.nodes))
	for _, n := range s.nodes {
		ok, err := matches(n.Metadata, query.Filters)
		if err != nil {
			s.mu.RUnlock()
			return nil, err
		}
		if ok {
			scored = append(scored, rag.NewNodeWithScore(n, cosineSimilarity(embedding, n.Embedding)))
		}
	}
	s.mu.RUnlock()

	rag.SortByScore(scored)
	scored = rag.TruncateTopN(scored, topK)

	result := &rag.VectorStoreQueryResult{
		Nodes:        make([]*rag.Node, len(scored)),
		Similarities: make([]float64, len(scored)),
		IDs:          make([]string, len(scored)),
	}
	for i, sc := range scored {
		result.Nodes[i] = sc.Node.Clone()
		result.Similarities[i] = sc.GetScore()
		result.IDs[i] = sc.Node.ID
	}
	return result, nil
}

// Delete removes the node with id refDocID and every chunk whose
// rag.RefDocIDKey metadata equals it.
func (s *Store) Delete(_ context.Context, refDocID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.nodes = slices.DeleteFunc(s.nodes, func(n *rag.Node) bool {
		return n.ID == refDocID || n.Metadata[rag.RefDocIDKey] == refDocID
	})
	return nil
}

// Len returns the number of stored nodes.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.nodes)
}

func (s *Store) indexOf(id string) int {
	return slices.IndexFunc(s.nodes, func(n *rag.Node) bool { return n.ID == id })
}

func matches(metadata map[string]any, filters *rag.MetadataFilters) (bool, error) {
	if filters == nil || len(filters.Filters) == 0 {
		return true, nil
	}

	or := filters.Condition == rag.FilterConditionOr
	for _, f := range filters.Filters {
		ok, err := matchOne(metadata, f)
		if err != nil {
			return false, err
		}
		if or && ok {
			return true, nil
		}
		if !or && !ok {
			return false, nil
		}
	}
	return !or, nil
}

func matchOne(metadata map[string]any, f rag.MetadataFilter) (bool, error) {
	value, exists := metadata[f.Key]

	switch f.Operator {
	case rag.FilterOperatorEQ, "":
		return exists && equal(value, f.Value), nil
	case rag.FilterOperatorNE:
		return !exists || !equal(value, f.Value), nil
	case rag.FilterOperatorIn:
		list, ok := f.Value.([]any)
		if !ok {
			return false, fmt.Errorf("filter %s: in requires a list value, got %T", f.Key, f.Value)
		}
		return exists && slices.ContainsFunc(list, func(v any) bool { return equal(value, v) }), nil
	case rag.FilterOperatorGT, rag.FilterOperatorGTE, rag.FilterOperatorLT, rag.FilterOperatorLTE:
		a, okA := toFloat(value)
		b, okB := toFloat(f.Value)
		if !exists || !okA || !okB {
			return false, nil
		}
		switch f.Operator {
		case rag.FilterOperatorGT:
			return a > b, nil
		case rag.FilterOperatorGTE:
			return a >= b, nil
		case rag.FilterOperatorLT:
			return a < b, nil
		default:
			return a <= b, nil
		}
	}
	return false, fmt.Errorf("filter %s: unsupported operator %q", f.Key, f.Operator)
}

// equal compares numbers by value so that 1 and 1.0 match.
func equal(a, b any) bool {
	fa, okA := toFloat(a)
	fb, okB := toFloat(b)
	if okA && okB {
		return fa == fb
	}
	return reflect.DeepEqual(a, b)
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case float32:
		return float64(n), true
	case float64:
		return n, true
	}
	return 0, false
}

func cosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) {
		return 0
	}

	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}
