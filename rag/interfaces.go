package rag

import (
	"context"
)

// Embedder produces embeddings for text.
type Embedder interface {
	// EmbedQuery embeds a search query.
	EmbedQuery(ctx context.Context, text string) ([]float32, error)
	// EmbedDocuments embeds passages, one vector per input in input order.
	EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error)
}

// NodePostprocessor rewrites a scored node sequence for a query.
type NodePostprocessor interface {
	PostprocessNodes(ctx context.Context, nodes []NodeWithScore, query *QueryBundle) ([]NodeWithScore, error)
}

// Reader loads external documents as nodes.
type Reader interface {
	LoadData(ctx context.Context) ([]*Node, error)
}

// ReaderFunc adapts a function to the Reader interface.
type ReaderFunc func(ctx context.Context) ([]*Node, error)

// LoadData calls f(ctx).
func (f ReaderFunc) LoadData(ctx context.Context) ([]*Node, error) {
	return f(ctx)
}

// VectorStore stores embedded nodes and answers similarity queries.
type VectorStore interface {
	// Add stores nodes and returns the ids that were stored.
	Add(ctx context.Context, nodes []*Node) ([]string, error)
	// Query returns the nodes closest to the query.
	Query(ctx context.Context, query VectorStoreQuery) (*VectorStoreQueryResult, error)
	// Delete removes the nodes with the given id.
	Delete(ctx context.Context, refDocID string) error
}

// GraphStore stores and queries subject-predicate-object triples.
// Get returns [predicate, object] pairs. GetRelMap returns flattened
// relation paths keyed by subject.
type GraphStore interface {
	Get(ctx context.Context, subj string) ([][]string, error)
	GetRelMap(ctx context.Context, subjs []string, depth, limit int) (map[string][][]string, error)
	UpsertTriplet(ctx context.Context, subj, rel, obj string) error
	Delete(ctx context.Context, subj, rel, obj string) error
	GetSchema(ctx context.Context, refresh bool) (string, error)
	Query(ctx context.Context, query string, params map[string]any) (any, error)
}
