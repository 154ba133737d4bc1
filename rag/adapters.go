package rag

import (
	"context"
	"fmt"
	"maps"

	"github.com/tmc/langchaingo/callbacks"
	"github.com/tmc/langchaingo/embeddings"
	"github.com/tmc/langchaingo/schema"
)

// NodeFromDocument converts a langchaingo document to a Node.
// The "id" or "source" metadata entry becomes the node ID when present.
func NodeFromDocument(doc schema.Document) *Node {
	node := &Node{
		Text:     doc.PageContent,
		Metadata: copyMetadata(doc.Metadata),
	}
	switch {
	case doc.Metadata["id"] != nil:
		node.ID = fmt.Sprintf("%v", doc.Metadata["id"])
	case doc.Metadata["source"] != nil:
		node.ID = fmt.Sprintf("%v", doc.Metadata["source"])
	default:
		node.ID = NewNodeID()
	}
	return node
}

// DocumentFromNode converts a scored node to a langchaingo document.
func DocumentFromNode(n NodeWithScore) schema.Document {
	doc := schema.Document{
		PageContent: n.Node.Content(),
		Metadata:    copyMetadata(n.Node.Metadata),
		Score:       float32(n.GetScore()),
	}
	if doc.Metadata == nil {
		doc.Metadata = make(map[string]any, 1)
	}
	doc.Metadata["id"] = n.Node.ID
	return doc
}

// NodesFromDocuments converts langchaingo documents to nodes.
func NodesFromDocuments(docs []schema.Document) []*Node {
	nodes := make([]*Node, len(docs))
	for i, doc := range docs {
		nodes[i] = NodeFromDocument(doc)
	}
	return nodes
}

func copyMetadata(metadata map[string]any) map[string]any {
	if metadata == nil {
		return nil
	}
	result := make(map[string]any, len(metadata))
	maps.Copy(result, metadata)
	return result
}

// LangChainEmbedder adapts langchaingo's embeddings.Embedder to our Embedder interface
type LangChainEmbedder struct {
	embedder embeddings.Embedder
}

var _ Embedder = (*LangChainEmbedder)(nil)

// NewLangChainEmbedder creates a new adapter for langchaingo embedders
func NewLangChainEmbedder(embedder embeddings.Embedder) *LangChainEmbedder {
	return &LangChainEmbedder{embedder: embedder}
}

// EmbedQuery embeds a query using the underlying langchaingo embedder
func (l *LangChainEmbedder) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	return l.embedder.EmbedQuery(ctx, text)
}

// EmbedDocuments embeds multiple documents using the underlying langchaingo embedder
func (l *LangChainEmbedder) EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error) {
	return l.embedder.EmbedDocuments(ctx, texts)
}

// EmbedderAdapter exposes an Embedder as langchaingo's embeddings.Embedder,
// so ragbridge embedders plug into langchaingo vector stores.
type EmbedderAdapter struct {
	embedder Embedder
}

var _ embeddings.Embedder = (*EmbedderAdapter)(nil)

// NewEmbedderAdapter wraps e.
func NewEmbedderAdapter(e Embedder) *EmbedderAdapter {
	return &EmbedderAdapter{embedder: e}
}

func (a *EmbedderAdapter) EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error) {
	return a.embedder.EmbedDocuments(ctx, texts)
}

func (a *EmbedderAdapter) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	return a.embedder.EmbedQuery(ctx, text)
}

// RetrieverAdapter exposes a VectorStore as a langchaingo schema.Retriever.
// Queries are embedded with the embedder, then optionally reranked.
type RetrieverAdapter struct {
	store         VectorStore
	embedder      Embedder
	topK          int
	postprocessor NodePostprocessor
	handler       callbacks.Handler
}

var _ schema.Retriever = (*RetrieverAdapter)(nil)

// RetrieverOption configures a RetrieverAdapter.
type RetrieverOption func(*RetrieverAdapter)

// WithPostprocessor reranks retrieved nodes before they are returned.
func WithPostprocessor(p NodePostprocessor) RetrieverOption {
	return func(r *RetrieverAdapter) {
		r.postprocessor = p
	}
}

// WithRetrieverCallbacks reports retrieval start and end to handler.
func WithRetrieverCallbacks(handler callbacks.Handler) RetrieverOption {
	return func(r *RetrieverAdapter) {
		r.handler = handler
	}
}

// NewRetrieverAdapter creates a retriever returning topK documents.
func NewRetrieverAdapter(store VectorStore, embedder Embedder, topK int, opts ...RetrieverOption) *RetrieverAdapter {
	if topK <= 0 {
		topK = 4
	}
	r := &RetrieverAdapter{
		store:    store,
		embedder: embedder,
		topK:     topK,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// GetRelevantDocuments implements schema.Retriever.
func (r *RetrieverAdapter) GetRelevantDocuments(ctx context.Context, query string) ([]schema.Document, error) {
	if r.handler != nil {
		r.handler.HandleRetrieverStart(ctx, query)
	}

	emb, err := r.embedder.EmbedQuery(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}

	res, err := r.store.Query(ctx, VectorStoreQuery{
		QueryEmbedding: emb,
		QueryStr:       query,
		SimilarityTopK: r.topK,
	})
	if err != nil {
		return nil, fmt.Errorf("query vector store: %w", err)
	}

	nodes := make([]NodeWithScore, len(res.Nodes))
	for i, n := range res.Nodes {
		nodes[i] = NodeWithScore{Node: n}
		if i < len(res.Similarities) {
			nodes[i].Score = Float64(res.Similarities[i])
		}
	}

	if r.postprocessor != nil {
		nodes, err = r.postprocessor.PostprocessNodes(ctx, nodes, &QueryBundle{QueryStr: query, Embedding: emb})
		if err != nil {
			return nil, fmt.Errorf("postprocess: %w", err)
		}
	}

	docs := make([]schema.Document, len(nodes))
	for i, n := range nodes {
		docs[i] = DocumentFromNode(n)
	}

	if r.handler != nil {
		r.handler.HandleRetrieverEnd(ctx, query, docs)
	}
	return docs, nil
}
