package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"github.com/tmc/langchaingo/embeddings"

	"github.com/smallnest/ragbridge/log"
	"github.com/smallnest/ragbridge/rag"
)

// Store persists embedding vectors by key.
type Store interface {
	// MGet returns one entry per key in order; a nil entry is a miss.
	MGet(ctx context.Context, keys []string) ([][]float32, error)
	// MSet writes every entry.
	MSet(ctx context.Context, entries map[string][]float32) error
}

// CachedEmbedder serves embeddings from a Store and only asks the wrapped
// embedder for texts it has not seen.
type CachedEmbedder struct {
	inner     rag.Embedder
	store     Store
	namespace string
	logger    log.Logger
}

var (
	_ rag.Embedder        = (*CachedEmbedder)(nil)
	_ embeddings.Embedder = (*CachedEmbedder)(nil)
)

// Option configures a CachedEmbedder.
type Option func(*CachedEmbedder)

// WithNamespace scopes keys, usually to the model name, so two models never
// share vectors.
func WithNamespace(ns string) Option {
	return func(c *CachedEmbedder) {
		c.namespace = ns
	}
}

// WithLogger sets the logger.
func WithLogger(l log.Logger) Option {
	return func(c *CachedEmbedder) {
		c.logger = l
	}
}

// New wraps inner with store.
func New(inner rag.Embedder, store Store, opts ...Option) *CachedEmbedder {
	c := &CachedEmbedder{inner: inner, store: store}
	for _, opt := range opts {
		opt(c)
	}
	if c.logger == nil {
		c.logger = log.WithPrefix(nil, "embedcache")
	}
	return c
}

// Key returns the cache key for text. kind separates query and passage
// embeddings, which some models compute differently.
func Key(namespace, kind, text string) string {
	sum := sha256.Sum256([]byte(namespace + "\x00" + kind + "\x00" + text))
	return hex.EncodeToString(sum[:])
}

// EmbedQuery implements rag.Embedder.
func (c *CachedEmbedder) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	key := Key(c.namespace, "query", text)
	hits, err := c.store.MGet(ctx, []string{key})
	if err != nil {
		return nil, fmt.Errorf("embedding cache: %w", err)
	}
	if hits[0] != nil {
		return hits[0], nil
	}

	vec, err := c.inner.EmbedQuery(ctx, text)
	if err != nil {
		return nil, err
	}
	if err := c.store.MSet(ctx, map[string][]float32{key: vec}); err != nil {
		c.logger.Warn("embedding cache write failed: %v", err)
	}
	return vec, nil
}

// EmbedDocuments implements rag.Embedder. Results keep the order of texts.
func (c *CachedEmbedder) EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return [][]float32{}, nil
	}

	keys := make([]string, len(texts))
	for i, text := range texts {
		keys[i] = Key(c.namespace, "passage", text)
	}

	out, err := c.store.MGet(ctx, keys)
	if err != nil {
		return nil, fmt.Errorf("embedding cache: %w", err)
	}

	var missIdx []int
	var missTexts []string
	for i, v := range out {
		if v == nil {
			missIdx = append(missIdx, i)
			missTexts = append(missTexts, texts[i])
		}
	}
	c.logger.Debug("embedding cache: %d hits, %d misses", len(texts)-len(missIdx), len(missIdx))
	if len(missIdx) == 0 {
		return out, nil
	}

	vecs, err := c.inner.EmbedDocuments(ctx, missTexts)
	if err != nil {
		return nil, err
	}
	if len(vecs) != len(missTexts) {
		return nil, fmt.Errorf("embedding cache: got %d vectors for %d texts", len(vecs), len(missTexts))
	}

	entries := make(map[string][]float32, len(missIdx))
	for j, i := range missIdx {
		out[i] = vecs[j]
		entries[keys[i]] = vecs[j]
	}
	if err := c.store.MSet(ctx, entries); err != nil {
		c.logger.Warn("embedding cache write failed: %v", err)
	}
	return out, nil
}
