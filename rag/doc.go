// Package rag defines the capability interfaces every ragbridge adapter implements,
// together with the value types that flow between them.
//
// # Capabilities
//
//   - Embedder: produces embeddings for queries and passages
//   - NodePostprocessor: reranks a scored node sequence for a query
//   - Reader: loads external documents as nodes
//   - VectorStore: stores embedded nodes and answers similarity queries
//   - GraphStore: stores and queries subject-predicate-object triples
//
// Vendor packages live next to this one:
//
//	embeddings/nvidia       NVIDIA retrieval embeddings
//	llms/nvidia             NVIDIA chat completions (langchaingo llms.Model)
//	postprocessor/jinaai    Jina rerank
//	postprocessor/voyageai  Voyage rerank
//	postprocessor/nvidia    NVIDIA rerank with request batching
//	postprocessor/openvino  OpenVINO Model Server rerank
//	readers/github          repositories, issues and collaborators
//	readers/pinecone        Pinecone index queries
//	readers/web             Spider crawl and scrape
//	graphstores/wordlift    WordLift knowledge graph
//	graphstores/falkordb    FalkorDB over Redis
//	graphstores/simple      in-memory triplets with JSON persistence
//	vectorstores/kdbai      KDB.AI tables
//	vectorstores/pgvector   PostgreSQL with pgvector
//	vectorstores/simple     in-memory cosine similarity
//
// # Configuration
//
// Adapters resolve API keys with ResolveAPIKey: an explicit WithAPIKey option wins,
// then the vendor environment variable. When neither is set the constructor returns
// a ConfigError wrapping ErrNotSetAuth before any network activity.
//
//	reranker, err := jinaai.New(jinaai.WithTopN(3))
//	if errors.Is(err, rag.ErrNotSetAuth) {
//		// export JINAAI_API_KEY
//	}
//
// # langchaingo
//
// NodeFromDocument and DocumentFromNode convert to and from schema.Document.
// EmbedderAdapter exposes any Embedder to langchaingo vector stores, and
// RetrieverAdapter turns a VectorStore plus Embedder into a schema.Retriever,
// optionally reranked by a NodePostprocessor:
//
//	retriever := rag.NewRetrieverAdapter(store, embedder, 10,
//		rag.WithPostprocessor(reranker),
//	)
//	docs, err := retriever.GetRelevantDocuments(ctx, "who maintains the graph store?")
//
// # Async
//
// Adapters with asynchronous variants return a *Future. The call runs on its own
// goroutine through the adapter's second client:
//
//	f := embedder.EmbedQueryAsync(ctx, "hello")
//	vec, err := f.Await(ctx)
package rag // import "github.com/smallnest/ragbridge/rag"
