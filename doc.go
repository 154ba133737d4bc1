// ragbridge - Retrieval Integrations for Go
//
// ragbridge connects retrieval pipelines to hosted model vendors, document
// sources and storage backends. Every integration implements one of the small
// capability interfaces in package rag, so embedders, rerankers, readers and
// stores can be swapped without touching the pipeline around them.
//
// # Quick Start
//
// Install the package:
//
//	go get github.com/smallnest/ragbridge
//
// Load a repository, embed it and answer a question:
//
//	package main
//
//	import (
//		"context"
//		"fmt"
//
//		"github.com/smallnest/ragbridge/embeddings/nvidia"
//		nvrerank "github.com/smallnest/ragbridge/postprocessor/nvidia"
//		"github.com/smallnest/ragbridge/rag"
//		"github.com/smallnest/ragbridge/rag/splitter"
//		"github.com/smallnest/ragbridge/readers/github"
//		"github.com/smallnest/ragbridge/vectorstores/simple"
//	)
//
//	func main() {
//		ctx := context.Background()
//
//		client, _ := github.NewClient() // GITHUB_TOKEN
//		reader, _ := github.NewRepositoryReader(client, "owner", "repo")
//		split, _ := splitter.New()
//		nodes, _ := split.Reader(reader.BranchReader("main")).LoadData(ctx)
//
//		embedder, _ := nvidia.New() // NVIDIA_API_KEY
//		store := simple.New(embedder)
//		store.Add(ctx, nodes)
//
//		reranker, _ := nvrerank.New(nvrerank.WithTopN(3))
//		retriever := rag.NewRetrieverAdapter(store, embedder, 20, rag.WithPostprocessor(reranker))
//		docs, _ := retriever.GetRelevantDocuments(ctx, "Where is the config loaded?")
//		for _, doc := range docs {
//			fmt.Println(doc.Metadata["file_path"], doc.Score)
//		}
//	}
//
// # Key Features
//
//   - Vendor adapters resolve API keys from options or environment variables and
//     fail with a rag.ConfigError before any network call
//   - Shared HTTP transport with timeouts and retries on 429 and 5xx responses
//   - Batched embedding and reranking with vendor batch ceilings enforced
//   - Asynchronous variants returning rag.Future values
//   - langchaingo bridges: schema.Document conversion, embeddings.Embedder,
//     schema.Retriever and llms.Model
//   - Structured logging through the log package, backed by golog when wanted
//
// # Package Structure
//
// # Core Packages
//
// ### rag/
// Capability interfaces (Embedder, NodePostprocessor, Reader, VectorStore,
// GraphStore), the Node value types, errors and batching helpers.
//
// ### rag/splitter/
// Recursive text splitting of nodes into overlapping chunks.
//
// ### httpx/
// HTTP clients with retry, JSON requests and status error helpers.
//
// ### log/
// Logger interface with a standard library and a golog implementation.
//
// # Model Packages
//
//   - embeddings/nvidia: NVIDIA retrieval embeddings (hosted or NIM)
//   - embeddings/cache: embedding cache over memory, Redis or SQLite
//   - embeddings/fake: deterministic offline embeddings
//   - llms/nvidia: NVIDIA chat completions as a langchaingo llms.Model
//   - llms/openaiutil: model catalogues, message conversion and logprobs
//
// # Reranking Packages
//
//   - postprocessor: shared rerank control flow and a keyword reranker
//   - postprocessor/jinaai, postprocessor/voyageai, postprocessor/nvidia,
//     postprocessor/openvino: vendor rerankers
//
// # Reader Packages
//
//   - readers/github: repository files, issues and collaborators
//   - readers/pinecone: vectors from a Pinecone index
//   - readers/web: Spider scrape and crawl
//
// # Storage Packages
//
//   - graphstores/wordlift, graphstores/falkordb, graphstores/simple
//   - vectorstores/kdbai, vectorstores/pgvector, vectorstores/simple
//
// # Examples
//
// See the examples directory:
//
//   - github_rag: repository indexing with pgvector or in-memory storage
//   - knowledge_graph: triplets in the simple store, FalkorDB and WordLift
//   - golog_logger: routing adapter logs through golog
//
// # License
//
// This project is licensed under the MIT License - see the LICENSE file for details.
package ragbridge // import "github.com/smallnest/ragbridge"
