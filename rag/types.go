package rag

import (
	"maps"

	"github.com/google/uuid"
)

// RefDocIDKey is the metadata key linking a chunk node to the node it was
// split from. Vector stores delete by it.
const RefDocIDKey = "ref_doc_id"

// Node is a unit of retrievable content.
type Node struct {
	ID        string         `json:"id"`
	Text      string         `json:"text"`
	Metadata  map[string]any `json:"metadata,omitempty"`
	Embedding []float32      `json:"embedding,omitempty"`
}

// NewNode creates a node with a fresh ID.
func NewNode(text string, metadata map[string]any) *Node {
	return &Node{
		ID:       NewNodeID(),
		Text:     text,
		Metadata: metadata,
	}
}

// NewNodeID returns a random node identifier.
func NewNodeID() string {
	return uuid.NewString()
}

// Content returns the text used for embedding and reranking.
func (n *Node) Content() string {
	if n == nil {
		return ""
	}
	return n.Text
}

// Clone returns a copy of n with its own metadata map.
// The embedding slice is shared.
func (n *Node) Clone() *Node {
	if n == nil {
		return nil
	}
	c := *n
	if n.Metadata != nil {
		c.Metadata = make(map[string]any, len(n.Metadata))
		maps.Copy(c.Metadata, n.Metadata)
	}
	return &c
}

// NodeWithScore pairs a node with an optional relevance score.
type NodeWithScore struct {
	Node  *Node    `json:"node"`
	Score *float64 `json:"score,omitempty"`
}

// NewNodeWithScore creates a scored node.
func NewNodeWithScore(node *Node, score float64) NodeWithScore {
	return NodeWithScore{Node: node, Score: &score}
}

// GetScore returns the score, or 0 when it is absent.
func (n NodeWithScore) GetScore() float64 {
	if n.Score == nil {
		return 0
	}
	return *n.Score
}

// QueryBundle carries the query for postprocessors and retrievers.
type QueryBundle struct {
	QueryStr  string
	Embedding []float32
}

// NewQueryBundle creates a query bundle for a query string.
func NewQueryBundle(query string) *QueryBundle {
	return &QueryBundle{QueryStr: query}
}

// Triplet is a subject-predicate-object fact.
type Triplet struct {
	Subject   string `json:"subject"`
	Predicate string `json:"predicate"`
	Object    string `json:"object"`
}

// QueryMode selects how a vector store answers a query.
type QueryMode string

const (
	// QueryModeDefault is dense vector similarity.
	QueryModeDefault QueryMode = "default"
	// QueryModeHybrid blends dense and sparse scores.
	QueryModeHybrid QueryMode = "hybrid"
)

// FilterOperator compares a metadata value.
type FilterOperator string

const (
	FilterOperatorEQ  FilterOperator = "=="
	FilterOperatorNE  FilterOperator = "!="
	FilterOperatorGT  FilterOperator = ">"
	FilterOperatorGTE FilterOperator = ">="
	FilterOperatorLT  FilterOperator = "<"
	FilterOperatorLTE FilterOperator = "<="
	FilterOperatorIn  FilterOperator = "in"
)

// FilterCondition joins filters.
type FilterCondition string

const (
	FilterConditionAnd FilterCondition = "and"
	FilterConditionOr  FilterCondition = "or"
)

// MetadataFilter is a single metadata predicate.
type MetadataFilter struct {
	Key      string         `json:"key"`
	Value    any            `json:"value"`
	Operator FilterOperator `json:"operator"`
}

// MetadataFilters is a list of predicates joined by Condition.
// An empty Condition means and.
type MetadataFilters struct {
	Filters   []MetadataFilter `json:"filters"`
	Condition FilterCondition  `json:"condition,omitempty"`
}

// VectorStoreQuery describes a vector store lookup.
type VectorStoreQuery struct {
	QueryEmbedding []float32
	QueryStr       string
	SimilarityTopK int
	Filters        *MetadataFilters

	// Alpha weights dense against sparse scores in hybrid mode.
	// Nil means the store default.
	Alpha *float64
	Mode  QueryMode
}

// VectorStoreQueryResult holds matched nodes with their scores.
// The three slices are parallel.
type VectorStoreQueryResult struct {
	Nodes        []*Node
	Similarities []float64
	IDs          []string
}

// Float64 returns a pointer to v.
func Float64(v float64) *float64 {
	return &v
}
