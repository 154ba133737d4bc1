package kdbai

import (
	"context"
	"fmt"
	"slices"

	"github.com/smallnest/ragbridge/log"
	"github.com/smallnest/ragbridge/rag"
)

const (
	// DefaultBatchSize is the number of rows per insert call.
	DefaultBatchSize = 100
	// DefaultAlpha weights dense against sparse scores in hybrid search.
	DefaultAlpha = 0.5

	sparseColumn   = "sparseVectors"
	distanceColumn = "__nn_distance"
)

var reservedColumns = []string{"document_id", "text", "embedding"}

type options struct {
	hybridSearch  bool
	sparseEncoder SparseEncoder
	batchSize     int
	logger        log.Logger
}

// Option configures a Store.
type Option func(*options)

// WithHybridSearch enables dense plus sparse search.
func WithHybridSearch(enabled bool) Option {
	return func(o *options) {
		o.hybridSearch = enabled
	}
}

// WithSparseEncoder sets the encoder used in hybrid mode.
// Defaults to HashingSparseEncoder.
func WithSparseEncoder(fn SparseEncoder) Option {
	return func(o *options) {
		o.sparseEncoder = fn
	}
}

// WithBatchSize sets the number of rows per insert call.
func WithBatchSize(n int) Option {
	return func(o *options) {
		o.batchSize = n
	}
}

// WithLogger sets the logger.
func WithLogger(l log.Logger) Option {
	return func(o *options) {
		o.logger = l
	}
}

// Store is a rag.VectorStore over an existing KDB.AI table whose first
// columns are document_id, text and embedding. Further columns are filled
// from node metadata.
type Store struct {
	table         Table
	hybridSearch  bool
	sparseEncoder SparseEncoder
	batchSize     int
	logger        log.Logger
}

var _ rag.VectorStore = (*Store)(nil)

// New wraps table.
func New(table Table, opts ...Option) (*Store, error) {
	if table == nil {
		return nil, rag.NewConfigError("table", nil, "must provide an existing KDB.AI table")
	}

	o := &options{batchSize: DefaultBatchSize}
	for _, opt := range opts {
		opt(o)
	}
	if err := rag.ValidateBatchSize("batch_size", o.batchSize, 0); err != nil {
		return nil, err
	}

	s := &Store{
		table:        table,
		hybridSearch: o.hybridSearch,
		batchSize:    o.batchSize,
		logger:       o.logger,
	}
	if s.hybridSearch {
		s.sparseEncoder = o.sparseEncoder
		if s.sparseEncoder == nil {
			s.sparseEncoder = HashingSparseEncoder
		}
	}
	if s.logger == nil {
		s.logger = log.WithPrefix(nil, "kdbai")
	}
	return s, nil
}

// BatchSize returns the number of rows per insert call.
func (s *Store) BatchSize() int { return s.batchSize }

// Add inserts nodes in batches and returns the ids of the batches that were
// stored, in input order. A failed batch is logged and skipped, so callers
// find failures by comparing the result with their input.
func (s *Store) Add(ctx context.Context, nodes []*rag.Node) ([]string, error) {
	if len(nodes) == 0 {
		return []string{}, nil
	}

	schema, err := s.table.Schema(ctx)
	if err != nil {
		return nil, err
	}
	extra := make([]Column, 0, len(schema))
	for _, col := range schema {
		if slices.Contains(reservedColumns, col.Name) || (s.hybridSearch && col.Name == sparseColumn) {
			continue
		}
		extra = append(extra, col)
	}

	rows := make([]map[string]any, len(nodes))
	for i, node := range nodes {
		if len(node.Embedding) == 0 {
			return nil, fmt.Errorf("kdbai: node %s has no embedding", node.ID)
		}
		row := map[string]any{
			"document_id": node.ID,
			"text":        node.Text,
			"embedding":   node.Embedding,
		}
		if s.hybridSearch {
			row[sparseColumn] = s.sparseEncoder([]string{node.Content()})[0]
		}
		for _, col := range extra {
			value, ok := node.Metadata[col.Name]
			if !ok {
				s.logger.Error("node %s: no metadata for column %s", node.ID, col.Name)
				continue
			}
			converted, err := convertColumn(col, value)
			if err != nil {
				s.logger.Error("node %s: failed to convert column %s to %s: %v", node.ID, col.Name, col.PyType, err)
				continue
			}
			row[col.Name] = converted
		}
		rows[i] = row
	}

	ids := make([]string, 0, len(nodes))
	for i, batch := range rag.Batches(rows, s.batchSize) {
		if err := s.table.Insert(ctx, batch); err != nil {
			s.logger.Error("failed to insert batch %d: %v", i, err)
			continue
		}
		s.logger.Info("inserted batch %d (%d rows)", i, len(batch))
		for _, row := range batch {
			ids = append(ids, row["document_id"].(string))
		}
	}
	return ids, nil
}

// Query returns the nearest rows. In hybrid mode the query string is
// encoded with the sparse encoder and blended using Alpha.
func (s *Store) Query(ctx context.Context, query rag.VectorStoreQuery) (*rag.VectorStoreQueryResult, error) {
	filter, err := toFilters(query.Filters)
	if err != nil {
		return nil, err
	}
	n := query.SimilarityTopK
	if n <= 0 {
		n = 1
	}

	var results [][]map[string]any
	if s.hybridSearch {
		alpha := DefaultAlpha
		if query.Alpha != nil {
			alpha = *query.Alpha
		}
		sparse := s.sparseEncoder([]string{query.QueryStr})
		results, err = s.table.HybridSearch(ctx, [][]float32{query.QueryEmbedding}, sparse, n, filter, alpha)
	} else {
		results, err = s.table.Search(ctx, [][]float32{query.QueryEmbedding}, n, filter)
	}
	if err != nil {
		return nil, err
	}

	out := &rag.VectorStoreQueryResult{}
	if len(results) == 0 {
		return out, nil
	}
	for _, row := range results[0] {
		id := fmt.Sprint(row["document_id"])
		text, _ := row["text"].(string)
		metadata := make(map[string]any)
		for k, v := range row {
			if !slices.Contains(reservedColumns, k) && k != distanceColumn && k != sparseColumn {
				metadata[k] = v
			}
		}
		score, _ := row[distanceColumn].(float64)

		out.Nodes = append(out.Nodes, &rag.Node{ID: id, Text: text, Metadata: metadata})
		out.IDs = append(out.IDs, id)
		out.Similarities = append(out.Similarities, score)
	}
	return out, nil
}

// Delete is not supported by the table API.
func (s *Store) Delete(context.Context, string) error {
	return rag.ErrNotImplemented
}

var filterOps = map[rag.FilterOperator]string{
	rag.FilterOperatorEQ:  "=",
	rag.FilterOperatorNE:  "<>",
	rag.FilterOperatorGT:  ">",
	rag.FilterOperatorGTE: ">=",
	rag.FilterOperatorLT:  "<",
	rag.FilterOperatorLTE: "<=",
	rag.FilterOperatorIn:  "in",
}

// toFilters maps metadata filters onto KDB.AI clauses. Clauses are always
// combined with and.
func toFilters(filters *rag.MetadataFilters) ([]Filter, error) {
	out := []Filter{}
	if filters == nil {
		return out, nil
	}
	if filters.Condition == rag.FilterConditionOr && len(filters.Filters) > 1 {
		return nil, fmt.Errorf("kdbai: or filters are not supported")
	}
	for _, f := range filters.Filters {
		op := f.Operator
		if op == "" {
			op = rag.FilterOperatorEQ
		}
		kop, ok := filterOps[op]
		if !ok {
			return nil, fmt.Errorf("kdbai: unsupported filter operator %q", f.Operator)
		}
		out = append(out, Filter{kop, f.Key, f.Value})
	}
	return out, nil
}
