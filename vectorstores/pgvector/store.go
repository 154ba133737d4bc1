// Package pgvector is a rag.VectorStore on PostgreSQL with the pgvector
// extension. Rows hold the node id, text, JSONB metadata and the embedding,
// and queries rank by cosine distance.
package pgvector

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	pgvec "github.com/pgvector/pgvector-go"
	pgxvec "github.com/pgvector/pgvector-go/pgx"

	"github.com/smallnest/ragbridge/log"
	"github.com/smallnest/ragbridge/rag"
)

const (
	// DefaultTableName is the table used when none is set.
	DefaultTableName = "ragbridge_nodes"
	// DefaultBatchSize is the number of rows per insert statement.
	DefaultBatchSize = 100
)

// DBPool is the subset of pgxpool.Pool the store uses.
type DBPool interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Close()
}

type options struct {
	tableName string
	dimension int
	batchSize int
	logger    log.Logger
}

// Option configures a Store.
type Option func(*options)

// WithTableName sets the table name.
func WithTableName(name string) Option {
	return func(o *options) {
		o.tableName = name
	}
}

// WithDimension sets the embedding dimension used by InitSchema.
func WithDimension(dim int) Option {
	return func(o *options) {
		o.dimension = dim
	}
}

// WithBatchSize sets the number of rows per insert statement.
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

// Store is a rag.VectorStore backed by a pgvector table.
type Store struct {
	pool      DBPool
	tableName string
	dimension int
	batchSize int
	logger    log.Logger
}

var _ rag.VectorStore = (*Store)(nil)

// New connects to connString, registering the pgvector types on every
// connection.
func New(ctx context.Context, connString string, opts ...Option) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, rag.NewConfigError("conn_string", err, "invalid connection string")
	}
	cfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		return pgxvec.RegisterTypes(ctx, conn)
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("unable to create connection pool: %w", err)
	}

	s, err := NewWithPool(pool, opts...)
	if err != nil {
		pool.Close()
		return nil, err
	}
	return s, nil
}

// NewWithPool creates a Store on an existing pool.
func NewWithPool(pool DBPool, opts ...Option) (*Store, error) {
	o := options{
		tableName: DefaultTableName,
		batchSize: DefaultBatchSize,
	}
	for _, opt := range opts {
		opt(&o)
	}

	if err := rag.ValidateBatchSize("batch_size", o.batchSize, 0); err != nil {
		return nil, err
	}
	if !validIdent(o.tableName) {
		return nil, rag.NewConfigError("table_name", nil, "invalid table name %q", o.tableName)
	}
	if o.dimension < 0 {
		return nil, rag.NewConfigError("dimension", nil, "must not be negative, got %d", o.dimension)
	}

	s := &Store{
		pool:      pool,
		tableName: o.tableName,
		dimension: o.dimension,
		batchSize: o.batchSize,
		logger:    o.logger,
	}
	if s.logger == nil {
		s.logger = log.WithPrefix(nil, "pgvector")
	}
	return s, nil
}

// InitSchema creates the extension, table and HNSW index when missing.
// It requires WithDimension.
func (s *Store) InitSchema(ctx context.Context) error {
	if s.dimension == 0 {
		return rag.NewConfigError("dimension", nil, "must be set before InitSchema")
	}

	query := fmt.Sprintf(`
		CREATE EXTENSION IF NOT EXISTS vector;
		CREATE TABLE IF NOT EXISTS %s (
			id TEXT PRIMARY KEY,
			text TEXT NOT NULL DEFAULT '',
			metadata JSONB,
			embedding vector(%d)
		);
		CREATE INDEX IF NOT EXISTS idx_%s_embedding ON %s USING hnsw (embedding vector_cosine_ops);
	`, s.tableName, s.dimension, s.tableName, s.tableName)

	if _, err := s.pool.Exec(ctx, query); err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}
	return nil
}

// Close closes the connection pool.
func (s *Store) Close() {
	s.pool.Close()
}

// Add upserts nodes in batches. A failed batch is logged and skipped; the
// returned ids cover the batches that were written.
func (s *Store) Add(ctx context.Context, nodes []*rag.Node) ([]string, error) {
	if len(nodes) == 0 {
		return []string{}, nil
	}
	for _, n := range nodes {
		if len(n.Embedding) == 0 {
			return nil, fmt.Errorf("node %s has no embedding", n.ID)
		}
	}

	ids := make([]string, 0, len(nodes))
	for i, batch := range rag.Batches(nodes, s.batchSize) {
		query, args, err := s.insertStatement(batch)
		if err != nil {
			return nil, err
		}
		if _, err := s.pool.Exec(ctx, query, args...); err != nil {
			s.logger.Error("failed to insert batch %d: %v", i, err)
			continue
		}
		s.logger.Info("inserted batch %d (%d rows)", i, len(batch))
		for _, n := range batch {
			ids = append(ids, n.ID)
		}
	}
	return ids, nil
}

func (s *Store) insertStatement(batch []*rag.Node) (string, []any, error) {
	var sb strings.Builder
	fmt.Fprintf(&sb, "INSERT INTO %s (id, text, metadata, embedding) VALUES ", s.tableName)

	args := make([]any, 0, len(batch)*4)
	for i, n := range batch {
		metadata, err := json.Marshal(n.Metadata)
		if err != nil {
			return "", nil, fmt.Errorf("failed to marshal metadata of node %s: %w", n.ID, err)
		}
		if i > 0 {
			sb.WriteString(", ")
		}
		p := len(args)
		fmt.Fprintf(&sb, "($%d, $%d, $%d, $%d)", p+1, p+2, p+3, p+4)
		args = append(args, n.ID, n.Text, metadata, pgvec.NewVector(n.Embedding))
	}
	sb.WriteString(` ON CONFLICT (id) DO UPDATE SET
		text = EXCLUDED.text,
		metadata = EXCLUDED.metadata,
		embedding = EXCLUDED.embedding`)
	return sb.String(), args, nil
}

// Query returns the SimilarityTopK rows closest to QueryEmbedding by cosine
// distance. Similarity is 1 - distance.
func (s *Store) Query(ctx context.Context, query rag.VectorStoreQuery) (*rag.VectorStoreQueryResult, error) {
	if len(query.QueryEmbedding) == 0 {
		return nil, fmt.Errorf("query embedding is required")
	}
	topK := query.SimilarityTopK
	if topK <= 0 {
		topK = 1
	}

	args := []any{pgvec.NewVector(query.QueryEmbedding)}
	next := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	where, err := whereClause(query.Filters, next)
	if err != nil {
		return nil, err
	}
	limit := next(topK)

	q := fmt.Sprintf(`SELECT id, text, metadata, embedding <=> $1 AS distance FROM %s%s ORDER BY distance LIMIT %s`,
		s.tableName, where, limit)

	rows, err := s.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query %s: %w", s.tableName, err)
	}
	defer rows.Close()

	result := &rag.VectorStoreQueryResult{
		Nodes:        []*rag.Node{},
		Similarities: []float64{},
		IDs:          []string{},
	}
	for rows.Next() {
		var (
			id, text string
			metadata []byte
			distance float64
		)
		if err := rows.Scan(&id, &text, &metadata, &distance); err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}

		node := &rag.Node{ID: id, Text: text}
		if len(metadata) > 0 && string(metadata) != "null" {
			if err := json.Unmarshal(metadata, &node.Metadata); err != nil {
				return nil, fmt.Errorf("failed to unmarshal metadata of %s: %w", id, err)
			}
		}

		result.Nodes = append(result.Nodes, node)
		result.Similarities = append(result.Similarities, 1-distance)
		result.IDs = append(result.IDs, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read rows: %w", err)
	}
	return result, nil
}

// Delete removes the row with id refDocID and every chunk row whose
// rag.RefDocIDKey metadata equals it.
func (s *Store) Delete(ctx context.Context, refDocID string) error {
	query := fmt.Sprintf("DELETE FROM %s WHERE id = $1 OR metadata->>'%s' = $1", s.tableName, rag.RefDocIDKey)
	if _, err := s.pool.Exec(ctx, query, refDocID); err != nil {
		return fmt.Errorf("failed to delete %s: %w", refDocID, err)
	}
	return nil
}

var comparisons = map[rag.FilterOperator]string{
	rag.FilterOperatorGT:  ">",
	rag.FilterOperatorGTE: ">=",
	rag.FilterOperatorLT:  "<",
	rag.FilterOperatorLTE: "<=",
}

// whereClause renders filters against the metadata column. Keys and values
// are bound as parameters. Ordering operators compare numerically.
func whereClause(filters *rag.MetadataFilters, next func(any) string) (string, error) {
	if filters == nil || len(filters.Filters) == 0 {
		return "", nil
	}

	conds := make([]string, 0, len(filters.Filters))
	for _, f := range filters.Filters {
		key := next(f.Key)
		switch f.Operator {
		case rag.FilterOperatorEQ, "":
			conds = append(conds, fmt.Sprintf("metadata->>%s = %s", key, next(fmt.Sprint(f.Value))))
		case rag.FilterOperatorNE:
			conds = append(conds, fmt.Sprintf("metadata->>%s <> %s", key, next(fmt.Sprint(f.Value))))
		case rag.FilterOperatorIn:
			values, ok := f.Value.([]any)
			if !ok {
				return "", fmt.Errorf("filter %s: in requires a list value, got %T", f.Key, f.Value)
			}
			strs := make([]string, len(values))
			for i, v := range values {
				strs[i] = fmt.Sprint(v)
			}
			conds = append(conds, fmt.Sprintf("metadata->>%s = ANY(%s)", key, next(strs)))
		default:
			op, ok := comparisons[f.Operator]
			if !ok {
				return "", fmt.Errorf("filter %s: unsupported operator %q", f.Key, f.Operator)
			}
			conds = append(conds, fmt.Sprintf("(metadata->>%s)::numeric %s %s", key, op, next(f.Value)))
		}
	}

	joiner := " AND "
	if filters.Condition == rag.FilterConditionOr {
		joiner = " OR "
	}
	return " WHERE " + strings.Join(conds, joiner), nil
}

func validIdent(name string) bool {
	if name == "" {
		return false
	}
	for i, r := range name {
		switch {
		case r == '_', r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z':
		case r >= '0' && r <= '9' && i > 0:
		default:
			return false
		}
	}
	return true
}
