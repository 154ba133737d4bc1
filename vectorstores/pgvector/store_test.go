package pgvector

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"testing"

	"github.com/pashagolub/pgxmock/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/smallnest/ragbridge/rag"
)

func newMockStore(t *testing.T, opts ...Option) (*Store, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mock.Close)

	s, err := NewWithPool(mock, opts...)
	require.NoError(t, err)
	return s, mock
}

// anyArgs matches n arguments of any value.
func anyArgs(n int) []any {
	args := make([]any, n)
	for i := range args {
		args[i] = pgxmock.AnyArg()
	}
	return args
}

func makeNodes(n int) []*rag.Node {
	nodes := make([]*rag.Node, n)
	for i := range nodes {
		nodes[i] = &rag.Node{
			ID:        fmt.Sprintf("doc-%03d", i),
			Text:      fmt.Sprintf("text %d", i),
			Metadata:  map[string]any{"i": i},
			Embedding: []float32{float32(i), 1, 0},
		}
	}
	return nodes
}

func TestNewWithPool_Validation(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	tests := []struct {
		name string
		opts []Option
	}{
		{"zero batch size", []Option{WithBatchSize(0)}},
		{"negative dimension", []Option{WithDimension(-1)}},
		{"bad table name", []Option{WithTableName("nodes; DROP TABLE x")}},
		{"table name starting with digit", []Option{WithTableName("1nodes")}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewWithPool(mock, tt.opts...)
			require.Error(t, err)
			assert.True(t, rag.IsConfigError(err))
		})
	}
}

func TestStore_InitSchema(t *testing.T) {
	s, mock := newMockStore(t, WithDimension(3), WithTableName("docs"))

	mock.ExpectExec(regexp.QuoteMeta("CREATE EXTENSION IF NOT EXISTS vector")).
		WillReturnResult(pgxmock.NewResult("CREATE", 0))

	require.NoError(t, s.InitSchema(context.Background()))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStore_InitSchema_NoDimension(t *testing.T) {
	s, mock := newMockStore(t)
	err := s.InitSchema(context.Background())
	assert.True(t, rag.IsConfigError(err))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStore_Add(t *testing.T) {
	s, mock := newMockStore(t)
	nodes := makeNodes(2)

	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO ragbridge_nodes (id, text, metadata, embedding) VALUES ($1, $2, $3, $4), ($5, $6, $7, $8) ON CONFLICT (id)")).
		WithArgs("doc-000", "text 0", pgxmock.AnyArg(), pgxmock.AnyArg(), "doc-001", "text 1", pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 2))

	ids, err := s.Add(context.Background(), nodes)
	require.NoError(t, err)
	assert.Equal(t, []string{"doc-000", "doc-001"}, ids)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStore_Add_Empty(t *testing.T) {
	s, mock := newMockStore(t)
	ids, err := s.Add(context.Background(), nil)
	require.NoError(t, err)
	assert.Empty(t, ids)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStore_Add_MissingEmbedding(t *testing.T) {
	s, mock := newMockStore(t)
	_, err := s.Add(context.Background(), []*rag.Node{{ID: "a", Text: "x"}})
	assert.ErrorContains(t, err, "no embedding")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStore_Add_PartialFailure(t *testing.T) {
	s, mock := newMockStore(t)

	insert := regexp.QuoteMeta("INSERT INTO ragbridge_nodes")
	// four placeholders per row
	mock.ExpectExec(insert).WithArgs(anyArgs(400)...).WillReturnResult(pgxmock.NewResult("INSERT", 100))
	mock.ExpectExec(insert).WithArgs(anyArgs(400)...).WillReturnError(errors.New("connection reset"))
	mock.ExpectExec(insert).WithArgs(anyArgs(200)...).WillReturnResult(pgxmock.NewResult("INSERT", 50))

	ids, err := s.Add(context.Background(), makeNodes(250))
	require.NoError(t, err)
	require.Len(t, ids, 150)
	assert.Equal(t, "doc-000", ids[0])
	assert.Equal(t, "doc-099", ids[99])
	assert.Equal(t, "doc-200", ids[100])
	assert.Equal(t, "doc-249", ids[149])
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStore_Query(t *testing.T) {
	s, mock := newMockStore(t)

	rows := pgxmock.NewRows([]string{"id", "text", "metadata", "distance"}).
		AddRow("a", "alpha", []byte(`{"author":"ann","year":2021}`), 0.25).
		AddRow("b", "beta", []byte(`null`), 0.5)

	mock.ExpectQuery(regexp.QuoteMeta("SELECT id, text, metadata, embedding <=> $1 AS distance FROM ragbridge_nodes WHERE metadata->>$2 = $3 AND (metadata->>$4)::numeric > $5 ORDER BY distance LIMIT $6")).
		WithArgs(pgxmock.AnyArg(), "author", "ann", "year", 2020, 2).
		WillReturnRows(rows)

	res, err := s.Query(context.Background(), rag.VectorStoreQuery{
		QueryEmbedding: []float32{1, 0, 0},
		SimilarityTopK: 2,
		Filters: &rag.MetadataFilters{Filters: []rag.MetadataFilter{
			{Key: "author", Value: "ann", Operator: rag.FilterOperatorEQ},
			{Key: "year", Value: 2020, Operator: rag.FilterOperatorGT},
		}},
	})
	require.NoError(t, err)

	assert.Equal(t, []string{"a", "b"}, res.IDs)
	assert.Equal(t, []float64{0.75, 0.5}, res.Similarities)
	assert.Equal(t, "alpha", res.Nodes[0].Text)
	assert.Equal(t, map[string]any{"author": "ann", "year": float64(2021)}, res.Nodes[0].Metadata)
	assert.Nil(t, res.Nodes[1].Metadata)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStore_Query_OrAndIn(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectQuery(regexp.QuoteMeta("WHERE metadata->>$2 <> $3 OR metadata->>$4 = ANY($5) ORDER BY distance LIMIT $6")).
		WithArgs(pgxmock.AnyArg(), "lang", "de", "tag", []string{"go", "1"}, 1).
		WillReturnRows(pgxmock.NewRows([]string{"id", "text", "metadata", "distance"}))

	res, err := s.Query(context.Background(), rag.VectorStoreQuery{
		QueryEmbedding: []float32{1},
		Filters: &rag.MetadataFilters{
			Condition: rag.FilterConditionOr,
			Filters: []rag.MetadataFilter{
				{Key: "lang", Value: "de", Operator: rag.FilterOperatorNE},
				{Key: "tag", Value: []any{"go", 1}, Operator: rag.FilterOperatorIn},
			},
		},
	})
	require.NoError(t, err)
	assert.Empty(t, res.Nodes)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStore_Query_Errors(t *testing.T) {
	s, mock := newMockStore(t)
	ctx := context.Background()

	_, err := s.Query(ctx, rag.VectorStoreQuery{SimilarityTopK: 1})
	assert.ErrorContains(t, err, "embedding is required")

	_, err = s.Query(ctx, rag.VectorStoreQuery{
		QueryEmbedding: []float32{1},
		Filters: &rag.MetadataFilters{Filters: []rag.MetadataFilter{
			{Key: "tag", Value: "go", Operator: rag.FilterOperatorIn},
		}},
	})
	assert.ErrorContains(t, err, "requires a list")

	_, err = s.Query(ctx, rag.VectorStoreQuery{
		QueryEmbedding: []float32{1},
		Filters: &rag.MetadataFilters{Filters: []rag.MetadataFilter{
			{Key: "tag", Value: "go", Operator: "like"},
		}},
	})
	assert.ErrorContains(t, err, "unsupported operator")

	mock.ExpectQuery(regexp.QuoteMeta("SELECT id, text, metadata")).
		WithArgs(pgxmock.AnyArg(), 1).
		WillReturnError(errors.New("relation does not exist"))
	_, err = s.Query(ctx, rag.VectorStoreQuery{QueryEmbedding: []float32{1}})
	assert.ErrorContains(t, err, "relation does not exist")

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStore_Delete(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM ragbridge_nodes WHERE id = $1 OR metadata->>'ref_doc_id' = $1")).
		WithArgs("doc-001").
		WillReturnResult(pgxmock.NewResult("DELETE", 1))

	require.NoError(t, s.Delete(context.Background(), "doc-001"))
	assert.NoError(t, mock.ExpectationsWereMet())
}
