package kdbai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/smallnest/ragbridge/rag"
)

// fakeTable keeps rows in memory and can fail chosen insert calls.
type fakeTable struct {
	columns     []Column
	inserts     [][]map[string]any
	failInserts map[int]bool
	schemaCalls int

	lastFilter []Filter
	lastN      int
	lastAlpha  float64
	lastSparse []SparseVector
	hybrid     bool
	results    [][]map[string]any
}

func (f *fakeTable) Schema(context.Context) ([]Column, error) {
	f.schemaCalls++
	return f.columns, nil
}

func (f *fakeTable) Insert(_ context.Context, rows []map[string]any) error {
	call := len(f.inserts)
	f.inserts = append(f.inserts, rows)
	if f.failInserts[call] {
		return errors.New("insert rejected")
	}
	return nil
}

func (f *fakeTable) Search(_ context.Context, _ [][]float32, n int, filter []Filter) ([][]map[string]any, error) {
	f.lastN, f.lastFilter = n, filter
	return f.results, nil
}

func (f *fakeTable) HybridSearch(_ context.Context, _ [][]float32, sparse []SparseVector, n int, filter []Filter, alpha float64) ([][]map[string]any, error) {
	f.hybrid = true
	f.lastN, f.lastFilter, f.lastAlpha, f.lastSparse = n, filter, alpha, sparse
	return f.results, nil
}

var baseColumns = []Column{
	{Name: "document_id", PyType: "bytes"},
	{Name: "text", PyType: "bytes"},
	{Name: "embedding", PyType: "float32s"},
}

func makeNodes(n int) []*rag.Node {
	nodes := make([]*rag.Node, n)
	for i := range nodes {
		nodes[i] = &rag.Node{
			ID:        fmt.Sprintf("doc-%03d", i),
			Text:      fmt.Sprintf("text %d", i),
			Embedding: []float32{float32(i), 1},
			Metadata:  map[string]any{"page": i},
		}
	}
	return nodes
}

func TestNew(t *testing.T) {
	_, err := New(nil)
	assert.True(t, rag.IsConfigError(err))

	_, err = New(&fakeTable{}, WithBatchSize(0))
	assert.ErrorIs(t, err, rag.ErrInvalidBatchSize)

	s, err := New(&fakeTable{})
	require.NoError(t, err)
	assert.Equal(t, DefaultBatchSize, s.BatchSize())
	assert.Nil(t, s.sparseEncoder)

	s, err = New(&fakeTable{}, WithHybridSearch(true))
	require.NoError(t, err)
	assert.NotNil(t, s.sparseEncoder)
}

func TestStore_AddEmpty(t *testing.T) {
	table := &fakeTable{columns: baseColumns}
	s, err := New(table)
	require.NoError(t, err)

	ids, err := s.Add(context.Background(), nil)
	require.NoError(t, err)
	assert.Empty(t, ids)
	assert.Zero(t, table.schemaCalls)
	assert.Empty(t, table.inserts)
}

func TestStore_AddPartialFailure(t *testing.T) {
	table := &fakeTable{columns: baseColumns, failInserts: map[int]bool{1: true}}
	s, err := New(table)
	require.NoError(t, err)

	nodes := makeNodes(250)
	ids, err := s.Add(context.Background(), nodes)
	require.NoError(t, err)

	require.Len(t, table.inserts, 3)
	assert.Len(t, table.inserts[0], 100)
	assert.Len(t, table.inserts[1], 100)
	assert.Len(t, table.inserts[2], 50)

	require.Len(t, ids, 150)
	assert.Equal(t, "doc-000", ids[0])
	assert.Equal(t, "doc-099", ids[99])
	assert.Equal(t, "doc-200", ids[100])
	assert.Equal(t, "doc-249", ids[149])
}

func TestStore_AddColumns(t *testing.T) {
	columns := append(baseColumns[:3:3],
		Column{Name: "page", PyType: "int32"},
		Column{Name: "title", PyType: "str"},
		Column{Name: "published", PyType: "datetime64[ns]"},
		Column{Name: "sparseVectors", PyType: "dict"},
	)
	table := &fakeTable{columns: columns}
	s, err := New(table, WithHybridSearch(true), WithSparseEncoder(func(texts []string) []SparseVector {
		out := make([]SparseVector, len(texts))
		for i := range texts {
			out[i] = SparseVector{7: 1}
		}
		return out
	}))
	require.NoError(t, err)

	nodes := []*rag.Node{{
		ID:        "a",
		Text:      "alpha",
		Embedding: []float32{1, 0},
		Metadata:  map[string]any{"page": "12", "title": 3, "published": "2024-05-01"},
	}, {
		ID:        "b",
		Text:      "beta",
		Embedding: []float32{0, 1},
		Metadata:  map[string]any{"page": "twelve"},
	}}
	ids, err := s.Add(context.Background(), nodes)
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, ids)

	row := table.inserts[0][0]
	assert.Equal(t, "a", row["document_id"])
	assert.Equal(t, "alpha", row["text"])
	assert.Equal(t, int64(12), row["page"])
	assert.Equal(t, "3", row["title"])
	assert.Equal(t, "2024-05-01T00:00:00Z", row["published"])
	assert.Equal(t, SparseVector{7: 1}, row["sparseVectors"])

	// unconvertible and missing values are omitted
	row = table.inserts[0][1]
	assert.NotContains(t, row, "page")
	assert.NotContains(t, row, "title")
	assert.Contains(t, row, "sparseVectors")
}

func TestStore_AddRequiresEmbedding(t *testing.T) {
	table := &fakeTable{columns: baseColumns}
	s, err := New(table)
	require.NoError(t, err)

	_, err = s.Add(context.Background(), []*rag.Node{{ID: "a", Text: "no vector"}})
	assert.ErrorContains(t, err, "no embedding")
	assert.Empty(t, table.inserts)
}

func TestStore_Query(t *testing.T) {
	table := &fakeTable{results: [][]map[string]any{{
		{"document_id": "a", "text": "alpha", "embedding": []any{1.0, 0.0}, "page": 1.0, "__nn_distance": 0.1},
		{"document_id": "b", "text": "beta", "embedding": []any{0.0, 1.0}, "page": 2.0, "__nn_distance": 0.7},
	}}}
	s, err := New(table)
	require.NoError(t, err)

	res, err := s.Query(context.Background(), rag.VectorStoreQuery{QueryEmbedding: []float32{1, 0}, SimilarityTopK: 2})
	require.NoError(t, err)
	assert.False(t, table.hybrid)
	assert.Equal(t, 2, table.lastN)
	assert.Equal(t, []Filter{}, table.lastFilter)

	assert.Equal(t, []string{"a", "b"}, res.IDs)
	assert.Equal(t, []float64{0.1, 0.7}, res.Similarities)
	assert.Equal(t, "alpha", res.Nodes[0].Text)
	assert.Equal(t, map[string]any{"page": 1.0}, res.Nodes[0].Metadata)

	_, err = s.Query(context.Background(), rag.VectorStoreQuery{
		QueryEmbedding: []float32{1, 0},
		Filters: &rag.MetadataFilters{Filters: []rag.MetadataFilter{
			{Key: "page", Value: 1},
			{Key: "page", Value: 5, Operator: rag.FilterOperatorLT},
		}},
	})
	require.NoError(t, err)
	assert.Equal(t, 1, table.lastN)
	assert.Equal(t, []Filter{{"=", "page", 1}, {"<", "page", 5}}, table.lastFilter)

	_, err = s.Query(context.Background(), rag.VectorStoreQuery{
		Filters: &rag.MetadataFilters{Condition: rag.FilterConditionOr, Filters: []rag.MetadataFilter{{Key: "a"}, {Key: "b"}}},
	})
	assert.Error(t, err)
}

func TestStore_HybridQuery(t *testing.T) {
	table := &fakeTable{results: [][]map[string]any{{{"document_id": "a", "text": "alpha", "__nn_distance": 0.3}}}}
	s, err := New(table, WithHybridSearch(true))
	require.NoError(t, err)

	res, err := s.Query(context.Background(), rag.VectorStoreQuery{QueryEmbedding: []float32{1, 0}, QueryStr: "alpha alpha", SimilarityTopK: 3})
	require.NoError(t, err)
	assert.True(t, table.hybrid)
	assert.Equal(t, DefaultAlpha, table.lastAlpha)
	require.Len(t, table.lastSparse, 1)
	assert.Len(t, table.lastSparse[0], 1)
	assert.Equal(t, []string{"a"}, res.IDs)

	_, err = s.Query(context.Background(), rag.VectorStoreQuery{QueryEmbedding: []float32{1, 0}, Alpha: rag.Float64(0.8)})
	require.NoError(t, err)
	assert.Equal(t, 0.8, table.lastAlpha)
}

func TestStore_Delete(t *testing.T) {
	s, err := New(&fakeTable{})
	require.NoError(t, err)
	assert.ErrorIs(t, s.Delete(context.Background(), "a"), rag.ErrNotImplemented)
}

func TestHashingSparseEncoder(t *testing.T) {
	vecs := HashingSparseEncoder([]string{"Hello, hello world!", ""})
	require.Len(t, vecs, 2)
	assert.Len(t, vecs[0], 2)
	var total float64
	for id, v := range vecs[0] {
		assert.Less(t, id, sparseVocabSize)
		total += v
	}
	assert.Equal(t, 3.0, total)
	assert.Empty(t, vecs[1])
}

func TestConvertColumn(t *testing.T) {
	tests := []struct {
		pytype  string
		in      any
		want    any
		wantErr bool
	}{
		{pytype: "str", in: 42, want: "42"},
		{pytype: "bytes", in: "x", want: []byte("x")},
		{pytype: "bool", in: "true", want: true},
		{pytype: "int8", in: 127, want: int64(127)},
		{pytype: "int8", in: 128, wantErr: true},
		{pytype: "int64", in: 3.0, want: int64(3)},
		{pytype: "int64", in: 3.5, wantErr: true},
		{pytype: "int64", in: math.Inf(1), wantErr: true},
		{pytype: "int64", in: math.Inf(-1), wantErr: true},
		{pytype: "int64", in: 1e19, wantErr: true},
		{pytype: "int64", in: -1e19, wantErr: true},
		{pytype: "int64", in: float64(math.MinInt64), want: int64(math.MinInt64)},
		{pytype: "float32", in: "1.5", want: float32(1.5)},
		{pytype: "float64", in: 2, want: 2.0},
		{pytype: "datetime64[ns]", in: time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC), want: "2024-01-02T03:04:05Z"},
		{pytype: "datetime64[ns]", in: "yesterday", wantErr: true},
		{pytype: "timedelta64[ns]", in: "1m30s", want: int64(90 * time.Second)},
		{pytype: "object", in: "x", wantErr: true},
		{pytype: "bool", in: 1, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(fmt.Sprintf("%s/%v", tt.pytype, tt.in), func(t *testing.T) {
			got, err := convertColumn(Column{Name: "c", PyType: tt.pytype}, tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestRESTTable(t *testing.T) {
	var paths []string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		paths = append(paths, r.Method+" "+r.URL.Path)
		assert.Equal(t, "kdb-key", r.Header.Get("X-Api-Key"))

		var body map[string]any
		if r.Method == http.MethodPost {
			assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		}
		switch r.URL.Path {
		case "/api/v2/databases/default/tables/docs":
			w.Write([]byte(`{"columns":[{"name":"document_id","pytype":"bytes"},{"name":"page","pytype":"int32"}]}`))
		case "/api/v2/databases/default/tables/docs/insert":
			assert.Len(t, body["rows"], 1)
			w.Write([]byte(`{}`))
		case "/api/v2/databases/default/tables/docs/search":
			assert.Equal(t, float64(2), body["n"])
			assert.Equal(t, []any{}, body["filter"])
			w.Write([]byte(`{"result":[[{"document_id":"a","text":"alpha","__nn_distance":0.25}]]}`))
		case "/api/v2/databases/default/tables/docs/hybrid-search":
			assert.Equal(t, 0.5, body["alpha"])
			assert.Equal(t, []any{map[string]any{"3": 1.0}}, body["sparseVectors"])
			w.Write([]byte(`{"result":[[]]}`))
		default:
			http.NotFound(w, r)
		}
	}))
	defer server.Close()

	_, err := NewRESTTable("", "default", "docs")
	assert.True(t, rag.IsConfigError(err))

	table, err := NewRESTTable(server.URL+"/", "default", "docs", WithAPIKey("kdb-key"), WithMaxRetries(0))
	require.NoError(t, err)
	ctx := context.Background()

	cols, err := table.Schema(ctx)
	require.NoError(t, err)
	assert.Equal(t, []Column{{Name: "document_id", PyType: "bytes"}, {Name: "page", PyType: "int32"}}, cols)

	require.NoError(t, table.Insert(ctx, []map[string]any{{"document_id": "a"}}))

	s, err := New(table)
	require.NoError(t, err)
	res, err := s.Query(ctx, rag.VectorStoreQuery{QueryEmbedding: []float32{1}, SimilarityTopK: 2})
	require.NoError(t, err)
	assert.Equal(t, []float64{0.25}, res.Similarities)

	rows, err := table.HybridSearch(ctx, [][]float32{{1}}, []SparseVector{{3: 1}}, 1, []Filter{}, 0.5)
	require.NoError(t, err)
	assert.Equal(t, [][]map[string]any{{}}, rows)

	assert.Equal(t, []string{
		"GET /api/v2/databases/default/tables/docs",
		"POST /api/v2/databases/default/tables/docs/insert",
		"POST /api/v2/databases/default/tables/docs/search",
		"POST /api/v2/databases/default/tables/docs/hybrid-search",
	}, paths)
}
