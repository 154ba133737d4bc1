package nvidia

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/smallnest/ragbridge/rag"
)

// rankingServer scores passage "pK" as K and records each batch size.
type rankingServer struct {
	mu      sync.Mutex
	batches []int
	paths   []string
}

func (s *rankingServer) handler(t *testing.T) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req rankingRequest
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, DefaultModel, req.Model)
		assert.Equal(t, "q", req.Query.Text)

		s.mu.Lock()
		s.batches = append(s.batches, len(req.Passages))
		s.paths = append(s.paths, r.URL.Path)
		s.mu.Unlock()

		var resp rankingResponse
		resp.Rankings = make([]struct {
			Index int     `json:"index"`
			Logit float64 `json:"logit"`
		}, len(req.Passages))
		for i, p := range req.Passages {
			var k int
			fmt.Sscanf(p.Text, "p%d", &k)
			resp.Rankings[i].Index = i
			resp.Rankings[i].Logit = float64(k)
		}
		json.NewEncoder(w).Encode(resp)
	}
}

func passages(n int) []rag.NodeWithScore {
	nodes := make([]rag.NodeWithScore, n)
	for i := range nodes {
		nodes[i] = rag.NodeWithScore{Node: &rag.Node{ID: fmt.Sprint(i), Text: fmt.Sprintf("p%d", i)}}
	}
	return nodes
}

func TestNew(t *testing.T) {
	t.Setenv(apiKeyEnv, "")

	tests := []struct {
		name    string
		opts    []Option
		wantErr bool
	}{
		{name: "with api key", opts: []Option{WithAPIKey("nvapi-test")}},
		{name: "no api key", wantErr: true},
		{name: "nim without key", opts: []Option{WithMode(ModeNIM, "http://localhost:8000/v1")}},
		{name: "nim without url", opts: []Option{WithMode(ModeNIM, "")}, wantErr: true},
		{name: "unknown mode", opts: []Option{WithAPIKey("k"), WithMode("other", "")}, wantErr: true},
		{name: "zero batch size", opts: []Option{WithAPIKey("k"), WithMaxBatchSize(0)}, wantErr: true},
		{name: "negative batch size", opts: []Option{WithAPIKey("k"), WithMaxBatchSize(-10)}, wantErr: true},
		{name: "negative top_n", opts: []Option{WithAPIKey("k"), WithTopN(-10)}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r, err := New(tt.opts...)
			if tt.wantErr {
				assert.True(t, rag.IsConfigError(err), "got %v", err)
				return
			}
			require.NoError(t, err)
			assert.NotNil(t, r)
		})
	}
}

func TestRerank_Setters(t *testing.T) {
	r, err := New(WithAPIKey("k"))
	require.NoError(t, err)
	assert.Equal(t, DefaultTopN, r.TopN())
	assert.Equal(t, DefaultMaxBatchSize, r.MaxBatchSize())

	for _, size := range []int{-10, 0} {
		assert.ErrorIs(t, r.SetMaxBatchSize(size), rag.ErrInvalidBatchSize)
	}
	assert.ErrorIs(t, r.SetTopN(-10), rag.ErrInvalidTopN)
	assert.Equal(t, DefaultTopN, r.TopN())
}

func TestRerank_Batching(t *testing.T) {
	srv := &rankingServer{}
	server := httptest.NewServer(srv.handler(t))
	defer server.Close()

	r, err := New(WithAPIKey("k"), WithMode(ModeNVIDIA, server.URL+"/v1/retrieval/nvidia/reranking"))
	require.NoError(t, err)
	require.NoError(t, r.SetMaxBatchSize(3))
	require.NoError(t, r.SetTopN(5))

	out, err := r.PostprocessNodes(context.Background(), passages(7), rag.NewQueryBundle("q"))
	require.NoError(t, err)

	assert.Equal(t, []int{3, 3, 1}, srv.batches)
	require.Len(t, out, 5)
	for i, want := range []string{"6", "5", "4", "3", "2"} {
		assert.Equal(t, want, out[i].Node.ID)
	}
}

func TestRerank_TopNBounds(t *testing.T) {
	srv := &rankingServer{}
	server := httptest.NewServer(srv.handler(t))
	defer server.Close()

	cases := []struct {
		batchSize, topN int
	}{
		{7, 7}, {17, 7}, {3, 13}, {1, 1}, {1, 10}, {10, 1}, {4, 0},
	}
	nodes := passages(20)

	for _, c := range cases {
		t.Run(fmt.Sprintf("batch=%d,top=%d", c.batchSize, c.topN), func(t *testing.T) {
			r, err := New(WithAPIKey("k"), WithMode(ModeNVIDIA, server.URL), WithMaxBatchSize(c.batchSize), WithTopN(c.topN))
			require.NoError(t, err)

			out, err := r.PostprocessNodes(context.Background(), nodes, rag.NewQueryBundle("q"))
			require.NoError(t, err)
			assert.Len(t, out, min(len(nodes), c.topN))
			for i := 0; i+1 < len(out); i++ {
				assert.GreaterOrEqual(t, out[i].GetScore(), out[i+1].GetScore())
			}
		})
	}
}

func TestRerank_NIM(t *testing.T) {
	srv := &rankingServer{}
	mux := http.NewServeMux()
	mux.HandleFunc("/v1/ranking", srv.handler(t))
	mux.HandleFunc("/v1/models", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"object":"list","data":[{"id":"nvidia/nv-rerankqa-mistral-4b-v3"}]}`))
	})
	server := httptest.NewServer(mux)
	defer server.Close()

	t.Setenv(apiKeyEnv, "")
	r, err := New(WithMode(ModeNIM, server.URL+"/v1/"))
	require.NoError(t, err)
	assert.Equal(t, ModeNIM, r.Mode())

	models, err := r.AvailableModels(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{DefaultModel}, models)

	fut := r.PostprocessNodesAsync(context.Background(), passages(2), rag.NewQueryBundle("q"))
	out, err := fut.Await(context.Background())
	require.NoError(t, err)
	assert.Len(t, out, 2)
	assert.Equal(t, []string{"/v1/ranking"}, srv.paths)
}

func TestRerank_AvailableModelsHosted(t *testing.T) {
	r, err := New(WithAPIKey("k"))
	require.NoError(t, err)

	models, err := r.AvailableModels(context.Background())
	require.NoError(t, err)
	assert.Contains(t, models, DefaultModel)
}
