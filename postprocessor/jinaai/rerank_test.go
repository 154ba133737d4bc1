package jinaai

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/smallnest/ragbridge/httpx"
	"github.com/smallnest/ragbridge/rag"
)

func TestNew(t *testing.T) {
	t.Setenv(apiKeyEnv, "")

	tests := []struct {
		name    string
		opts    []Option
		wantErr error
	}{
		{name: "with api key", opts: []Option{WithAPIKey("test-key")}},
		{name: "with model", opts: []Option{WithAPIKey("test-key"), WithModel("jina-reranker-v2-base-multilingual")}},
		{name: "no api key", wantErr: rag.ErrNotSetAuth},
		{name: "negative top_n", opts: []Option{WithAPIKey("k"), WithTopN(-1)}, wantErr: rag.ErrInvalidTopN},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r, err := New(tt.opts...)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				assert.True(t, rag.IsConfigError(err))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, DefaultTopN, r.TopN())
		})
	}
}

func TestNew_KeyFromEnv(t *testing.T) {
	t.Setenv(apiKeyEnv, "env-key")
	r, err := New()
	require.NoError(t, err)
	assert.Equal(t, "env-key", r.apiKey)
}

func newServer(t *testing.T, calls *atomic.Int32) *httptest.Server {
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))
		assert.Equal(t, "identity", r.Header.Get("Accept-Encoding"))

		var req rerankRequest
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "what is go", req.Query)
		assert.Equal(t, DefaultModel, req.Model)
		assert.Equal(t, 2, req.TopN)
		assert.Len(t, req.Documents, 3)

		w.Write([]byte(`{"model":"jina-reranker-v1-base-en","results":[
			{"index":2,"relevance_score":0.9},
			{"index":0,"relevance_score":0.4}
		]}`))
	}))
}

func TestRerank_PostprocessNodes(t *testing.T) {
	var calls atomic.Int32
	server := newServer(t, &calls)
	defer server.Close()

	r, err := New(WithAPIKey("test-key"), WithURL(server.URL))
	require.NoError(t, err)

	nodes := []rag.NodeWithScore{
		{Node: &rag.Node{ID: "a", Text: "go is a language"}},
		{Node: &rag.Node{ID: "b", Text: "python"}},
		{Node: &rag.Node{ID: "c", Text: "go concurrency"}},
	}

	out, err := r.PostprocessNodes(context.Background(), nodes, rag.NewQueryBundle("what is go"))
	require.NoError(t, err)
	require.Len(t, out, 2)
	assert.Equal(t, "c", out[0].Node.ID)
	assert.Equal(t, 0.9, out[0].GetScore())
	assert.Equal(t, "a", out[1].Node.ID)
	assert.Nil(t, nodes[0].Score)

	fut := r.PostprocessNodesAsync(context.Background(), nodes, rag.NewQueryBundle("what is go"))
	out, err = fut.Await(context.Background())
	require.NoError(t, err)
	assert.Len(t, out, 2)
	assert.Equal(t, int32(2), calls.Load())
}

func TestRerank_EmptyInputMakesNoCall(t *testing.T) {
	var calls atomic.Int32
	server := newServer(t, &calls)
	defer server.Close()

	r, err := New(WithAPIKey("test-key"), WithURL(server.URL))
	require.NoError(t, err)

	out, err := r.PostprocessNodes(context.Background(), nil, rag.NewQueryBundle("what is go"))
	require.NoError(t, err)
	assert.Empty(t, out)
	assert.Equal(t, int32(0), calls.Load())
}

func TestRerank_VendorErrors(t *testing.T) {
	t.Run("detail without results", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte(`{"detail":"model not found"}`))
		}))
		defer server.Close()

		r, err := New(WithAPIKey("k"), WithURL(server.URL))
		require.NoError(t, err)
		_, err = r.PostprocessNodes(context.Background(), []rag.NodeWithScore{{Node: &rag.Node{Text: "x"}}}, rag.NewQueryBundle("q"))
		assert.ErrorIs(t, err, rag.ErrEmptyResponse)
		assert.ErrorContains(t, err, "model not found")
	})

	t.Run("unauthorized", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusUnauthorized)
		}))
		defer server.Close()

		r, err := New(WithAPIKey("k"), WithURL(server.URL), WithMaxRetries(0))
		require.NoError(t, err)
		_, err = r.PostprocessNodes(context.Background(), []rag.NodeWithScore{{Node: &rag.Node{Text: "x"}}}, rag.NewQueryBundle("q"))
		assert.True(t, httpx.IsAuthError(err))
	})
}

// TestRerank_Live is skipped if JINAAI_API_KEY is not set.
func TestRerank_Live(t *testing.T) {
	if os.Getenv(apiKeyEnv) == "" {
		t.Skip("JINAAI_API_KEY not set")
	}

	r, err := New()
	require.NoError(t, err)

	out, err := r.PostprocessNodes(context.Background(), []rag.NodeWithScore{
		{Node: &rag.Node{Text: "Paris is the capital of France"}},
		{Node: &rag.Node{Text: "Bananas are yellow"}},
	}, rag.NewQueryBundle("capital of France"))
	require.NoError(t, err)
	assert.NotEmpty(t, out)
}
