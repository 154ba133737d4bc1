package rag

import (
	"context"
	"errors"
	"slices"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBatches(t *testing.T) {
	tests := []struct {
		name  string
		n     int
		size  int
		sizes []int
	}{
		{name: "empty", n: 0, size: 3, sizes: nil},
		{name: "single batch", n: 2, size: 3, sizes: []int{2}},
		{name: "exact", n: 6, size: 3, sizes: []int{3, 3}},
		{name: "remainder", n: 7, size: 3, sizes: []int{3, 3, 1}},
		{name: "vector store default", n: 250, size: 100, sizes: []int{100, 100, 50}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			items := make([]int, tt.n)
			for i := range items {
				items[i] = i
			}

			batches := Batches(items, tt.size)

			var sizes []int
			var joined []int
			for _, b := range batches {
				sizes = append(sizes, len(b))
				joined = append(joined, b...)
			}
			assert.Equal(t, tt.sizes, sizes)
			if tt.n > 0 {
				assert.Equal(t, items, joined)
			}
		})
	}
}

func TestBatches_AppendDoesNotClobber(t *testing.T) {
	items := []int{1, 2, 3, 4}
	batches := Batches(items, 2)
	_ = append(batches[0], 99)
	assert.Equal(t, []int{1, 2, 3, 4}, items)
}

func TestSortByScore(t *testing.T) {
	n := func(id string, score *float64) NodeWithScore {
		return NodeWithScore{Node: &Node{ID: id}, Score: score}
	}
	nodes := []NodeWithScore{
		n("a", Float64(0.2)),
		n("b", nil),
		n("c", Float64(0.9)),
		n("d", Float64(0.2)),
		n("e", Float64(0.5)),
	}

	SortByScore(nodes)

	ids := make([]string, len(nodes))
	for i, x := range nodes {
		ids[i] = x.Node.ID
	}
	assert.Equal(t, []string{"c", "e", "a", "d", "b"}, ids)
	assert.True(t, slices.IsSortedFunc(nodes[:4], func(a, b NodeWithScore) int {
		switch {
		case a.GetScore() > b.GetScore():
			return -1
		case a.GetScore() < b.GetScore():
			return 1
		}
		return 0
	}))
}

func TestTruncateTopN(t *testing.T) {
	nodes := []NodeWithScore{{}, {}, {}}
	assert.Len(t, TruncateTopN(nodes, 0), 0)
	assert.Len(t, TruncateTopN(nodes, 2), 2)
	assert.Len(t, TruncateTopN(nodes, 10), 3)
	assert.NotNil(t, TruncateTopN(nodes, -1))
}

func TestResolveAPIKey(t *testing.T) {
	t.Run("explicit wins", func(t *testing.T) {
		t.Setenv("RAGBRIDGE_TEST_KEY", "from-env")
		key, err := ResolveAPIKey("explicit", "RAGBRIDGE_TEST_KEY")
		require.NoError(t, err)
		assert.Equal(t, "explicit", key)
	})

	t.Run("env fallback", func(t *testing.T) {
		t.Setenv("RAGBRIDGE_TEST_KEY", "from-env")
		key, err := ResolveAPIKey("", "RAGBRIDGE_TEST_KEY")
		require.NoError(t, err)
		assert.Equal(t, "from-env", key)
	})

	t.Run("missing", func(t *testing.T) {
		t.Setenv("RAGBRIDGE_TEST_KEY", "")
		_, err := ResolveAPIKey("", "RAGBRIDGE_TEST_KEY")
		require.Error(t, err)
		assert.True(t, errors.Is(err, ErrNotSetAuth))
		assert.True(t, IsConfigError(err))
		assert.Contains(t, err.Error(), "RAGBRIDGE_TEST_KEY")
	})
}

func TestValidate(t *testing.T) {
	assert.NoError(t, ValidateBatchSize("batch_size", 259, 259))
	assert.ErrorIs(t, ValidateBatchSize("batch_size", 300, 259), ErrInvalidBatchSize)
	assert.ErrorIs(t, ValidateBatchSize("batch_size", 0, 0), ErrInvalidBatchSize)
	assert.ErrorIs(t, ValidateBatchSize("batch_size", -10, 0), ErrInvalidBatchSize)
	assert.NoError(t, ValidateBatchSize("batch_size", 10000, 0))

	assert.NoError(t, ValidateTopN(0))
	assert.ErrorIs(t, ValidateTopN(-10), ErrInvalidTopN)
}

func TestFuture(t *testing.T) {
	ctx := context.Background()

	f := Go(ctx, func(ctx context.Context) (int, error) { return 42, nil })
	v, err := f.Await(ctx)
	require.NoError(t, err)
	assert.Equal(t, 42, v)

	boom := errors.New("boom")
	f = Go(ctx, func(ctx context.Context) (int, error) { return 0, boom })
	_, err = f.Await(ctx)
	assert.ErrorIs(t, err, boom)

	block := make(chan struct{})
	defer close(block)
	f = Go(ctx, func(ctx context.Context) (int, error) { <-block; return 1, nil })
	short, cancel := context.WithTimeout(ctx, 10*time.Millisecond)
	defer cancel()
	_, err = f.Await(short)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestNodeClone(t *testing.T) {
	n := &Node{ID: "x", Metadata: map[string]any{"a": 1}}
	c := n.Clone()
	c.Metadata["a"] = 2
	assert.Equal(t, 1, n.Metadata["a"])
	assert.Nil(t, (*Node)(nil).Clone())
}
