package falkordb

import (
	"context"
	"errors"
	"os"
	"testing"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/smallnest/ragbridge/rag"
)

// fakeConn records GRAPH.QUERY calls and replays canned replies in order.
type fakeConn struct {
	queries []string
	replies []any
	err     error
	closed  bool
}

func (f *fakeConn) Do(_ context.Context, args ...any) *redis.Cmd {
	if len(args) >= 3 {
		f.queries = append(f.queries, args[2].(string))
	}
	if f.err != nil {
		return redis.NewCmdResult(nil, f.err)
	}
	var reply any = []any{[]any{"Nodes created: 0"}}
	if len(f.replies) > 0 {
		reply, f.replies = f.replies[0], f.replies[1:]
	}
	return redis.NewCmdResult(reply, nil)
}

func (f *fakeConn) Close() error {
	f.closed = true
	return nil
}

func table(header []any, rows ...[]any) []any {
	rs := make([]any, len(rows))
	for i, r := range rows {
		rs[i] = r
	}
	return []any{header, rs, []any{"Query internal execution time: 0.1 milliseconds"}}
}

func TestNew(t *testing.T) {
	_, err := New()
	assert.True(t, rag.IsConfigError(err))

	_, err = New(WithURL("falkordb://"))
	assert.True(t, rag.IsConfigError(err))

	s, err := New(WithURL("falkordb://localhost:6379/kg"))
	require.NoError(t, err)
	assert.Equal(t, "kg", s.graph.name)
	assert.NoError(t, s.Close())

	s, err = New(WithConn(&fakeConn{}), WithNodeLabel("My Label"))
	require.NoError(t, err)
	assert.Equal(t, DefaultGraphName, s.graph.name)
	assert.Equal(t, "My_Label", s.nodeLabel)
}

func TestStore_UpsertAndGet(t *testing.T) {
	conn := &fakeConn{}
	s, err := New(WithConn(conn))
	require.NoError(t, err)
	ctx := context.Background()

	require.NoError(t, s.UpsertTriplet(ctx, "alice", "works at", `acme "inc"`))
	assert.Equal(t,
		`CYPHER obj="acme \"inc\"" subj="alice" MERGE (n1:Entity {id: $subj}) MERGE (n2:Entity {id: $obj}) MERGE (n1)-[:WORKS_AT]->(n2)`,
		conn.queries[0])

	conn.replies = []any{table([]any{"type(r)", "n2.id"},
		[]any{"WORKS_AT", "acme"},
		[]any{"KNOWS", []byte("bob")},
	)}
	got, err := s.Get(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, [][]string{{"WORKS_AT", "acme"}, {"KNOWS", "bob"}}, got)
	assert.Contains(t, conn.queries[1], "WHERE n1.id = $subj RETURN type(r), n2.id")
}

func TestStore_GetRelMap(t *testing.T) {
	conn := &fakeConn{}
	s, err := New(WithConn(conn))
	require.NoError(t, err)
	ctx := context.Background()

	empty, err := s.GetRelMap(ctx, nil, 2, 30)
	require.NoError(t, err)
	assert.Empty(t, empty)
	assert.Empty(t, conn.queries)

	conn.replies = []any{table([]any{"n1.id", "rels", "nodes"},
		[]any{"alice", []any{"KNOWS"}, []any{"alice", "bob"}},
		[]any{"alice", []any{"KNOWS", "WORKS_AT"}, []any{"alice", "bob", "acme"}},
		[]any{"alice", []any{"KNOWS"}, []any{"alice"}},
	)}
	relMap, err := s.GetRelMap(ctx, []string{"alice"}, 2, 10)
	require.NoError(t, err)
	assert.Equal(t, map[string][][]string{
		"alice": {{"KNOWS", "bob"}, {"KNOWS", "bob", "WORKS_AT", "acme"}},
	}, relMap)
	assert.Contains(t, conn.queries[0], `CYPHER subjs=["alice"] `)
	assert.Contains(t, conn.queries[0], "-[*1..2]->()")
	assert.Contains(t, conn.queries[0], "LIMIT 10")
}

func TestStore_DeletePrunesOrphans(t *testing.T) {
	conn := &fakeConn{}
	s, err := New(WithConn(conn))
	require.NoError(t, err)

	require.NoError(t, s.Delete(context.Background(), "alice", "knows", "bob"))
	require.Len(t, conn.queries, 3)
	assert.Contains(t, conn.queries[0], "-[r:KNOWS]->")
	assert.Contains(t, conn.queries[1], `entity="alice"`)
	assert.Contains(t, conn.queries[2], `entity="bob"`)
	assert.Contains(t, conn.queries[2], "NOT (n)--() DELETE n")
}

func TestStore_Schema(t *testing.T) {
	conn := &fakeConn{replies: []any{
		table([]any{"label"}, []any{"Entity"}),
		table([]any{"relationshipType"}, []any{"KNOWS"}, []any{"WORKS_AT"}),
	}}
	s, err := New(WithConn(conn))
	require.NoError(t, err)
	ctx := context.Background()

	schema, err := s.GetSchema(ctx, false)
	require.NoError(t, err)
	assert.Equal(t, "Node labels: Entity\nRelationship types: KNOWS, WORKS_AT", schema)

	// cached
	_, err = s.GetSchema(ctx, false)
	require.NoError(t, err)
	assert.Len(t, conn.queries, 2)

	_, err = s.GetSchema(ctx, true)
	require.NoError(t, err)
	assert.Len(t, conn.queries, 4)
}

func TestStore_QueryAndErrors(t *testing.T) {
	conn := &fakeConn{replies: []any{table([]any{"n"}, []any{int64(3)})}}
	s, err := New(WithConn(conn))
	require.NoError(t, err)
	ctx := context.Background()

	res, err := s.Query(ctx, "MATCH (n) RETURN count(n)", nil)
	require.NoError(t, err)
	qr := res.(QueryResult)
	assert.Equal(t, []string{"n"}, qr.Header)
	assert.Equal(t, [][]any{{int64(3)}}, qr.Results)

	_, err = s.Query(ctx, "RETURN $x", map[string]any{"x": struct{}{}})
	assert.ErrorContains(t, err, "unsupported type")

	boom := errors.New("connection refused")
	conn.err = boom
	_, err = s.Get(ctx, "alice")
	assert.ErrorIs(t, err, boom)

	conn.err = nil
	conn.replies = []any{"OK"}
	_, err = s.Get(ctx, "alice")
	assert.ErrorContains(t, err, "unexpected response type")
}

func TestParamsHeader(t *testing.T) {
	h, err := paramsHeader(map[string]any{"b": 1.5, "a": true, "c": nil, "d": []any{1, "x"}, "e": `a\b`})
	require.NoError(t, err)
	assert.Equal(t, `CYPHER a=true b=1.5 c=null d=[1,"x"] e="a\\b" `, h)
}

func TestRelType(t *testing.T) {
	assert.Equal(t, "WORKS_AT", relType(" works at "))
	assert.Equal(t, "A_B_", relType("a-b!"))
	assert.Equal(t, "Entity", sanitizeLabel(""))
}

// TestStore_Live runs against a FalkorDB server.
// Skipped if FALKORDB_URL is not set.
func TestStore_Live(t *testing.T) {
	u := os.Getenv("FALKORDB_URL")
	if u == "" {
		t.Skip("FALKORDB_URL not set")
	}

	s, err := New(WithURL(u), WithGraphName("ragbridge_test"))
	require.NoError(t, err)
	ctx := context.Background()
	defer func() {
		_ = s.Drop(ctx)
		_ = s.Close()
	}()

	require.NoError(t, s.UpsertTriplet(ctx, "alice", "knows", "bob"))
	got, err := s.Get(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, [][]string{{"KNOWS", "bob"}}, got)

	require.NoError(t, s.Delete(ctx, "alice", "knows", "bob"))
	got, err = s.Get(ctx, "alice")
	require.NoError(t, err)
	assert.Empty(t, got)
}
