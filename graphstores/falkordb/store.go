package falkordb

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/redis/go-redis/v9"

	"github.com/smallnest/ragbridge/log"
	"github.com/smallnest/ragbridge/rag"
)

const (
	DefaultGraphName = "ragbridge"
	DefaultNodeLabel = "Entity"
)

type options struct {
	url       string
	conn      Conn
	graphName string
	nodeLabel string
	logger    log.Logger
}

// Option configures a Store.
type Option func(*options)

// WithURL connects to falkordb://[:password@]host:port[/graph].
func WithURL(u string) Option {
	return func(o *options) {
		o.url = u
	}
}

// WithConn uses an existing connection, typically a redis.UniversalClient.
func WithConn(c Conn) Option {
	return func(o *options) {
		o.conn = c
	}
}

// WithGraphName overrides the graph name.
func WithGraphName(name string) Option {
	return func(o *options) {
		o.graphName = name
	}
}

// WithNodeLabel sets the label of entity nodes.
func WithNodeLabel(label string) Option {
	return func(o *options) {
		o.nodeLabel = label
	}
}

// WithLogger sets the logger.
func WithLogger(l log.Logger) Option {
	return func(o *options) {
		o.logger = l
	}
}

// Store is a rag.GraphStore backed by FalkorDB.
type Store struct {
	graph     graph
	nodeLabel string
	schema    string
	logger    log.Logger
}

var _ rag.GraphStore = (*Store)(nil)

// New connects to FalkorDB. Either WithURL or WithConn is required.
func New(opts ...Option) (*Store, error) {
	o := &options{nodeLabel: DefaultNodeLabel}
	for _, opt := range opts {
		opt(o)
	}

	conn := o.conn
	graphName := o.graphName
	if conn == nil {
		if o.url == "" {
			return nil, rag.NewConfigError("url", nil, "pass WithURL or WithConn")
		}
		u, err := url.Parse(o.url)
		if err != nil {
			return nil, rag.NewConfigError("url", err, "invalid connection string")
		}
		if u.Host == "" {
			return nil, rag.NewConfigError("url", nil, "missing host in %q", o.url)
		}
		password, _ := u.User.Password()
		conn = redis.NewClient(&redis.Options{Addr: u.Host, Password: password})
		if graphName == "" {
			graphName = strings.TrimPrefix(u.Path, "/")
		}
	}
	if graphName == "" {
		graphName = DefaultGraphName
	}

	s := &Store{
		graph:     graph{name: graphName, conn: conn},
		nodeLabel: sanitizeLabel(o.nodeLabel),
		logger:    o.logger,
	}
	if s.logger == nil {
		s.logger = log.WithPrefix(nil, "falkordb")
	}
	return s, nil
}

// Get returns the [relation, object] pairs of subj.
func (s *Store) Get(ctx context.Context, subj string) ([][]string, error) {
	q := fmt.Sprintf("MATCH (n1:%s)-[r]->(n2:%s) WHERE n1.id = $subj RETURN type(r), n2.id", s.nodeLabel, s.nodeLabel)
	qr, err := s.graph.query(ctx, q, map[string]any{"subj": subj})
	if err != nil {
		return nil, fmt.Errorf("falkordb get %s: %w", subj, err)
	}

	out := make([][]string, 0, len(qr.Results))
	for _, row := range qr.Results {
		if len(row) < 2 {
			continue
		}
		out = append(out, []string{str(row[0]), str(row[1])})
	}
	return out, nil
}

// GetRelMap returns, per subject, the flattened relation paths of up to
// depth hops: [rel1, obj1, rel2, obj2, ...]. At most limit paths are read.
func (s *Store) GetRelMap(ctx context.Context, subjs []string, depth, limit int) (map[string][][]string, error) {
	relMap := make(map[string][][]string)
	if len(subjs) == 0 {
		return relMap, nil
	}
	depth = max(depth, 1)
	if limit <= 0 {
		limit = 30
	}

	q := fmt.Sprintf(
		"MATCH p=(n1:%s)-[*1..%d]->() WHERE n1.id IN $subjs "+
			"RETURN n1.id, [r IN relationships(p) | type(r)], [n IN nodes(p) | n.id] LIMIT %d",
		s.nodeLabel, depth, limit)
	qr, err := s.graph.query(ctx, q, map[string]any{"subjs": subjs})
	if err != nil {
		return nil, fmt.Errorf("falkordb rel map: %w", err)
	}

	for _, row := range qr.Results {
		if len(row) < 3 {
			continue
		}
		rels, _ := row[1].([]any)
		nodes, _ := row[2].([]any)
		// nodes holds the subject followed by one node per relation
		if len(nodes) != len(rels)+1 {
			continue
		}
		flat := make([]string, 0, 2*len(rels))
		for i, r := range rels {
			flat = append(flat, str(r), str(nodes[i+1]))
		}
		subj := str(row[0])
		relMap[subj] = append(relMap[subj], flat)
	}
	return relMap, nil
}

// UpsertTriplet merges both entities and the relation between them.
func (s *Store) UpsertTriplet(ctx context.Context, subj, rel, obj string) error {
	q := fmt.Sprintf(
		"MERGE (n1:%s {id: $subj}) MERGE (n2:%s {id: $obj}) MERGE (n1)-[:%s]->(n2)",
		s.nodeLabel, s.nodeLabel, relType(rel))
	if _, err := s.graph.query(ctx, q, map[string]any{"subj": subj, "obj": obj}); err != nil {
		return fmt.Errorf("falkordb upsert: %w", err)
	}
	return nil
}

// Delete removes the relation and any entity left without edges.
func (s *Store) Delete(ctx context.Context, subj, rel, obj string) error {
	q := fmt.Sprintf(
		"MATCH (n1:%s)-[r:%s]->(n2:%s) WHERE n1.id = $subj AND n2.id = $obj DELETE r",
		s.nodeLabel, relType(rel), s.nodeLabel)
	if _, err := s.graph.query(ctx, q, map[string]any{"subj": subj, "obj": obj}); err != nil {
		return fmt.Errorf("falkordb delete: %w", err)
	}

	prune := fmt.Sprintf("MATCH (n:%s) WHERE n.id = $entity AND NOT (n)--() DELETE n", s.nodeLabel)
	for _, entity := range []string{subj, obj} {
		if _, err := s.graph.query(ctx, prune, map[string]any{"entity": entity}); err != nil {
			return fmt.Errorf("falkordb prune %s: %w", entity, err)
		}
	}
	return nil
}

// GetSchema lists node labels and relationship types. The result is cached
// until refresh is set.
func (s *Store) GetSchema(ctx context.Context, refresh bool) (string, error) {
	if s.schema != "" && !refresh {
		return s.schema, nil
	}

	labels, err := s.column(ctx, "CALL db.labels()")
	if err != nil {
		return "", fmt.Errorf("falkordb schema: %w", err)
	}
	types, err := s.column(ctx, "CALL db.relationshipTypes()")
	if err != nil {
		return "", fmt.Errorf("falkordb schema: %w", err)
	}

	s.schema = "Node labels: " + strings.Join(labels, ", ") + "\nRelationship types: " + strings.Join(types, ", ")
	s.logger.Debug("schema: %s", s.schema)
	return s.schema, nil
}

func (s *Store) column(ctx context.Context, q string) ([]string, error) {
	qr, err := s.graph.query(ctx, q, nil)
	if err != nil {
		return nil, err
	}
	out := make([]string, 0, len(qr.Results))
	for _, row := range qr.Results {
		if len(row) > 0 {
			out = append(out, str(row[0]))
		}
	}
	return out, nil
}

// Query runs raw Cypher and returns a QueryResult.
func (s *Store) Query(ctx context.Context, query string, params map[string]any) (any, error) {
	qr, err := s.graph.query(ctx, query, params)
	if err != nil {
		return nil, err
	}
	return qr, nil
}

// Drop deletes the whole graph.
func (s *Store) Drop(ctx context.Context) error {
	return s.graph.conn.Do(ctx, "GRAPH.DELETE", s.graph.name).Err()
}

// Close closes the connection.
func (s *Store) Close() error {
	return s.graph.conn.Close()
}
