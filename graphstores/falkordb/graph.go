package falkordb

import (
	"context"
	"fmt"
	"maps"
	"regexp"
	"slices"
	"strconv"
	"strings"

	"github.com/redis/go-redis/v9"
)

// Conn is the part of a redis client the store needs.
// redis.UniversalClient satisfies it.
type Conn interface {
	Do(ctx context.Context, args ...any) *redis.Cmd
	Close() error
}

// QueryResult holds the rows of a GRAPH.QUERY reply.
type QueryResult struct {
	Header     []string
	Results    [][]any
	Statistics []string
}

// graph runs Cypher against one named graph.
type graph struct {
	name string
	conn Conn
}

// query executes q with params bound through a CYPHER header.
func (g graph) query(ctx context.Context, q string, params map[string]any) (QueryResult, error) {
	qr := QueryResult{}

	if len(params) > 0 {
		header, err := paramsHeader(params)
		if err != nil {
			return qr, err
		}
		q = header + q
	}

	res, err := g.conn.Do(ctx, "GRAPH.QUERY", g.name, q).Result()
	if err != nil {
		return qr, err
	}

	r, ok := res.([]any)
	if !ok {
		return qr, fmt.Errorf("unexpected response type: %T", res)
	}

	switch len(r) {
	case 3:
		if header, ok := r[0].([]any); ok {
			qr.Header = make([]string, len(header))
			for i, h := range header {
				qr.Header[i] = fmt.Sprint(h)
			}
		}
		qr.Results = rows(r[1])
		qr.Statistics = stats(r[2])
	case 1:
		// writes without RETURN reply with statistics only
		qr.Statistics = stats(r[0])
	default:
		return qr, fmt.Errorf("unexpected response length: %d", len(r))
	}
	return qr, nil
}

func rows(v any) [][]any {
	list, _ := v.([]any)
	out := make([][]any, 0, len(list))
	for _, row := range list {
		if vals, ok := row.([]any); ok {
			out = append(out, vals)
		}
	}
	return out
}

func stats(v any) []string {
	list, _ := v.([]any)
	out := make([]string, len(list))
	for i, s := range list {
		out[i] = fmt.Sprint(s)
	}
	return out
}

// paramsHeader renders params as "CYPHER k1=v1 k2=v2 ", sorted by key.
func paramsHeader(params map[string]any) (string, error) {
	var b strings.Builder
	b.WriteString("CYPHER ")
	for _, k := range slices.Sorted(maps.Keys(params)) {
		v, err := literal(params[k])
		if err != nil {
			return "", fmt.Errorf("param %s: %w", k, err)
		}
		b.WriteString(k)
		b.WriteByte('=')
		b.WriteString(v)
		b.WriteByte(' ')
	}
	return b.String(), nil
}

func literal(v any) (string, error) {
	switch x := v.(type) {
	case nil:
		return "null", nil
	case string:
		return quoteString(x), nil
	case bool:
		return strconv.FormatBool(x), nil
	case int:
		return strconv.Itoa(x), nil
	case int64:
		return strconv.FormatInt(x, 10), nil
	case float64:
		return strconv.FormatFloat(x, 'g', -1, 64), nil
	case float32:
		return strconv.FormatFloat(float64(x), 'g', -1, 32), nil
	case []string:
		parts := make([]string, len(x))
		for i, s := range x {
			parts[i] = quoteString(s)
		}
		return "[" + strings.Join(parts, ",") + "]", nil
	case []any:
		parts := make([]string, len(x))
		for i, e := range x {
			p, err := literal(e)
			if err != nil {
				return "", err
			}
			parts[i] = p
		}
		return "[" + strings.Join(parts, ",") + "]", nil
	default:
		return "", fmt.Errorf("unsupported type %T", v)
	}
}

func quoteString(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	s = strings.ReplaceAll(s, `"`, `\"`)
	return `"` + s + `"`
}

var labelRegex = regexp.MustCompile(`[^a-zA-Z0-9_]`)

// sanitizeLabel makes l safe to splice into a query as a label or
// relationship type.
func sanitizeLabel(l string) string {
	clean := labelRegex.ReplaceAllString(l, "_")
	if clean == "" {
		return "Entity"
	}
	return clean
}

// relType normalizes a predicate into a relationship type.
func relType(rel string) string {
	return sanitizeLabel(strings.ToUpper(strings.ReplaceAll(strings.TrimSpace(rel), " ", "_")))
}

func str(v any) string {
	switch x := v.(type) {
	case string:
		return x
	case []byte:
		return string(x)
	default:
		return fmt.Sprint(v)
	}
}
