// Package splitter cuts long nodes into overlapping chunk nodes before they
// are embedded and stored.
package splitter

import (
	"context"
	"fmt"
	"maps"
	"strings"
	"unicode/utf8"

	"github.com/smallnest/ragbridge/rag"
)

const (
	// ChunkIndexKey holds the position of a chunk within its source node.
	ChunkIndexKey = "chunk_index"
	// ChunkTotalKey holds the number of chunks the source node produced.
	ChunkTotalKey = "chunk_total"
)

// RecursiveSplitter splits on the first separator that occurs in the text,
// recursing with the remaining separators on pieces still over the chunk
// size, then merges neighbours back up to the chunk size with overlap.
type RecursiveSplitter struct {
	separators   []string
	chunkSize    int
	chunkOverlap int
	lengthFunc   func(string) int
}

// Option configures a RecursiveSplitter.
type Option func(*RecursiveSplitter)

// WithChunkSize sets the maximum chunk length.
func WithChunkSize(size int) Option {
	return func(s *RecursiveSplitter) {
		s.chunkSize = size
	}
}

// WithChunkOverlap sets how much trailing text of one chunk is repeated at
// the start of the next.
func WithChunkOverlap(overlap int) Option {
	return func(s *RecursiveSplitter) {
		s.chunkOverlap = overlap
	}
}

// WithSeparators replaces the separator list. The empty separator splits
// into single characters.
func WithSeparators(separators ...string) Option {
	return func(s *RecursiveSplitter) {
		s.separators = separators
	}
}

// WithLengthFunction measures chunk length, e.g. with a tokenizer.
// Defaults to the rune count.
func WithLengthFunction(fn func(string) int) Option {
	return func(s *RecursiveSplitter) {
		s.lengthFunc = fn
	}
}

// New creates a RecursiveSplitter. Defaults are 1000 runes with 200 overlap.
func New(opts ...Option) (*RecursiveSplitter, error) {
	s := &RecursiveSplitter{
		separators:   []string{"\n\n", "\n", " ", ""},
		chunkSize:    1000,
		chunkOverlap: 200,
		lengthFunc:   utf8.RuneCountInString,
	}
	for _, opt := range opts {
		opt(s)
	}

	if s.chunkSize <= 0 {
		return nil, rag.NewConfigError("chunk_size", nil, "must be positive, got %d", s.chunkSize)
	}
	if s.chunkOverlap < 0 || s.chunkOverlap >= s.chunkSize {
		return nil, rag.NewConfigError("chunk_overlap", nil, "must be in [0, %d), got %d", s.chunkSize, s.chunkOverlap)
	}
	return s, nil
}

// SplitText returns the chunks of text. Whitespace-only chunks are dropped.
func (s *RecursiveSplitter) SplitText(text string) []string {
	return s.split(text, s.separators)
}

func (s *RecursiveSplitter) split(text string, separators []string) []string {
	separator, rest := "", []string(nil)
	for i, sep := range separators {
		if sep == "" || strings.Contains(text, sep) {
			separator, rest = sep, separators[i+1:]
			break
		}
	}

	var pieces []string
	if separator == "" {
		pieces = strings.Split(text, "")
	} else {
		pieces = strings.Split(text, separator)
	}

	var chunks, good []string
	for _, piece := range pieces {
		if piece == "" {
			continue
		}
		if s.lengthFunc(piece) <= s.chunkSize {
			good = append(good, piece)
			continue
		}
		if len(good) > 0 {
			chunks = append(chunks, s.merge(good, separator)...)
			good = nil
		}
		if len(rest) == 0 {
			chunks = append(chunks, strings.TrimSpace(piece))
			continue
		}
		chunks = append(chunks, s.split(piece, rest)...)
	}
	if len(good) > 0 {
		chunks = append(chunks, s.merge(good, separator)...)
	}
	return chunks
}

// merge joins pieces into chunks of at most chunkSize. When a chunk is
// emitted, pieces are dropped from its front until at most chunkOverlap
// remains to start the next one.
func (s *RecursiveSplitter) merge(pieces []string, separator string) []string {
	sepLen := s.lengthFunc(separator)

	var (
		chunks  []string
		current []string
		total   int
	)
	emit := func() {
		if chunk := strings.TrimSpace(strings.Join(current, separator)); chunk != "" {
			chunks = append(chunks, chunk)
		}
	}
	joined := func(n int) int {
		if len(current) > 0 {
			return n + sepLen
		}
		return n
	}

	for _, piece := range pieces {
		l := s.lengthFunc(piece)
		if total+joined(l) > s.chunkSize && len(current) > 0 {
			emit()
			for total > s.chunkOverlap || (total > 0 && total+joined(l) > s.chunkSize) {
				total -= s.lengthFunc(current[0])
				if len(current) > 1 {
					total -= sepLen
				}
				current = current[1:]
			}
		}
		total += joined(l)
		current = append(current, piece)
	}
	if len(current) > 0 {
		emit()
	}
	return chunks
}

// SplitNodes replaces each node by its chunks. Chunk ids are derived from the
// source id and chunks carry its metadata plus rag.RefDocIDKey, ChunkIndexKey
// and ChunkTotalKey. Nodes that fit in one chunk are still rewritten so that
// every output node links to its source.
func (s *RecursiveSplitter) SplitNodes(nodes []*rag.Node) []*rag.Node {
	out := make([]*rag.Node, 0, len(nodes))
	for _, node := range nodes {
		chunks := s.SplitText(node.Text)
		for i, chunk := range chunks {
			metadata := make(map[string]any, len(node.Metadata)+3)
			maps.Copy(metadata, node.Metadata)
			metadata[rag.RefDocIDKey] = node.ID
			metadata[ChunkIndexKey] = i
			metadata[ChunkTotalKey] = len(chunks)

			out = append(out, &rag.Node{
				ID:       fmt.Sprintf("%s_chunk_%d", node.ID, i),
				Text:     chunk,
				Metadata: metadata,
			})
		}
	}
	return out
}

// Reader wraps r so that the nodes it loads are split.
func (s *RecursiveSplitter) Reader(r rag.Reader) rag.Reader {
	return rag.ReaderFunc(func(ctx context.Context) ([]*rag.Node, error) {
		nodes, err := r.LoadData(ctx)
		if err != nil {
			return nil, err
		}
		return s.SplitNodes(nodes), nil
	})
}
