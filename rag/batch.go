package rag

import (
	"slices"
)

// Batches splits items into consecutive slices of at most size elements.
// Concatenating the result yields items unchanged. The slices share
// items' backing array.
func Batches[T any](items []T, size int) [][]T {
	if len(items) == 0 {
		return nil
	}
	if size <= 0 || size >= len(items) {
		return [][]T{items}
	}
	out := make([][]T, 0, (len(items)+size-1)/size)
	for start := 0; start < len(items); start += size {
		end := min(start+size, len(items))
		out = append(out, items[start:end:end])
	}
	return out
}

// SortByScore sorts nodes by descending score in place. Ties keep their
// input order and nodes without a score sort last.
func SortByScore(nodes []NodeWithScore) {
	slices.SortStableFunc(nodes, func(a, b NodeWithScore) int {
		switch {
		case a.Score == nil && b.Score == nil:
			return 0
		case a.Score == nil:
			return 1
		case b.Score == nil:
			return -1
		case *a.Score > *b.Score:
			return -1
		case *a.Score < *b.Score:
			return 1
		default:
			return 0
		}
	})
}

// TruncateTopN returns at most n nodes. It never pads.
func TruncateTopN(nodes []NodeWithScore, n int) []NodeWithScore {
	if n <= 0 {
		return []NodeWithScore{}
	}
	if n >= len(nodes) {
		return nodes
	}
	return nodes[:n]
}
