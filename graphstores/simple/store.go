// Package simple is an in-memory rag.GraphStore that can be persisted to a
// JSON file.
package simple

import (
	"context"
	"encoding/json"
	"fmt"
	"maps"
	"os"
	"slices"
	"strings"
	"sync"

	"github.com/smallnest/ragbridge/rag"
)

// Store maps each subject to its [relation, object] pairs.
type Store struct {
	mu   sync.RWMutex
	data map[string][][]string
}

var _ rag.GraphStore = (*Store)(nil)

// New returns an empty store.
func New() *Store {
	return &Store{data: make(map[string][][]string)}
}

// Load reads a store written by Persist.
func Load(path string) (*Store, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("load graph store: %w", err)
	}
	var persisted struct {
		GraphDict map[string][][]string `json:"graph_dict"`
	}
	if err := json.Unmarshal(b, &persisted); err != nil {
		return nil, fmt.Errorf("load graph store: %w", err)
	}
	s := New()
	if persisted.GraphDict != nil {
		s.data = persisted.GraphDict
	}
	return s, nil
}

// Persist writes the store as JSON.
func (s *Store) Persist(path string) error {
	s.mu.RLock()
	b, err := json.Marshal(map[string]any{"graph_dict": s.data})
	s.mu.RUnlock()
	if err != nil {
		return fmt.Errorf("persist graph store: %w", err)
	}
	return os.WriteFile(path, b, 0o644)
}

// Get returns the [relation, object] pairs of subj in insertion order.
func (s *Store) Get(_ context.Context, subj string) ([][]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return clonePairs(s.data[subj]), nil
}

// GetRelMap returns, per subject, every relation path of 1 to depth hops
// flattened as [rel1, obj1, rel2, obj2, ...]. At most limit paths are
// returned per subject. Paths never revisit a node.
func (s *Store) GetRelMap(_ context.Context, subjs []string, depth, limit int) (map[string][][]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	relMap := make(map[string][][]string, len(subjs))
	depth = max(depth, 1)
	for _, subj := range subjs {
		var paths [][]string
		var walk func(node string, prefix []string, seen map[string]bool)
		walk = func(node string, prefix []string, seen map[string]bool) {
			for _, pair := range s.data[node] {
				if limit > 0 && len(paths) >= limit {
					return
				}
				obj := pair[1]
				if seen[obj] {
					continue
				}
				path := append(slices.Clip(prefix), pair[0], obj)
				paths = append(paths, path)
				if len(path)/2 < depth {
					seen[obj] = true
					walk(obj, path, seen)
					delete(seen, obj)
				}
			}
		}
		walk(subj, nil, map[string]bool{subj: true})
		if len(paths) > 0 {
			relMap[subj] = paths
		}
	}
	return relMap, nil
}

// UpsertTriplet adds the triplet unless it is already present.
func (s *Store) UpsertTriplet(_ context.Context, subj, rel, obj string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	pair := []string{rel, obj}
	if slices.ContainsFunc(s.data[subj], func(p []string) bool { return slices.Equal(p, pair) }) {
		return nil
	}
	s.data[subj] = append(s.data[subj], pair)
	return nil
}

// Delete removes the triplet. Subjects left without relations are dropped.
func (s *Store) Delete(_ context.Context, subj, rel, obj string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	pair := []string{rel, obj}
	pairs := slices.DeleteFunc(s.data[subj], func(p []string) bool { return slices.Equal(p, pair) })
	if len(pairs) == 0 {
		delete(s.data, subj)
	} else {
		s.data[subj] = pairs
	}
	return nil
}

// GetSchema lists the distinct relation names.
func (s *Store) GetSchema(_ context.Context, _ bool) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rels := make(map[string]struct{})
	for _, pairs := range s.data {
		for _, p := range pairs {
			rels[p[0]] = struct{}{}
		}
	}
	return "Relationship types: " + strings.Join(slices.Sorted(maps.Keys(rels)), ", "), nil
}

// Query is not supported by the in-memory store.
func (s *Store) Query(context.Context, string, map[string]any) (any, error) {
	return nil, rag.ErrNotImplemented
}

func clonePairs(pairs [][]string) [][]string {
	out := make([][]string, len(pairs))
	for i, p := range pairs {
		out[i] = slices.Clone(p)
	}
	return out
}
