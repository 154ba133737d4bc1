package github

import (
	"context"
	"fmt"
	"path"
	"slices"
	"strings"
	"unicode/utf8"

	"golang.org/x/sync/errgroup"

	"github.com/smallnest/ragbridge/log"
	"github.com/smallnest/ragbridge/rag"
)

// FilterType selects whether a filter keeps or drops matching paths.
type FilterType int

const (
	Include FilterType = iota
	Exclude
)

// DefaultConcurrentRequests bounds parallel blob fetches.
const DefaultConcurrentRequests = 5

type filter struct {
	values []string
	typ    FilterType
}

// RepositoryReader loads the files of a repository at a branch or commit.
type RepositoryReader struct {
	client      *Client
	owner       string
	repo        string
	dirFilter   *filter
	extFilter   *filter
	concurrency int
	logger      log.Logger
}

// RepositoryOption configures a RepositoryReader.
type RepositoryOption func(*RepositoryReader)

// WithFilterDirectories keeps or drops files under the given directories.
func WithFilterDirectories(dirs []string, typ FilterType) RepositoryOption {
	return func(r *RepositoryReader) {
		cleaned := make([]string, len(dirs))
		for i, d := range dirs {
			cleaned[i] = strings.Trim(d, "/")
		}
		r.dirFilter = &filter{values: cleaned, typ: typ}
	}
}

// WithFilterFileExtensions keeps or drops files by extension, e.g. ".go".
func WithFilterFileExtensions(exts []string, typ FilterType) RepositoryOption {
	return func(r *RepositoryReader) {
		r.extFilter = &filter{values: slices.Clone(exts), typ: typ}
	}
}

// WithConcurrentRequests bounds parallel blob fetches.
func WithConcurrentRequests(n int) RepositoryOption {
	return func(r *RepositoryReader) {
		r.concurrency = n
	}
}

// WithLogger sets the logger.
func WithLogger(l log.Logger) RepositoryOption {
	return func(r *RepositoryReader) {
		r.logger = l
	}
}

// NewRepositoryReader creates a reader for owner/repo.
func NewRepositoryReader(client *Client, owner, repo string, opts ...RepositoryOption) (*RepositoryReader, error) {
	if client == nil {
		return nil, rag.NewConfigError("client", nil, "a GitHub client is required")
	}
	if owner == "" || repo == "" {
		return nil, rag.NewConfigError("repo", nil, "owner and repo are required")
	}

	r := &RepositoryReader{
		client:      client,
		owner:       owner,
		repo:        repo,
		concurrency: DefaultConcurrentRequests,
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.concurrency <= 0 {
		return nil, rag.NewConfigError("concurrent_requests", nil, "must be positive, got %d", r.concurrency)
	}
	if r.logger == nil {
		r.logger = client.logger
	}
	return r, nil
}

// LoadBranch loads every file reachable from the head of branch.
func (r *RepositoryReader) LoadBranch(ctx context.Context, branch string) ([]*rag.Node, error) {
	b, err := r.client.GetBranch(ctx, r.owner, r.repo, branch)
	if err != nil {
		return nil, err
	}
	return r.loadTree(ctx, b.Commit.TreeSHA(), branch)
}

// LoadCommit loads every file in the tree of commit sha.
func (r *RepositoryReader) LoadCommit(ctx context.Context, sha string) ([]*rag.Node, error) {
	c, err := r.client.GetCommit(ctx, r.owner, r.repo, sha)
	if err != nil {
		return nil, err
	}
	return r.loadTree(ctx, c.TreeSHA(), sha)
}

// BranchReader binds a branch so the reader can be used as a rag.Reader.
func (r *RepositoryReader) BranchReader(branch string) rag.Reader {
	return rag.ReaderFunc(func(ctx context.Context) ([]*rag.Node, error) {
		return r.LoadBranch(ctx, branch)
	})
}

func (r *RepositoryReader) loadTree(ctx context.Context, treeSHA, ref string) ([]*rag.Node, error) {
	tree, err := r.client.GetTree(ctx, r.owner, r.repo, treeSHA, true)
	if err != nil {
		return nil, err
	}
	if tree.Truncated {
		r.logger.Warn("tree %s of %s/%s is truncated, some files are missing", treeSHA, r.owner, r.repo)
	}

	var entries []TreeEntry
	for _, e := range tree.Tree {
		if e.Type == "blob" && r.allowed(e.Path) {
			entries = append(entries, e)
		}
	}
	r.logger.Debug("loading %d of %d tree entries at %s", len(entries), len(tree.Tree), ref)

	nodes := make([]*rag.Node, len(entries))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.concurrency)
	for i, e := range entries {
		g.Go(func() error {
			blob, err := r.client.GetBlob(gctx, r.owner, r.repo, e.SHA)
			if err != nil {
				return fmt.Errorf("%s: %w", e.Path, err)
			}
			if !utf8.Valid(blob.Content) || slices.Contains(blob.Content, 0) {
				r.logger.Warn("skipping %s: not a text file", e.Path)
				return nil
			}
			nodes[i] = &rag.Node{
				ID:   blob.SHA,
				Text: string(blob.Content),
				Metadata: map[string]any{
					"file_path": e.Path,
					"file_name": path.Base(e.Path),
					"url":       fmt.Sprintf("https://github.com/%s/%s/blob/%s/%s", r.owner, r.repo, ref, e.Path),
				},
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	return slices.DeleteFunc(nodes, func(n *rag.Node) bool { return n == nil }), nil
}

func (r *RepositoryReader) allowed(p string) bool {
	if f := r.dirFilter; f != nil {
		under := slices.ContainsFunc(f.values, func(dir string) bool {
			return dir == "" || strings.HasPrefix(p, dir+"/")
		})
		if under != (f.typ == Include) {
			return false
		}
	}
	if f := r.extFilter; f != nil {
		if slices.Contains(f.values, path.Ext(p)) != (f.typ == Include) {
			return false
		}
	}
	return true
}
