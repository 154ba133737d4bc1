package github

import (
	"context"
	"encoding/base64"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/smallnest/ragbridge/httpx"
	"github.com/smallnest/ragbridge/log"
	"github.com/smallnest/ragbridge/rag"
)

const (
	// DefaultBaseURL is the public GitHub REST endpoint.
	DefaultBaseURL = "https://api.github.com"

	apiVersion = "2022-11-28"
	perPage    = 100
	tokenEnv   = "GITHUB_TOKEN"
)

// Client is a small GitHub REST client covering the calls the readers need.
type Client struct {
	token   string
	baseURL string
	http    *http.Client
	logger  log.Logger
}

type clientOptions struct {
	token      string
	baseURL    string
	timeout    time.Duration
	maxRetries int
	httpClient *http.Client
	logger     log.Logger
}

// ClientOption configures a Client.
type ClientOption func(*clientOptions)

// WithToken sets the access token. Defaults to GITHUB_TOKEN.
func WithToken(token string) ClientOption {
	return func(o *clientOptions) {
		o.token = token
	}
}

// WithBaseURL points the client at a GitHub Enterprise or test server.
func WithBaseURL(u string) ClientOption {
	return func(o *clientOptions) {
		o.baseURL = u
	}
}

// WithTimeout sets the per-request timeout.
func WithTimeout(d time.Duration) ClientOption {
	return func(o *clientOptions) {
		o.timeout = d
	}
}

// WithMaxRetries sets how often retryable failures are retried.
func WithMaxRetries(n int) ClientOption {
	return func(o *clientOptions) {
		o.maxRetries = n
	}
}

// WithHTTPClient replaces the retrying client.
func WithHTTPClient(c *http.Client) ClientOption {
	return func(o *clientOptions) {
		o.httpClient = c
	}
}

// WithClientLogger sets the logger.
func WithClientLogger(l log.Logger) ClientOption {
	return func(o *clientOptions) {
		o.logger = l
	}
}

// NewClient returns a GitHub client. A token is required.
func NewClient(opts ...ClientOption) (*Client, error) {
	o := &clientOptions{
		baseURL:    DefaultBaseURL,
		timeout:    httpx.DefaultTimeout,
		maxRetries: httpx.DefaultMaxRetries,
	}
	for _, opt := range opts {
		opt(o)
	}

	token, err := rag.ResolveAPIKey(o.token, tokenEnv)
	if err != nil {
		return nil, err
	}

	c := &Client{
		token:   token,
		baseURL: strings.TrimRight(o.baseURL, "/"),
		http:    o.httpClient,
		logger:  o.logger,
	}
	if c.http == nil {
		c.http = httpx.NewClient(httpx.Config{Timeout: o.timeout, MaxRetries: o.maxRetries})
	}
	if c.logger == nil {
		c.logger = log.WithPrefix(nil, "github")
	}
	return c, nil
}

// Branch is the subset of a branch response the readers use.
type Branch struct {
	Name   string `json:"name"`
	Commit Commit `json:"commit"`
}

// Commit is the subset of a commit response the readers use.
type Commit struct {
	SHA    string `json:"sha"`
	Commit struct {
		Tree struct {
			SHA string `json:"sha"`
		} `json:"tree"`
	} `json:"commit"`
}

// TreeSHA returns the root tree of the commit.
func (c Commit) TreeSHA() string { return c.Commit.Tree.SHA }

// TreeEntry is one object in a git tree.
type TreeEntry struct {
	Path string `json:"path"`
	Mode string `json:"mode"`
	Type string `json:"type"`
	SHA  string `json:"sha"`
	Size int    `json:"size"`
	URL  string `json:"url"`
}

// Tree is a git tree listing.
type Tree struct {
	SHA       string      `json:"sha"`
	Tree      []TreeEntry `json:"tree"`
	Truncated bool        `json:"truncated"`
}

// Blob is a git blob. Content is decoded.
type Blob struct {
	SHA      string `json:"sha"`
	Size     int    `json:"size"`
	URL      string `json:"url"`
	Encoding string `json:"encoding"`
	Content  []byte `json:"-"`
}

// Issue is the subset of an issue response the readers use.
type Issue struct {
	Number    int     `json:"number"`
	Title     string  `json:"title"`
	Body      string  `json:"body"`
	State     string  `json:"state"`
	URL       string  `json:"url"`
	HTMLURL   string  `json:"html_url"`
	CreatedAt string  `json:"created_at"`
	ClosedAt  *string `json:"closed_at"`
	Labels    []struct {
		Name string `json:"name"`
	} `json:"labels"`
	Assignee *struct {
		Login string `json:"login"`
	} `json:"assignee"`
	PullRequest map[string]any `json:"pull_request,omitempty"`
}

// Collaborator is a repository collaborator.
type Collaborator struct {
	Login     string `json:"login"`
	Type      string `json:"type"`
	SiteAdmin bool   `json:"site_admin"`
	RoleName  string `json:"role_name"`
}

func (c *Client) get(ctx context.Context, path string, query url.Values, out any) error {
	u := c.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}

	header := httpx.BearerHeader(c.token)
	header.Set("X-GitHub-Api-Version", apiVersion)

	c.logger.Debug("GET %s", u)
	return httpx.DoJSON(ctx, c.http, httpx.Request{
		URL:    u,
		Header: header,
		Accept: "application/vnd.github+json",
	}, out)
}

func repoPath(owner, repo string) string {
	return "/repos/" + url.PathEscape(owner) + "/" + url.PathEscape(repo)
}

// GetBranch fetches a branch and its head commit.
func (c *Client) GetBranch(ctx context.Context, owner, repo, branch string) (*Branch, error) {
	var b Branch
	if err := c.get(ctx, repoPath(owner, repo)+"/branches/"+url.PathEscape(branch), nil, &b); err != nil {
		return nil, fmt.Errorf("get branch %s: %w", branch, err)
	}
	return &b, nil
}

// GetCommit fetches a commit by sha.
func (c *Client) GetCommit(ctx context.Context, owner, repo, sha string) (*Commit, error) {
	var cm Commit
	if err := c.get(ctx, repoPath(owner, repo)+"/commits/"+url.PathEscape(sha), nil, &cm); err != nil {
		return nil, fmt.Errorf("get commit %s: %w", sha, err)
	}
	return &cm, nil
}

// GetTree lists a tree, descending into subtrees when recursive is set.
func (c *Client) GetTree(ctx context.Context, owner, repo, sha string, recursive bool) (*Tree, error) {
	var query url.Values
	if recursive {
		query = url.Values{"recursive": {"1"}}
	}
	var t Tree
	if err := c.get(ctx, repoPath(owner, repo)+"/git/trees/"+url.PathEscape(sha), query, &t); err != nil {
		return nil, fmt.Errorf("get tree %s: %w", sha, err)
	}
	return &t, nil
}

// GetBlob fetches a blob and decodes its base64 content.
func (c *Client) GetBlob(ctx context.Context, owner, repo, sha string) (*Blob, error) {
	var raw struct {
		Blob
		Content string `json:"content"`
	}
	if err := c.get(ctx, repoPath(owner, repo)+"/git/blobs/"+url.PathEscape(sha), nil, &raw); err != nil {
		return nil, fmt.Errorf("get blob %s: %w", sha, err)
	}

	blob := raw.Blob
	switch raw.Encoding {
	case "base64":
		// the API wraps base64 content at 60 columns
		content, err := base64.StdEncoding.DecodeString(strings.ReplaceAll(raw.Content, "\n", ""))
		if err != nil {
			return nil, fmt.Errorf("decode blob %s: %w", sha, err)
		}
		blob.Content = content
	case "utf-8", "":
		blob.Content = []byte(raw.Content)
	default:
		return nil, fmt.Errorf("decode blob %s: unsupported encoding %q", sha, raw.Encoding)
	}
	return &blob, nil
}

// GetIssues lists one page of issues. Pages start at 1.
func (c *Client) GetIssues(ctx context.Context, owner, repo, state string, page int) ([]Issue, error) {
	query := url.Values{
		"state":    {state},
		"per_page": {strconv.Itoa(perPage)},
		"page":     {strconv.Itoa(page)},
	}
	var issues []Issue
	if err := c.get(ctx, repoPath(owner, repo)+"/issues", query, &issues); err != nil {
		return nil, fmt.Errorf("get issues page %d: %w", page, err)
	}
	return issues, nil
}

// GetCollaborators lists one page of collaborators. Pages start at 1.
func (c *Client) GetCollaborators(ctx context.Context, owner, repo string, page int) ([]Collaborator, error) {
	query := url.Values{
		"per_page": {strconv.Itoa(perPage)},
		"page":     {strconv.Itoa(page)},
	}
	var collaborators []Collaborator
	if err := c.get(ctx, repoPath(owner, repo)+"/collaborators", query, &collaborators); err != nil {
		return nil, fmt.Errorf("get collaborators page %d: %w", page, err)
	}
	return collaborators, nil
}
