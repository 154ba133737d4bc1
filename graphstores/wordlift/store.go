// Package wordlift reads triples about an entity from the WordLift
// knowledge graph. The store is read-only.
package wordlift

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/piprate/json-gold/ld"

	"github.com/smallnest/ragbridge/httpx"
	"github.com/smallnest/ragbridge/log"
	"github.com/smallnest/ragbridge/rag"
)

const (
	// DefaultAPIURL is the WordLift API endpoint.
	DefaultAPIURL = "https://api.wordlift.io"

	keyEnv = "WORDLIFT_KEY"
)

type options struct {
	apiURL         string
	lazyAccount    bool
	timeout        time.Duration
	maxRetries     int
	httpClient     *http.Client
	documentLoader ld.DocumentLoader
	logger         log.Logger
}

// Option configures a Store.
type Option func(*options)

// WithAPIURL overrides the API endpoint.
func WithAPIURL(u string) Option {
	return func(o *options) {
		o.apiURL = u
	}
}

// WithLazyAccount defers the account lookup to the first Get.
func WithLazyAccount() Option {
	return func(o *options) {
		o.lazyAccount = true
	}
}

// WithTimeout sets the per-request timeout.
func WithTimeout(d time.Duration) Option {
	return func(o *options) {
		o.timeout = d
	}
}

// WithMaxRetries sets how often retryable failures are retried.
func WithMaxRetries(n int) Option {
	return func(o *options) {
		o.maxRetries = n
	}
}

// WithHTTPClient replaces the retrying client.
func WithHTTPClient(c *http.Client) Option {
	return func(o *options) {
		o.httpClient = c
	}
}

// WithDocumentLoader sets how remote JSON-LD contexts are fetched.
func WithDocumentLoader(l ld.DocumentLoader) Option {
	return func(o *options) {
		o.documentLoader = l
	}
}

// WithLogger sets the logger.
func WithLogger(l log.Logger) Option {
	return func(o *options) {
		o.logger = l
	}
}

// Store is a read-only rag.GraphStore over the WordLift entities API.
type Store struct {
	key    string
	apiURL string
	client *http.Client
	proc   *ld.JsonLdProcessor
	loader ld.DocumentLoader
	logger log.Logger

	mu         sync.Mutex
	datasetURI string
}

var _ rag.GraphStore = (*Store)(nil)

// New returns a WordLift store. The key falls back to WORDLIFT_KEY. Unless
// WithLazyAccount is set, the account is fetched now and a failure is
// returned.
func New(ctx context.Context, key string, opts ...Option) (*Store, error) {
	o := &options{
		apiURL:     DefaultAPIURL,
		timeout:    httpx.DefaultTimeout,
		maxRetries: httpx.DefaultMaxRetries,
	}
	for _, opt := range opts {
		opt(o)
	}

	key, err := rag.ResolveAPIKey(key, keyEnv)
	if err != nil {
		return nil, err
	}

	s := &Store{
		key:    key,
		apiURL: strings.TrimRight(o.apiURL, "/"),
		client: o.httpClient,
		proc:   ld.NewJsonLdProcessor(),
		loader: o.documentLoader,
		logger: o.logger,
	}
	if s.client == nil {
		s.client = httpx.NewClient(httpx.Config{Timeout: o.timeout, MaxRetries: o.maxRetries})
	}
	if s.loader == nil {
		s.loader = ld.NewDefaultDocumentLoader(s.client)
	}
	if s.logger == nil {
		s.logger = log.WithPrefix(nil, "wordlift")
	}

	if !o.lazyAccount {
		if _, err := s.DatasetURI(ctx); err != nil {
			return nil, err
		}
	}
	return s, nil
}

func (s *Store) header() http.Header {
	h := http.Header{}
	h.Set("Authorization", "Key "+s.key)
	return h
}

// DatasetURI returns the account dataset URI with a trailing slash,
// fetching it on first use.
func (s *Store) DatasetURI(ctx context.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.datasetURI != "" {
		return s.datasetURI, nil
	}

	var account struct {
		DatasetURI string `json:"dataset_uri"`
	}
	if err := httpx.DoJSON(ctx, s.client, httpx.Request{
		URL:    s.apiURL + "/accounts/me",
		Header: s.header(),
	}, &account); err != nil {
		return "", fmt.Errorf("wordlift account: %w", err)
	}
	if account.DatasetURI == "" {
		return "", fmt.Errorf("wordlift account: %w: no dataset_uri", rag.ErrEmptyResponse)
	}

	s.datasetURI = ensureTrailingSlash(account.DatasetURI)
	s.logger.Debug("dataset uri %s", s.datasetURI)
	return s.datasetURI, nil
}

// Get returns the [predicate, object] pairs whose subject is subj and whose
// object lives in the account dataset.
func (s *Store) Get(ctx context.Context, subj string) ([][]string, error) {
	datasetURI, err := s.DatasetURI(ctx)
	if err != nil {
		return nil, err
	}

	query := url.Values{
		"id":                 {subj},
		"include_children":   {"false"},
		"include_referenced": {"false"},
		"include_private":    {"true"},
	}
	body, err := httpx.Do(ctx, s.client, httpx.Request{
		URL:    s.apiURL + "/entities?" + query.Encode(),
		Header: s.header(),
		Accept: "application/ld+json",
	})
	if err != nil {
		return nil, fmt.Errorf("wordlift entities %s: %w", subj, err)
	}

	triplets, err := s.parse(body)
	if err != nil {
		return nil, fmt.Errorf("wordlift entities %s: %w", subj, err)
	}

	out := [][]string{}
	for _, t := range triplets {
		if t.Subject == subj && strings.HasPrefix(t.Object, datasetURI) {
			out = append(out, []string{t.Predicate, t.Object})
		}
	}
	return out, nil
}

// parse converts a JSON-LD document into the triplets of all its graphs.
func (s *Store) parse(body []byte) ([]rag.Triplet, error) {
	var doc any
	if err := json.Unmarshal(body, &doc); err != nil {
		return nil, fmt.Errorf("decode json-ld: %w", err)
	}

	opts := ld.NewJsonLdOptions("")
	opts.DocumentLoader = s.loader
	out, err := s.proc.ToRDF(doc, opts)
	if err != nil {
		return nil, fmt.Errorf("json-ld to rdf: %w", err)
	}
	dataset, ok := out.(*ld.RDFDataset)
	if !ok {
		return nil, fmt.Errorf("json-ld to rdf: unexpected result %T", out)
	}

	// A top-level @graph lands in a blank-node named graph, so every graph
	// is read: @default first, then the named graphs in sorted order.
	names := make([]string, 0, len(dataset.Graphs))
	for name := range dataset.Graphs {
		if name != "@default" {
			names = append(names, name)
		}
	}
	slices.Sort(names)
	names = append([]string{"@default"}, names...)

	var triplets []rag.Triplet
	for _, name := range names {
		for _, q := range dataset.Graphs[name] {
			triplets = append(triplets, rag.Triplet{
				Subject:   q.Subject.GetValue(),
				Predicate: q.Predicate.GetValue(),
				Object:    q.Object.GetValue(),
			})
		}
	}
	return triplets, nil
}

// GetRelMap is not supported and returns an empty map.
func (s *Store) GetRelMap(context.Context, []string, int, int) (map[string][][]string, error) {
	return map[string][][]string{}, nil
}

// UpsertTriplet is not supported.
func (s *Store) UpsertTriplet(context.Context, string, string, string) error {
	return rag.ErrNotImplemented
}

// Delete is not supported.
func (s *Store) Delete(context.Context, string, string, string) error {
	return rag.ErrNotImplemented
}

// GetSchema is not supported.
func (s *Store) GetSchema(context.Context, bool) (string, error) {
	return "", rag.ErrNotImplemented
}

// Query is not supported.
func (s *Store) Query(context.Context, string, map[string]any) (any, error) {
	return nil, rag.ErrNotImplemented
}

func ensureTrailingSlash(p string) string {
	if strings.HasSuffix(p, "/") {
		return p
	}
	return p + "/"
}
