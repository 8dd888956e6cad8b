package bundle

import (
	"context"
	"fmt"
	"io/fs"
	"net/http"
	"sort"
	"strings"
	"time"

	corev1 "k8s.io/api/core/v1"
	"sigs.k8s.io/controller-runtime/pkg/client"
)

// FetchResult contains the result of fetching a remote entry or manifest
type FetchResult struct {
	// Content is the raw file content
	Content []byte

	// Digest is a content-addressable identifier
	// For OCI: manifest digest (sha256:...)
	// For Git: commit SHA
	// For ConfigMap: uid:resourceVersion
	// For everything else: xxhash of the content
	Digest string

	// Source describes where the content was fetched from (for logging/debugging)
	Source string
}

// Fetcher retrieves content for a reference
type Fetcher interface {
	// Fetch retrieves the content for ref. ref is passed through unchanged,
	// scheme included.
	Fetch(ctx context.Context, ref string) (*FetchResult, error)

	// Type returns the type of fetcher (for logging and metrics)
	Type() string
}

// Options configures the default fetchers
type Options struct {
	// Client enables the configmap scheme when set
	Client client.Client

	// Namespace is used for configmap references without a namespace
	Namespace string

	// CacheDir holds the EntryCache for git and oci content
	CacheDir string

	// HTTPClient is used by the http and oci fetchers
	HTTPClient *http.Client

	// EmbeddedFS backs the embedded scheme
	EmbeddedFS fs.FS

	// PullSecret authenticates git and oci fetches
	PullSecret *corev1.Secret

	// PlainHTTPRegistries talk to OCI registries over http
	PlainHTTPRegistries bool
}

// Registry dispatches references to fetchers by URL scheme
type Registry struct {
	fetchers map[string]Fetcher
}

// NewRegistry creates an empty registry
func NewRegistry() *Registry {
	return &Registry{fetchers: make(map[string]Fetcher)}
}

// NewDefaultRegistry creates a registry with every supported fetcher
func NewDefaultRegistry(opts Options) *Registry {
	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	entryCache := NewEntryCache(opts.CacheDir)

	r := NewRegistry()

	httpFetcher := NewHTTPFetcher(httpClient)
	r.Register("http", httpFetcher)
	r.Register("https", httpFetcher)
	r.Register("file", NewFileFetcher())
	r.Register("inline", NewInlineFetcher())

	if opts.EmbeddedFS != nil {
		r.Register("embedded", NewEmbeddedFetcher(opts.EmbeddedFS))
	}
	if opts.Client != nil {
		r.Register("configmap", NewConfigMapFetcher(opts.Client, opts.Namespace))
	}

	gitFetcher := NewGitFetcher(entryCache, opts.PullSecret)
	for _, scheme := range []string{"git+https", "git+http", "git+ssh", "git+file"} {
		r.Register(scheme, gitFetcher)
	}

	ociFetcher := NewOCIFetcher(entryCache, httpClient, opts.PullSecret)
	ociFetcher.PlainHTTP = opts.PlainHTTPRegistries
	r.Register("oci", ociFetcher)

	return r
}

// Register binds a fetcher to a scheme, replacing any previous binding
func (r *Registry) Register(scheme string, f Fetcher) {
	r.fetchers[strings.ToLower(scheme)] = f
}

// Schemes returns the registered schemes in sorted order
func (r *Registry) Schemes() []string {
	schemes := make([]string, 0, len(r.fetchers))
	for s := range r.fetchers {
		schemes = append(schemes, s)
	}
	sort.Strings(schemes)
	return schemes
}

// GetFetcher returns the fetcher for ref
func (r *Registry) GetFetcher(ref string) (Fetcher, error) {
	scheme, err := Scheme(ref)
	if err != nil {
		return nil, err
	}
	f, ok := r.fetchers[scheme]
	if !ok {
		return nil, fmt.Errorf("unsupported scheme: %s", scheme)
	}
	return f, nil
}

// Fetch fetches ref using the fetcher bound to its scheme
func (r *Registry) Fetch(ctx context.Context, ref string) (*FetchResult, error) {
	fetcher, err := r.GetFetcher(ref)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	result, err := fetcher.Fetch(ctx, ref)
	status := "success"
	if err != nil {
		status = "failure"
	}
	RecordFetch(fetcher.Type(), status, time.Since(start).Seconds())
	if err != nil {
		return nil, err
	}
	return result, nil
}

// Scheme returns the lower-cased scheme of ref
func Scheme(ref string) (string, error) {
	scheme, _, ok := strings.Cut(ref, ":")
	if !ok || scheme == "" {
		return "", fmt.Errorf("reference %q has no scheme", ref)
	}
	return strings.ToLower(scheme), nil
}
