package resolver

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/chazu/mfhost/api/v1alpha1"
	"github.com/chazu/mfhost/pkg/bundle"
)

// DefaultStaticRef points at the manifest embedded in the binary
const DefaultStaticRef = "embedded:static/config.json"

// StaticManifestPath is where a host origin serves its static manifest
const StaticManifestPath = "/config.json"

// StaticSource provides the static fallback manifest
type StaticSource interface {
	Fetch(ctx context.Context) (*v1alpha1.RegistryResponse, error)
	String() string
}

// ContentFetcher retrieves raw content by reference. Both bundle.Registry
// and individual bundle fetchers satisfy it.
type ContentFetcher interface {
	Fetch(ctx context.Context, ref string) (*bundle.FetchResult, error)
}

// FetchedSource reads the static manifest through a ContentFetcher
type FetchedSource struct {
	fetcher ContentFetcher
	ref     string
}

// NewStaticSource creates a static source for ref. An http(s) origin
// without a path resolves to its /config.json.
func NewStaticSource(fetcher ContentFetcher, ref string) *FetchedSource {
	if ref == "" {
		ref = DefaultStaticRef
	}
	return &FetchedSource{fetcher: fetcher, ref: StaticManifestURL(ref)}
}

// Fetch fetches and decodes the static manifest
func (s *FetchedSource) Fetch(ctx context.Context) (*v1alpha1.RegistryResponse, error) {
	result, err := s.fetcher.Fetch(ctx, s.ref)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch static manifest %s: %w", s.ref, err)
	}
	manifest, err := DecodeManifest(result.Content)
	if err != nil {
		return nil, fmt.Errorf("failed to decode static manifest %s: %w", s.ref, err)
	}
	return manifest, nil
}

// StaticSourceFor chooses a static source for ref. References without a
// scheme are filesystem paths.
func StaticSourceFor(fetcher ContentFetcher, ref string) (*FetchedSource, error) {
	if ref != "" && !strings.Contains(ref, ":") {
		abs, err := filepath.Abs(ref)
		if err != nil {
			return nil, fmt.Errorf("failed to resolve static manifest path %s: %w", ref, err)
		}
		ref = "file://" + filepath.ToSlash(abs)
	}
	return NewStaticSource(fetcher, ref), nil
}

func (s *FetchedSource) String() string {
	return s.ref
}

// StaticFilePath returns the local file behind ref, if there is one
func StaticFilePath(ref string) (string, bool) {
	if rest, ok := strings.CutPrefix(ref, "file://"); ok {
		return filepath.FromSlash(rest), rest != ""
	}
	if ref == "" || strings.Contains(ref, ":") {
		return "", false
	}
	return ref, true
}

// StaticManifestURL appends StaticManifestPath to bare http(s) origins
func StaticManifestURL(ref string) string {
	if !RegistryEnabled(ref) {
		return ref
	}
	rest := ref[strings.Index(ref, "://")+3:]
	if !strings.Contains(strings.TrimSuffix(rest, "/"), "/") {
		return strings.TrimSuffix(ref, "/") + StaticManifestPath
	}
	return ref
}

// ManifestSource serves a fixed manifest, mainly for tests and embedding
type ManifestSource struct {
	Manifest *v1alpha1.RegistryResponse
	Err      error
}

// Fetch returns a copy of the fixed manifest
func (s *ManifestSource) Fetch(context.Context) (*v1alpha1.RegistryResponse, error) {
	if s.Err != nil {
		return nil, s.Err
	}
	out := *s.Manifest
	out.MicroFrontends = append([]v1alpha1.RegistryEntry(nil), s.Manifest.MicroFrontends...)
	return &out, nil
}

func (s *ManifestSource) String() string {
	return "manifest"
}
