package resolver

import (
	"context"
	"net/http"

	"github.com/sourcegraph/conc"
	"sigs.k8s.io/controller-runtime/pkg/log"

	"github.com/chazu/mfhost/api/v1alpha1"
	"github.com/chazu/mfhost/pkg/metrics"
	"github.com/chazu/mfhost/pkg/schema"
)

// DefaultSeedConcurrency bounds parallel upserts while seeding
const DefaultSeedConcurrency = 8

// Resolver reconciles the registry with the static manifest
type Resolver struct {
	registry        *RegistryClient
	static          StaticSource
	validator       *schema.Validator
	httpClient      *http.Client
	seedConcurrency int
}

// Option configures a Resolver
type Option func(*Resolver)

// WithValidator drops manifest entries that fail schema validation
func WithValidator(v *schema.Validator) Option {
	return func(r *Resolver) { r.validator = v }
}

// WithHTTPClient sets the client used to reach the registry
func WithHTTPClient(c *http.Client) Option {
	return func(r *Resolver) { r.httpClient = c }
}

// WithSeedConcurrency bounds parallel upserts while seeding
func WithSeedConcurrency(n int) Option {
	return func(r *Resolver) {
		if n > 0 {
			r.seedConcurrency = n
		}
	}
}

// New creates a resolver. A registryURL that is not http(s) disables the
// registry entirely.
func New(registryURL string, static StaticSource, opts ...Option) *Resolver {
	r := &Resolver{
		static:          static,
		seedConcurrency: DefaultSeedConcurrency,
	}
	for _, opt := range opts {
		opt(r)
	}
	if RegistryEnabled(registryURL) {
		r.registry = NewRegistryClient(registryURL, r.httpClient)
	}
	return r
}

// RegistryEnabled reports whether a registry is configured
func (r *Resolver) RegistryEnabled() bool {
	return r.registry != nil
}

// RegistryURL returns the configured registry URL, or ""
func (r *Resolver) RegistryURL() string {
	if r.registry == nil {
		return ""
	}
	return r.registry.URL()
}

// Static returns the static source
func (r *Resolver) Static() StaticSource {
	return r.static
}

// LoadConfig returns the authoritative manifest. The registry and the static
// manifest are fetched concurrently. A registry that is disabled, failing or
// empty yields the static manifest; otherwise the two are merged by scope
// with the registry winning. A failing static manifest degrades to an empty
// one. The only error is cancellation of ctx.
func (r *Resolver) LoadConfig(ctx context.Context) (*v1alpha1.RegistryResponse, error) {
	logger := log.FromContext(ctx).WithName("resolver")

	var (
		registry, static       *v1alpha1.RegistryResponse
		registryErr, staticErr error
		wg                     conc.WaitGroup
	)
	wg.Go(func() {
		registry, registryErr = r.fetchRegistry(ctx)
	})
	wg.Go(func() {
		static, staticErr = r.static.Fetch(ctx)
	})
	wg.Wait()

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	if staticErr != nil {
		metrics.RecordFetch("static", "failure")
		logger.Error(staticErr, "Static manifest unavailable, continuing with an empty manifest", "source", r.static.String())
		static = &v1alpha1.RegistryResponse{MicroFrontends: []v1alpha1.RegistryEntry{}}
	} else {
		metrics.RecordFetch("static", "success")
	}
	static.MicroFrontends = r.sanitize(ctx, "static", static.MicroFrontends)

	if registryErr != nil {
		logger.Info("Registry unavailable, using static manifest", "url", r.RegistryURL(), "reason", registryErr.Error())
	}
	if registry != nil {
		registry.MicroFrontends = r.sanitize(ctx, "registry", registry.MicroFrontends)
	}

	if registry == nil || len(registry.MicroFrontends) == 0 {
		metrics.RecordConfigResolved("static")
		logger.V(1).Info("Resolved configuration from static manifest", "entries", len(static.MicroFrontends))
		return static, nil
	}

	merged := &v1alpha1.RegistryResponse{
		MicroFrontends: MergeByScope(registry.MicroFrontends, static.MicroFrontends),
		UpdatedAt:      registry.UpdatedAt,
		FallbackConfig: static.FallbackConfig,
	}
	metrics.RecordConfigResolved("merged")
	logger.V(1).Info("Resolved configuration from registry and static manifest",
		"registryEntries", len(registry.MicroFrontends),
		"staticEntries", len(static.MicroFrontends),
		"entries", len(merged.MicroFrontends))
	return merged, nil
}

// fetchRegistry returns nil without error when the registry is disabled
func (r *Resolver) fetchRegistry(ctx context.Context) (*v1alpha1.RegistryResponse, error) {
	if r.registry == nil {
		return nil, nil
	}
	manifest, err := r.registry.List(ctx)
	if err != nil {
		metrics.RecordFetch("registry", "failure")
		return nil, err
	}
	metrics.RecordFetch("registry", "success")
	return manifest, nil
}

// sanitize removes duplicate scopes and entries that fail validation
func (r *Resolver) sanitize(ctx context.Context, source string, entries []v1alpha1.RegistryEntry) []v1alpha1.RegistryEntry {
	logger := log.FromContext(ctx).WithName("resolver")

	entries, dupes := dedupeScopes(entries)
	if len(dupes) > 0 {
		logger.Info("Duplicate scopes in manifest, later entries win", "source", source, "scopes", dupes)
	}

	if r.validator == nil {
		return entries
	}

	valid, violations := r.validator.FilterEntries(entries)
	if len(violations) > 0 {
		metrics.RecordInvalidEntries(len(entries) - len(valid))
		for _, v := range violations {
			logger.Info("Dropping invalid manifest entry", "source", source, "violation", v.String())
		}
	}
	return valid
}
