// Package host composes the resolver, the module loader and the event bus
// into a running module federation host.
package host

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"

	"github.com/go-logr/logr"
	"sigs.k8s.io/controller-runtime/pkg/client"
	logf "sigs.k8s.io/controller-runtime/pkg/log"

	"github.com/chazu/mfhost/api/v1alpha1"
	cuembed "github.com/chazu/mfhost/cue"
	"github.com/chazu/mfhost/internal/config"
	"github.com/chazu/mfhost/pkg/bundle"
	"github.com/chazu/mfhost/pkg/eventbus"
	"github.com/chazu/mfhost/pkg/federation"
	"github.com/chazu/mfhost/pkg/linker"
	"github.com/chazu/mfhost/pkg/resolver"
	"github.com/chazu/mfhost/pkg/schema"
)

// DefaultModule is used when a reference names no export path
const DefaultModule = "./index"

var (
	// ErrNotStarted is returned before the configuration has been loaded
	ErrNotStarted = errors.New("host configuration not loaded")
	// ErrUnknownScope is returned for scopes missing from the configuration
	ErrUnknownScope = errors.New("unknown scope")
	// ErrForbidden is returned when the current user's role may not mount a module
	ErrForbidden = errors.New("module not available for role")
)

// Host is a module federation host
type Host struct {
	cfg      *config.Config
	bus      *eventbus.Bus
	resolver *resolver.Resolver
	loader   *federation.Loader
	log      logr.Logger

	mu       sync.RWMutex
	manifest *v1alpha1.RegistryResponse
	user     *v1alpha1.User
}

type options struct {
	client     client.Client
	httpClient *http.Client
	bus        *eventbus.Bus
	static     resolver.StaticSource
	linker     federation.Linker
	loaderOpts []federation.Option
}

// Option configures a Host
type Option func(*options)

// WithClient enables configmap references
func WithClient(c client.Client) Option {
	return func(o *options) { o.client = c }
}

// WithHTTPClient sets the client for the registry, manifests and remote entries
func WithHTTPClient(c *http.Client) Option {
	return func(o *options) { o.httpClient = c }
}

// WithEventBus uses bus instead of a new one
func WithEventBus(bus *eventbus.Bus) Option {
	return func(o *options) { o.bus = bus }
}

// WithStaticSource overrides the static manifest named in the configuration
func WithStaticSource(s resolver.StaticSource) Option {
	return func(o *options) { o.static = s }
}

// WithLinker replaces the interpreter-backed linker
func WithLinker(l federation.Linker) Option {
	return func(o *options) { o.linker = l }
}

// WithLoaderOptions appends loader options after those from the configuration
func WithLoaderOptions(opts ...federation.Option) Option {
	return func(o *options) { o.loaderOpts = append(o.loaderOpts, opts...) }
}

// New wires a host from cfg
func New(cfg *config.Config, opts ...Option) (*Host, error) {
	o := &options{}
	for _, opt := range opts {
		opt(o)
	}
	if o.httpClient == nil {
		o.httpClient = &http.Client{Timeout: cfg.RequestTimeout.Duration}
	}
	if o.bus == nil {
		var busOpts []eventbus.Option
		if cfg.TraceEvents {
			busOpts = append(busOpts, eventbus.WithTrace())
		}
		o.bus = eventbus.New(busOpts...)
	}

	fetchers := bundle.NewDefaultRegistry(bundle.Options{
		Client:              o.client,
		Namespace:           cfg.Namespace,
		CacheDir:            cfg.CacheDir,
		HTTPClient:          o.httpClient,
		EmbeddedFS:          cuembed.StaticFS,
		PlainHTTPRegistries: cfg.PlainHTTPRegistries,
	})

	static := o.static
	if static == nil {
		source, err := resolver.StaticSourceFor(fetchers, cfg.StaticManifest)
		if err != nil {
			return nil, err
		}
		static = source
	}

	validator, err := schema.NewValidator()
	if err != nil {
		return nil, fmt.Errorf("failed to create manifest validator: %w", err)
	}

	containers := federation.NewContainers()
	link := o.linker
	if link == nil {
		link = linker.New(fetchers, containers)
	}

	loaderOpts := append(cfg.LoaderOptions(),
		federation.WithContainers(containers),
		federation.WithEventBus(o.bus),
		federation.WithHTTPClient(o.httpClient),
	)
	loaderOpts = append(loaderOpts, o.loaderOpts...)

	return &Host{
		cfg: cfg,
		bus: o.bus,
		resolver: resolver.New(cfg.ResolvedRegistryURL(), static,
			resolver.WithValidator(validator),
			resolver.WithHTTPClient(o.httpClient)),
		loader: federation.NewLoader(link, loaderOpts...),
		log:    logf.Log.WithName("host"),
	}, nil
}

// Start seeds the registry when configured, then loads the configuration
func (h *Host) Start(ctx context.Context) error {
	if h.cfg.Seed() {
		h.resolver.SeedRegistryFromStatic(ctx)
	}
	if _, err := h.Reload(ctx); err != nil {
		return err
	}
	return nil
}

// Reload resolves the configuration again and publishes config:loaded
func (h *Host) Reload(ctx context.Context) (*v1alpha1.RegistryResponse, error) {
	manifest, err := h.resolver.LoadConfig(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	h.mu.Lock()
	h.manifest = manifest
	h.mu.Unlock()

	log := logf.FromContext(ctx).WithName("host")
	log.Info("Configuration loaded", "scopes", manifest.Scopes(), "updatedAt", manifest.UpdatedAt)
	h.bus.Emit(v1alpha1.EventConfigLoaded, v1alpha1.ConfigLoadedPayload{Config: manifest})
	return manifest, nil
}

// Ready reports whether a configuration has been loaded
func (h *Host) Ready() bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.manifest != nil
}

// Config returns the current configuration, or nil before Start
func (h *Host) Config() *v1alpha1.RegistryResponse {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.manifest
}

// References returns every module reference in the configuration
func (h *Host) References() []v1alpha1.ModuleReference {
	manifest := h.Config()
	if manifest == nil {
		return nil
	}
	return manifest.References()
}

// Reference finds the reference for module in scope. An empty module picks
// the entry's first export path, then DefaultModule.
func (h *Host) Reference(scope, module string) (v1alpha1.ModuleReference, error) {
	manifest := h.Config()
	if manifest == nil {
		return v1alpha1.ModuleReference{}, ErrNotStarted
	}
	entry, ok := manifest.Lookup(scope)
	if !ok {
		return v1alpha1.ModuleReference{}, fmt.Errorf("%w: %s", ErrUnknownScope, scope)
	}

	if module == "" {
		if paths := entry.ExportPaths(); len(paths) > 0 {
			module = paths[0]
		} else {
			module = DefaultModule
		}
	}
	return v1alpha1.ModuleReference{
		Name:        entry.GetName(),
		DisplayName: entry.GetDisplayName(),
		Scope:       entry.Scope,
		Module:      module,
		URL:         entry.URL,
		Routes:      entry.Routes,
		Roles:       entry.Roles,
	}, nil
}

// Mount loads module from scope for the current user
func (h *Host) Mount(ctx context.Context, scope, module string, opts ...federation.LoadOption) (*federation.Export, error) {
	ref, err := h.Reference(scope, module)
	if err != nil {
		return nil, err
	}
	if user := h.User(); user != nil && !ref.AllowsRole(string(user.Role)) {
		return nil, fmt.Errorf("%w %s: %s", ErrForbidden, user.Role, KeyString(ref))
	}
	return h.loader.LoadModule(ctx, ref, opts...)
}

// Invalidate drops every cached export, the container and the linked entry
// of scope so the next mount fetches the remote again
func (h *Host) Invalidate(scope string) int {
	ref := v1alpha1.ModuleReference{Scope: scope}
	if manifest := h.Config(); manifest != nil {
		if entry, ok := manifest.Lookup(scope); ok {
			ref.URL = entry.URL
		}
	}
	return h.loader.Forget(ref)
}

// HealthCheck checks every configured remote
func (h *Host) HealthCheck(ctx context.Context) federation.HealthReport {
	return h.loader.HealthCheck(ctx, h.References())
}

// Stats returns the loader statistics
func (h *Host) Stats() federation.Stats {
	return h.loader.Stats()
}

// Bus returns the event bus shared with remotes
func (h *Host) Bus() *eventbus.Bus {
	return h.bus
}

// Loader returns the module loader
func (h *Host) Loader() *federation.Loader {
	return h.loader
}

// Resolver returns the configuration resolver
func (h *Host) Resolver() *resolver.Resolver {
	return h.resolver
}

// KeyString renders ref as scope/module
func KeyString(ref v1alpha1.ModuleReference) string {
	return federation.KeyFor(ref).String()
}
