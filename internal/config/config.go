// Package config loads the host configuration from a file and the environment.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	logf "sigs.k8s.io/controller-runtime/pkg/log"
	"sigs.k8s.io/yaml"

	"github.com/chazu/mfhost/pkg/federation"
	"github.com/chazu/mfhost/pkg/resolver"
)

// Environment variables read by ApplyEnv
const (
	EnvRegistryURL    = "MFHOST_REGISTRY_URL"
	EnvEnvironment    = "MFHOST_ENV"
	EnvStaticManifest = "MFHOST_STATIC_MANIFEST"
	EnvNamespace      = "MFHOST_NAMESPACE"
)

// Environments
const (
	EnvironmentDevelopment = "development"
	EnvironmentProduction  = "production"
)

// Config is the host configuration
type Config struct {
	// RegistryURL is the registry service endpoint. Empty selects the
	// development default outside production.
	RegistryURL string `json:"registryURL,omitempty"`

	// Environment is development or production
	Environment string `json:"environment,omitempty"`

	// StaticManifest references the fallback manifest: an http(s) origin or
	// URL, a file path, embedded:<path> or configmap://ns/name[/key]
	StaticManifest string `json:"staticManifest,omitempty"`

	// Namespace is the default namespace for configmap references
	Namespace string `json:"namespace,omitempty"`

	// CacheDir holds fetched git and OCI remote entries
	CacheDir string `json:"cacheDir,omitempty"`

	// PlainHTTPRegistries reaches OCI registries over plain HTTP
	PlainHTTPRegistries bool `json:"plainHTTPRegistries,omitempty"`

	// SeedOnStart seeds an empty registry from the static manifest at startup
	SeedOnStart *bool `json:"seedOnStart,omitempty"`

	// TraceEvents logs every event bus emission
	TraceEvents bool `json:"traceEvents,omitempty"`

	// WatchStatic reloads the configuration when a file static manifest changes
	WatchStatic bool `json:"watchStatic,omitempty"`

	// ServeAddress is where the ops HTTP surface listens
	ServeAddress string `json:"serveAddress,omitempty"`

	// RequestTimeout bounds registry, manifest and remote entry requests
	RequestTimeout metav1.Duration `json:"requestTimeout,omitempty"`

	Loader LoaderConfig `json:"loader,omitempty"`
}

// LoaderConfig tunes the module loader
type LoaderConfig struct {
	MaxRetries       int             `json:"maxRetries,omitempty"`
	RetryDelay       metav1.Duration `json:"retryDelay,omitempty"`
	Cooldown         metav1.Duration `json:"cooldown,omitempty"`
	ContainerTimeout metav1.Duration `json:"containerTimeout,omitempty"`
	PollInterval     metav1.Duration `json:"pollInterval,omitempty"`
}

// Defaults returns the configuration used when nothing is set
func Defaults() *Config {
	seed := true
	return &Config{
		Environment:    EnvironmentDevelopment,
		StaticManifest: resolver.DefaultStaticRef,
		Namespace:      "default",
		SeedOnStart:    &seed,
		ServeAddress:   ":8080",
		RequestTimeout: metav1.Duration{Duration: 30 * time.Second},
		Loader: LoaderConfig{
			MaxRetries:       federation.DefaultMaxRetries,
			RetryDelay:       metav1.Duration{Duration: federation.DefaultRetryDelay},
			Cooldown:         metav1.Duration{Duration: federation.DefaultCooldown},
			ContainerTimeout: metav1.Duration{Duration: federation.DefaultContainerTimeout},
			PollInterval:     metav1.Duration{Duration: federation.DefaultPollInterval},
		},
	}
}

// Load reads path over the defaults, applies the environment and validates
// the result. An empty path skips the file.
func Load(path string) (*Config, error) {
	cfg := Defaults()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.UnmarshalStrict(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
	}
	cfg.ApplyEnv(os.LookupEnv)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.RegistryURL != "" && !cfg.RegistryEnabled() {
		logf.Log.WithName("config").Info("Registry URL is not http(s), registry disabled",
			"registryURL", cfg.RegistryURL)
	}
	return cfg, nil
}

// ApplyEnv overrides fields from the environment
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) {
	if v, ok := lookup(EnvRegistryURL); ok {
		c.RegistryURL = v
	}
	if v, ok := lookup(EnvEnvironment); ok && v != "" {
		c.Environment = strings.ToLower(v)
	}
	if v, ok := lookup(EnvStaticManifest); ok && v != "" {
		c.StaticManifest = v
	}
	if v, ok := lookup(EnvNamespace); ok && v != "" {
		c.Namespace = v
	}
}

// Validate reports every invalid field
func (c *Config) Validate() error {
	var errs []error
	if c.Environment != EnvironmentDevelopment && c.Environment != EnvironmentProduction {
		errs = append(errs, fmt.Errorf("environment must be %q or %q, got %q",
			EnvironmentDevelopment, EnvironmentProduction, c.Environment))
	}
	if c.Loader.MaxRetries < 1 {
		errs = append(errs, fmt.Errorf("loader.maxRetries must be at least 1, got %d", c.Loader.MaxRetries))
	}
	for name, d := range map[string]time.Duration{
		"loader.retryDelay":       c.Loader.RetryDelay.Duration,
		"loader.cooldown":         c.Loader.Cooldown.Duration,
		"loader.containerTimeout": c.Loader.ContainerTimeout.Duration,
		"loader.pollInterval":     c.Loader.PollInterval.Duration,
		"requestTimeout":          c.RequestTimeout.Duration,
	} {
		if d < 0 {
			errs = append(errs, fmt.Errorf("%s must not be negative, got %s", name, d))
		}
	}
	if c.Loader.PollInterval.Duration == 0 {
		errs = append(errs, errors.New("loader.pollInterval must be positive"))
	}
	return errors.Join(errs...)
}

// Development reports whether the host runs in development mode
func (c *Config) Development() bool {
	return c.Environment != EnvironmentProduction
}

// ResolvedRegistryURL returns the registry URL after defaults, or "" when
// the registry is disabled
func (c *Config) ResolvedRegistryURL() string {
	return resolver.ResolveRegistryURL(c.RegistryURL, c.Development())
}

// RegistryEnabled reports whether the resolved registry URL can be used. A
// URL that is not http(s) disables the registry rather than failing.
func (c *Config) RegistryEnabled() bool {
	return resolver.RegistryEnabled(c.ResolvedRegistryURL())
}

// Seed reports whether the registry is seeded at startup
func (c *Config) Seed() bool {
	return c.SeedOnStart == nil || *c.SeedOnStart
}

// LoaderOptions converts the loader settings to loader options
func (c *Config) LoaderOptions() []federation.Option {
	return []federation.Option{
		federation.WithMaxRetries(c.Loader.MaxRetries),
		federation.WithRetryDelay(c.Loader.RetryDelay.Duration),
		federation.WithCooldown(c.Loader.Cooldown.Duration),
		federation.WithContainerTimeout(c.Loader.ContainerTimeout.Duration),
		federation.WithPollInterval(c.Loader.PollInterval.Duration),
	}
}
