// Package linker executes Go-source remote entries with the yaegi
// interpreter and registers the containers they describe.
//
// A remote entry is a main package that declares:
//
//	var Scope = "authApp"
//	func Init(shared map[string]string) error
//	func Expose(module string) bool
//	func Load(module string) (any, error)
//
// Init receives the host's shared modules as name to version.
package linker

import (
	"context"
	"fmt"
	"go/parser"
	"go/token"
	"reflect"
	"sort"
	"strconv"
	"sync"

	"github.com/go-logr/logr"
	"github.com/traefik/yaegi/interp"
	"github.com/traefik/yaegi/stdlib"
	logf "sigs.k8s.io/controller-runtime/pkg/log"

	"github.com/chazu/mfhost/pkg/bundle"
	"github.com/chazu/mfhost/pkg/federation"
)

// DefaultAllowedImports are the packages an entry may import
var DefaultAllowedImports = []string{
	"bytes",
	"encoding/base64",
	"encoding/json",
	"errors",
	"fmt",
	"math",
	"path",
	"regexp",
	"sort",
	"strconv",
	"strings",
	"time",
	"unicode/utf8",
}

// Fetcher retrieves remote entry sources. bundle.Registry satisfies it.
type Fetcher interface {
	Fetch(ctx context.Context, ref string) (*bundle.FetchResult, error)
}

// Linker fetches remote entries and registers their containers
type Linker struct {
	fetcher    Fetcher
	containers *federation.Containers
	allowed    map[string]bool
	log        logr.Logger
}

// Option configures a Linker
type Option func(*Linker)

// WithAllowedImports replaces the set of packages entries may import
func WithAllowedImports(pkgs ...string) Option {
	return func(l *Linker) {
		l.allowed = make(map[string]bool, len(pkgs))
		for _, pkg := range pkgs {
			l.allowed[pkg] = true
		}
	}
}

// WithLogger sets the linker's logger
func WithLogger(log logr.Logger) Option {
	return func(l *Linker) { l.log = log }
}

// New creates a linker that registers containers in containers
func New(fetcher Fetcher, containers *federation.Containers, opts ...Option) *Linker {
	l := &Linker{
		fetcher:    fetcher,
		containers: containers,
		log:        logf.Log.WithName("linker"),
	}
	WithAllowedImports(DefaultAllowedImports...)(l)
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Link fetches the entry at url, executes it and registers its container
func (l *Linker) Link(ctx context.Context, url string) error {
	result, err := l.fetcher.Fetch(ctx, url)
	if err != nil {
		return fmt.Errorf("failed to fetch remote entry: %w", err)
	}

	entry, err := l.evaluate(ctx, url, result.Content)
	if err != nil {
		return err
	}

	l.containers.Register(entry.scope, entry)
	l.log.Info("Linked remote entry", "scope", entry.scope, "url", url, "digest", result.Digest)
	return nil
}

// evaluate interprets source and extracts the entry's declarations
func (l *Linker) evaluate(ctx context.Context, url string, source []byte) (entry *entryContainer, err error) {
	if err := l.checkImports(url, source); err != nil {
		return nil, err
	}

	defer func() {
		if r := recover(); r != nil {
			entry, err = nil, fmt.Errorf("remote entry %s panicked: %v", url, r)
		}
	}()

	i := interp.New(interp.Options{})
	if err := i.Use(stdlib.Symbols); err != nil {
		return nil, fmt.Errorf("failed to load stdlib symbols: %w", err)
	}
	if _, err := i.EvalWithContext(ctx, string(source)); err != nil {
		return nil, fmt.Errorf("failed to evaluate remote entry %s: %w", url, err)
	}

	entry = &entryContainer{url: url}
	if err := lookup(i, "Scope", &entry.scope); err != nil {
		return nil, err
	}
	if entry.scope == "" {
		return nil, fmt.Errorf("remote entry %s declares an empty Scope", url)
	}
	if err := lookup(i, "Init", &entry.init); err != nil {
		return nil, err
	}
	if err := lookup(i, "Expose", &entry.expose); err != nil {
		return nil, err
	}
	if err := lookup(i, "Load", &entry.load); err != nil {
		return nil, err
	}
	return entry, nil
}

// lookup reads main.<name> into target, which must point at the expected type
func lookup[T any](i *interp.Interpreter, name string, target *T) error {
	v, err := i.Eval("main." + name)
	if err != nil {
		return fmt.Errorf("remote entry does not declare %s: %w", name, err)
	}
	if !v.IsValid() || !v.CanInterface() {
		return fmt.Errorf("remote entry %s is not usable", name)
	}
	value, ok := v.Interface().(T)
	if !ok {
		return fmt.Errorf("remote entry %s has type %s, expected %s", name, v.Type(), reflect.TypeOf(target).Elem())
	}
	*target = value
	return nil
}

// checkImports rejects entries that import packages outside the allow list
func (l *Linker) checkImports(url string, source []byte) error {
	file, err := parser.ParseFile(token.NewFileSet(), url, source, parser.ImportsOnly)
	if err != nil {
		return fmt.Errorf("failed to parse remote entry %s: %w", url, err)
	}
	if file.Name.Name != "main" {
		return fmt.Errorf("remote entry %s must be package main, got %s", url, file.Name.Name)
	}

	var forbidden []string
	for _, spec := range file.Imports {
		pkg, err := strconv.Unquote(spec.Path.Value)
		if err != nil {
			return fmt.Errorf("invalid import in %s: %w", url, err)
		}
		if !l.allowed[pkg] {
			forbidden = append(forbidden, pkg)
		}
	}
	if len(forbidden) > 0 {
		sort.Strings(forbidden)
		return fmt.Errorf("remote entry %s imports forbidden packages %v", url, forbidden)
	}
	return nil
}

// entryContainer adapts an interpreted entry to federation.Container
type entryContainer struct {
	scope  string
	url    string
	init   func(map[string]string) error
	expose func(string) bool
	load   func(string) (any, error)

	mu          sync.Mutex
	initialized bool
}

var _ federation.Container = &entryContainer{}

// Init runs the entry's Init once with the shared scope's versions
func (c *entryContainer) Init(_ context.Context, shared *federation.SharedScope) (err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.initialized {
		return nil
	}

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("init of %s panicked: %v", c.scope, r)
		}
	}()
	if err := c.init(shared.Versions()); err != nil {
		return err
	}
	c.initialized = true
	return nil
}

// Get returns a factory for an exposed module
func (c *entryContainer) Get(_ context.Context, module string) (factory federation.Factory, err error) {
	defer func() {
		if r := recover(); r != nil {
			factory, err = nil, fmt.Errorf("expose of %s panicked: %v", c.scope, r)
		}
	}()
	if !c.expose(module) {
		return nil, fmt.Errorf("module %s is not exposed by %s", module, c.scope)
	}
	return func(context.Context) (value any, err error) {
		defer func() {
			if r := recover(); r != nil {
				value, err = nil, fmt.Errorf("load of %s from %s panicked: %v", module, c.scope, r)
			}
		}()
		return c.load(module)
	}, nil
}
