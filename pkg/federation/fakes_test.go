package federation

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/chazu/mfhost/api/v1alpha1"
)

// fakeContainer exposes fixed values
type fakeContainer struct {
	mu      sync.Mutex
	inits   int
	gets    int
	initErr error
	exports map[string]any
}

func newFakeContainer(exports map[string]any) *fakeContainer {
	return &fakeContainer{exports: exports}
}

func (c *fakeContainer) Init(_ context.Context, shared *SharedScope) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.inits++
	if !shared.Initialized() {
		return errors.New("shared scope not initialized")
	}
	return c.initErr
}

func (c *fakeContainer) Get(_ context.Context, module string) (Factory, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.gets++
	value, ok := c.exports[module]
	if !ok {
		return nil, fmt.Errorf("module %s does not exist in container", module)
	}
	return func(context.Context) (any, error) { return value, nil }, nil
}

func (c *fakeContainer) Inits() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.inits
}

// fakeLinker registers a container per URL when linking succeeds
type fakeLinker struct {
	containers *Containers

	mu        sync.Mutex
	remotes   map[string]fakeRemote
	links     map[string]int
	failures  int
	failAll   bool
	gate      chan struct{}
	linking   chan struct{}
	linkingOK sync.Once
}

type fakeRemote struct {
	scope     string
	container Container
}

func newFakeLinker(containers *Containers) *fakeLinker {
	return &fakeLinker{
		containers: containers,
		remotes:    make(map[string]fakeRemote),
		links:      make(map[string]int),
		linking:    make(chan struct{}),
	}
}

func (f *fakeLinker) add(url, scope string, c Container) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.remotes[url] = fakeRemote{scope: scope, container: c}
}

func (f *fakeLinker) Link(_ context.Context, url string) error {
	f.linkingOK.Do(func() { close(f.linking) })

	f.mu.Lock()
	f.links[url]++
	gate := f.gate
	f.mu.Unlock()

	if gate != nil {
		<-gate
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failAll {
		return errors.New("connection refused")
	}
	if f.failures > 0 {
		f.failures--
		return errors.New("connection reset")
	}
	remote, ok := f.remotes[url]
	if !ok {
		return fmt.Errorf("no remote at %s", url)
	}
	if remote.container != nil {
		f.containers.Register(remote.scope, remote.container)
	}
	return nil
}

func (f *fakeLinker) setFailAll(v bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failAll = v
}

func (f *fakeLinker) Links(url string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.links[url]
}

type loginComponent struct{ name string }

func authRef() v1alpha1.ModuleReference {
	return v1alpha1.ModuleReference{
		Name:   "auth",
		Scope:  "authApp",
		Module: "./Login",
		URL:    "http://localhost:3001/remoteEntry.go",
	}
}

// newTestLoader wires a loader to a linker serving authRef
func newTestLoader(t *testing.T, opts ...Option) (*Loader, *fakeLinker, *fakeContainer) {
	t.Helper()
	containers := NewContainers()
	linker := newFakeLinker(containers)
	container := newFakeContainer(map[string]any{"./Login": &loginComponent{name: "login"}})
	linker.add(authRef().URL, authRef().Scope, container)

	opts = append([]Option{
		WithContainers(containers),
		WithRetryDelay(time.Millisecond),
		WithPollInterval(time.Millisecond),
		WithContainerTimeout(50 * time.Millisecond),
	}, opts...)
	return NewLoader(linker, opts...), linker, container
}

// eventually polls cond until it holds or the test times out
func eventually(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting: %s", msg)
		}
		time.Sleep(time.Millisecond)
	}
}
