package federation

import (
	"context"
	"sort"
	"sync"
)

// Factory instantiates an export
type Factory func(ctx context.Context) (any, error)

// Container is the runtime object a remote registers under its scope
type Container interface {
	// Init joins the container to the host's shared scope
	Init(ctx context.Context, shared *SharedScope) error
	// Get returns the factory for an exposed module
	Get(ctx context.Context, module string) (Factory, error)
}

// Containers is the registry of linked containers by scope
type Containers struct {
	mu         sync.RWMutex
	containers map[string]Container
}

// NewContainers creates an empty container registry
func NewContainers() *Containers {
	return &Containers{containers: make(map[string]Container)}
}

// Register binds c to scope, replacing any previous container
func (c *Containers) Register(scope string, container Container) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.containers[scope] = container
}

// Lookup returns the container registered for scope
func (c *Containers) Lookup(scope string) (Container, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	container, ok := c.containers[scope]
	return container, ok
}

// Remove drops the container registered for scope
func (c *Containers) Remove(scope string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.containers, scope)
}

// Scopes returns the registered scopes in sorted order
func (c *Containers) Scopes() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	scopes := make([]string, 0, len(c.containers))
	for scope := range c.containers {
		scopes = append(scopes, scope)
	}
	sort.Strings(scopes)
	return scopes
}
