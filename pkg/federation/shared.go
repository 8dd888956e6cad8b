package federation

import (
	"sort"
	"sync"
)

// DefaultShareScope is the name of the scope shared with every container
const DefaultShareScope = "default"

// SharedEventBus is the name the host's event bus is provided under
const SharedEventBus = "eventBus"

// SharedModule is a dependency the host provides to containers
type SharedModule struct {
	Version string
	Value   any
}

// SharedScope holds the dependencies shared between the host and containers
type SharedScope struct {
	name string

	mu          sync.RWMutex
	modules     map[string]SharedModule
	initialized bool
}

// NewSharedScope creates an empty shared scope named name
func NewSharedScope(name string) *SharedScope {
	if name == "" {
		name = DefaultShareScope
	}
	return &SharedScope{name: name, modules: make(map[string]SharedModule)}
}

// Name returns the scope name
func (s *SharedScope) Name() string {
	return s.name
}

// Provide makes value available to containers under name
func (s *SharedScope) Provide(name, version string, value any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.modules[name] = SharedModule{Version: version, Value: value}
}

// Init marks the scope ready for container handshakes. Calls after the
// first are no-ops.
func (s *SharedScope) Init() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.initialized {
		return false
	}
	s.initialized = true
	return true
}

// Initialized reports whether Init has run
func (s *SharedScope) Initialized() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.initialized
}

// Get returns the shared module provided under name
func (s *SharedScope) Get(name string) (SharedModule, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	m, ok := s.modules[name]
	return m, ok
}

// Versions returns the provided modules as name to version
func (s *SharedScope) Versions() map[string]string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]string, len(s.modules))
	for name, m := range s.modules {
		out[name] = m.Version
	}
	return out
}

// Names returns the provided module names in sorted order
func (s *SharedScope) Names() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	names := make([]string, 0, len(s.modules))
	for name := range s.modules {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
