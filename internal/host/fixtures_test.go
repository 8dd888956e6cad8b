package host

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/chazu/mfhost/api/v1alpha1"
	"github.com/chazu/mfhost/internal/config"
)

// remoteEntry renders a remote entry exposing modules that evaluate to
// "<scope>:<module>:<version>"
func remoteEntry(scope, version string, modules ...string) string {
	quoted := make([]string, 0, len(modules))
	for _, m := range modules {
		quoted = append(quoted, fmt.Sprintf("%q: true", m))
	}
	return fmt.Sprintf(`package main

import "errors"

var Scope = %q

var exposed = map[string]bool{%s}

func Init(shared map[string]string) error {
	if _, ok := shared["eventBus"]; !ok {
		return errors.New("eventBus is not shared")
	}
	return nil
}

func Expose(module string) bool {
	return exposed[module]
}

func Load(module string) (any, error) {
	return Scope + ":" + module + ":" + %q, nil
}
`, scope, strings.Join(quoted, ", "), version)
}

// remoteServer serves remote entries by path
type remoteServer struct {
	mu      sync.Mutex
	entries map[string]string
}

func (s *remoteServer) set(path, source string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[path] = source
}

func (s *remoteServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()
	source, ok := s.entries[r.URL.Path]
	if !ok {
		http.NotFound(w, r)
		return
	}
	_, _ = w.Write([]byte(source))
}

// registryServer is an in-memory registry with upsert-by-scope semantics
type registryServer struct {
	mu      sync.Mutex
	entries []v1alpha1.RegistryEntry
}

func (s *registryServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch r.Method {
	case http.MethodGet:
		entries := append([]v1alpha1.RegistryEntry{}, s.entries...)
		_ = json.NewEncoder(w).Encode(v1alpha1.RegistryResponse{MicroFrontends: entries, UpdatedAt: "2026-10-18T09:00:00Z"})
	case http.MethodPost:
		var e v1alpha1.RegistryEntry
		if err := json.NewDecoder(r.Body).Decode(&e); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		for i := range s.entries {
			if s.entries[i].Scope == e.Scope {
				s.entries[i] = e
				return
			}
		}
		s.entries = append(s.entries, e)
		w.WriteHeader(http.StatusCreated)
	}
}

func (s *registryServer) scopes() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	scopes := make([]string, 0, len(s.entries))
	for _, e := range s.entries {
		scopes = append(scopes, e.Scope)
	}
	return scopes
}

func testConfig(cacheDir string) *config.Config {
	cfg := config.Defaults()
	cfg.CacheDir = cacheDir
	cfg.Loader.RetryDelay.Duration = time.Millisecond
	cfg.Loader.PollInterval.Duration = 5 * time.Millisecond
	cfg.Loader.ContainerTimeout.Duration = 200 * time.Millisecond
	return cfg
}
