package federation

import (
	"strings"

	"github.com/chazu/mfhost/api/v1alpha1"
)

// Key identifies a cached export
type Key struct {
	Scope  string
	Module string
}

// KeyFor returns the cache key of ref
func KeyFor(ref v1alpha1.ModuleReference) Key {
	return Key{Scope: ref.Scope, Module: ref.Module}
}

// String renders the key as scope/module
func (k Key) String() string {
	return k.Scope + "/" + k.Module
}

// hasScopePrefix reports whether the key's scope starts with prefix
func (k Key) hasScopePrefix(prefix string) bool {
	return strings.HasPrefix(k.Scope, prefix)
}
