/*
Copyright 2025.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package v1alpha1

import "slices"

// GetName returns the entry name, falling back to the scope
func (e *RegistryEntry) GetName() string {
	if e.Name != "" {
		return e.Name
	}
	return e.Scope
}

// GetDisplayName returns the display name, falling back to the name
func (e *RegistryEntry) GetDisplayName() string {
	if e.DisplayName != "" {
		return e.DisplayName
	}
	return e.GetName()
}

// ExportPaths returns the export paths this entry can serve
func (e *RegistryEntry) ExportPaths() []string {
	if e.Module != "" {
		return []string{e.Module}
	}
	return slices.Clone(e.Modules)
}

// References expands the entry into one ModuleReference per export path
func (e *RegistryEntry) References() []ModuleReference {
	paths := e.ExportPaths()
	refs := make([]ModuleReference, 0, len(paths))
	for _, p := range paths {
		refs = append(refs, ModuleReference{
			Name:        e.GetName(),
			DisplayName: e.GetDisplayName(),
			Scope:       e.Scope,
			Module:      p,
			URL:         e.URL,
			Routes:      slices.Clone(e.Routes),
			Roles:       slices.Clone(e.Roles),
		})
	}
	return refs
}

// AllowsRole reports whether a user with role may see the reference.
// An empty role list admits everyone.
func (r *ModuleReference) AllowsRole(role string) bool {
	if len(r.Roles) == 0 {
		return true
	}
	return slices.Contains(r.Roles, role)
}

// Lookup returns the entry for scope
func (m *RegistryResponse) Lookup(scope string) (*RegistryEntry, bool) {
	for i := range m.MicroFrontends {
		if m.MicroFrontends[i].Scope == scope {
			return &m.MicroFrontends[i], true
		}
	}
	return nil, false
}

// References flattens all entries into module references in manifest order
func (m *RegistryResponse) References() []ModuleReference {
	var refs []ModuleReference
	for i := range m.MicroFrontends {
		refs = append(refs, m.MicroFrontends[i].References()...)
	}
	return refs
}

// Scopes returns the scopes in manifest order
func (m *RegistryResponse) Scopes() []string {
	scopes := make([]string, 0, len(m.MicroFrontends))
	for _, e := range m.MicroFrontends {
		scopes = append(scopes, e.Scope)
	}
	return scopes
}
