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

// Package v1alpha1 contains the wire types shared by the registry service,
// the static manifest and the event bus.
package v1alpha1

// RegistryEntry describes one remote as the registry service and the static
// manifest publish it
type RegistryEntry struct {
	// Name is the human identifier of the remote. Defaults to Scope.
	// +optional
	Name string `json:"name,omitempty"`

	// DisplayName is shown in navigation. Defaults to Name.
	// +optional
	DisplayName string `json:"displayName,omitempty"`

	// Scope is the container identifier the remote entry registers.
	// Unique within a manifest.
	Scope string `json:"scope"`

	// URL locates the remote entry. Supported schemes depend on the
	// configured fetchers (http, https, file, inline, configmap, git+https, oci).
	URL string `json:"url"`

	// Module is the exposed export path, e.g. "./Login"
	// +optional
	Module string `json:"module,omitempty"`

	// Modules lists candidate export paths when Module is empty
	// +optional
	Modules []string `json:"modules,omitempty"`

	// Routes the host mounts this remote under
	// +optional
	Routes []string `json:"routes,omitempty"`

	// Roles allowed to see the remote. Empty means everyone.
	// +optional
	Roles []string `json:"roles,omitempty"`
}

// RegistryResponse is the manifest document returned by the registry
// service and by the static /config.json
type RegistryResponse struct {
	MicroFrontends []RegistryEntry `json:"microFrontends"`

	// UpdatedAt is set by the registry service
	// +optional
	UpdatedAt string `json:"updatedAt,omitempty"`

	// FallbackConfig carries host-side loading hints from the static manifest
	// +optional
	FallbackConfig *FallbackConfig `json:"fallbackConfig,omitempty"`
}

// FallbackConfig holds the static manifest's loader hints
type FallbackConfig struct {
	ShowErrorBoundary bool `json:"showErrorBoundary,omitempty"`
	RetryAttempts     int  `json:"retryAttempts,omitempty"`
	// RetryDelay in milliseconds
	RetryDelay int `json:"retryDelay,omitempty"`
}

// ModuleReference identifies exactly one loadable export of a remote
type ModuleReference struct {
	Name        string   `json:"name"`
	DisplayName string   `json:"displayName"`
	Scope       string   `json:"scope"`
	Module      string   `json:"module"`
	URL         string   `json:"url"`
	Routes      []string `json:"routes,omitempty"`
	Roles       []string `json:"roles,omitempty"`
}
