// Package resolver produces the authoritative list of remotes by reconciling
// the live registry service with the static fallback manifest, and seeds an
// empty registry from the static manifest.
//
// The registry is advisory: any registry failure, including an empty
// registry, falls back to the static manifest. When both are available the
// registry wins per scope and static-only scopes are kept.
package resolver
