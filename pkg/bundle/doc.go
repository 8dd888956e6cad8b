// Package bundle fetches remote entries and manifests from the locations a
// manifest may point at: HTTP servers, local files, embedded filesystems,
// inline sources, ConfigMaps, Git repositories and OCI registries. Entries
// pulled from Git and OCI are kept in an on-disk EntryCache keyed by commit or
// manifest digest.
package bundle
