// Package cue provides the embedded manifest schema and the default static
// manifest.
package cue

import "embed"

// SchemaFS contains the CUE definitions used to validate manifest entries.
//
//go:embed schema/*.cue
var SchemaFS embed.FS

// SchemaFile is the path of the manifest schema within SchemaFS.
const SchemaFile = "schema/manifest.cue"

// StaticFS contains the default static manifest served when no other
// static source is configured.
//
//go:embed static/config.json
var StaticFS embed.FS

// StaticManifest is the path of the default manifest within StaticFS.
const StaticManifest = "static/config.json"
