// Package schema validates manifest documents against the embedded CUE
// definitions before they reach the loader.
package schema

import (
	"fmt"
	"strings"
	"sync"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	cueerrors "cuelang.org/go/cue/errors"
	cuejson "cuelang.org/go/encoding/json"

	"github.com/chazu/mfhost/api/v1alpha1"
	mfcue "github.com/chazu/mfhost/cue"
)

// Violation describes why a manifest entry was rejected
type Violation struct {
	Scope   string
	Path    string
	Message string
}

func (v Violation) String() string {
	if v.Path == "" {
		return fmt.Sprintf("%s: %s", v.Scope, v.Message)
	}
	return fmt.Sprintf("%s: %s: %s", v.Scope, v.Path, v.Message)
}

// Validator checks manifests against the #Entry and #Manifest definitions.
// A cue.Context is not safe for concurrent use, so calls are serialized.
type Validator struct {
	mu       sync.Mutex
	ctx      *cue.Context
	entry    cue.Value
	manifest cue.Value
}

// NewValidator compiles the embedded schema
func NewValidator() (*Validator, error) {
	src, err := mfcue.SchemaFS.ReadFile(mfcue.SchemaFile)
	if err != nil {
		return nil, fmt.Errorf("failed to read manifest schema: %w", err)
	}

	ctx := cuecontext.New()
	value := ctx.CompileBytes(src, cue.Filename(mfcue.SchemaFile))
	if value.Err() != nil {
		return nil, fmt.Errorf("failed to compile manifest schema: %w", value.Err())
	}

	entry := value.LookupPath(cue.ParsePath("#Entry"))
	if !entry.Exists() {
		return nil, fmt.Errorf("no #Entry definition found in manifest schema")
	}
	manifest := value.LookupPath(cue.ParsePath("#Manifest"))
	if !manifest.Exists() {
		return nil, fmt.Errorf("no #Manifest definition found in manifest schema")
	}

	return &Validator{ctx: ctx, entry: entry, manifest: manifest}, nil
}

// ValidateEntry returns the violations of a single entry, or nil
func (v *Validator) ValidateEntry(e v1alpha1.RegistryEntry) []Violation {
	v.mu.Lock()
	defer v.mu.Unlock()

	var violations []Violation

	encoded := v.ctx.Encode(e)
	if err := v.entry.Unify(encoded).Validate(cue.Concrete(true)); err != nil {
		violations = append(violations, toViolations(e.Scope, err)...)
	}

	return violations
}

// FilterEntries splits entries into the valid ones, in order, and the
// violations of the rejected ones
func (v *Validator) FilterEntries(entries []v1alpha1.RegistryEntry) ([]v1alpha1.RegistryEntry, []Violation) {
	valid := make([]v1alpha1.RegistryEntry, 0, len(entries))
	var violations []Violation
	for _, e := range entries {
		if vs := v.ValidateEntry(e); len(vs) > 0 {
			violations = append(violations, vs...)
			continue
		}
		valid = append(valid, e)
	}
	return valid, violations
}

// ValidateManifest validates a raw JSON manifest document as a whole
func (v *Validator) ValidateManifest(data []byte) error {
	expr, err := cuejson.Extract("manifest.json", data)
	if err != nil {
		return fmt.Errorf("failed to parse manifest: %w", err)
	}

	v.mu.Lock()
	defer v.mu.Unlock()

	doc := v.ctx.BuildExpr(expr)
	if doc.Err() != nil {
		return fmt.Errorf("failed to build manifest: %w", doc.Err())
	}
	if err := v.manifest.Unify(doc).Validate(cue.Concrete(true)); err != nil {
		return fmt.Errorf("manifest does not match schema: %w", err)
	}
	return nil
}

func toViolations(scope string, err error) []Violation {
	errs := cueerrors.Errors(err)
	violations := make([]Violation, 0, len(errs))
	for _, e := range errs {
		format, args := e.Msg()
		violations = append(violations, Violation{
			Scope:   scope,
			Path:    strings.Join(e.Path(), "."),
			Message: fmt.Sprintf(format, args...),
		})
	}
	return violations
}
