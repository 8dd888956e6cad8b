package resolver

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/chazu/mfhost/api/v1alpha1"
)

// ErrMalformedManifest is returned when a document is not a manifest
var ErrMalformedManifest = errors.New("malformed manifest")

type rawManifest struct {
	MicroFrontends json.RawMessage          `json:"microFrontends"`
	UpdatedAt      string                   `json:"updatedAt,omitempty"`
	FallbackConfig *v1alpha1.FallbackConfig `json:"fallbackConfig,omitempty"`
}

// DecodeManifest parses a manifest document. microFrontends must be a list.
func DecodeManifest(data []byte) (*v1alpha1.RegistryResponse, error) {
	var raw rawManifest
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMalformedManifest, err)
	}

	list := bytes.TrimSpace(raw.MicroFrontends)
	if len(list) == 0 || list[0] != '[' {
		return nil, fmt.Errorf("%w: microFrontends is not a list", ErrMalformedManifest)
	}

	var entries []v1alpha1.RegistryEntry
	if err := json.Unmarshal(list, &entries); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMalformedManifest, err)
	}
	if entries == nil {
		entries = []v1alpha1.RegistryEntry{}
	}

	return &v1alpha1.RegistryResponse{
		MicroFrontends: entries,
		UpdatedAt:      raw.UpdatedAt,
		FallbackConfig: raw.FallbackConfig,
	}, nil
}
