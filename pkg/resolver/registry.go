package resolver

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/chazu/mfhost/api/v1alpha1"
)

// maxManifestBody bounds the size of a registry response
const maxManifestBody = 8 << 20

// RegistryClient talks to the registry service
type RegistryClient struct {
	url    string
	client *http.Client
}

// NewRegistryClient creates a client for the registry at url
func NewRegistryClient(url string, client *http.Client) *RegistryClient {
	if client == nil {
		client = http.DefaultClient
	}
	return &RegistryClient{url: url, client: client}
}

// URL returns the registry URL
func (c *RegistryClient) URL() string {
	return c.url
}

// List fetches the registry manifest, bypassing HTTP caches
func (c *RegistryClient) List(ctx context.Context) (*v1alpha1.RegistryResponse, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.url, nil)
	if err != nil {
		return nil, fmt.Errorf("invalid registry URL %s: %w", c.url, err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Cache-Control", "no-cache")
	req.Header.Set("Pragma", "no-cache")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to reach registry: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("registry returned status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxManifestBody))
	if err != nil {
		return nil, fmt.Errorf("failed to read registry response: %w", err)
	}

	return DecodeManifest(body)
}

// Upsert posts one entry to the registry, which upserts it by scope
func (c *RegistryClient) Upsert(ctx context.Context, entry v1alpha1.RegistryEntry) error {
	body, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("failed to encode entry %s: %w", entry.Scope, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("invalid registry URL %s: %w", c.url, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to upsert %s: %w", entry.Scope, err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("failed to upsert %s: status %d", entry.Scope, resp.StatusCode)
	}
	return nil
}
