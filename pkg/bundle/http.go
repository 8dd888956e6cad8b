package bundle

import (
	"context"
	"fmt"
	"io"
	"net/http"
)

// maxHTTPBody bounds the size of a fetched entry or manifest
const maxHTTPBody = 16 << 20

// HTTPFetcher fetches content over http and https
type HTTPFetcher struct {
	client *http.Client
}

// NewHTTPFetcher creates a new HTTP fetcher
func NewHTTPFetcher(client *http.Client) *HTTPFetcher {
	if client == nil {
		client = http.DefaultClient
	}
	return &HTTPFetcher{client: client}
}

// Type returns the fetcher type
func (f *HTTPFetcher) Type() string {
	return "http"
}

// Fetch performs an uncached GET of ref and requires a 2xx response
func (f *HTTPFetcher) Fetch(ctx context.Context, ref string) (*FetchResult, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, ref, nil)
	if err != nil {
		return nil, fmt.Errorf("invalid URL %s: %w", ref, err)
	}
	req.Header.Set("Cache-Control", "no-cache")
	req.Header.Set("Pragma", "no-cache")

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch %s: %w", ref, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("failed to fetch %s: status %d", ref, resp.StatusCode)
	}

	content, err := io.ReadAll(io.LimitReader(resp.Body, maxHTTPBody))
	if err != nil {
		return nil, fmt.Errorf("failed to read body of %s: %w", ref, err)
	}

	return &FetchResult{
		Content: content,
		Digest:  contentDigest("http", content),
		Source:  ref,
	}, nil
}
