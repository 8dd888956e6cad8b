package bundle

import (
	"context"
	"fmt"
	"strings"
)

// InlineFetcher handles sources carried directly in the reference
type InlineFetcher struct{}

// NewInlineFetcher creates a new inline fetcher
func NewInlineFetcher() *InlineFetcher {
	return &InlineFetcher{}
}

// Type returns the fetcher type
func (f *InlineFetcher) Type() string {
	return "inline"
}

// Fetch returns the inline content directly
// ref format: inline:<content>
func (f *InlineFetcher) Fetch(_ context.Context, ref string) (*FetchResult, error) {
	source := strings.TrimPrefix(ref, "inline:")
	if strings.TrimSpace(source) == "" {
		return nil, fmt.Errorf("inline content is empty")
	}

	content := []byte(source)
	return &FetchResult{
		Content: content,
		Digest:  contentDigest("inline", content),
		Source:  "inline",
	}, nil
}
