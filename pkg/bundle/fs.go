package bundle

import (
	"context"
	"fmt"
	"io/fs"
	"net/url"
	"os"
	"strings"
)

// FileFetcher reads file:// references from the local filesystem
type FileFetcher struct {
	fsys fs.FS
}

// NewFileFetcher creates a fetcher rooted at the filesystem root
func NewFileFetcher() *FileFetcher {
	return &FileFetcher{fsys: os.DirFS("/")}
}

// NewFileFetcherFS creates a file fetcher over fsys. Paths in references are
// interpreted relative to its root.
func NewFileFetcherFS(fsys fs.FS) *FileFetcher {
	return &FileFetcher{fsys: fsys}
}

// Type returns the fetcher type
func (f *FileFetcher) Type() string {
	return "file"
}

// Fetch reads the file named by ref. A directory resolves to its remote entry.
// ref format: file:///abs/path/remoteEntry.go
func (f *FileFetcher) Fetch(_ context.Context, ref string) (*FetchResult, error) {
	u, err := url.Parse(ref)
	if err != nil {
		return nil, fmt.Errorf("invalid file reference: %w", err)
	}
	name := strings.TrimPrefix(u.Host+u.Path, "/")

	content, err := readEntry(f.fsys, name)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", ref, err)
	}

	return &FetchResult{
		Content: content,
		Digest:  contentDigest("file", content),
		Source:  ref,
	}, nil
}

// EmbeddedFetcher reads content bundled into the binary
type EmbeddedFetcher struct {
	fsys fs.FS
}

// NewEmbeddedFetcher creates an embedded fetcher over fsys
func NewEmbeddedFetcher(fsys fs.FS) *EmbeddedFetcher {
	return &EmbeddedFetcher{fsys: fsys}
}

// Type returns the fetcher type
func (f *EmbeddedFetcher) Type() string {
	return "embedded"
}

// Fetch reads the embedded file named by ref
// ref format: embedded:static/config.json
func (f *EmbeddedFetcher) Fetch(_ context.Context, ref string) (*FetchResult, error) {
	name := strings.TrimPrefix(ref, "embedded:")
	if name == "" {
		return nil, fmt.Errorf("embedded reference is empty")
	}

	content, err := readEntry(f.fsys, name)
	if err != nil {
		return nil, fmt.Errorf("embedded content %s not found: %w", name, err)
	}

	return &FetchResult{
		Content: content,
		Digest:  contentDigest("embedded:"+name, content),
		Source:  fmt.Sprintf("embedded://%s", name),
	}, nil
}
