package federation

import (
	"context"
	"fmt"
	"sync"

	"golang.org/x/sync/singleflight"
)

// Linker fetches a remote entry and executes it. Executing an entry
// registers the remote's container.
type Linker interface {
	Link(ctx context.Context, url string) error
}

// LinkerFunc adapts a function to Linker
type LinkerFunc func(ctx context.Context, url string) error

// Link calls f
func (f LinkerFunc) Link(ctx context.Context, url string) error {
	return f(ctx, url)
}

// Document tracks which remote entries have been linked. An entry is linked
// at most once at a time; a failed link leaves no marker so a later call
// links again.
type Document struct {
	linker Linker
	group  singleflight.Group

	mu     sync.RWMutex
	loaded map[string]struct{}
}

// NewDocument creates a document that links entries with linker
func NewDocument(linker Linker) *Document {
	return &Document{linker: linker, loaded: make(map[string]struct{})}
}

// Ensure links the entry at url unless it is already linked. Concurrent
// callers for one url share a single link.
func (d *Document) Ensure(ctx context.Context, url string) error {
	if d.Loaded(url) {
		return nil
	}

	_, err, _ := d.group.Do(url, func() (any, error) {
		if d.Loaded(url) {
			return nil, nil
		}
		if err := d.linker.Link(ctx, url); err != nil {
			return nil, fmt.Errorf("%w: %s: %w", ErrScriptLoad, url, err)
		}
		d.mu.Lock()
		d.loaded[url] = struct{}{}
		d.mu.Unlock()
		return nil, nil
	})
	return err
}

// Loaded reports whether the entry at url is linked
func (d *Document) Loaded(url string) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	_, ok := d.loaded[url]
	return ok
}

// Remove forgets the entry at url so the next Ensure links it again
func (d *Document) Remove(url string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.loaded, url)
}
