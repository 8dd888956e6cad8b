package bundle

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/go-logr/logr"
	"k8s.io/utils/clock"
	logf "sigs.k8s.io/controller-runtime/pkg/log"
)

// Entry cache defaults
const (
	DefaultCacheDir        = "/tmp/mfhost-entry-cache"
	DefaultCacheMaxEntries = 100
	DefaultCacheTTL        = 24 * time.Hour

	cacheIndexFile    = "index.json"
	cacheIndexVersion = 2
)

// ErrCacheMiss is returned for a key that is absent, expired or whose stored
// content no longer matches its digest
var ErrCacheMiss = errors.New("cache miss")

// EntryCache keeps fetched remote entries on disk across restarts. Keys name
// an immutable revision (a commit or manifest digest) and map to blobs stored
// by content digest, so revisions publishing the same entry share one file.
// The least recently read key is evicted once MaxEntries is reached.
type EntryCache struct {
	dir        string
	maxEntries int
	ttl        time.Duration
	clock      clock.PassiveClock
	log        logr.Logger

	mu      sync.Mutex
	records map[string]*cacheRecord
	// tick orders reads; the record with the lowest tick is evicted first
	tick uint64
}

type cacheRecord struct {
	Key      string    `json:"key"`
	Blob     string    `json:"blob"`
	Size     int64     `json:"size"`
	StoredAt time.Time `json:"storedAt"`
	ReadAt   time.Time `json:"readAt"`

	tick uint64
}

type cacheIndex struct {
	Version int            `json:"version"`
	Records []*cacheRecord `json:"records"`
}

// CacheOption configures an EntryCache
type CacheOption func(*EntryCache)

// WithMaxEntries bounds the number of cached keys
func WithMaxEntries(n int) CacheOption {
	return func(c *EntryCache) {
		if n > 0 {
			c.maxEntries = n
		}
	}
}

// WithTTL sets how long an entry is served after it was stored
func WithTTL(ttl time.Duration) CacheOption {
	return func(c *EntryCache) {
		if ttl > 0 {
			c.ttl = ttl
		}
	}
}

// WithCacheClock replaces the clock used for expiry
func WithCacheClock(clk clock.PassiveClock) CacheOption {
	return func(c *EntryCache) { c.clock = clk }
}

// NewEntryCache opens the cache in dir, creating it if needed. A missing or
// unreadable index starts an empty cache.
func NewEntryCache(dir string, opts ...CacheOption) *EntryCache {
	if dir == "" {
		dir = DefaultCacheDir
	}
	c := &EntryCache{
		dir:        dir,
		maxEntries: DefaultCacheMaxEntries,
		ttl:        DefaultCacheTTL,
		clock:      clock.RealClock{},
		log:        logf.Log.WithName("entry-cache"),
		records:    make(map[string]*cacheRecord),
	}
	for _, opt := range opts {
		opt(c)
	}

	if err := os.MkdirAll(dir, 0o755); err != nil {
		c.log.Error(err, "Entry cache disabled, directory not writable", "dir", dir)
		return c
	}
	if err := c.load(); err != nil {
		c.log.Info("Discarding entry cache index", "dir", dir, "error", err.Error())
	}
	return c
}

// Get returns the entry stored under key
func (c *EntryCache) Get(key string) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	rec, ok := c.records[key]
	if !ok {
		RecordCacheMiss()
		return nil, fmt.Errorf("%w: %s", ErrCacheMiss, key)
	}
	if c.expired(rec) {
		c.dropLocked(key)
		RecordCacheMiss()
		return nil, fmt.Errorf("%w: %s expired", ErrCacheMiss, key)
	}

	content, err := os.ReadFile(c.blobPath(rec.Blob))
	if err == nil && blobName(content) != rec.Blob {
		err = errors.New("content does not match its digest")
	}
	if err != nil {
		c.log.Info("Dropping unreadable cache entry", "key", key, "error", err.Error())
		c.dropLocked(key)
		RecordCacheMiss()
		return nil, fmt.Errorf("%w: %s", ErrCacheMiss, key)
	}

	c.tick++
	rec.tick = c.tick
	rec.ReadAt = c.clock.Now()
	RecordCacheHit()
	return content, nil
}

// Set stores content under key, replacing any previous entry
func (c *EntryCache) Set(key string, content []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	blob := blobName(content)
	path := c.blobPath(blob)
	if _, err := os.Stat(path); err != nil {
		if err := writeFileAtomic(path, content); err != nil {
			return fmt.Errorf("failed to store entry: %w", err)
		}
	}

	if old, ok := c.records[key]; ok && old.Blob != blob {
		c.dropLocked(key)
	}
	for len(c.records) >= c.maxEntries && c.records[key] == nil {
		c.evictLocked()
	}

	now := c.clock.Now()
	c.tick++
	c.records[key] = &cacheRecord{Key: key, Blob: blob, Size: int64(len(content)), StoredAt: now, ReadAt: now, tick: c.tick}

	if err := c.saveLocked(); err != nil {
		c.log.Error(err, "Failed to write entry cache index")
	}
	c.reportLocked()
	return nil
}

// Len returns the number of cached keys
func (c *EntryCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.records)
}

func (c *EntryCache) expired(rec *cacheRecord) bool {
	return c.clock.Since(rec.StoredAt) > c.ttl
}

// dropLocked forgets key and removes its blob unless another key shares it
func (c *EntryCache) dropLocked(key string) {
	rec, ok := c.records[key]
	if !ok {
		return
	}
	delete(c.records, key)
	for _, other := range c.records {
		if other.Blob == rec.Blob {
			return
		}
	}
	_ = os.Remove(c.blobPath(rec.Blob))
}

func (c *EntryCache) evictLocked() {
	var oldest *cacheRecord
	for _, rec := range c.records {
		if oldest == nil || rec.tick < oldest.tick {
			oldest = rec
		}
	}
	if oldest == nil {
		return
	}
	c.dropLocked(oldest.Key)
	RecordCacheEviction()
}

func (c *EntryCache) reportLocked() {
	var size int64
	for _, rec := range c.records {
		size += rec.Size
	}
	UpdateCacheStats(len(c.records), size)
}

// load restores the index, skipping expired records and missing blobs.
// Recency survives through ReadAt.
func (c *EntryCache) load() error {
	data, err := os.ReadFile(filepath.Join(c.dir, cacheIndexFile))
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return err
	}
	var index cacheIndex
	if err := json.Unmarshal(data, &index); err != nil {
		return err
	}
	if index.Version != cacheIndexVersion {
		return fmt.Errorf("index version %d, want %d", index.Version, cacheIndexVersion)
	}

	sort.Slice(index.Records, func(i, j int) bool { return index.Records[i].ReadAt.Before(index.Records[j].ReadAt) })
	for _, rec := range index.Records {
		if c.expired(rec) {
			continue
		}
		if _, err := os.Stat(c.blobPath(rec.Blob)); err != nil {
			continue
		}
		c.tick++
		rec.tick = c.tick
		c.records[rec.Key] = rec
	}
	c.reportLocked()
	return nil
}

func (c *EntryCache) saveLocked() error {
	index := cacheIndex{Version: cacheIndexVersion, Records: make([]*cacheRecord, 0, len(c.records))}
	for _, rec := range c.records {
		index.Records = append(index.Records, rec)
	}
	sort.Slice(index.Records, func(i, j int) bool { return index.Records[i].Key < index.Records[j].Key })

	data, err := json.MarshalIndent(index, "", "  ")
	if err != nil {
		return err
	}
	return writeFileAtomic(filepath.Join(c.dir, cacheIndexFile), data)
}

func (c *EntryCache) blobPath(blob string) string {
	return filepath.Join(c.dir, blob)
}

// blobName is the file name of content, derived from its xxhash
func blobName(content []byte) string {
	return fmt.Sprintf("%016x.entry", xxhash.Sum64(content))
}

func writeFileAtomic(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".*.tmp")
	if err != nil {
		return err
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	return os.Rename(tmp.Name(), path)
}
