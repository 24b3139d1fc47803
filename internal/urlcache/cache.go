package urlcache

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/tweetarchive/tweets/pkg/logging"
	"go.uber.org/zap"
)

// ErrCorrupt is returned by Load when the cache file exists but cannot be
// parsed. The returned cache is empty and usable.
var ErrCorrupt = errors.New("url cache unreadable")

// Cache maps URLs as they appear in source text to their resolution
type Cache struct {
	mu      sync.RWMutex
	entries map[string]Value
	path    string
	dryRun  bool
	mirror  *Mirror
	dirty   bool
}

// Option configures a Cache
type Option func(*Cache)

// WithDryRun disables Flush
func WithDryRun(dryRun bool) Option {
	return func(c *Cache) { c.dryRun = dryRun }
}

// WithMirror attaches a Redis mirror consulted on misses and written through on Set
func WithMirror(m *Mirror) Option {
	return func(c *Cache) { c.mirror = m }
}

// New returns an empty cache persisted at path
func New(path string, opts ...Option) *Cache {
	c := &Cache{entries: make(map[string]Value), path: path}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Load reads the cache file at path. A missing file yields an empty cache.
// A malformed file yields an empty cache together with ErrCorrupt.
func Load(path string, opts ...Option) (*Cache, error) {
	c := New(path, opts...)
	logger := logging.WithComponent("urlcache")

	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		logger.Debug("No url cache yet", zap.String("path", path))
		return c, nil
	}
	if err != nil {
		return c, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return c, nil
	}

	var entries map[string]Value
	if err := json.Unmarshal(data, &entries); err != nil {
		logger.Error("Url cache is not valid JSON, starting empty", zap.String("path", path), zap.Error(err))
		return c, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	if entries != nil {
		c.entries = entries
	}

	pruned := c.Heal()
	logger.Info("Loaded url cache",
		zap.String("path", path),
		zap.Int("entries", len(c.entries)),
		zap.Int("pruned", pruned))
	return c, nil
}

// Heal prunes entries that can never be useful: two-entry cycles (a -> b,
// b -> a) and string targets that do not parse as an absolute URL. Entries
// mapping to themselves are kept. It returns the number of entries removed.
func (c *Cache) Heal() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	var drop []string
	for key, v := range c.entries {
		target, ok := v.URL()
		if !ok || target == key {
			continue
		}
		if !isAbsoluteURL(target) {
			drop = append(drop, key)
			continue
		}
		if back, exists := c.entries[target]; exists {
			if u, ok := back.URL(); ok && u == key {
				drop = append(drop, key)
			}
		}
	}
	for _, key := range drop {
		delete(c.entries, key)
	}
	if len(drop) > 0 {
		c.dirty = true
	}
	return len(drop)
}

func isAbsoluteURL(s string) bool {
	u, err := url.Parse(s)
	return err == nil && u.Scheme != "" && u.Host != ""
}

// Get returns the entry for url. On a local miss the mirror is consulted and
// a hit is adopted locally.
func (c *Cache) Get(url string) (Value, bool) {
	c.mu.RLock()
	v, ok := c.entries[url]
	c.mu.RUnlock()
	if ok || c.mirror == nil {
		return v, ok
	}

	mv, err := c.mirror.Get(context.Background(), url)
	if err != nil {
		if !errors.Is(err, ErrNotFound) {
			logging.WithComponent("urlcache").Debug("Mirror lookup failed", zap.String("url", url), zap.Error(err))
		}
		return Value{}, false
	}
	c.mu.Lock()
	c.entries[url] = mv
	c.dirty = true
	c.mu.Unlock()
	return mv, true
}

// Set stores the entry for url and writes it through to the mirror
func (c *Cache) Set(url string, v Value) {
	c.mu.Lock()
	c.entries[url] = v
	c.dirty = true
	c.mu.Unlock()

	if c.mirror != nil && !v.IsPending() {
		if err := c.mirror.Set(context.Background(), url, v); err != nil {
			logging.WithComponent("urlcache").Debug("Mirror write failed", zap.String("url", url), zap.Error(err))
		}
	}
}

// MarkPending registers url for resolution unless it already has an entry.
// It reports whether a new entry was created.
func (c *Cache) MarkPending(url string) bool {
	if _, ok := c.Get(url); ok {
		return false
	}
	c.Set(url, Pending())
	return true
}

// Delete removes the entry for url
func (c *Cache) Delete(url string) {
	c.mu.Lock()
	delete(c.entries, url)
	c.dirty = true
	c.mu.Unlock()
}

// Len returns the number of entries
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// Keys returns every cached URL in sorted order
func (c *Cache) Keys() []string {
	c.mu.RLock()
	keys := make([]string, 0, len(c.entries))
	for k := range c.entries {
		keys = append(keys, k)
	}
	c.mu.RUnlock()
	sort.Strings(keys)
	return keys
}

// Snapshot returns a copy of all entries
func (c *Cache) Snapshot() map[string]Value {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make(map[string]Value, len(c.entries))
	for k, v := range c.entries {
		out[k] = v
	}
	return out
}

// Path returns the file the cache is persisted to
func (c *Cache) Path() string {
	return c.path
}

// Flush writes the cache as pretty JSON through a temp file and rename.
// Nothing is written in dry-run mode.
func (c *Cache) Flush() error {
	logger := logging.WithComponent("urlcache")
	if c.dryRun {
		logger.Debug("Dry run, url cache not written", zap.String("path", c.path))
		return nil
	}

	c.mu.RLock()
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "    ")
	err := enc.Encode(c.entries)
	count := len(c.entries)
	c.mu.RUnlock()
	if err != nil {
		return fmt.Errorf("failed to encode url cache: %w", err)
	}

	if err := WriteFileAtomic(c.path, buf.Bytes()); err != nil {
		return fmt.Errorf("failed to write url cache: %w", err)
	}

	c.mu.Lock()
	c.dirty = false
	c.mu.Unlock()

	logger.Debug("Saved url cache", zap.String("path", c.path), zap.Int("entries", count))
	return nil
}

// Dirty reports whether the cache changed since the last flush
func (c *Cache) Dirty() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.dirty
}

// WriteFileAtomic writes data to a temp file in the target directory and
// renames it over path.
func WriteFileAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return err
	}
	if err := os.Chmod(tmpName, 0o644); err != nil {
		os.Remove(tmpName)
		return err
	}
	return os.Rename(tmpName, path)
}

// Summary counts source hosts, target hosts and status codes
type Summary struct {
	Sources map[string]int
	Targets map[string]int
	Codes   map[int]int
	Pending int
}

// Summarize builds a Summary of the current entries
func (c *Cache) Summarize() Summary {
	s := Summary{Sources: map[string]int{}, Targets: map[string]int{}, Codes: map[int]int{}}
	for key, v := range c.Snapshot() {
		if u, err := url.Parse(key); err == nil && u.Host != "" {
			s.Sources[u.Host]++
		}
		switch {
		case v.IsPending():
			s.Pending++
		case v.IsCode():
			code, _ := v.StatusCode()
			s.Codes[code]++
		default:
			target, _ := v.URL()
			if u, err := url.Parse(target); err == nil && u.Host != "" {
				s.Targets[u.Host]++
			}
		}
	}
	return s
}

// LogSummary writes the summary at debug level
func (c *Cache) LogSummary() {
	s := c.Summarize()
	logging.WithComponent("urlcache").Debug("Url cache summary",
		zap.Any("source_hosts", s.Sources),
		zap.Any("target_hosts", s.Targets),
		zap.Any("failed_codes", s.Codes),
		zap.Int("pending", s.Pending))
}
