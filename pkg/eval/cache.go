package eval

import (
	"crypto/md5"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/spf13/afero"

	"nexuseval/internal/logging"
)

// Cache is a content-addressed store of computed metric bundles. The
// fingerprint covers every input that can change a score, including model
// identity and temperature, so a hit is always safe to reuse. Entries are
// append-only within a session and flushed to disk at run boundaries.
type Cache struct {
	mu      sync.Mutex
	enabled bool
	fs      afero.Fs
	path    string
	data    map[string]RAGMetrics
	hits    int
	misses  int
}

// NewCache loads the persisted snapshot when enabled. A corrupt snapshot is
// logged and discarded; evaluation proceeds with an empty cache.
func NewCache(fs afero.Fs, path string, enabled bool) *Cache {
	c := &Cache{
		enabled: enabled,
		fs:      fs,
		path:    path,
		data:    make(map[string]RAGMetrics),
	}
	if !enabled {
		return c
	}

	raw, err := afero.ReadFile(fs, path)
	if err != nil {
		if !os.IsNotExist(err) {
			logging.Warn("Failed to read cache snapshot, starting fresh: %v", err)
		}
		return c
	}
	if err := json.Unmarshal(raw, &c.data); err != nil {
		logging.Warn("Cache snapshot corrupted, starting fresh: %v", err)
		c.data = make(map[string]RAGMetrics)
		return c
	}
	logging.Info("Cache loaded: %d entries", len(c.data))
	return c
}

// Fingerprint hashes every score-relevant input with a stable delimiter.
func Fingerprint(query, answer string, contexts []string, groundTruth, model string, temperature float64) string {
	raw := fmt.Sprintf("%s|%s|%s|%s|%s|%g",
		query, answer, strings.Join(contexts, "||"), groundTruth, model, temperature)
	sum := md5.Sum([]byte(raw))
	return hex.EncodeToString(sum[:])
}

// Get returns the cached bundle for a fingerprint. Disabled caches miss
// everything without counting.
func (c *Cache) Get(fingerprint string) (RAGMetrics, bool) {
	if !c.enabled {
		return RAGMetrics{}, false
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	m, ok := c.data[fingerprint]
	if ok {
		c.hits++
	} else {
		c.misses++
	}
	return m, ok
}

// Put stores a computed bundle. No-op when disabled.
func (c *Cache) Put(fingerprint string, m RAGMetrics) {
	if !c.enabled {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.data[fingerprint] = m
}

// Save flushes the snapshot to disk. Failures are logged, never fatal.
func (c *Cache) Save() {
	if !c.enabled {
		return
	}
	c.mu.Lock()
	raw, err := json.Marshal(c.data)
	size := len(c.data)
	hits, misses := c.hits, c.misses
	c.mu.Unlock()
	if err != nil {
		logging.Warn("Failed to serialize cache: %v", err)
		return
	}
	if err := afero.WriteFile(c.fs, c.path, raw, 0o644); err != nil {
		logging.Warn("Failed to save cache: %v", err)
		return
	}
	logging.Debug("Cache saved: %d entries (hits=%d, misses=%d)", size, hits, misses)
}

// Stats reports hit and miss counters.
func (c *Cache) Stats() (hits, misses int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.hits, c.misses
}

// Enabled reports whether the cache participates in lookups.
func (c *Cache) Enabled() bool {
	return c.enabled
}

// Len returns the entry count.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.data)
}
