package reputation

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"vigil/logger"
)

// envelope wraps a cached value with the time it was written so expiry can
// be judged without touching file mtimes.
type envelope struct {
	Timestamp int64           `json:"timestamp"`
	Value     json.RawMessage `json:"value"`
}

// Cache is a flat-directory JSON response cache. Entries are keyed by
// provider name plus file digest; expiry is evaluated lazily on read.
type Cache struct {
	dir string
	ttl time.Duration
}

func NewCache(dir string, ttl time.Duration) (*Cache, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating cache directory %s: %w", dir, err)
	}
	return &Cache{dir: dir, ttl: ttl}, nil
}

// Get loads a cached result. A missing, expired, or unreadable entry is a
// miss; expired and corrupt entries are removed on the way out.
func (c *Cache) Get(provider, sha256 string) (*Result, bool) {
	path := c.entryPath(provider, sha256)

	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, false
	}

	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		logger.Debugf("Discarding corrupt cache entry %s: %v", filepath.Base(path), err)
		os.Remove(path)
		return nil, false
	}

	if time.Since(time.Unix(env.Timestamp, 0)) > c.ttl {
		os.Remove(path)
		return nil, false
	}

	var result Result
	if err := json.Unmarshal(env.Value, &result); err != nil {
		os.Remove(path)
		return nil, false
	}
	return &result, true
}

// Set writes a result to the cache. Failures are logged and swallowed; a
// cache write must never fail a lookup.
func (c *Cache) Set(provider, sha256 string, result *Result) {
	value, err := json.Marshal(result)
	if err != nil {
		logger.Debugf("Failed to encode cache value for %s: %v", provider, err)
		return
	}

	env := envelope{Timestamp: time.Now().Unix(), Value: value}
	raw, err := json.Marshal(env)
	if err != nil {
		return
	}

	path := c.entryPath(provider, sha256)
	if err := os.WriteFile(path, raw, 0o644); err != nil {
		logger.Debugf("Failed to write cache entry %s: %v", filepath.Base(path), err)
	}
}

// Clear removes every cached entry, expired or not.
func (c *Cache) Clear() error {
	entries, err := os.ReadDir(c.dir)
	if err != nil {
		return fmt.Errorf("reading cache directory: %w", err)
	}
	for _, entry := range entries {
		if entry.IsDir() || filepath.Ext(entry.Name()) != ".json" {
			continue
		}
		if err := os.Remove(filepath.Join(c.dir, entry.Name())); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("removing cache entry %s: %w", entry.Name(), err)
		}
	}
	return nil
}

func (c *Cache) entryPath(provider, sha256 string) string {
	return filepath.Join(c.dir, fmt.Sprintf("%s-%s.json", provider, sha256))
}
