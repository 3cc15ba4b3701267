// Package hashcache persists the last-known content hash per file path.
//
// The cache is an optimization only: the remote store stays authoritative,
// so a missing or corrupt cache costs recomputed hashes and redundant
// upserts, never incorrect convergence.
package hashcache

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// Cache is a path -> content hash mapping backed by a JSON file.
// The in-memory map is owned by the sync loop; the mutex only guards
// against reads from the status server.
type Cache struct {
	path    string
	mu      sync.RWMutex
	entries map[string]string
}

// New creates a cache backed by the JSON file at path. Nothing is read
// until Load is called.
func New(path string) *Cache {
	return &Cache{
		path:    path,
		entries: make(map[string]string),
	}
}

// Load reads the snapshot from disk. A missing, unreadable, or corrupt
// file leaves the cache empty and returns the underlying error for logging;
// callers must treat that as non-fatal.
func (c *Cache) Load() error {
	data, err := os.ReadFile(c.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	entries := make(map[string]string)
	if err := json.Unmarshal(data, &entries); err != nil {
		return fmt.Errorf("corrupt hash cache %s: %w", c.path, err)
	}
	c.mu.Lock()
	c.entries = entries
	c.mu.Unlock()
	return nil
}

// Get returns the cached hash for path, if present.
func (c *Cache) Get(path string) (string, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	h, ok := c.entries[path]
	return h, ok
}

// Set records the hash for path. Callers set entries only after the
// corresponding store mutation has been confirmed.
func (c *Cache) Set(path, hash string) {
	c.mu.Lock()
	c.entries[path] = hash
	c.mu.Unlock()
}

// Delete removes the entry for path, if any.
func (c *Cache) Delete(path string) {
	c.mu.Lock()
	delete(c.entries, path)
	c.mu.Unlock()
}

// Clear drops every entry. Used after a store cleanup so stale hashes
// cannot suppress re-creation.
func (c *Cache) Clear() {
	c.mu.Lock()
	c.entries = make(map[string]string)
	c.mu.Unlock()
}

// Len returns the number of cached entries.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// Persist writes the snapshot atomically: the JSON is written to a
// temporary file in the same directory and renamed over the target, so a
// crash mid-write leaves either the old or the new snapshot.
func (c *Cache) Persist() error {
	c.mu.RLock()
	data, err := json.Marshal(c.entries)
	c.mu.RUnlock()
	if err != nil {
		return fmt.Errorf("marshal hash cache: %w", err)
	}

	dir := filepath.Dir(c.path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("create cache directory: %w", err)
	}
	tmp, err := os.CreateTemp(dir, filepath.Base(c.path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp cache file: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return fmt.Errorf("write temp cache file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("close temp cache file: %w", err)
	}
	if err := os.Rename(tmpName, c.path); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("rename cache file: %w", err)
	}
	return nil
}
