package dubbing

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"sync"
)

const defaultCacheCapacity = 50

// Cache is a bounded, content-addressed store of transcription payloads.
// When full, the oldest inserted entry is evicted. Entries never expire.
type Cache struct {
	mu       sync.RWMutex
	capacity int
	entries  map[string]string
	order    []string
}

// NewCache creates a cache holding at most capacity entries.
func NewCache(capacity int) *Cache {
	if capacity <= 0 {
		capacity = defaultCacheCapacity
	}
	return &Cache{
		capacity: capacity,
		entries:  make(map[string]string, capacity),
		order:    make([]string, 0, capacity),
	}
}

// CacheKey combines a media content hash with a purpose tag.
func CacheKey(contentHash, purpose string) string {
	return contentHash + "_" + purpose
}

// Get returns the payload stored under key.
func (c *Cache) Get(key string) (string, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	payload, ok := c.entries[key]
	return payload, ok
}

// Put stores payload under key. Re-putting an existing key replaces the value
// but keeps its original insertion position.
func (c *Cache) Put(key, payload string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, exists := c.entries[key]; exists {
		c.entries[key] = payload
		return
	}

	for len(c.order) >= c.capacity {
		oldest := c.order[0]
		c.order = c.order[1:]
		delete(c.entries, oldest)
	}

	c.entries[key] = payload
	c.order = append(c.order, key)
}

// Len returns the number of cached entries.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// HashFile returns the hex SHA-256 of the file's full contents.
func HashFile(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("failed to open media for hashing: %w", err)
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", fmt.Errorf("failed to hash media: %w", err)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}
