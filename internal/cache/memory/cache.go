// Package memory provides an in-memory file metadata cache.
// This is suitable for single-node deployments; entries are invalidated on
// delete and description updates, and a TTL bounds staleness otherwise.
package memory

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/filewarden/filewarden/internal/domain"
)

// FileCache caches registry rows by file identifier. It only ever holds
// metadata; quota usage is deliberately never cached (it is recomputed from
// the registry on every check).
type FileCache struct {
	mu      sync.RWMutex
	items   map[uuid.UUID]*cacheItem
	ttl     time.Duration
	stopCh  chan struct{}
	stopped bool
}

// cacheItem represents a single cached row.
type cacheItem struct {
	file      domain.StorageFile
	expiresAt time.Time
}

// NewFileCache creates a file metadata cache with the given TTL.
// A TTL of zero disables expiry.
func NewFileCache(ttl time.Duration) *FileCache {
	c := &FileCache{
		items:  make(map[uuid.UUID]*cacheItem),
		ttl:    ttl,
		stopCh: make(chan struct{}),
	}

	go c.cleanupLoop()

	return c
}

// cleanupLoop periodically removes expired items.
func (c *FileCache) cleanupLoop() {
	ticker := time.NewTicker(60 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-c.stopCh:
			return
		case <-ticker.C:
			c.cleanup()
		}
	}
}

// cleanup removes expired items.
func (c *FileCache) cleanup() {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := time.Now()
	for id, item := range c.items {
		if c.ttl > 0 && now.After(item.expiresAt) {
			delete(c.items, id)
		}
	}
}

// Stop stops the cleanup goroutine.
func (c *FileCache) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.stopped {
		close(c.stopCh)
		c.stopped = true
	}
}

// Get retrieves a cached row by identifier.
func (c *FileCache) Get(id uuid.UUID) (*domain.StorageFile, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	item, exists := c.items[id]
	if !exists {
		return nil, false
	}
	if c.ttl > 0 && time.Now().After(item.expiresAt) {
		return nil, false
	}

	// Return a copy to prevent mutation of the cached row.
	file := item.file
	return &file, true
}

// Set stores a row.
func (c *FileCache) Set(file *domain.StorageFile) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.items[file.ID] = &cacheItem{
		file:      *file,
		expiresAt: time.Now().Add(c.ttl),
	}
}

// Delete invalidates a row.
func (c *FileCache) Delete(id uuid.UUID) {
	c.mu.Lock()
	defer c.mu.Unlock()

	delete(c.items, id)
}
