// Package cache provides the shared LRU image cache. Decoded images are
// shared by reference across wallpapers; everything handed out is immutable
// by convention.
package cache

import (
	"image"
	"sync"
	"time"

	"github.com/charmbracelet/log"
)

// Key identifies a decoded image by canonical path and modification time, so
// a file rewritten in place never serves a stale decode.
type Key struct {
	Path    string
	ModTime int64
}

type entry struct {
	image      image.Image
	lastAccess time.Time
	sizeBytes  int
}

// Stats is a snapshot of cache counters.
type Stats struct {
	Hits         uint64 `json:"hits"`
	Misses       uint64 `json:"misses"`
	Evictions    uint64 `json:"evictions"`
	CurrentCount int    `json:"current_count"`
	CurrentBytes int    `json:"current_bytes"`
}

// Cache is a thread-safe LRU map from Key to decoded image, bounded by both
// entry count and approximate byte size.
type Cache struct {
	mu       sync.RWMutex
	entries  map[Key]*entry
	inflight map[Key]*loadCall

	maxEntries int
	maxBytes   int

	curBytes  int
	hits      uint64
	misses    uint64
	evictions uint64
}

type loadCall struct {
	wg  sync.WaitGroup
	img image.Image
	err error
}

// New creates a cache bounded to maxEntries entries and maxBytes approximate
// bytes. A zero maxBytes disables the byte bound.
func New(maxEntries, maxBytes int) *Cache {
	if maxEntries <= 0 {
		maxEntries = 50
	}
	log.Debugf("image cache initialized: max %d entries, %d MiB",
		maxEntries, maxBytes/(1024*1024))

	return &Cache{
		entries:    make(map[Key]*entry),
		inflight:   make(map[Key]*loadCall),
		maxEntries: maxEntries,
		maxBytes:   maxBytes,
	}
}

func sizeOf(img image.Image) int {
	b := img.Bounds()
	// Stride-based when available, 4 bytes per pixel otherwise.
	switch im := img.(type) {
	case *image.RGBA:
		return im.Stride * b.Dy()
	case *image.NRGBA:
		return im.Stride * b.Dy()
	default:
		return b.Dx() * b.Dy() * 4
	}
}

// Get returns the cached image for key, if present.
func (c *Cache) Get(key Key) (image.Image, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if e, ok := c.entries[key]; ok {
		e.lastAccess = time.Now()
		c.hits++
		return e.image, true
	}
	c.misses++
	return nil, false
}

// Insert stores an image under key, evicting least-recently-used entries
// until both capacity bounds hold.
func (c *Cache) Insert(key Key, img image.Image) image.Image {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.insertLocked(key, img)
	return img
}

func (c *Cache) insertLocked(key Key, img image.Image) {
	if old, ok := c.entries[key]; ok {
		c.curBytes -= old.sizeBytes
	}

	e := &entry{image: img, lastAccess: time.Now(), sizeBytes: sizeOf(img)}
	c.entries[key] = e
	c.curBytes += e.sizeBytes
	c.evictLocked()
}

func (c *Cache) evictLocked() {
	for len(c.entries) > c.maxEntries || (c.maxBytes > 0 && c.curBytes > c.maxBytes) {
		var (
			lruKey Key
			lru    *entry
		)
		for k, e := range c.entries {
			if lru == nil || e.lastAccess.Before(lru.lastAccess) {
				lruKey, lru = k, e
			}
		}
		if lru == nil {
			return
		}
		delete(c.entries, lruKey)
		c.curBytes -= lru.sizeBytes
		c.evictions++
		log.Debugf("cache evicted %s (%d KiB)", lruKey.Path, lru.sizeBytes/1024)
	}
}

// GetOrInsert returns the cached image for key, or runs loader to produce it.
// Only one loader runs for any given missing key; concurrent callers wait for
// its result.
func (c *Cache) GetOrInsert(key Key, loader func() (image.Image, error)) (image.Image, error) {
	c.mu.Lock()
	if e, ok := c.entries[key]; ok {
		e.lastAccess = time.Now()
		c.hits++
		c.mu.Unlock()
		return e.image, nil
	}
	c.misses++

	if call, ok := c.inflight[key]; ok {
		c.mu.Unlock()
		call.wg.Wait()
		return call.img, call.err
	}

	call := &loadCall{}
	call.wg.Add(1)
	c.inflight[key] = call
	c.mu.Unlock()

	call.img, call.err = loader()

	c.mu.Lock()
	delete(c.inflight, key)
	if call.err == nil {
		c.insertLocked(key, call.img)
	}
	c.mu.Unlock()
	call.wg.Done()

	return call.img, call.err
}

// Remove drops the entry for key, if present.
func (c *Cache) Remove(key Key) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if e, ok := c.entries[key]; ok {
		delete(c.entries, key)
		c.curBytes -= e.sizeBytes
	}
}

// Clear drops every entry.
func (c *Cache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.entries = make(map[Key]*entry)
	c.curBytes = 0
}

// Len returns the current entry count.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// Stats returns a snapshot of the cache counters.
func (c *Cache) Stats() Stats {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return Stats{
		Hits:         c.hits,
		Misses:       c.misses,
		Evictions:    c.evictions,
		CurrentCount: len(c.entries),
		CurrentBytes: c.curBytes,
	}
}
