// Package assetcache is the in-memory tier of the avatar cache: a bounded LRU
// of decoded images keyed by source URL.
package assetcache

import (
	"image"
	"sync/atomic"

	lru "github.com/hashicorp/golang-lru/v2"
)

// DefaultCapacity is used when the configured capacity is not positive.
const DefaultCapacity = 200

// CachedAsset is a decoded image ready for display. Source, when set, is
// the full-size decode the image was scaled from; other heights are derived
// from it rather than from Image.
type CachedAsset struct {
	Image  image.Image
	Source image.Image
	Width  int
	Height int
}

// NewCachedAsset wraps img, recording its dimensions.
func NewCachedAsset(img image.Image) *CachedAsset {
	b := img.Bounds()
	return &CachedAsset{Image: img, Width: b.Dx(), Height: b.Dy()}
}

// Stats is a point-in-time view of cache activity.
type Stats struct {
	Len       int    `json:"len"`
	Capacity  int    `json:"capacity"`
	Hits      uint64 `json:"hits"`
	Misses    uint64 `json:"misses"`
	Evictions uint64 `json:"evictions"`
}

// Cache is safe for concurrent use.
type Cache struct {
	lru      *lru.Cache[string, *CachedAsset]
	capacity int

	hits      atomic.Uint64
	misses    atomic.Uint64
	evictions atomic.Uint64
}

// New returns a cache holding at most capacity entries.
func New(capacity int) *Cache {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	l, err := lru.New[string, *CachedAsset](capacity)
	if err != nil {
		// Only returned for a non-positive size, excluded above.
		panic(err)
	}
	return &Cache{lru: l, capacity: capacity}
}

// Get returns the asset for url and marks it most recently used.
func (c *Cache) Get(url string) (*CachedAsset, bool) {
	a, ok := c.lru.Get(url)
	if ok {
		c.hits.Add(1)
	} else {
		c.misses.Add(1)
	}
	return a, ok
}

// Put inserts or replaces the asset for url, evicting the least recently
// used entry when over capacity.
func (c *Cache) Put(url string, a *CachedAsset) {
	if c.lru.Add(url, a) {
		c.evictions.Add(1)
	}
}

// Remove drops url from the cache. Explicit removals are not evictions.
func (c *Cache) Remove(url string) {
	c.lru.Remove(url)
}

// Len returns the number of cached entries.
func (c *Cache) Len() int { return c.lru.Len() }

// Stats returns current counters.
func (c *Cache) Stats() Stats {
	return Stats{
		Len:       c.lru.Len(),
		Capacity:  c.capacity,
		Hits:      c.hits.Load(),
		Misses:    c.misses.Load(),
		Evictions: c.evictions.Load(),
	}
}
