package cache

import (
	"fmt"
	"strings"
	"time"

	"flowplay/pkg/models"
)

// TrackPage is one cached page of the public listing.
type TrackPage struct {
	Tracks []models.Track
	Total  int
}

// ListingCache caches public listing pages keyed by filter and page.
type ListingCache struct {
	*MemoryCache
}

// NewListingCache creates a listing cache. A zero ttl disables caching.
func NewListingCache(ttl time.Duration) *ListingCache {
	return &ListingCache{
		MemoryCache: NewMemoryCache(ttl),
	}
}

// ListingKey builds the cache key for a public listing query.
func ListingKey(filter models.TrackFilter, page models.Page) string {
	return fmt.Sprintf("public|%s|%s|%d|%d",
		strings.ToLower(strings.TrimSpace(filter.Genre)),
		strings.ToLower(strings.TrimSpace(filter.Search)),
		page.Number, page.Size)
}

// GetPage retrieves a cached page
func (lc *ListingCache) GetPage(key string) (TrackPage, bool) {
	value, exists := lc.Get(key)
	if !exists {
		return TrackPage{}, false
	}

	page, ok := value.(TrackPage)
	return page, ok
}

// SetPage caches a page computed while the cache was at generation gen.
func (lc *ListingCache) SetPage(gen uint64, key string, page TrackPage) {
	lc.SetIfGeneration(gen, key, page)
}

// Invalidate drops every cached page.
func (lc *ListingCache) Invalidate() {
	lc.Clear()
}
