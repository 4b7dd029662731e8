package cache

import (
	"testing"
	"time"

	"flowplay/pkg/models"
)

func TestMemoryCacheExpiry(t *testing.T) {
	c := NewMemoryCache(time.Minute)
	defer c.Close()

	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	c.now = func() time.Time { return now }

	c.Set("a", 1)
	if v, ok := c.Get("a"); !ok || v.(int) != 1 {
		t.Fatalf("Get(a) = %v, %v", v, ok)
	}

	now = now.Add(2 * time.Minute)
	if _, ok := c.Get("a"); ok {
		t.Error("expected entry to expire")
	}

	c.removeExpired()
	if c.Size() != 0 {
		t.Errorf("size = %d after cleanup", c.Size())
	}
}

func TestSetIfGenerationAfterClear(t *testing.T) {
	c := NewMemoryCache(time.Minute)
	defer c.Close()

	gen := c.Generation()
	c.Clear()
	if c.SetIfGeneration(gen, "stale", 1) {
		t.Error("stale value should be rejected")
	}
	if _, ok := c.Get("stale"); ok {
		t.Error("stale value was stored")
	}

	if !c.SetIfGeneration(c.Generation(), "fresh", 2) {
		t.Error("fresh value should be stored")
	}
}

func TestZeroTTLDisablesCaching(t *testing.T) {
	c := NewMemoryCache(0)
	defer c.Close()

	c.Set("a", 1)
	if _, ok := c.Get("a"); ok {
		t.Error("zero ttl should not cache")
	}
}

func TestListingCache(t *testing.T) {
	lc := NewListingCache(time.Minute)
	defer lc.Close()

	key := ListingKey(models.TrackFilter{Genre: " Rock ", Search: "Blue"}, models.Page{Number: 2, Size: 20})
	if key != ListingKey(models.TrackFilter{Genre: "rock", Search: "blue"}, models.Page{Number: 2, Size: 20}) {
		t.Error("keys should be case and space insensitive")
	}
	if key == ListingKey(models.TrackFilter{Genre: "rock"}, models.Page{Number: 2, Size: 20}) {
		t.Error("different filters must not share a key")
	}

	lc.SetPage(lc.Generation(), key, TrackPage{Tracks: []models.Track{{ID: "t1"}}, Total: 1})
	page, ok := lc.GetPage(key)
	if !ok || page.Total != 1 || page.Tracks[0].ID != "t1" {
		t.Fatalf("GetPage = %+v, %v", page, ok)
	}

	lc.Invalidate()
	if _, ok := lc.GetPage(key); ok {
		t.Error("expected page to be invalidated")
	}
}

func TestCloseIsIdempotent(t *testing.T) {
	c := NewMemoryCache(time.Minute)
	c.Close()
	c.Close()
}
