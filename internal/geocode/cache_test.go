package geocode_test

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/fleetdispatch/fleetdispatch/internal/geocode"
	"github.com/fleetdispatch/fleetdispatch/pkg/geo"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

var makati = geocode.Result{
	Coordinate: geo.Coordinate{Latitude: 14.5547, Longitude: 121.0244},
	Address:    "Makati, Metro Manila",
}

func TestCache_FreshWithinTTL(t *testing.T) {
	clock := newFakeClock()
	cache := geocode.NewCache(geocode.WithClock(clock.Now))

	cache.Put("makati", makati)

	clock.Advance(29 * time.Minute)
	got, ok := cache.Get("makati")
	assert.True(t, ok)
	assert.Equal(t, makati, got)

	clock.Advance(time.Minute)
	_, ok = cache.Get("makati")
	assert.True(t, ok, "an entry exactly TTL old is still fresh")

	clock.Advance(time.Second)
	_, ok = cache.Get("makati")
	assert.False(t, ok, "an entry older than TTL is absent")
}

func TestCache_Miss(t *testing.T) {
	cache := geocode.NewCache()

	_, ok := cache.Get("unknown")
	assert.False(t, ok)
}

func TestCache_PutOverwritesAndRefreshes(t *testing.T) {
	clock := newFakeClock()
	cache := geocode.NewCache(geocode.WithClock(clock.Now))

	cache.Put("k", geocode.Result{Address: "first"})
	clock.Advance(20 * time.Minute)
	cache.Put("k", geocode.Result{Address: "second"})
	clock.Advance(20 * time.Minute)

	got, ok := cache.Get("k")
	assert.True(t, ok)
	assert.Equal(t, "second", got.Address)
}

func TestCache_PutAtKeepsOriginalAge(t *testing.T) {
	clock := newFakeClock()
	cache := geocode.NewCache(geocode.WithClock(clock.Now))

	cache.PutAt("k", makati, clock.Now().Add(-25*time.Minute))
	_, ok := cache.Get("k")
	assert.True(t, ok)

	clock.Advance(6 * time.Minute)
	_, ok = cache.Get("k")
	assert.False(t, ok, "age counts from the original insertion time")

	cache.PutAt("old", makati, clock.Now().Add(-time.Hour))
	_, ok = cache.Get("old")
	assert.False(t, ok)
}

func TestCache_ClearAndStats(t *testing.T) {
	clock := newFakeClock()
	cache := geocode.NewCache(geocode.WithClock(clock.Now))

	cache.Put("a", makati)
	clock.Advance(31 * time.Minute)
	cache.Put("b", makati)

	assert.Equal(t, geocode.Stats{Entries: 2, Fresh: 1}, cache.Stats())

	cache.Clear()
	assert.Equal(t, geocode.Stats{}, cache.Stats())
	_, ok := cache.Get("b")
	assert.False(t, ok)
}

func TestCache_WithTTL(t *testing.T) {
	clock := newFakeClock()
	cache := geocode.NewCache(geocode.WithClock(clock.Now), geocode.WithTTL(time.Minute))

	assert.Equal(t, time.Minute, cache.TTL())
	cache.Put("k", makati)
	clock.Advance(61 * time.Second)
	_, ok := cache.Get("k")
	assert.False(t, ok)

	assert.Equal(t, geocode.DefaultTTL, geocode.NewCache(geocode.WithTTL(0)).TTL())
}

func TestKeys(t *testing.T) {
	assert.Equal(t, "ayala ave, makati", geocode.AddressKey("Ayala Ave, MAKATI"))
	assert.Equal(t, "14.599500,120.984200", geocode.ReverseKey(geo.Coordinate{Latitude: 14.5995, Longitude: 120.9842}))
}

func TestCache_ConcurrentAccess(t *testing.T) {
	cache := geocode.NewCache()

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				cache.Put("k", makati)
				_, _ = cache.Get("k")
				_ = cache.Stats()
			}
		}()
	}
	wg.Wait()

	got, ok := cache.Get("k")
	assert.True(t, ok)
	assert.Equal(t, makati, got)
}
