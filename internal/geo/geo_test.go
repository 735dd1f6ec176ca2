package geo

import (
	"context"
	"os"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	qt "github.com/frankban/quicktest"
	"github.com/redis/go-redis/v9"
)

func TestHaversine(t *testing.T) {
	c := qt.New(t)
	berlin := Point{Lat: 52.5323, Lon: 13.3846}
	potsdam := Point{Lat: 52.4010, Lon: 13.0591}

	c.Assert(Haversine(berlin, berlin), qt.Equals, 0.0)
	d := Haversine(berlin, potsdam)
	c.Assert(d > 25 && d < 28, qt.IsTrue, qt.Commentf("distance %f", d))
	c.Assert(Haversine(potsdam, berlin), qt.Equals, d)

	// One degree of latitude is about 111.2 km.
	d = Haversine(Point{Lat: 0, Lon: 0}, Point{Lat: 1, Lon: 0})
	c.Assert(d > 111 && d < 111.4, qt.IsTrue, qt.Commentf("distance %f", d))
}

func TestTableResolver(t *testing.T) {
	c := qt.New(t)
	ctx := context.Background()
	tbl, err := LoadTable("")
	c.Assert(err, qt.IsNil)
	c.Assert(tbl.Len() > 10, qt.IsTrue)

	p, ok := tbl.Resolve(ctx, " 10115 ", "")
	c.Assert(ok, qt.IsTrue)
	c.Assert(p, qt.Equals, Point{Lat: 52.5323, Lon: 13.3846})

	_, ok = tbl.Resolve(ctx, "99999", "münchen")
	c.Assert(ok, qt.IsTrue)

	_, ok = tbl.Resolve(ctx, "99999", "Atlantis")
	c.Assert(ok, qt.IsFalse)

	_, err = ParseTable([]byte("zip: [unterminated"))
	c.Assert(err, qt.ErrorMatches, "parse postal table: .*")
}

type countingResolver struct {
	calls atomic.Int32
	delay time.Duration
	next  Resolver
}

func (r *countingResolver) Resolve(ctx context.Context, zip, city string) (Point, bool) {
	r.calls.Add(1)
	time.Sleep(r.delay)
	return r.next.Resolve(ctx, zip, city)
}

func TestCachedResolverDeduplicates(t *testing.T) {
	c := qt.New(t)
	ctx := context.Background()
	tbl, err := ParseTable([]byte(`
- zip: "12345"
  city: Testdorf
  lat: 50
  lon: 10
`))
	c.Assert(err, qt.IsNil)
	upstream := &countingResolver{next: tbl, delay: 20 * time.Millisecond}
	r := NewCachedResolver(upstream, NewMemoryCache())

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			p, ok := r.Resolve(ctx, "12345", "Testdorf")
			c.Check(ok, qt.IsTrue)
			c.Check(p, qt.Equals, Point{Lat: 50, Lon: 10})
		}()
	}
	wg.Wait()
	c.Assert(upstream.calls.Load(), qt.Equals, int32(1))

	_, ok := r.Resolve(ctx, "12345", "Testdorf")
	c.Assert(ok, qt.IsTrue)
	c.Assert(upstream.calls.Load(), qt.Equals, int32(1))

	// Misses are retried on every call.
	_, ok = r.Resolve(ctx, "00000", "")
	c.Assert(ok, qt.IsFalse)
	_, ok = r.Resolve(ctx, "00000", "")
	c.Assert(ok, qt.IsFalse)
	c.Assert(upstream.calls.Load(), qt.Equals, int32(3))

	_, ok = r.Resolve(ctx, "", "")
	c.Assert(ok, qt.IsFalse)
	c.Assert(upstream.calls.Load(), qt.Equals, int32(3))
}

func TestPointEncoding(t *testing.T) {
	c := qt.New(t)
	p := Point{Lat: 52.5323, Lon: -13.25}
	got, err := decodePoint(encodePoint(p))
	c.Assert(err, qt.IsNil)
	c.Assert(got, qt.Equals, p)

	_, err = decodePoint("52.1")
	c.Assert(err, qt.ErrorMatches, `malformed cached point "52.1"`)
}

func TestRedisCache(t *testing.T) {
	addr := os.Getenv("TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("TEST_REDIS_ADDR not set")
	}
	c := qt.New(t)
	ctx := context.Background()
	rdb := redis.NewClient(&redis.Options{Addr: addr})
	c.Cleanup(func() { _ = rdb.Close() })

	cache := NewRedisCache(rdb, WithCachePrefix("geo-test:"), WithCacheTTL(time.Minute))
	key := "10115|berlin-" + time.Now().Format("150405.000")

	_, ok, err := cache.Get(ctx, key)
	c.Assert(err, qt.IsNil)
	c.Assert(ok, qt.IsFalse)

	c.Assert(cache.Set(ctx, key, Point{Lat: 1.5, Lon: 2.5}), qt.IsNil)
	p, ok, err := cache.Get(ctx, key)
	c.Assert(err, qt.IsNil)
	c.Assert(ok, qt.IsTrue)
	c.Assert(p, qt.Equals, Point{Lat: 1.5, Lon: 2.5})
}
