package source

import (
	"context"
	"time"

	loadingcache "github.com/karupanerura/loading-cache"
	"github.com/karupanerura/loading-cache/loader/pureloader"
	cachesource "github.com/karupanerura/loading-cache/source"
	"github.com/karupanerura/loading-cache/storage/memstorage"
	metrics "github.com/rcrowley/go-metrics"
)

// Entries live for the whole process.
var neverExpires = time.Date(9999, time.December, 31, 0, 0, 0, 0, time.UTC)

// Concepts maps URL friendly concept keys to their display labels.
type Concepts map[string]string

// Has reports whether the database supports the concept.
func (c Concepts) Has(concept string) bool {
	_, ok := c[conceptKey(concept)]
	return ok
}

// Clone returns c itself: a loaded table is never modified, so every caller shares it.
func (c Concepts) Clone() Concepts {
	return c
}

// CacheOption configures Caches.
type CacheOption func(*Caches)

// WithCacheMetricsRegistry sets the registry cache loads are recorded in.
func WithCacheMetricsRegistry(r metrics.Registry) CacheOption {
	return func(c *Caches) {
		if r != nil {
			c.registry = r
		}
	}
}

// Caches holds the per-database concept tables and metadata flags.
// Keys are resolved database ids, so the default database and its explicit id share entries.
type Caches struct {
	Concepts loadingcache.CacheStorage[int, Concepts]
	Metadata loadingcache.CacheStorage[int, bool]

	registry     metrics.Registry
	conceptLoads metrics.Counter
	metaLoads    metrics.Counter
}

func NewCaches(opts ...CacheOption) *Caches {
	c := &Caches{
		Concepts: memstorage.NewInMemoryStorage[int, Concepts](),
		Metadata: memstorage.NewInMemoryStorage[int, bool](),
		registry: metrics.DefaultRegistry,
	}
	for _, opt := range opts {
		opt(c)
	}
	c.conceptLoads = metrics.GetOrRegisterCounter("source.concepts.loads", c.registry)
	c.metaLoads = metrics.GetOrRegisterCounter("source.metadata.loads", c.registry)
	return c
}

// loadingCache puts load in front of storage. Every loaded value is stored until the process exits.
func loadingCache[V any](storage loadingcache.CacheStorage[int, V], loads metrics.Counter, load func(context.Context, int) (V, error)) *loadingcache.LoadingCache[int, V] {
	get := func(ctx context.Context, db int) (*loadingcache.CacheEntry[int, V], error) {
		v, err := load(ctx, db)
		if err != nil {
			return nil, err
		}
		loads.Inc(1)
		return &loadingcache.CacheEntry[int, V]{
			Entry:     loadingcache.Entry[int, V]{Key: db, Value: v},
			ExpiresAt: neverExpires,
		}, nil
	}

	src := &cachesource.FunctionsSource[int, V]{
		GetFunc: get,
		GetMultiFunc: func(ctx context.Context, dbs []int) ([]*loadingcache.CacheEntry[int, V], error) {
			entries := make([]*loadingcache.CacheEntry[int, V], len(dbs))
			for i, db := range dbs {
				e, err := get(ctx, db)
				if err != nil {
					return nil, err
				}
				entries[i] = e
			}
			return entries, nil
		},
	}

	return &loadingcache.LoadingCache[int, V]{
		Loader:  pureloader.NewPureLoader[int, V](storage, src),
		Storage: storage,
	}
}
