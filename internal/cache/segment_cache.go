package cache

import (
	"context"
	"sync"
	"time"

	"dashabr/internal/logger"
)

// DefaultEvictionInterval is how often inactive entries are dropped.
const DefaultEvictionInterval = 10 * time.Second

// ActiveSegmentsProvider returns the set of keys that must survive eviction.
type ActiveSegmentsProvider func() map[string]struct{}

// SegmentCache is a thread-safe, in-memory store for the first segments of
// tracks, keyed "<stream>/<filename>/0". Entries live for as long as some
// running session still streams their stream.
type SegmentCache struct {
	mutex                  sync.RWMutex
	cache                  map[string][]byte
	logger                 logger.Logger
	activeSegmentsProvider ActiveSegmentsProvider
	interval               time.Duration

	hits   int64
	misses int64

	// Control
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a SegmentCache. A non-positive interval selects DefaultEvictionInterval.
func New(log logger.Logger, provider ActiveSegmentsProvider, interval time.Duration) *SegmentCache {
	if interval <= 0 {
		interval = DefaultEvictionInterval
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &SegmentCache{
		cache:                  make(map[string][]byte),
		logger:                 log.With("component", "segment_cache"),
		activeSegmentsProvider: provider,
		interval:               interval,
		ctx:                    ctx,
		cancel:                 cancel,
	}
}

// Start begins the background eviction worker.
func (sc *SegmentCache) Start() {
	sc.logger.Infof("Starting segment cache eviction worker (every %v)", sc.interval)
	sc.wg.Add(1)
	go sc.evictionWorker()
}

// Stop shuts down the eviction worker and waits for it to exit.
func (sc *SegmentCache) Stop() {
	sc.logger.Infof("Stopping segment cache eviction worker...")
	sc.cancel()
	sc.wg.Wait()
}

// Set adds a segment to the cache.
func (sc *SegmentCache) Set(key string, data []byte) {
	sc.mutex.Lock()
	defer sc.mutex.Unlock()
	sc.cache[key] = data
	sc.logger.Debugf("Cached segment: %s, size: %d bytes", key, len(data))
}

// Get retrieves a segment from the cache.
func (sc *SegmentCache) Get(key string) ([]byte, bool) {
	sc.mutex.Lock()
	defer sc.mutex.Unlock()
	data, found := sc.cache[key]
	if found {
		sc.hits++
	} else {
		sc.misses++
	}
	return data, found
}

// Len returns the number of cached segments.
func (sc *SegmentCache) Len() int {
	sc.mutex.RLock()
	defer sc.mutex.RUnlock()
	return len(sc.cache)
}

// Stats returns lookup hits and misses since creation.
func (sc *SegmentCache) Stats() (hits, misses int64) {
	sc.mutex.RLock()
	defer sc.mutex.RUnlock()
	return sc.hits, sc.misses
}

func (sc *SegmentCache) evictionWorker() {
	defer sc.wg.Done()
	ticker := time.NewTicker(sc.interval)
	defer ticker.Stop()

	for {
		select {
		case <-sc.ctx.Done():
			sc.logger.Infof("Eviction worker stopped.")
			return
		case <-ticker.C:
			sc.RunEviction()
		}
	}
}

// RunEviction drops every entry the provider no longer reports as active
// and returns how many were removed.
func (sc *SegmentCache) RunEviction() int {
	sc.logger.Debugf("Running cache eviction...")
	var activeKeys map[string]struct{}
	if sc.activeSegmentsProvider != nil {
		activeKeys = sc.activeSegmentsProvider()
	}

	sc.mutex.Lock()
	defer sc.mutex.Unlock()

	evictedCount := 0
	for key := range sc.cache {
		if _, isActive := activeKeys[key]; !isActive {
			delete(sc.cache, key)
			evictedCount++
		}
	}

	if evictedCount > 0 {
		sc.logger.Infof("Evicted %d segments from cache. Current cache size: %d segments.", evictedCount, len(sc.cache))
	} else {
		sc.logger.Debugf("No segments to evict. Current cache size: %d segments.", len(sc.cache))
	}
	return evictedCount
}
