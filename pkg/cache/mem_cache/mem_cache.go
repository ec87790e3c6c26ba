package mem_cache

import (
	"sync/atomic"
	"time"

	"github.com/pmkol/sharedlist/pkg/concurrent_lru"
)

const (
	shardSize              = 64
	minSizePerShard        = 16
	defaultCleanerInterval = time.Minute
)

// MemCache is an in-memory cache.Backend on top of a sharded LRU.
type MemCache struct {
	closed           atomic.Bool
	closeCleanerChan chan struct{}
	cleanerDone      chan struct{}
	lru              *concurrent_lru.ShardedLRU[*elem]
}

type elem struct {
	v          []byte
	storedTime int64
	expire     int64
}

// NewMemCache returns a cache holding at least size entries.
// If cleanerInterval > 0, a goroutine removes expired entries every
// cleanerInterval until Close is called.
func NewMemCache(size int, cleanerInterval time.Duration) *MemCache {
	sizePerShard := size / shardSize
	if sizePerShard < minSizePerShard {
		sizePerShard = minSizePerShard
	}
	c := &MemCache{
		closeCleanerChan: make(chan struct{}),
		cleanerDone:      make(chan struct{}),
		lru:              concurrent_lru.NewShardedLRU[*elem](shardSize, sizePerShard, nil),
	}

	if cleanerInterval > 0 {
		go c.startCleaner(cleanerInterval)
	} else {
		close(c.cleanerDone)
	}
	return c
}

func (c *MemCache) isClosed() bool {
	return c.closed.Load()
}

// Close stops the cleaner and waits for it to exit.
func (c *MemCache) Close() error {
	if c.closed.CompareAndSwap(false, true) {
		close(c.closeCleanerChan)
	}
	<-c.cleanerDone
	return nil
}

func (c *MemCache) Get(key string) (v []byte, storedTime, expire int64, ok bool) {
	if c.isClosed() {
		return nil, 0, 0, false
	}

	e, found := c.lru.Get(key)
	if !found || e.expire <= time.Now().Unix() {
		return nil, 0, 0, false
	}

	v = make([]byte, len(e.v))
	copy(v, e.v)
	return v, e.storedTime, e.expire, true
}

func (c *MemCache) Store(key string, v []byte, expire int64) {
	if c.isClosed() {
		return
	}

	now := time.Now().Unix()
	if expire <= now {
		return
	}

	buf := make([]byte, len(v))
	copy(buf, v)

	c.lru.Add(key, &elem{
		v:          buf,
		storedTime: now,
		expire:     expire,
	})
}

func (c *MemCache) Del(key string) {
	c.lru.Del(key)
}

func (c *MemCache) startCleaner(interval time.Duration) {
	defer close(c.cleanerDone)
	if interval <= 0 {
		interval = defaultCleanerInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-c.closeCleanerChan:
			return
		case <-ticker.C:
			c.cleanExpired(time.Now().Unix())
		}
	}
}

func (c *MemCache) cleanExpired(now int64) int {
	return c.lru.Clean(func(_ string, e *elem) bool {
		return e.expire <= now
	})
}

func (c *MemCache) Len() int {
	return c.lru.Len()
}

func (c *MemCache) Stats() concurrent_lru.Stats {
	return c.lru.Stats()
}
