package redis_cache

import (
	"bytes"
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pmkol/sharedlist/pkg/cache"
)

var _ cache.Backend = (*RedisCache)(nil)

// fakeRedis implements the handful of commands RedisCache uses. Any other
// call hits the nil embedded interface and panics.
type fakeRedis struct {
	redis.Cmdable

	mu      sync.Mutex
	m       map[string]string
	ttl     map[string]time.Duration
	gets    int
	failing bool
}

func newFakeRedis() *fakeRedis {
	return &fakeRedis{m: make(map[string]string), ttl: make(map[string]time.Duration)}
}

var errDown = errors.New("connection refused")

func (f *fakeRedis) Get(_ context.Context, key string) *redis.StringCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.gets++
	if f.failing {
		return redis.NewStringResult("", errDown)
	}
	v, ok := f.m[key]
	if !ok {
		return redis.NewStringResult("", redis.Nil)
	}
	return redis.NewStringResult(v, nil)
}

func (f *fakeRedis) Set(_ context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failing {
		return redis.NewStatusResult("", errDown)
	}
	f.m[key] = string(value.([]byte))
	f.ttl[key] = expiration
	return redis.NewStatusResult("OK", nil)
}

func (f *fakeRedis) Del(_ context.Context, keys ...string) *redis.IntCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, k := range keys {
		delete(f.m, k)
	}
	return redis.NewIntResult(int64(len(keys)), nil)
}

func (f *fakeRedis) DBSize(_ context.Context) *redis.IntCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	return redis.NewIntResult(int64(len(f.m)), nil)
}

func (f *fakeRedis) Ping(_ context.Context) *redis.StatusCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failing {
		return redis.NewStatusResult("", errDown)
	}
	return redis.NewStatusResult("PONG", nil)
}

func (f *fakeRedis) setFailing(b bool) {
	f.mu.Lock()
	f.failing = b
	f.mu.Unlock()
}

func TestRedisCache_StoreGet(t *testing.T) {
	f := newFakeRedis()
	r, err := NewRedisCache(RedisCacheOpts{Client: f})
	require.NoError(t, err)

	payload := bytes.Repeat([]byte("sharedlist"), 100)
	expire := time.Now().Unix() + 30
	r.Store("k", payload, expire)

	f.mu.Lock()
	raw, ok := f.m["sharedlist:k"]
	ttl := f.ttl["sharedlist:k"]
	f.mu.Unlock()
	require.True(t, ok)
	assert.Less(t, len(raw), len(payload), "value should be compressed")
	assert.InDelta(t, 30*time.Second, ttl, float64(2*time.Second))

	v, storedTime, gotExpire, ok := r.Get("k")
	require.True(t, ok)
	assert.Equal(t, payload, v)
	assert.Equal(t, expire, gotExpire)
	assert.LessOrEqual(t, storedTime, time.Now().Unix())
	assert.Equal(t, 1, r.Len())

	r.Del("k")
	_, _, _, ok = r.Get("k")
	assert.False(t, ok)
}

func TestRedisCache_SkipExpired(t *testing.T) {
	f := newFakeRedis()
	r, err := NewRedisCache(RedisCacheOpts{Client: f, KeyPrefix: "p/"})
	require.NoError(t, err)

	r.Store("k", []byte("v"), time.Now().Unix()-1)
	assert.Equal(t, 0, r.Len())

	f.m["p/stale"] = string(packRedisData(time.Now(), time.Now().Add(-time.Second), []byte("v")))
	_, _, _, ok := r.Get("stale")
	assert.False(t, ok)
}

func TestRedisCache_DisableOnError(t *testing.T) {
	f := newFakeRedis()
	r, err := NewRedisCache(RedisCacheOpts{Client: f})
	require.NoError(t, err)

	f.setFailing(true)
	_, _, _, ok := r.Get("k")
	assert.False(t, ok)
	assert.True(t, r.disabled())

	// Disabled: no round trip.
	f.mu.Lock()
	gets := f.gets
	f.mu.Unlock()
	r.Get("k")
	f.mu.Lock()
	assert.Equal(t, gets, f.gets)
	f.mu.Unlock()

	f.setFailing(false)
	assert.Eventually(t, func() bool { return !r.disabled() }, 3*time.Second, 20*time.Millisecond)
}

func TestRedisCache_NilClient(t *testing.T) {
	_, err := NewRedisCache(RedisCacheOpts{})
	assert.Error(t, err)
}

func TestPackUnpack(t *testing.T) {
	st := time.Unix(1700000000, 0)
	et := time.Unix(1700000060, 0)
	b := packRedisData(st, et, []byte("hello"))

	gotSt, gotEt, v, err := unpackRedisValue(b)
	require.NoError(t, err)
	assert.True(t, st.Equal(gotSt))
	assert.True(t, et.Equal(gotEt))
	assert.Equal(t, []byte("hello"), v)

	_, _, _, err = unpackRedisValue([]byte{1, 2})
	assert.Error(t, err)
	_, _, _, err = unpackRedisValue(append(b[:16:16], 0xff, 0xff, 0xff))
	assert.Error(t, err)
}
