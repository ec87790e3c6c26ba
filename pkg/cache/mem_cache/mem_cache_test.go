/*
 * Copyright (C) 2020-2022, IrineSistiana
 *
 * This file is part of mosdns.
 *
 * mosdns is free software: you can redistribute it and/or modify
 * it under the terms of the GNU General Public License as published by
 * the Free Software Foundation, either version 3 of the License, or
 * (at your option) any later version.
 *
 * mosdns is distributed in the hope that it will be useful,
 * but WITHOUT ANY WARRANTY; without even the implied warranty of
 * MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
 * GNU General Public License for more details.
 *
 * You should have received a copy of the GNU General Public License
 * along with this program.  If not, see <https://www.gnu.org/licenses/>.
 */

package mem_cache

import (
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/pmkol/sharedlist/pkg/cache"
)

var _ cache.Backend = (*MemCache)(nil)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func Test_memCache(t *testing.T) {
	c := NewMemCache(1024, 0)
	defer c.Close()

	for i := 0; i < 128; i++ {
		key := strconv.Itoa(i)
		now := time.Now().Unix()
		c.Store(key, []byte{byte(i)}, now+60)
		v, storedTime, expire, ok := c.Get(key)
		require.True(t, ok)
		require.Equal(t, []byte{byte(i)}, v, "cache kv mismatched")
		require.GreaterOrEqual(t, storedTime, now)
		require.Equal(t, now+60, expire)
	}

	for i := 0; i < 1024*4; i++ {
		c.Store(strconv.Itoa(i), []byte{}, time.Now().Unix()+60)
	}

	// 64 shards of 16 entries each.
	assert.LessOrEqual(t, c.Len(), 1024)
}

func Test_memCache_copies(t *testing.T) {
	c := NewMemCache(16, 0)
	defer c.Close()

	in := []byte("abc")
	c.Store("k", in, time.Now().Unix()+60)
	in[0] = 'x'

	out, _, _, ok := c.Get("k")
	require.True(t, ok)
	assert.Equal(t, "abc", string(out))
	out[0] = 'y'

	out, _, _, _ = c.Get("k")
	assert.Equal(t, "abc", string(out))
}

func Test_memCache_expired(t *testing.T) {
	c := NewMemCache(16, 0)
	defer c.Close()

	now := time.Now().Unix()
	c.Store("old", []byte{1}, now-1)
	_, _, _, ok := c.Get("old")
	assert.False(t, ok)
	assert.Equal(t, 0, c.Len())

	c.Store("k", []byte{1}, now+60)
	assert.Equal(t, 0, c.cleanExpired(now))
	assert.Equal(t, 1, c.cleanExpired(now+60))
	assert.Equal(t, 0, c.Len())

	c.Store("d", []byte{1}, now+60)
	c.Del("d")
	_, _, _, ok = c.Get("d")
	assert.False(t, ok)
	s := c.Stats()
	assert.Positive(t, s.Misses)
}

func Test_memCache_cleaner(t *testing.T) {
	c := NewMemCache(1024, time.Millisecond*10)
	defer c.Close()

	for i := 0; i < 64; i++ {
		c.Store(strconv.Itoa(i), make([]byte, 0), time.Now().Unix()+1)
	}
	require.Equal(t, 64, c.Len())

	assert.Eventually(t, func() bool { return c.Len() == 0 }, 3*time.Second, 10*time.Millisecond)
}

func Test_memCache_closed(t *testing.T) {
	c := NewMemCache(16, time.Millisecond)
	require.NoError(t, c.Close())
	require.NoError(t, c.Close())

	c.Store("k", []byte{1}, time.Now().Unix()+60)
	_, _, _, ok := c.Get("k")
	assert.False(t, ok)
}

func Test_memCache_race(t *testing.T) {
	c := NewMemCache(1024, -1)
	defer c.Close()

	wg := sync.WaitGroup{}
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 256; i++ {
				key := strconv.Itoa(i)
				c.Store(key, []byte{}, time.Now().Unix()+60)
				_, _, _, _ = c.Get(key)
				c.lru.Clean(func(_ string, _ *elem) bool { return false })
			}
		}()
	}
	wg.Wait()
}
