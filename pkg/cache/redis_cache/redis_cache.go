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

package redis_cache

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math/rand"
	"sync/atomic"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/golang/snappy"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/pmkol/sharedlist/pkg/utils"
)

var nopLogger = zap.NewNop()

type RedisCacheOpts struct {
	// Client cannot be nil.
	Client redis.Cmdable

	// ClientCloser closes Client when RedisCache.Close is called.
	// Optional.
	ClientCloser io.Closer

	// ClientTimeout specifies the timeout for read and write operations.
	// Default is 1s.
	ClientTimeout time.Duration

	// KeyPrefix is prepended to every key. Default is "sharedlist:".
	KeyPrefix string

	// Logger is the *zap.Logger for this RedisCache.
	// A nil Logger will disable logging.
	Logger *zap.Logger
}

func (opts *RedisCacheOpts) Init() error {
	if opts.Client == nil {
		return errors.New("nil client")
	}
	utils.SetDefaultNum(&opts.ClientTimeout, time.Second)
	utils.SetDefaultString(&opts.KeyPrefix, "sharedlist:")
	if opts.Logger == nil {
		opts.Logger = nopLogger
	}
	return nil
}

type RedisCache struct {
	opts           RedisCacheOpts
	clientDisabled atomic.Bool
	getSF          singleflight.Group
}

func NewRedisCache(opts RedisCacheOpts) (*RedisCache, error) {
	if err := opts.Init(); err != nil {
		return nil, err
	}
	return &RedisCache{
		opts: opts,
	}, nil
}

func (r *RedisCache) disabled() bool {
	return r.clientDisabled.Load()
}

func (r *RedisCache) disableClient() {
	if r.clientDisabled.CompareAndSwap(false, true) {
		r.opts.Logger.Warn("redis temporarily disabled")
		go func() {
			const maxBackoff = time.Second * 30
			backoff := time.Millisecond * 100
			for {
				time.Sleep(backoff)
				ctx, cancel := context.WithTimeout(context.Background(), time.Millisecond*500)
				err := r.opts.Client.Ping(ctx).Err()
				cancel()
				if err != nil {
					if backoff >= maxBackoff {
						backoff = maxBackoff
					} else {
						backoff += time.Duration(rand.Intn(1000))*time.Millisecond + time.Second
					}
					r.opts.Logger.Warn("redis ping failed", zap.Error(err), zap.Duration("next_ping", backoff))
					continue
				}
				r.clientDisabled.Store(false)
				r.opts.Logger.Info("redis re-enabled")
				return
			}
		}()
	}
}

func (r *RedisCache) redisKey(key string) string {
	return r.opts.KeyPrefix + key
}

// Get fetches key from redis. Concurrent Gets of the same key share one
// round trip.
func (r *RedisCache) Get(key string) (v []byte, storedTime, expire int64, ok bool) {
	if r.disabled() {
		return nil, 0, 0, false
	}

	res, err, _ := r.getSF.Do(key, func() (interface{}, error) {
		ctx, cancel := context.WithTimeout(context.Background(), r.opts.ClientTimeout)
		defer cancel()
		return r.opts.Client.Get(ctx, r.redisKey(key)).Bytes()
	})
	if err != nil {
		if err != redis.Nil {
			r.opts.Logger.Warn("redis get", zap.Error(err))
			r.disableClient()
		}
		return nil, 0, 0, false
	}

	st, et, v, err := unpackRedisValue(res.([]byte))
	if err != nil {
		r.opts.Logger.Warn("redis data unpack error", zap.String("key", key), zap.Error(err))
		return nil, 0, 0, false
	}
	if et.Unix() <= time.Now().Unix() {
		return nil, 0, 0, false
	}
	return v, st.Unix(), et.Unix(), true
}

// Store stores kv into redis with a redis TTL matching expire.
func (r *RedisCache) Store(key string, v []byte, expire int64) {
	if r.disabled() {
		return
	}

	now := time.Now()
	ttl := expire - now.Unix()
	if ttl <= 0 {
		return
	}

	data := packRedisData(now, time.Unix(expire, 0), v)
	ctx, cancel := context.WithTimeout(context.Background(), r.opts.ClientTimeout)
	defer cancel()
	if err := r.opts.Client.Set(ctx, r.redisKey(key), data, time.Duration(ttl)*time.Second).Err(); err != nil {
		r.opts.Logger.Warn("redis set", zap.Error(err))
		r.disableClient()
	}
}

func (r *RedisCache) Del(key string) {
	if r.disabled() {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), r.opts.ClientTimeout)
	defer cancel()
	if err := r.opts.Client.Del(ctx, r.redisKey(key)).Err(); err != nil {
		r.opts.Logger.Warn("redis del", zap.Error(err))
		r.disableClient()
	}
}

// Close closes the redis client.
func (r *RedisCache) Close() error {
	if f := r.opts.ClientCloser; f != nil {
		return f.Close()
	}
	return nil
}

func (r *RedisCache) Len() int {
	ctx, cancel := context.WithTimeout(context.Background(), time.Millisecond*50)
	defer cancel()
	i, err := r.opts.Client.DBSize(ctx).Result()
	if err != nil {
		r.opts.Logger.Error("dbsize", zap.Error(err))
		return 0
	}
	return int(i)
}

// packRedisData packs storedTime, expirationTime and the snappy-compressed v
// into one byte slice.
func packRedisData(storedTime, expirationTime time.Time, v []byte) []byte {
	b := make([]byte, 16, 16+snappy.MaxEncodedLen(len(v)))
	binary.BigEndian.PutUint64(b[:8], uint64(storedTime.Unix()))
	binary.BigEndian.PutUint64(b[8:16], uint64(expirationTime.Unix()))
	enc := snappy.Encode(b[16:cap(b)], v)
	return b[:16+len(enc)]
}

func unpackRedisValue(b []byte) (storedTime, expirationTime time.Time, v []byte, err error) {
	if len(b) < 16 {
		return time.Time{}, time.Time{}, nil, errors.New("b is too short")
	}
	storedTime = time.Unix(int64(binary.BigEndian.Uint64(b[:8])), 0)
	expirationTime = time.Unix(int64(binary.BigEndian.Uint64(b[8:16])), 0)
	v, err = snappy.Decode(nil, b[16:])
	if err != nil {
		return time.Time{}, time.Time{}, nil, fmt.Errorf("failed to decode value, %w", err)
	}
	return storedTime, expirationTime, v, nil
}
