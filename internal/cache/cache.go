/*
Copyright 2024 Blnk Finance Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

	http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package cache

import (
	"context"
	"errors"
	"time"

	"github.com/go-redis/cache/v9"
	"github.com/redis/go-redis/v9"
)

// ErrMiss is returned by Get when the key is absent or expired.
var ErrMiss = errors.New("cache: key not found")

// Cache interface provides the basic operations for a cache system.
// It includes methods for setting, getting, and deleting cached data.
type Cache interface {
	// Set stores a value under key for ttl. A zero ttl falls back to the library default of one hour.
	Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error

	// Get decodes the value stored under key into data. It returns ErrMiss when nothing is stored.
	Get(ctx context.Context, key string, data interface{}) error

	// Exists reports whether key currently holds a value.
	Exists(ctx context.Context, key string) bool

	// Delete removes key. Deleting an absent key is not an error.
	Delete(ctx context.Context, key string) error
}

// RedisCache implements the Cache interface, using Redis as the underlying cache store.
type RedisCache struct {
	cache *cache.Cache
}

// NewCache wraps a Redis client. Every read goes to Redis, so instances sharing the
// same Redis see each other's writes immediately.
func NewCache(client redis.UniversalClient) *RedisCache {
	return &RedisCache{cache: cache.New(&cache.Options{Redis: client})}
}

// Set adds a new entry to the cache with a specified key and TTL.
func (r *RedisCache) Set(ctx context.Context, key string, data interface{}, ttl time.Duration) error {
	return r.cache.Set(&cache.Item{
		Ctx:   ctx,
		Key:   key,
		Value: data,
		TTL:   ttl,
	})
}

// Get retrieves an entry from the cache based on the provided key.
func (r *RedisCache) Get(ctx context.Context, key string, data interface{}) error {
	err := r.cache.Get(ctx, key, data)
	if errors.Is(err, cache.ErrCacheMiss) {
		return ErrMiss
	}
	return err
}

func (r *RedisCache) Exists(ctx context.Context, key string) bool {
	return r.cache.Exists(ctx, key)
}

// Delete removes an entry from the cache based on the provided key.
func (r *RedisCache) Delete(ctx context.Context, key string) error {
	err := r.cache.Delete(ctx, key)
	if errors.Is(err, cache.ErrCacheMiss) {
		return nil
	}
	return err
}
