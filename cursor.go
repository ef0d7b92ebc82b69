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

package ingest

import (
	"context"
	"errors"
	"time"

	"github.com/blnkfinance/ingest/internal/cache"
)

const (
	cursorKeyPrefix    = "pagination:"
	exhaustedKeySuffix = ":exhausted"
)

// CursorKey returns the cache key holding userID's pagination token.
func CursorKey(userID string) string {
	return cursorKeyPrefix + userID
}

// CursorStore keeps one opaque listing token per user with a fixed expiry. An absent
// token means the next listing starts from the beginning.
type CursorStore struct {
	cache        cache.Cache
	ttl          time.Duration
	exhaustedTTL time.Duration
}

// NewCursorStore stores tokens for ttl and exhaustion markers for exhaustedTTL.
func NewCursorStore(c cache.Cache, ttl, exhaustedTTL time.Duration) *CursorStore {
	return &CursorStore{cache: c, ttl: ttl, exhaustedTTL: exhaustedTTL}
}

// Load returns the stored token for key. found is false when no live token exists.
func (s *CursorStore) Load(ctx context.Context, key string) (token string, found bool, err error) {
	err = s.cache.Get(ctx, key, &token)
	if errors.Is(err, cache.ErrMiss) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return token, token != "", nil
}

func (s *CursorStore) Save(ctx context.Context, key, token string) error {
	return s.cache.Set(ctx, key, token, s.ttl)
}

func (s *CursorStore) Delete(ctx context.Context, key string) error {
	return s.cache.Delete(ctx, key)
}

// MarkExhausted records that the listing behind key was read to its last page.
func (s *CursorStore) MarkExhausted(ctx context.Context, key string) error {
	return s.cache.Set(ctx, key+exhaustedKeySuffix, "1", s.exhaustedTTL)
}

// Exhausted reports whether the listing behind key was recently read to its end.
func (s *CursorStore) Exhausted(ctx context.Context, key string) bool {
	return s.cache.Exists(ctx, key+exhaustedKeySuffix)
}

// Reset drops both the token and the exhaustion marker, forcing a full scan next time.
func (s *CursorStore) Reset(ctx context.Context, key string) error {
	if err := s.cache.Delete(ctx, key); err != nil {
		return err
	}
	return s.cache.Delete(ctx, key+exhaustedKeySuffix)
}
