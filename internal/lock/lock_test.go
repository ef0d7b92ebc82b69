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

package redlock

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redismock/v9"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLocker_Lock_Success(t *testing.T) {
	db, mock := redismock.NewClientMock()
	locker := NewLocker(db, "test-key", "test-value")

	mock.ExpectSetNX("test-key", "test-value", 5*time.Second).SetVal(true)

	err := locker.Lock(context.Background(), 5*time.Second)
	assert.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestLocker_Lock_Held(t *testing.T) {
	db, mock := redismock.NewClientMock()
	locker := NewLocker(db, "test-key", "test-value")

	mock.ExpectSetNX("test-key", "test-value", 5*time.Second).SetVal(false)

	err := locker.Lock(context.Background(), 5*time.Second)
	assert.ErrorIs(t, err, ErrLockHeld)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestLocker_Lock_RedisError(t *testing.T) {
	db, mock := redismock.NewClientMock()
	locker := NewLocker(db, "test-key", "test-value")

	mock.ExpectSetNX("test-key", "test-value", 5*time.Second).SetErr(errors.New("connection refused"))

	err := locker.Lock(context.Background(), 5*time.Second)
	assert.EqualError(t, err, "connection refused")
}

func TestLocker_Unlock(t *testing.T) {
	db, mock := redismock.NewClientMock()
	locker := NewLocker(db, "test-key", "test-value")

	mock.ExpectEval(unlockScript, []string{"test-key"}, "test-value").SetVal(int64(1))
	assert.NoError(t, locker.Unlock(context.Background()))

	mock.ExpectEval(unlockScript, []string{"test-key"}, "test-value").SetVal(int64(0))
	assert.ErrorIs(t, locker.Unlock(context.Background()), ErrNotHolder)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestLocker_ExtendLock(t *testing.T) {
	db, mock := redismock.NewClientMock()
	locker := NewLocker(db, "test-key", "test-value")

	mock.ExpectEval(extendScript, []string{"test-key"}, "test-value", "5000").SetVal(int64(1))
	assert.NoError(t, locker.ExtendLock(context.Background(), 5*time.Second))

	mock.ExpectEval(extendScript, []string{"test-key"}, "test-value", "5000").SetVal(int64(0))
	assert.ErrorIs(t, locker.ExtendLock(context.Background(), 5*time.Second), ErrNotHolder)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUserLocks_TryLock(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	locks := NewUserLocks(client, time.Minute)
	ctx := context.Background()

	unlock, ok, err := locks.TryLock(ctx, "u1", "m1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, time.Minute, mr.TTL(UserLockKey("u1")))

	_, ok, err = locks.TryLock(ctx, "u1", "m2")
	require.NoError(t, err)
	assert.False(t, ok, "a second holder is refused")

	_, ok, err = locks.TryLock(ctx, "u2", "m2")
	require.NoError(t, err)
	assert.True(t, ok, "other users are independent")

	unlock()
	_, ok, err = locks.TryLock(ctx, "u1", "m2")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestUserLocks_Expiry(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	locks := NewUserLocks(client, time.Minute)
	ctx := context.Background()

	unlock, ok, err := locks.TryLock(ctx, "u1", "m1")
	require.NoError(t, err)
	require.True(t, ok)

	mr.FastForward(2 * time.Minute)
	_, ok, err = locks.TryLock(ctx, "u1", "m2")
	require.NoError(t, err)
	assert.True(t, ok)

	unlock()
	assert.True(t, mr.Exists(UserLockKey("u1")), "an expired holder cannot release the new lease")
}

func TestUserLocks_RenewsWhileHeld(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	locks := NewUserLocks(client, 150*time.Millisecond)
	key := UserLockKey("u1")

	unlock, ok, err := locks.TryLock(context.Background(), "u1", "m1")
	require.NoError(t, err)
	require.True(t, ok)

	mr.FastForward(140 * time.Millisecond)
	assert.Eventually(t, func() bool {
		return mr.TTL(key) > 100*time.Millisecond
	}, time.Second, 10*time.Millisecond, "the lease is extended before it runs out")

	unlock()
	assert.False(t, mr.Exists(key))
	assert.NotPanics(t, unlock, "unlock is idempotent")
}

func TestUserLocks_StopsRenewingLostLease(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	locks := NewUserLocks(client, 60*time.Millisecond)
	key := UserLockKey("u1")

	unlock, ok, err := locks.TryLock(context.Background(), "u1", "m1")
	require.NoError(t, err)
	require.True(t, ok)

	require.NoError(t, mr.Set(key, "m2"))
	time.Sleep(100 * time.Millisecond)

	unlock()
	got, err := mr.Get(key)
	require.NoError(t, err)
	assert.Equal(t, "m2", got, "the new holder keeps its lease")
}
