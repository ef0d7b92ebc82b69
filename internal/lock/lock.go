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
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

var (
	ErrLockHeld  = errors.New("lock is held by another holder")
	ErrNotHolder = errors.New("lock expired or is held by another holder")
)

const (
	unlockScript = "if redis.call('get', KEYS[1]) == ARGV[1] then return redis.call('del', KEYS[1]) else return 0 end"
	extendScript = "if redis.call('get', KEYS[1]) == ARGV[1] then return redis.call('pexpire', KEYS[1], ARGV[2]) else return 0 end"
)

// Locker is a single-key lease identified by value. Only the holder can release or extend it.
type Locker struct {
	client redis.UniversalClient
	key    string
	value  string
}

func NewLocker(client redis.UniversalClient, key, value string) *Locker {
	return &Locker{
		client: client,
		key:    key,
		value:  value,
	}
}

func (l *Locker) Lock(ctx context.Context, timeout time.Duration) error {
	success, err := l.client.SetNX(ctx, l.key, l.value, timeout).Result()
	if err != nil {
		return err
	}
	if !success {
		return fmt.Errorf("%w: %s", ErrLockHeld, l.key)
	}
	return nil
}

func (l *Locker) Unlock(ctx context.Context) error {
	result, err := l.client.Eval(ctx, unlockScript, []string{l.key}, l.value).Result()
	if err != nil {
		return err
	}
	if result == int64(0) {
		return fmt.Errorf("%w: %s", ErrNotHolder, l.key)
	}
	return nil
}

func (l *Locker) ExtendLock(ctx context.Context, extension time.Duration) error {
	result, err := l.client.Eval(ctx, extendScript, []string{l.key}, l.value, fmt.Sprintf("%d", extension.Milliseconds())).Result()
	if err != nil {
		return err
	}
	if result == int64(0) {
		return fmt.Errorf("%w: %s", ErrNotHolder, l.key)
	}
	return nil
}

// UserLocks hands out one lease per user so that two deliveries for the same mailbox never
// run at once, even on different workers.
type UserLocks struct {
	client redis.UniversalClient
	ttl    time.Duration
}

func NewUserLocks(client redis.UniversalClient, ttl time.Duration) *UserLocks {
	return &UserLocks{client: client, ttl: ttl}
}

// UserLockKey is the redis key of userID's lease.
func UserLockKey(userID string) string {
	return "ingest:lock:" + userID
}

// TryLock takes userID's lease for holder without waiting. ok is false when another holder
// has it. While held, the lease is extended every third of its ttl, so a delivery that runs
// longer than the ttl keeps it. The returned unlock stops the renewal and is safe to call once
// the lease has been lost.
func (u *UserLocks) TryLock(ctx context.Context, userID, holder string) (unlock func(), ok bool, err error) {
	l := NewLocker(u.client, UserLockKey(userID), holder)
	if err := l.Lock(ctx, u.ttl); err != nil {
		if errors.Is(err, ErrLockHeld) {
			return nil, false, nil
		}
		return nil, false, err
	}

	stop := make(chan struct{})
	stopped := make(chan struct{})
	go u.renew(l, stop, stopped)

	var once sync.Once
	return func() {
		once.Do(func() {
			close(stop)
			<-stopped
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = l.Unlock(ctx)
		})
	}, true, nil
}

func (u *UserLocks) renew(l *Locker, stop <-chan struct{}, stopped chan<- struct{}) {
	defer close(stopped)
	interval := u.ttl / 3
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), interval)
			err := l.ExtendLock(ctx, u.ttl)
			cancel()
			if errors.Is(err, ErrNotHolder) {
				logrus.WithField("lock_key", l.key).Warn("user lease lost before the delivery finished")
				return
			}
			if err != nil {
				logrus.WithError(err).WithField("lock_key", l.key).Warn("failed to extend user lease")
			}
		}
	}
}
