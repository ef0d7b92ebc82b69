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
	"sync"
)

// AdmissionGate bounds how many deliveries this process works on at once and refuses a
// delivery whose id is already in flight. A refused delivery has no side effects.
type AdmissionGate struct {
	mu       sync.Mutex
	limit    int
	inFlight map[string]struct{}
	closed   bool
	drained  chan struct{}
}

// NewAdmissionGate returns a gate admitting at most limit deliveries concurrently.
func NewAdmissionGate(limit int) *AdmissionGate {
	if limit <= 0 {
		limit = 1
	}
	drained := make(chan struct{})
	close(drained)
	return &AdmissionGate{
		limit:    limit,
		inFlight: make(map[string]struct{}, limit),
		drained:  drained,
	}
}

// TryAdmit reserves a slot for messageID. It returns false when the gate is full or closed,
// or when messageID already holds a slot.
func (g *AdmissionGate) TryAdmit(messageID string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.closed || len(g.inFlight) >= g.limit {
		return false
	}
	if _, ok := g.inFlight[messageID]; ok {
		return false
	}
	if len(g.inFlight) == 0 {
		g.drained = make(chan struct{})
	}
	g.inFlight[messageID] = struct{}{}
	return true
}

// Release frees the slot held by messageID. Releasing an id that holds no slot is a no-op.
func (g *AdmissionGate) Release(messageID string) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if _, ok := g.inFlight[messageID]; !ok {
		return
	}
	delete(g.inFlight, messageID)
	if len(g.inFlight) == 0 {
		close(g.drained)
	}
}

// Active returns the number of slots currently held.
func (g *AdmissionGate) Active() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.inFlight)
}

// Limit returns the configured concurrency limit.
func (g *AdmissionGate) Limit() int {
	return g.limit
}

// Close stops admitting new deliveries. Slots already held are unaffected.
func (g *AdmissionGate) Close() {
	g.mu.Lock()
	g.closed = true
	g.mu.Unlock()
}

// Wait blocks until no slot is held or ctx is done.
func (g *AdmissionGate) Wait(ctx context.Context) error {
	g.mu.Lock()
	drained := g.drained
	g.mu.Unlock()

	select {
	case <-drained:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
