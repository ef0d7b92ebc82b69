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
	"fmt"

	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// DiscoveryOptions bounds a single discovery run.
type DiscoveryOptions struct {
	Query            string
	PageSize         int
	PerUserThreadCap int
	// MaxPages stops a run after that many listing pages. Zero means no limit.
	MaxPages int
	// MarkExhausted enables the exhaustion marker and the incremental scan it allows.
	MarkExhausted bool
}

// Discovery pages through a user's mailbox listing and returns thread ids that have not
// been processed yet, never more than the user's remaining capacity.
type Discovery struct {
	cursors *CursorStore
	opts    DiscoveryOptions
}

func NewDiscovery(cursors *CursorStore, opts DiscoveryOptions) *Discovery {
	if opts.PageSize <= 0 {
		opts.PageSize = 100
	}
	return &Discovery{cursors: cursors, opts: opts}
}

type stopReason int

const (
	stopListingExhausted stopReason = iota
	stopCapReached
	stopNoNewThreads
	stopPageLimit
)

// DiscoverNewThreads returns up to PerUserThreadCap-len(alreadyProcessed) new thread ids in
// listing order. A listing error is returned as is and leaves the stored cursor untouched.
func (d *Discovery) DiscoverNewThreads(ctx context.Context, mb Mailbox, alreadyProcessed map[string]struct{}, userID, cursorKey string) ([]string, error) {
	ctx, span := tracer.Start(ctx, "Discover", trace.WithAttributes(attribute.String("user.id", userID)))
	defer span.End()

	remaining := d.opts.PerUserThreadCap - len(alreadyProcessed)
	if remaining <= 0 {
		span.AddEvent("per-user cap reached")
		return nil, nil
	}

	token, found, err := d.cursors.Load(ctx, cursorKey)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("load cursor: %w", err)
	}
	incremental := !found && d.opts.MarkExhausted && d.cursors.Exhausted(ctx, cursorKey)

	var (
		ids    []string
		seen   = make(map[string]struct{})
		pages  int
		reason stopReason
	)
	for {
		page, err := mb.ListThreads(ctx, d.opts.Query, token, d.opts.PageSize)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return nil, fmt.Errorf("list threads page %d: %w", pages+1, err)
		}
		pages++

		added := 0
		for _, id := range page.ThreadIDs {
			if _, done := alreadyProcessed[id]; done {
				continue
			}
			if _, dup := seen[id]; dup {
				continue
			}
			seen[id] = struct{}{}
			ids = append(ids, id)
			added++
			if len(ids) == remaining {
				break
			}
		}
		token = page.NextPageToken

		if len(ids) >= remaining {
			reason = stopCapReached
			break
		}
		if token == "" {
			reason = stopListingExhausted
			break
		}
		if incremental && added == 0 {
			reason = stopNoNewThreads
			break
		}
		if d.opts.MaxPages > 0 && pages >= d.opts.MaxPages {
			reason = stopPageLimit
			break
		}
	}

	d.persist(ctx, cursorKey, token, reason)

	span.SetAttributes(attribute.Int("discovery.pages", pages), attribute.Int("discovery.threads", len(ids)))
	logrus.WithFields(logrus.Fields{
		"user_id": userID,
		"pages":   pages,
		"threads": len(ids),
	}).Debug("thread discovery finished")
	return ids, nil
}

// persist stores the cursor only when the run stopped with pages left and capacity to
// spare. Cursor writes are best effort: the ledger keeps a rerun correct without them.
func (d *Discovery) persist(ctx context.Context, key, token string, reason stopReason) {
	var err error
	switch reason {
	case stopPageLimit:
		err = d.cursors.Save(ctx, key, token)
	case stopListingExhausted:
		err = d.cursors.Delete(ctx, key)
		if err == nil && d.opts.MarkExhausted {
			err = d.cursors.MarkExhausted(ctx, key)
		}
	case stopNoNewThreads:
		// Only a full read of the listing may renew the marker, so it expires and a full
		// scan eventually runs again.
	case stopCapReached:
		err = d.cursors.Delete(ctx, key)
	}
	if err != nil {
		logrus.WithError(err).WithField("cursor_key", key).Warn("failed to persist pagination cursor")
	}
}

// Forget drops the cursor and the exhaustion marker behind key, so the next run lists the
// mailbox from the beginning.
func (d *Discovery) Forget(ctx context.Context, key string) error {
	return d.cursors.Reset(ctx, key)
}
