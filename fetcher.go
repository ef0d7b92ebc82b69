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

	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/blnkfinance/ingest/model"
)

// BatchFetcher retrieves thread and message payloads in parallel with a fixed bound on
// outstanding mailbox calls. Individual failures are omitted, never returned.
type BatchFetcher struct {
	parallelism int
	metrics     *Metrics
}

func NewBatchFetcher(parallelism int, metrics *Metrics) *BatchFetcher {
	if parallelism <= 0 {
		parallelism = 1
	}
	return &BatchFetcher{parallelism: parallelism, metrics: metrics}
}

// FetchThreadData returns one entry per thread id, in input order. An entry is nil when
// that thread could not be fetched.
func (f *BatchFetcher) FetchThreadData(ctx context.Context, mb Mailbox, threadIDs []string) []*model.Thread {
	out := make([]*model.Thread, len(threadIDs))
	var g errgroup.Group
	g.SetLimit(f.parallelism)
	for i, id := range threadIDs {
		g.Go(func() error {
			thread, err := mb.GetThread(ctx, id)
			if err != nil {
				logrus.WithError(err).WithField("thread_id", id).Warn("failed to fetch thread")
				return nil
			}
			out[i] = thread
			return nil
		})
	}
	_ = g.Wait()
	return out
}

// FetchMessages returns the messages that could be fetched, keyed by id.
func (f *BatchFetcher) FetchMessages(ctx context.Context, mb Mailbox, messageIDs []string) map[string]*model.Message {
	results := make([]*model.Message, len(messageIDs))
	var g errgroup.Group
	g.SetLimit(f.parallelism)
	for i, id := range messageIDs {
		g.Go(func() error {
			msg, err := mb.GetMessage(ctx, id)
			if err != nil {
				logrus.WithError(err).WithField("message_id", id).Warn("failed to fetch message")
				return nil
			}
			results[i] = msg
			return nil
		})
	}
	_ = g.Wait()

	out := make(map[string]*model.Message, len(messageIDs))
	for i, msg := range results {
		if msg != nil {
			out[messageIDs[i]] = msg
		}
	}
	f.metrics.partialFailure(stageMessage, len(messageIDs)-len(out))
	return out
}

// FetchSlice fetches a slice of threads together with the full bodies of their messages.
// Threads that could not be fetched are left out; so are messages whose body fetch failed.
func (f *BatchFetcher) FetchSlice(ctx context.Context, mb Mailbox, threadIDs []string) []model.Thread {
	ctx, span := tracer.Start(ctx, "Fetch", trace.WithAttributes(attribute.Int("fetch.threads", len(threadIDs))))
	defer span.End()

	fetched := FilterNil(f.FetchThreadData(ctx, mb, threadIDs))
	f.metrics.partialFailure(stageThread, len(threadIDs)-len(fetched))

	var messageIDs []string
	for _, t := range fetched {
		messageIDs = append(messageIDs, t.MessageIDs()...)
	}
	bodies := f.FetchMessages(ctx, mb, messageIDs)

	threads := make([]model.Thread, 0, len(fetched))
	for _, t := range fetched {
		full := make([]model.Message, 0, len(t.Messages))
		for _, m := range t.Messages {
			body, ok := bodies[m.ID]
			if !ok {
				continue
			}
			if body.ThreadID == "" {
				body.ThreadID = t.ID
			}
			full = append(full, *body)
		}
		t.Messages = full
		threads = append(threads, *t)
	}
	span.SetAttributes(attribute.Int("fetch.fetched", len(threads)), attribute.Int("fetch.messages", len(bodies)))
	return threads
}

// FilterNil drops the nil entries of a fetch result.
func FilterNil(threads []*model.Thread) []*model.Thread {
	out := make([]*model.Thread, 0, len(threads))
	for _, t := range threads {
		if t != nil {
			out = append(out, t)
		}
	}
	return out
}
