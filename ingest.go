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
	"embed"
	"errors"

	"go.opentelemetry.io/otel"

	"github.com/blnkfinance/ingest/model"
)

//go:embed sql/*.sql
var SQLFiles embed.FS

var tracer = otel.Tracer("ingest.pipeline")

var (
	// ErrNotAdmitted is returned when a delivery is deferred by the admission gate.
	// It is not a processing failure and does not consume the retry budget.
	ErrNotAdmitted = errors.New("delivery not admitted: concurrency limit reached or already in flight")

	// ErrInvalidMessage wraps payload decoding and validation failures.
	ErrInvalidMessage = errors.New("invalid ingestion message")

	// ErrMaxRetriesExceeded is recorded when a delivery arrives past its attempt ceiling.
	ErrMaxRetriesExceeded = errors.New("max retries exceeded")

	// ErrSliceFetchFailed is returned when not a single thread of a slice could be fetched.
	ErrSliceFetchFailed = errors.New("no thread in slice could be fetched")
)

// Mailbox is the subset of the mail provider API the pipeline needs.
type Mailbox interface {
	ListThreads(ctx context.Context, query, pageToken string, pageSize int) (model.ThreadPage, error)
	GetThread(ctx context.Context, threadID string) (*model.Thread, error)
	GetMessage(ctx context.Context, messageID string) (*model.Message, error)
	Profile(ctx context.Context) (string, error)
}

// MailboxFactory opens a mailbox for the holder of accessToken.
type MailboxFactory func(ctx context.Context, accessToken string) (Mailbox, error)

// Ledger is the dedup ledger of threads already dispatched per user.
type Ledger interface {
	ProcessedThreadIDs(ctx context.Context, userID string) (map[string]struct{}, error)
	MarkThreadsProcessed(ctx context.Context, userID string, threadIDs []string) error
}

// DeadLetterSink keeps messages that exhausted their retry budget.
type DeadLetterSink interface {
	RecordDeadLetter(ctx context.Context, dl *model.DeadLetter) error
}

// Annotator turns fetched threads into annotations. Failures of individual threads
// are reported by omission, not as an error.
type Annotator interface {
	Annotate(ctx context.Context, userID string, threads []model.Thread) ([]model.Annotation, error)
}

// Embedder upserts the embedding of one thread, keyed on (thread, user).
type Embedder interface {
	EmbedThread(ctx context.Context, userID string, thread model.Thread, recipient string) error
}

// UserLocks serialises deliveries for the same user across workers. ok is false when another
// delivery holds the user's lock.
type UserLocks interface {
	TryLock(ctx context.Context, userID, holder string) (unlock func(), ok bool, err error)
}
