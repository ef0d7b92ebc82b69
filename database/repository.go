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

package database

import (
	"context"

	"github.com/blnkfinance/ingest/model"
)

// IDataSource defines the interface for data source operations, grouping related functionalities.
type IDataSource interface {
	threads
	deadLetters
	Ping(ctx context.Context) error
	Close() error
}

// threads is the dedup ledger: which threads have already been dispatched for a user.
type threads interface {
	ProcessedThreadIDs(ctx context.Context, userID string) (map[string]struct{}, error)
	MarkThreadsProcessed(ctx context.Context, userID string, threadIDs []string) error
	CountProcessedThreads(ctx context.Context, userID string) (int, error)
}

// deadLetters is the terminal sink for messages that exhausted their retry budget.
type deadLetters interface {
	RecordDeadLetter(ctx context.Context, dl *model.DeadLetter) error
	GetDeadLetters(ctx context.Context, limit, offset int) ([]model.DeadLetter, error)
	GetDeadLetterByMessageID(ctx context.Context, messageID string) (*model.DeadLetter, error)
}
