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

package mocks

import (
	"context"

	"github.com/stretchr/testify/mock"

	"github.com/blnkfinance/ingest/model"
)

// MockDataSource is a mock implementation of the IDataSource interface
type MockDataSource struct {
	mock.Mock
}

// Dedup ledger methods

func (m *MockDataSource) ProcessedThreadIDs(ctx context.Context, userID string) (map[string]struct{}, error) {
	args := m.Called(ctx, userID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(map[string]struct{}), args.Error(1)
}

func (m *MockDataSource) MarkThreadsProcessed(ctx context.Context, userID string, threadIDs []string) error {
	args := m.Called(ctx, userID, threadIDs)
	return args.Error(0)
}

func (m *MockDataSource) CountProcessedThreads(ctx context.Context, userID string) (int, error) {
	args := m.Called(ctx, userID)
	return args.Int(0), args.Error(1)
}

// Dead-letter methods

func (m *MockDataSource) RecordDeadLetter(ctx context.Context, dl *model.DeadLetter) error {
	args := m.Called(ctx, dl)
	return args.Error(0)
}

func (m *MockDataSource) GetDeadLetters(ctx context.Context, limit, offset int) ([]model.DeadLetter, error) {
	args := m.Called(ctx, limit, offset)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]model.DeadLetter), args.Error(1)
}

func (m *MockDataSource) GetDeadLetterByMessageID(ctx context.Context, messageID string) (*model.DeadLetter, error) {
	args := m.Called(ctx, messageID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.DeadLetter), args.Error(1)
}

func (m *MockDataSource) Ping(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}

func (m *MockDataSource) Close() error {
	args := m.Called()
	return args.Error(0)
}
