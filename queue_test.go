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
	"encoding/json"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/brianvoe/gofakeit/v6"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/blnkfinance/ingest/config"
	"github.com/blnkfinance/ingest/model"
)

func newTestQueue(t *testing.T) *Queue {
	mr := miniredis.RunT(t)
	q, err := NewQueue(&config.Configuration{
		Redis:    config.RedisConfig{Dns: mr.Addr()},
		Queue:    config.QueueConfig{Name: "ingest:threads"},
		Pipeline: config.PipelineConfig{MaxAttempts: 3},
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = q.Close() })
	return q
}

func TestEnqueue(t *testing.T) {
	q := newTestQueue(t)
	msg := model.IngestionMessage{UserID: gofakeit.UUID(), AccessToken: gofakeit.Password(true, true, true, false, false, 32)}

	id, err := q.Enqueue(context.Background(), msg, "ingest_fixed")
	require.NoError(t, err)
	assert.Equal(t, "ingest_fixed", id)

	info, err := q.Inspector.GetTaskInfo("ingest:threads", id)
	require.NoError(t, err)
	assert.Equal(t, 3, info.MaxRetry)

	var got model.IngestionMessage
	require.NoError(t, json.Unmarshal(info.Payload, &got))
	assert.Equal(t, msg, got)
}

func TestEnqueue_GeneratesTaskID(t *testing.T) {
	q := newTestQueue(t)

	id, err := q.Enqueue(context.Background(), model.IngestionMessage{UserID: "u1", AccessToken: "tok"}, "")
	require.NoError(t, err)
	assert.Contains(t, id, "ingest_")
}

func TestEnqueue_RejectsInvalidMessage(t *testing.T) {
	q := newTestQueue(t)

	_, err := q.Enqueue(context.Background(), model.IngestionMessage{UserID: "u1"}, "")
	assert.ErrorIs(t, err, ErrInvalidMessage)
}
