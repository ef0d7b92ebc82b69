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
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFetchThreadData_NilOnFailure(t *testing.T) {
	mb := newFakeMailbox(4)
	mb.threadErr = map[string]error{"t001": errFake}
	f := NewBatchFetcher(2, nil)

	got := f.FetchThreadData(context.Background(), mb, []string{"t000", "t001", "t002"})
	require.Len(t, got, 3)
	assert.Equal(t, "t000", got[0].ID)
	assert.Nil(t, got[1])
	assert.Equal(t, "t002", got[2].ID)
	assert.Len(t, FilterNil(got), 2)
}

func TestFetchThreadData_BoundedParallelism(t *testing.T) {
	mb := newFakeMailbox(40)
	mb.delay = 5 * time.Millisecond
	f := NewBatchFetcher(3, nil)

	got := f.FetchThreadData(context.Background(), mb, mb.ids)
	assert.Len(t, FilterNil(got), 40)
	assert.LessOrEqual(t, mb.peakInFlight, 3)
	assert.Greater(t, mb.peakInFlight, 0)
}

func TestFetchSlice_OmitsFailures(t *testing.T) {
	reg := prometheus.NewRegistry()
	metrics := NewMetrics(reg)
	mb := newFakeMailbox(3)
	mb.threadErr = map[string]error{"t002": errFake}
	mb.messageErr = map[string]error{"t000-m2": errFake}
	f := NewBatchFetcher(4, metrics)

	threads := f.FetchSlice(context.Background(), mb, []string{"t000", "t001", "t002"})
	require.Len(t, threads, 2)

	assert.Equal(t, "t000", threads[0].ID)
	require.Len(t, threads[0].Messages, 1)
	assert.Equal(t, "t000-m1", threads[0].Messages[0].ID)
	assert.Equal(t, "t000", threads[0].Messages[0].ThreadID)
	assert.Equal(t, "body of t000-m1", threads[0].Messages[0].Body)

	assert.Equal(t, "t001", threads[1].ID)
	assert.Len(t, threads[1].Messages, 2)

	assert.Equal(t, float64(1), testutil.ToFloat64(metrics.partialFailures.WithLabelValues(stageThread)))
	assert.Equal(t, float64(1), testutil.ToFloat64(metrics.partialFailures.WithLabelValues(stageMessage)))
}

func TestFetchSlice_AllFail(t *testing.T) {
	mb := newFakeMailbox(2)
	mb.threadErr = map[string]error{"t000": errFake, "t001": errFake}
	f := NewBatchFetcher(2, nil)

	assert.Empty(t, f.FetchSlice(context.Background(), mb, mb.ids))
	assert.Equal(t, 0, mb.messageCalls)
}
