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
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/hibiken/asynq"

	"github.com/blnkfinance/ingest/model"
)

// RetrySchedule is the bus-level redelivery schedule.
type RetrySchedule struct {
	AdmissionDelay time.Duration
	InitialDelay   time.Duration
	MaxDelay       time.Duration
}

// Worker adapts bus tasks to Coordinator deliveries.
type Worker struct {
	coordinator *Coordinator
	schedule    RetrySchedule
}

func NewWorker(coordinator *Coordinator, schedule RetrySchedule) *Worker {
	if schedule.AdmissionDelay <= 0 {
		schedule.AdmissionDelay = 5 * time.Second
	}
	if schedule.InitialDelay <= 0 {
		schedule.InitialDelay = 10 * time.Second
	}
	if schedule.MaxDelay <= 0 {
		schedule.MaxDelay = 10 * time.Minute
	}
	return &Worker{coordinator: coordinator, schedule: schedule}
}

// ProcessTask is the asynq handler. A nil return acknowledges the task; ErrNotAdmitted
// releases it without consuming a retry; an error wrapping asynq.SkipRetry archives it.
func (w *Worker) ProcessTask(ctx context.Context, t *asynq.Task) error {
	id, _ := asynq.GetTaskID(ctx)
	retried, _ := asynq.GetRetryCount(ctx)

	out := w.coordinator.Process(ctx, model.Delivery{
		ID:            id,
		DeliveryCount: retried + 1,
		Body:          t.Payload(),
	})

	switch out.Final {
	case StateCompleted:
		return nil
	case StateDeadLettered:
		return fmt.Errorf("%s: %v: %w", out.Reason, out.Err, asynq.SkipRetry)
	default:
		if out.Err == nil {
			return fmt.Errorf("delivery %s ended in state %s", id, out.Final)
		}
		return out.Err
	}
}

// IsFailure keeps admission refusals from counting against the retry budget.
func (w *Worker) IsFailure(err error) bool {
	return !errors.Is(err, ErrNotAdmitted)
}

// RetryDelayFunc schedules the next delivery: a short fixed delay for refused admissions and
// exponential backoff with jitter for failures.
func (w *Worker) RetryDelayFunc(n int, err error, _ *asynq.Task) time.Duration {
	if errors.Is(err, ErrNotAdmitted) {
		return w.schedule.AdmissionDelay
	}
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = w.schedule.InitialDelay
	b.Multiplier = 2
	b.MaxInterval = w.schedule.MaxDelay
	b.MaxElapsedTime = 0
	b.Reset()

	delay := b.NextBackOff()
	for i := 0; i < n; i++ {
		delay = b.NextBackOff()
	}
	return delay
}
