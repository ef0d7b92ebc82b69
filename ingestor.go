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
	"time"

	"github.com/hibiken/asynq"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"

	"github.com/blnkfinance/ingest/config"
	"github.com/blnkfinance/ingest/database"
	"github.com/blnkfinance/ingest/internal/cache"
	"github.com/blnkfinance/ingest/internal/collaborator"
	redlock "github.com/blnkfinance/ingest/internal/lock"
	"github.com/blnkfinance/ingest/internal/mailbox"
	redis_db "github.com/blnkfinance/ingest/internal/redis-db"
	"github.com/blnkfinance/ingest/model"
)

// Ingestor owns the pipeline and the connections it runs on.
type Ingestor struct {
	datasource  database.IDataSource
	redis       *redis_db.Redis
	queue       *Queue
	cursors     *CursorStore
	coordinator *Coordinator
	worker      *Worker
	metrics     *Metrics
	threadCap   int
	drain       time.Duration
}

// NewIngestor wires the pipeline from the loaded configuration. Collectors are registered
// with reg when it is not nil.
func NewIngestor(db database.IDataSource, rdb *redis_db.Redis, reg prometheus.Registerer) (*Ingestor, error) {
	cnf, err := config.Fetch()
	if err != nil {
		return nil, err
	}
	queue, err := NewQueue(cnf)
	if err != nil {
		return nil, err
	}

	p := cnf.Pipeline
	metrics := NewMetrics(reg)
	cursors := NewCursorStore(
		cache.NewCache(rdb.Client()),
		time.Duration(p.CursorTTLSec)*time.Second,
		time.Duration(p.ExhaustedTTLSec)*time.Second,
	)
	discovery := NewDiscovery(cursors, DiscoveryOptions{
		Query:            cnf.Mailbox.Query,
		PageSize:         p.BatchSize,
		PerUserThreadCap: p.PerUserThreadCap,
		MaxPages:         p.MaxPagesPerRun,
		MarkExhausted:    !p.DisableExhaustMark,
	})
	collab := collaborator.NewClient(cnf.Collaborators)
	mailboxOpts := mailbox.Options{UserID: cnf.Mailbox.UserID, Endpoint: cnf.Mailbox.Endpoint}
	mailboxes := func(ctx context.Context, accessToken string) (Mailbox, error) {
		return mailbox.New(ctx, accessToken, mailboxOpts)
	}

	coordinator := NewCoordinator(
		NewAdmissionGate(p.ConcurrencyLimit),
		mailboxes,
		db,
		discovery,
		NewBatchFetcher(p.FetchParallelism, metrics),
		NewDispatcher(collab, collab, metrics),
		db,
		metrics,
		CoordinatorOptions{
			BatchSize:      p.BatchSize,
			MaxAttempts:    p.MaxAttempts,
			ProcessTimeout: time.Duration(p.ProcessTimeoutSec) * time.Second,
		},
	)
	if !p.DisableUserLock {
		coordinator.WithUserLocks(redlock.NewUserLocks(rdb.Client(), time.Duration(p.UserLockTTLSec)*time.Second))
	}
	worker := NewWorker(coordinator, RetrySchedule{
		AdmissionDelay: time.Duration(cnf.Queue.AdmissionRetryDelaySec) * time.Second,
		InitialDelay:   time.Duration(cnf.Queue.RetryInitialDelaySec) * time.Second,
		MaxDelay:       time.Duration(cnf.Queue.RetryMaxDelaySec) * time.Second,
	})

	return &Ingestor{
		datasource:  db,
		redis:       rdb,
		queue:       queue,
		cursors:     cursors,
		coordinator: coordinator,
		worker:      worker,
		metrics:     metrics,
		threadCap:   p.PerUserThreadCap,
		drain:       time.Duration(p.DrainTimeoutSec) * time.Second,
	}, nil
}

func (i *Ingestor) Worker() *Worker { return i.worker }

func (i *Ingestor) Coordinator() *Coordinator { return i.coordinator }

// Enqueue publishes an ingestion message for a user.
func (i *Ingestor) Enqueue(ctx context.Context, msg model.IngestionMessage) (string, error) {
	return i.queue.Enqueue(ctx, msg, "")
}

// DeadLetters pages through the dead-letter sink, newest first.
func (i *Ingestor) DeadLetters(ctx context.Context, limit, offset int) ([]model.DeadLetter, error) {
	return i.datasource.GetDeadLetters(ctx, limit, offset)
}

// DeadLetter looks up the dead letter recorded for a bus message.
func (i *Ingestor) DeadLetter(ctx context.Context, messageID string) (*model.DeadLetter, error) {
	return i.datasource.GetDeadLetterByMessageID(ctx, messageID)
}

// CursorStatus reports a user's stored pagination token, whether the listing was read to the
// end and how many threads count against the user's cap.
func (i *Ingestor) CursorStatus(ctx context.Context, userID string) (model.CursorState, error) {
	key := CursorKey(userID)
	token, _, err := i.cursors.Load(ctx, key)
	if err != nil {
		return model.CursorState{}, err
	}
	processed, err := i.datasource.CountProcessedThreads(ctx, userID)
	if err != nil {
		return model.CursorState{}, err
	}
	return model.CursorState{
		Cursor:    token,
		Exhausted: i.cursors.Exhausted(ctx, key),
		Processed: processed,
		Cap:       i.threadCap,
	}, nil
}

// ResetCursor forces the user's next run to list the mailbox from the beginning.
func (i *Ingestor) ResetCursor(ctx context.Context, userID string) error {
	return i.cursors.Reset(ctx, CursorKey(userID))
}

// Ping checks redis and the database.
func (i *Ingestor) Ping(ctx context.Context) error {
	return errors.Join(i.redis.Ping(ctx), i.datasource.Ping(ctx))
}

// Shutdown stops pulling and admitting deliveries and waits, bounded by the drain timeout, for the ones in
// flight to finish before the bus server and the connections are closed. srv may be nil.
func (i *Ingestor) Shutdown(ctx context.Context, srv *asynq.Server) error {
	if srv != nil {
		srv.Stop()
	}
	gate := i.coordinator.Gate()
	gate.Close()

	drainCtx := ctx
	if i.drain > 0 {
		var cancel context.CancelFunc
		drainCtx, cancel = context.WithTimeout(ctx, i.drain)
		defer cancel()
	}
	drainErr := gate.Wait(drainCtx)
	if drainErr != nil {
		logrus.WithError(drainErr).WithField("active", gate.Active()).Warn("drain timed out with deliveries still in flight")
	}

	if srv != nil {
		srv.Shutdown()
	}
	return errors.Join(drainErr, i.queue.Close(), i.redis.Close(), i.datasource.Close())
}
