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
	"fmt"

	"github.com/hibiken/asynq"
	"github.com/sirupsen/logrus"

	"github.com/blnkfinance/ingest/config"
	redis_db "github.com/blnkfinance/ingest/internal/redis-db"
	"github.com/blnkfinance/ingest/model"
)

// Queue publishes ingestion messages to the bus.
type Queue struct {
	Client    *asynq.Client
	Inspector *asynq.Inspector
	name      string
	maxRetry  int
}

// NewQueue connects a publisher and an inspector to the configured redis.
func NewQueue(conf *config.Configuration) (*Queue, error) {
	opt, err := redis_db.AsynqConnOpt(conf.Redis.Dns, conf.Redis.SkipTLSVerify)
	if err != nil {
		return nil, err
	}
	return &Queue{
		Client:    asynq.NewClient(opt),
		Inspector: asynq.NewInspector(opt),
		name:      conf.Queue.Name,
		maxRetry:  conf.Pipeline.MaxAttempts,
	}, nil
}

// Enqueue validates msg and enqueues it. An empty taskID gets a generated one. A failure at
// the attempt ceiling is dead-lettered by the handler, so the bus's own retry limit is only
// reached by a delivery whose previous attempt crashed or lost its lease; that delivery
// arrives past the ceiling and is dead-lettered without being processed.
func (q *Queue) Enqueue(ctx context.Context, msg model.IngestionMessage, taskID string) (string, error) {
	if err := msg.Validate(); err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidMessage, err)
	}
	payload, err := json.Marshal(msg)
	if err != nil {
		return "", err
	}
	if taskID == "" {
		taskID = model.GenerateUUIDWithSuffix("ingest")
	}

	task := asynq.NewTask(q.name, payload,
		asynq.TaskID(taskID),
		asynq.Queue(q.name),
		asynq.MaxRetry(q.maxRetry),
	)
	info, err := q.Client.EnqueueContext(ctx, task)
	if err != nil {
		return "", err
	}
	logrus.WithFields(logrus.Fields{"task_id": info.ID, "user_id": msg.UserID}).Info("ingestion message enqueued")
	return info.ID, nil
}

func (q *Queue) Close() error {
	if err := q.Inspector.Close(); err != nil {
		return err
	}
	return q.Client.Close()
}
