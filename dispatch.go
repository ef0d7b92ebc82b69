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

	"github.com/blnkfinance/ingest/model"
)

// DispatchResult summarises what the collaborators accepted for one slice.
type DispatchResult struct {
	Annotations   []model.Annotation
	AnnotateErr   error
	Embedded      int
	EmbedFailures map[string]error
}

// Dispatcher hands fetched threads to the annotation and embedding collaborators.
type Dispatcher struct {
	annotator Annotator
	embedder  Embedder
	metrics   *Metrics
}

func NewDispatcher(annotator Annotator, embedder Embedder, metrics *Metrics) *Dispatcher {
	return &Dispatcher{annotator: annotator, embedder: embedder, metrics: metrics}
}

// Dispatch annotates the slice as a whole, then embeds each thread. Both collaborators are
// always invoked and their failures are logged, never returned.
func (d *Dispatcher) Dispatch(ctx context.Context, userID, recipient string, threads []model.Thread) DispatchResult {
	ctx, span := tracer.Start(ctx, "Dispatch", trace.WithAttributes(
		attribute.String("user.id", userID),
		attribute.Int("dispatch.threads", len(threads)),
	))
	defer span.End()

	var res DispatchResult
	logger := logrus.WithField("user_id", userID)

	annotations, err := d.annotator.Annotate(ctx, userID, threads)
	if err != nil {
		res.AnnotateErr = err
		span.RecordError(err)
		logger.WithError(err).Error("annotation failed for slice")
		d.metrics.partialFailure(stageAnnotation, len(threads))
	} else {
		res.Annotations = annotations
		d.metrics.partialFailure(stageAnnotation, len(threads)-len(annotations))
	}

	for _, thread := range threads {
		if err := d.embedder.EmbedThread(ctx, userID, thread, recipient); err != nil {
			if res.EmbedFailures == nil {
				res.EmbedFailures = make(map[string]error)
			}
			res.EmbedFailures[thread.ID] = err
			logger.WithError(err).WithField("thread_id", thread.ID).Error("embedding failed for thread")
			continue
		}
		res.Embedded++
	}
	d.metrics.partialFailure(stageEmbedding, len(res.EmbedFailures))
	d.metrics.dispatched(len(threads))
	return res
}
