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
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/blnkfinance/ingest/internal/notification"
	"github.com/blnkfinance/ingest/model"
)

// State is a step of a delivery's processing.
type State int

const (
	StateIdle State = iota
	StateAdmitted
	StateDiscovering
	StateFetching
	StateDispatching
	StateCompleted
	StateRetrying
	StateDeadLettered
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateAdmitted:
		return "admitted"
	case StateDiscovering:
		return "discovering"
	case StateFetching:
		return "fetching"
	case StateDispatching:
		return "dispatching"
	case StateCompleted:
		return "completed"
	case StateRetrying:
		return "retrying"
	case StateDeadLettered:
		return "dead_lettered"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Dead-letter reasons.
const (
	ReasonMaxRetriesExceeded = "Max retries exceeded"
	ReasonProcessingFailed   = "Processing failed"
)

// Outcome is the result of processing one delivery.
type Outcome struct {
	MessageID         string
	UserID            string
	Transitions       []State
	Final             State
	Slices            int
	ThreadsDispatched int
	// Err is the error that made the delivery end in Idle, Retrying or DeadLettered.
	Err error
	// Reason is set for dead-lettered deliveries.
	Reason string
}

func (o *Outcome) enter(s State) {
	o.Transitions = append(o.Transitions, s)
	o.Final = s
}

// Deferred reports whether the delivery was refused by the admission gate.
func (o Outcome) Deferred() bool {
	return errors.Is(o.Err, ErrNotAdmitted)
}

type CoordinatorOptions struct {
	BatchSize      int
	MaxAttempts    int
	ProcessTimeout time.Duration
}

// Coordinator drives a delivery through admission, discovery, fetching and dispatch and
// decides between acknowledging, retrying and dead-lettering it.
type Coordinator struct {
	gate       *AdmissionGate
	mailboxes  MailboxFactory
	ledger     Ledger
	discovery  *Discovery
	fetcher    *BatchFetcher
	dispatcher *Dispatcher
	sink       DeadLetterSink
	metrics    *Metrics
	locks      UserLocks
	opts       CoordinatorOptions

	notify func(err error, fields map[string]string)
}

func NewCoordinator(
	gate *AdmissionGate,
	mailboxes MailboxFactory,
	ledger Ledger,
	discovery *Discovery,
	fetcher *BatchFetcher,
	dispatcher *Dispatcher,
	sink DeadLetterSink,
	metrics *Metrics,
	opts CoordinatorOptions,
) *Coordinator {
	if opts.BatchSize <= 0 {
		opts.BatchSize = 100
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = 3
	}
	return &Coordinator{
		gate:       gate,
		mailboxes:  mailboxes,
		ledger:     ledger,
		discovery:  discovery,
		fetcher:    fetcher,
		dispatcher: dispatcher,
		sink:       sink,
		metrics:    metrics,
		opts:       opts,
		notify:     notification.NotifyError,
	}
}

// WithUserLocks makes deliveries for a user that is already being processed elsewhere wait
// like a refused admission.
func (c *Coordinator) WithUserLocks(locks UserLocks) *Coordinator {
	c.locks = locks
	return c
}

// Gate exposes the admission gate so the owner can drain it on shutdown.
func (c *Coordinator) Gate() *AdmissionGate {
	return c.gate
}

// Process handles one delivery. It never panics on bad input: malformed payloads take the
// same retry path as transient failures until the attempt ceiling dead-letters them.
func (c *Coordinator) Process(ctx context.Context, d model.Delivery) Outcome {
	out := Outcome{MessageID: d.ID, Transitions: []State{StateIdle}, Final: StateIdle}

	if !c.gate.TryAdmit(d.ID) {
		out.Err = ErrNotAdmitted
		c.metrics.outcome(outcomeDeferred)
		logrus.WithField("message_id", d.ID).Debug("delivery deferred by admission gate")
		return out
	}
	c.metrics.setActive(c.gate.Active())
	defer func() {
		c.gate.Release(d.ID)
		c.metrics.setActive(c.gate.Active())
	}()

	out.UserID = peekUserID(d.Body)
	unlock, ok := c.lockUser(ctx, out.UserID, d.ID)
	if !ok {
		out.Err = ErrNotAdmitted
		c.metrics.outcome(outcomeDeferred)
		return out
	}
	if unlock != nil {
		defer unlock()
	}
	out.enter(StateAdmitted)

	if c.opts.ProcessTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.opts.ProcessTimeout)
		defer cancel()
	}
	ctx, span := tracer.Start(ctx, "Process", trace.WithAttributes(
		attribute.String("message.id", d.ID),
		attribute.Int("message.delivery_count", d.DeliveryCount),
	))
	defer span.End()

	if d.DeliveryCount > c.opts.MaxAttempts {
		c.deadLetter(ctx, &out, d, ReasonMaxRetriesExceeded, ErrMaxRetriesExceeded)
		return out
	}

	err := c.run(ctx, &out, d)
	if err == nil {
		out.enter(StateCompleted)
		c.metrics.outcome(outcomeCompleted)
		logrus.WithFields(logrus.Fields{
			"message_id": d.ID,
			"user_id":    out.UserID,
			"slices":     out.Slices,
			"threads":    out.ThreadsDispatched,
		}).Info("ingestion message completed")
		return out
	}

	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	if d.DeliveryCount < c.opts.MaxAttempts {
		out.enter(StateRetrying)
		out.Err = err
		c.metrics.outcome(outcomeRetrying)
		logrus.WithError(err).WithFields(logrus.Fields{
			"message_id":     d.ID,
			"user_id":        out.UserID,
			"delivery_count": d.DeliveryCount,
		}).Warn("ingestion message failed, releasing for redelivery")
		return out
	}
	c.deadLetter(ctx, &out, d, ReasonProcessingFailed, err)
	return out
}

// lockUser takes the cross-worker lock of userID. A lock backend failure is logged and the
// delivery proceeds unlocked, as the ledger keeps concurrent runs for one user safe.
func (c *Coordinator) lockUser(ctx context.Context, userID, holder string) (unlock func(), ok bool) {
	if c.locks == nil || userID == "" {
		return nil, true
	}
	unlock, ok, err := c.locks.TryLock(ctx, userID, holder)
	if err != nil {
		logrus.WithError(err).WithField("user_id", userID).Warn("user lock unavailable, processing without it")
		return nil, true
	}
	if !ok {
		logrus.WithFields(logrus.Fields{"message_id": holder, "user_id": userID}).Debug("delivery deferred, user already in progress")
	}
	return unlock, ok
}

func (c *Coordinator) run(ctx context.Context, out *Outcome, d model.Delivery) error {
	msg, err := model.ParseIngestionMessage(d.Body)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidMessage, err)
	}
	out.UserID = msg.UserID
	logger := logrus.WithFields(logrus.Fields{"message_id": d.ID, "user_id": msg.UserID})

	mb, err := c.mailboxes(ctx, msg.AccessToken)
	if err != nil {
		return fmt.Errorf("open mailbox: %w", err)
	}

	out.enter(StateDiscovering)
	processed, err := c.ledger.ProcessedThreadIDs(ctx, msg.UserID)
	if err != nil {
		return fmt.Errorf("load processed threads: %w", err)
	}
	ids, err := c.discovery.DiscoverNewThreads(ctx, mb, processed, msg.UserID, CursorKey(msg.UserID))
	if err != nil {
		return err
	}
	if len(ids) == 0 {
		logger.Debug("no new threads to ingest")
		return nil
	}

	recipient, err := mb.Profile(ctx)
	if err != nil || recipient == "" {
		logger.WithError(err).Warn("could not resolve mailbox address, using user id as recipient")
		recipient = msg.UserID
	}

	complete, err := c.dispatchSlices(ctx, out, msg.UserID, recipient, mb, ids)
	if !complete {
		c.forgetListing(ctx, logger, msg.UserID)
	}
	return err
}

// dispatchSlices fetches, dispatches and records ids slice by slice. complete is false when
// any discovered thread did not make it into the ledger.
func (c *Coordinator) dispatchSlices(ctx context.Context, out *Outcome, userID, recipient string, mb Mailbox, ids []string) (complete bool, err error) {
	complete = true
	for _, slice := range Slices(ids, c.opts.BatchSize) {
		out.enter(StateFetching)
		threads := c.fetcher.FetchSlice(ctx, mb, slice)
		if len(threads) < len(slice) {
			complete = false
		}
		if len(threads) == 0 {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return false, ctxErr
			}
			return false, fmt.Errorf("%w (%d threads)", ErrSliceFetchFailed, len(slice))
		}

		out.enter(StateDispatching)
		c.dispatcher.Dispatch(ctx, userID, recipient, threads)

		dispatched := make([]string, len(threads))
		for i, t := range threads {
			dispatched[i] = t.ID
		}
		if err := c.ledger.MarkThreadsProcessed(ctx, userID, dispatched); err != nil {
			return false, fmt.Errorf("mark threads processed: %w", err)
		}
		out.Slices++
		out.ThreadsDispatched += len(threads)
	}
	return complete, nil
}

// forgetListing drops the user's cursor and exhaustion marker. Threads this run discovered
// but could not record sit behind them and would otherwise never be listed again.
func (c *Coordinator) forgetListing(ctx context.Context, logger *logrus.Entry, userID string) {
	resetCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := c.discovery.Forget(resetCtx, CursorKey(userID)); err != nil {
		logger.WithError(err).Warn("failed to reset listing position after an incomplete run")
	}
}

func (c *Coordinator) deadLetter(ctx context.Context, out *Outcome, d model.Delivery, reason string, cause error) {
	out.enter(StateDeadLettered)
	out.Err = cause
	out.Reason = reason
	c.metrics.outcome(outcomeDeadLettered)

	dl := &model.DeadLetter{
		DeadLetterID:  model.GenerateUUIDWithSuffix("dl"),
		MessageID:     d.ID,
		UserID:        out.UserID,
		Reason:        reason,
		Error:         cause.Error(),
		DeliveryCount: d.DeliveryCount,
		Payload:       model.ScrubbedPayload(d.Body),
		CreatedAt:     time.Now().UTC(),
	}
	fields := map[string]string{
		"message_id":     d.ID,
		"user_id":        out.UserID,
		"reason":         reason,
		"delivery_count": fmt.Sprint(d.DeliveryCount),
	}
	logger := logrus.WithError(cause).WithFields(logrus.Fields{
		"message_id":     d.ID,
		"user_id":        out.UserID,
		"reason":         reason,
		"delivery_count": d.DeliveryCount,
	})

	// The write must outlive a processing deadline that may have caused the failure.
	writeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()
	if err := c.sink.RecordDeadLetter(writeCtx, dl); err != nil {
		logger.WithField("sink_error", err.Error()).Error("failed to record dead letter")
		c.notify(fmt.Errorf("record dead letter: %w", err), fields)
	}
	logger.Error("ingestion message dead-lettered")
	c.notify(cause, fields)
}

// Slices splits ids into consecutive chunks of at most size elements.
func Slices(ids []string, size int) [][]string {
	if size <= 0 {
		size = len(ids)
	}
	var out [][]string
	for start := 0; start < len(ids); start += size {
		end := start + size
		if end > len(ids) {
			end = len(ids)
		}
		out = append(out, ids[start:end])
	}
	return out
}

// peekUserID extracts the user id of a body that may fail validation.
func peekUserID(body []byte) string {
	var msg model.IngestionMessage
	if err := json.Unmarshal(body, &msg); err != nil {
		return ""
	}
	return msg.UserID
}
