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
	"strconv"
	"sync"
	"time"

	"github.com/blnkfinance/ingest/model"
)

var errFake = errors.New("fake failure")

// fakeMailbox serves a fixed listing of threads, each with two messages.
type fakeMailbox struct {
	mu sync.Mutex

	ids      []string
	address  string
	pageSize int // overrides the requested page size when set

	listErr       error
	listErrOnCall int // fail the nth ListThreads call (1-based); 0 fails every call when listErr is set
	threadErr     map[string]error
	messageErr    map[string]error
	profileErr    error

	listCalls    int
	tokens       []string
	threadCalls  int
	messageCalls int
	inFlight     int
	peakInFlight int
	delay        time.Duration
}

func newFakeMailbox(n int) *fakeMailbox {
	ids := make([]string, n)
	for i := range ids {
		ids[i] = fmt.Sprintf("t%03d", i)
	}
	return &fakeMailbox{ids: ids, address: "owner@example.com"}
}

func (f *fakeMailbox) ListThreads(_ context.Context, _ string, pageToken string, pageSize int) (model.ThreadPage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.listCalls++
	f.tokens = append(f.tokens, pageToken)
	if f.listErr != nil && (f.listErrOnCall == 0 || f.listErrOnCall == f.listCalls) {
		return model.ThreadPage{}, f.listErr
	}
	if f.pageSize > 0 {
		pageSize = f.pageSize
	}
	start := 0
	if pageToken != "" {
		start, _ = strconv.Atoi(pageToken)
	}
	if start > len(f.ids) {
		start = len(f.ids)
	}
	end := start + pageSize
	if end > len(f.ids) {
		end = len(f.ids)
	}
	page := model.ThreadPage{ThreadIDs: append([]string(nil), f.ids[start:end]...)}
	if end < len(f.ids) {
		page.NextPageToken = strconv.Itoa(end)
	}
	return page, nil
}

func (f *fakeMailbox) enter() {
	f.mu.Lock()
	f.inFlight++
	if f.inFlight > f.peakInFlight {
		f.peakInFlight = f.inFlight
	}
	f.mu.Unlock()
}

func (f *fakeMailbox) leave() {
	f.mu.Lock()
	f.inFlight--
	f.mu.Unlock()
}

func (f *fakeMailbox) GetThread(_ context.Context, threadID string) (*model.Thread, error) {
	f.enter()
	defer f.leave()
	if f.delay > 0 {
		time.Sleep(f.delay)
	}
	f.mu.Lock()
	f.threadCalls++
	err := f.threadErr[threadID]
	f.mu.Unlock()
	if err != nil {
		return nil, err
	}
	return &model.Thread{
		ID: threadID,
		Messages: []model.Message{
			{ID: threadID + "-m1", ThreadID: threadID},
			{ID: threadID + "-m2", ThreadID: threadID},
		},
	}, nil
}

func (f *fakeMailbox) GetMessage(_ context.Context, messageID string) (*model.Message, error) {
	f.enter()
	defer f.leave()
	f.mu.Lock()
	f.messageCalls++
	err := f.messageErr[messageID]
	f.mu.Unlock()
	if err != nil {
		return nil, err
	}
	return &model.Message{ID: messageID, Body: "body of " + messageID}, nil
}

func (f *fakeMailbox) Profile(context.Context) (string, error) {
	if f.profileErr != nil {
		return "", f.profileErr
	}
	return f.address, nil
}

// memLedger is an in-memory dedup ledger.
type memLedger struct {
	mu        sync.Mutex
	processed map[string]map[string]struct{}
	readErr   error
	markErr   error
}

func newMemLedger() *memLedger {
	return &memLedger{processed: make(map[string]map[string]struct{})}
}

func (l *memLedger) ProcessedThreadIDs(_ context.Context, userID string) (map[string]struct{}, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.readErr != nil {
		return nil, l.readErr
	}
	out := make(map[string]struct{}, len(l.processed[userID]))
	for id := range l.processed[userID] {
		out[id] = struct{}{}
	}
	return out, nil
}

func (l *memLedger) MarkThreadsProcessed(_ context.Context, userID string, threadIDs []string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.markErr != nil {
		return l.markErr
	}
	set, ok := l.processed[userID]
	if !ok {
		set = make(map[string]struct{})
		l.processed[userID] = set
	}
	for _, id := range threadIDs {
		set[id] = struct{}{}
	}
	return nil
}

func (l *memLedger) count(userID string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.processed[userID])
}

// recordingCollaborators implements both Annotator and Embedder.
type recordingCollaborators struct {
	mu          sync.Mutex
	slices      [][]string
	embedded    map[string]int
	recipients  []string
	annotateErr error
	embedErr    map[string]error
	block       chan struct{}
	started     chan struct{}
}

func newRecordingCollaborators() *recordingCollaborators {
	return &recordingCollaborators{embedded: make(map[string]int), embedErr: make(map[string]error)}
}

func (r *recordingCollaborators) Annotate(_ context.Context, userID string, threads []model.Thread) ([]model.Annotation, error) {
	if r.started != nil {
		r.started <- struct{}{}
	}
	if r.block != nil {
		<-r.block
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	ids := make([]string, len(threads))
	out := make([]model.Annotation, 0, len(threads))
	for i, t := range threads {
		ids[i] = t.ID
		out = append(out, model.Annotation{ThreadID: t.ID, UserID: userID})
	}
	r.slices = append(r.slices, ids)
	if r.annotateErr != nil {
		return nil, r.annotateErr
	}
	return out, nil
}

func (r *recordingCollaborators) EmbedThread(_ context.Context, _ string, thread model.Thread, recipient string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.embedded[thread.ID]++
	r.recipients = append(r.recipients, recipient)
	return r.embedErr[thread.ID]
}

func (r *recordingCollaborators) sliceSizes() []int {
	r.mu.Lock()
	defer r.mu.Unlock()
	sizes := make([]int, len(r.slices))
	for i, s := range r.slices {
		sizes[i] = len(s)
	}
	return sizes
}

func (r *recordingCollaborators) embeddedCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.embedded)
}

// memSink is an in-memory dead-letter sink.
type memSink struct {
	mu      sync.Mutex
	letters []*model.DeadLetter
	err     error
}

func (s *memSink) RecordDeadLetter(_ context.Context, dl *model.DeadLetter) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.letters = append(s.letters, dl)
	return nil
}
