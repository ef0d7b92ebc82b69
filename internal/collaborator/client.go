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

// Package collaborator holds the HTTP clients for the annotation and embedding services.
package collaborator

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/sirupsen/logrus"

	"github.com/blnkfinance/ingest/config"
	"github.com/blnkfinance/ingest/internal/request"
	"github.com/blnkfinance/ingest/model"
)

type annotateRequest struct {
	UserID  string         `json:"user_id"`
	Threads []model.Thread `json:"threads"`
}

type annotateResponse struct {
	Annotations []model.Annotation `json:"annotations"`
}

type embedRequest struct {
	UserID    string       `json:"user_id"`
	ThreadID  string       `json:"thread_id"`
	Recipient string       `json:"recipient"`
	Thread    model.Thread `json:"thread"`
}

// Client calls the annotation and embedding services over HTTP.
type Client struct {
	annotationURL string
	embeddingURL  string
	headers       map[string]string
	http          *http.Client
	newBackOff    func() backoff.BackOff
}

// NewClient builds a client from the collaborators section of the configuration.
func NewClient(cfg config.CollaboratorConfig) *Client {
	maxElapsed := time.Duration(cfg.AnnotationMaxElapsedSec) * time.Second
	return &Client{
		annotationURL: cfg.AnnotationUrl,
		embeddingURL:  cfg.EmbeddingUrl,
		headers:       cfg.Headers,
		http:          &http.Client{Timeout: time.Duration(cfg.TimeoutSec) * time.Second},
		newBackOff: func() backoff.BackOff {
			b := backoff.NewExponentialBackOff()
			b.InitialInterval = 500 * time.Millisecond
			b.MaxInterval = 30 * time.Second
			b.MaxElapsedTime = maxElapsed
			return b
		},
	}
}

// WithHTTPClient swaps the transport, mostly for tests.
func (c *Client) WithHTTPClient(client *http.Client) *Client {
	c.http = client
	return c
}

func (c *Client) post(ctx context.Context, url string, body, response interface{}) error {
	payload, err := request.ToJsonReq(body)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, payload)
	if err != nil {
		return err
	}
	for k, v := range c.headers {
		req.Header.Set(k, v)
	}
	_, err = request.Call(c.http, req, response)
	return err
}

// Annotate sends a slice of fetched threads for annotation. The service reports per-thread
// failures by leaving threads out of the response, so a short result is not an error.
// Throttling and server errors are retried with exponential backoff and jitter.
func (c *Client) Annotate(ctx context.Context, userID string, threads []model.Thread) ([]model.Annotation, error) {
	if c.annotationURL == "" {
		return nil, errors.New("annotation url is not configured")
	}

	var resp annotateResponse
	operation := func() error {
		resp = annotateResponse{}
		err := c.post(ctx, c.annotationURL, annotateRequest{UserID: userID, Threads: threads}, &resp)
		if err == nil {
			return nil
		}
		var statusErr *request.StatusError
		if errors.As(err, &statusErr) && !statusErr.Retryable() {
			return backoff.Permanent(err)
		}
		return err
	}

	notify := func(err error, wait time.Duration) {
		logrus.WithFields(logrus.Fields{"user_id": userID, "wait": wait}).Warnf("annotation call failed, retrying: %v", err)
	}

	if err := backoff.RetryNotify(operation, backoff.WithContext(c.newBackOff(), ctx), notify); err != nil {
		return nil, fmt.Errorf("annotating %d threads: %w", len(threads), err)
	}
	return resp.Annotations, nil
}

// EmbedThread upserts the embedding for one thread. The service keys on (thread, user), so
// repeating the call is harmless.
func (c *Client) EmbedThread(ctx context.Context, userID string, thread model.Thread, recipient string) error {
	if c.embeddingURL == "" {
		return errors.New("embedding url is not configured")
	}
	err := c.post(ctx, c.embeddingURL, embedRequest{
		UserID:    userID,
		ThreadID:  thread.ID,
		Recipient: recipient,
		Thread:    thread,
	}, nil)
	if err != nil {
		return fmt.Errorf("embedding thread %s: %w", thread.ID, err)
	}
	return nil
}
