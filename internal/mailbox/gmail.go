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

// Package mailbox talks to the Gmail API on behalf of a single user.
package mailbox

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"mime"
	"net/http"
	"strings"
	"time"

	"golang.org/x/oauth2"
	"google.golang.org/api/gmail/v1"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"

	"github.com/blnkfinance/ingest/model"
)

var (
	// ErrRateLimited marks a request the provider refused because of per-user or project quota.
	ErrRateLimited = errors.New("mailbox: rate limit exceeded")
	// ErrNotFound marks a thread or message that no longer exists.
	ErrNotFound = errors.New("mailbox: not found")
)

// threadHeaders are the only headers requested when listing a thread's messages.
var threadHeaders = []string{"From", "To", "Cc", "Subject"}

type Options struct {
	// UserID is the Gmail user path segment, "me" for the token owner.
	UserID string
	// Endpoint overrides the API base URL.
	Endpoint string
	// HTTPClient is used as the transport underneath the OAuth2 token transport.
	HTTPClient *http.Client
}

// Gmail is a mailbox client bound to one short-lived access token.
type Gmail struct {
	svc    *gmail.Service
	userID string
}

// New builds a client that authenticates every request with accessToken.
// The token is not refreshed; an expired token surfaces as a request error.
func New(ctx context.Context, accessToken string, opts Options) (*Gmail, error) {
	if accessToken == "" {
		return nil, errors.New("mailbox: access token is required")
	}
	if opts.UserID == "" {
		opts.UserID = "me"
	}
	if opts.HTTPClient != nil {
		ctx = context.WithValue(ctx, oauth2.HTTPClient, opts.HTTPClient)
	}

	ts := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: accessToken, TokenType: "Bearer"})
	clientOpts := []option.ClientOption{option.WithHTTPClient(oauth2.NewClient(ctx, ts))}
	if opts.Endpoint != "" {
		clientOpts = append(clientOpts, option.WithEndpoint(opts.Endpoint))
	}

	svc, err := gmail.NewService(ctx, clientOpts...)
	if err != nil {
		return nil, fmt.Errorf("mailbox: creating gmail service: %w", err)
	}
	return &Gmail{svc: svc, userID: opts.UserID}, nil
}

// ListThreads returns one page of thread ids matching query.
func (g *Gmail) ListThreads(ctx context.Context, query, pageToken string, pageSize int) (model.ThreadPage, error) {
	call := g.svc.Users.Threads.List(g.userID).Q(query).MaxResults(int64(pageSize)).Context(ctx)
	if pageToken != "" {
		call = call.PageToken(pageToken)
	}

	resp, err := call.Do()
	if err != nil {
		return model.ThreadPage{}, classify(err, "listing threads")
	}

	page := model.ThreadPage{
		ThreadIDs:     make([]string, 0, len(resp.Threads)),
		NextPageToken: resp.NextPageToken,
	}
	for _, t := range resp.Threads {
		if t != nil && t.Id != "" {
			page.ThreadIDs = append(page.ThreadIDs, t.Id)
		}
	}
	return page, nil
}

// GetThread returns a thread with header-level message metadata; bodies are not included.
func (g *Gmail) GetThread(ctx context.Context, threadID string) (*model.Thread, error) {
	resp, err := g.svc.Users.Threads.Get(g.userID, threadID).
		Format("metadata").
		MetadataHeaders(threadHeaders...).
		Context(ctx).
		Do()
	if err != nil {
		return nil, classify(err, "getting thread "+threadID)
	}

	thread := &model.Thread{
		ID:        resp.Id,
		HistoryID: resp.HistoryId,
		Snippet:   resp.Snippet,
		Messages:  make([]model.Message, 0, len(resp.Messages)),
	}
	for _, m := range resp.Messages {
		if m != nil {
			thread.Messages = append(thread.Messages, toMessage(m))
		}
	}
	return thread, nil
}

// GetMessage returns a single message including its decoded text body.
func (g *Gmail) GetMessage(ctx context.Context, messageID string) (*model.Message, error) {
	resp, err := g.svc.Users.Messages.Get(g.userID, messageID).Format("full").Context(ctx).Do()
	if err != nil {
		return nil, classify(err, "getting message "+messageID)
	}
	msg := toMessage(resp)
	msg.Body = decodeBody(extractBody(resp.Payload))
	return &msg, nil
}

// Profile returns the mailbox owner's address.
func (g *Gmail) Profile(ctx context.Context) (string, error) {
	resp, err := g.svc.Users.GetProfile(g.userID).Context(ctx).Do()
	if err != nil {
		return "", classify(err, "getting profile")
	}
	return resp.EmailAddress, nil
}

func toMessage(m *gmail.Message) model.Message {
	msg := model.Message{
		ID:           m.Id,
		ThreadID:     m.ThreadId,
		LabelIDs:     m.LabelIds,
		Snippet:      m.Snippet,
		SizeEstimate: m.SizeEstimate,
	}
	if m.InternalDate > 0 {
		msg.InternalDate = time.UnixMilli(m.InternalDate).UTC()
	}
	if m.Payload == nil {
		return msg
	}
	for _, h := range m.Payload.Headers {
		if h == nil {
			continue
		}
		switch strings.ToLower(h.Name) {
		case "from":
			msg.From = decodeHeader(h.Value)
		case "to":
			msg.To = decodeHeader(h.Value)
		case "cc":
			msg.Cc = decodeHeader(h.Value)
		case "subject":
			msg.Subject = decodeHeader(h.Value)
		}
	}
	return msg
}

// extractBody prefers text/plain, falling back to the first text part found depth-first.
func extractBody(part *gmail.MessagePart) string {
	if part == nil {
		return ""
	}
	if plain := findPart(part, "text/plain"); plain != "" {
		return plain
	}
	return findPart(part, "text/")
}

func findPart(part *gmail.MessagePart, mimePrefix string) string {
	if part == nil {
		return ""
	}
	if strings.HasPrefix(part.MimeType, mimePrefix) && part.Body != nil && part.Body.Data != "" {
		return part.Body.Data
	}
	for _, p := range part.Parts {
		if body := findPart(p, mimePrefix); body != "" {
			return body
		}
	}
	return ""
}

// decodeBody decodes Gmail's base64url body data, with or without padding.
func decodeBody(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return ""
	}
	b, err := base64.RawURLEncoding.DecodeString(strings.TrimRight(s, "="))
	if err != nil {
		return s
	}
	return string(b)
}

func decodeHeader(s string) string {
	s = strings.TrimSpace(s)
	if decoded, err := (&mime.WordDecoder{}).DecodeHeader(s); err == nil {
		return decoded
	}
	return s
}

// classify maps provider errors onto the package sentinels, keeping the original in the chain.
func classify(err error, op string) error {
	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) {
		switch {
		case apiErr.Code == http.StatusTooManyRequests || isRateLimitReason(apiErr):
			return fmt.Errorf("mailbox: %s: %w: %w", op, ErrRateLimited, err)
		case apiErr.Code == http.StatusNotFound:
			return fmt.Errorf("mailbox: %s: %w: %w", op, ErrNotFound, err)
		}
	}
	return fmt.Errorf("mailbox: %s: %w", op, err)
}

func isRateLimitReason(apiErr *googleapi.Error) bool {
	if apiErr.Code != http.StatusForbidden {
		return false
	}
	for _, item := range apiErr.Errors {
		if item.Reason == "rateLimitExceeded" || item.Reason == "userRateLimitExceeded" {
			return true
		}
	}
	return strings.Contains(apiErr.Message, "rateLimitExceeded")
}
