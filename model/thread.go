package model

import (
	"encoding/json"
	"time"
)

// ThreadPage is one page of the mailbox listing.
type ThreadPage struct {
	ThreadIDs     []string
	NextPageToken string
}

// Thread is a mailbox thread with the messages it contains.
type Thread struct {
	ID        string    `json:"id"`
	HistoryID uint64    `json:"history_id,omitempty"`
	Snippet   string    `json:"snippet,omitempty"`
	Messages  []Message `json:"messages"`
}

// MessageIDs returns the identifiers of the thread's messages in listing order.
func (t Thread) MessageIDs() []string {
	ids := make([]string, 0, len(t.Messages))
	for _, m := range t.Messages {
		if m.ID != "" {
			ids = append(ids, m.ID)
		}
	}
	return ids
}

// Message is a single email. Body is only populated after a full message fetch.
type Message struct {
	ID           string    `json:"id"`
	ThreadID     string    `json:"thread_id"`
	LabelIDs     []string  `json:"label_ids,omitempty"`
	Snippet      string    `json:"snippet,omitempty"`
	From         string    `json:"from,omitempty"`
	To           string    `json:"to,omitempty"`
	Cc           string    `json:"cc,omitempty"`
	Subject      string    `json:"subject,omitempty"`
	Body         string    `json:"body,omitempty"`
	SizeEstimate int64     `json:"size_estimate,omitempty"`
	InternalDate time.Time `json:"internal_date"`
}

// Annotation is what the annotation collaborator returns for a thread.
type Annotation struct {
	ThreadID string          `json:"thread_id"`
	UserID   string          `json:"user_id"`
	Summary  string          `json:"summary,omitempty"`
	Labels   []string        `json:"labels,omitempty"`
	Data     json.RawMessage `json:"data,omitempty"`
}
