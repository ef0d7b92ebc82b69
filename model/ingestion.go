package model

import (
	"encoding/json"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
)

// IngestionMessage is the body of a work notification published when a user's mailbox changes.
type IngestionMessage struct {
	UserID      string `json:"userId"`
	AccessToken string `json:"accessToken"`
	IsNewUser   bool   `json:"isNewUser"`
}

// Validate checks the fields the pipeline cannot run without.
func (m IngestionMessage) Validate() error {
	return validation.ValidateStruct(&m,
		validation.Field(&m.UserID, validation.Required),
		validation.Field(&m.AccessToken, validation.Required),
	)
}

// ParseIngestionMessage decodes and validates a bus message body.
func ParseIngestionMessage(body []byte) (IngestionMessage, error) {
	var msg IngestionMessage
	if err := json.Unmarshal(body, &msg); err != nil {
		return IngestionMessage{}, err
	}
	if err := msg.Validate(); err != nil {
		return IngestionMessage{}, err
	}
	return msg, nil
}

// Delivery is one hand-off of an IngestionMessage by the bus.
// ID is stable across redeliveries; DeliveryCount starts at 1.
type Delivery struct {
	ID            string
	DeliveryCount int
	Body          []byte
}

// CursorState is where a user's ingestion stands: the stored listing position and how much
// of the per-user cap the ledger already holds.
type CursorState struct {
	Cursor    string
	Exhausted bool
	Processed int
	Cap       int
}

// DeadLetter is the terminal record of a message that exhausted its retry budget.
type DeadLetter struct {
	DeadLetterID  string          `json:"dead_letter_id"`
	MessageID     string          `json:"message_id"`
	UserID        string          `json:"user_id"`
	Reason        string          `json:"reason"`
	Error         string          `json:"error"`
	DeliveryCount int             `json:"delivery_count"`
	Payload       json.RawMessage `json:"payload,omitempty"`
	CreatedAt     time.Time       `json:"created_at"`
}

// ScrubbedPayload returns the message body with the access credential removed.
// Bodies that are not valid messages are returned as a JSON string so they can still be inspected.
func ScrubbedPayload(body []byte) json.RawMessage {
	var msg IngestionMessage
	if err := json.Unmarshal(body, &msg); err != nil {
		raw, _ := json.Marshal(string(body))
		return raw
	}
	msg.AccessToken = ""
	raw, err := json.Marshal(msg)
	if err != nil {
		return nil
	}
	return raw
}
