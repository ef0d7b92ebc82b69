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

package model

import (
	validation "github.com/go-ozzo/ozzo-validation/v4"

	"github.com/blnkfinance/ingest/model"
)

type EnqueueIngestion struct {
	UserID      string `json:"user_id"`
	AccessToken string `json:"access_token"`
	IsNewUser   bool   `json:"is_new_user"`
}

type EnqueueResponse struct {
	TaskID string `json:"task_id"`
}

type CursorStatus struct {
	UserID           string `json:"user_id"`
	Cursor           string `json:"cursor"`
	Exhausted        bool   `json:"exhausted"`
	ProcessedThreads int    `json:"processed_threads"`
	ThreadCap        int    `json:"thread_cap"`
}

type Health struct {
	Status string `json:"status"`
	Error  string `json:"error,omitempty"`
}

func (e *EnqueueIngestion) ValidateEnqueueIngestion() error {
	return validation.ValidateStruct(e,
		validation.Field(&e.UserID, validation.Required),
		validation.Field(&e.AccessToken, validation.Required),
	)
}

func (e *EnqueueIngestion) ToIngestionMessage() model.IngestionMessage {
	return model.IngestionMessage{
		UserID:      e.UserID,
		AccessToken: e.AccessToken,
		IsNewUser:   e.IsNewUser,
	}
}
