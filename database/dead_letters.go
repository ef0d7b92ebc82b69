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

package database

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/blnkfinance/ingest/internal/apierror"
	"github.com/blnkfinance/ingest/model"
)

// RecordDeadLetter stores a dead-lettered message. Recording the same message id again
// refreshes the reason, error and delivery count instead of adding a second row.
func (d Datasource) RecordDeadLetter(ctx context.Context, dl *model.DeadLetter) error {
	if dl.DeadLetterID == "" {
		dl.DeadLetterID = model.GenerateUUIDWithSuffix("dlq")
	}
	if dl.CreatedAt.IsZero() {
		dl.CreatedAt = time.Now().UTC()
	}

	var payload []byte
	if len(dl.Payload) > 0 {
		payload = dl.Payload
	}

	_, err := d.Conn.ExecContext(ctx, `
		INSERT INTO ingest.dead_letters (dead_letter_id, message_id, user_id, reason, error, delivery_count, payload, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (message_id) DO UPDATE
		SET reason = EXCLUDED.reason, error = EXCLUDED.error, delivery_count = EXCLUDED.delivery_count
	`, dl.DeadLetterID, dl.MessageID, dl.UserID, dl.Reason, dl.Error, dl.DeliveryCount, payload, dl.CreatedAt)
	if err != nil {
		return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to record dead letter", err)
	}
	return nil
}

func (d Datasource) GetDeadLetters(ctx context.Context, limit, offset int) ([]model.DeadLetter, error) {
	rows, err := d.Conn.QueryContext(ctx, `
		SELECT dead_letter_id, message_id, user_id, reason, error, delivery_count, payload, created_at
		FROM ingest.dead_letters
		ORDER BY created_at DESC
		LIMIT $1 OFFSET $2
	`, limit, offset)
	if err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to retrieve dead letters", err)
	}
	defer rows.Close()

	deadLetters := []model.DeadLetter{}
	for rows.Next() {
		dl, err := scanDeadLetter(rows)
		if err != nil {
			return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to scan dead letter", err)
		}
		deadLetters = append(deadLetters, dl)
	}

	if err = rows.Err(); err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Error occurred while iterating over dead letters", err)
	}
	return deadLetters, nil
}

func (d Datasource) GetDeadLetterByMessageID(ctx context.Context, messageID string) (*model.DeadLetter, error) {
	row := d.Conn.QueryRowContext(ctx, `
		SELECT dead_letter_id, message_id, user_id, reason, error, delivery_count, payload, created_at
		FROM ingest.dead_letters
		WHERE message_id = $1
	`, messageID)

	dl, err := scanDeadLetter(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apierror.NewAPIError(apierror.ErrNotFound, "Dead letter not found", err)
		}
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to retrieve dead letter", err)
	}
	return &dl, nil
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanDeadLetter(s scanner) (model.DeadLetter, error) {
	var dl model.DeadLetter
	var payload []byte
	err := s.Scan(&dl.DeadLetterID, &dl.MessageID, &dl.UserID, &dl.Reason, &dl.Error, &dl.DeliveryCount, &payload, &dl.CreatedAt)
	if err != nil {
		return model.DeadLetter{}, err
	}
	if len(payload) > 0 {
		dl.Payload = payload
	}
	return dl, nil
}
