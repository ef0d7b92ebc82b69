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
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/blnkfinance/ingest/internal/apierror"
	"github.com/blnkfinance/ingest/model"
)

var deadLetterColumns = []string{"dead_letter_id", "message_id", "user_id", "reason", "error", "delivery_count", "payload", "created_at"}

func TestRecordDeadLetter(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	ds := Datasource{Conn: db}

	dl := &model.DeadLetter{
		MessageID:     "ingest_1",
		UserID:        "u1",
		Reason:        "Max retries exceeded",
		Error:         "mailbox: listing threads: 503",
		DeliveryCount: 4,
		Payload:       json.RawMessage(`{"userId":"u1"}`),
	}

	mock.ExpectExec("INSERT INTO ingest.dead_letters").
		WithArgs(sqlmock.AnyArg(), "ingest_1", "u1", "Max retries exceeded", "mailbox: listing threads: 503", 4, []byte(`{"userId":"u1"}`), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))

	err = ds.RecordDeadLetter(context.Background(), dl)
	assert.NoError(t, err)
	assert.Contains(t, dl.DeadLetterID, "dlq_")
	assert.WithinDuration(t, time.Now(), dl.CreatedAt, time.Second)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRecordDeadLetter_Error(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	ds := Datasource{Conn: db}

	mock.ExpectExec("INSERT INTO ingest.dead_letters").WillReturnError(errors.New("disk full"))

	err = ds.RecordDeadLetter(context.Background(), &model.DeadLetter{MessageID: "m"})
	assert.Error(t, err)
}

func TestGetDeadLetters(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	ds := Datasource{Conn: db}

	now := time.Now()
	rows := sqlmock.NewRows(deadLetterColumns).
		AddRow("dlq_1", "m1", "u1", "Max retries exceeded", "boom", 4, []byte(`{"userId":"u1"}`), now).
		AddRow("dlq_2", "m2", "u2", "Processing failed", "bad", 3, nil, now)

	mock.ExpectQuery("SELECT (.+) FROM ingest.dead_letters ORDER BY created_at DESC LIMIT \\$1 OFFSET \\$2").
		WithArgs(20, 0).
		WillReturnRows(rows)

	dls, err := ds.GetDeadLetters(context.Background(), 20, 0)
	require.NoError(t, err)
	require.Len(t, dls, 2)
	assert.Equal(t, "m1", dls[0].MessageID)
	assert.JSONEq(t, `{"userId":"u1"}`, string(dls[0].Payload))
	assert.Nil(t, dls[1].Payload)
	assert.Equal(t, 3, dls[1].DeliveryCount)
}

func TestGetDeadLetterByMessageID_NotFound(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	ds := Datasource{Conn: db}

	mock.ExpectQuery("SELECT (.+) FROM ingest.dead_letters WHERE message_id = \\$1").
		WithArgs("missing").
		WillReturnError(sql.ErrNoRows)

	_, err = ds.GetDeadLetterByMessageID(context.Background(), "missing")
	require.Error(t, err)
	var apiErr apierror.APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, apierror.ErrNotFound, apiErr.Code)
}

func TestGetDeadLetterByMessageID(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	ds := Datasource{Conn: db}

	mock.ExpectQuery("SELECT (.+) FROM ingest.dead_letters WHERE message_id = \\$1").
		WithArgs("m1").
		WillReturnRows(sqlmock.NewRows(deadLetterColumns).
			AddRow("dlq_1", "m1", "u1", "Processing failed", "boom", 3, nil, time.Now()))

	dl, err := ds.GetDeadLetterByMessageID(context.Background(), "m1")
	require.NoError(t, err)
	assert.Equal(t, "dlq_1", dl.DeadLetterID)
}

func TestPing(t *testing.T) {
	db, mock, err := sqlmock.New(sqlmock.MonitorPingsOption(true))
	require.NoError(t, err)
	defer db.Close()

	ds := Datasource{Conn: db}
	mock.ExpectPing()
	assert.NoError(t, ds.Ping(context.Background()))
}

func TestConnectDB_Failure(t *testing.T) {
	db, err := ConnectDB("postgres://nobody@127.0.0.1:1/none?sslmode=disable&connect_timeout=1")
	assert.Error(t, err)
	assert.Nil(t, db)
}
