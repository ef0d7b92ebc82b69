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
	"errors"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/blnkfinance/ingest/internal/apierror"
)

func TestProcessedThreadIDs_Success(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	ds := Datasource{Conn: db}

	rows := sqlmock.NewRows([]string{"thread_id"}).AddRow("t1").AddRow("t2")
	mock.ExpectQuery("SELECT thread_id FROM ingest.processed_threads WHERE user_id = \\$1").
		WithArgs("u1").
		WillReturnRows(rows)

	processed, err := ds.ProcessedThreadIDs(context.Background(), "u1")
	assert.NoError(t, err)
	assert.Len(t, processed, 2)
	assert.Contains(t, processed, "t1")
	assert.Contains(t, processed, "t2")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestProcessedThreadIDs_Empty(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	ds := Datasource{Conn: db}

	mock.ExpectQuery("SELECT thread_id FROM ingest.processed_threads").
		WithArgs("new-user").
		WillReturnRows(sqlmock.NewRows([]string{"thread_id"}))

	processed, err := ds.ProcessedThreadIDs(context.Background(), "new-user")
	assert.NoError(t, err)
	assert.NotNil(t, processed)
	assert.Empty(t, processed)
}

func TestProcessedThreadIDs_QueryError(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	ds := Datasource{Conn: db}

	mock.ExpectQuery("SELECT thread_id FROM ingest.processed_threads").
		WithArgs("u1").
		WillReturnError(errors.New("connection refused"))

	_, err = ds.ProcessedThreadIDs(context.Background(), "u1")
	require.Error(t, err)
	var apiErr apierror.APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, apierror.ErrInternalServer, apiErr.Code)
}

func TestMarkThreadsProcessed(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	ds := Datasource{Conn: db}

	mock.ExpectExec("INSERT INTO ingest.processed_threads").
		WithArgs("u1", `{"t1","t2"}`).
		WillReturnResult(sqlmock.NewResult(0, 2))

	err = ds.MarkThreadsProcessed(context.Background(), "u1", []string{"t1", "t2"})
	assert.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestMarkThreadsProcessed_NothingToDo(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	ds := Datasource{Conn: db}

	assert.NoError(t, ds.MarkThreadsProcessed(context.Background(), "u1", nil))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestMarkThreadsProcessed_Error(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	ds := Datasource{Conn: db}

	mock.ExpectExec("INSERT INTO ingest.processed_threads").
		WillReturnError(errors.New("deadlock detected"))

	err = ds.MarkThreadsProcessed(context.Background(), "u1", []string{"t1"})
	assert.Error(t, err)
}

func TestCountProcessedThreads(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	ds := Datasource{Conn: db}

	mock.ExpectQuery("SELECT COUNT\\(\\*\\) FROM ingest.processed_threads WHERE user_id = \\$1").
		WithArgs("u1").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(42))

	count, err := ds.CountProcessedThreads(context.Background(), "u1")
	assert.NoError(t, err)
	assert.Equal(t, 42, count)
}
