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

	"github.com/lib/pq"

	"github.com/blnkfinance/ingest/internal/apierror"
)

// ProcessedThreadIDs returns every thread id already dispatched for userID.
func (d Datasource) ProcessedThreadIDs(ctx context.Context, userID string) (map[string]struct{}, error) {
	rows, err := d.Conn.QueryContext(ctx, `
		SELECT thread_id
		FROM ingest.processed_threads
		WHERE user_id = $1
	`, userID)
	if err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to retrieve processed threads", err)
	}
	defer rows.Close()

	processed := make(map[string]struct{})
	for rows.Next() {
		var threadID string
		if err := rows.Scan(&threadID); err != nil {
			return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to scan processed thread", err)
		}
		processed[threadID] = struct{}{}
	}

	if err = rows.Err(); err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Error occurred while iterating over processed threads", err)
	}
	return processed, nil
}

// MarkThreadsProcessed records threadIDs for userID. Ids already recorded are left untouched,
// so the call can be repeated after a redelivery.
func (d Datasource) MarkThreadsProcessed(ctx context.Context, userID string, threadIDs []string) error {
	if len(threadIDs) == 0 {
		return nil
	}

	_, err := d.Conn.ExecContext(ctx, `
		INSERT INTO ingest.processed_threads (user_id, thread_id)
		SELECT $1, unnest($2::text[])
		ON CONFLICT (user_id, thread_id) DO NOTHING
	`, userID, pq.Array(threadIDs))
	if err != nil {
		return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to record processed threads", err)
	}
	return nil
}

func (d Datasource) CountProcessedThreads(ctx context.Context, userID string) (int, error) {
	var count int
	err := d.Conn.QueryRowContext(ctx, `
		SELECT COUNT(*)
		FROM ingest.processed_threads
		WHERE user_id = $1
	`, userID).Scan(&count)
	if err != nil {
		return 0, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to count processed threads", err)
	}
	return count, nil
}
