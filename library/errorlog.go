// Copyright 2024
// SPDX-License-Identifier: Apache-2.0
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
// http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.
package library

import (
	"context"

	"github.com/georgysavva/scany/v2/pgxscan"

	"github.com/openhydro/teleacq/errorlog"
)

// Insert writes an error log entry and returns its id
func (myLibrary *Library) Insert(ctx context.Context, entry *errorlog.Entry) (int64, error) {
	var id int64
	err := myLibrary.Pool.QueryRow(ctx, `INSERT INTO telemetry_error_log
(endpoint_id, event_time, exception_name, message, traceback, version, commit_id)
VALUES ($1, $2, $3, $4, $5, $6, $7) RETURNING id`,
		entry.EndpointID, entry.Timestamp, entry.ExceptionName, entry.Message, entry.Traceback,
		entry.Version, entry.CommitID).Scan(&id)
	return id, err
}

// Recent returns the newest error log entries of an endpoint
func (myLibrary *Library) Recent(ctx context.Context, endpointID int64, limit int) ([]*errorlog.Entry, error) {
	var entries []*errorlog.Entry
	err := pgxscan.Select(ctx, myLibrary.Pool, &entries,
		`SELECT id, endpoint_id, event_time, exception_name, message, traceback, version, commit_id
FROM telemetry_error_log WHERE endpoint_id = $1 ORDER BY id DESC LIMIT $2`, endpointID, limit)
	return entries, err
}
