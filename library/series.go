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
	"errors"
	"math"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/rs/zerolog/log"

	"github.com/openhydro/teleacq/data"
)

// LastTimestamp returns the timestamp of the newest record of a series
func (myLibrary *Library) LastTimestamp(ctx context.Context, seriesID int64) (time.Time, bool, error) {
	var last *time.Time
	err := myLibrary.Pool.QueryRow(ctx, "SELECT max(ts) FROM timeseries_records WHERE series_id = $1", seriesID).Scan(&last)
	if err != nil || last == nil {
		return time.Time{}, false, err
	}
	return data.Naive(*last), true, nil
}

// Append copies records to the end of a series. Concurrent appends to the
// same series are serialised with a transaction-scoped advisory lock.
func (myLibrary *Library) Append(ctx context.Context, seriesID int64, records []data.Record) error {
	if len(records) == 0 {
		return nil
	}

	conn, err := myLibrary.Pool.Acquire(ctx)
	if err != nil {
		return err
	}
	defer conn.Release()

	tx, err := conn.Begin(ctx)
	if err != nil {
		return err
	}

	defer func() {
		if err := tx.Rollback(ctx); err != nil {
			if !errors.Is(err, pgx.ErrTxClosed) {
				log.Error().Err(err).Msg("error rollingback tx")
			}
		}
	}()

	if _, err := tx.Exec(ctx, "SELECT pg_advisory_xact_lock($1)", seriesID); err != nil {
		return err
	}

	var last *time.Time
	if err := tx.QueryRow(ctx, "SELECT max(ts) FROM timeseries_records WHERE series_id = $1", seriesID).Scan(&last); err != nil {
		return err
	}

	var prev time.Time
	if last != nil {
		prev = data.Naive(*last)
	}

	if err := data.CheckAppend(seriesID, prev, records); err != nil {
		return err
	}

	if _, err := tx.CopyFrom(ctx, pgx.Identifier{"timeseries_records"},
		[]string{"series_id", "ts", "value", "flags"}, pgx.CopyFromRows(recordRows(seriesID, records))); err != nil {
		return err
	}

	return tx.Commit(ctx)
}

// recordRows converts records to COPY rows. Missing values are stored as NULL.
func recordRows(seriesID int64, records []data.Record) [][]any {
	rows := make([][]any, 0, len(records))
	for _, record := range records {
		var value any
		if !math.IsNaN(record.Value) {
			value = record.Value
		}
		rows = append(rows, []any{seriesID, record.Timestamp, value, record.Flag})
	}
	return rows
}
