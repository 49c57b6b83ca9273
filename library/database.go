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
	"fmt"
	"time"

	"github.com/georgysavva/scany/v2/pgxscan"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/openhydro/teleacq/data"
	"github.com/openhydro/teleacq/fetch"
)

const endpointColumns = `id, station_id, type, username, password, device_locator, remote_station_id,
data_time_zone, fetch_interval_minutes, fetch_offset_minutes, fetch_offset_time_zone,
additional_config, sensors, health_check_id, rate_limit`

type Library struct {
	DBUrl string
	Name  string
	Owner string

	Pool *pgxpool.Pool
}

// Connect to the database configured for the library
func (myLibrary *Library) Connect(ctx context.Context) error {
	if myLibrary.Pool != nil {
		return nil
	}

	pool, err := pgxpool.New(ctx, myLibrary.DBUrl)
	if err != nil {
		return err
	}
	myLibrary.Pool = pool

	return nil
}

// Close the database pool
func (myLibrary *Library) Close() {
	if myLibrary.Pool != nil {
		myLibrary.Pool.Close()
	}
}

// NewFromDB creates a new library object with values from the database
func NewFromDB(ctx context.Context, dbURL string) (*Library, error) {
	pool, err := pgxpool.New(ctx, dbURL)
	if err != nil {
		return nil, err
	}

	conn, err := pool.Acquire(ctx)
	if err != nil {
		pool.Close()
		return nil, err
	}
	defer conn.Release()

	myLibrary := Library{
		DBUrl: dbURL,
		Pool:  pool,
	}

	if err := conn.QueryRow(ctx, "SELECT name, owner FROM library").Scan(&myLibrary.Name, &myLibrary.Owner); err != nil {
		if !errors.Is(err, pgx.ErrNoRows) {
			pool.Close()
			return nil, err
		}
		myLibrary.Name = "teleacq"
	}

	return &myLibrary, nil
}

// SaveDB creates a new record in the library table for this library
func (myLibrary *Library) SaveDB(ctx context.Context) error {
	conn, err := myLibrary.Pool.Acquire(ctx)
	if err != nil {
		return err
	}
	defer conn.Release()

	_, err = conn.Exec(ctx, `INSERT INTO library ("name", "owner") VALUES ($1, $2)`, myLibrary.Name, myLibrary.Owner)
	return err
}

// Endpoints returns every configured endpoint ordered by id
func (myLibrary *Library) Endpoints(ctx context.Context) ([]*data.Endpoint, error) {
	var endpoints []*data.Endpoint
	err := pgxscan.Select(ctx, myLibrary.Pool, &endpoints,
		fmt.Sprintf("SELECT %s FROM telemetry_endpoints ORDER BY id", endpointColumns))
	return endpoints, err
}

// Endpoint returns the endpoint with the given id
func (myLibrary *Library) Endpoint(ctx context.Context, id int64) (*data.Endpoint, error) {
	endpoint := &data.Endpoint{}
	err := pgxscan.Get(ctx, myLibrary.Pool, endpoint,
		fmt.Sprintf("SELECT %s FROM telemetry_endpoints WHERE id = $1", endpointColumns), id)
	if pgxscan.NotFound(err) {
		return nil, fmt.Errorf("%w: %d", fetch.ErrEndpointNotFound, id)
	}
	return endpoint, err
}

// NumEndpoints returns the number of configured endpoints
func (myLibrary *Library) NumEndpoints(ctx context.Context) (int, error) {
	conn, err := myLibrary.Pool.Acquire(ctx)
	if err != nil {
		return 0, err
	}
	defer conn.Release()

	count := 0
	err = conn.QueryRow(ctx, "SELECT count(*) FROM telemetry_endpoints").Scan(&count)
	return count, err
}

// TotalRecords returns the number of stored time series records
func (myLibrary *Library) TotalRecords(ctx context.Context) (int64, error) {
	conn, err := myLibrary.Pool.Acquire(ctx)
	if err != nil {
		return 0, err
	}
	defer conn.Release()

	var count int64
	err = conn.QueryRow(ctx, "SELECT count(*) FROM timeseries_records").Scan(&count)
	return count, err
}

// LastUpdated returns the timestamp of the newest stored record
func (myLibrary *Library) LastUpdated(ctx context.Context) (time.Time, error) {
	conn, err := myLibrary.Pool.Acquire(ctx)
	if err != nil {
		return time.Time{}, err
	}
	defer conn.Release()

	var lastUpdated time.Time
	err = conn.QueryRow(ctx, "SELECT coalesce(max(ts), '0001-01-01'::timestamp) FROM timeseries_records").Scan(&lastUpdated)
	if err != nil {
		return time.Time{}, err
	}

	return lastUpdated, nil
}

// NumErrorsSince counts error log entries written after since
func (myLibrary *Library) NumErrorsSince(ctx context.Context, since time.Time) (int, error) {
	conn, err := myLibrary.Pool.Acquire(ctx)
	if err != nil {
		return 0, err
	}
	defer conn.Release()

	count := 0
	err = conn.QueryRow(ctx, "SELECT count(*) FROM telemetry_error_log WHERE event_time > $1", since).Scan(&count)
	return count, err
}
