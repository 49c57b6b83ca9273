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
// Package influxdb reads measurements stored in an InfluxDB v2 bucket with
// Flux queries
package influxdb

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/gocarina/gocsv"
	"github.com/openhydro/teleacq/data"
	"github.com/openhydro/teleacq/provider"
)

const (
	Name      = "influxdb"
	BatchSize = 20000
)

var (
	ErrMissingSetting = errors.New("missing InfluxDB setting")

	defaultStart = time.Date(1990, 1, 1, 0, 0, 0, 0, time.UTC)

	Info = provider.Info{
		Name:               "InfluxDB v2",
		Description:        "Measurements kept in an InfluxDB v2 bucket, one field per sensor and one tag value per station.",
		UsernameLabel:      "Organization",
		PasswordLabel:      "API token",
		DeviceLocatorLabel: "InfluxDB API URL",
		DeviceLocatorHelp:  "For example, https://influxdb.example.com/api/v2/.",
		HideDataTimeZone:   true,
		ConfigDescription: map[string]string{
			"bucket":      `The InfluxDB "bucket"`,
			"measurement": `The InfluxDB "measurement"; i.e. the group of relevant data`,
			"station_tag": "The InfluxDB tag that identifies stations",
		},
		BatchSize: BatchSize,
	}
)

type Driver struct {
	endpoint *data.Endpoint
	client   *provider.Client

	bucket      string
	measurement string
	stationTag  string
}

// fluxRow holds the columns of a Flux CSV result this driver reads
type fluxRow struct {
	Time  string `csv:"_time"`
	Value string `csv:"_value"`
}

// New creates an InfluxDB driver. The bucket, measurement and station tag come
// from the endpoint's additional configuration.
func New(endpoint *data.Endpoint) (provider.Driver, error) {
	driver := &Driver{
		endpoint:    endpoint,
		bucket:      endpoint.Config("bucket"),
		measurement: endpoint.Config("measurement"),
		stationTag:  endpoint.Config("station_tag"),
	}

	var missing []string
	for key, value := range map[string]string{"bucket": driver.bucket, "measurement": driver.measurement, "station_tag": driver.stationTag} {
		if value == "" {
			missing = append(missing, key)
		}
	}
	if len(missing) > 0 {
		return nil, &data.ConfigError{
			EndpointID: endpoint.ID,
			Problems:   []string{fmt.Sprintf("additional config lacks %s", strings.Join(missing, ", "))},
			Err:        ErrMissingSetting,
		}
	}

	driver.client = provider.NewClient(Name, endpoint, provider.WithBaseURL(strings.TrimRight(endpoint.DeviceLocator, "/")))
	driver.client.HTTP.
		SetQueryParam("org", endpoint.Username).
		SetHeader("Authorization", "Token "+endpoint.Password).
		SetHeader("Accept", "application/csv")

	return driver, nil
}

// Connect is a no-op; every query carries the API token
func (driver *Driver) Connect(ctx context.Context) error {
	return nil
}

func (driver *Driver) Stations(ctx context.Context) (map[string]string, error) {
	rows, err := driver.query(ctx, "stations", fmt.Sprintf(`from(bucket: %s)
|> range(start: 1990-01-01)
|> filter(fn: (r) => r._measurement == %s)
|> keep(columns: [%s])
|> group()
|> distinct(column: %s)
`, fluxString(driver.bucket), fluxString(driver.measurement), fluxString(driver.stationTag), fluxString(driver.stationTag)))
	if err != nil {
		return nil, err
	}

	return valueSet(rows), nil
}

func (driver *Driver) Sensors(ctx context.Context) (map[string]string, error) {
	rows, err := driver.query(ctx, "sensors", fmt.Sprintf(`import "influxdata/influxdb/schema"

schema.fieldKeys(
    bucket: %s,
    predicate: (r) => r._measurement == %s,
)
`, fluxString(driver.bucket), fluxString(driver.measurement)))
	if err != nil {
		return nil, err
	}

	return valueSet(rows), nil
}

func (driver *Driver) Measurements(ctx context.Context, sensorID string, since time.Time) ([]data.Record, error) {
	start := defaultStart
	if !since.IsZero() {
		start = since.Add(time.Minute)
	}

	rows, err := driver.query(ctx, "measurements", fmt.Sprintf(`from(bucket: %s)
|> range(start: %s)
|> filter(fn: (r) => r._measurement == %s)
|> filter(fn: (r) => r[%s] == %s)
|> filter(fn: (r) => r._field == %s)
|> keep(columns: ["_time", "_value"])
|> limit(n: %d)
`, fluxString(driver.bucket), start.Format(time.RFC3339), fluxString(driver.measurement),
		fluxString(driver.stationTag), fluxString(driver.endpoint.RemoteStationID), fluxString(sensorID), BatchSize))
	if err != nil {
		return nil, err
	}

	records := make([]data.Record, 0, len(rows))
	for _, row := range rows {
		timestamp, err := time.Parse(time.RFC3339Nano, row.Time)
		if err != nil {
			return nil, driver.client.Malformed("measurements", err)
		}

		value := math.NaN()
		if row.Value != "" {
			if value, err = strconv.ParseFloat(row.Value, 64); err != nil {
				return nil, driver.client.Malformed("measurements", err)
			}
		}

		records = append(records, data.NewRecord(timestamp.UTC(), value, ""))
	}

	return data.Trim(records, since, BatchSize), nil
}

func (driver *Driver) query(ctx context.Context, op, flux string) ([]*fluxRow, error) {
	resp, err := driver.client.R(ctx).
		SetHeader("Content-Type", "application/vnd.flux").
		SetBody(flux).
		Post("/query")
	if err := driver.client.Check(op, resp, err); err != nil {
		return nil, err
	}

	var rows []*fluxRow
	if err := gocsv.UnmarshalBytes(resp.Body(), &rows); err != nil {
		if errors.Is(err, gocsv.ErrEmptyCSVFile) {
			return rows, nil
		}
		return nil, driver.client.Malformed(op, err)
	}

	// result sets with several tables repeat the header
	filtered := rows[:0]
	for _, row := range rows {
		if row.Time == "_time" || row.Value == "_value" {
			continue
		}
		filtered = append(filtered, row)
	}

	return filtered, nil
}

func valueSet(rows []*fluxRow) map[string]string {
	values := make(map[string]string, len(rows))
	for _, row := range rows {
		if row.Value != "" {
			values[row.Value] = ""
		}
	}
	return values
}

// fluxString quotes s as a Flux string literal
func fluxString(s string) string {
	return `"` + strings.NewReplacer(`\`, `\\`, `"`, `\"`, "${", `\${`).Replace(s) + `"`
}
