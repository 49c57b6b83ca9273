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
// Package enhydris pulls time series from another instance of this system
// through its REST API
package enhydris

import (
	"bytes"
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/openhydro/teleacq/data"
	"github.com/openhydro/teleacq/provider"
)

const (
	Name      = "enhydris"
	BatchSize = 20000

	// maxPages guards against servers whose next links loop
	maxPages = 1000
)

var (
	defaultStart = time.Date(1990, 1, 1, 0, 0, 0, 0, time.UTC)

	Info = provider.Info{
		Name:               "Enhydris",
		Description:        "Time series published by another Enhydris instance.",
		PasswordLabel:      "API token",
		DeviceLocatorLabel: "Location of the other Enhydris instance",
		DeviceLocatorHelp:  "For example, https://enhydris.example.com/.",
		HideUsername:       true,
		HideDataTimeZone:   true,
		BatchSize:          BatchSize,
	}
)

type Driver struct {
	endpoint *data.Endpoint
	client   *provider.Client
}

type page[T any] struct {
	Count   int     `json:"count"`
	Next    *string `json:"next"`
	Results []T     `json:"results"`
}

type station struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
}

type timeseriesGroup struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
}

type timeseries struct {
	ID       int64  `json:"id"`
	Type     string `json:"type"`
	Name     string `json:"name"`
	TimeStep string `json:"time_step"`
}

func New(endpoint *data.Endpoint) (provider.Driver, error) {
	client := provider.NewClient(Name, endpoint, provider.WithBaseURL(strings.TrimRight(endpoint.DeviceLocator, "/")))
	client.HTTP.SetHeader("Authorization", "token "+endpoint.Password)

	return &Driver{
		endpoint: endpoint,
		client:   client,
	}, nil
}

// Connect does nothing; the API token is sent with every request
func (driver *Driver) Connect(ctx context.Context) error {
	return nil
}

func (driver *Driver) Stations(ctx context.Context) (map[string]string, error) {
	stations, err := listAll[station](ctx, driver.client, "stations", "/api/stations/")
	if err != nil {
		return nil, err
	}

	result := make(map[string]string, len(stations))
	for _, s := range stations {
		result[strconv.FormatInt(s.ID, 10)] = s.Name
	}

	return result, nil
}

// Sensors lists every time series of every time series group of the remote
// station. Sensor ids are "<group id> <time series id>".
func (driver *Driver) Sensors(ctx context.Context) (map[string]string, error) {
	stationPath := fmt.Sprintf("/api/stations/%s/", driver.endpoint.RemoteStationID)
	groups, err := listAll[timeseriesGroup](ctx, driver.client, "timeseries groups", stationPath+"timeseriesgroups/")
	if err != nil {
		return nil, err
	}

	result := make(map[string]string)
	for _, group := range groups {
		series, err := listAll[timeseries](ctx, driver.client, "timeseries",
			fmt.Sprintf("%stimeseriesgroups/%d/timeseries/", stationPath, group.ID))
		if err != nil {
			return nil, err
		}

		for _, ts := range series {
			result[fmt.Sprintf("%d %d", group.ID, ts.ID)] = fmt.Sprintf("%s - %s %s %s", group.Name, ts.Type, ts.Name, ts.TimeStep)
		}
	}

	return result, nil
}

func (driver *Driver) Measurements(ctx context.Context, sensorID string, since time.Time) ([]data.Record, error) {
	var groupID, seriesID int64
	if _, err := fmt.Sscanf(sensorID, "%d %d", &groupID, &seriesID); err != nil {
		return nil, data.Errorf(Name, "data", data.ErrMalformedResponse, "invalid sensor id %q", sensorID)
	}

	start := defaultStart
	if !since.IsZero() {
		start = since.Add(time.Minute)
	}

	resp, err := driver.client.R(ctx).
		SetQueryParams(map[string]string{
			"fmt":        "hts",
			"start_date": start.Format(time.RFC3339),
		}).
		Get(fmt.Sprintf("/api/stations/%s/timeseriesgroups/%d/timeseries/%d/data/",
			driver.endpoint.RemoteStationID, groupID, seriesID))
	if err := driver.client.Check("data", resp, err); err != nil {
		return nil, err
	}

	records, err := data.ParseRecords(bytes.NewReader(stripHeader(resp.Body())))
	if err != nil {
		return nil, driver.client.Malformed("data", err)
	}

	return data.Trim(records, since, BatchSize), nil
}

// stripHeader removes the "Key=Value" header section of an HTS file, which
// ends at the first blank line. Bodies without a header are returned as is.
func stripHeader(body []byte) []byte {
	firstLine, _, _ := bytes.Cut(body, []byte("\n"))
	if !bytes.Contains(firstLine, []byte("=")) {
		return body
	}

	normalized := bytes.ReplaceAll(body, []byte("\r\n"), []byte("\n"))
	if _, records, found := bytes.Cut(normalized, []byte("\n\n")); found {
		return records
	}

	return nil
}

// listAll follows the next links of a paginated list until it is exhausted
func listAll[T any](ctx context.Context, client *provider.Client, op, path string) ([]T, error) {
	var items []T

	next := path
	for pages := 0; next != ""; pages++ {
		if pages == maxPages {
			return nil, client.Malformedf(op, "more than %d pages", maxPages)
		}

		resp, err := client.R(ctx).Get(next)
		if err := client.Check(op, resp, err); err != nil {
			return nil, err
		}

		current := page[T]{}
		if err := json.Unmarshal(resp.Body(), &current); err != nil {
			return nil, client.Malformed(op, err)
		}

		if current.Results == nil {
			return nil, client.Malformedf(op, "response has no results")
		}

		items = append(items, current.Results...)

		next = ""
		if current.Next != nil {
			next = *current.Next
		}
	}

	return items, nil
}
