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
// Package meteoview2 fetches data from the Metrica MeteoView2 cloud service
package meteoview2

import (
	"context"
	"fmt"
	"math"
	"net/http"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/openhydro/teleacq/data"
	"github.com/openhydro/teleacq/provider"
	"github.com/tidwall/gjson"
)

const (
	Name       = "meteoview2"
	DefaultAPI = "https://meteoview2.gr/api/"

	// the API only answers for bounded date ranges
	windowSize = 180 * 24 * time.Hour
	BatchSize  = 50000
)

var (
	defaultStart = time.Date(1990, 1, 1, 0, 0, 0, 0, time.UTC)

	Info = provider.Info{
		Name:              "Metrica MeteoView2",
		Description:       "Weather stations reporting to the Metrica MeteoView2 cloud service.",
		UsernameLabel:     "Email",
		PasswordLabel:     "API key",
		HideDeviceLocator: true,
		BatchSize:         BatchSize,
	}
)

type Driver struct {
	endpoint *data.Endpoint
	client   *provider.Client
	token    string
	now      func() time.Time
}

// windowResult is the outcome of querying one date window. An empty window
// is not a failure; it tells the caller to move on to the next window.
type windowResult struct {
	Records []data.Record
	Empty   bool
}

// New creates a MeteoView2 driver for the endpoint
func New(endpoint *data.Endpoint) (provider.Driver, error) {
	return NewDriver(endpoint, time.Now), nil
}

// NewDriver creates a driver that uses now to decide when to stop looking for
// data. A device locator, if set, replaces the public API URL.
func NewDriver(endpoint *data.Endpoint, now func() time.Time) *Driver {
	apiURL := DefaultAPI
	if endpoint.DeviceLocator != "" {
		apiURL = endpoint.DeviceLocator
	}

	return &Driver{
		endpoint: endpoint,
		client:   provider.NewClient(Name, endpoint, provider.WithBaseURL(apiURL)),
		now:      now,
	}
}

func (driver *Driver) Connect(ctx context.Context) error {
	if driver.token != "" {
		return nil
	}

	result, err := driver.post(ctx, "token", map[string]any{
		"email": driver.endpoint.Username,
		"key":   driver.endpoint.Password,
	})
	if err != nil {
		return err
	}

	token := result.Get("token").String()
	if token == "" {
		return data.Errorf(Name, "token", data.ErrAuthentication, "no token in response")
	}

	driver.token = token
	return nil
}

func (driver *Driver) Stations(ctx context.Context) (map[string]string, error) {
	resp, err := driver.client.R(ctx).
		SetAuthToken(driver.token).
		Get("stations")
	result, err := driver.decode("stations", resp, err)
	if err != nil {
		return nil, err
	}

	stations := make(map[string]string)
	result.Get("stations").ForEach(func(_, station gjson.Result) bool {
		code := station.Get("code").String()
		stations[code] = fmt.Sprintf("%s (%s)", station.Get("title").String(), code)
		return true
	})

	return stations, nil
}

func (driver *Driver) Sensors(ctx context.Context) (map[string]string, error) {
	result, err := driver.post(ctx, "sensors", map[string]any{
		"station_code": driver.endpoint.RemoteStationID,
	})
	if err != nil {
		return nil, err
	}

	sensors := make(map[string]string)
	for _, sensor := range result.Get("sensors").Array() {
		sensors[sensor.Get("id").String()] = sensor.Get("title").String()
	}

	return sensors, nil
}

// Measurements walks forward through 180 day windows starting right after
// since until a window holds data or the window start passes tomorrow. Only
// the first non-empty window is returned; the next call resumes after it.
func (driver *Driver) Measurements(ctx context.Context, sensorID string, since time.Time) ([]data.Record, error) {
	start := defaultStart
	if !since.IsZero() {
		start = since.Add(time.Minute)
	}
	end := start.Add(windowSize)
	horizon := data.Naive(driver.now()).Add(24 * time.Hour)

	for start.Before(horizon) {
		window, err := driver.fetchWindow(ctx, sensorID, start, end)
		if err != nil {
			return nil, err
		}

		if !window.Empty {
			return data.Trim(window.Records, since, BatchSize), nil
		}

		start = end.Add(time.Minute)
		end = start.Add(windowSize)
	}

	return []data.Record{}, nil
}

func (driver *Driver) fetchWindow(ctx context.Context, sensorID string, start, end time.Time) (windowResult, error) {
	result, err := driver.post(ctx, "measurements", map[string]any{
		"sensor":   []string{sensorID},
		"datefrom": start.Format("2006-01-02"),
		"timefrom": start.Format("15:04"),
		"dateto":   end.Format("2006-01-02"),
	})
	if err != nil {
		return windowResult{}, err
	}

	measurements := result.Get("measurements.0")
	if !measurements.Exists() {
		return windowResult{}, driver.client.Malformedf("measurements", "response has no measurements")
	}

	if measurements.Get("total_values").Int() == 0 {
		return windowResult{Empty: true}, nil
	}

	values := measurements.Get("values").Array()
	records := make([]data.Record, 0, len(values))
	for _, v := range values {
		// months are zero based
		timestamp := time.Date(int(v.Get("year").Int()), time.Month(v.Get("month").Int()+1), int(v.Get("day").Int()),
			int(v.Get("hour").Int()), int(v.Get("minute").Int()), 0, 0, time.UTC)

		// readings a few seconds apart collapse to the same minute; keep the first
		if len(records) > 0 && records[len(records)-1].Timestamp.Equal(timestamp) {
			continue
		}

		value := math.NaN()
		if mvalue := v.Get("mvalue"); mvalue.Exists() && mvalue.Type != gjson.Null && mvalue.String() != "" {
			value = mvalue.Float()
		}

		records = append(records, data.Record{Timestamp: timestamp, Value: value})
	}

	return windowResult{Records: records}, nil
}

func (driver *Driver) post(ctx context.Context, op string, body map[string]any) (gjson.Result, error) {
	req := driver.client.R(ctx).
		SetHeader("Content-Type", "application/json").
		SetBody(body)
	if driver.token != "" {
		req.SetAuthToken(driver.token)
	}

	resp, err := req.Post(op)
	return driver.decode(op, resp, err)
}

// decode checks the HTTP status and the status code embedded in every
// response body
func (driver *Driver) decode(op string, resp *resty.Response, err error) (gjson.Result, error) {
	if err := driver.client.Check(op, resp, err); err != nil {
		return gjson.Result{}, err
	}

	body := resp.Body()
	if !gjson.ValidBytes(body) {
		return gjson.Result{}, driver.client.Malformedf(op, "response is not JSON")
	}

	result := gjson.ParseBytes(body)
	code := result.Get("code")
	if !code.Exists() {
		return gjson.Result{}, driver.client.Malformedf(op, `missing "code"`)
	}

	switch code.Int() {
	case http.StatusOK:
		return result, nil
	case http.StatusUnauthorized, http.StatusForbidden:
		return gjson.Result{}, data.Errorf(Name, op, data.ErrAuthentication, "%d %s", code.Int(), result.Get("message").String())
	default:
		return gjson.Result{}, data.Errorf(Name, op, data.ErrConnection, "%d %s", code.Int(), result.Get("message").String())
	}
}
