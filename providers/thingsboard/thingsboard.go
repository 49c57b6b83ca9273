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
// Package thingsboard reads device telemetry from a ThingsBoard IoT console
package thingsboard

import (
	"context"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/openhydro/teleacq/data"
	"github.com/openhydro/teleacq/provider"
	"github.com/tidwall/gjson"
)

const (
	Name      = "thingsboard"
	BatchSize = 20000
	pageSize  = 100

	// tokens this close to expiry are renewed before use
	expiryMargin = time.Minute
)

var (
	defaultStart = time.Date(1990, 1, 1, 0, 0, 0, 0, time.UTC)

	Info = provider.Info{
		Name:               "ThingsBoard",
		Description:        "Device time series stored in a ThingsBoard IoT platform; one telemetry key per sensor.",
		UsernameLabel:      "Tenant user email",
		DeviceLocatorLabel: "ThingsBoard URL",
		DeviceLocatorHelp:  "For example, https://thingsboard.example.com.",
		BatchSize:          BatchSize,
	}
)

type Driver struct {
	endpoint *data.Endpoint
	client   *provider.Client
	now      func() time.Time

	token   string
	expires time.Time
}

func New(endpoint *data.Endpoint) (provider.Driver, error) {
	return NewDriver(endpoint, time.Now), nil
}

// NewDriver creates a driver that reads the clock through now
func NewDriver(endpoint *data.Endpoint, now func() time.Time) *Driver {
	return &Driver{
		endpoint: endpoint,
		client:   provider.NewClient(Name, endpoint, provider.WithBaseURL(strings.TrimRight(endpoint.DeviceLocator, "/"))),
		now:      now,
	}
}

// Connect logs in unless the current token is still valid
func (driver *Driver) Connect(ctx context.Context) error {
	if driver.token != "" && driver.now().Add(expiryMargin).Before(driver.expires) {
		return nil
	}

	resp, err := driver.client.R(ctx).
		SetBody(map[string]string{
			"username": driver.endpoint.Username,
			"password": driver.endpoint.Password,
		}).
		Post("/api/auth/login")
	if err := driver.client.Check("login", resp, err); err != nil {
		return err
	}

	token := gjson.GetBytes(resp.Body(), "token").String()
	if token == "" {
		return data.Errorf(Name, "login", data.ErrAuthentication, "no token in response")
	}

	// the token is only decoded to learn when it expires; the server verifies it
	claims := &jwt.RegisteredClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return driver.client.Malformed("login", err)
	}

	driver.token = token
	driver.expires = driver.now().Add(time.Hour)
	if claims.ExpiresAt != nil {
		driver.expires = claims.ExpiresAt.Time
	}

	return nil
}

// Stations lists the tenant's devices
func (driver *Driver) Stations(ctx context.Context) (map[string]string, error) {
	stations := make(map[string]string)

	for page := 0; ; page++ {
		result, err := driver.get(ctx, "devices", "/api/tenant/devices", map[string]string{
			"pageSize": strconv.Itoa(pageSize),
			"page":     strconv.Itoa(page),
		})
		if err != nil {
			return nil, err
		}

		for _, device := range result.Get("data").Array() {
			label := device.Get("name").String()
			if deviceType := device.Get("type").String(); deviceType != "" {
				label = fmt.Sprintf("%s [%s]", label, deviceType)
			}
			stations[device.Get("id.id").String()] = label
		}

		if !result.Get("hasNext").Bool() {
			return stations, nil
		}
	}
}

// Sensors lists the telemetry keys of the device
func (driver *Driver) Sensors(ctx context.Context) (map[string]string, error) {
	result, err := driver.get(ctx, "keys", driver.devicePath("keys/timeseries"), nil)
	if err != nil {
		return nil, err
	}

	if !result.IsArray() {
		return nil, driver.client.Malformedf("keys", "expected a list of keys")
	}

	sensors := make(map[string]string)
	for _, key := range result.Array() {
		sensors[key.String()] = ""
	}

	return sensors, nil
}

func (driver *Driver) Measurements(ctx context.Context, sensorID string, since time.Time) ([]data.Record, error) {
	start := defaultStart
	if !since.IsZero() {
		start = since.Add(time.Minute)
	}

	result, err := driver.get(ctx, "values", driver.devicePath("values/timeseries"), map[string]string{
		"keys":    sensorID,
		"startTs": strconv.FormatInt(start.UnixMilli(), 10),
		"endTs":   strconv.FormatInt(driver.now().UnixMilli(), 10),
		"limit":   strconv.Itoa(BatchSize),
		"orderBy": "ASC",
		"agg":     "NONE",
	})
	if err != nil {
		return nil, err
	}

	values := result.Map()[sensorID].Array()
	records := make([]data.Record, 0, len(values))
	for _, v := range values {
		ts := v.Get("ts")
		if !ts.Exists() {
			return nil, driver.client.Malformedf("values", "value without timestamp")
		}

		value := math.NaN()
		if raw := v.Get("value"); raw.Exists() && raw.Type != gjson.Null && raw.String() != "" {
			parsed, err := strconv.ParseFloat(raw.String(), 64)
			if err != nil {
				return nil, data.Errorf(Name, "values", data.ErrUnsupportedRecord, "non numeric value %q at %d", raw.String(), ts.Int())
			}
			value = parsed
		}

		// several readings within one minute collapse to the first one
		timestamp := time.UnixMilli(ts.Int()).UTC().Truncate(time.Minute)
		records = append(records, data.Record{Timestamp: timestamp, Value: value})
	}

	return data.Trim(records, since, BatchSize), nil
}

func (driver *Driver) devicePath(suffix string) string {
	return fmt.Sprintf("/api/plugins/telemetry/DEVICE/%s/%s", driver.endpoint.RemoteStationID, suffix)
}

func (driver *Driver) get(ctx context.Context, op, path string, params map[string]string) (gjson.Result, error) {
	resp, err := driver.client.R(ctx).
		SetHeader("X-Authorization", "Bearer "+driver.token).
		SetQueryParams(params).
		Get(path)
	if err := driver.client.Check(op, resp, err); err != nil {
		return gjson.Result{}, err
	}

	if !gjson.ValidBytes(resp.Body()) {
		return gjson.Result{}, driver.client.Malformedf(op, "response is not JSON")
	}

	return gjson.ParseBytes(resp.Body()), nil
}
