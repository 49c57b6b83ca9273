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
// Package insighio fetches measurements from the insigh.io console
package insighio

import (
	"bytes"
	"context"
	"math"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gocarina/gocsv"
	"github.com/openhydro/teleacq/data"
	"github.com/openhydro/teleacq/provider"
	"github.com/tidwall/gjson"
)

const (
	Name       = "insighio"
	DefaultAPI = "https://console.insigh.io/mf-rproxy/"
	BatchSize  = 25000
)

var (
	defaultStart = time.Date(1970, 1, 1, 0, 0, 0, 0, time.UTC)

	Info = provider.Info{
		Name:              "insigh.io",
		Description:       "Devices reporting to the insigh.io console. One request fetches all sensors of a device.",
		PasswordLabel:     "API token",
		HideUsername:      true,
		HideDeviceLocator: true,
		HideDataTimeZone:  true,
		BatchSize:         BatchSize,
	}
)

type Driver struct {
	endpoint *data.Endpoint
	client   *provider.Client

	mu sync.Mutex
	// packs caches queryPack results by start range for the lifetime of the
	// driver, which is one fetch cycle
	packs map[string]*pack
}

// pack is a queryPack CSV response: a time column in milliseconds since the
// epoch followed by one column per sensor
type pack struct {
	timeColumn string
	columns    map[string]bool
	rows       []map[string]string
}

func New(endpoint *data.Endpoint) (provider.Driver, error) {
	apiURL := DefaultAPI
	if endpoint.DeviceLocator != "" {
		apiURL = endpoint.DeviceLocator
	}

	client := provider.NewClient(Name, endpoint, provider.WithBaseURL(apiURL))
	client.HTTP.SetHeader("Authorization", endpoint.Password)

	return &Driver{
		endpoint: endpoint,
		client:   client,
		packs:    make(map[string]*pack),
	}, nil
}

func (driver *Driver) Connect(ctx context.Context) error {
	return nil
}

// Stations lists devices; the remote station id is "<device id>/<data channel>"
func (driver *Driver) Stations(ctx context.Context) (map[string]string, error) {
	devices, err := driver.getJSON(ctx, "device list", "device/list", nil)
	if err != nil {
		return nil, err
	}

	stations := make(map[string]string)
	for _, device := range devices.Array() {
		stations[device.Get("id").String()+"/"+device.Get("metadata.dataChannel").String()] = device.Get("name").String()
	}

	return stations, nil
}

func (driver *Driver) Sensors(ctx context.Context) (map[string]string, error) {
	deviceID, channel, err := driver.device("last measurement")
	if err != nil {
		return nil, err
	}

	measurements, err := driver.getJSON(ctx, "last measurement", "device/lastMeasurement", map[string]string{
		"channel": channel,
		"id":      deviceID,
	})
	if err != nil {
		return nil, err
	}

	sensors := make(map[string]string)
	for _, measurement := range measurements.Array() {
		_, name, _ := strings.Cut(measurement.Get("name").String(), "-")
		sensors[name] = ""
	}

	return sensors, nil
}

// Measurements reads one column of the device's measurement pack. All sensors
// of the device come in the same response, so it is requested once per start
// range.
func (driver *Driver) Measurements(ctx context.Context, sensorID string, since time.Time) ([]data.Record, error) {
	start := defaultStart
	if !since.IsZero() {
		start = since
	}
	startRange := start.Add(time.Minute).Format("2006-01-02T15:04:05") + "Z"

	p, err := driver.queryPack(ctx, startRange)
	if err != nil {
		return nil, err
	}

	if len(p.rows) == 0 {
		return []data.Record{}, nil
	}

	if !p.columns[sensorID] {
		return nil, driver.client.Malformedf("query pack", "sensor %q is not in the response", sensorID)
	}

	records := make([]data.Record, 0, len(p.rows))
	for _, row := range p.rows {
		millis, err := strconv.ParseInt(row[p.timeColumn], 10, 64)
		if err != nil {
			return nil, driver.client.Malformed("query pack", err)
		}

		value := math.NaN()
		if raw := strings.TrimSpace(row[sensorID]); raw != "" {
			if value, err = strconv.ParseFloat(raw, 64); err != nil {
				return nil, driver.client.Malformed("query pack", err)
			}
		}

		timestamp := time.Unix(millis/1000, 0).UTC()
		records = append(records, data.Record{Timestamp: timestamp, Value: value})
	}

	return data.Trim(records, since, BatchSize), nil
}

func (driver *Driver) queryPack(ctx context.Context, startRange string) (*pack, error) {
	driver.mu.Lock()
	defer driver.mu.Unlock()

	if p, ok := driver.packs[startRange]; ok {
		return p, nil
	}

	deviceID, channel, err := driver.device("query pack")
	if err != nil {
		return nil, err
	}

	resp, err := driver.client.R(ctx).
		SetQueryParams(map[string]string{
			"channel":    channel,
			"publisher":  deviceID,
			"startRange": startRange,
			"limit":      strconv.Itoa(BatchSize),
			"format":     "csv",
		}).
		Get("measurement/queryPack")
	if err := driver.client.Check("query pack", resp, err); err != nil {
		return nil, err
	}

	p := &pack{columns: make(map[string]bool)}
	body := resp.Body()
	if len(bytes.TrimSpace(body)) > 0 {
		header, _, _ := bytes.Cut(body, []byte("\n"))
		for idx, column := range strings.Split(strings.TrimSpace(string(header)), ",") {
			if idx == 0 {
				p.timeColumn = column
				continue
			}
			p.columns[column] = true
		}

		if p.rows, err = gocsv.CSVToMaps(bytes.NewReader(body)); err != nil {
			return nil, driver.client.Malformed("query pack", err)
		}
	}

	driver.packs[startRange] = p
	return p, nil
}

func (driver *Driver) device(op string) (deviceID, channel string, err error) {
	deviceID, channel, found := strings.Cut(driver.endpoint.RemoteStationID, "/")
	if !found {
		return "", "", data.Errorf(Name, op, data.ErrMalformedResponse,
			"remote station id %q is not of the form <device>/<channel>", driver.endpoint.RemoteStationID)
	}
	return deviceID, channel, nil
}

func (driver *Driver) getJSON(ctx context.Context, op, path string, params map[string]string) (gjson.Result, error) {
	resp, err := driver.client.R(ctx).SetQueryParams(params).Get(path)
	if err := driver.client.Check(op, resp, err); err != nil {
		return gjson.Result{}, err
	}

	result := gjson.ParseBytes(resp.Body())
	if !gjson.ValidBytes(resp.Body()) || !result.IsArray() {
		return gjson.Result{}, driver.client.Malformedf(op, "expected a JSON list")
	}

	return result, nil
}
