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
// Package addupi fetches data from Adcon telemetry gateways and addVANTAGE
// servers through their addUPI XML interface.
package addupi

import (
	"bytes"
	"context"
	"encoding/xml"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/openhydro/teleacq/data"
	"github.com/openhydro/teleacq/provider"
	"golang.org/x/text/encoding/htmlindex"
)

const (
	Name      = "addupi"
	BatchSize = 10000
)

var (
	// defaultStart is used when the local series is empty
	defaultStart = time.Date(1990, 1, 1, 0, 0, 0, 0, time.UTC)

	Info = provider.Info{
		Name:               "Adcon addUPI",
		Description:        "Adcon A7xx gateways and addVANTAGE Pro servers, accessed through the addUPI XML API.",
		DeviceLocatorLabel: "Gateway or addVANTAGE server URL",
		DeviceLocatorHelp:  `Use "https://hostname:port" or "https://hostname". You can use http instead of https, but it is not recommended.`,
		ConfigDescription: map[string]string{
			"verify_tls": "Verify the TLS certificate of the gateway? (true/false)",
		},
		BatchSize: BatchSize,
	}

	// flags maps the status attribute of a reading to the flag it is stored with
	flags = map[string]string{
		"0":   "",
		"1":   "INVALID",
		"2":   "INVALID",
		"-1":  "MISSING",
		"-99": "MISSING",
	}
)

type Driver struct {
	endpoint  *data.Endpoint
	client    *provider.Client
	sessionID string
}

type node struct {
	Class    string    `xml:"class,attr"`
	ID       string    `xml:"id,attr"`
	Name     string    `xml:"name,attr"`
	Subclass string    `xml:"subclass,attr"`
	Nodes    []node    `xml:"nodes>node"`
	Readings []reading `xml:"v"`
}

type reading struct {
	Time   string  `xml:"t,attr"`
	Status *string `xml:"s,attr"`
	Value  string  `xml:",chardata"`
}

type response struct {
	XMLName xml.Name `xml:"response"`
	Session string   `xml:"result>string"`
	Error   *struct {
		Code string `xml:"code,attr"`
		Msg  string `xml:"msg,attr"`
	} `xml:"error"`
	Nodes []node `xml:"node"`
}

// readings returns the values of every node in the response, in document order
func (resp *response) readings() []reading {
	var readings []reading
	for _, n := range resp.Nodes {
		readings = append(readings, n.Readings...)
	}
	return readings
}

// New creates an addUPI driver for the endpoint
func New(endpoint *data.Endpoint) (provider.Driver, error) {
	verify, _ := strconv.ParseBool(endpoint.Config("verify_tls"))
	client := provider.NewClient(Name, endpoint,
		provider.WithBaseURL(strings.TrimRight(endpoint.DeviceLocator, "/")),
		provider.WithInsecureTLS(!verify),
	)

	return &Driver{
		endpoint: endpoint,
		client:   client,
	}, nil
}

// Connect logs on to the gateway and keeps the session id for later requests
func (driver *Driver) Connect(ctx context.Context) error {
	if driver.sessionID != "" {
		return nil
	}

	resp, err := driver.request(ctx, "login", map[string]string{
		"function": "login",
		"user":     driver.endpoint.Username,
		"passwd":   driver.endpoint.Password,
	})
	if err != nil {
		return err
	}

	if resp.Session == "" {
		return data.Errorf(Name, "login", data.ErrAuthentication, "gateway returned no session id")
	}

	driver.sessionID = strings.TrimSpace(resp.Session)
	return nil
}

func (driver *Driver) Stations(ctx context.Context) (map[string]string, error) {
	resp, err := driver.request(ctx, "getconfig", map[string]string{"function": "getconfig"})
	if err != nil {
		return nil, err
	}

	stations := make(map[string]string)
	walk(resp.Nodes, func(n *node) bool {
		if n.Class == "DEVICE" {
			label := n.Name
			if n.Subclass != "" {
				label = fmt.Sprintf("%s [%s]", n.Name, n.Subclass)
			}
			stations[n.ID] = label
		}
		return true
	})

	return stations, nil
}

func (driver *Driver) Sensors(ctx context.Context) (map[string]string, error) {
	resp, err := driver.request(ctx, "getconfig", map[string]string{"function": "getconfig"})
	if err != nil {
		return nil, err
	}

	var station *node
	walk(resp.Nodes, func(n *node) bool {
		if n.ID == driver.endpoint.RemoteStationID {
			station = n
			return false
		}
		return true
	})

	if station == nil {
		return nil, driver.client.Malformedf("getconfig", "station %q not found in gateway configuration", driver.endpoint.RemoteStationID)
	}

	sensors := make(map[string]string, len(station.Nodes))
	for _, sensor := range station.Nodes {
		sensors[sensor.ID] = sensor.Name
	}

	return sensors, nil
}

// Measurements requests up to BatchSize slots starting at since. Timestamps
// are either absolute (seconds since the epoch) or "+N", N seconds after the
// previous reading.
func (driver *Driver) Measurements(ctx context.Context, sensorID string, since time.Time) ([]data.Record, error) {
	start := since
	if start.IsZero() {
		start = defaultStart
	}

	resp, err := driver.request(ctx, "getdata", map[string]string{
		"function": "getdata",
		"id":       sensorID,
		"df":       "time_t",
		"date":     strconv.FormatInt(start.Unix(), 10),
		"slots":    strconv.Itoa(BatchSize),
	})
	if err != nil {
		return nil, err
	}

	readings := resp.readings()
	records := make([]data.Record, 0, len(readings))
	var prev time.Time
	for _, v := range readings {
		timestamp, err := readingTime(v.Time, prev)
		if err != nil {
			return nil, driver.client.Malformed("getdata", err)
		}
		prev = timestamp

		status := "None"
		if v.Status != nil {
			status = *v.Status
		}

		flag, ok := flags[status]
		if !ok {
			return nil, data.Errorf(Name, "getdata", data.ErrUnsupportedRecord,
				"the record with timestamp %s has an invalid status value (s=%q)",
				timestamp.Format(data.RecordTimeLayout), status)
		}

		value, err := strconv.ParseFloat(strings.TrimSpace(v.Value), 64)
		if err != nil {
			return nil, driver.client.Malformed("getdata", err)
		}

		records = append(records, data.Record{Timestamp: timestamp, Value: value, Flag: flag})
	}

	return data.Trim(records, since, BatchSize), nil
}

func readingTime(value string, prev time.Time) (time.Time, error) {
	if delta, ok := strings.CutPrefix(value, "+"); ok {
		if prev.IsZero() {
			return time.Time{}, fmt.Errorf("relative timestamp %q without a preceding absolute one", value)
		}
		seconds, err := strconv.ParseInt(delta, 10, 64)
		if err != nil {
			return time.Time{}, fmt.Errorf("invalid timestamp %q: %w", value, err)
		}
		return prev.Add(time.Duration(seconds) * time.Second), nil
	}

	seconds, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid timestamp %q: %w", value, err)
	}
	return time.Unix(seconds, 0).UTC(), nil
}

func (driver *Driver) request(ctx context.Context, op string, params map[string]string) (*response, error) {
	req := driver.client.R(ctx).SetQueryParams(params)
	if driver.sessionID != "" {
		req.SetQueryParam("session-id", driver.sessionID)
	}

	resp, err := req.Get("/addUPI")
	if err := driver.client.Check(op, resp, err); err != nil {
		return nil, err
	}

	// the gateway does not always announce the charset in its headers but the
	// XML prolog does, so decode the raw bytes
	result := &response{}
	decoder := xml.NewDecoder(bytes.NewReader(resp.Body()))
	decoder.CharsetReader = charsetReader
	if err := decoder.Decode(result); err != nil {
		return nil, driver.client.Malformed(op, err)
	}

	if result.Error != nil {
		kind := data.ErrConnection
		if op == "login" {
			kind = data.ErrAuthentication
		}
		return nil, data.Errorf(Name, op, kind, "gateway error %s: %s", result.Error.Code, result.Error.Msg)
	}

	return result, nil
}

func charsetReader(label string, input io.Reader) (io.Reader, error) {
	enc, err := htmlindex.Get(label)
	if err != nil {
		return nil, err
	}
	return enc.NewDecoder().Reader(input), nil
}

// walk visits every node depth first until fn returns false
func walk(nodes []node, fn func(*node) bool) bool {
	for idx := range nodes {
		if !fn(&nodes[idx]) {
			return false
		}
		if !walk(nodes[idx].Nodes, fn) {
			return false
		}
	}
	return true
}
