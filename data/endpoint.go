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
package data

import (
	"fmt"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

const (
	MinFetchInterval = 10
	MaxFetchInterval = 1440

	// IgnoredSeries marks a remote sensor that is not imported
	IgnoredSeries int64 = 0
)

// Endpoint binds one local station to a remote telemetry system. It is created
// and replaced by the configuration workflow and is read-only to the fetcher.
type Endpoint struct {
	ID                   int64             `json:"id" toml:"id" yaml:"id" db:"id"`
	StationID            int64             `json:"station_id" toml:"station_id" yaml:"station_id" db:"station_id"`
	Type                 string            `json:"type" toml:"type" yaml:"type" db:"type"`
	Username             string            `json:"username" toml:"username" yaml:"username" db:"username"`
	Password             string            `json:"-" toml:"password" yaml:"password" db:"password"`
	DeviceLocator        string            `json:"device_locator" toml:"device_locator" yaml:"device_locator" db:"device_locator"`
	RemoteStationID      string            `json:"remote_station_id" toml:"remote_station_id" yaml:"remote_station_id" db:"remote_station_id"`
	DataTimeZone         string            `json:"data_time_zone" toml:"data_time_zone" yaml:"data_time_zone" db:"data_time_zone"`
	FetchIntervalMinutes int               `json:"fetch_interval_minutes" toml:"fetch_interval_minutes" yaml:"fetch_interval_minutes" db:"fetch_interval_minutes"`
	FetchOffsetMinutes   int               `json:"fetch_offset_minutes" toml:"fetch_offset_minutes" yaml:"fetch_offset_minutes" db:"fetch_offset_minutes"`
	FetchOffsetTimeZone  string            `json:"fetch_offset_time_zone" toml:"fetch_offset_time_zone" yaml:"fetch_offset_time_zone" db:"fetch_offset_time_zone"`
	AdditionalConfig     map[string]string `json:"additional_config" toml:"additional_config" yaml:"additional_config" db:"additional_config"`
	Sensors              map[string]int64  `json:"sensors" toml:"sensors" yaml:"sensors" db:"sensors"`
	HealthCheckID        string            `json:"health_check_id" toml:"health_check_id" yaml:"health_check_id" db:"health_check_id"`
	RateLimit            int               `json:"rate_limit" toml:"rate_limit" yaml:"rate_limit" db:"rate_limit"`
}

// SensorMapping pairs a remote sensor with the local series it feeds
type SensorMapping struct {
	SensorID string
	SeriesID int64
}

// LockKey is the key of the fetch lock guarding this endpoint
func (endpoint *Endpoint) LockKey() string {
	return fmt.Sprintf("telemetry-%d", endpoint.ID)
}

// Config returns the provider specific setting for key, or the empty string
func (endpoint *Endpoint) Config(key string) string {
	if endpoint.AdditionalConfig == nil {
		return ""
	}
	return endpoint.AdditionalConfig[key]
}

// MappedSensors returns every sensor that is mapped to a local series, ordered
// by remote sensor id. Ignored sensors are left out.
func (endpoint *Endpoint) MappedSensors() []SensorMapping {
	mapped := make([]SensorMapping, 0, len(endpoint.Sensors))
	for sensorID, seriesID := range endpoint.Sensors {
		if seriesID == IgnoredSeries {
			continue
		}
		mapped = append(mapped, SensorMapping{SensorID: sensorID, SeriesID: seriesID})
	}

	sort.Slice(mapped, func(i, j int) bool {
		return mapped[i].SensorID < mapped[j].SensorID
	})

	return mapped
}

// OffsetLocation returns the zone the fetch offset is expressed in. An empty
// zone name means UTC.
func (endpoint *Endpoint) OffsetLocation() (*time.Location, error) {
	return LoadZone(endpoint.FetchOffsetTimeZone)
}

// DataLocation returns the zone used to resolve DST switches in remote
// timestamps, or nil when the remote timestamps need no conversion.
func (endpoint *Endpoint) DataLocation() (*time.Location, error) {
	if endpoint.DataTimeZone == "" {
		return nil, nil
	}
	return LoadZone(endpoint.DataTimeZone)
}

// Validate checks the endpoint and reports every problem it finds in a single
// ConfigError
func (endpoint *Endpoint) Validate() error {
	var problems []string

	if endpoint.Type == "" {
		problems = append(problems, "provider type is empty")
	}

	if endpoint.FetchIntervalMinutes < MinFetchInterval || endpoint.FetchIntervalMinutes > MaxFetchInterval {
		problems = append(problems, fmt.Sprintf("fetch interval %d is outside [%d, %d]",
			endpoint.FetchIntervalMinutes, MinFetchInterval, MaxFetchInterval))
	}

	if endpoint.FetchOffsetMinutes < 0 || endpoint.FetchOffsetMinutes >= max(endpoint.FetchIntervalMinutes, 1) {
		problems = append(problems, fmt.Sprintf("fetch offset %d must be at least 0 and less than the fetch interval",
			endpoint.FetchOffsetMinutes))
	}

	if _, err := endpoint.OffsetLocation(); err != nil {
		problems = append(problems, fmt.Sprintf("fetch offset time zone: %s", err))
	}

	if _, err := endpoint.DataLocation(); err != nil {
		problems = append(problems, fmt.Sprintf("data time zone: %s", err))
	}

	if len(problems) > 0 {
		return &ConfigError{EndpointID: endpoint.ID, Problems: problems}
	}

	return nil
}

// MarshalZerologObject logs the endpoint without its credentials
func (endpoint *Endpoint) MarshalZerologObject(e *zerolog.Event) {
	e.Int64("EndpointID", endpoint.ID)
	e.Int64("StationID", endpoint.StationID)
	e.Str("Type", endpoint.Type)
	e.Str("DeviceLocator", RedactURL(endpoint.DeviceLocator))
	e.Str("RemoteStationID", endpoint.RemoteStationID)
	e.Int("FetchInterval", endpoint.FetchIntervalMinutes)
	e.Int("FetchOffset", endpoint.FetchOffsetMinutes)
	e.Int("NumSensors", len(endpoint.MappedSensors()))
}

// RedactURL strips user info and the query string from a URL so that it can
// be logged. Values that do not parse as URLs are returned with everything
// after the first '?' removed.
func RedactURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		before, _, _ := strings.Cut(raw, "?")
		return before
	}

	u.User = nil
	u.RawQuery = ""
	u.ForceQuery = false
	return u.String()
}
