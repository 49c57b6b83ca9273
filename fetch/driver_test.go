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
package fetch_test

import (
	"context"
	"sync"
	"time"

	"github.com/openhydro/teleacq/data"
	"github.com/openhydro/teleacq/provider"
)

// fakeDriver serves a fixed set of remote readings per sensor and honours the
// driver contract by returning only readings after since
type fakeDriver struct {
	mu           sync.Mutex
	connectErr   error
	panicConnect bool
	readings     map[string][]data.Record
	failures     map[string]error
	panicOn      string
	sinces       map[string]time.Time
	calls        []string
	block        chan struct{}
}

func newFakeDriver() *fakeDriver {
	return &fakeDriver{
		readings: make(map[string][]data.Record),
		failures: make(map[string]error),
		sinces:   make(map[string]time.Time),
	}
}

func (driver *fakeDriver) Connect(ctx context.Context) error {
	if driver.panicConnect {
		panic("connect bug")
	}
	return driver.connectErr
}

func (driver *fakeDriver) Stations(ctx context.Context) (map[string]string, error) {
	return map[string]string{"st": "Station"}, nil
}

func (driver *fakeDriver) Sensors(ctx context.Context) (map[string]string, error) {
	sensors := make(map[string]string)
	for id := range driver.readings {
		sensors[id] = id
	}
	return sensors, nil
}

func (driver *fakeDriver) Measurements(ctx context.Context, sensorID string, since time.Time) ([]data.Record, error) {
	driver.mu.Lock()
	driver.calls = append(driver.calls, sensorID)
	driver.sinces[sensorID] = since
	driver.mu.Unlock()

	if driver.block != nil {
		<-driver.block
	}

	if sensorID == driver.panicOn {
		panic("driver bug")
	}

	if err := driver.failures[sensorID]; err != nil {
		return nil, err
	}

	records := make([]data.Record, len(driver.readings[sensorID]))
	copy(records, driver.readings[sensorID])
	return data.Trim(records, since, 0), nil
}

func (driver *fakeDriver) factory(counter *int) func(*data.Endpoint) (provider.Driver, error) {
	return func(*data.Endpoint) (provider.Driver, error) {
		if counter != nil {
			*counter++
		}
		return driver, nil
	}
}

func at(hour, minute int) time.Time {
	return time.Date(2024, 5, 1, hour, minute, 0, 0, time.UTC)
}

func reading(hour, minute int, value float64) data.Record {
	return data.NewRecord(at(hour, minute), value, "")
}
