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
package provider

import (
	"context"
	"time"

	"github.com/openhydro/teleacq/data"
)

// Driver talks to one kind of remote telemetry system. Every method returns a
// *data.Error on failure.
type Driver interface {
	// Connect establishes whatever session or token the protocol needs. It is
	// safe to call more than once.
	Connect(ctx context.Context) error

	// Stations lists the remote stations available to the configured account,
	// keyed by remote id
	Stations(ctx context.Context) (map[string]string, error)

	// Sensors lists the sensors of the configured remote station
	Sensors(ctx context.Context) (map[string]string, error)

	// Measurements returns readings of sensorID strictly after since, in time
	// order and capped at the provider's batch size. A zero since means the
	// series is empty.
	Measurements(ctx context.Context, sensorID string, since time.Time) ([]data.Record, error)
}

// Info describes a provider to the configuration UI and the command line
type Info struct {
	Name        string
	Description string

	UsernameLabel      string
	PasswordLabel      string
	DeviceLocatorLabel string
	DeviceLocatorHelp  string

	HideUsername      bool
	HideDeviceLocator bool
	HideDataTimeZone  bool

	// ConfigDescription maps additional configuration keys to the prompt used
	// when asking for them
	ConfigDescription map[string]string

	// BatchSize is the maximum number of records a single Measurements call
	// returns
	BatchSize int
}

// Labels returns the credential field labels, falling back to generic ones
func (info Info) Labels() (username, password, locator string) {
	username, password, locator = "Username", "Password", "URL"
	if info.UsernameLabel != "" {
		username = info.UsernameLabel
	}
	if info.PasswordLabel != "" {
		password = info.PasswordLabel
	}
	if info.DeviceLocatorLabel != "" {
		locator = info.DeviceLocatorLabel
	}
	return
}
