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
// Package providers is the registry of the telemetry systems this program can
// fetch from. Adding a provider means adding its package and one entry to Map.
package providers

import (
	"errors"
	"fmt"
	"sort"

	"github.com/openhydro/teleacq/data"
	"github.com/openhydro/teleacq/provider"
	"github.com/openhydro/teleacq/providers/addupi"
	"github.com/openhydro/teleacq/providers/enhydris"
	"github.com/openhydro/teleacq/providers/influxdb"
	"github.com/openhydro/teleacq/providers/insighio"
	"github.com/openhydro/teleacq/providers/meteoview2"
	"github.com/openhydro/teleacq/providers/thingsboard"
)

var (
	ErrProviderNotFound = errors.New("provider not found")
)

// Registration ties a provider type to its description and constructor
type Registration struct {
	Info provider.Info
	New  func(*data.Endpoint) (provider.Driver, error)
}

// Map holds every available provider keyed by the type stored in endpoint
// configurations. It is not modified after start-up.
var Map = map[string]Registration{
	addupi.Name:      {Info: addupi.Info, New: addupi.New},
	enhydris.Name:    {Info: enhydris.Info, New: enhydris.New},
	influxdb.Name:    {Info: influxdb.Info, New: influxdb.New},
	insighio.Name:    {Info: insighio.Info, New: insighio.New},
	meteoview2.Name:  {Info: meteoview2.Info, New: meteoview2.New},
	thingsboard.Name: {Info: thingsboard.Info, New: thingsboard.New},
}

// Names returns the registered provider types in alphabetical order
func Names() []string {
	names := make([]string, 0, len(Map))
	for name := range Map {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Lookup returns the registration of a provider type
func Lookup(providerType string) (Registration, error) {
	registration, ok := Map[providerType]
	if !ok {
		return Registration{}, fmt.Errorf("%w: %q", ErrProviderNotFound, providerType)
	}
	return registration, nil
}

// New creates the driver for an endpoint. An unknown provider type is a
// configuration error.
func New(endpoint *data.Endpoint) (provider.Driver, error) {
	registration, err := Lookup(endpoint.Type)
	if err != nil {
		return nil, &data.ConfigError{
			EndpointID: endpoint.ID,
			Problems:   []string{fmt.Sprintf("unknown provider type %q", endpoint.Type)},
			Err:        err,
		}
	}

	return registration.New(endpoint)
}
