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
package cmd

import (
	"context"
	"fmt"
	"sort"
	"strconv"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/openhydro/teleacq/data"
	"github.com/openhydro/teleacq/fetch"
	"github.com/openhydro/teleacq/library"
	"github.com/openhydro/teleacq/provider"
	"github.com/openhydro/teleacq/providers"
)

// stationsCmd represents the stations command
var stationsCmd = &cobra.Command{
	Use:   "stations <endpoint-id>",
	Short: "List the stations the remote system of an endpoint offers",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		listRemote(args[0], "Station", provider.Driver.Stations)
	},
}

// sensorsCmd represents the sensors command
var sensorsCmd = &cobra.Command{
	Use:   "sensors <endpoint-id>",
	Short: "List the sensors of the remote station of an endpoint and the series they feed",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		listRemote(args[0], "Sensor", provider.Driver.Sensors)
	},
}

func listRemote(arg, kind string, list func(provider.Driver, context.Context) (map[string]string, error)) {
	ctx := context.Background()

	endpointID, err := strconv.ParseInt(arg, 10, 64)
	if err != nil {
		log.Fatal().Str("Argument", arg).Msg("endpoint id must be an integer")
	}

	endpoint, err := loadEndpoint(ctx, endpointID)
	if err != nil {
		log.Fatal().Err(err).Int64("EndpointID", endpointID).Msg("could not load endpoint")
	}

	driver, err := providers.New(endpoint)
	if err != nil {
		log.Fatal().Err(err).Object("Endpoint", endpoint).Msg("could not create driver")
	}

	if err := driver.Connect(ctx); err != nil {
		log.Fatal().Err(err).Object("Endpoint", endpoint).Msg("could not connect")
	}

	items, err := list(driver, ctx)
	if err != nil {
		log.Fatal().Err(err).Object("Endpoint", endpoint).Msgf("could not list %ss", kind)
	}

	ids := make([]string, 0, len(items))
	for id := range items {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	tbl := table.New().
		Border(lipgloss.NormalBorder()).
		BorderStyle(lipgloss.NewStyle().Foreground(lipgloss.Color("8")))

	if kind == "Sensor" {
		tbl.Headers("Sensor ID", "Name", "Series")
		for _, id := range ids {
			series := "not imported"
			if seriesID, ok := endpoint.Sensors[id]; ok && seriesID != data.IgnoredSeries {
				series = strconv.FormatInt(seriesID, 10)
			}
			tbl.Row(id, items[id], series)
		}
	} else {
		tbl.Headers("Station ID", "Name")
		for _, id := range ids {
			tbl.Row(id, items[id])
		}
	}

	fmt.Println(tbl.String())
}

// loadEndpoint reads a single endpoint without setting up the whole engine
func loadEndpoint(ctx context.Context, endpointID int64) (*data.Endpoint, error) {
	if fn := viper.GetString("endpoints.file"); fn != "" {
		return library.NewFileSource(fn).Endpoint(ctx, endpointID)
	}

	dbURL := viper.GetString("db.url")
	if dbURL == "" {
		return nil, fmt.Errorf("%w: no endpoint source configured", fetch.ErrEndpointNotFound)
	}

	myLibrary, err := library.NewFromDB(ctx, dbURL)
	if err != nil {
		return nil, err
	}
	defer myLibrary.Close()

	return myLibrary.Endpoint(ctx, endpointID)
}

func init() {
	rootCmd.AddCommand(stationsCmd)
	rootCmd.AddCommand(sensorsCmd)
}
