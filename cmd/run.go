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
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/hako/durafmt"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/sync/errgroup"

	"github.com/openhydro/teleacq/api"
)

// runCmd represents the run command
var runCmd = &cobra.Command{
	Use:   "run [endpoint-id...]",
	Short: "Fetch telemetry on schedule or for the given endpoints",
	Long: `The run sub-command fetches new readings and saves them to the series store. If
no arguments are provided then run will execute as a daemon and fetch each endpoint at
its scheduled times. If endpoint IDs are provided then each endpoint is fetched
sequentially (ignoring any set schedule).`,
	Run: func(cmd *cobra.Command, args []string) {
		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		eng, err := newEngine(ctx)
		if err != nil {
			log.Fatal().Err(err).Msg("could not set up fetch engine")
		}
		defer eng.Close()

		// check if we are running in daemon mode
		if len(args) == 0 {
			group, groupCtx := errgroup.WithContext(ctx)

			group.Go(func() error {
				eng.dispatcher.Run(groupCtx)
				return nil
			})

			if listen := viper.GetString("http.listen"); listen != "" {
				server := api.New(api.Config{
					Listen:      listen,
					BearerToken: viper.GetString("http.token"),
				}, eng.source, eng.dispatcher, eng.errLog, eng.registry)

				group.Go(func() error {
					return server.Run(groupCtx)
				})
			}

			if err := group.Wait(); err != nil {
				log.Error().Err(err).Msg("daemon stopped with an error")
			}
			return
		}

		// not daemon mode, fetch each endpoint individually
		for _, arg := range args {
			endpointID, err := strconv.ParseInt(arg, 10, 64)
			if err != nil {
				log.Fatal().Str("Argument", arg).Msg("endpoint id must be an integer")
			}

			endpoint, err := eng.source.Endpoint(ctx, endpointID)
			if err != nil {
				log.Fatal().Err(err).Int64("EndpointID", endpointID).Msg("could not load endpoint")
			}

			if err := endpoint.Validate(); err != nil {
				log.Error().Err(err).Int64("EndpointID", endpointID).Msg("endpoint is mis-configured; skipping")
				continue
			}

			summary := eng.worker.Run(ctx, endpoint)
			log.Info().Int64("EndpointID", endpointID).Str("Status", string(summary.Status)).
				Str("RunTime", durafmt.Parse(summary.Duration()).LimitFirstN(2).String()).
				Int("NumRecords", summary.NumRecords).Int("NumErrors", summary.NumErrors).
				Msg("fetch complete")
		}
	},
}

func init() {
	rootCmd.AddCommand(runCmd)

	runCmd.Flags().String("listen", "", "serve the HTTP API on this address while running as a daemon")
	if err := viper.BindPFlag("http.listen", runCmd.Flags().Lookup("listen")); err != nil {
		log.Panic().Err(err).Msg("BindPFlag for listen failed")
	}
}
