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

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

// dueCmd represents the due command
var dueCmd = &cobra.Command{
	Use:   "due",
	Short: "Fetch every endpoint that is due in the current minute",
	Long: `The due sub-command evaluates the schedule of every endpoint once, fetches the
endpoints that are due and waits for the fetches to finish. It is meant to be run
every minute by an external scheduler such as cron.`,
	Run: func(cmd *cobra.Command, args []string) {
		ctx := context.Background()

		eng, err := newEngine(ctx)
		if err != nil {
			log.Fatal().Err(err).Msg("could not set up fetch engine")
		}
		defer eng.Close()

		submitted := eng.dispatcher.RunDue(ctx)
		eng.dispatcher.Wait()

		fmt.Printf("fetched %d endpoint(s)\n", submitted)
	},
}

func init() {
	rootCmd.AddCommand(dueCmd)
}
