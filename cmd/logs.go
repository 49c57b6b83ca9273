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
	"strconv"
	"strings"

	"github.com/charmbracelet/glamour"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

var (
	logsLimit     int
	logsTraceback bool
)

// logsCmd represents the logs command
var logsCmd = &cobra.Command{
	Use:   "logs <endpoint-id>",
	Short: "Show the most recent error log entries of an endpoint",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		ctx := context.Background()

		endpointID, err := strconv.ParseInt(args[0], 10, 64)
		if err != nil {
			log.Fatal().Str("Argument", args[0]).Msg("endpoint id must be an integer")
		}

		eng, err := newEngine(ctx)
		if err != nil {
			log.Fatal().Err(err).Msg("could not set up fetch engine")
		}
		defer eng.Close()

		entries, err := eng.errLog.Recent(ctx, endpointID, logsLimit)
		if err != nil {
			log.Fatal().Err(err).Msg("could not read error log")
		}

		builder := strings.Builder{}
		builder.WriteString(fmt.Sprintf("# Error log of endpoint %d\n\n", endpointID))

		if len(entries) == 0 {
			builder.WriteString("No errors recorded.\n")
		}

		for _, entry := range entries {
			builder.WriteString(fmt.Sprintf("* %s\n  * version %s\n", entry.FullMessage(), entry.FullVersion()))
			if logsTraceback {
				builder.WriteString(fmt.Sprintf("\n```\n%s\n```\n\n", entry.Traceback))
			}
		}

		r, _ := glamour.NewTermRenderer(
			// detect background color and pick either the default dark or light theme
			glamour.WithAutoStyle(),
			// wrap output at specific width (default is 80)
			glamour.WithWordWrap(80),
		)

		out, err := r.Render(builder.String())
		if err != nil {
			log.Fatal().Err(err).Msg("could not render error log")
		}

		fmt.Print(out)
	},
}

func init() {
	rootCmd.AddCommand(logsCmd)
	logsCmd.Flags().IntVarP(&logsLimit, "limit", "n", 20, "number of entries to show")
	logsCmd.Flags().BoolVarP(&logsTraceback, "traceback", "t", false, "include the diagnostic trace of every entry")
}
