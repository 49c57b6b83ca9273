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
	"fmt"
	"sort"
	"strings"

	"github.com/charmbracelet/glamour"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/openhydro/teleacq/providers"
)

// providersCmd represents the providers command
var providersCmd = &cobra.Command{
	Use:   "providers <name>",
	Short: "List all providers available or get details about a specific provider",
	Run: func(cmd *cobra.Command, args []string) {

		r, _ := glamour.NewTermRenderer(
			// detect background color and pick either the default dark or light theme
			glamour.WithAutoStyle(),
			// wrap output at specific width (default is 80)
			glamour.WithWordWrap(80),
		)

		builder := strings.Builder{}

		if len(args) > 0 {
			registration, err := providers.Lookup(args[0])
			if err != nil {
				log.Fatal().Err(err).Msg("unknown provider")
			}

			info := registration.Info
			username, password, locator := info.Labels()

			builder.WriteString(fmt.Sprintf("# %s\n", info.Name))
			builder.WriteString(info.Description)
			builder.WriteString("\n\n## Settings\n")
			if !info.HideUsername {
				builder.WriteString(fmt.Sprintf("- username: %s\n", username))
			}
			builder.WriteString(fmt.Sprintf("- password: %s\n", password))
			if !info.HideDeviceLocator {
				builder.WriteString(fmt.Sprintf("- device_locator: %s", locator))
				if info.DeviceLocatorHelp != "" {
					builder.WriteString(fmt.Sprintf(" (%s)", info.DeviceLocatorHelp))
				}
				builder.WriteString("\n")
			}
			if !info.HideDataTimeZone {
				builder.WriteString("- data_time_zone: time zone whose DST rules the remote timestamps follow\n")
			}

			keys := make([]string, 0, len(info.ConfigDescription))
			for key := range info.ConfigDescription {
				keys = append(keys, key)
			}
			sort.Strings(keys)

			for _, key := range keys {
				builder.WriteString(fmt.Sprintf("- additional_config.%s: %s\n", key, info.ConfigDescription[key]))
			}

			if info.BatchSize > 0 {
				builder.WriteString(fmt.Sprintf("\nAt most %d records are fetched per sensor and cycle.\n", info.BatchSize))
			}
		} else {
			builder.WriteString("# Available Providers\n")
			for _, name := range providers.Names() {
				info := providers.Map[name].Info
				builder.WriteString(fmt.Sprintf("\n## %s (`%s`)\n", info.Name, name))
				builder.WriteString(info.Description)
				builder.WriteString("\n")
			}
		}

		out, err := r.Render(builder.String())
		if err != nil {
			log.Fatal().Err(err).Msg("could not render provider document")
		}

		fmt.Print(out)
	},
}

func init() {
	rootCmd.AddCommand(providersCmd)
}
