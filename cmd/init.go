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
	"path/filepath"

	"github.com/charmbracelet/huh"
	"github.com/jackc/pgx/v5"
	"github.com/pelletier/go-toml/v2"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/openhydro/teleacq/db"
	"github.com/openhydro/teleacq/library"
)

type dbSettings struct {
	URL string `toml:"url"`
}

type lockSettings struct {
	Backend string `toml:"backend"`
	NatsURL string `toml:"nats_url,omitempty"`
}

type configFile struct {
	DB   dbSettings   `toml:"db"`
	Lock lockSettings `toml:"lock"`
}

// initCmd represents the init command
var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Gather database configuration and setup schema",
	Run: func(cmd *cobra.Command, args []string) {
		ctx := context.Background()

		myLibrary := &library.Library{}
		settings := configFile{Lock: lockSettings{Backend: "postgres"}}

		form := huh.NewForm(
			// Gather details about the library and who owns it
			huh.NewGroup(
				huh.NewInput().
					Title("Give the library a name:").
					Value(&myLibrary.Name),

				huh.NewInput().
					Title("Who owns the library?").
					Value(&myLibrary.Owner),
			),

			// Get details about the database
			huh.NewGroup(
				huh.NewInput().
					Title("Provide the DSN for connecting to your PostgreSQL database (postgres://[user[:password]@][netloc][:port][/dbname][?param1=value1&...])").
					Value(&myLibrary.DBUrl).
					Validate(func(dsn string) error {
						_, err := pgx.ParseConfig(dsn)
						return err
					}),
			),

			// Choose where fetch locks live
			huh.NewGroup(
				huh.NewSelect[string]().
					Title("Where should fetch locks be kept?").
					Options(
						huh.NewOption("PostgreSQL (shared by every process using this database)", "postgres"),
						huh.NewOption("NATS JetStream key-value bucket", "nats"),
						huh.NewOption("Process memory (single process only)", "memory"),
					).
					Value(&settings.Lock.Backend),
			),
		)

		err := form.Run()
		if err != nil {
			log.Fatal().Err(err).Msg("error gathering database settings")
		}

		if settings.Lock.Backend == "nats" {
			settings.Lock.NatsURL = "nats://127.0.0.1:4222"
			err := huh.NewForm(huh.NewGroup(
				huh.NewInput().
					Title("NATS server URL:").
					Value(&settings.Lock.NatsURL),
			)).Run()
			if err != nil {
				log.Fatal().Err(err).Msg("error gathering nats settings")
			}
		}

		log.Info().Msg("creating database tables")

		// run migration
		err = db.Migrate(myLibrary.DBUrl)
		if err != nil {
			log.Fatal().Err(err).Msg("error running database migration")
		}

		log.Info().Msg("database tables created")
		log.Info().Msg("Saving library name and owner to database")

		// save library name and owner to database
		if err := myLibrary.Connect(ctx); err != nil {
			log.Fatal().Err(err).Msg("could not connect to database")
		}
		defer myLibrary.Close()

		err = myLibrary.SaveDB(ctx)
		if err != nil {
			log.Fatal().Err(err).Msg("error saving library settings to database")
		}

		// save database settings to config file
		home, err := os.UserHomeDir()
		if err != nil {
			log.Fatal().Err(err).Msg("could not determine user home directory")
		}

		settings.DB.URL = myLibrary.DBUrl

		configFN := filepath.Join(home, ".teleacq.toml")
		log.Info().Str("ConfigFile", configFN).Msg("Saving database connection info to config file")
		configData, err := toml.Marshal(settings)
		if err != nil {
			log.Fatal().Err(err).Msg("could not marshal configuration data")
		}

		err = os.WriteFile(configFN, configData, 0600)
		if err != nil {
			log.Fatal().Err(err).Str("FileName", configFN).Msg("could not save configuration to file")
		}

		log.Info().Msg("Your telemetry library has been initialized")
	},
}

func init() {
	rootCmd.AddCommand(initCmd)
}
