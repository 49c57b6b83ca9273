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
	"os"
	"strings"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var cfgFile string

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "teleacq",
	Short: "teleacq pulls sensor readings from remote telemetry systems into local time series",
	Long: `teleacq is a command line utility and daemon that periodically fetches readings
from third-party data loggers and cloud telemetry platforms and appends them to
local time series.

Every endpoint binds one local station to a remote system and carries its own
fetch schedule: an interval in minutes and an offset within that interval,
evaluated in the endpoint's time zone. Supported remote systems include:

	* Adcon addUPI gateways
	* Metrica MeteoView2
	* InfluxDB v2
	* peer Enhydris instances
	* insigh.io
	* ThingsBoard

At most one fetch of an endpoint runs at a time, even across processes, and
every fetch resumes from the newest stored record so that nothing is fetched
twice. Failures are kept in a per-endpoint error log.`,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		level, err := zerolog.ParseLevel(viper.GetString("log.level"))
		if err != nil || level == zerolog.NoLevel {
			level = zerolog.InfoLevel
		}
		zerolog.SetGlobalLevel(level)
	},
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() {
	err := rootCmd.Execute()
	if err != nil {
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)

	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.teleacq.toml)")

	rootCmd.PersistentFlags().String("db-url", "", "database connection string")
	bindFlag("db.url", "db-url")

	rootCmd.PersistentFlags().String("endpoints", "", "read endpoint configurations from a TOML, YAML or JSON file instead of the database")
	bindFlag("endpoints.file", "endpoints")

	rootCmd.PersistentFlags().String("log-level", "info", "log level (trace, debug, info, warn, error)")
	bindFlag("log.level", "log-level")

	viper.SetDefault("lock.backend", "memory")
	viper.SetDefault("lock.bucket", "teleacq_fetch_locks")
	viper.SetDefault("fetch.timeout", "300s")
	viper.SetDefault("fetch.workers", 8)
	viper.SetDefault("fetch.tick", "1m")
	viper.SetDefault("log.level", "info")
}

func bindFlag(key, flag string) {
	if err := viper.BindPFlag(key, rootCmd.PersistentFlags().Lookup(flag)); err != nil {
		log.Panic().Err(err).Str("Flag", flag).Msg("BindPFlag failed")
	}
}

// initConfig reads in config file and ENV variables if set.
func initConfig() {
	// a missing .env file is fine
	_ = godotenv.Load()

	if cfgFile != "" {
		// Use config file from the flag.
		viper.SetConfigFile(cfgFile)
	} else {
		// Find home directory.
		home, err := os.UserHomeDir()
		cobra.CheckErr(err)

		// Search config in home directory with name ".teleacq" (without extension).
		viper.AddConfigPath(home)
		viper.SetConfigType("toml")
		viper.SetConfigName(".teleacq")
	}

	viper.SetEnvPrefix("teleacq")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv() // read in environment variables that match

	// If a config file is found, read it in.
	if err := viper.ReadInConfig(); err == nil {
		log.Info().Str("ConfigFN", viper.ConfigFileUsed()).Msg("Using config file")
	}
}
