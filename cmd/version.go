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
	"strings"

	"github.com/openhydro/teleacq/pkginfo"
	"github.com/spf13/cobra"
)

var (
	versionDeps   bool
	versionShort  bool
	versionCommit bool
)

// versionCmd prints the build identifiers stamped on error log entries.
var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print build version and commit",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		switch {
		case versionShort:
			fmt.Println(pkginfo.VersionOrDev())
		case versionCommit:
			fmt.Println(pkginfo.CommitID())
		default:
			fmt.Println(pkginfo.BuildVersionString())
		}

		if versionDeps {
			fmt.Println()
			fmt.Println(strings.Join(pkginfo.GetDependencyList(), "\n"))
		}
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
	versionCmd.Flags().BoolVarP(&versionDeps, "deps", "d", false, "print module dependencies")
	versionCmd.Flags().BoolVarP(&versionShort, "short", "s", false, "only print the version number")
	versionCmd.Flags().BoolVar(&versionCommit, "commit", false, "only print the commit id recorded in error log entries")
}
