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
package library

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/xeonx/timeago"
	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"github.com/openhydro/teleacq/data"
	"github.com/openhydro/teleacq/providers"
)

// Summary returns a description of the library in markdown
func (myLibrary *Library) Summary(ctx context.Context) (string, error) {
	numEndpoints, err := myLibrary.NumEndpoints(ctx)
	if err != nil {
		return "", err
	}

	totalRecords, err := myLibrary.TotalRecords(ctx)
	if err != nil {
		return "", err
	}

	lastUpdated, err := myLibrary.LastUpdated(ctx)
	if err != nil {
		return "", err
	}

	numErrors, err := myLibrary.NumErrorsSince(ctx, time.Now().Add(-24*time.Hour))
	if err != nil {
		return "", err
	}

	endpoints, err := myLibrary.Endpoints(ctx)
	if err != nil {
		return "", err
	}

	builder := strings.Builder{}
	p := message.NewPrinter(language.English)

	builder.WriteString(fmt.Sprintf("# %s\n", myLibrary.Name))
	builder.WriteString("## Details\n\n")
	builder.WriteString(fmt.Sprintf("Database: %s\n\n", data.RedactURL(myLibrary.DBUrl)))
	builder.WriteString(p.Sprintf("  * Num Endpoints: %d\n", numEndpoints))
	builder.WriteString(p.Sprintf("  * Total Records: %d\n", totalRecords))
	builder.WriteString(p.Sprintf("  * Errors (last 24 hours): %d\n\n", numErrors))

	if lastUpdated.Equal(time.Time{}) {
		builder.WriteString("Last Updated: Never\n\n")
	} else {
		age := timeago.English.Format(lastUpdated)
		builder.WriteString(fmt.Sprintf("Last Updated: %s (%s)\n\n", age, lastUpdated.Format("2006-01-02 15:04")))
	}

	builder.WriteString(EndpointsMarkdown(endpoints, time.Now()))

	return builder.String(), nil
}

// EndpointsMarkdown lists endpoints with their schedule and next fetch time
func EndpointsMarkdown(endpoints []*data.Endpoint, now time.Time) string {
	builder := strings.Builder{}
	p := message.NewPrinter(language.English)

	builder.WriteString("## Endpoints\n\n")
	for _, endpoint := range endpoints {
		name := endpoint.Type
		if registration, err := providers.Lookup(endpoint.Type); err == nil {
			name = registration.Info.Name
		}

		zone := endpoint.FetchOffsetTimeZone
		if zone == "" {
			zone = "UTC"
		}

		builder.WriteString(p.Sprintf("  * %d: %s, station %d, every %d minutes at +%d (%s), %d sensors\n",
			endpoint.ID, name, endpoint.StationID, endpoint.FetchIntervalMinutes, endpoint.FetchOffsetMinutes,
			data.ZoneDisplayName(zone), len(endpoint.MappedSensors())))

		if err := endpoint.Validate(); err != nil {
			builder.WriteString(fmt.Sprintf("    * invalid: %s\n", err))
			continue
		}

		if next := data.NextDue(endpoint, now); !next.IsZero() {
			builder.WriteString(fmt.Sprintf("    * next fetch: %s\n", next.UTC().Format("2006-01-02 15:04 MST")))
		}
	}

	return builder.String()
}
