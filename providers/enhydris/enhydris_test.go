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
package enhydris_test

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/openhydro/teleacq/data"
	"github.com/openhydro/teleacq/provider"
	"github.com/openhydro/teleacq/providers/enhydris"
)

var _ = Describe("Enhydris driver", func() {
	var (
		server    *httptest.Server
		driver    provider.Driver
		ctx       context.Context
		tsData    string
		dataQuery url.Values
	)

	BeforeEach(func() {
		ctx = context.Background()
		tsData = "Unit=mm\r\nCount=2\r\nTitle=Rain\r\n\r\n2025-09-10 14:51,2.100000,\r\n2025-09-10 15:01,0.000000,MISSING\r\n"

		server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			Expect(r.Header.Get("Authorization")).To(Equal("token secrettoken"))
			w.Header().Set("Content-Type", "application/json")

			switch r.URL.Path {
			case "/api/stations/":
				if r.URL.Query().Get("page") == "2" {
					fmt.Fprint(w, `{"count": 2, "next": null, "results": [{"id": 1335, "name": "Rivendell"}]}`)
					return
				}
				// next links are absolute
				fmt.Fprintf(w, `{"count": 2, "next": "http://%s/api/stations/?page=2", "results": [{"id": 1334, "name": "Hobbiton"}]}`, r.Host)
			case "/api/stations/1334/timeseriesgroups/":
				fmt.Fprint(w, `{"count": 1, "next": null, "results": [{"id": 42, "name": "Rain"}]}`)
			case "/api/stations/1334/timeseriesgroups/42/timeseries/":
				fmt.Fprint(w, `{"count": 2, "next": null, "results": [
					{"id": 7, "type": "Initial", "name": "", "time_step": "10min"},
					{"id": 8, "type": "Aggregated", "name": "daily", "time_step": "1D"}]}`)
			case "/api/stations/1334/timeseriesgroups/42/timeseries/7/data/":
				dataQuery = r.URL.Query()
				w.Header().Set("Content-Type", "text/plain")
				fmt.Fprint(w, tsData)
			default:
				w.WriteHeader(http.StatusNotFound)
			}
		}))

		var err error
		driver, err = enhydris.New(&data.Endpoint{
			ID:              4,
			Type:            enhydris.Name,
			Password:        "secrettoken",
			DeviceLocator:   server.URL + "/",
			RemoteStationID: "1334",
		})
		Expect(err).NotTo(HaveOccurred())
		Expect(driver.Connect(ctx)).To(Succeed())
	})

	AfterEach(func() {
		server.Close()
	})

	It("follows next links until the list is exhausted", func() {
		stations, err := driver.Stations(ctx)
		Expect(err).NotTo(HaveOccurred())
		Expect(stations).To(Equal(map[string]string{"1334": "Hobbiton", "1335": "Rivendell"}))
	})

	It("lists time series of all groups as sensors", func() {
		sensors, err := driver.Sensors(ctx)
		Expect(err).NotTo(HaveOccurred())
		Expect(sensors).To(Equal(map[string]string{
			"42 7": "Rain - Initial  10min",
			"42 8": "Rain - Aggregated daily 1D",
		}))
	})

	It("reads HTS data after the cursor", func() {
		records, err := driver.Measurements(ctx, "42 7", time.Date(2025, 9, 10, 14, 41, 0, 0, time.UTC))
		Expect(err).NotTo(HaveOccurred())
		Expect(data.FormatRecords(records)).To(Equal("2025-09-10T14:51:00,2.1,\n2025-09-10T15:01:00,0,MISSING\n"))
		Expect(dataQuery.Get("fmt")).To(Equal("hts"))
		Expect(dataQuery.Get("start_date")).To(Equal("2025-09-10T14:42:00Z"))
	})

	It("reports garbage as a malformed response", func() {
		tsData = "Unit=mm\r\n\r\n<html>oops</html>\r\n"
		_, err := driver.Measurements(ctx, "42 7", time.Time{})
		Expect(errors.Is(err, data.ErrMalformedResponse)).To(BeTrue())
	})

	It("reports lines with extra columns as a malformed response", func() {
		tsData = "Unit=mm\r\n\r\n2022-06-14 08:10,1.5,FLAG,oops\r\n"
		var err error
		Expect(func() {
			_, err = driver.Measurements(ctx, "42 7", time.Time{})
		}).NotTo(Panic())
		Expect(errors.Is(err, data.ErrMalformedResponse)).To(BeTrue())
	})

	It("rejects sensor ids it did not produce", func() {
		_, err := driver.Measurements(ctx, "nonsense", time.Time{})
		Expect(errors.Is(err, data.ErrMalformedResponse)).To(BeTrue())
	})
})
