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
package influxdb_test

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/openhydro/teleacq/data"
	"github.com/openhydro/teleacq/provider"
	"github.com/openhydro/teleacq/providers/influxdb"
)

var _ = Describe("InfluxDB driver", func() {
	var (
		server   *httptest.Server
		driver   provider.Driver
		ctx      context.Context
		lastBody string
		response string
		endpoint *data.Endpoint
	)

	BeforeEach(func() {
		ctx = context.Background()
		server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			Expect(r.URL.Path).To(Equal("/api/v2/query"))
			Expect(r.URL.Query().Get("org")).To(Equal("myorg"))
			Expect(r.Header.Get("Authorization")).To(Equal("Token secrettoken"))
			Expect(r.Header.Get("Accept")).To(Equal("application/csv"))
			Expect(r.Header.Get("Content-Type")).To(Equal("application/vnd.flux"))

			body, err := io.ReadAll(r.Body)
			Expect(err).NotTo(HaveOccurred())
			lastBody = string(body)
			fmt.Fprint(w, response)
		}))

		endpoint = &data.Endpoint{
			ID:              3,
			Type:            influxdb.Name,
			Username:        "myorg",
			Password:        "secrettoken",
			DeviceLocator:   server.URL + "/api/v2/",
			RemoteStationID: "hobbiton",
			AdditionalConfig: map[string]string{
				"bucket":      "weather",
				"measurement": "meteo",
				"station_tag": "station",
			},
		}

		var err error
		driver, err = influxdb.New(endpoint)
		Expect(err).NotTo(HaveOccurred())
		Expect(driver.Connect(ctx)).To(Succeed())
	})

	AfterEach(func() {
		server.Close()
	})

	It("refuses endpoints without the InfluxDB settings", func() {
		delete(endpoint.AdditionalConfig, "bucket")
		_, err := influxdb.New(endpoint)
		Expect(errors.Is(err, data.ErrInvalidConfiguration)).To(BeTrue())
		Expect(errors.Is(err, influxdb.ErrMissingSetting)).To(BeTrue())
	})

	It("lists distinct station tag values as stations", func() {
		response = ",result,table,_value\r\n,_result,0,hobbiton\r\n,_result,0,rivendell\r\n"
		stations, err := driver.Stations(ctx)
		Expect(err).NotTo(HaveOccurred())
		Expect(stations).To(Equal(map[string]string{"hobbiton": "", "rivendell": ""}))
		Expect(lastBody).To(ContainSubstring(`|> distinct(column: "station")`))
	})

	It("lists field keys as sensors", func() {
		response = ",result,table,_value\r\n,_result,0,temperature\r\n"
		sensors, err := driver.Sensors(ctx)
		Expect(err).NotTo(HaveOccurred())
		Expect(sensors).To(Equal(map[string]string{"temperature": ""}))
		Expect(lastBody).To(ContainSubstring("schema.fieldKeys("))
	})

	It("queries from one minute after the cursor", func() {
		response = ",result,table,_time,_value\r\n" +
			",_result,0,2023-06-14T08:10:00Z,1.42\r\n" +
			",_result,0,2023-06-14T08:20:00Z,1.43\r\n"

		records, err := driver.Measurements(ctx, "temperature", time.Date(2023, 6, 14, 8, 0, 0, 0, time.UTC))
		Expect(err).NotTo(HaveOccurred())
		Expect(data.FormatRecords(records)).To(Equal("2023-06-14T08:10:00,1.42,\n2023-06-14T08:20:00,1.43,\n"))

		Expect(lastBody).To(ContainSubstring("|> range(start: 2023-06-14T08:01:00Z)"))
		Expect(lastBody).To(ContainSubstring(`|> filter(fn: (r) => r["station"] == "hobbiton")`))
		Expect(lastBody).To(ContainSubstring(`|> filter(fn: (r) => r._field == "temperature")`))
		Expect(lastBody).To(ContainSubstring("|> limit(n: 20000)"))
	})

	It("starts in 1990 for an empty series", func() {
		response = ""
		records, err := driver.Measurements(ctx, "temperature", time.Time{})
		Expect(err).NotTo(HaveOccurred())
		Expect(records).To(BeEmpty())
		Expect(lastBody).To(ContainSubstring("|> range(start: 1990-01-01T00:00:00Z)"))
	})

	It("reports unparseable timestamps as malformed", func() {
		response = ",result,table,_time,_value\r\n,_result,0,yesterday,1.42\r\n"
		_, err := driver.Measurements(ctx, "temperature", time.Time{})
		Expect(errors.Is(err, data.ErrMalformedResponse)).To(BeTrue())
	})
})
