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
package meteoview2_test

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"time"

	"github.com/goccy/go-json"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/openhydro/teleacq/data"
	"github.com/openhydro/teleacq/providers/meteoview2"
)

type measurementsRequest struct {
	Sensor   []string `json:"sensor"`
	DateFrom string   `json:"datefrom"`
	TimeFrom string   `json:"timefrom"`
	DateTo   string   `json:"dateto"`
}

const emptyWindow = `{"code": 200, "measurements": [{"total_values": 0, "values": []}]}`

type cloud struct {
	sync.Mutex
	server       *httptest.Server
	windows      []string
	measurements []measurementsRequest
	tokenCode    int
}

func newCloud() *cloud {
	c := &cloud{tokenCode: 200}
	c.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c.Lock()
		defer c.Unlock()

		switch r.URL.Path {
		case "/token":
			fmt.Fprintf(w, `{"code": %d, "token": "sometoken"}`, c.tokenCode)
		case "/stations":
			Expect(r.Header.Get("Authorization")).To(Equal("Bearer sometoken"))
			fmt.Fprint(w, `{"code": 200, "stations": {"0": {"code": "ST1", "title": "Hobbiton"}, "1": {"code": "ST2", "title": "Rivendell"}}}`)
		case "/sensors":
			fmt.Fprint(w, `{"code": 200, "sensors": [{"id": 101, "title": "Temperature"}, {"id": "102", "title": "Humidity"}]}`)
		case "/measurements":
			req := measurementsRequest{}
			Expect(json.NewDecoder(r.Body).Decode(&req)).To(Succeed())
			c.measurements = append(c.measurements, req)

			response := emptyWindow
			if len(c.windows) > 0 {
				response = c.windows[0]
				c.windows = c.windows[1:]
			}
			fmt.Fprint(w, response)
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	return c
}

var _ = Describe("MeteoView2 driver", func() {
	var (
		c      *cloud
		driver *meteoview2.Driver
		ctx    context.Context
		now    time.Time
	)

	BeforeEach(func() {
		ctx = context.Background()
		c = newCloud()
		now = time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
		driver = meteoview2.NewDriver(&data.Endpoint{
			ID:              2,
			Type:            meteoview2.Name,
			Username:        "alice@example.com",
			Password:        "apikey",
			DeviceLocator:   c.server.URL,
			RemoteStationID: "ST1",
		}, func() time.Time { return now })
		Expect(driver.Connect(ctx)).To(Succeed())
	})

	AfterEach(func() {
		c.server.Close()
	})

	It("lists stations and sensors", func() {
		stations, err := driver.Stations(ctx)
		Expect(err).NotTo(HaveOccurred())
		Expect(stations).To(Equal(map[string]string{"ST1": "Hobbiton (ST1)", "ST2": "Rivendell (ST2)"}))

		sensors, err := driver.Sensors(ctx)
		Expect(err).NotTo(HaveOccurred())
		Expect(sensors).To(Equal(map[string]string{"101": "Temperature", "102": "Humidity"}))
	})

	It("moves through empty windows until it finds data", func() {
		c.windows = []string{emptyWindow, emptyWindow, `{"code": 200, "measurements": [{"total_values": 2, "values": [
			{"year": 2022, "month": 11, "day": 30, "hour": 10, "minute": 0, "mvalue": 12.5},
			{"year": "2022", "month": "11", "day": "30", "hour": "10", "minute": "10", "mvalue": "13.1"}
		]}]}`}

		records, err := driver.Measurements(ctx, "101", time.Date(2021, 12, 31, 23, 59, 0, 0, time.UTC))
		Expect(err).NotTo(HaveOccurred())
		Expect(c.measurements).To(HaveLen(3))
		Expect(records).To(Equal([]data.Record{
			{Timestamp: time.Date(2022, 12, 30, 10, 0, 0, 0, time.UTC), Value: 12.5},
			{Timestamp: time.Date(2022, 12, 30, 10, 10, 0, 0, time.UTC), Value: 13.1},
		}))

		Expect(c.measurements[0]).To(Equal(measurementsRequest{
			Sensor: []string{"101"}, DateFrom: "2022-01-01", TimeFrom: "00:00", DateTo: "2022-06-30",
		}))
		Expect(c.measurements[1].DateFrom).To(Equal("2022-06-30"))
		Expect(c.measurements[1].TimeFrom).To(Equal("00:01"))
	})

	It("stops once the window start passes tomorrow", func() {
		records, err := driver.Measurements(ctx, "101", time.Date(2023, 6, 1, 0, 0, 0, 0, time.UTC))
		Expect(err).NotTo(HaveOccurred())
		Expect(records).To(BeEmpty())
		// 2023-06-01, 2023-11-28; the third window would start after 2024-01-02
		Expect(c.measurements).To(HaveLen(2))
	})

	It("starts in 1990 for an empty series", func() {
		c.windows = []string{`{"code": 200, "measurements": [{"total_values": 1, "values": [
			{"year": 1990, "month": 0, "day": 2, "hour": 0, "minute": 0, "mvalue": 1}]}]}`}
		records, err := driver.Measurements(ctx, "101", time.Time{})
		Expect(err).NotTo(HaveOccurred())
		Expect(records).To(HaveLen(1))
		Expect(c.measurements[0].DateFrom).To(Equal("1990-01-01"))
	})

	It("keeps the first of two readings in the same minute", func() {
		c.windows = []string{`{"code": 200, "measurements": [{"total_values": 2, "values": [
			{"year": 2023, "month": 5, "day": 1, "hour": 8, "minute": 0, "mvalue": 1},
			{"year": 2023, "month": 5, "day": 1, "hour": 8, "minute": 0, "mvalue": 2}]}]}`}
		records, err := driver.Measurements(ctx, "101", time.Date(2023, 5, 1, 0, 0, 0, 0, time.UTC))
		Expect(err).NotTo(HaveOccurred())
		Expect(records).To(Equal([]data.Record{{Timestamp: time.Date(2023, 6, 1, 8, 0, 0, 0, time.UTC), Value: 1}}))
	})

	It("treats a non-200 code in the body as an error", func() {
		c.windows = []string{`{"code": 500, "message": "internal"}`}
		_, err := driver.Measurements(ctx, "101", time.Date(2023, 5, 1, 0, 0, 0, 0, time.UTC))
		Expect(errors.Is(err, data.ErrConnection)).To(BeTrue())
		Expect(err.Error()).To(ContainSubstring("500 internal"))
	})

	It("treats a body without a code as malformed", func() {
		c.windows = []string{`{"measurements": []}`}
		_, err := driver.Measurements(ctx, "101", time.Date(2023, 5, 1, 0, 0, 0, 0, time.UTC))
		Expect(errors.Is(err, data.ErrMalformedResponse)).To(BeTrue())
	})

	It("reports rejected credentials", func() {
		c.tokenCode = 401
		other := meteoview2.NewDriver(&data.Endpoint{DeviceLocator: c.server.URL}, time.Now)
		Expect(errors.Is(other.Connect(ctx), data.ErrAuthentication)).To(BeTrue())
	})
})
