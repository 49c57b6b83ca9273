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
package addupi_test

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/openhydro/teleacq/data"
	"github.com/openhydro/teleacq/provider"
	"github.com/openhydro/teleacq/providers/addupi"
)

type gateway struct {
	sync.Mutex
	server   *httptest.Server
	requests []url.Values
	getdata  string
	status   int
}

func newGateway() *gateway {
	gw := &gateway{status: http.StatusOK}
	gw.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gw.Lock()
		defer gw.Unlock()

		Expect(r.URL.Path).To(Equal("/addUPI"))
		gw.requests = append(gw.requests, r.URL.Query())

		if gw.status != http.StatusOK {
			w.WriteHeader(gw.status)
			return
		}

		switch r.URL.Query().Get("function") {
		case "login":
			fmt.Fprint(w, "<response><result><string>topsecretsessionid</string></result></response>")
		case "getconfig":
			fmt.Fprint(w, `<response>
  <node class='DEVICE' id='1852' name='Hobbiton' subclass=''></node>
  <node class='DEVICE' id='823' name='Rivendell' subclass='station'>
    <nodes>
      <node id='42a' name='temperature'></node>
      <node id='43b' name='humidity'></node>
    </nodes>
  </node>
</response>`)
		case "getdata":
			fmt.Fprint(w, gw.getdata)
		}
	}))
	return gw
}

func (gw *gateway) last() url.Values {
	gw.Lock()
	defer gw.Unlock()
	return gw.requests[len(gw.requests)-1]
}

func readings(values ...string) string {
	return "<response><node>" + strings.Join(values, "") + "</node></response>"
}

var _ = Describe("addUPI driver", func() {
	var (
		gw     *gateway
		driver provider.Driver
		ctx    context.Context
	)

	BeforeEach(func() {
		ctx = context.Background()
		gw = newGateway()
		gw.getdata = readings("<v t='1655194200' s='0'>1.42</v>", "<v t='+600' s='0'>1.43</v>")

		var err error
		driver, err = addupi.New(&data.Endpoint{
			ID:              1,
			Type:            addupi.Name,
			Username:        "alice",
			Password:        "topsecretpassword",
			DeviceLocator:   gw.server.URL,
			RemoteStationID: "823",
		})
		Expect(err).NotTo(HaveOccurred())
	})

	AfterEach(func() {
		gw.server.Close()
	})

	It("logs on and passes the session id with later requests", func() {
		Expect(driver.Connect(ctx)).To(Succeed())
		login := gw.last()
		Expect(login.Get("user")).To(Equal("alice"))
		Expect(login.Get("passwd")).To(Equal("topsecretpassword"))

		_, err := driver.Stations(ctx)
		Expect(err).NotTo(HaveOccurred())
		Expect(gw.last().Get("session-id")).To(Equal("topsecretsessionid"))
	})

	It("connects only once", func() {
		Expect(driver.Connect(ctx)).To(Succeed())
		Expect(driver.Connect(ctx)).To(Succeed())
		Expect(gw.requests).To(HaveLen(1))
	})

	It("lists devices as stations, with their subclass", func() {
		Expect(driver.Connect(ctx)).To(Succeed())
		stations, err := driver.Stations(ctx)
		Expect(err).NotTo(HaveOccurred())
		Expect(stations).To(Equal(map[string]string{"1852": "Hobbiton", "823": "Rivendell [station]"}))
	})

	It("lists the child nodes of the station as sensors", func() {
		Expect(driver.Connect(ctx)).To(Succeed())
		sensors, err := driver.Sensors(ctx)
		Expect(err).NotTo(HaveOccurred())
		Expect(sensors).To(Equal(map[string]string{"42a": "temperature", "43b": "humidity"}))
	})

	It("reconstructs relative timestamps", func() {
		Expect(driver.Connect(ctx)).To(Succeed())
		records, err := driver.Measurements(ctx, "8231", time.Date(2022, 6, 14, 8, 0, 0, 0, time.UTC))
		Expect(err).NotTo(HaveOccurred())
		Expect(data.FormatRecords(records)).To(Equal("2022-06-14T08:10:00,1.42,\n2022-06-14T08:20:00,1.43,\n"))

		query := gw.last()
		Expect(query.Get("id")).To(Equal("8231"))
		Expect(query.Get("df")).To(Equal("time_t"))
		Expect(query.Get("date")).To(Equal("1655193600"))
		Expect(query.Get("slots")).To(Equal("10000"))
	})

	It("starts at 1990 when the series is empty", func() {
		Expect(driver.Connect(ctx)).To(Succeed())
		_, err := driver.Measurements(ctx, "8231", time.Time{})
		Expect(err).NotTo(HaveOccurred())
		Expect(gw.last().Get("date")).To(Equal("631152000"))
	})

	It("never returns the cursor itself", func() {
		Expect(driver.Connect(ctx)).To(Succeed())
		records, err := driver.Measurements(ctx, "8231", time.Date(2022, 6, 14, 8, 10, 0, 0, time.UTC))
		Expect(err).NotTo(HaveOccurred())
		Expect(records).To(HaveLen(1))
		Expect(records[0].Timestamp).To(Equal(time.Date(2022, 6, 14, 8, 20, 0, 0, time.UTC)))
	})

	DescribeTable("maps status values to flags",
		func(status, flag string) {
			gw.getdata = readings(fmt.Sprintf("<v t='1655194200' s='%s'>1.42</v>", status))
			Expect(driver.Connect(ctx)).To(Succeed())
			records, err := driver.Measurements(ctx, "8231", time.Time{})
			Expect(err).NotTo(HaveOccurred())
			Expect(data.FormatRecords(records)).To(Equal("2022-06-14T08:10:00,1.42," + flag + "\n"))
		},
		Entry("valid", "0", ""),
		Entry("invalid", "1", "INVALID"),
		Entry("invalid, second kind", "2", "INVALID"),
		Entry("missing", "-1", "MISSING"),
		Entry("missing, second kind", "-99", "MISSING"),
	)

	DescribeTable("refuses unknown status values",
		func(reading, message string) {
			gw.getdata = readings(reading)
			Expect(driver.Connect(ctx)).To(Succeed())
			_, err := driver.Measurements(ctx, "8231", time.Time{})
			Expect(errors.Is(err, data.ErrUnsupportedRecord)).To(BeTrue())
			Expect(err.Error()).To(ContainSubstring(message))
		},
		Entry("3", "<v t='1655194200' s='3'>1.42</v>", `invalid status value (s="3")`),
		Entry("-100", "<v t='1655194200' s='-100'>1.42</v>", `invalid status value (s="-100")`),
		Entry("text", "<v t='1655194200' s='hello'>1.42</v>", `invalid status value (s="hello")`),
		Entry("missing", "<v t='1655194200'>1.42</v>", `invalid status value (s="None")`),
	)

	It("reports bad status codes as connection errors without leaking the password", func() {
		gw.status = http.StatusBadGateway
		err := driver.Connect(ctx)
		Expect(errors.Is(err, data.ErrConnection)).To(BeTrue())
		Expect(err.Error()).NotTo(ContainSubstring("topsecretpassword"))
	})

	It("reports unparseable responses as malformed", func() {
		gw.getdata = "this is not xml"
		Expect(driver.Connect(ctx)).To(Succeed())
		_, err := driver.Measurements(ctx, "8231", time.Time{})
		Expect(errors.Is(err, data.ErrMalformedResponse)).To(BeTrue())
	})
})
