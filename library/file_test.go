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
package library_test

import (
	"context"
	"os"
	"path/filepath"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/openhydro/teleacq/data"
	"github.com/openhydro/teleacq/fetch"
	"github.com/openhydro/teleacq/library"
)

const tomlEndpoints = `
[[endpoints]]
id = 2
station_id = 20
type = "meteoview2"
username = "user"
password = "secret"
fetch_interval_minutes = 30
fetch_offset_minutes = 5
fetch_offset_time_zone = "Europe/Athens"

[endpoints.sensors]
"101" = 1
"102" = 0

[[endpoints]]
id = 1
station_id = 10
type = "addupi"
device_locator = "https://gateway.example.com"
fetch_interval_minutes = 60

[endpoints.additional_config]
verify_tls = "true"
`

const yamlEndpoints = `
endpoints:
  - id: 7
    station_id: 70
    type: enhydris
    password: token
    device_locator: https://peer.example.com/api
    fetch_interval_minutes: 10
    fetch_offset_minutes: 3
    sensors:
      "1 2": 5
`

var _ = Describe("FileSource", func() {
	var dir string

	BeforeEach(func() {
		dir = GinkgoT().TempDir()
	})

	write := func(name, contents string) string {
		path := filepath.Join(dir, name)
		Expect(os.WriteFile(path, []byte(contents), 0o600)).To(Succeed())
		return path
	}

	It("reads TOML endpoint files", func() {
		source := library.NewFileSource(write("endpoints.toml", tomlEndpoints))

		endpoints, err := source.Endpoints(context.Background())
		Expect(err).NotTo(HaveOccurred())
		Expect(endpoints).To(HaveLen(2))

		Expect(endpoints[0].ID).To(Equal(int64(1)))
		Expect(endpoints[0].Config("verify_tls")).To(Equal("true"))

		Expect(endpoints[1].Password).To(Equal("secret"))
		Expect(endpoints[1].MappedSensors()).To(Equal([]data.SensorMapping{{SensorID: "101", SeriesID: 1}}))
		Expect(endpoints[1].Validate()).To(Succeed())
	})

	It("reads YAML endpoint files", func() {
		source := library.NewFileSource(write("endpoints.yaml", yamlEndpoints))

		endpoint, err := source.Endpoint(context.Background(), 7)
		Expect(err).NotTo(HaveOccurred())
		Expect(endpoint.Type).To(Equal("enhydris"))
		Expect(endpoint.Sensors).To(HaveKeyWithValue("1 2", int64(5)))

		_, err = source.Endpoint(context.Background(), 8)
		Expect(err).To(MatchError(fetch.ErrEndpointNotFound))
	})

	It("refuses unknown formats", func() {
		source := library.NewFileSource(write("endpoints.ini", "id=1"))
		_, err := source.Endpoints(context.Background())
		Expect(err).To(MatchError(library.ErrUnknownFormat))
	})

	It("lists the next fetch of every endpoint", func() {
		endpoints, err := library.ParseEndpoints(".toml", []byte(tomlEndpoints))
		Expect(err).NotTo(HaveOccurred())

		markdown := library.EndpointsMarkdown(endpoints, time.Date(2024, 1, 10, 8, 0, 30, 0, time.UTC))
		Expect(markdown).To(ContainSubstring("1: Adcon addUPI"))
		Expect(markdown).To(ContainSubstring("next fetch: 2024-01-10 09:00 UTC"))
	})
})
