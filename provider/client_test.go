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
package provider_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/openhydro/teleacq/data"
	"github.com/openhydro/teleacq/provider"
)

var _ = Describe("Client", func() {
	var (
		server *httptest.Server
		status int
		agent  string
	)

	BeforeEach(func() {
		status = http.StatusOK
		server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			agent = r.Header.Get("User-Agent")
			w.WriteHeader(status)
		}))
	})

	AfterEach(func() {
		server.Close()
	})

	get := func() error {
		client := provider.NewClient("fake", &data.Endpoint{ID: 1}, provider.WithBaseURL(server.URL))
		resp, err := client.R(context.Background()).Get("/data")
		return client.Check("measurements", resp, err)
	}

	It("accepts success responses", func() {
		Expect(get()).To(Succeed())
		Expect(agent).To(Equal("teleacq"))
	})

	DescribeTable("classifies failed responses",
		func(code int, kind error) {
			status = code
			err := get()
			Expect(errors.Is(err, kind)).To(BeTrue())
			Expect(errors.Is(err, provider.ErrStatus)).To(BeTrue())

			var driverErr *data.Error
			Expect(errors.As(err, &driverErr)).To(BeTrue())
			Expect(driverErr.Provider).To(Equal("fake"))
			Expect(driverErr.Op).To(Equal("measurements"))
		},
		Entry("unauthorized", http.StatusUnauthorized, data.ErrAuthentication),
		Entry("forbidden", http.StatusForbidden, data.ErrAuthentication),
		Entry("not found", http.StatusNotFound, data.ErrConnection),
		Entry("server error", http.StatusBadGateway, data.ErrConnection),
	)

	It("keeps credentials out of transport errors", func() {
		client := provider.NewClient("fake", &data.Endpoint{ID: 1})
		resp, err := client.R(context.Background()).Get("http://127.0.0.1:1/addUPI?function=login&user=admin&passwd=hunter2")
		err = client.Check("connect", resp, err)

		Expect(errors.Is(err, data.ErrConnection)).To(BeTrue())
		Expect(err.Error()).NotTo(ContainSubstring("hunter2"))
	})

	It("reports malformed responses", func() {
		client := provider.NewClient("fake", &data.Endpoint{ID: 1})
		Expect(errors.Is(client.Malformedf("stations", "missing %s", "results"), data.ErrMalformedResponse)).To(BeTrue())
	})
})

var _ = Describe("Info", func() {
	It("falls back to generic credential labels", func() {
		username, password, locator := provider.Info{PasswordLabel: "API token"}.Labels()
		Expect(username).To(Equal("Username"))
		Expect(password).To(Equal("API token"))
		Expect(locator).To(Equal("URL"))
	})
})
