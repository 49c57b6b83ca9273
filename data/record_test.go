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
package data_test

import (
	"errors"
	"math"
	"strings"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/openhydro/teleacq/data"
)

func ts(hour, minute int) time.Time {
	return time.Date(2022, 6, 14, hour, minute, 0, 0, time.UTC)
}

var _ = Describe("Record", func() {
	It("renders the canonical form with a trailing comma", func() {
		Expect(data.Record{Timestamp: ts(8, 10), Value: 1.42}.String()).To(Equal("2022-06-14T08:10:00,1.42,"))
		Expect(data.Record{Timestamp: ts(8, 10), Value: 1.42, Flag: "MISSING"}.String()).To(Equal("2022-06-14T08:10:00,1.42,MISSING"))
		Expect(data.Record{Timestamp: ts(8, 10), Value: math.NaN()}.String()).To(Equal("2022-06-14T08:10:00,,"))
	})

	It("drops the zone of a timestamp", func() {
		athens, err := time.LoadLocation("Europe/Athens")
		Expect(err).NotTo(HaveOccurred())
		record := data.NewRecord(time.Date(2022, 6, 14, 8, 10, 0, 0, athens), 1, "")
		Expect(record.Timestamp).To(Equal(ts(8, 10)))
	})

	Describe("parsing", func() {
		It("reads canonical and HTS style lines", func() {
			records, err := data.ParseRecords(strings.NewReader(
				"2022-06-14T08:10:00,1.42,\n2022-06-14 08:20,2.100000,INVALID\n2022-06-14T08:30,,\n"))
			Expect(err).NotTo(HaveOccurred())
			Expect(records).To(HaveLen(3))
			Expect(records[0]).To(Equal(data.Record{Timestamp: ts(8, 10), Value: 1.42}))
			Expect(records[1]).To(Equal(data.Record{Timestamp: ts(8, 20), Value: 2.1, Flag: "INVALID"}))
			Expect(records[2].Timestamp).To(Equal(ts(8, 30)))
			Expect(math.IsNaN(records[2].Value)).To(BeTrue())
		})

		It("accepts lines without a flag column", func() {
			records, err := data.ParseRecords(strings.NewReader("2022-06-14T08:10:00,1.5\n"))
			Expect(err).NotTo(HaveOccurred())
			Expect(records).To(Equal([]data.Record{{Timestamp: ts(8, 10), Value: 1.5}}))
		})

		It("reads empty input as no records", func() {
			records, err := data.ParseRecords(strings.NewReader(""))
			Expect(err).NotTo(HaveOccurred())
			Expect(records).To(BeEmpty())
		})

		It("rejects garbage", func() {
			_, err := data.ParseRecords(strings.NewReader("<html>not found</html>\n"))
			Expect(errors.Is(err, data.ErrInvalidRecord)).To(BeTrue())

			_, err = data.ParseRecords(strings.NewReader("2022-06-14T08:10:00,abc,\n"))
			Expect(errors.Is(err, data.ErrInvalidRecord)).To(BeTrue())
		})

		It("rejects lines with an extra column", func() {
			var err error
			Expect(func() {
				_, err = data.ParseRecords(strings.NewReader("2022-06-14T08:10,1.5,,extra\n"))
			}).NotTo(Panic())
			Expect(errors.Is(err, data.ErrInvalidRecord)).To(BeTrue())

			_, err = data.ParseRecords(strings.NewReader("2022-06-14T08:00,1,\n2022-06-14 08:10,1.5,FLAG,oops\n"))
			Expect(errors.Is(err, data.ErrInvalidRecord)).To(BeTrue())
			Expect(err.Error()).To(ContainSubstring("line 2"))
		})

		It("requires a value column", func() {
			_, err := data.ParseRecords(strings.NewReader("2022-06-14T08:10\n"))
			Expect(errors.Is(err, data.ErrInvalidRecord)).To(BeTrue())
		})

		It("round trips formatted records", func() {
			original := []data.Record{{Timestamp: ts(8, 10), Value: 1.42}, {Timestamp: ts(8, 20), Value: -3, Flag: "MISSING"}}
			records, err := data.ParseRecords(strings.NewReader(data.FormatRecords(original)))
			Expect(err).NotTo(HaveOccurred())
			Expect(records).To(Equal(original))
		})
	})

	Describe("trimming", func() {
		It("sorts, excludes since, drops duplicate instants and caps the batch", func() {
			records := []data.Record{
				{Timestamp: ts(8, 30), Value: 3},
				{Timestamp: ts(8, 0), Value: 0},
				{Timestamp: ts(8, 10), Value: 1},
				{Timestamp: ts(8, 20), Value: 2},
				{Timestamp: ts(8, 10), Value: 99},
				{Timestamp: ts(8, 40), Value: 4},
			}

			trimmed := data.Trim(records, ts(8, 0), 3)
			Expect(trimmed).To(Equal([]data.Record{
				{Timestamp: ts(8, 10), Value: 1},
				{Timestamp: ts(8, 20), Value: 2},
				{Timestamp: ts(8, 30), Value: 3},
			}))
		})

		It("keeps everything without a cursor or limit", func() {
			records := []data.Record{{Timestamp: ts(8, 10)}, {Timestamp: ts(8, 0)}}
			Expect(data.Trim(records, time.Time{}, 0)).To(HaveLen(2))
		})
	})

	Describe("append checks", func() {
		It("accepts strictly increasing records after the cursor", func() {
			Expect(data.CheckAppend(1, ts(8, 0), []data.Record{{Timestamp: ts(8, 10)}, {Timestamp: ts(8, 20)}})).To(Succeed())
			Expect(data.CheckAppend(1, time.Time{}, nil)).To(Succeed())
		})

		It("rejects duplicates and records at the cursor", func() {
			err := data.CheckAppend(1, ts(8, 0), []data.Record{{Timestamp: ts(8, 0)}})
			Expect(errors.Is(err, data.ErrOutOfOrder)).To(BeTrue())

			err = data.CheckAppend(1, time.Time{}, []data.Record{{Timestamp: ts(8, 10)}, {Timestamp: ts(8, 10)}})
			var appendErr *data.AppendError
			Expect(errors.As(err, &appendErr)).To(BeTrue())
			Expect(appendErr.Timestamp).To(Equal(ts(8, 10)))
		})
	})
})
