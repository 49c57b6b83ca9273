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
package data

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"math"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/gocarina/gocsv"
)

// RecordTimeLayout is the timestamp layout of the canonical text format
const RecordTimeLayout = "2006-01-02T15:04:05"

var (
	ErrInvalidRecord = errors.New("invalid record")

	recordTimeLayouts = []string{
		RecordTimeLayout,
		"2006-01-02T15:04",
		"2006-01-02 15:04:05",
		"2006-01-02 15:04",
	}
)

// Record is a single reading. Timestamps are naive: the wall clock of the
// remote system stored in UTC.
type Record struct {
	Timestamp time.Time
	Value     float64
	Flag      string
}

// NewRecord builds a record from a wall clock, dropping any zone information
func NewRecord(timestamp time.Time, value float64, flag string) Record {
	return Record{
		Timestamp: Naive(timestamp),
		Value:     value,
		Flag:      flag,
	}
}

// Naive keeps the wall clock of t and moves it to UTC
func Naive(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), t.Hour(), t.Minute(), t.Second(), 0, time.UTC)
}

// String renders the record in the canonical `timestamp,value,flag` form. An
// empty flag leaves a trailing comma and a missing value is written as an
// empty field.
func (record Record) String() string {
	value := ""
	if !math.IsNaN(record.Value) {
		value = strconv.FormatFloat(record.Value, 'f', -1, 64)
	}
	return fmt.Sprintf("%s,%s,%s", record.Timestamp.Format(RecordTimeLayout), value, record.Flag)
}

// FormatRecords renders records one per line in the canonical form
func FormatRecords(records []Record) string {
	builder := strings.Builder{}
	for _, record := range records {
		builder.WriteString(record.String())
		builder.WriteByte('\n')
	}
	return builder.String()
}

type csvRecord struct {
	Timestamp string `csv:"timestamp"`
	Value     string `csv:"value"`
	Flag      string `csv:"flag"`
}

// ParseRecords reads canonical lines. The flag column, and the trailing comma
// in front of it, may be omitted. Lines with fewer than two or more than
// three fields are rejected.
func ParseRecords(in io.Reader) ([]Record, error) {
	reader := csv.NewReader(in)
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true

	var rows []*csvRecord
	if err := gocsv.UnmarshalCSVWithoutHeaders(&canonicalReader{Reader: reader}, &rows); err != nil {
		if errors.Is(err, gocsv.ErrEmptyCSVFile) {
			return []Record{}, nil
		}
		return nil, fmt.Errorf("%w: %w", ErrInvalidRecord, err)
	}

	records := make([]Record, 0, len(rows))
	for idx, row := range rows {
		record, err := row.record()
		if err != nil {
			return nil, fmt.Errorf("%w: line %d: %w", ErrInvalidRecord, idx+1, err)
		}
		records = append(records, record)
	}

	return records, nil
}

// canonicalReader checks the field count of every row before gocsv maps it
// and pads rows without a flag column.
type canonicalReader struct {
	*csv.Reader
	line int
}

func (reader *canonicalReader) Read() ([]string, error) {
	row, err := reader.Reader.Read()
	if err != nil {
		return nil, err
	}
	reader.line++

	switch len(row) {
	case 2:
		return append(row, ""), nil
	case 3:
		return row, nil
	default:
		return nil, fmt.Errorf("line %d: expected 2 or 3 fields, got %d", reader.line, len(row))
	}
}

func (reader *canonicalReader) ReadAll() ([][]string, error) {
	var rows [][]string
	for {
		row, err := reader.Read()
		if errors.Is(err, io.EOF) {
			return rows, nil
		}
		if err != nil {
			return nil, err
		}
		rows = append(rows, row)
	}
}

func (row *csvRecord) record() (Record, error) {
	timestamp, err := ParseTimestamp(row.Timestamp)
	if err != nil {
		return Record{}, err
	}

	value := math.NaN()
	if trimmed := strings.TrimSpace(row.Value); trimmed != "" {
		if value, err = strconv.ParseFloat(trimmed, 64); err != nil {
			return Record{}, err
		}
	}

	return Record{Timestamp: timestamp, Value: value, Flag: strings.TrimSpace(row.Flag)}, nil
}

// ParseTimestamp parses a naive timestamp in any of the layouts accepted by
// the canonical format
func ParseTimestamp(value string) (time.Time, error) {
	value = strings.TrimSpace(value)
	for _, layout := range recordTimeLayouts {
		if t, err := time.Parse(layout, value); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("cannot parse timestamp %q", value)
}

// Trim enforces the fetch contract on a batch of records: they are sorted by
// timestamp, records at or before since are dropped, only the first record of
// every instant is kept and at most limit records are returned. A zero since
// or a non-positive limit disables the respective check.
func Trim(records []Record, since time.Time, limit int) []Record {
	sort.SliceStable(records, func(i, j int) bool {
		return records[i].Timestamp.Before(records[j].Timestamp)
	})

	trimmed := make([]Record, 0, len(records))
	for _, record := range records {
		if !since.IsZero() && !record.Timestamp.After(since) {
			continue
		}

		if len(trimmed) > 0 && trimmed[len(trimmed)-1].Timestamp.Equal(record.Timestamp) {
			continue
		}

		trimmed = append(trimmed, record)
		if limit > 0 && len(trimmed) == limit {
			break
		}
	}

	return trimmed
}

// CheckAppend verifies that records can be appended to a series whose last
// stored timestamp is last. Every record must be strictly newer than the one
// before it.
func CheckAppend(seriesID int64, last time.Time, records []Record) error {
	prev := last
	for _, record := range records {
		if !prev.IsZero() && !record.Timestamp.After(prev) {
			return &AppendError{SeriesID: seriesID, Timestamp: record.Timestamp, Previous: prev}
		}
		prev = record.Timestamp
	}
	return nil
}
