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
// Package fetch runs endpoint fetch cycles. A Dispatcher decides every minute
// which endpoints are due and hands them to a bounded pool of Worker runs; a
// Worker holds the endpoint's fetch lock while it copies new readings of every
// mapped sensor into the series store.
package fetch

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/openhydro/teleacq/data"
)

var (
	ErrEndpointNotFound = errors.New("endpoint not found")
)

// EndpointSource provides the endpoint configurations. It is read-only to the
// fetcher.
type EndpointSource interface {
	Endpoints(ctx context.Context) ([]*data.Endpoint, error)
	Endpoint(ctx context.Context, id int64) (*data.Endpoint, error)
}

// SeriesStore is the downstream store of time series records
type SeriesStore interface {
	// LastTimestamp returns the timestamp of the newest record of a series.
	// The boolean is false for an empty series.
	LastTimestamp(ctx context.Context, seriesID int64) (time.Time, bool, error)

	// Append adds records to the end of a series. Appending nothing is a
	// no-op; records not strictly newer than their predecessor are refused
	// with a *data.AppendError.
	Append(ctx context.Context, seriesID int64, records []data.Record) error
}

// Pinger is notified about the start and the end of every fetch cycle of an
// endpoint with a health check
type Pinger interface {
	Start(ctx context.Context, checkID string) error
	Ping(ctx context.Context, checkID string, failed bool) error
}

// StaticSource serves a fixed list of endpoints
type StaticSource struct {
	endpoints []*data.Endpoint
}

func NewStaticSource(endpoints ...*data.Endpoint) *StaticSource {
	sorted := make([]*data.Endpoint, len(endpoints))
	copy(sorted, endpoints)
	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i].ID < sorted[j].ID
	})

	return &StaticSource{endpoints: sorted}
}

func (source *StaticSource) Endpoints(ctx context.Context) ([]*data.Endpoint, error) {
	return source.endpoints, nil
}

func (source *StaticSource) Endpoint(ctx context.Context, id int64) (*data.Endpoint, error) {
	for _, endpoint := range source.endpoints {
		if endpoint.ID == id {
			return endpoint, nil
		}
	}
	return nil, fmt.Errorf("%w: %d", ErrEndpointNotFound, id)
}

// MemoryStore keeps series in process memory
type MemoryStore struct {
	mu     sync.Mutex
	series map[int64][]data.Record
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{series: make(map[int64][]data.Record)}
}

func (store *MemoryStore) LastTimestamp(ctx context.Context, seriesID int64) (time.Time, bool, error) {
	store.mu.Lock()
	defer store.mu.Unlock()

	records := store.series[seriesID]
	if len(records) == 0 {
		return time.Time{}, false, nil
	}
	return records[len(records)-1].Timestamp, true, nil
}

func (store *MemoryStore) Append(ctx context.Context, seriesID int64, records []data.Record) error {
	if len(records) == 0 {
		return nil
	}

	store.mu.Lock()
	defer store.mu.Unlock()

	existing := store.series[seriesID]
	var last time.Time
	if len(existing) > 0 {
		last = existing[len(existing)-1].Timestamp
	}

	if err := data.CheckAppend(seriesID, last, records); err != nil {
		return err
	}

	store.series[seriesID] = append(existing, records...)
	return nil
}

// Records returns a copy of a series
func (store *MemoryStore) Records(seriesID int64) []data.Record {
	store.mu.Lock()
	defer store.mu.Unlock()

	records := make([]data.Record, len(store.series[seriesID]))
	copy(records, store.series[seriesID])
	return records
}
