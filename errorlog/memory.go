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
package errorlog

import (
	"context"
	"sync"
)

// MemoryStore keeps entries in process memory
type MemoryStore struct {
	mu      sync.Mutex
	entries []*Entry
	nextID  int64
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func (store *MemoryStore) Insert(ctx context.Context, entry *Entry) (int64, error) {
	store.mu.Lock()
	defer store.mu.Unlock()

	store.nextID++
	saved := *entry
	saved.ID = store.nextID
	store.entries = append(store.entries, &saved)

	return saved.ID, nil
}

func (store *MemoryStore) Recent(ctx context.Context, endpointID int64, limit int) ([]*Entry, error) {
	store.mu.Lock()
	defer store.mu.Unlock()

	result := []*Entry{}
	for idx := len(store.entries) - 1; idx >= 0 && len(result) < limit; idx-- {
		if store.entries[idx].EndpointID == endpointID {
			entry := *store.entries[idx]
			result = append(result, &entry)
		}
	}

	return result, nil
}

// Len returns the number of stored entries across all endpoints
func (store *MemoryStore) Len() int {
	store.mu.Lock()
	defer store.mu.Unlock()
	return len(store.entries)
}
