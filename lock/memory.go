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
package lock

import (
	"context"
	"sync"
	"time"
)

type memoryEntry struct {
	owner   string
	expires time.Time
}

// MemoryLocker keeps locks in process memory. It only guards workers of a
// single process.
type MemoryLocker struct {
	mu      sync.Mutex
	entries map[string]memoryEntry
	now     func() time.Time
}

func NewMemoryLocker() *MemoryLocker {
	return &MemoryLocker{
		entries: make(map[string]memoryEntry),
		now:     time.Now,
	}
}

// WithClock replaces the clock used to expire entries
func (locker *MemoryLocker) WithClock(now func() time.Time) *MemoryLocker {
	locker.now = now
	return locker
}

func (locker *MemoryLocker) Acquire(ctx context.Context, key, owner string, ttl time.Duration) error {
	locker.mu.Lock()
	defer locker.mu.Unlock()

	now := locker.now()
	if entry, ok := locker.entries[key]; ok && now.Before(entry.expires) {
		return contention(key, entry.owner)
	}

	locker.entries[key] = memoryEntry{owner: owner, expires: now.Add(ttl)}
	return nil
}

func (locker *MemoryLocker) Owner(ctx context.Context, key string) (string, error) {
	locker.mu.Lock()
	defer locker.mu.Unlock()

	entry, ok := locker.entries[key]
	if !ok || !locker.now().Before(entry.expires) {
		return "", nil
	}
	return entry.owner, nil
}

func (locker *MemoryLocker) Release(ctx context.Context, key, owner string) error {
	locker.mu.Lock()
	defer locker.mu.Unlock()

	entry, ok := locker.entries[key]
	if !ok {
		return nil
	}

	if entry.owner != owner {
		return ErrNotOwner
	}

	delete(locker.entries, key)
	return nil
}
