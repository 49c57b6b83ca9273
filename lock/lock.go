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
// Package lock implements the fetch lock: a key-value entry created with an
// atomic create-if-absent and removed when the fetch ends. Entries expire after
// a time-to-live so that a crashed worker cannot hold a lock forever.
package lock

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/openhydro/teleacq/data"
)

var (
	ErrNotOwner = errors.New("lock is owned by someone else")
)

// Locker is implemented by every lock store
type Locker interface {
	// Acquire creates key with owner as its value. It does not wait: if the key
	// exists and has not expired it returns a *data.LockContentionError.
	Acquire(ctx context.Context, key, owner string, ttl time.Duration) error

	// Owner returns the current owner of key, or the empty string if the key
	// is free
	Owner(ctx context.Context, key string) (string, error)

	// Release deletes key if it is still held by owner
	Release(ctx context.Context, key, owner string) error
}

func contention(key, owner string) error {
	return &data.LockContentionError{Key: key, Owner: owner}
}

// WorkerIdentity returns a value that identifies this process in lock entries
func WorkerIdentity() string {
	host, err := os.Hostname()
	if err != nil {
		host = "unknown"
	}
	return fmt.Sprintf("%s-%d-%s", host, os.Getpid(), uuid.New().String()[:8])
}
