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
	"errors"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
)

// NATSLocker keeps locks in a JetStream key-value bucket. The bucket's TTL
// expires entries, so every lock in a bucket has the same time-to-live.
type NATSLocker struct {
	kv jetstream.KeyValue
}

// ConnectNATS connects to url and opens (or creates) the lock bucket
func ConnectNATS(ctx context.Context, url, bucket string, ttl time.Duration) (*NATSLocker, *nats.Conn, error) {
	nc, err := nats.Connect(url, nats.Name("teleacq"))
	if err != nil {
		return nil, nil, err
	}

	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, nil, err
	}

	kv, err := js.CreateOrUpdateKeyValue(ctx, jetstream.KeyValueConfig{
		Bucket:      bucket,
		Description: "fetch locks",
		TTL:         ttl,
		History:     1,
	})
	if err != nil {
		nc.Close()
		return nil, nil, fmt.Errorf("open lock bucket %s: %w", bucket, err)
	}

	return NewNATSLocker(kv), nc, nil
}

func NewNATSLocker(kv jetstream.KeyValue) *NATSLocker {
	return &NATSLocker{kv: kv}
}

// Acquire creates the key. The ttl argument is ignored in favour of the
// bucket's TTL.
func (locker *NATSLocker) Acquire(ctx context.Context, key, owner string, _ time.Duration) error {
	_, err := locker.kv.Create(ctx, key, []byte(owner))
	if errors.Is(err, jetstream.ErrKeyExists) {
		current, ownerErr := locker.Owner(ctx, key)
		if ownerErr != nil {
			return ownerErr
		}
		return contention(key, current)
	}
	return err
}

func (locker *NATSLocker) Owner(ctx context.Context, key string) (string, error) {
	entry, err := locker.kv.Get(ctx, key)
	if errors.Is(err, jetstream.ErrKeyNotFound) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return string(entry.Value()), nil
}

func (locker *NATSLocker) Release(ctx context.Context, key, owner string) error {
	entry, err := locker.kv.Get(ctx, key)
	if errors.Is(err, jetstream.ErrKeyNotFound) {
		return nil
	}
	if err != nil {
		return err
	}

	if string(entry.Value()) != owner {
		return ErrNotOwner
	}

	return locker.kv.Delete(ctx, key, jetstream.LastRevision(entry.Revision()))
}
