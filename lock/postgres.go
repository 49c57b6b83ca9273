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
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// Querier is the subset of pgxpool.Pool used by PostgresLocker
type Querier interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// PostgresLocker keeps locks in the fetch_locks table. An expired row is taken
// over in the same statement that would otherwise insert it.
type PostgresLocker struct {
	db Querier
}

func NewPostgresLocker(db Querier) *PostgresLocker {
	return &PostgresLocker{db: db}
}

func (locker *PostgresLocker) Acquire(ctx context.Context, key, owner string, ttl time.Duration) error {
	var holder string
	err := locker.db.QueryRow(ctx, `INSERT INTO fetch_locks (key, owner, expires_at)
VALUES ($1, $2, now() + make_interval(secs => $3))
ON CONFLICT (key) DO UPDATE SET owner = EXCLUDED.owner, expires_at = EXCLUDED.expires_at
WHERE fetch_locks.expires_at <= now()
RETURNING owner`, key, owner, ttl.Seconds()).Scan(&holder)

	if errors.Is(err, pgx.ErrNoRows) {
		current, ownerErr := locker.Owner(ctx, key)
		if ownerErr != nil {
			return ownerErr
		}
		return contention(key, current)
	}

	return err
}

func (locker *PostgresLocker) Owner(ctx context.Context, key string) (string, error) {
	var owner string
	err := locker.db.QueryRow(ctx, "SELECT owner FROM fetch_locks WHERE key = $1 AND expires_at > now()", key).Scan(&owner)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", nil
	}
	return owner, err
}

func (locker *PostgresLocker) Release(ctx context.Context, key, owner string) error {
	tag, err := locker.db.Exec(ctx, "DELETE FROM fetch_locks WHERE key = $1 AND owner = $2", key, owner)
	if err != nil {
		return err
	}

	if tag.RowsAffected() == 0 {
		current, err := locker.Owner(ctx, key)
		if err != nil {
			return err
		}
		if current != "" {
			return ErrNotOwner
		}
	}

	return nil
}
