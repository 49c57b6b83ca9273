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
// Package errorlog records fetch failures per endpoint so that an operator can
// triage them without access to worker logs. Entries are append-only and are
// read back newest first.
package errorlog

import (
	"context"
	"fmt"
	"time"

	"github.com/openhydro/teleacq/data"
	"github.com/openhydro/teleacq/pkginfo"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const (
	DefaultRecentLimit = 50
	MaxRecentLimit     = 500
)

type Entry struct {
	ID            int64     `db:"id" json:"id"`
	EndpointID    int64     `db:"endpoint_id" json:"endpointId"`
	Timestamp     time.Time `db:"event_time" json:"timestamp"`
	ExceptionName string    `db:"exception_name" json:"exceptionName"`
	Message       string    `db:"message" json:"message"`
	Traceback     string    `db:"traceback" json:"traceback"`
	Version       string    `db:"version" json:"version"`
	CommitID      string    `db:"commit_id" json:"commitId"`
}

// FullMessage formats the entry the way it is shown in listings
func (entry *Entry) FullMessage() string {
	return fmt.Sprintf("%s %s: %s", entry.Timestamp.Format("2006-01-02 15:04:05"), entry.ExceptionName, entry.Message)
}

// FullVersion returns the version followed by the abbreviated commit, or the
// bare version when no commit was recorded
func (entry *Entry) FullVersion() string {
	commit := entry.CommitID
	if commit == "" {
		return entry.Version
	}
	if len(commit) > 10 {
		commit = commit[:10]
	}
	return fmt.Sprintf("%s (%s)", entry.Version, commit)
}

// Store persists entries
type Store interface {
	Insert(ctx context.Context, entry *Entry) (int64, error)
	Recent(ctx context.Context, endpointID int64, limit int) ([]*Entry, error)
}

type Logger struct {
	store Store
	now   func() time.Time
}

func New(store Store) *Logger {
	return &Logger{
		store: store,
		now:   time.Now,
	}
}

// WithClock replaces the clock used to timestamp entries
func (errLog *Logger) WithClock(now func() time.Time) *Logger {
	errLog.now = now
	return errLog
}

// Log creates an entry for err and returns its id. It never fails: problems
// writing the entry are sent to the process log and 0 is returned.
func (errLog *Logger) Log(ctx context.Context, endpoint *data.Endpoint, err error) (id int64) {
	logger := zerolog.Ctx(ctx)
	if logger.GetLevel() == zerolog.Disabled {
		logger = &log.Logger
	}

	defer func() {
		if r := recover(); r != nil {
			logger.Error().Interface("Panic", r).AnErr("Original", err).Msg("could not write error log entry")
			id = 0
		}
	}()

	if err == nil {
		return 0
	}

	entry := &Entry{
		EndpointID:    endpoint.ID,
		Timestamp:     errLog.now().UTC().Truncate(time.Second),
		ExceptionName: ExceptionName(err),
		Message:       err.Error(),
		Traceback:     Traceback(err),
		Version:       pkginfo.VersionOrDev(),
		CommitID:      pkginfo.CommitID(),
	}

	id, insertErr := errLog.store.Insert(ctx, entry)
	if insertErr != nil {
		logger.Error().Err(insertErr).AnErr("Original", err).Int64("EndpointID", endpoint.ID).Msg("could not write error log entry")
		return 0
	}

	entry.ID = id
	logger.Warn().Int64("EndpointID", endpoint.ID).Int64("EntryID", id).Str("ExceptionName", entry.ExceptionName).Msg(entry.Message)
	return id
}

// Recent returns up to limit entries of an endpoint, newest first. A
// non-positive limit means DefaultRecentLimit; larger limits are capped at
// MaxRecentLimit.
func (errLog *Logger) Recent(ctx context.Context, endpointID int64, limit int) ([]*Entry, error) {
	switch {
	case limit <= 0:
		limit = DefaultRecentLimit
	case limit > MaxRecentLimit:
		limit = MaxRecentLimit
	}
	return errLog.store.Recent(ctx, endpointID, limit)
}
