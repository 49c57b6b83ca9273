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
	"errors"
	"fmt"
	"strings"
	"time"
)

// Error kinds reported by provider drivers
var (
	ErrConnection        = errors.New("connection error")
	ErrAuthentication    = errors.New("authentication failed")
	ErrMalformedResponse = errors.New("malformed response")
	ErrUnsupportedRecord = errors.New("unsupported record")
)

var (
	ErrInvalidConfiguration = errors.New("invalid endpoint configuration")
	ErrLockContention       = errors.New("fetch lock is held by another worker")
	ErrOutOfOrder           = errors.New("records out of order")
)

// Error is returned by every provider driver operation. It carries one of the
// kinds above and the underlying cause, both reachable through errors.Is.
type Error struct {
	Provider string
	Op       string
	Kind     error
	Err      error
}

func NewError(provider, op string, kind, err error) *Error {
	return &Error{
		Provider: provider,
		Op:       op,
		Kind:     kind,
		Err:      err,
	}
}

// Errorf builds an Error whose cause is a formatted message
func Errorf(provider, op string, kind error, format string, args ...any) *Error {
	return NewError(provider, op, kind, fmt.Errorf(format, args...))
}

func (e *Error) Error() string {
	msg := fmt.Sprintf("%s: %s: %s", e.Provider, e.Op, e.Kind)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() []error {
	errs := []error{e.Kind}
	if e.Err != nil {
		errs = append(errs, e.Err)
	}
	return errs
}

// ConfigError lists everything wrong with an endpoint configuration
type ConfigError struct {
	EndpointID int64
	Problems   []string
	Err        error
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("endpoint %d: %s: %s", e.EndpointID, ErrInvalidConfiguration, strings.Join(e.Problems, "; "))
}

func (e *ConfigError) Unwrap() []error {
	errs := []error{ErrInvalidConfiguration}
	if e.Err != nil {
		errs = append(errs, e.Err)
	}
	return errs
}

// AppendError is returned by series stores when a record is not strictly
// newer than its predecessor
type AppendError struct {
	SeriesID  int64
	Timestamp time.Time
	Previous  time.Time
}

func (e *AppendError) Error() string {
	return fmt.Sprintf("series %d: %s: %s is not after %s", e.SeriesID, ErrOutOfOrder,
		e.Timestamp.Format(RecordTimeLayout), e.Previous.Format(RecordTimeLayout))
}

func (e *AppendError) Unwrap() error {
	return ErrOutOfOrder
}

// LockContentionError reports who holds the lock of an endpoint
type LockContentionError struct {
	Key   string
	Owner string
}

func (e *LockContentionError) Error() string {
	return fmt.Sprintf("%s: %s (owner %q)", e.Key, ErrLockContention, e.Owner)
}

func (e *LockContentionError) Unwrap() error {
	return ErrLockContention
}
