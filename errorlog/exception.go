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
	"errors"
	"fmt"
	"reflect"
	"runtime/debug"
	"strings"

	"github.com/openhydro/teleacq/data"
)

// PanicError carries a value recovered from a panic along with the stack of
// the panicking goroutine
type PanicError struct {
	Value any
	Stack []byte
}

// NewPanicError must be called from the deferred function that recovered
func NewPanicError(value any) *PanicError {
	return &PanicError{
		Value: value,
		Stack: debug.Stack(),
	}
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("panic: %v", e.Value)
}

func (e *PanicError) Unwrap() error {
	if err, ok := e.Value.(error); ok {
		return err
	}
	return nil
}

var categories = []struct {
	kind error
	name string
}{
	{context.DeadlineExceeded, "TimeoutError"},
	{data.ErrConnection, "ConnectionError"},
	{data.ErrAuthentication, "AuthenticationError"},
	{data.ErrMalformedResponse, "MalformedResponseError"},
	{data.ErrUnsupportedRecord, "UnsupportedRecordError"},
	{data.ErrInvalidConfiguration, "ConfigurationError"},
	{data.ErrOutOfOrder, "OutOfOrderError"},
	{data.ErrLockContention, "LockContention"},
}

// ExceptionName returns the category under which err is filed
func ExceptionName(err error) string {
	var panicErr *PanicError
	if errors.As(err, &panicErr) {
		return "PanicError"
	}

	for _, category := range categories {
		if errors.Is(err, category.kind) {
			return category.name
		}
	}

	t := reflect.TypeOf(err)
	for t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	if t.Name() == "" {
		return "Error"
	}
	return t.Name()
}

// Traceback describes every error in the chain of err followed by a stack
// trace. For panics the stack is the one captured at recovery.
func Traceback(err error) string {
	var sb strings.Builder
	writeChain(&sb, err, 0)

	var panicErr *PanicError
	if errors.As(err, &panicErr) {
		sb.WriteString("\n")
		sb.Write(panicErr.Stack)
	} else {
		sb.WriteString("\n")
		sb.Write(debug.Stack())
	}

	return sb.String()
}

func writeChain(sb *strings.Builder, err error, depth int) {
	if err == nil || depth > 32 {
		return
	}

	fmt.Fprintf(sb, "%s%T: %s\n", strings.Repeat("  ", depth), err, err.Error())

	switch wrapped := err.(type) {
	case interface{ Unwrap() []error }:
		for _, inner := range wrapped.Unwrap() {
			writeChain(sb, inner, depth+1)
		}
	case interface{ Unwrap() error }:
		writeChain(sb, wrapped.Unwrap(), depth+1)
	}
}
