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
package fetch

import (
	"time"

	"github.com/hako/durafmt"
	"github.com/rs/zerolog"
)

type Status string

const (
	StatusSuccess Status = "success"
	StatusPartial Status = "partial"
	StatusFailed  Status = "failed"
	StatusLocked  Status = "locked"
)

// RunSummary describes one fetch cycle of an endpoint
type RunSummary struct {
	EndpointID int64     `json:"endpointId"`
	Provider   string    `json:"provider"`
	StartTime  time.Time `json:"startTime"`
	EndTime    time.Time `json:"endTime"`
	NumSensors int       `json:"numSensors"`
	NumRecords int       `json:"numRecords"`
	NumErrors  int       `json:"numErrors"`
	Status     Status    `json:"status"`
}

func (summary RunSummary) Duration() time.Duration {
	return summary.EndTime.Sub(summary.StartTime)
}

func (summary RunSummary) MarshalZerologObject(e *zerolog.Event) {
	e.Int64("EndpointID", summary.EndpointID)
	e.Str("Provider", summary.Provider)
	e.Str("Status", string(summary.Status))
	e.Int("NumSensors", summary.NumSensors)
	e.Int("NumRecords", summary.NumRecords)
	e.Int("NumErrors", summary.NumErrors)
	e.Str("RunTime", durafmt.Parse(summary.Duration()).LimitFirstN(2).String())
}
