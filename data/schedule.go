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
	"strings"
	"time"

	"github.com/alphadose/haxmap"
)

var zoneCache = haxmap.New[string, *time.Location]()

// LoadZone resolves an IANA zone name. Resolved zones are cached for the
// lifetime of the process.
func LoadZone(name string) (*time.Location, error) {
	if name == "" {
		return time.UTC, nil
	}

	if loc, ok := zoneCache.Get(name); ok {
		return loc, nil
	}

	loc, err := time.LoadLocation(name)
	if err != nil {
		return nil, err
	}

	zoneCache.Set(name, loc)
	return loc, nil
}

// ZoneDisplayName renders the POSIX style Etc/GMT zones the way people read
// them, e.g. Etc/GMT+2 is two hours behind UTC and is shown as UTC-2
func ZoneDisplayName(name string) string {
	switch {
	case strings.HasPrefix(name, "Etc/GMT+"):
		return "UTC-" + strings.TrimPrefix(name, "Etc/GMT+")
	case strings.HasPrefix(name, "Etc/GMT-"):
		return "UTC+" + strings.TrimPrefix(name, "Etc/GMT-")
	default:
		return name
	}
}

// MinutesSinceMidnight returns the wall clock minute of the day of now in loc
func MinutesSinceMidnight(now time.Time, loc *time.Location) int {
	local := now.In(loc)
	return local.Hour()*60 + local.Minute()
}

// IsDue reports whether now is a fetch instant for the endpoint, i.e. whether
// the minutes since midnight in the offset time zone, modulo the fetch
// interval, equal the fetch offset. Endpoints with an unusable configuration
// are never due.
func IsDue(endpoint *Endpoint, now time.Time) bool {
	if endpoint.FetchIntervalMinutes <= 0 {
		return false
	}

	loc, err := endpoint.OffsetLocation()
	if err != nil {
		return false
	}

	return MinutesSinceMidnight(now, loc)%endpoint.FetchIntervalMinutes == endpoint.FetchOffsetMinutes
}

// NextDue returns the first minute strictly after now at which the endpoint
// is due. The zero time is returned if the endpoint is never due within two
// days.
func NextDue(endpoint *Endpoint, now time.Time) time.Time {
	candidate := now.Truncate(time.Minute)
	for ii := 0; ii < 2*MaxFetchInterval; ii++ {
		candidate = candidate.Add(time.Minute)
		if IsDue(endpoint, candidate) {
			return candidate
		}
	}
	return time.Time{}
}

// standardOffset is the UTC offset, in seconds, that loc uses outside of
// daylight saving time in the year of t
func standardOffset(t time.Time, loc *time.Location) int {
	_, jan := time.Date(t.Year(), time.January, 1, 0, 0, 0, 0, loc).Zone()
	_, jul := time.Date(t.Year(), time.July, 1, 0, 0, 0, 0, loc).Zone()
	return min(jan, jul)
}

// ToWinterTime converts a naive remote timestamp that follows the DST rules of
// loc into the zone's standard (winter) time. Naive timestamps carry their wall
// clock in UTC.
func ToWinterTime(naive time.Time, loc *time.Location) time.Time {
	if loc == nil {
		return naive
	}

	local := time.Date(naive.Year(), naive.Month(), naive.Day(), naive.Hour(), naive.Minute(),
		naive.Second(), naive.Nanosecond(), loc)
	if !local.IsDST() {
		return naive
	}

	_, offset := local.Zone()
	shift := time.Duration(offset-standardOffset(local, loc)) * time.Second
	return naive.Add(-shift)
}
