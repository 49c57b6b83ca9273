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
// Package healthcheck reports endpoint fetch cycles to healthchecks.io so that
// an endpoint that stops being fetched raises an alert.
package healthcheck

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
)

const DefaultPingURL = "https://hc-ping.com"

var (
	ErrStatus = errors.New("status code is invalid")
)

type Pinger struct {
	client  *resty.Client
	baseURL string
}

// NewPinger creates a pinger for the given ping server. An empty url selects
// healthchecks.io.
func NewPinger(pingURL string) *Pinger {
	if pingURL == "" {
		pingURL = DefaultPingURL
	}

	return &Pinger{
		client:  resty.New().SetTimeout(10 * time.Second).SetRetryCount(2),
		baseURL: strings.TrimRight(pingURL, "/"),
	}
}

// Start signals that a fetch cycle for the check has begun
func (pinger *Pinger) Start(ctx context.Context, checkID string) error {
	return pinger.get(ctx, fmt.Sprintf("%s/%s/start", pinger.baseURL, checkID))
}

// Ping reports the end of a fetch cycle
func (pinger *Pinger) Ping(ctx context.Context, checkID string, failed bool) error {
	url := fmt.Sprintf("%s/%s", pinger.baseURL, checkID)
	if failed {
		url += "/fail"
	}
	return pinger.get(ctx, url)
}

func (pinger *Pinger) get(ctx context.Context, url string) error {
	resp, err := pinger.client.R().SetContext(ctx).Get(url)
	if err != nil {
		return err
	}

	if resp.StatusCode() != 200 {
		return fmt.Errorf("%w: %d", ErrStatus, resp.StatusCode())
	}

	return nil
}
