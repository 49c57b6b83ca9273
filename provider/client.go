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
package provider

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/goccy/go-json"
	"github.com/openhydro/teleacq/data"
	"golang.org/x/time/rate"
)

const (
	DefaultRequestTimeout = 60 * time.Second
	DefaultRateLimit      = 600
)

var (
	ErrStatus = errors.New("unexpected status code")
)

// Client is the HTTP client shared by the drivers. It rate limits requests,
// classifies failures into the driver error kinds and keeps credentials out of
// error messages.
type Client struct {
	Provider string
	HTTP     *resty.Client

	limiter *rate.Limiter
}

type clientOptions struct {
	baseURL     string
	insecureTLS bool
	timeout     time.Duration
	rateLimit   int
}

type ClientOption func(*clientOptions)

// WithBaseURL sets the URL that relative request paths are resolved against
func WithBaseURL(baseURL string) ClientOption {
	return func(opts *clientOptions) {
		opts.baseURL = baseURL
	}
}

// WithInsecureTLS disables certificate verification; data loggers commonly
// ship self-signed certificates
func WithInsecureTLS(insecure bool) ClientOption {
	return func(opts *clientOptions) {
		opts.insecureTLS = insecure
	}
}

func WithTimeout(timeout time.Duration) ClientOption {
	return func(opts *clientOptions) {
		opts.timeout = timeout
	}
}

// WithDefaultRateLimit sets the requests per minute used when the endpoint
// does not configure one
func WithDefaultRateLimit(requestsPerMinute int) ClientOption {
	return func(opts *clientOptions) {
		opts.rateLimit = requestsPerMinute
	}
}

// NewClient creates a client for the named provider and endpoint
func NewClient(providerName string, endpoint *data.Endpoint, options ...ClientOption) *Client {
	opts := clientOptions{
		timeout:   DefaultRequestTimeout,
		rateLimit: DefaultRateLimit,
	}
	for _, opt := range options {
		opt(&opts)
	}

	rateLimit := endpoint.RateLimit
	if rateLimit <= 0 {
		rateLimit = opts.rateLimit
	}

	client := &Client{
		Provider: providerName,
		limiter:  rate.NewLimiter(rate.Limit(float64(rateLimit)/float64(61)), 1),
	}

	client.HTTP = resty.New().
		SetTimeout(opts.timeout).
		SetJSONMarshaler(json.Marshal).
		SetJSONUnmarshaler(json.Unmarshal).
		SetHeader("User-Agent", "teleacq").
		OnBeforeRequest(func(_ *resty.Client, req *resty.Request) error {
			return client.limiter.Wait(req.Context())
		})

	if opts.baseURL != "" {
		client.HTTP.SetBaseURL(opts.baseURL)
	}

	if opts.insecureTLS {
		client.HTTP.SetTLSClientConfig(&tls.Config{InsecureSkipVerify: true}) // #nosec G402
	}

	return client
}

// R starts a request bound to ctx
func (client *Client) R(ctx context.Context) *resty.Request {
	return client.HTTP.R().SetContext(ctx)
}

// Check turns a transport failure or a non-success status into a driver error
func (client *Client) Check(op string, resp *resty.Response, err error) error {
	if err != nil {
		return data.NewError(client.Provider, op, data.ErrConnection, scrub(err))
	}

	code := resp.StatusCode()
	switch {
	case code == http.StatusUnauthorized || code == http.StatusForbidden:
		return data.NewError(client.Provider, op, data.ErrAuthentication, fmt.Errorf("%w: %d", ErrStatus, code))
	case code >= 300:
		return data.NewError(client.Provider, op, data.ErrConnection, fmt.Errorf("%w: %d", ErrStatus, code))
	}

	return nil
}

// Malformed reports a response that could not be understood
func (client *Client) Malformed(op string, err error) error {
	return data.NewError(client.Provider, op, data.ErrMalformedResponse, err)
}

// Malformedf reports a response that could not be understood
func (client *Client) Malformedf(op string, format string, args ...any) error {
	return data.Errorf(client.Provider, op, data.ErrMalformedResponse, format, args...)
}

// scrub removes credentials that drivers pass in query strings from transport
// errors
func scrub(err error) error {
	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		return &url.Error{Op: urlErr.Op, URL: data.RedactURL(urlErr.URL), Err: urlErr.Err}
	}
	return err
}
