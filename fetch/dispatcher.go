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
	"context"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/openhydro/teleacq/data"
	"github.com/openhydro/teleacq/metrics"
)

const (
	DefaultWorkers = 8
	DefaultTick    = time.Minute
)

// Runner executes the fetch cycle of an endpoint
type Runner interface {
	Run(ctx context.Context, endpoint *data.Endpoint) RunSummary
}

// Dispatcher submits due endpoints to a bounded pool of runs. Submission never
// blocks: a job that finds the pool full is dropped until the endpoint is due
// again.
type Dispatcher struct {
	source  EndpointSource
	runner  Runner
	group   errgroup.Group
	tick    time.Duration
	metrics *metrics.Metrics
	now     func() time.Time
}

type DispatcherOption func(*Dispatcher)

// WithTick changes how often due endpoints are evaluated
func WithTick(tick time.Duration) DispatcherOption {
	return func(dispatcher *Dispatcher) {
		if tick > 0 {
			dispatcher.tick = tick
		}
	}
}

func WithDispatchMetrics(m *metrics.Metrics) DispatcherOption {
	return func(dispatcher *Dispatcher) {
		dispatcher.metrics = m
	}
}

func WithDispatchClock(now func() time.Time) DispatcherOption {
	return func(dispatcher *Dispatcher) {
		dispatcher.now = now
	}
}

func NewDispatcher(source EndpointSource, runner Runner, workers int, options ...DispatcherOption) *Dispatcher {
	if workers <= 0 {
		workers = DefaultWorkers
	}

	dispatcher := &Dispatcher{
		source: source,
		runner: runner,
		tick:   DefaultTick,
		now:    time.Now,
	}
	dispatcher.group.SetLimit(workers)

	for _, option := range options {
		option(dispatcher)
	}

	return dispatcher
}

// RunDue submits every endpoint that is due in the current minute and returns
// the number of submitted jobs
func (dispatcher *Dispatcher) RunDue(ctx context.Context) int {
	return dispatcher.runDueAt(ctx, dispatcher.now())
}

func (dispatcher *Dispatcher) runDueAt(ctx context.Context, now time.Time) int {
	endpoints, err := dispatcher.source.Endpoints(ctx)
	if err != nil {
		log.Error().Err(err).Msg("could not load endpoints")
		return 0
	}

	submitted := 0
	for _, endpoint := range endpoints {
		if err := endpoint.Validate(); err != nil {
			log.Error().Err(err).Int64("EndpointID", endpoint.ID).Msg("skipping mis-configured endpoint")
			continue
		}

		if !data.IsDue(endpoint, now) {
			continue
		}

		if dispatcher.Submit(ctx, endpoint) {
			submitted++
		}
	}

	if submitted > 0 {
		log.Info().Int("NumSubmitted", submitted).Time("Tick", now).Msg("dispatched due endpoints")
	}

	return submitted
}

// Submit starts a run of endpoint if the pool has room. Runs are not cancelled
// when ctx is; they end on their own timeout.
func (dispatcher *Dispatcher) Submit(ctx context.Context, endpoint *data.Endpoint) bool {
	jobCtx := context.WithoutCancel(ctx)
	ok := dispatcher.group.TryGo(func() error {
		dispatcher.runner.Run(jobCtx, endpoint)
		return nil
	})

	if !ok {
		log.Warn().Int64("EndpointID", endpoint.ID).Msg("worker pool is full; dropping fetch until the endpoint is due again")
		dispatcher.metrics.JobDropped()
		return false
	}

	dispatcher.metrics.JobDispatched()
	return true
}

// Wait blocks until every submitted run has finished
func (dispatcher *Dispatcher) Wait() {
	_ = dispatcher.group.Wait()
}

// Run evaluates due endpoints at every tick boundary until ctx is cancelled
// and then waits for the runs in flight
func (dispatcher *Dispatcher) Run(ctx context.Context) {
	log.Info().Dur("Tick", dispatcher.tick).Msg("dispatcher started")

	for {
		now := dispatcher.now()
		next := now.Truncate(dispatcher.tick).Add(dispatcher.tick)
		timer := time.NewTimer(next.Sub(now))

		select {
		case <-ctx.Done():
			timer.Stop()
			log.Info().Msg("dispatcher stopping; waiting for running fetches")
			dispatcher.Wait()
			return
		case <-timer.C:
			dispatcher.runDueAt(ctx, next)
		}
	}
}
