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
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/openhydro/teleacq/data"
	"github.com/openhydro/teleacq/errorlog"
	"github.com/openhydro/teleacq/lock"
	"github.com/openhydro/teleacq/metrics"
	"github.com/openhydro/teleacq/provider"
	"github.com/openhydro/teleacq/providers"
)

const (
	DefaultTimeout = 300 * time.Second

	// LockMargin is added to the fetch timeout to get the lock's time-to-live
	LockMargin = 60 * time.Second

	releaseTimeout = 10 * time.Second
)

// DriverFactory creates the driver of an endpoint
type DriverFactory func(*data.Endpoint) (provider.Driver, error)

// Worker runs the fetch cycle of one endpoint at a time. A single Worker may
// be shared by concurrent runs of different endpoints.
type Worker struct {
	locker    lock.Locker
	store     SeriesStore
	errLog    *errorlog.Logger
	newDriver DriverFactory
	pinger    Pinger
	metrics   *metrics.Metrics
	timeout   time.Duration
	identity  string
	now       func() time.Time
}

type WorkerOption func(*Worker)

func WithDriverFactory(factory DriverFactory) WorkerOption {
	return func(worker *Worker) {
		worker.newDriver = factory
	}
}

func WithPinger(pinger Pinger) WorkerOption {
	return func(worker *Worker) {
		worker.pinger = pinger
	}
}

func WithMetrics(m *metrics.Metrics) WorkerOption {
	return func(worker *Worker) {
		worker.metrics = m
	}
}

// WithTimeout sets the hard limit on a fetch cycle. Non-positive values keep
// the default.
func WithTimeout(timeout time.Duration) WorkerOption {
	return func(worker *Worker) {
		if timeout > 0 {
			worker.timeout = timeout
		}
	}
}

func WithIdentity(identity string) WorkerOption {
	return func(worker *Worker) {
		worker.identity = identity
	}
}

func WithClock(now func() time.Time) WorkerOption {
	return func(worker *Worker) {
		worker.now = now
	}
}

func NewWorker(locker lock.Locker, store SeriesStore, errLog *errorlog.Logger, options ...WorkerOption) *Worker {
	worker := &Worker{
		locker:    locker,
		store:     store,
		errLog:    errLog,
		newDriver: providers.New,
		timeout:   DefaultTimeout,
		identity:  lock.WorkerIdentity(),
		now:       time.Now,
	}

	for _, option := range options {
		option(worker)
	}

	return worker
}

// LockTTL is the time-to-live of the fetch lock. It is longer than the fetch
// timeout so that a lock never expires under a live run.
func (worker *Worker) LockTTL() time.Duration {
	return worker.timeout + LockMargin
}

// LockTTLFor returns the lock time-to-live of a worker created with
// WithTimeout(timeout). Lock backends whose TTL is fixed when they are
// created use it before the worker exists.
func LockTTLFor(timeout time.Duration) time.Duration {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return timeout + LockMargin
}

func (worker *Worker) Identity() string {
	return worker.identity
}

// Run executes one fetch cycle. It never panics and never returns an error:
// failures are written to the error log and summarised in the result.
func (worker *Worker) Run(ctx context.Context, endpoint *data.Endpoint) (summary RunSummary) {
	summary = RunSummary{
		EndpointID: endpoint.ID,
		Provider:   endpoint.Type,
		StartTime:  worker.now(),
	}

	logger := log.With().Int64("EndpointID", endpoint.ID).Str("Provider", endpoint.Type).Str("Worker", worker.identity).Logger()
	ctx = logger.WithContext(ctx)

	key := endpoint.LockKey()
	if err := worker.locker.Acquire(ctx, key, worker.identity, worker.LockTTL()); err != nil {
		summary.EndTime = worker.now()

		var contention *data.LockContentionError
		if errors.As(err, &contention) {
			logger.Error().Str("LockKey", key).Str("Owner", contention.Owner).Msg("another worker is fetching this endpoint; skipping")
			worker.metrics.LockContended()
			summary.Status = StatusLocked
			return summary
		}

		worker.record(ctx, endpoint, &summary, fmt.Errorf("acquire lock %s: %w", key, err))
		summary.Status = StatusFailed
		return summary
	}

	worker.metrics.FetchStarted()
	worker.pingStart(ctx, endpoint)

	defer func() {
		releaseCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), releaseTimeout)
		defer cancel()
		if err := worker.locker.Release(releaseCtx, key, worker.identity); err != nil {
			logger.Error().Err(err).Str("LockKey", key).Msg("could not release fetch lock")
		}

		summary.EndTime = worker.now()
		worker.metrics.FetchFinished(string(summary.Status), summary.Duration())
		worker.pingEnd(ctx, endpoint, summary.Status == StatusFailed)
		logger.Info().Object("Summary", summary).Msg("fetch finished")
	}()

	defer func() {
		if r := recover(); r != nil {
			worker.record(ctx, endpoint, &summary, errorlog.NewPanicError(r))
			summary.Status = StatusFailed
		}
	}()

	fetchCtx, cancel := context.WithTimeout(ctx, worker.timeout)
	defer cancel()

	summary.Status = worker.fetch(fetchCtx, endpoint, &summary)
	return summary
}

func (worker *Worker) fetch(ctx context.Context, endpoint *data.Endpoint, summary *RunSummary) Status {
	dataLoc, err := endpoint.DataLocation()
	if err != nil {
		worker.record(ctx, endpoint, summary, &data.ConfigError{EndpointID: endpoint.ID, Problems: []string{err.Error()}, Err: err})
		return StatusFailed
	}

	driver, err := worker.newDriver(endpoint)
	if err != nil {
		worker.record(ctx, endpoint, summary, err)
		return StatusFailed
	}

	if err := driver.Connect(ctx); err != nil {
		worker.record(ctx, endpoint, summary, err)
		return StatusFailed
	}

	sensors := endpoint.MappedSensors()
	summary.NumSensors = len(sensors)
	failed := 0

	for _, mapping := range sensors {
		if err := ctx.Err(); err != nil {
			worker.record(ctx, endpoint, summary, fmt.Errorf("fetch stopped before sensor %s: %w", mapping.SensorID, err))
			return StatusFailed
		}

		count, err := worker.fetchSensor(ctx, driver, mapping, dataLoc)
		summary.NumRecords += count
		worker.metrics.RecordsAppended(endpoint.Type, count)

		if err != nil {
			failed++
			worker.record(ctx, endpoint, summary, fmt.Errorf("sensor %s (series %d): %w", mapping.SensorID, mapping.SeriesID, err))
		}
	}

	switch {
	case failed == 0:
		return StatusSuccess
	case failed < len(sensors):
		return StatusPartial
	default:
		return StatusFailed
	}
}

// fetchSensor moves one batch of a single sensor into its series. A panic
// raised while doing so is returned as a *errorlog.PanicError so the
// remaining sensors of the endpoint are still fetched.
func (worker *Worker) fetchSensor(ctx context.Context, driver provider.Driver, mapping data.SensorMapping, dataLoc *time.Location) (count int, err error) {
	defer func() {
		if r := recover(); r != nil {
			count, err = 0, errorlog.NewPanicError(r)
		}
	}()

	since, _, err := worker.store.LastTimestamp(ctx, mapping.SeriesID)
	if err != nil {
		return 0, fmt.Errorf("read last timestamp: %w", err)
	}

	records, err := driver.Measurements(ctx, mapping.SensorID, since)
	if err != nil {
		return 0, err
	}

	if dataLoc != nil {
		for idx := range records {
			records[idx].Timestamp = data.ToWinterTime(records[idx].Timestamp, dataLoc)
		}
		records = data.Trim(records, since, 0)
	}

	if len(records) == 0 {
		return 0, nil
	}

	if err := worker.store.Append(ctx, mapping.SeriesID, records); err != nil {
		return 0, err
	}

	zerolog.Ctx(ctx).Debug().Str("SensorID", mapping.SensorID).Int64("SeriesID", mapping.SeriesID).
		Int("NumRecords", len(records)).Msg("appended records")

	return len(records), nil
}

// record writes err to the error log. The entry is written even if ctx has
// already expired.
func (worker *Worker) record(ctx context.Context, endpoint *data.Endpoint, summary *RunSummary, err error) {
	summary.NumErrors++
	worker.metrics.ErrorLogged(errorlog.ExceptionName(err))

	if worker.errLog == nil {
		zerolog.Ctx(ctx).Error().Err(err).Msg("fetch failed")
		return
	}

	worker.errLog.Log(context.WithoutCancel(ctx), endpoint, err)
}

func (worker *Worker) pingStart(ctx context.Context, endpoint *data.Endpoint) {
	if worker.pinger == nil || endpoint.HealthCheckID == "" {
		return
	}

	if err := worker.pinger.Start(ctx, endpoint.HealthCheckID); err != nil {
		zerolog.Ctx(ctx).Warn().Err(err).Str("HealthCheckID", endpoint.HealthCheckID).Msg("health check start ping failed")
	}
}

func (worker *Worker) pingEnd(ctx context.Context, endpoint *data.Endpoint, failed bool) {
	if worker.pinger == nil || endpoint.HealthCheckID == "" {
		return
	}

	pingCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), releaseTimeout)
	defer cancel()

	if err := worker.pinger.Ping(pingCtx, endpoint.HealthCheckID, failed); err != nil {
		zerolog.Ctx(ctx).Warn().Err(err).Str("HealthCheckID", endpoint.HealthCheckID).Msg("health check ping failed")
	}
}
