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
package cmd

import (
	"context"
	"fmt"

	"github.com/nats-io/nats.go"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/zerolog/log"
	"github.com/spf13/viper"

	"github.com/openhydro/teleacq/errorlog"
	"github.com/openhydro/teleacq/fetch"
	"github.com/openhydro/teleacq/healthcheck"
	"github.com/openhydro/teleacq/library"
	"github.com/openhydro/teleacq/lock"
	"github.com/openhydro/teleacq/metrics"
)

// engine holds the collaborators of a fetch process as selected by the
// configuration
type engine struct {
	library    *library.Library
	source     fetch.EndpointSource
	store      fetch.SeriesStore
	errLog     *errorlog.Logger
	locker     lock.Locker
	registry   *prometheus.Registry
	metrics    *metrics.Metrics
	worker     *fetch.Worker
	dispatcher *fetch.Dispatcher
	natsConn   *nats.Conn
}

func newEngine(ctx context.Context) (*engine, error) {
	eng := &engine{
		registry: prometheus.NewRegistry(),
	}

	eng.registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	eng.metrics = metrics.New(eng.registry)

	if dbURL := viper.GetString("db.url"); dbURL != "" {
		myLibrary, err := library.NewFromDB(ctx, dbURL)
		if err != nil {
			return nil, fmt.Errorf("connect to library: %w", err)
		}
		eng.library = myLibrary
		eng.source = myLibrary
		eng.store = myLibrary
		eng.errLog = errorlog.New(myLibrary)
	} else {
		log.Warn().Msg("no database configured; records and error log entries are kept in memory only")
		eng.store = fetch.NewMemoryStore()
		eng.errLog = errorlog.New(errorlog.NewMemoryStore())
	}

	if fn := viper.GetString("endpoints.file"); fn != "" {
		eng.source = library.NewFileSource(fn)
	}

	if eng.source == nil {
		eng.Close()
		return nil, fmt.Errorf("no endpoint source: set db.url or endpoints.file")
	}

	timeout := viper.GetDuration("fetch.timeout")

	switch backend := viper.GetString("lock.backend"); backend {
	case "memory", "":
		eng.locker = lock.NewMemoryLocker()
	case "postgres":
		if eng.library == nil {
			eng.Close()
			return nil, fmt.Errorf("lock backend postgres requires db.url")
		}
		eng.locker = lock.NewPostgresLocker(eng.library.Pool)
	case "nats":
		locker, nc, err := lock.ConnectNATS(ctx, viper.GetString("lock.nats_url"), viper.GetString("lock.bucket"), fetch.LockTTLFor(timeout))
		if err != nil {
			eng.Close()
			return nil, fmt.Errorf("connect to nats: %w", err)
		}
		eng.locker = locker
		eng.natsConn = nc
	default:
		eng.Close()
		return nil, fmt.Errorf("unknown lock backend %q", backend)
	}

	options := []fetch.WorkerOption{
		fetch.WithTimeout(timeout),
		fetch.WithMetrics(eng.metrics),
	}

	if pingURL := viper.GetString("healthchecks.ping_url"); pingURL != "" || viper.GetBool("healthchecks.enabled") {
		options = append(options, fetch.WithPinger(healthcheck.NewPinger(pingURL)))
	}

	eng.worker = fetch.NewWorker(eng.locker, eng.store, eng.errLog, options...)
	eng.dispatcher = fetch.NewDispatcher(eng.source, eng.worker, viper.GetInt("fetch.workers"),
		fetch.WithTick(viper.GetDuration("fetch.tick")),
		fetch.WithDispatchMetrics(eng.metrics))

	log.Debug().Str("Worker", eng.worker.Identity()).Dur("LockTTL", eng.worker.LockTTL()).Msg("fetch engine ready")

	return eng, nil
}

// Close releases database and broker connections
func (eng *engine) Close() {
	if eng.natsConn != nil {
		eng.natsConn.Close()
	}
	if eng.library != nil {
		eng.library.Close()
	}
}
