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
// Package metrics exposes prometheus instrumentation for the fetch engine. A
// nil *Metrics is valid and records nothing.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

type Metrics struct {
	FetchesTotal    *prometheus.CounterVec
	FetchDuration   prometheus.Histogram
	RecordsTotal    *prometheus.CounterVec
	ErrorsTotal     *prometheus.CounterVec
	LockContention  prometheus.Counter
	JobsDispatched  prometheus.Counter
	JobsDropped     prometheus.Counter
	EndpointsActive prometheus.Gauge
}

// New creates the collectors and registers them with reg
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		FetchesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "teleacq_fetches_total",
				Help: "Endpoint fetch cycles by result status",
			},
			[]string{"status"},
		),
		FetchDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "teleacq_fetch_duration_seconds",
			Help:    "Duration of endpoint fetch cycles in seconds",
			Buckets: []float64{0.5, 1, 2.5, 5, 10, 30, 60, 120, 300},
		}),
		RecordsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "teleacq_records_appended_total",
				Help: "Records handed to the series store by provider",
			},
			[]string{"provider"},
		),
		ErrorsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "teleacq_errors_total",
				Help: "Error log entries by category",
			},
			[]string{"category"},
		),
		LockContention: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "teleacq_lock_contention_total",
			Help: "Fetches skipped because another worker held the endpoint lock",
		}),
		JobsDispatched: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "teleacq_jobs_dispatched_total",
			Help: "Fetch jobs submitted to the worker pool",
		}),
		JobsDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "teleacq_jobs_dropped_total",
			Help: "Due fetch jobs dropped because the worker pool was full",
		}),
		EndpointsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "teleacq_fetches_in_flight",
			Help: "Endpoint fetch cycles currently running",
		}),
	}

	reg.MustRegister(
		m.FetchesTotal,
		m.FetchDuration,
		m.RecordsTotal,
		m.ErrorsTotal,
		m.LockContention,
		m.JobsDispatched,
		m.JobsDropped,
		m.EndpointsActive,
	)

	return m
}

func (m *Metrics) FetchStarted() {
	if m == nil {
		return
	}
	m.EndpointsActive.Inc()
}

func (m *Metrics) FetchFinished(status string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.EndpointsActive.Dec()
	m.FetchesTotal.WithLabelValues(status).Inc()
	m.FetchDuration.Observe(elapsed.Seconds())
}

func (m *Metrics) RecordsAppended(providerType string, count int) {
	if m == nil || count == 0 {
		return
	}
	m.RecordsTotal.WithLabelValues(providerType).Add(float64(count))
}

func (m *Metrics) ErrorLogged(category string) {
	if m == nil {
		return
	}
	m.ErrorsTotal.WithLabelValues(category).Inc()
}

func (m *Metrics) LockContended() {
	if m == nil {
		return
	}
	m.LockContention.Inc()
}

func (m *Metrics) JobDispatched() {
	if m == nil {
		return
	}
	m.JobsDispatched.Inc()
}

func (m *Metrics) JobDropped() {
	if m == nil {
		return
	}
	m.JobsDropped.Inc()
}
