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
// Package api serves the operational HTTP surface: triggering fetches,
// listing endpoints and their error logs, health and metrics.
package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"

	"github.com/openhydro/teleacq/data"
	"github.com/openhydro/teleacq/errorlog"
	"github.com/openhydro/teleacq/fetch"
)

const requestTimeout = 10 * time.Second

// Scheduler starts fetch runs
type Scheduler interface {
	RunDue(ctx context.Context) int
	Submit(ctx context.Context, endpoint *data.Endpoint) bool
}

type Config struct {
	Listen      string
	BearerToken string
}

type Server struct {
	cfg       Config
	source    fetch.EndpointSource
	scheduler Scheduler
	errLog    *errorlog.Logger
	engine    *gin.Engine
	now       func() time.Time
}

func New(cfg Config, source fetch.EndpointSource, scheduler Scheduler, errLog *errorlog.Logger, gatherer prometheus.Gatherer) *Server {
	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.Use(gin.Recovery())
	engine.Use(requestLogger())

	server := &Server{
		cfg:       cfg,
		source:    source,
		scheduler: scheduler,
		errLog:    errLog,
		engine:    engine,
		now:       time.Now,
	}

	engine.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	if gatherer != nil {
		engine.GET("/metrics", gin.WrapH(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})))
	}

	group := engine.Group("/api")
	if cfg.BearerToken != "" {
		group.Use(bearerAuthMiddleware(cfg.BearerToken))
	}

	group.POST("/run", server.handleRunDue)
	group.GET("/endpoints", server.handleListEndpoints)
	group.GET("/endpoints/:id/logs", server.handleEndpointLogs)
	group.POST("/endpoints/:id/fetch", server.handleFetchEndpoint)

	return server
}

// Engine exposes the underlying gin engine
func (s *Server) Engine() *gin.Engine {
	return s.engine
}

// Run serves until ctx is cancelled
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.cfg.Listen,
		Handler:           s.engine,
		ReadHeaderTimeout: requestTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	log.Info().Str("Listen", s.cfg.Listen).Msg("http server started")

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), requestTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}

type endpointView struct {
	ID               int64    `json:"id"`
	StationID        int64    `json:"stationId"`
	Type             string   `json:"type"`
	DeviceLocator    string   `json:"deviceLocator,omitempty"`
	RemoteStationID  string   `json:"remoteStationId,omitempty"`
	FetchInterval    int      `json:"fetchIntervalMinutes"`
	FetchOffset      int      `json:"fetchOffsetMinutes"`
	FetchOffsetZone  string   `json:"fetchOffsetTimeZone"`
	NumSensors       int      `json:"numSensors"`
	NextFetch        *string  `json:"nextFetch"`
	ValidationErrors []string `json:"validationErrors,omitempty"`
}

func (s *Server) handleListEndpoints(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), requestTimeout)
	defer cancel()

	endpoints, err := s.source.Endpoints(ctx)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	now := s.now()
	views := make([]endpointView, 0, len(endpoints))
	for _, endpoint := range endpoints {
		view := endpointView{
			ID:              endpoint.ID,
			StationID:       endpoint.StationID,
			Type:            endpoint.Type,
			DeviceLocator:   data.RedactURL(endpoint.DeviceLocator),
			RemoteStationID: endpoint.RemoteStationID,
			FetchInterval:   endpoint.FetchIntervalMinutes,
			FetchOffset:     endpoint.FetchOffsetMinutes,
			FetchOffsetZone: data.ZoneDisplayName(endpoint.FetchOffsetTimeZone),
			NumSensors:      len(endpoint.MappedSensors()),
		}

		var configErr *data.ConfigError
		if err := endpoint.Validate(); errors.As(err, &configErr) {
			view.ValidationErrors = configErr.Problems
		} else if next := data.NextDue(endpoint, now); !next.IsZero() {
			formatted := next.UTC().Format(time.RFC3339)
			view.NextFetch = &formatted
		}

		views = append(views, view)
	}

	c.JSON(http.StatusOK, gin.H{
		"data": views,
		"meta": gin.H{"count": len(views)},
	})
}

func (s *Server) handleEndpointLogs(c *gin.Context) {
	id, ok := endpointID(c)
	if !ok {
		return
	}

	limit := errorlog.DefaultRecentLimit
	if raw := c.Query("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be a positive integer"})
			return
		}
		limit = parsed
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), requestTimeout)
	defer cancel()

	entries, err := s.errLog.Recent(ctx, id, limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"data": entries,
		"meta": gin.H{"count": len(entries)},
	})
}

func (s *Server) handleRunDue(c *gin.Context) {
	submitted := s.scheduler.RunDue(c.Request.Context())
	c.JSON(http.StatusAccepted, gin.H{"submitted": submitted})
}

func (s *Server) handleFetchEndpoint(c *gin.Context) {
	id, ok := endpointID(c)
	if !ok {
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), requestTimeout)
	defer cancel()

	endpoint, err := s.source.Endpoint(ctx, id)
	if errors.Is(err, fetch.ErrEndpointNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "endpoint not found"})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	if !s.scheduler.Submit(c.Request.Context(), endpoint) {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "worker pool is full"})
		return
	}

	c.JSON(http.StatusAccepted, gin.H{"submitted": 1})
}

func endpointID(c *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "endpoint id must be an integer"})
		return 0, false
	}
	return id, true
}

func bearerAuthMiddleware(expected string) gin.HandlerFunc {
	return func(c *gin.Context) {
		auth := c.GetHeader("Authorization")
		if !strings.HasPrefix(auth, "Bearer ") {
			c.AbortWithStatus(http.StatusUnauthorized)
			return
		}
		token := strings.TrimSpace(strings.TrimPrefix(auth, "Bearer "))
		if token != expected {
			c.AbortWithStatus(http.StatusUnauthorized)
			return
		}
		c.Next()
	}
}

func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		log.Debug().
			Str("Method", c.Request.Method).
			Str("Path", c.Request.URL.Path).
			Int("StatusCode", c.Writer.Status()).
			Dur("Elapsed", time.Since(start)).
			Msg("http request")
	}
}
