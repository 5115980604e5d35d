/*
 * Copyright (c) 2023, Kurt Cancemi (kurt@x64architecture.com)
 *
 * This file is part of KC TFTP Server.
 *
 *  KC TFTP Server is free software: you can redistribute it and/or modify
 *  it under the terms of the GNU General Public License version 3 as
 *  published by the Free Software Foundation.
 *
 *  KC TFTP Server is distributed in the hope that it will be useful,
 *  but WITHOUT ANY WARRANTY; without even the implied warranty of
 *  MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
 *  GNU General Public License for more details.
 *
 *  You should have received a copy of the GNU General Public License
 *  along with KC TFTP Server. If not, see <http://www.gnu.org/licenses/>.
 */
package main

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
)

// Metrics tracks transfer sessions across every configured server.
//
// All methods accept a nil receiver, so sessions can record unconditionally
// and a server started without [metrics] pays nothing.
type Metrics struct {
	// SessionsTotal counts finished sessions by direction and outcome
	SessionsTotal *prometheus.CounterVec

	// SessionDuration tracks how long sessions take to reach a terminal state
	SessionDuration *prometheus.HistogramVec

	// ActiveSessions is the number of sessions currently running
	ActiveSessions prometheus.Gauge

	// BytesTotal counts DATA payload bytes acknowledged (read) or written (write)
	BytesTotal *prometheus.CounterVec

	// RetransmitsTotal counts packets sent again after a timeout or a wrong reply
	RetransmitsTotal *prometheus.CounterVec

	// ErrorsSentTotal counts ERROR packets by wire error code
	ErrorsSentTotal *prometheus.CounterVec

	// ForeignPacketsTotal counts packets received from an unknown TID
	ForeignPacketsTotal prometheus.Counter

	// PanicsTotal counts sessions that panicked and were recovered
	PanicsTotal prometheus.Counter
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		SessionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tftp_sessions_total",
				Help: "Total TFTP transfer sessions by direction and outcome",
			},
			[]string{"direction", "outcome"},
		),
		SessionDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "tftp_session_duration_seconds",
				Help:    "TFTP transfer session duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"direction"},
		),
		ActiveSessions: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "tftp_active_sessions",
				Help: "Current number of running TFTP transfer sessions",
			},
		),
		BytesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tftp_bytes_total",
				Help: "Total DATA payload bytes transferred by direction",
			},
			[]string{"direction"},
		),
		RetransmitsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tftp_retransmits_total",
				Help: "Total packets resent after a timeout or unexpected reply",
			},
			[]string{"direction"},
		),
		ErrorsSentTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tftp_errors_sent_total",
				Help: "Total ERROR packets sent by error code",
			},
			[]string{"code"},
		),
		ForeignPacketsTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "tftp_foreign_packets_total",
				Help: "Total packets received from an unknown transfer ID",
			},
		),
		PanicsTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "tftp_session_panics_total",
				Help: "Total sessions that panicked and were recovered",
			},
		),
	}

	reg.MustRegister(
		m.SessionsTotal,
		m.SessionDuration,
		m.ActiveSessions,
		m.BytesTotal,
		m.RetransmitsTotal,
		m.ErrorsSentTotal,
		m.ForeignPacketsTotal,
		m.PanicsTotal,
	)

	return m
}

func (m *Metrics) SessionStarted() {
	if m == nil {
		return
	}
	m.ActiveSessions.Inc()
}

func (m *Metrics) SessionFinished(direction, outcome string, duration time.Duration) {
	if m == nil {
		return
	}
	m.ActiveSessions.Dec()
	m.SessionsTotal.WithLabelValues(direction, outcome).Inc()
	m.SessionDuration.WithLabelValues(direction).Observe(duration.Seconds())
}

func (m *Metrics) RecordBytes(direction string, n int) {
	if m == nil {
		return
	}
	m.BytesTotal.WithLabelValues(direction).Add(float64(n))
}

func (m *Metrics) RecordRetransmit(direction string) {
	if m == nil {
		return
	}
	m.RetransmitsTotal.WithLabelValues(direction).Inc()
}

func (m *Metrics) RecordErrorSent(code uint16) {
	if m == nil {
		return
	}
	m.ErrorsSentTotal.WithLabelValues(strconv.Itoa(int(code))).Inc()
}

func (m *Metrics) RecordForeignPacket() {
	if m == nil {
		return
	}
	m.ForeignPacketsTotal.Inc()
}

func (m *Metrics) RecordPanic() {
	if m == nil {
		return
	}
	m.PanicsTotal.Inc()
}

// NewMetricsRouter exposes gatherer on /metrics plus a liveness probe on
// /health.
func NewMetricsRouter(gatherer prometheus.Gatherer) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok\n"))
	})

	return r
}

// ServeMetrics serves handler on listen until ctx is cancelled.
func ServeMetrics(ctx context.Context, listen string, handler http.Handler) error {
	srv := &http.Server{
		Addr:              listen,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("Metrics server shutdown")
		}
	}()

	log.Info().Msgf("Serving metrics on http://%s/metrics", listen)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
