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
	"net"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNilMetrics(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.SessionStarted()
		m.SessionFinished(DIRECTION_READ, "complete", time.Second)
		m.RecordBytes(DIRECTION_WRITE, 512)
		m.RecordRetransmit(DIRECTION_READ)
		m.RecordErrorSent(ERROR_DISKFULL)
		m.RecordForeignPacket()
		m.RecordPanic()
	})
}

func TestSessionMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)

	getFs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(getFs, "/f", patterned(700), 0o644))
	c := testServerConfig(getFs, afero.NewMemMapFs())

	client := newTestClient(t)
	done := startSession(t, c, m, client, buildTftpRQPkt(OPCODE_RRQ, "f", MODE_OCTET))
	client.recvData(1)
	client.send(buildTftpAckPkt(0))
	client.recvData(1)
	client.send(buildTftpAckPkt(1))
	client.recvData(2)
	client.send(buildTftpAckPkt(2))
	require.NoError(t, waitSession(t, done))

	client = newTestClient(t)
	done = startSession(t, c, m, client, buildTftpRQPkt(OPCODE_RRQ, "missing", MODE_OCTET))
	client.recvError(ERROR_FILENOTFOUND)
	require.Error(t, waitSession(t, done))

	assert.Equal(t, float64(1), testutil.ToFloat64(m.SessionsTotal.WithLabelValues(DIRECTION_READ, "complete")))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.SessionsTotal.WithLabelValues(DIRECTION_READ, "file_not_found")))
	assert.Equal(t, float64(700), testutil.ToFloat64(m.BytesTotal.WithLabelValues(DIRECTION_READ)))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.RetransmitsTotal.WithLabelValues(DIRECTION_READ)))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.ErrorsSentTotal.WithLabelValues("1")))
	assert.Equal(t, float64(0), testutil.ToFloat64(m.ActiveSessions))
	assert.Equal(t, 1, testutil.CollectAndCount(m.SessionDuration))
}

func TestMetricsRouter(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)
	m.RecordForeignPacket()
	router := NewMetricsRouter(reg)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "tftp_foreign_packets_total 1")
	assert.Contains(t, rec.Body.String(), "tftp_active_sessions 0")

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/nope", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestServeMetricsStopsOnCancel(t *testing.T) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	listen := l.Addr().String()
	require.NoError(t, l.Close())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- ServeMetrics(ctx, listen, NewMetricsRouter(prometheus.NewRegistry()))
	}()

	require.Eventually(t, func() bool {
		resp, err := http.Get("http://" + listen + "/health")
		if err != nil {
			return false
		}
		resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	}, 5*time.Second, 20*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(10 * time.Second):
		t.Fatal("metrics server did not stop")
	}
}
