// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package observability

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

var (
	registerOnce sync.Once

	framesSent = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "plantctl",
			Subsystem: "bus",
			Name:      "frames_sent_total",
			Help:      "Frames written to the bus.",
		},
		[]string{"node", "type"},
	)
	framesReceived = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "plantctl",
			Subsystem: "bus",
			Name:      "frames_received_total",
			Help:      "Frames accepted from the bus.",
		},
		[]string{"node", "type"},
	)
	frameErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "plantctl",
			Subsystem: "bus",
			Name:      "frame_errors_total",
			Help:      "Frames dropped by the decoder.",
		},
		[]string{"node", "kind"},
	)
	ackFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "plantctl",
			Subsystem: "bus",
			Name:      "ack_failures_total",
			Help:      "Unicast sends that exhausted every attempt without an ACK.",
		},
		[]string{"node"},
	)
	sendDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "plantctl",
			Subsystem: "bus",
			Name:      "send_duration_seconds",
			Help:      "Time spent in Send including retries.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"node", "acked"},
	)
	peersActive = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "plantctl",
			Subsystem: "master",
			Name:      "peers_active",
			Help:      "Slaves currently in the peer table.",
		},
		[]string{"node"},
	)
	peerEvictions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "plantctl",
			Subsystem: "master",
			Name:      "peer_evictions_total",
			Help:      "Slaves removed after missing heartbeats.",
		},
		[]string{"node"},
	)
	commandsSent = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "plantctl",
			Subsystem: "master",
			Name:      "commands_sent_total",
			Help:      "Commands sent by addressing mode.",
		},
		[]string{"node", "mode"},
	)
	commandsHandled = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "plantctl",
			Subsystem: "slave",
			Name:      "commands_handled_total",
			Help:      "Commands processed by a slave, by outcome.",
		},
		[]string{"node", "outcome"},
	)
)

// RegisterMetrics registers every collector with the default registry
func RegisterMetrics() {
	registerOnce.Do(func() {
		prometheus.MustRegister(
			framesSent, framesReceived, frameErrors, ackFailures, sendDuration,
			peersActive, peerEvictions, commandsSent, commandsHandled,
		)
	})
}

func nodeLabel(node uint8) string {
	return strconv.Itoa(int(node))
}

// RecordFrameSent counts one transmitted frame
func RecordFrameSent(node uint8, msgType string) {
	RegisterMetrics()
	framesSent.WithLabelValues(nodeLabel(node), msgType).Inc()
}

// RecordFrameReceived counts one accepted frame
func RecordFrameReceived(node uint8, msgType string) {
	RegisterMetrics()
	framesReceived.WithLabelValues(nodeLabel(node), msgType).Inc()
}

// RecordFrameError counts a decoder failure; kind is "crc" or "decode"
func RecordFrameError(node uint8, kind string) {
	RegisterMetrics()
	frameErrors.WithLabelValues(nodeLabel(node), kind).Inc()
}

// RecordSend observes one Send call
func RecordSend(node uint8, duration time.Duration, acked bool) {
	RegisterMetrics()
	sendDuration.WithLabelValues(nodeLabel(node), strconv.FormatBool(acked)).Observe(duration.Seconds())
}

// RecordAckFailure counts a send that never got acknowledged
func RecordAckFailure(node uint8) {
	RegisterMetrics()
	ackFailures.WithLabelValues(nodeLabel(node)).Inc()
}

// SetPeersActive publishes the current peer table size
func SetPeersActive(node uint8, n int) {
	RegisterMetrics()
	peersActive.WithLabelValues(nodeLabel(node)).Set(float64(n))
}

// RecordEvictions counts peers removed by a sweep
func RecordEvictions(node uint8, n int) {
	RegisterMetrics()
	peerEvictions.WithLabelValues(nodeLabel(node)).Add(float64(n))
}

// RecordCommand counts a command send; mode is unicast, type, broadcast or starwire
func RecordCommand(node uint8, mode string) {
	RegisterMetrics()
	commandsSent.WithLabelValues(nodeLabel(node), mode).Inc()
}

// RecordCommandHandled counts a slave-side command outcome
// (handled, ignored, unknown, failed)
func RecordCommandHandled(node uint8, outcome string) {
	RegisterMetrics()
	commandsHandled.WithLabelValues(nodeLabel(node), outcome).Inc()
}

// ServeMetrics exposes /metrics on addr until ctx is done.
// An empty addr disables the endpoint.
func ServeMetrics(ctx context.Context, addr string, logger zerolog.Logger) error {
	if addr == "" {
		return nil
	}
	RegisterMetrics()

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()

	logger.Info().Str("addr", addr).Msg("metrics endpoint listening")
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
