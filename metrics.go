// Copyright 2022 The Mellium Contributors.
// Use of this source code is governed by the BSD 2-clause
// license that can be found in the LICENSE file.

package client

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
)

const metricsNamespace = "xmpp_client"

type metrics struct {
	sent        prometheus.Counter
	received    *prometheus.CounterVec
	acked       prometheus.Counter
	unacked     prometheus.Gauge
	reconnects  *prometheus.CounterVec
	transitions *prometheus.CounterVec
}

func newMetrics(reg prometheus.Registerer, log logrus.FieldLogger) *metrics {
	m := &metrics{
		sent: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "stanzas_sent_total",
			Help:      "Total number of stanzas handed to the connection, including resends.",
		}),
		received: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "stanzas_received_total",
			Help:      "Total number of stanzas received by kind.",
		}, []string{"kind"}),
		acked: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "stanzas_acknowledged_total",
			Help:      "Total number of stanzas acknowledged by the server.",
		}),
		unacked: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Name:      "stanzas_unacknowledged",
			Help:      "Number of stanzas waiting to be sent or acknowledged.",
		}),
		reconnects: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "reconnection_attempts_total",
			Help:      "Total number of reconnection attempts by result.",
		}, []string{"result"}),
		transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "status_transitions_total",
			Help:      "Total number of session status transitions by new status.",
		}, []string{"status"}),
	}
	if reg == nil {
		return m
	}
	m.sent = register(reg, log, m.sent)
	m.received = register(reg, log, m.received)
	m.acked = register(reg, log, m.acked)
	m.unacked = register(reg, log, m.unacked)
	m.reconnects = register(reg, log, m.reconnects)
	m.transitions = register(reg, log, m.transitions)
	return m
}

// register registers c, or returns the collector already registered in its
// place so that several sessions can share one registry.
func register[C prometheus.Collector](reg prometheus.Registerer, log logrus.FieldLogger, c C) C {
	err := reg.Register(c)
	if err == nil {
		return c
	}
	var are prometheus.AlreadyRegisteredError
	if errors.As(err, &are) {
		if existing, ok := are.ExistingCollector.(C); ok {
			return existing
		}
	}
	log.WithError(err).Warn("could not register metric")
	return c
}
