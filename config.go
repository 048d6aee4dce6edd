// Copyright 2016 The Mellium Contributors.
// Use of this source code is governed by the BSD 2-clause
// license that can be found in the LICENSE file.

package client

import (
	"io"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"
	"mellium.im/sasl"

	"mellium.im/client/reconnect"
	"mellium.im/client/stanza"
)

const (
	defaultResponseTimeout = 5 * time.Second
	defaultCloseTimeout    = 2 * time.Second
)

// DefaultMechanisms is the SASL mechanism preference used when Config does
// not list any.
var DefaultMechanisms = []sasl.Mechanism{
	sasl.ScramSha256,
	sasl.ScramSha1,
	sasl.Plain,
}

// Config contains options for a Session.
type Config struct {
	// Domain is the server to connect to. It is required.
	Domain string
	Lang   string

	// Transports are tried in order when connecting.
	// If empty, a TCPTransport with default options is used.
	Transports []Transport

	// ResponseTimeout bounds how long to wait for the server while
	// negotiating features and for IQ responses.
	ResponseTimeout time.Duration

	// CloseTimeout bounds how long to wait for the server to close its side
	// of the stream.
	CloseTimeout time.Duration

	// Mechanisms is the preferred SASL mechanism order.
	// Mechanisms not in this list are never used, even if offered.
	Mechanisms []sasl.Mechanism

	// Reconnection decides if and when to reconnect after an authenticated
	// session is disconnected.
	// Use reconnect.Never() to disable reconnection.
	Reconnection reconnect.Strategy

	// InitialPresence is sent after the first login if it returns a non-nil
	// presence.
	InitialPresence func() *stanza.Presence

	// RosterOnLogin requests the roster after an explicit login.
	RosterOnLogin bool

	// CloseOnExit closes the session when the process receives an interrupt or
	// termination signal.
	CloseOnExit bool

	StreamManagement bool

	// Compression lists the stream compression methods to negotiate, in order
	// of preference. Currently only "zlib" is supported.
	Compression []string

	// KeepAlive is the interval between pings while authenticated.
	// Zero disables keep-alive.
	KeepAlive time.Duration

	// SendRate limits outbound stanzas per second. Zero means no limit.
	SendRate  rate.Limit
	SendBurst int

	Logger logrus.FieldLogger

	// Registerer receives the session's metrics. If nil, metrics are
	// collected but not registered.
	Registerer prometheus.Registerer
}

func (c Config) withDefaults() Config {
	if c.ResponseTimeout <= 0 {
		c.ResponseTimeout = defaultResponseTimeout
	}
	if c.CloseTimeout <= 0 {
		c.CloseTimeout = defaultCloseTimeout
	}
	if len(c.Mechanisms) == 0 {
		c.Mechanisms = DefaultMechanisms
	}
	if c.Reconnection == nil {
		c.Reconnection = reconnect.Default()
	}
	if len(c.Transports) == 0 {
		c.Transports = []Transport{&TCPTransport{}}
	}
	if c.Logger == nil {
		c.Logger = discardLogger()
	}
	if c.SendRate > 0 && c.SendBurst <= 0 {
		c.SendBurst = 1
	}
	return c
}

func (c Config) limiter() *rate.Limiter {
	if c.SendRate <= 0 {
		return nil
	}
	return rate.NewLimiter(c.SendRate, c.SendBurst)
}

func discardLogger() logrus.FieldLogger {
	l := logrus.New()
	l.Out = io.Discard
	return l
}
