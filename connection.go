// Copyright 2016 The Mellium Contributors.
// Use of this source code is governed by the BSD 2-clause
// license that can be found in the LICENSE file.

package client

import (
	"context"
	"crypto/tls"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"
)

// Connection is a byte stream carrying one XML stream at a time.
// Implementations decode inbound elements on their own goroutine and hand
// them to the ElementHandler in ConnectionOptions, in order.
type Connection interface {
	// Open establishes the underlying transport if needed and sends a new
	// stream header.
	// It is called again to restart the stream after a feature such as SASL
	// or STARTTLS changes the channel.
	Open(ctx context.Context, h StreamHeader) error

	// Send queues el for transmission.
	// The returned channel receives exactly one value once el has been
	// written, or has failed to be written.
	Send(el Element) <-chan error

	// Close sends the stream terminator, waits a short time for the peer to do
	// the same, and then tears down the transport.
	Close() error

	// UsesAcknowledgements reports whether the transport itself acknowledges
	// delivery of stanzas.
	UsesAcknowledgements() bool

	// IsSecure reports whether the channel is encrypted.
	IsSecure() bool
}

// TLSUpgrader is implemented by connections that support STARTTLS.
type TLSUpgrader interface {
	StartTLS() error
	TLSPolicy() TLSPolicy
}

// Compressor is implemented by connections that support stream compression.
type Compressor interface {
	Compress(method string) error
	CompressionMethods() []string
}

// ConnectionStater is implemented by connections that can expose their TLS
// state, which is used for SASL channel binding.
type ConnectionStater interface {
	ConnectionState() (tls.ConnectionState, bool)
}

// Transport creates connections.
// Transports configured on a session are tried in order.
type Transport interface {
	Name() string
	NewConnection(opts ConnectionOptions) Connection
}

// ElementHandler receives what a Connection reads.
type ElementHandler interface {
	// HandleElement is called on the connection's reader goroutine for every
	// top level element.
	// An error is fatal to the connection.
	HandleElement(el Element) error

	// NotifyException is called at most once when the connection fails.
	NotifyException(err error)
}

// ConnectionOptions is passed to a Transport when a session connects.
type ConnectionOptions struct {
	Handler      ElementHandler
	Logger       logrus.FieldLogger
	Domain       string
	Limiter      *rate.Limiter
	CloseTimeout time.Duration
}

// StreamHeader contains the attributes sent when opening a stream.
type StreamHeader struct {
	To      string
	From    string
	Lang    string
	Version string
}

// TLSPolicy controls the use of STARTTLS.
type TLSPolicy int

// TLS policies.
const (
	// TLSRequired fails the connection unless it is secured.
	TLSRequired TLSPolicy = iota
	// TLSOptional secures the connection if the server offers STARTTLS.
	TLSOptional
	// TLSDisabled never negotiates STARTTLS.
	TLSDisabled
)

func (p TLSPolicy) String() string {
	switch p {
	case TLSRequired:
		return "required"
	case TLSOptional:
		return "optional"
	case TLSDisabled:
		return "disabled"
	}
	return "unknown"
}
