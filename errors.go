// Copyright 2016 The Mellium Contributors.
// Use of this source code is governed by the BSD 2-clause
// license that can be found in the LICENSE file.

package client

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Errors returned by the client package.
var (
	ErrNotConnected     = errors.New("client: not connected")
	ErrSessionClosed    = errors.New("client: session closed")
	ErrNotAuthenticated = errors.New("client: stanza may not be sent before the session is authenticated")
	ErrConsumed         = errors.New("client: stanza was consumed by an outbound listener")
	ErrNotRequest       = errors.New("client: query requires an IQ of type get or set")
	ErrConnClosed       = errors.New("client: connection closed")
)

// ConnectionError is returned when a transport fails to establish or keep up
// a connection.
// It is the cause of most disconnects and is retried by reconnection.
type ConnectionError struct {
	Transport string
	Err       error
}

func (e *ConnectionError) Error() string {
	if e.Transport == "" {
		return "client: connection failed: " + e.Err.Error()
	}
	return "client: " + e.Transport + " connection failed: " + e.Err.Error()
}

func (e *ConnectionError) Unwrap() error {
	return e.Err
}

// NegotiationError is returned when a stream feature cannot be negotiated.
type NegotiationError struct {
	Feature string

	// Requested and Available are set when no mutually supported option (for
	// example a SASL mechanism) could be found.
	Requested []string
	Available []string

	Err error
}

func (e *NegotiationError) Error() string {
	var b strings.Builder
	b.WriteString("client: negotiating ")
	b.WriteString(e.Feature)
	b.WriteString(" failed")
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	if e.Requested != nil || e.Available != nil {
		fmt.Fprintf(&b, " (requested %v, available %v)", e.Requested, e.Available)
	}
	return b.String()
}

func (e *NegotiationError) Unwrap() error {
	return e.Err
}

// AuthenticationError is returned from Login when the server rejects the
// credentials.
// Authentication errors never trigger automatic reconnection.
type AuthenticationError struct {
	Mechanism string
	Condition string
	Text      string
}

func (e *AuthenticationError) Error() string {
	s := "client: " + e.Mechanism + " authentication failed"
	if e.Condition != "" {
		s += ": " + e.Condition
	}
	if e.Text != "" {
		s += " (" + e.Text + ")"
	}
	return s
}

// NoResponseError is returned when the server does not answer in time.
// The server might merely be slow.
type NoResponseError struct {
	Waiting string
	After   time.Duration
}

func (e *NoResponseError) Error() string {
	return fmt.Sprintf("client: no response while waiting for %s after %s", e.Waiting, e.After)
}

// Timeout reports true.
func (e *NoResponseError) Timeout() bool {
	return true
}
