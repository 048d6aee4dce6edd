// Copyright 2016 The Mellium Contributors.
// Use of this source code is governed by the BSD 2-clause
// license that can be found in the LICENSE file.

// Package client implements the client side of an XMPP session as described
// in RFC 6120.
//
// A Session owns a single logical login to a server. It moves through the
// statuses defined by Status as it connects, authenticates, loses its
// connection and is closed:
//
//	Initial -> Connecting -> Connected -> Authenticating -> Authenticated
//	                ^                                            |
//	                +------------- Disconnected <----------------+
//
// Connect opens a stream over the first Transport that succeeds and
// negotiates the features needed before authentication, such as STARTTLS.
// Login then authenticates using SASL, binds a resource and, if configured,
// enables stream management and sends an initial presence.
//
// Stanzas are sent with Send and its typed variants. Each returns a SendTask
// that reports when the stanza was written, when the server acknowledged it
// and whether sending failed. Stanzas that were not acknowledged when a
// connection was lost are sent again after reconnecting, with a delay stamp
// of the time they were first sent.
//
// Query sends an IQ request and waits for the matching response. Incoming
// requests are dispatched to handlers registered with HandleIQ.
//
// When an authenticated session loses its connection, the reconnection
// strategy in Config decides whether and when to connect again. See the
// reconnect package for the strategies provided.
//
// A Config can also be loaded from a YAML or TOML file with LoadConfig.
package client // import "mellium.im/client"
