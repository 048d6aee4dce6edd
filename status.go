// Copyright 2016 The Mellium Contributors.
// Use of this source code is governed by the BSD 2-clause
// license that can be found in the LICENSE file.

package client

// Status is the lifecycle state of a Session.
//
// A session starts out as StatusInitial and moves through StatusConnecting,
// StatusConnected, StatusAuthenticating and StatusAuthenticated.
// From any connected state it may drop to StatusDisconnected, from which it can
// connect again, or be closed.
// StatusClosed is terminal.
type Status int32

// Session states.
const (
	StatusInitial Status = iota
	StatusConnecting
	StatusConnected
	StatusAuthenticating
	StatusAuthenticated
	StatusDisconnected
	StatusClosing
	StatusClosed
)

func (s Status) String() string {
	switch s {
	case StatusInitial:
		return "initial"
	case StatusConnecting:
		return "connecting"
	case StatusConnected:
		return "connected"
	case StatusAuthenticating:
		return "authenticating"
	case StatusAuthenticated:
		return "authenticated"
	case StatusDisconnected:
		return "disconnected"
	case StatusClosing:
		return "closing"
	case StatusClosed:
		return "closed"
	}
	return "unknown"
}

// connected reports whether s has a live connection behind it.
func (s Status) connected() bool {
	switch s {
	case StatusConnecting, StatusConnected, StatusAuthenticating, StatusAuthenticated:
		return true
	}
	return false
}
