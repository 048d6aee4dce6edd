// Copyright 2016 The Mellium Contributors.
// Use of this source code is governed by the BSD 2-clause
// license that can be found in the LICENSE file.

package client

import (
	"encoding/xml"
	"errors"

	"mellium.im/client/internal/ns"
)

var startTLSName = xml.Name{Space: ns.StartTLS, Local: "starttls"}

// startTLSNegotiator upgrades the connection to TLS as described in RFC 6120
// §5.
type startTLSNegotiator struct {
	s *Session
}

func (n startTLSNegotiator) upgrader() (TLSUpgrader, bool) {
	u, ok := n.s.activeConn().(TLSUpgrader)
	return u, ok
}

func (n startTLSNegotiator) policy() TLSPolicy {
	if u, ok := n.upgrader(); ok {
		return u.TLSPolicy()
	}
	return TLSDisabled
}

func (startTLSNegotiator) Feature() xml.Name {
	return startTLSName
}

func (n startTLSNegotiator) Mandatory() bool {
	return n.policy() == TLSRequired
}

// Enabled is always true so that a server requiring TLS is noticed even when
// TLS is disabled locally.
func (startTLSNegotiator) Enabled() bool {
	return true
}

func (startTLSNegotiator) CanProcess(el Element) bool {
	n, ok := el.(*Nonza)
	if !ok || n.XMLName.Space != ns.StartTLS {
		return false
	}
	return n.XMLName.Local == "proceed" || n.XMLName.Local == "failure"
}

func (n startTLSNegotiator) ProcessNegotiation(el Element) (NegotiationStatus, error) {
	nz, ok := el.(*Nonza)
	if !ok {
		return Ignore, nil
	}
	switch nz.XMLName.Local {
	case "starttls":
		conn := n.s.activeConn()
		if conn == nil {
			return Failure, ErrNotConnected
		}
		if conn.IsSecure() {
			return Ignore, nil
		}
		if n.policy() == TLSDisabled {
			for _, child := range nz.Children() {
				if child.Local == "required" {
					return Failure, &NegotiationError{
						Feature: "STARTTLS",
						Err:     errors.New("server requires TLS but TLS is disabled"),
					}
				}
			}
			return Ignore, nil
		}
		if err := n.s.sendElement(newNonza(ns.StartTLS, "starttls", "")); err != nil {
			return Failure, err
		}
		return Incomplete, nil
	case "proceed":
		u, ok := n.upgrader()
		if !ok {
			return Failure, &NegotiationError{Feature: "STARTTLS", Err: errors.New("connection cannot be upgraded")}
		}
		if err := u.StartTLS(); err != nil {
			return Failure, &NegotiationError{Feature: "STARTTLS", Err: err}
		}
		return Restart, nil
	case "failure":
		return Failure, &NegotiationError{Feature: "STARTTLS", Err: errors.New("server refused to negotiate TLS")}
	}
	return Ignore, nil
}
