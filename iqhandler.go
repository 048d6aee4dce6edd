// Copyright 2020 The Mellium Contributors.
// Use of this source code is governed by the BSD 2-clause
// license that can be found in the LICENSE file.

package client

import (
	"encoding/xml"

	"mellium.im/client/internal/ns"
	"mellium.im/client/stanza"
)

// IQHandler responds to IQ requests.
//
// HandleIQ returns the response to send, or nil to send nothing.
// Returning a stanza.Error sends it as an error reply; any other error, or a
// panic, is answered with service-unavailable.
type IQHandler interface {
	HandleIQ(iq *stanza.IQ) (*stanza.IQ, error)
}

// IQHandlerFunc is an IQHandler implemented by a function.
type IQHandlerFunc func(iq *stanza.IQ) (*stanza.IQ, error)

// HandleIQ calls f(iq).
func (f IQHandlerFunc) HandleIQ(iq *stanza.IQ) (*stanza.IQ, error) {
	return f(iq)
}

type iqHandlerEntry struct {
	h    IQHandler
	exec *serialExecutor
}

// HandleIQ registers h for IQ requests whose payload has the given name,
// replacing any earlier handler.
// Requests for one handler are handled one at a time in the order they
// arrive, while different handlers run concurrently.
func (s *Session) HandleIQ(payload xml.Name, h IQHandler) (remove func()) {
	entry := &iqHandlerEntry{
		h:    h,
		exec: newSerialExecutor(s.log.WithField("payload", payload.Space+" "+payload.Local)),
	}
	s.handlersMu.Lock()
	s.handlers[payload] = entry
	s.handlersMu.Unlock()
	return func() {
		s.handlersMu.Lock()
		defer s.handlersMu.Unlock()
		if s.handlers[payload] == entry {
			delete(s.handlers, payload)
		}
	}
}

func (s *Session) iqHandler(payload xml.Name) *iqHandlerEntry {
	s.handlersMu.Lock()
	defer s.handlersMu.Unlock()
	return s.handlers[payload]
}

var pingName = xml.Name{Space: ns.Ping, Local: "ping"}

func handlePing(iq *stanza.IQ) (*stanza.IQ, error) {
	if iq.Type != stanza.GetIQ {
		return nil, stanza.Error{Type: stanza.Cancel, Condition: stanza.FeatureNotImplemented}
	}
	return iq.Result(), nil
}
