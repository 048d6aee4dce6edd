// Copyright 2016 The Mellium Contributors.
// Use of this source code is governed by the BSD 2-clause
// license that can be found in the LICENSE file.

package client

import (
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"

	"mellium.im/client/stanza"
	"mellium.im/client/stream"
)

// HandleElement processes an element read from the connection.
// It is called on the connection's reader goroutine; a returned error ends
// the connection.
func (s *Session) HandleElement(el Element) error {
	switch el := el.(type) {
	case *StreamOpen:
		s.mu.Lock()
		s.streamOpen = el
		s.mu.Unlock()
		s.log.WithField("id", el.ID).Debug("stream opened")
		return nil
	case *Features:
		return s.negotiationResult(s.features.ProcessFeatures(el))
	case *stream.Error:
		return *el
	case *stanza.IQ:
		s.handleStanza(el)
		s.handleIQ(el)
		return nil
	case *stanza.Message:
		s.handleStanza(el)
		return nil
	case *stanza.Presence:
		s.handleStanza(el)
		return nil
	case *Nonza:
		handled, err := s.features.HandleElement(el)
		if !handled {
			s.log.WithField("element", el.XMLName.Space+" "+el.XMLName.Local).Debug("ignoring unhandled element")
		}
		return s.negotiationResult(err)
	}
	return fmt.Errorf("client: unexpected element %v", el.ElementName())
}

// negotiationResult decides whether a negotiation error ends the connection.
// A failed authentication does not: it is reported to the caller of Login,
// which may try again.
func (s *Session) negotiationResult(err error) error {
	var authErr *AuthenticationError
	if errors.As(err, &authErr) {
		s.recordErr(err)
		return nil
	}
	return err
}

// handleStanza counts st, resolves pending responses and notifies the
// inbound listeners.
func (s *Session) handleStanza(st stanza.Stanza) {
	s.sm.countInbound()
	kind := kindOf(st)
	s.metrics.received.WithLabelValues(kind.String()).Inc()
	for _, f := range s.responseListeners.snapshot() {
		safeCall(s.log, func() { f(st) })
	}
	s.emitInbound(st)
}

func (s *Session) handleIQ(iq *stanza.IQ) {
	switch {
	case iq.Type.IsResponse():
		return
	case !iq.Type.IsRequest():
		s.replyError(iq, stanza.Error{Type: stanza.Modify, Condition: stanza.BadRequest, Text: "missing or invalid IQ type"})
		return
	}
	payload, ok := iq.Payload()
	if !ok {
		s.replyError(iq, stanza.Error{Type: stanza.Modify, Condition: stanza.BadRequest})
		return
	}
	entry := s.iqHandler(payload.XMLName)
	if entry == nil {
		s.replyError(iq, stanza.Error{Type: stanza.Cancel, Condition: stanza.ServiceUnavailable})
		return
	}
	entry.exec.submit(func() {
		s.runHandler(entry.h, iq)
	})
}

func (s *Session) runHandler(h IQHandler, iq *stanza.IQ) {
	resp, err := func() (resp *stanza.IQ, err error) {
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("client: IQ handler panicked: %v", r)
			}
		}()
		return h.HandleIQ(iq)
	}()
	if err != nil {
		var stanzaErr stanza.Error
		if !errors.As(err, &stanzaErr) {
			s.log.WithError(err).WithFields(logrus.Fields{
				"id":   iq.ID,
				"from": iq.From.String(),
			}).Warn("IQ handler failed")
			stanzaErr = stanza.Error{Type: stanza.Cancel, Condition: stanza.ServiceUnavailable}
		}
		s.replyError(iq, stanzaErr)
		return
	}
	if resp == nil {
		return
	}
	if _, err := s.Send(resp); err != nil {
		s.log.WithError(err).WithField("id", iq.ID).Warn("sending IQ response failed")
	}
}

func (s *Session) replyError(iq *stanza.IQ, e stanza.Error) {
	if _, err := s.Send(iq.ErrorReply(e)); err != nil {
		s.log.WithError(err).WithField("id", iq.ID).Warn("sending IQ error failed")
	}
}
