// Copyright 2020 The Mellium Contributors.
// Use of this source code is governed by the BSD 2-clause
// license that can be found in the LICENSE file.

package client

import (
	"time"

	"mellium.im/xmpp/jid"

	"mellium.im/client/internal/attr"
	"mellium.im/client/internal/ns"
	"mellium.im/client/stanza"
)

// Send sends a stanza and returns a task tracking its delivery.
//
// The stanza is queued as unacknowledged before it is written, and stays
// queued until it has been written and, if the connection uses
// acknowledgements, the server has acknowledged it.
// Stanzas still queued when a connection is lost are sent again after
// reconnecting, marked with a delay stamp of the original send time.
//
// Outbound listeners run before the stanza is written; if one consumes the
// event, Send returns ErrConsumed.
func (s *Session) Send(st stanza.Stanza) (*SendTask, error) {
	if err := s.maySend(st); err != nil {
		return nil, err
	}
	if iq, ok := st.(*stanza.IQ); ok && iq.ID == "" {
		iq.ID = attr.RandomID()
	}

	e := &trackedStanza{
		stanza: st,
		sentAt: time.Now(),
		task:   newSendTask(st),
	}
	s.tracker.enqueue(e)

	ev := &StanzaEvent{Stanza: st}
	s.emitOutbound(ev)
	if ev.Consumed() {
		s.tracker.remove(e)
		return e.task, ErrConsumed
	}
	if err := s.transmit(e); err != nil {
		return e.task, err
	}
	return e.task, nil
}

// SendIQ sends an IQ without waiting for a response.
// Use Query to wait for the response.
func (s *Session) SendIQ(iq *stanza.IQ) (*SendTask, error) {
	return s.Send(iq)
}

// SendMessage sends a message.
func (s *Session) SendMessage(msg *stanza.Message) (*SendTask, error) {
	return s.Send(msg)
}

// SendPresence sends a presence.
// Broadcast available presence is remembered and sent again after logging in
// on a new connection.
func (s *Session) SendPresence(p *stanza.Presence) (*SendTask, error) {
	task, err := s.Send(p)
	if err != nil {
		return task, err
	}
	if p.To.Equal(jid.JID{}) && (p.Type == stanza.AvailablePresence || p.Type == stanza.UnavailablePresence) {
		s.mu.Lock()
		if p.Type == stanza.AvailablePresence {
			cp := *p
			s.lastPresence = &cp
		} else {
			s.lastPresence = nil
		}
		s.mu.Unlock()
	}
	return task, nil
}

// maySend checks that st may be sent in the current state.
// Before authentication only stanzas to the server or our own account are
// allowed, which is what resource binding needs.
func (s *Session) maySend(st stanza.Stanza) error {
	status := s.Status()
	switch status {
	case StatusAuthenticated, StatusClosing:
		return nil
	case StatusClosed:
		return ErrSessionClosed
	}
	if !status.connected() {
		return s.notConnected()
	}
	to := st.StanzaHeader().To
	if to.Equal(jid.JID{}) || to.String() == s.cfg.Domain {
		return nil
	}
	if bare := s.boundBare(); !bare.Equal(jid.JID{}) && to.Equal(bare) {
		return nil
	}
	return ErrNotAuthenticated
}

// transmit writes a queued stanza to the active connection.
func (s *Session) transmit(e *trackedStanza) error {
	conn := s.activeConn()
	if conn == nil {
		s.tracker.remove(e)
		return s.notConnected()
	}
	usingAcks := conn.UsesAcknowledgements() || s.sm.isEnabled()
	s.tracker.sentOn(e, conn, usingAcks)
	e.task.link(conn.Send(e.stanza), func(err error) {
		if err != nil {
			s.log.WithError(err).WithField("id", e.stanza.StanzaHeader().ID).Debug("sending stanza failed")
			return
		}
		if !usingAcks {
			s.tracker.remove(e)
		}
	})
	s.metrics.sent.Inc()
	if s.sm.isEnabled() {
		return s.sendElement(newNonza(ns.SM, "r", ""))
	}
	return nil
}

// resendUnacknowledged sends every stanza queued on an earlier connection
// again in its original order, marked as delayed since its first send.
func (s *Session) resendUnacknowledged() {
	pending := s.tracker.takeStale(s.activeConn())
	if len(pending) == 0 {
		return
	}
	s.log.WithField("count", len(pending)).Info("resending unacknowledged stanzas")
	for _, e := range pending {
		h := e.stanza.StanzaHeader()
		if h.Delay == nil {
			h.Delay = &stanza.Delay{Stamp: e.sentAt}
		}
		s.tracker.enqueue(e)
		if err := s.transmit(e); err != nil {
			s.log.WithError(err).Warn("resending stanza failed")
		}
	}
}
