// Copyright 2020 The Mellium Contributors.
// Use of this source code is governed by the BSD 2-clause
// license that can be found in the LICENSE file.

package client

import (
	"context"
	"time"

	"mellium.im/xmpp/jid"

	"mellium.im/client/internal/attr"
	"mellium.im/client/stanza"
)

// Query sends an IQ request and waits for the response.
//
// iq must be of type get or set, otherwise ErrNotRequest is returned and
// nothing is sent.
// If the response is an error IQ, it is returned along with its stanza
// error.
// If no response arrives within the response timeout a *NoResponseError is
// returned. If the request cannot be written, the write error is returned
// immediately.
func (s *Session) Query(ctx context.Context, iq *stanza.IQ) (*stanza.IQ, error) {
	if !iq.Type.IsRequest() {
		return nil, ErrNotRequest
	}
	if iq.ID == "" {
		iq.ID = attr.RandomID()
	}
	st, err := s.sendAndAwait(ctx, iq, "IQ response "+iq.ID, func(st stanza.Stanza) bool {
		resp, ok := st.(*stanza.IQ)
		return ok && s.isIQResponse(iq, resp)
	})
	if err != nil {
		return nil, err
	}
	resp := st.(*stanza.IQ)
	if resp.Type == stanza.ErrorIQ {
		if resp.Error != nil {
			return resp, *resp.Error
		}
		return resp, stanza.Error{Type: stanza.Cancel, Condition: stanza.UndefinedCondition}
	}
	return resp, nil
}

// SendAndAwaitMessage sends msg and waits for a message in reply from the
// same bare JID, with the same ID if msg has one.
func (s *Session) SendAndAwaitMessage(ctx context.Context, msg *stanza.Message) (*stanza.Message, error) {
	st, err := s.sendAndAwait(ctx, msg, "message response", func(st stanza.Stanza) bool {
		resp, ok := st.(*stanza.Message)
		return ok && s.isResponse(msg.StanzaHeader(), resp.StanzaHeader())
	})
	if err != nil {
		return nil, err
	}
	return st.(*stanza.Message), nil
}

// SendAndAwaitPresence sends p and waits for a presence from the bare JID it
// was addressed to.
func (s *Session) SendAndAwaitPresence(ctx context.Context, p *stanza.Presence) (*stanza.Presence, error) {
	st, err := s.sendAndAwait(ctx, p, "presence response", func(st stanza.Stanza) bool {
		resp, ok := st.(*stanza.Presence)
		return ok && s.isResponse(p.StanzaHeader(), resp.StanzaHeader())
	})
	if err != nil {
		return nil, err
	}
	return st.(*stanza.Presence), nil
}

// sendAndAwait sends req and waits for the first inbound stanza accepted by
// match.
// The response listener is removed when sendAndAwait returns, whichever of
// the response, the timeout or a send failure comes first.
func (s *Session) sendAndAwait(ctx context.Context, req stanza.Stanza, what string, match func(stanza.Stanza) bool) (stanza.Stanza, error) {
	res := make(chan stanza.Stanza, 1)
	remove := s.responseListeners.add(func(st stanza.Stanza) {
		if !match(st) {
			return
		}
		select {
		case res <- st:
		default:
		}
	})
	defer remove()

	task, err := s.Send(req)
	if err != nil {
		return nil, err
	}
	failed := make(chan error, 1)
	task.OnFailed(func(err error) {
		select {
		case failed <- err:
		default:
		}
	})

	timeout := s.cfg.ResponseTimeout
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case st := <-res:
		return st, nil
	case err := <-failed:
		return nil, err
	case <-timer.C:
		return nil, &NoResponseError{Waiting: what, After: timeout}
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-s.closed:
		return nil, ErrSessionClosed
	}
}

// isIQResponse reports whether resp answers req.
//
// Servers omit the from attribute on stanzas from the user's own account, so
// an absent from matches a request to our bare JID, and a request with no to
// is answered by our bare JID or by the server.
func (s *Session) isIQResponse(req, resp *stanza.IQ) bool {
	if !resp.Type.IsResponse() || resp.ID != req.ID {
		return false
	}
	var zero jid.JID
	to, from := req.To, resp.From
	bound := s.boundBare()
	switch {
	case to.Equal(from):
		return true
	case from.Equal(zero) && to.Equal(bound):
		return true
	case to.Equal(zero):
		return from.Bare().Equal(bound) || from.String() == s.cfg.Domain
	}
	return false
}

// isResponse is the looser correlation used for messages and presence:
// matching IDs if the request had one, and equal bare JIDs, where an absent
// address means our own.
func (s *Session) isResponse(req, resp *stanza.Header) bool {
	if req.ID != "" && req.ID != resp.ID {
		return false
	}
	var zero jid.JID
	self := s.boundBare()
	to, from := req.To, resp.From
	if to.Equal(zero) {
		to = self
	}
	if from.Equal(zero) {
		from = self
	}
	return to.Bare().Equal(from.Bare())
}
