// Copyright 2016 The Mellium Contributors.
// Use of this source code is governed by the BSD 2-clause
// license that can be found in the LICENSE file.

package client

import (
	"errors"

	"mellium.im/client/stanza"
)

// Close ends the session.
//
// If the session is authenticated, unavailable presence is sent first.
// The stream is then closed, every pending wait fails with ErrSessionClosed
// and all listeners and handlers are removed.
// A closed session cannot be used again. Calling Close more than once, or
// while a close is in progress, does nothing.
func (s *Session) Close() error {
	var prev Status
	for {
		prev = s.Status()
		if prev == StatusClosing || prev == StatusClosed {
			return nil
		}
		if s.updateStatus(prev, StatusClosing, nil) {
			break
		}
	}

	if prev == StatusAuthenticated {
		if _, err := s.Send(&stanza.Presence{Type: stanza.UnavailablePresence}); err != nil {
			s.log.WithError(err).Debug("could not send unavailable presence")
		}
	}
	s.features.CancelAll(ErrSessionClosed)
	s.closeOnce.Do(func() {
		close(s.closed)
	})
	err := s.dropConnection(nil)

	for i := range s.inbound {
		s.inbound[i].clear()
		s.outbound[i].clear()
	}
	s.responseListeners.clear()
	s.handlersMu.Lock()
	clear(s.handlers)
	s.handlersMu.Unlock()
	s.stop()

	s.setStatus(StatusClosed, nil)
	s.statusListeners.clear()
	s.connListeners.clear()
	s.log.Info("session closed")
	return err
}

// CloseAsync closes the session on a new goroutine.
// The returned channel receives the result of Close.
func (s *Session) CloseAsync() <-chan error {
	res := make(chan error, 1)
	go func() {
		res <- s.Close()
	}()
	return res
}

// NotifyException reports that the active connection failed with err.
//
// Pending negotiation waits fail with err. Unless err is an
// authentication error, the connection is closed and the session becomes
// disconnected, which may trigger reconnection.
func (s *Session) NotifyException(err error) {
	if err == nil {
		err = ErrConnClosed
	}
	s.recordErr(err)
	s.features.CancelAll(err)

	var authErr *AuthenticationError
	if errors.As(err, &authErr) {
		return
	}
	for {
		st := s.Status()
		if !st.connected() {
			return
		}
		_ = s.dropConnection(nil)
		if s.updateStatus(st, StatusDisconnected, err) {
			s.log.WithError(err).Warn("disconnected")
			return
		}
	}
}
