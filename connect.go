// Copyright 2016 The Mellium Contributors.
// Use of this source code is governed by the BSD 2-clause
// license that can be found in the LICENSE file.

package client

import (
	"context"
	"encoding/xml"
	"errors"
	"time"

	"github.com/sirupsen/logrus"
	"mellium.im/sasl"
	"mellium.im/xmpp/jid"

	"mellium.im/client/internal/ns"
	"mellium.im/client/stanza"
)

// LoginOptions controls authentication and resource binding.
type LoginOptions struct {
	// Mechanisms overrides the configured SASL mechanism preference.
	Mechanisms []sasl.Mechanism
	// AuthzID is the identity to act as, if different from the authenticated
	// identity.
	AuthzID     string
	Credentials CredentialFunc
	// Resource is the resource to request. If empty, the server picks one.
	Resource string
}

// Connect connects to the server without authenticating.
//
// If the session is already connected, Connect does nothing.
// If the session had logged in before and lost its connection, Connect logs
// in again with the same options.
func (s *Session) Connect(ctx context.Context) error {
	return s.ConnectFrom(ctx, jid.JID{})
}

// ConnectFrom is like Connect but sets the from attribute of the stream
// header.
func (s *Session) ConnectFrom(ctx context.Context, from jid.JID) error {
	_, err, _ := s.connecting.Do("connect", func() (any, error) {
		return nil, s.connectFrom(ctx, from)
	})
	return err
}

func (s *Session) connectFrom(ctx context.Context, from jid.JID) error {
	for {
		st := s.Status()
		switch st {
		case StatusClosing, StatusClosed:
			return ErrSessionClosed
		case StatusConnected, StatusAuthenticating, StatusAuthenticated:
			return nil
		}
		if s.updateStatus(st, StatusConnecting, nil) {
			break
		}
	}

	_ = s.dropConnection(nil)
	s.features.Reset()
	s.sm.reset()
	s.legacy.reset()

	var err error
	for i, t := range s.cfg.Transports {
		if i > 0 && !s.updateStatus(StatusDisconnected, StatusConnecting, nil) && s.Status() != StatusConnecting {
			return ErrSessionClosed
		}
		err = s.open(ctx, t, from)
		if err == nil {
			break
		}
		s.log.WithError(err).WithField("transport", t.Name()).Info("connecting failed")
		var connErr *ConnectionError
		if !errors.As(err, &connErr) {
			break
		}
	}
	if err != nil {
		s.recordErr(err)
		_ = s.dropConnection(nil)
		s.updateStatus(StatusConnecting, StatusDisconnected, err)
		return err
	}
	if !s.updateStatus(StatusConnecting, StatusConnected, nil) {
		_ = s.dropConnection(nil)
		return s.connectAborted()
	}

	s.mu.Lock()
	opts := s.loginOpts
	s.mu.Unlock()
	if opts == nil {
		return nil
	}
	if err := s.login(ctx, *opts, false); err != nil {
		s.recordErr(err)
		_ = s.dropConnection(nil)
		s.updateStatus(StatusConnected, StatusDisconnected, err)
		return err
	}
	return nil
}

// connectAborted returns the reason a connect was overtaken by another status
// change.
func (s *Session) connectAborted() error {
	switch s.Status() {
	case StatusClosing, StatusClosed:
		return ErrSessionClosed
	}
	return s.notConnected()
}

// open establishes a connection using t and waits for the server to offer
// SASL mechanisms.
func (s *Session) open(ctx context.Context, t Transport, from jid.JID) error {
	mechanisms := s.features.Await(saslMechanismsName)
	h := &connHandler{s: s}
	conn := t.NewConnection(ConnectionOptions{
		Handler:      h,
		Logger:       s.cfg.Logger.WithField("domain", s.cfg.Domain),
		Domain:       s.cfg.Domain,
		Limiter:      s.limiter,
		CloseTimeout: s.cfg.CloseTimeout,
	})
	h.conn = conn

	header := StreamHeader{
		To:   s.cfg.Domain,
		Lang: s.cfg.Lang,
	}
	if !from.Equal(jid.JID{}) {
		header.From = from.String()
	}
	s.mu.Lock()
	s.conn = conn
	s.transport = t
	s.header = header
	s.streamOpen = nil
	s.mu.Unlock()

	if err := conn.Open(ctx, header); err != nil {
		mechanisms.Cancel()
		_ = s.dropConnection(conn)
		return err
	}
	if err := s.await(ctx, mechanisms, "SASL mechanisms"); err != nil {
		_ = s.dropConnection(conn)
		return err
	}
	if u, ok := conn.(TLSUpgrader); ok && u.TLSPolicy() == TLSRequired && !conn.IsSecure() {
		_ = s.dropConnection(conn)
		return &NegotiationError{Feature: "STARTTLS", Err: errors.New("server does not offer TLS")}
	}
	s.log.WithFields(logrus.Fields{
		"transport": t.Name(),
		"secure":    conn.IsSecure(),
	}).Info("connected")
	return nil
}

// restartStream opens a new stream on the active connection after a feature
// has changed the channel.
func (s *Session) restartStream() error {
	s.mu.Lock()
	conn, header := s.conn, s.header
	s.streamOpen = nil
	s.mu.Unlock()
	if conn == nil {
		return s.notConnected()
	}
	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.ResponseTimeout)
	defer cancel()
	return conn.Open(ctx, header)
}

// await waits for n for at most the response timeout.
func (s *Session) await(ctx context.Context, n *Negotiation, what string) error {
	timer := time.NewTimer(s.cfg.ResponseTimeout)
	defer timer.Stop()
	select {
	case <-n.Done():
		return n.Err()
	case <-timer.C:
		n.Cancel()
		return &NoResponseError{Waiting: what, After: s.cfg.ResponseTimeout}
	case <-ctx.Done():
		n.Cancel()
		return ctx.Err()
	case <-s.closed:
		n.Cancel()
		return ErrSessionClosed
	}
}

// Login authenticates with a password and binds resource.
func (s *Session) Login(ctx context.Context, username, password, resource string) error {
	return s.LoginWith(ctx, LoginOptions{
		Credentials: func() (string, string) {
			return username, password
		},
		Resource: resource,
	})
}

// LoginWith authenticates and binds a resource.
// The session must be connected. If it is already authenticated LoginWith
// does nothing.
func (s *Session) LoginWith(ctx context.Context, opts LoginOptions) error {
	return s.login(ctx, opts, true)
}

// login runs SASL, resumes or binds, and finishes negotiation.
// explicit is false when logging in again after a reconnect.
func (s *Session) login(ctx context.Context, opts LoginOptions, explicit bool) (err error) {
	s.loginMu.Lock()
	defer s.loginMu.Unlock()

	prev := s.Status()
	switch prev {
	case StatusAuthenticated:
		return nil
	case StatusConnected, StatusAuthenticating:
	case StatusClosing, StatusClosed:
		return ErrSessionClosed
	default:
		return s.notConnected()
	}
	if !s.updateStatus(prev, StatusAuthenticating, nil) {
		return s.connectAborted()
	}
	defer func() {
		if err != nil {
			s.updateStatus(StatusAuthenticating, prev, err)
		}
	}()

	mechanisms := opts.Mechanisms
	if len(mechanisms) == 0 {
		mechanisms = s.cfg.Mechanisms
	}
	bind := s.features.Await(bindName)
	if err := s.auth.StartAuthentication(mechanisms, opts.AuthzID, opts.Credentials); err != nil {
		bind.Cancel()
		return err
	}
	if err := s.await(ctx, bind, "resource binding"); err != nil {
		return err
	}

	if s.sm.canResume() {
		resumed, err := s.sm.resume(ctx)
		if err != nil {
			return err
		}
		if resumed {
			s.rememberLogin(opts)
			s.resendUnacknowledged()
			if !s.updateStatus(StatusAuthenticating, StatusAuthenticated, nil) {
				return s.connectAborted()
			}
			s.log.Info("resumed session")
			return nil
		}
	}

	bound, err := s.bindResource(ctx, opts.Resource)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.bound = bound
	s.mu.Unlock()

	if s.legacy.required.Load() {
		if err := s.establishSession(ctx); err != nil {
			return err
		}
	}
	if s.cfg.StreamManagement && s.sm.isAvailable() {
		if err := s.sm.enable(ctx); err != nil {
			s.log.WithError(err).Warn("could not enable stream management")
		}
	}

	complete, cancel := context.WithTimeout(ctx, s.cfg.ResponseTimeout)
	defer cancel()
	if err := s.features.CompleteNegotiation(complete); err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return &NoResponseError{Waiting: "stream negotiation", After: s.cfg.ResponseTimeout}
		}
		return err
	}
	s.resendUnacknowledged()

	if explicit && s.cfg.RosterOnLogin {
		s.requestRoster(ctx)
	}
	s.rememberLogin(opts)
	if !s.updateStatus(StatusAuthenticating, StatusAuthenticated, nil) {
		return s.connectAborted()
	}
	s.log.WithField("jid", bound.String()).Info("logged in")
	s.sendPresenceAfterLogin()
	return nil
}

// rememberLogin stores opts for logging in again after a reconnect.
func (s *Session) rememberLogin(opts LoginOptions) {
	s.mu.Lock()
	s.loginOpts = &opts
	s.mu.Unlock()
}

// requestRoster fetches the roster. The result reaches the inbound IQ
// listeners.
func (s *Session) requestRoster(ctx context.Context) {
	payload := stanza.Extension{XMLName: rosterName}
	if _, err := s.Query(ctx, stanza.NewIQ(stanza.GetIQ, payload)); err != nil {
		s.log.WithError(err).Warn("roster request failed")
	}
}

var rosterName = xml.Name{Space: ns.Roster, Local: "query"}

// sendPresenceAfterLogin re-broadcasts the last available presence, or sends
// the initial presence if none was sent before.
func (s *Session) sendPresenceAfterLogin() {
	s.mu.Lock()
	last := s.lastPresence
	s.mu.Unlock()

	var p *stanza.Presence
	switch {
	case last != nil:
		cp := *last
		cp.ID = ""
		cp.Delay = nil
		p = &cp
	case s.cfg.InitialPresence != nil:
		p = s.cfg.InitialPresence()
	}
	if p == nil {
		return
	}
	if _, err := s.SendPresence(p); err != nil {
		s.log.WithError(err).Warn("sending presence after login failed")
	}
}
