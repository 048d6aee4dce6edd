// Copyright 2016 The Mellium Contributors.
// Use of this source code is governed by the BSD 2-clause
// license that can be found in the LICENSE file.

package client

import (
	"context"
	"encoding/xml"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/singleflight"
	"golang.org/x/time/rate"
	"mellium.im/xmpp/jid"

	"mellium.im/client/stanza"
)

// Session is an XMPP client session.
//
// A Session connects to a single server using one of its configured
// transports, authenticates, and then exchanges stanzas.
// If an authenticated session loses its connection it is reconnected
// according to the configured strategy, and stanzas that were not
// acknowledged are sent again.
// All methods are safe for concurrent use.
type Session struct {
	cfg     Config
	log     logrus.FieldLogger
	limiter *rate.Limiter
	metrics *metrics

	status     atomic.Int32
	connecting singleflight.Group
	loginMu    sync.Mutex

	mu           sync.Mutex
	conn         Connection
	transport    Transport
	header       StreamHeader
	streamOpen   *StreamOpen
	bound        jid.JID
	lastErr      error
	loginOpts    *LoginOptions
	lastPresence *stanza.Presence

	// closed is closed when Close is called.
	closed    chan struct{}
	closeOnce sync.Once
	stop      context.CancelFunc

	features     *featureManager
	auth         *authenticator
	legacy       *sessionNegotiator
	sm           *streamManager
	tracker      *tracker
	reconnection *reconnectionManager

	statusListeners   registry[func(SessionStatusEvent)]
	connListeners     registry[func(ConnectionEvent)]
	inbound           [kinds]registry[func(*StanzaEvent)]
	outbound          [kinds]registry[func(*StanzaEvent)]
	responseListeners registry[func(stanza.Stanza)]
	inboundExec       *serialExecutor

	handlersMu sync.Mutex
	handlers   map[xml.Name]*iqHandlerEntry
}

// New creates a session using cfg.
// The session does not connect until Connect is called.
func New(cfg Config) (*Session, error) {
	if cfg.Domain == "" {
		return nil, errors.New("client: a domain is required")
	}
	if _, err := jid.Parse(cfg.Domain); err != nil {
		return nil, fmt.Errorf("client: invalid domain %q: %w", cfg.Domain, err)
	}
	cfg = cfg.withDefaults()

	log := cfg.Logger.WithField("domain", cfg.Domain)
	s := &Session{
		cfg:      cfg,
		log:      log.WithField("component", "session"),
		limiter:  cfg.limiter(),
		metrics:  newMetrics(cfg.Registerer, log),
		closed:   make(chan struct{}),
		handlers: make(map[xml.Name]*iqHandlerEntry),
	}
	s.inboundExec = newSerialExecutor(s.log)
	s.tracker = newTracker(s.metrics.unacked)
	s.features = newFeatureManager(log.WithField("component", "features"), s.restartStream)
	s.auth = &authenticator{s: s}
	s.legacy = &sessionNegotiator{}
	s.sm = &streamManager{s: s, log: log.WithField("component", "sm")}
	s.reconnection = newReconnectionManager(s, cfg.Reconnection, log.WithField("component", "reconnect"))

	s.features.Register(startTLSNegotiator{s: s})
	s.features.Register(&compressionNegotiator{s: s})
	s.features.Register(s.auth)
	s.features.Register(s.sm)
	s.features.Register(bindNegotiator{})
	s.features.Register(s.legacy)

	s.HandleIQ(pingName, IQHandlerFunc(handlePing))

	ctx, stop := context.WithCancel(context.Background())
	s.stop = stop
	if cfg.KeepAlive > 0 {
		go s.keepAlive(ctx, cfg.KeepAlive)
	}
	if cfg.CloseOnExit {
		s.closeOnSignal(ctx)
	}
	return s, nil
}

// Status returns the current status of the session.
func (s *Session) Status() Status {
	return Status(s.status.Load())
}

// LocalAddr returns the full JID bound to the session, or the zero JID if no
// resource has been bound yet.
func (s *Session) LocalAddr() jid.JID {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.bound
}

// Domain returns the domain of the server.
func (s *Session) Domain() string {
	return s.cfg.Domain
}

// StreamID returns the ID the server assigned to the current stream.
func (s *Session) StreamID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.streamOpen == nil {
		return ""
	}
	return s.streamOpen.ID
}

// SASLSuccessData returns the additional data the server sent with its SASL
// success during the most recent login, or nil if it sent none.
func (s *Session) SASLSuccessData() []byte {
	return s.auth.SuccessData()
}

// updateStatus changes the status from old to new and reports whether it did.
// Listeners run on the calling goroutine after the change.
func (s *Session) updateStatus(old, new Status, cause error) bool {
	if old == new {
		return s.Status() == old
	}
	if !s.status.CompareAndSwap(int32(old), int32(new)) {
		return false
	}
	s.statusChanged(SessionStatusEvent{Old: old, New: new, Cause: cause})
	return true
}

// setStatus changes the status unconditionally, unless the session is
// closed.
func (s *Session) setStatus(new Status, cause error) {
	for {
		old := s.Status()
		if old == StatusClosed || old == new {
			return
		}
		if s.updateStatus(old, new, cause) {
			return
		}
	}
}

func (s *Session) statusChanged(ev SessionStatusEvent) {
	entry := s.log.WithFields(logrus.Fields{
		"old": ev.Old.String(),
		"new": ev.New.String(),
	})
	if ev.Cause != nil {
		entry = entry.WithError(ev.Cause)
	}
	entry.Debug("status changed")
	s.metrics.transitions.WithLabelValues(ev.New.String()).Inc()
	s.emitStatus(ev)
	s.reconnection.statusChanged(ev)
}

func (s *Session) activeConn() Connection {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn
}

func (s *Session) isCurrent(conn Connection) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn == conn
}

// dropConnection detaches conn, or the active connection if conn is nil, and
// closes it.
func (s *Session) dropConnection(conn Connection) error {
	s.mu.Lock()
	if conn == nil {
		conn = s.conn
	}
	if conn == nil || s.conn != conn {
		s.mu.Unlock()
		return nil
	}
	s.conn = nil
	s.mu.Unlock()
	return conn.Close()
}

func (s *Session) boundBare() jid.JID {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.bound.Bare()
}

func (s *Session) recordErr(err error) {
	s.mu.Lock()
	s.lastErr = err
	s.mu.Unlock()
}

// notConnected returns ErrNotConnected, wrapping the error that caused the
// last disconnect if there was one.
func (s *Session) notConnected() error {
	s.mu.Lock()
	cause := s.lastErr
	s.mu.Unlock()
	if cause == nil {
		return ErrNotConnected
	}
	return fmt.Errorf("%w: %w", ErrNotConnected, cause)
}

// sendElement writes a non-stanza element such as a negotiation nonza.
func (s *Session) sendElement(el Element) error {
	conn := s.activeConn()
	if conn == nil {
		return s.notConnected()
	}
	go func(res <-chan error) {
		if err := <-res; err != nil {
			s.log.WithError(err).WithField("element", el.ElementName().Local).Debug("sending element failed")
		}
	}(conn.Send(el))
	return nil
}

// connHandler passes what one connection reads to the session.
// Once the session moves on to another connection, the old one is ignored.
type connHandler struct {
	s    *Session
	conn Connection
}

func (h *connHandler) HandleElement(el Element) error {
	if !h.s.isCurrent(h.conn) {
		return ErrConnClosed
	}
	return h.s.HandleElement(el)
}

func (h *connHandler) NotifyException(err error) {
	if !h.s.isCurrent(h.conn) {
		return
	}
	h.s.NotifyException(err)
}
