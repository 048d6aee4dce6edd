// Copyright 2021 The Mellium Contributors.
// Use of this source code is governed by the BSD 2-clause
// license that can be found in the LICENSE file.

package client

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"mellium.im/client/reconnect"
)

const pendingInterval = time.Second

// reconnectionManager reconnects a session that lost its connection after
// authenticating.
type reconnectionManager struct {
	s        *Session
	strategy reconnect.Strategy
	log      logrus.FieldLogger

	mu     sync.Mutex
	cancel context.CancelFunc
}

func newReconnectionManager(s *Session, strategy reconnect.Strategy, log logrus.FieldLogger) *reconnectionManager {
	return &reconnectionManager{
		s:        s,
		strategy: strategy,
		log:      log,
	}
}

// statusChanged is called on every status change of the session.
func (m *reconnectionManager) statusChanged(ev SessionStatusEvent) {
	switch ev.New {
	case StatusDisconnected:
		if ev.Old != StatusAuthenticated {
			return
		}
		m.s.emitConnection(ConnectionEvent{Type: Disconnected, Cause: ev.Cause})
		if m.strategy.MayReconnect(0, ev.Cause) {
			m.schedule(0, ev.Cause)
		}
	case StatusConnected, StatusClosing, StatusClosed:
		m.cancelPending()
	}
}

func (m *reconnectionManager) cancelPending() {
	m.mu.Lock()
	cancel := m.cancel
	m.cancel = nil
	m.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

func (m *reconnectionManager) schedule(attempt int, cause error) {
	d := m.strategy.NextAttempt(attempt, cause)
	ctx, cancel := context.WithCancel(context.Background())
	m.mu.Lock()
	if m.cancel != nil {
		m.cancel()
	}
	m.cancel = cancel
	m.mu.Unlock()

	m.log.WithFields(logrus.Fields{
		"attempt": attempt,
		"delay":   d.String(),
	}).Info("scheduling reconnection")
	go m.run(ctx, cancel, attempt, d)
}

func (m *reconnectionManager) run(ctx context.Context, cancel context.CancelFunc, attempt int, d time.Duration) {
	deadline := time.Now().Add(d)
	timer := time.NewTimer(d)
	defer timer.Stop()
	ticker := time.NewTicker(pendingInterval)
	defer ticker.Stop()

	m.s.emitConnection(ConnectionEvent{Type: ReconnectionPending, Attempt: attempt, Remaining: d})
wait:
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			remaining := time.Until(deadline)
			if remaining < 0 {
				remaining = 0
			}
			m.s.emitConnection(ConnectionEvent{Type: ReconnectionPending, Attempt: attempt, Remaining: remaining})
		case <-timer.C:
			break wait
		}
	}

	// The attempt owns itself from here on, so that the Connected status it
	// causes does not cancel it.
	m.mu.Lock()
	if ctx.Err() != nil {
		m.mu.Unlock()
		return
	}
	m.cancel = nil
	m.mu.Unlock()
	cancel()

	err := m.s.Connect(context.Background())
	if err == nil {
		m.s.metrics.reconnects.WithLabelValues("succeeded").Inc()
		m.s.emitConnection(ConnectionEvent{Type: ReconnectionSucceeded, Attempt: attempt})
		return
	}
	m.s.metrics.reconnects.WithLabelValues("failed").Inc()
	m.log.WithError(err).WithField("attempt", attempt).Warn("reconnection failed")
	m.s.emitConnection(ConnectionEvent{Type: ReconnectionFailed, Attempt: attempt, Cause: err})

	switch m.s.Status() {
	case StatusClosing, StatusClosed:
		return
	}
	var authErr *AuthenticationError
	if errors.As(err, &authErr) {
		return
	}
	if m.strategy.MayReconnect(attempt+1, err) {
		m.schedule(attempt+1, err)
	}
}
