// Copyright 2021 The Mellium Contributors.
// Use of this source code is governed by the BSD 2-clause
// license that can be found in the LICENSE file.

package client

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"mellium.im/client/stanza"
)

// registry is a set of listeners that keeps registration order.
// Listeners are always invoked on a snapshot, never while holding the lock.
type registry[T any] struct {
	mu    sync.Mutex
	next  uint64
	items []registered[T]
}

type registered[T any] struct {
	id uint64
	fn T
}

// add registers fn and returns a function that removes it.
// Calling the returned function more than once has no further effect.
func (r *registry[T]) add(fn T) (remove func()) {
	r.mu.Lock()
	r.next++
	id := r.next
	r.items = append(r.items, registered[T]{id: id, fn: fn})
	r.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			r.mu.Lock()
			defer r.mu.Unlock()
			for i, item := range r.items {
				if item.id == id {
					r.items = append(r.items[:i:i], r.items[i+1:]...)
					return
				}
			}
		})
	}
}

func (r *registry[T]) snapshot() []T {
	r.mu.Lock()
	defer r.mu.Unlock()
	fns := make([]T, 0, len(r.items))
	for _, item := range r.items {
		fns = append(fns, item.fn)
	}
	return fns
}

func (r *registry[T]) clear() {
	r.mu.Lock()
	r.items = nil
	r.mu.Unlock()
}

// SessionStatusEvent is emitted whenever the status of a session changes.
type SessionStatusEvent struct {
	Old, New Status
	// Cause is the error that led to the change, if any.
	Cause error
}

// ConnectionEventType identifies a ConnectionEvent.
type ConnectionEventType int

// Connection events emitted by the reconnection machinery.
const (
	// Disconnected is emitted when an authenticated session loses its
	// connection.
	Disconnected ConnectionEventType = iota
	// ReconnectionPending is emitted once when a reconnection is scheduled and
	// then every second until it is attempted.
	ReconnectionPending
	ReconnectionSucceeded
	ReconnectionFailed
)

func (t ConnectionEventType) String() string {
	switch t {
	case Disconnected:
		return "disconnected"
	case ReconnectionPending:
		return "reconnection pending"
	case ReconnectionSucceeded:
		return "reconnection succeeded"
	case ReconnectionFailed:
		return "reconnection failed"
	}
	return "unknown"
}

// ConnectionEvent reports on the connection of an authenticated session.
type ConnectionEvent struct {
	Type ConnectionEventType
	// Attempt is the zero based reconnection attempt.
	Attempt int
	// Remaining is the time left before the next attempt when Type is
	// ReconnectionPending.
	Remaining time.Duration
	Cause     error
}

// StanzaEvent is passed to stanza listeners.
type StanzaEvent struct {
	Stanza  stanza.Stanza
	Inbound bool

	consumed atomic.Bool
}

// Consume prevents an outbound stanza from being sent.
// The Send call that triggered the event returns ErrConsumed.
// It has no effect on inbound events.
func (e *StanzaEvent) Consume() {
	e.consumed.Store(true)
}

// Consumed reports whether a listener consumed the event.
func (e *StanzaEvent) Consumed() bool {
	return e.consumed.Load()
}

type stanzaKind int

const (
	iqKind stanzaKind = iota
	messageKind
	presenceKind
	kinds
)

func (k stanzaKind) String() string {
	switch k {
	case iqKind:
		return "iq"
	case messageKind:
		return "message"
	}
	return "presence"
}

func kindOf(st stanza.Stanza) stanzaKind {
	switch st.(type) {
	case *stanza.IQ:
		return iqKind
	case *stanza.Message:
		return messageKind
	}
	return presenceKind
}

// AddStatusListener registers f to be called synchronously on every status
// change. It returns a function that removes the listener.
func (s *Session) AddStatusListener(f func(SessionStatusEvent)) (remove func()) {
	return s.statusListeners.add(f)
}

// AddConnectionListener registers f for connection events.
func (s *Session) AddConnectionListener(f func(ConnectionEvent)) (remove func()) {
	return s.connListeners.add(f)
}

// AddInboundIQListener registers f for every IQ received.
// Inbound listeners are called asynchronously, in order of arrival.
func (s *Session) AddInboundIQListener(f func(*StanzaEvent)) (remove func()) {
	return s.inbound[iqKind].add(f)
}

// AddInboundMessageListener registers f for every message received.
func (s *Session) AddInboundMessageListener(f func(*StanzaEvent)) (remove func()) {
	return s.inbound[messageKind].add(f)
}

// AddInboundPresenceListener registers f for every presence received.
func (s *Session) AddInboundPresenceListener(f func(*StanzaEvent)) (remove func()) {
	return s.inbound[presenceKind].add(f)
}

// AddOutboundIQListener registers f to be called synchronously before an IQ
// is sent. The listener may consume the event to stop the IQ from being sent.
func (s *Session) AddOutboundIQListener(f func(*StanzaEvent)) (remove func()) {
	return s.outbound[iqKind].add(f)
}

// AddOutboundMessageListener registers f to be called before a message is
// sent.
func (s *Session) AddOutboundMessageListener(f func(*StanzaEvent)) (remove func()) {
	return s.outbound[messageKind].add(f)
}

// AddOutboundPresenceListener registers f to be called before a presence is
// sent.
func (s *Session) AddOutboundPresenceListener(f func(*StanzaEvent)) (remove func()) {
	return s.outbound[presenceKind].add(f)
}

func (s *Session) emitStatus(ev SessionStatusEvent) {
	for _, f := range s.statusListeners.snapshot() {
		safeCall(s.log, func() { f(ev) })
	}
}

func (s *Session) emitConnection(ev ConnectionEvent) {
	s.log.WithFields(logrus.Fields{
		"event":   ev.Type.String(),
		"attempt": ev.Attempt,
	}).Debug("connection event")
	for _, f := range s.connListeners.snapshot() {
		safeCall(s.log, func() { f(ev) })
	}
}

func (s *Session) emitOutbound(ev *StanzaEvent) {
	for _, f := range s.outbound[kindOf(ev.Stanza)].snapshot() {
		safeCall(s.log, func() { f(ev) })
	}
}

// emitInbound queues the inbound listeners for st on the inbound executor.
func (s *Session) emitInbound(st stanza.Stanza) {
	fns := s.inbound[kindOf(st)].snapshot()
	if len(fns) == 0 {
		return
	}
	ev := &StanzaEvent{Stanza: st, Inbound: true}
	s.inboundExec.submit(func() {
		for _, f := range fns {
			safeCall(s.log, func() { f(ev) })
		}
	})
}
