// Copyright 2022 The Mellium Contributors.
// Use of this source code is governed by the BSD 2-clause
// license that can be found in the LICENSE file.

package client

import (
	"context"
	"encoding/xml"
	"errors"
	"math"
	"strconv"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"mellium.im/client/internal/ns"
)

var smName = xml.Name{Space: ns.SM, Local: "sm"}

var errSMFailed = errors.New("client: server refused to enable stream management")

// streamManager implements stream management (XEP-0198).
// It acknowledges stanzas on behalf of the session and resumes interrupted
// sessions.
type streamManager struct {
	s   *Session
	log logrus.FieldLogger

	mu        sync.Mutex
	available bool
	enabled   bool
	id        string
	resumable bool
	inbound   uint32
	acked     uint32
	result    chan *Nonza
}

func (*streamManager) Feature() xml.Name {
	return smName
}

func (*streamManager) Mandatory() bool {
	return false
}

func (m *streamManager) Enabled() bool {
	return m.s.cfg.StreamManagement
}

func (*streamManager) CanProcess(el Element) bool {
	n, ok := el.(*Nonza)
	return ok && n.XMLName.Space == ns.SM
}

func (m *streamManager) ProcessNegotiation(el Element) (NegotiationStatus, error) {
	nz, ok := el.(*Nonza)
	if !ok {
		return Ignore, nil
	}
	switch nz.XMLName.Local {
	case "sm":
		m.mu.Lock()
		m.available = true
		m.mu.Unlock()
		return Success, nil
	case "enabled":
		m.mu.Lock()
		m.enabled = true
		m.id = nz.AttrValue("id")
		resume := nz.AttrValue("resume")
		m.resumable = m.id != "" && (resume == "true" || resume == "1")
		m.inbound = 0
		m.acked = 0
		m.mu.Unlock()
		m.deliver(nz)
		return Success, nil
	case "resumed":
		m.mu.Lock()
		m.enabled = true
		m.mu.Unlock()
		if err := m.handleAck(nz); err != nil {
			return Failure, err
		}
		m.deliver(nz)
		return Success, nil
	case "failed":
		m.mu.Lock()
		m.id = ""
		m.resumable = false
		m.mu.Unlock()
		if nz.AttrValue("h") != "" {
			if err := m.handleAck(nz); err != nil {
				return Failure, err
			}
		}
		m.deliver(nz)
		return Ignore, nil
	case "r":
		m.mu.Lock()
		h := m.inbound
		m.mu.Unlock()
		return Ignore, m.s.sendElement(newNonza(ns.SM, "a", "", xml.Attr{
			Name:  xml.Name{Local: "h"},
			Value: strconv.FormatUint(uint64(h), 10),
		}))
	case "a":
		return Ignore, m.handleAck(nz)
	}
	return Ignore, nil
}

func (m *streamManager) handleAck(nz *Nonza) error {
	h, err := strconv.ParseUint(nz.AttrValue("h"), 10, 32)
	if err != nil {
		return &NegotiationError{Feature: "stream management", Err: err}
	}
	m.acknowledge(uint32(h))
	return nil
}

// acknowledge marks every stanza up to the server's count h as received.
func (m *streamManager) acknowledge(h uint32) {
	m.mu.Lock()
	// h wraps at 2^32, so a stale value shows up as a huge difference.
	n := h - m.acked
	if n > math.MaxInt32 {
		m.mu.Unlock()
		return
	}
	m.acked = h
	m.mu.Unlock()

	for _, e := range m.s.tracker.ackFirst(int(n)) {
		m.s.metrics.acked.Inc()
		e.task.acknowledge()
	}
}

func (m *streamManager) deliver(nz *Nonza) {
	m.mu.Lock()
	ch := m.result
	m.result = nil
	m.mu.Unlock()
	if ch != nil {
		ch <- nz
	}
}

func (m *streamManager) isEnabled() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.enabled
}

func (m *streamManager) isAvailable() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.available
}

func (m *streamManager) canResume() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.available && m.resumable && m.id != ""
}

func (m *streamManager) countInbound() {
	m.mu.Lock()
	if m.enabled {
		m.inbound++
	}
	m.mu.Unlock()
}

// reset forgets the state of the previous connection while keeping what is
// needed to resume it.
func (m *streamManager) reset() {
	m.mu.Lock()
	m.available = false
	m.enabled = false
	m.result = nil
	m.mu.Unlock()
}

// request sends an element and waits for enabled, resumed or failed.
func (m *streamManager) request(ctx context.Context, el *Nonza) (*Nonza, error) {
	ch := make(chan *Nonza, 1)
	m.mu.Lock()
	m.result = ch
	m.mu.Unlock()

	if err := m.s.sendElement(el); err != nil {
		return nil, err
	}
	timeout := m.s.cfg.ResponseTimeout
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case nz := <-ch:
		return nz, nil
	case <-timer.C:
		return nil, &NoResponseError{Waiting: "stream management " + el.XMLName.Local, After: timeout}
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-m.s.closed:
		return nil, ErrSessionClosed
	}
}

func (m *streamManager) enable(ctx context.Context) error {
	nz, err := m.request(ctx, newNonza(ns.SM, "enable", "", xml.Attr{
		Name:  xml.Name{Local: "resume"},
		Value: "true",
	}))
	if err != nil {
		return err
	}
	if nz.XMLName.Local != "enabled" {
		return errSMFailed
	}
	m.log.WithField("resumable", m.canResume()).Debug("stream management enabled")
	return nil
}

// resume attempts to resume the previous session and reports whether it
// succeeded.
func (m *streamManager) resume(ctx context.Context) (bool, error) {
	m.mu.Lock()
	id, h := m.id, m.inbound
	m.mu.Unlock()

	nz, err := m.request(ctx, newNonza(ns.SM, "resume", "",
		xml.Attr{Name: xml.Name{Local: "previd"}, Value: id},
		xml.Attr{Name: xml.Name{Local: "h"}, Value: strconv.FormatUint(uint64(h), 10)},
	))
	if err != nil {
		return false, err
	}
	resumed := nz.XMLName.Local == "resumed"
	m.log.WithField("resumed", resumed).Debug("stream resumption")
	return resumed, nil
}
