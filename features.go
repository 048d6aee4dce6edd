// Copyright 2016 The Mellium Contributors.
// Use of this source code is governed by the BSD 2-clause
// license that can be found in the LICENSE file.

package client

import (
	"context"
	"encoding/xml"
	"errors"
	"sync"

	"github.com/sirupsen/logrus"
)

// NegotiationStatus is the result of a step in negotiating a stream feature.
type NegotiationStatus int

// Negotiation statuses.
const (
	// Incomplete means more round trips are needed.
	Incomplete NegotiationStatus = iota
	// Success means the feature is negotiated and the next one may begin.
	Success
	// Failure means negotiation failed and the connection attempt with it.
	Failure
	// Restart means the feature changed the channel and a new stream must be
	// opened. Features advertised on the old stream are discarded.
	Restart
	// Ignore means the element or feature was not used.
	Ignore
)

func (s NegotiationStatus) String() string {
	switch s {
	case Incomplete:
		return "incomplete"
	case Success:
		return "success"
	case Failure:
		return "failure"
	case Restart:
		return "restart"
	case Ignore:
		return "ignore"
	}
	return "unknown"
}

// FeatureNegotiator negotiates a single stream feature.
//
// Negotiators are called on the connection's reader goroutine.
// ProcessNegotiation is first called with the advertised feature element and
// afterwards with every element for which CanProcess reports true.
type FeatureNegotiator interface {
	// Feature is the name of the element advertising the feature.
	Feature() xml.Name
	Mandatory() bool
	Enabled() bool
	CanProcess(el Element) bool
	ProcessNegotiation(el Element) (NegotiationStatus, error)
}

// Negotiation is a pending wait for a feature to be negotiated.
type Negotiation struct {
	feature xml.Name
	m       *featureManager
	done    chan struct{}
	once    sync.Once
	err     error
}

// Done is closed once the feature is negotiated or negotiation fails.
func (n *Negotiation) Done() <-chan struct{} {
	return n.done
}

// Err returns the reason negotiation failed.
// It is only valid after Done is closed.
func (n *Negotiation) Err() error {
	<-n.done
	return n.err
}

// Wait blocks until the feature is negotiated or ctx is done.
func (n *Negotiation) Wait(ctx context.Context) error {
	select {
	case <-n.done:
		return n.err
	case <-ctx.Done():
		n.Cancel()
		return ctx.Err()
	}
}

// Cancel stops waiting.
func (n *Negotiation) Cancel() {
	n.m.forget(n)
	n.resolve(context.Canceled)
}

func (n *Negotiation) resolve(err error) {
	n.once.Do(func() {
		n.err = err
		close(n.done)
	})
}

type pendingFeature struct {
	neg FeatureNegotiator
	el  *Nonza
}

// featureManager runs the registered negotiators against the features
// advertised by the server, in registration order.
type featureManager struct {
	log     logrus.FieldLogger
	restart func() error

	mu          sync.Mutex
	negotiators []FeatureNegotiator
	pending     []pendingFeature
	waiters     map[xml.Name][]*Negotiation
	idle        chan struct{}
	idleClosed  bool
	failure     error
}

func newFeatureManager(log logrus.FieldLogger, restart func() error) *featureManager {
	return &featureManager{
		log:     log,
		restart: restart,
		waiters: make(map[xml.Name][]*Negotiation),
		idle:    make(chan struct{}),
	}
}

// Register adds a negotiator. Negotiators registered first are negotiated
// first.
func (m *featureManager) Register(n FeatureNegotiator) {
	m.mu.Lock()
	m.negotiators = append(m.negotiators, n)
	m.mu.Unlock()
}

// Await returns a Negotiation that completes when the negotiator for feature
// reports Success or Restart.
func (m *featureManager) Await(feature xml.Name) *Negotiation {
	n := &Negotiation{
		feature: feature,
		m:       m,
		done:    make(chan struct{}),
	}
	m.mu.Lock()
	m.waiters[feature] = append(m.waiters[feature], n)
	m.mu.Unlock()
	return n
}

func (m *featureManager) forget(n *Negotiation) {
	m.mu.Lock()
	defer m.mu.Unlock()
	waiting := m.waiters[n.feature]
	for i, w := range waiting {
		if w == n {
			m.waiters[n.feature] = append(waiting[:i:i], waiting[i+1:]...)
			return
		}
	}
}

func (m *featureManager) resolve(features ...xml.Name) {
	var done []*Negotiation
	m.mu.Lock()
	for _, f := range features {
		done = append(done, m.waiters[f]...)
		delete(m.waiters, f)
	}
	m.mu.Unlock()
	for _, n := range done {
		n.resolve(nil)
	}
}

// ProcessFeatures starts negotiating every advertised feature whose
// negotiator is mandatory or enabled.
func (m *featureManager) ProcessFeatures(f *Features) error {
	m.mu.Lock()
	m.pending = nil
	m.failure = nil
	for _, n := range m.negotiators {
		el, ok := f.Lookup(n.Feature())
		if !ok || !(n.Mandatory() || n.Enabled()) {
			continue
		}
		m.pending = append(m.pending, pendingFeature{neg: n, el: el})
	}
	m.mu.Unlock()

	m.log.WithField("features", len(f.List)).Debug("received stream features")
	return m.run()
}

// run negotiates pending features from the head of the list until one needs
// more round trips or none are left.
// Waiters are released after the run so that they observe the state left by
// every feature that succeeded immediately.
func (m *featureManager) run() error {
	var resolved []xml.Name
	defer func() {
		m.resolve(resolved...)
	}()
	for {
		m.mu.Lock()
		if len(m.pending) == 0 {
			m.markIdle()
			m.mu.Unlock()
			return nil
		}
		m.markBusy()
		head := m.pending[0]
		m.mu.Unlock()

		status, err := m.process(head.neg, head.el)
		if err != nil {
			return err
		}
		switch status {
		case Incomplete:
			return nil
		case Restart:
			resolved = append(resolved, head.neg.Feature())
			m.resolve(resolved...)
			resolved = nil
			return m.doRestart()
		case Success:
			resolved = append(resolved, head.neg.Feature())
		}
		m.pop(head.neg)
	}
}

// HandleElement passes el to the first negotiator that can process it.
func (m *featureManager) HandleElement(el Element) (handled bool, err error) {
	m.mu.Lock()
	negotiators := append([]FeatureNegotiator(nil), m.negotiators...)
	m.mu.Unlock()

	for _, n := range negotiators {
		if !n.CanProcess(el) {
			continue
		}
		status, err := m.process(n, el)
		if err != nil {
			return true, err
		}
		switch status {
		case Incomplete:
			return true, nil
		case Restart:
			m.resolve(n.Feature())
			return true, m.doRestart()
		case Success:
			m.resolve(n.Feature())
		}
		if m.pop(n) {
			return true, m.run()
		}
		return true, nil
	}
	return false, nil
}

func (m *featureManager) process(n FeatureNegotiator, el Element) (NegotiationStatus, error) {
	status, err := n.ProcessNegotiation(el)
	if err == nil && status == Failure {
		err = &NegotiationError{Feature: n.Feature().Local}
	}
	if err != nil {
		m.log.WithError(err).WithField("feature", n.Feature().Local).Debug("negotiation failed")
		m.CancelAll(err)
		return Failure, err
	}
	m.log.WithFields(logrus.Fields{
		"feature": n.Feature().Local,
		"element": el.ElementName().Local,
		"status":  status.String(),
	}).Debug("negotiation step")
	return status, nil
}

// pop removes n if it is at the head of the pending list.
func (m *featureManager) pop(n FeatureNegotiator) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.pending) == 0 || m.pending[0].neg != n {
		return false
	}
	m.pending = m.pending[1:]
	return true
}

func (m *featureManager) doRestart() error {
	m.mu.Lock()
	m.pending = nil
	m.failure = nil
	m.markBusy()
	m.mu.Unlock()
	if m.restart == nil {
		return nil
	}
	return m.restart()
}

// CompleteNegotiation blocks until every advertised feature has been
// negotiated.
func (m *featureManager) CompleteNegotiation(ctx context.Context) error {
	m.mu.Lock()
	idle := m.idle
	m.mu.Unlock()
	select {
	case <-idle:
		m.mu.Lock()
		defer m.mu.Unlock()
		return m.failure
	case <-ctx.Done():
		return ctx.Err()
	}
}

// CancelAll fails every pending wait with err.
func (m *featureManager) CancelAll(err error) {
	if err == nil {
		err = errors.New("client: negotiation cancelled")
	}
	m.mu.Lock()
	waiters := m.waiters
	m.waiters = make(map[xml.Name][]*Negotiation)
	m.pending = nil
	m.failure = err
	m.markIdle()
	m.mu.Unlock()

	for _, list := range waiters {
		for _, n := range list {
			n.resolve(err)
		}
	}
}

// Reset prepares for a new connection.
func (m *featureManager) Reset() {
	m.mu.Lock()
	m.pending = nil
	m.failure = nil
	m.markBusy()
	m.mu.Unlock()
}

func (m *featureManager) markIdle() {
	if !m.idleClosed {
		close(m.idle)
		m.idleClosed = true
	}
}

func (m *featureManager) markBusy() {
	if m.idleClosed {
		m.idle = make(chan struct{})
		m.idleClosed = false
	}
}
