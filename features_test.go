// Copyright 2016 The Mellium Contributors.
// Use of this source code is governed by the BSD 2-clause
// license that can be found in the LICENSE file.

package client

import (
	"context"
	"encoding/xml"
	"errors"
	"testing"
	"time"

	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testNS = "urn:example:feature"

type stubNegotiator struct {
	name      string
	mandatory bool
	disabled  bool
	// steps are returned in order, one per call to ProcessNegotiation.
	steps []NegotiationStatus
	err   error

	seen []string
}

func (n *stubNegotiator) Feature() xml.Name {
	return xml.Name{Space: testNS, Local: n.name}
}

func (n *stubNegotiator) Mandatory() bool { return n.mandatory }
func (n *stubNegotiator) Enabled() bool   { return !n.disabled }

func (n *stubNegotiator) CanProcess(el Element) bool {
	name := el.ElementName()
	return name.Space == testNS && name.Local == n.name+"-reply"
}

func (n *stubNegotiator) ProcessNegotiation(el Element) (NegotiationStatus, error) {
	n.seen = append(n.seen, el.ElementName().Local)
	if n.err != nil {
		return Failure, n.err
	}
	if len(n.seen) > len(n.steps) {
		return Ignore, nil
	}
	return n.steps[len(n.seen)-1], nil
}

func advertise(names ...string) *Features {
	f := &Features{}
	for _, name := range names {
		f.List = append(f.List, *newNonza(testNS, name, ""))
	}
	return f
}

func newTestManager(restart func() error, negotiators ...FeatureNegotiator) *featureManager {
	log, _ := test.NewNullLogger()
	m := newFeatureManager(log, restart)
	for _, n := range negotiators {
		m.Register(n)
	}
	return m
}

func isDone(n *Negotiation) bool {
	select {
	case <-n.Done():
		return true
	default:
		return false
	}
}

func TestFeaturesNegotiatedInOrder(t *testing.T) {
	first := &stubNegotiator{name: "first", steps: []NegotiationStatus{Incomplete, Success}}
	second := &stubNegotiator{name: "second", steps: []NegotiationStatus{Success}}
	m := newTestManager(nil, first, second)
	m.Reset()

	waitFirst := m.Await(first.Feature())
	waitSecond := m.Await(second.Feature())
	require.NoError(t, m.ProcessFeatures(advertise("second", "first")))

	assert.Equal(t, []string{"first"}, first.seen)
	assert.Empty(t, second.seen, "second waits for first")
	assert.False(t, isDone(waitFirst))

	handled, err := m.HandleElement(newNonza(testNS, "first-reply", ""))
	require.NoError(t, err)
	assert.True(t, handled)
	assert.Equal(t, []string{"first", "first-reply"}, first.seen)
	assert.Equal(t, []string{"second"}, second.seen)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	assert.NoError(t, waitFirst.Wait(ctx))
	assert.NoError(t, waitSecond.Wait(ctx))
	assert.NoError(t, m.CompleteNegotiation(ctx))

	handled, err = m.HandleElement(newNonza(testNS, "unrelated", ""))
	assert.NoError(t, err)
	assert.False(t, handled)
}

func TestFeaturesSkipped(t *testing.T) {
	missing := &stubNegotiator{name: "missing", steps: []NegotiationStatus{Success}}
	disabled := &stubNegotiator{name: "disabled", disabled: true, steps: []NegotiationStatus{Success}}
	required := &stubNegotiator{name: "required", disabled: true, mandatory: true, steps: []NegotiationStatus{Success}}
	m := newTestManager(nil, missing, disabled, required)
	m.Reset()

	require.NoError(t, m.ProcessFeatures(advertise("disabled", "required")))
	assert.Empty(t, missing.seen)
	assert.Empty(t, disabled.seen)
	assert.Equal(t, []string{"required"}, required.seen)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	assert.NoError(t, m.CompleteNegotiation(ctx))
}

func TestFeaturesRestart(t *testing.T) {
	tls := &stubNegotiator{name: "tls", steps: []NegotiationStatus{Restart}}
	after := &stubNegotiator{name: "after", steps: []NegotiationStatus{Success}}
	restarts := 0
	m := newTestManager(func() error {
		restarts++
		return nil
	}, tls, after)
	m.Reset()

	wait := m.Await(tls.Feature())
	require.NoError(t, m.ProcessFeatures(advertise("tls", "after")))
	assert.Equal(t, 1, restarts)
	assert.True(t, isDone(wait))
	assert.Empty(t, after.seen, "features of the old stream are discarded")

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, m.CompleteNegotiation(ctx), context.DeadlineExceeded)
}

func TestFeaturesRestartError(t *testing.T) {
	errRestart := errors.New("restart failed")
	tls := &stubNegotiator{name: "tls", steps: []NegotiationStatus{Restart}}
	m := newTestManager(func() error { return errRestart }, tls)
	m.Reset()
	assert.ErrorIs(t, m.ProcessFeatures(advertise("tls")), errRestart)
}

func TestFeaturesFailure(t *testing.T) {
	bad := &stubNegotiator{name: "bad", steps: []NegotiationStatus{Failure}}
	other := &stubNegotiator{name: "other", steps: []NegotiationStatus{Success}}
	m := newTestManager(nil, bad, other)
	m.Reset()

	waitBad := m.Await(bad.Feature())
	waitOther := m.Await(other.Feature())
	err := m.ProcessFeatures(advertise("bad", "other"))
	var negErr *NegotiationError
	require.ErrorAs(t, err, &negErr)
	assert.Equal(t, "bad", negErr.Feature)
	assert.Empty(t, other.seen)

	assert.ErrorIs(t, waitBad.Err(), err)
	assert.ErrorIs(t, waitOther.Err(), err)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	assert.ErrorIs(t, m.CompleteNegotiation(ctx), err)
}

func TestFeaturesNegotiatorError(t *testing.T) {
	errBad := errors.New("bad feature")
	bad := &stubNegotiator{name: "bad", err: errBad}
	m := newTestManager(nil, bad)
	m.Reset()

	wait := m.Await(bad.Feature())
	assert.ErrorIs(t, m.ProcessFeatures(advertise("bad")), errBad)
	assert.ErrorIs(t, wait.Err(), errBad)
}

func TestNegotiationCancel(t *testing.T) {
	n := &stubNegotiator{name: "slow", steps: []NegotiationStatus{Incomplete}}
	m := newTestManager(nil, n)
	m.Reset()

	wait := m.Await(n.Feature())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, wait.Wait(ctx), context.Canceled)

	m.mu.Lock()
	assert.Empty(t, m.waiters[n.Feature()])
	m.mu.Unlock()

	// CancelAll fails waits that are still registered.
	other := m.Await(n.Feature())
	m.CancelAll(nil)
	assert.Error(t, other.Err())
}
