// Copyright 2021 The Mellium Contributors.
// Use of this source code is governed by the BSD 2-clause
// license that can be found in the LICENSE file.

package client

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mellium.im/client/stanza"
)

func newTestTracker() (*tracker, prometheus.Gauge) {
	g := prometheus.NewGauge(prometheus.GaugeOpts{Name: "unacked"})
	return newTracker(g), g
}

func gaugeValue(t *testing.T, g prometheus.Gauge) float64 {
	t.Helper()
	var m dto.Metric
	require.NoError(t, g.Write(&m))
	return m.GetGauge().GetValue()
}

func entries(n int) []*trackedStanza {
	out := make([]*trackedStanza, n)
	for i := range out {
		msg := &stanza.Message{}
		out[i] = &trackedStanza{stanza: msg, sentAt: time.Now(), task: newSendTask(msg)}
	}
	return out
}

func TestTrackerAckSkipsUncounted(t *testing.T) {
	tr, gauge := newTestTracker()
	conn := &fakeConn{}
	e := entries(4)
	for i, entry := range e {
		tr.enqueue(entry)
		tr.sentOn(entry, conn, i != 1)
	}
	assert.Equal(t, 4.0, gaugeValue(t, gauge))

	acked := tr.ackFirst(2)
	assert.Equal(t, []*trackedStanza{e[0], e[2]}, acked)
	assert.Equal(t, 2, tr.len())
	assert.Equal(t, 2.0, gaugeValue(t, gauge))

	assert.Equal(t, []*trackedStanza{e[3]}, tr.ackFirst(5))
	assert.Nil(t, tr.ackFirst(0))
	assert.True(t, tr.remove(e[1]))
	assert.False(t, tr.remove(e[1]))
	assert.Zero(t, tr.len())
}

func TestTrackerTakeStale(t *testing.T) {
	tr, gauge := newTestTracker()
	old, current := &fakeConn{}, &fakeConn{}
	e := entries(4)
	for _, entry := range e {
		tr.enqueue(entry)
	}
	tr.sentOn(e[0], old, true)
	tr.sentOn(e[1], current, false)
	tr.sentOn(e[3], old, true)

	// e[2] has not been written anywhere yet, so its Send is still running.
	stale := tr.takeStale(current)
	assert.Equal(t, []*trackedStanza{e[0], e[3]}, stale)
	assert.Equal(t, 2, tr.len())
	assert.Equal(t, 2.0, gaugeValue(t, gauge))

	tr.sentOn(e[2], current, false)
	assert.Empty(t, tr.takeStale(current))
}
