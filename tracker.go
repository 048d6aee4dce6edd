// Copyright 2021 The Mellium Contributors.
// Use of this source code is governed by the BSD 2-clause
// license that can be found in the LICENSE file.

package client

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"mellium.im/client/stanza"
)

// trackedStanza is an entry in the unacknowledged queue.
type trackedStanza struct {
	stanza stanza.Stanza
	sentAt time.Time
	task   *SendTask

	// conn is the connection the stanza was last written to, and counted
	// reports whether that write is covered by server acknowledgements.
	// Both are guarded by the tracker's lock.
	conn    Connection
	counted bool
}

// tracker is the ordered queue of stanzas that have not yet been written, or
// have been written but not yet acknowledged by the server.
type tracker struct {
	gauge prometheus.Gauge

	mu    sync.Mutex
	queue []*trackedStanza
}

func newTracker(gauge prometheus.Gauge) *tracker {
	return &tracker{gauge: gauge}
}

func (t *tracker) enqueue(e *trackedStanza) {
	t.mu.Lock()
	t.queue = append(t.queue, e)
	t.gauge.Set(float64(len(t.queue)))
	t.mu.Unlock()
}

// remove deletes e from the queue and reports whether it was present.
func (t *tracker) remove(e *trackedStanza) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	for i, q := range t.queue {
		if q == e {
			t.queue = append(t.queue[:i:i], t.queue[i+1:]...)
			t.gauge.Set(float64(len(t.queue)))
			return true
		}
	}
	return false
}

// ackFirst removes and returns the n oldest entries whose writes are covered
// by acknowledgements.
func (t *tracker) ackFirst(n int) []*trackedStanza {
	t.mu.Lock()
	defer t.mu.Unlock()
	if n <= 0 {
		return nil
	}
	var acked []*trackedStanza
	keep := t.queue[:0:0]
	for _, e := range t.queue {
		if len(acked) < n && e.counted {
			acked = append(acked, e)
			continue
		}
		keep = append(keep, e)
	}
	t.queue = keep
	t.gauge.Set(float64(len(t.queue)))
	return acked
}

// sentOn records that e is being written to conn.
func (t *tracker) sentOn(e *trackedStanza, conn Connection, counted bool) {
	t.mu.Lock()
	e.conn = conn
	e.counted = counted
	t.mu.Unlock()
}

// takeStale removes and returns, in order, the entries that were written to
// a connection other than current.
// Entries written to current are still waiting for their write to finish or
// to be acknowledged, and entries not yet written belong to a Send that is
// still in progress. Both stay queued.
func (t *tracker) takeStale(current Connection) []*trackedStanza {
	t.mu.Lock()
	defer t.mu.Unlock()
	var stale, keep []*trackedStanza
	for _, e := range t.queue {
		if e.conn == nil || e.conn == current {
			keep = append(keep, e)
			continue
		}
		stale = append(stale, e)
	}
	t.queue = keep
	t.gauge.Set(float64(len(t.queue)))
	return stale
}

func (t *tracker) len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.queue)
}
