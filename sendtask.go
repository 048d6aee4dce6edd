// Copyright 2021 The Mellium Contributors.
// Use of this source code is governed by the BSD 2-clause
// license that can be found in the LICENSE file.

package client

import (
	"context"
	"sync"

	"mellium.im/client/stanza"
)

// SendTask tracks a stanza passed to Send.
//
// Callbacks may be attached at any time. Each attached callback runs exactly
// once: when the corresponding event happens, or immediately if it already
// has. Callbacks never run while the task or the session hold a lock, so they
// may call back into the session.
type SendTask struct {
	st stanza.Stanza

	mu      sync.Mutex
	current *attempt
	sent    bool
	acked   bool
	failErr error

	onSent   []func()
	onFailed []func(error)
	onAcked  []func()
}

// attempt is a single transmission of the stanza.
type attempt struct {
	done chan struct{}
	err  error
}

func newSendTask(st stanza.Stanza) *SendTask {
	return &SendTask{st: st}
}

// Stanza returns the stanza being sent.
func (t *SendTask) Stanza() stanza.Stanza {
	return t.st
}

// OnSent registers f to run once the stanza has been written to the
// connection.
func (t *SendTask) OnSent(f func()) *SendTask {
	t.mu.Lock()
	if !t.sent {
		t.onSent = append(t.onSent, f)
		t.mu.Unlock()
		return t
	}
	t.mu.Unlock()
	f()
	return t
}

// OnFailed registers f to run if writing the stanza fails.
// If the stanza is resent after a reconnect, f still only sees the first
// failure.
func (t *SendTask) OnFailed(f func(error)) *SendTask {
	t.mu.Lock()
	err := t.failErr
	if err == nil {
		t.onFailed = append(t.onFailed, f)
		t.mu.Unlock()
		return t
	}
	t.mu.Unlock()
	f(err)
	return t
}

// OnAcknowledged registers f to run once the server acknowledges receipt of
// the stanza.
// Only connections using stream management produce acknowledgements.
func (t *SendTask) OnAcknowledged(f func()) *SendTask {
	t.mu.Lock()
	if !t.acked {
		t.onAcked = append(t.onAcked, f)
		t.mu.Unlock()
		return t
	}
	t.mu.Unlock()
	f()
	return t
}

// Wait blocks until the most recent transmission of the stanza completes
// and returns its result.
func (t *SendTask) Wait(ctx context.Context) error {
	t.mu.Lock()
	a := t.current
	t.mu.Unlock()
	if a == nil {
		return ErrNotConnected
	}
	select {
	case <-a.done:
		return a.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// link makes the result delivered on res the current outcome of the task.
// after runs once the result is known, before any callback.
func (t *SendTask) link(res <-chan error, after func(error)) {
	a := &attempt{done: make(chan struct{})}
	t.mu.Lock()
	t.current = a
	t.mu.Unlock()
	go func() {
		err := <-res
		a.err = err
		close(a.done)
		if after != nil {
			after(err)
		}
		t.complete(err)
	}()
}

func (t *SendTask) complete(err error) {
	t.mu.Lock()
	if err != nil {
		if t.failErr != nil {
			t.mu.Unlock()
			return
		}
		t.failErr = err
		fns := t.onFailed
		t.onFailed = nil
		t.mu.Unlock()
		for _, f := range fns {
			f(err)
		}
		return
	}
	if t.sent {
		t.mu.Unlock()
		return
	}
	t.sent = true
	fns := t.onSent
	t.onSent = nil
	t.mu.Unlock()
	for _, f := range fns {
		f()
	}
}

func (t *SendTask) acknowledge() {
	t.mu.Lock()
	if t.acked {
		t.mu.Unlock()
		return
	}
	t.acked = true
	fns := t.onAcked
	t.onAcked = nil
	t.mu.Unlock()
	for _, f := range fns {
		f()
	}
}
