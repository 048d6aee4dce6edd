// Copyright 2021 The Mellium Contributors.
// Use of this source code is governed by the BSD 2-clause
// license that can be found in the LICENSE file.

package client

import (
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
)

func TestRegistryOrder(t *testing.T) {
	var r registry[int]
	r.add(1)
	removeTwo := r.add(2)
	r.add(3)
	assert.Equal(t, []int{1, 2, 3}, r.snapshot())

	removeTwo()
	removeTwo()
	assert.Equal(t, []int{1, 3}, r.snapshot())

	r.add(2)
	assert.Equal(t, []int{1, 3, 2}, r.snapshot())

	r.clear()
	assert.Empty(t, r.snapshot())
}

func TestRegistryRemoveOnlyItself(t *testing.T) {
	var r registry[string]
	remove := r.add("a")
	r.add("a")
	remove()
	remove()
	assert.Equal(t, []string{"a"}, r.snapshot())
}

func TestSerialExecutorOrder(t *testing.T) {
	log, _ := test.NewNullLogger()
	e := newSerialExecutor(log)

	var mu sync.Mutex
	var got []int
	done := make(chan struct{})
	for i := 0; i < 100; i++ {
		i := i
		e.submit(func() {
			mu.Lock()
			got = append(got, i)
			mu.Unlock()
			if i == 99 {
				close(done)
			}
		})
	}
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("executor did not drain")
	}

	mu.Lock()
	defer mu.Unlock()
	for i, v := range got {
		if v != i {
			t.Fatalf("function %d ran at position %d", v, i)
		}
	}
}

func TestSerialExecutorSurvivesPanic(t *testing.T) {
	log, hook := test.NewNullLogger()
	e := newSerialExecutor(log)

	done := make(chan struct{})
	e.submit(func() { panic("boom") })
	e.submit(func() { close(done) })
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("executor stopped after a panic")
	}
	entry := hook.LastEntry()
	if assert.NotNil(t, entry) {
		assert.Equal(t, logrus.ErrorLevel, entry.Level)
		assert.Equal(t, "boom", entry.Data["panic"])
	}
}

func TestStatusListenerMayCallSession(t *testing.T) {
	srv := newFakeServer()
	s := newTestSession(t, testConfig(srv))

	var mu sync.Mutex
	var statuses []Status
	s.AddStatusListener(func(ev SessionStatusEvent) {
		// Listeners run without the session lock held.
		st := s.Status()
		mu.Lock()
		statuses = append(statuses, st)
		mu.Unlock()
	})
	assert.NoError(t, s.Connect(testContext(t)))
	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []Status{StatusConnecting, StatusConnected}, statuses)
}
