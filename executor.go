// Copyright 2021 The Mellium Contributors.
// Use of this source code is governed by the BSD 2-clause
// license that can be found in the LICENSE file.

package client

import (
	"fmt"
	"runtime/debug"
	"sync"

	"github.com/sirupsen/logrus"
)

// serialExecutor runs submitted functions one at a time in submission order.
// A goroutine is only kept alive while there is work queued.
type serialExecutor struct {
	log logrus.FieldLogger

	mu      sync.Mutex
	queue   []func()
	running bool
}

func newSerialExecutor(log logrus.FieldLogger) *serialExecutor {
	return &serialExecutor{log: log}
}

func (e *serialExecutor) submit(f func()) {
	e.mu.Lock()
	e.queue = append(e.queue, f)
	if e.running {
		e.mu.Unlock()
		return
	}
	e.running = true
	e.mu.Unlock()
	go e.drain()
}

func (e *serialExecutor) drain() {
	for {
		e.mu.Lock()
		if len(e.queue) == 0 {
			e.running = false
			e.mu.Unlock()
			return
		}
		f := e.queue[0]
		e.queue[0] = nil
		e.queue = e.queue[1:]
		e.mu.Unlock()

		safeCall(e.log, f)
	}
}

// safeCall runs f and logs a panic instead of propagating it.
func safeCall(log logrus.FieldLogger, f func()) {
	defer func() {
		if r := recover(); r != nil {
			log.WithFields(logrus.Fields{
				"panic": fmt.Sprint(r),
				"stack": string(debug.Stack()),
			}).Error("recovered from panic in callback")
		}
	}()
	f()
}
