// Copyright 2024 The Mellium Contributors.
// Use of this source code is governed by the BSD 2-clause
// license that can be found in the LICENSE file.

// Package reconnect contains strategies that decide whether and when a client
// should try to reestablish a session that was lost.
//
// Strategies compose by delegation, for example:
//
//	s := reconnect.OnSystemShutdown(
//		reconnect.TruncatedBinaryExponentialBackoff(60*time.Second, 5),
//		reconnect.RandomDelay(60*time.Second, 120*time.Second),
//	)
package reconnect // import "mellium.im/client/reconnect"

import (
	"errors"
	"math/rand"
	"sync/atomic"
	"time"

	"mellium.im/client/stream"
)

// Strategy computes reconnection delays.
// Attempts are numbered from zero and cause is the error that ended the
// previous session or made the previous attempt fail.
type Strategy interface {
	MayReconnect(attempt int, cause error) bool
	NextAttempt(attempt int, cause error) time.Duration
}

// MayReconnect is the default reconnection predicate.
// It reports false only if cause is a conflict stream error, since that means
// another resource displaced this one and reconnecting would just repeat it.
func MayReconnect(_ int, cause error) bool {
	return !errors.Is(cause, stream.Conflict)
}

// Func adapts a delay function to a Strategy that uses the default predicate.
type Func func(attempt int, cause error) time.Duration

// MayReconnect implements Strategy using the default predicate.
func (f Func) MayReconnect(attempt int, cause error) bool {
	return MayReconnect(attempt, cause)
}

// NextAttempt implements Strategy.
func (f Func) NextAttempt(attempt int, cause error) time.Duration {
	return f(attempt, cause)
}

// TruncatedBinaryExponentialBackoff waits a random number of slots between
// zero and 2^(attempt+1)-1, exclusive.
// Attempts above ceiling are treated as ceiling.
func TruncatedBinaryExponentialBackoff(slot time.Duration, ceiling int) Strategy {
	return Func(func(attempt int, _ error) time.Duration {
		return randomDuration(0, BackoffBound(slot, ceiling, attempt))
	})
}

// BackoffBound returns the exclusive upper bound of the wait chosen by
// TruncatedBinaryExponentialBackoff for attempt.
func BackoffBound(slot time.Duration, ceiling, attempt int) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	if ceiling < 0 {
		ceiling = 0
	}
	n := min(attempt, ceiling)
	// Avoid overflowing the shift with absurd ceilings.
	n = min(n, 30)
	return time.Duration((1<<(n+1))-1) * slot
}

// FixedDelay always waits d.
func FixedDelay(d time.Duration) Strategy {
	return Func(func(int, error) time.Duration {
		return d
	})
}

// RandomDelay waits a random duration in [lo, hi).
func RandomDelay(lo, hi time.Duration) Strategy {
	return Func(func(int, error) time.Duration {
		return randomDuration(lo, hi)
	})
}

// Never is a strategy that never reconnects.
func Never() Strategy {
	return never{}
}

type never struct{}

func (never) MayReconnect(int, error) bool          { return false }
func (never) NextAttempt(int, error) time.Duration { return 0 }

// OnSystemShutdown delegates to primary until a system-shutdown stream error
// is seen as a cause, and to afterShutdown for every decision after that.
func OnSystemShutdown(primary, afterShutdown Strategy) Strategy {
	return &hybrid{primary: primary, afterShutdown: afterShutdown}
}

type hybrid struct {
	primary       Strategy
	afterShutdown Strategy
	shutdown      atomic.Bool
}

func (h *hybrid) pick(cause error) Strategy {
	if errors.Is(cause, stream.SystemShutdown) {
		h.shutdown.Store(true)
	}
	if h.shutdown.Load() {
		return h.afterShutdown
	}
	return h.primary
}

func (h *hybrid) MayReconnect(attempt int, cause error) bool {
	return h.pick(cause).MayReconnect(attempt, cause)
}

func (h *hybrid) NextAttempt(attempt int, cause error) time.Duration {
	return h.pick(cause).NextAttempt(attempt, cause)
}

// Default returns the strategy used when none is configured: truncated binary
// exponential backoff with a 60 second slot and a ceiling of 5, switching to a
// random delay of one to two minutes once the server has announced a shutdown.
func Default() Strategy {
	return OnSystemShutdown(
		TruncatedBinaryExponentialBackoff(60*time.Second, 5),
		RandomDelay(60*time.Second, 120*time.Second),
	)
}

func randomDuration(lo, hi time.Duration) time.Duration {
	if hi <= lo {
		return lo
	}
	return lo + time.Duration(rand.Int63n(int64(hi-lo)))
}
