// Copyright 2024 The Mellium Contributors.
// Use of this source code is governed by the BSD 2-clause
// license that can be found in the LICENSE file.

package reconnect_test

import (
	"errors"
	"fmt"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"mellium.im/client/reconnect"
	"mellium.im/client/stream"
)

func TestBackoffBounds(t *testing.T) {
	const (
		slot    = 10 * time.Millisecond
		ceiling = 4
	)
	s := reconnect.TruncatedBinaryExponentialBackoff(slot, ceiling)
	for attempt := 0; attempt < 10; attempt++ {
		bound := time.Duration((1<<(min(attempt, ceiling)+1))-1) * slot
		assert.Equal(t, bound, reconnect.BackoffBound(slot, ceiling, attempt), "attempt %d", attempt)
		for i := 0; i < 200; i++ {
			d := s.NextAttempt(attempt, io.EOF)
			assert.GreaterOrEqual(t, d, time.Duration(0))
			assert.Less(t, d, bound, "attempt %d", attempt)
		}
	}
}

func TestBackoffTruncation(t *testing.T) {
	atCeiling := reconnect.BackoffBound(time.Second, 3, 3)
	for _, attempt := range []int{3, 4, 10, 1000} {
		assert.Equal(t, atCeiling, reconnect.BackoffBound(time.Second, 3, attempt))
	}
	assert.Equal(t, 15*time.Second, atCeiling)
	assert.Equal(t, time.Second, reconnect.BackoffBound(time.Second, 3, 0))
}

func TestMayReconnect(t *testing.T) {
	s := reconnect.Default()
	for _, tc := range []struct {
		cause error
		want  bool
	}{
		{cause: nil, want: true},
		{cause: io.EOF, want: true},
		{cause: stream.SystemShutdown, want: true},
		{cause: stream.HostGone, want: true},
		{cause: stream.Conflict, want: false},
		{cause: &stream.Error{Err: "conflict", Text: "replaced by new connection"}, want: false},
		{cause: fmt.Errorf("read: %w", stream.Conflict), want: false},
	} {
		for attempt := 0; attempt < 3; attempt++ {
			assert.Equal(t, tc.want, s.MayReconnect(attempt, tc.cause), "cause %v attempt %d", tc.cause, attempt)
		}
	}
}

func TestFixedDelay(t *testing.T) {
	s := reconnect.FixedDelay(3 * time.Second)
	assert.Equal(t, 3*time.Second, s.NextAttempt(0, nil))
	assert.Equal(t, 3*time.Second, s.NextAttempt(7, io.EOF))
}

func TestRandomDelay(t *testing.T) {
	s := reconnect.RandomDelay(time.Second, 2*time.Second)
	for i := 0; i < 100; i++ {
		d := s.NextAttempt(i, nil)
		assert.GreaterOrEqual(t, d, time.Second)
		assert.Less(t, d, 2*time.Second)
	}
}

func TestNever(t *testing.T) {
	assert.False(t, reconnect.Never().MayReconnect(0, io.EOF))
}

func TestSystemShutdownSwitchesPermanently(t *testing.T) {
	s := reconnect.OnSystemShutdown(reconnect.FixedDelay(time.Second), reconnect.FixedDelay(time.Minute))
	assert.Equal(t, time.Second, s.NextAttempt(0, io.EOF))
	assert.Equal(t, time.Minute, s.NextAttempt(0, stream.SystemShutdown))
	assert.Equal(t, time.Minute, s.NextAttempt(1, io.EOF))
	assert.Equal(t, time.Minute, s.NextAttempt(2, errors.New("other")))
}
