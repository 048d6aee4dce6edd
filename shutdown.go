// Copyright 2021 The Mellium Contributors.
// Use of this source code is governed by the BSD 2-clause
// license that can be found in the LICENSE file.

package client

import (
	"context"
	"os"
	"os/signal"
	"syscall"
)

// closeOnSignal closes the session when the process is interrupted or
// terminated. The hook is removed when ctx is cancelled.
func (s *Session) closeOnSignal(ctx context.Context) {
	sigCtx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	go func() {
		defer stop()
		<-sigCtx.Done()
		if ctx.Err() != nil {
			return
		}
		s.log.Info("closing session on signal")
		if err := s.Close(); err != nil {
			s.log.WithError(err).Warn("closing session failed")
		}
	}()
}
