// Copyright 2021 The Mellium Contributors.
// Use of this source code is governed by the BSD 2-clause
// license that can be found in the LICENSE file.

package client

import (
	"context"
	"errors"
	"time"

	"mellium.im/xmpp/jid"

	"mellium.im/client/stanza"
)

// keepAlive pings the server every interval while the session is
// authenticated. A ping that goes unanswered is treated as a broken
// connection.
func (s *Session) keepAlive(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		if s.Status() != StatusAuthenticated {
			continue
		}
		if err := s.Ping(ctx); err != nil {
			var noResponse *NoResponseError
			if errors.As(err, &noResponse) {
				s.log.WithError(err).Warn("keep-alive ping failed")
				s.NotifyException(&ConnectionError{Err: err})
			}
		}
	}
}

// Ping sends a ping to the server and waits for the reply.
// A server that does not support pings still counts as alive.
func (s *Session) Ping(ctx context.Context) error {
	to, err := jid.Parse(s.cfg.Domain)
	if err != nil {
		return err
	}
	iq := stanza.NewIQ(stanza.GetIQ, stanza.Extension{XMLName: pingName})
	iq.To = to
	_, err = s.Query(ctx, iq)
	var stanzaErr stanza.Error
	if errors.As(err, &stanzaErr) {
		return nil
	}
	return err
}
