// Copyright 2020 The Mellium Contributors.
// Use of this source code is governed by the BSD 2-clause
// license that can be found in the LICENSE file.

package client

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sync"

	"nhooyr.io/websocket"
)

const wsProtocol = "xmpp"

// WebSocketTransport connects using the WebSocket framing of RFC 7395.
type WebSocketTransport struct {
	// URL is the endpoint to dial.
	// If empty, it is discovered through the domain's host-meta document.
	URL        string
	HTTPClient *http.Client
}

// Name implements Transport.
func (t *WebSocketTransport) Name() string {
	return "websocket"
}

// NewConnection implements Transport.
func (t *WebSocketTransport) NewConnection(opts ConnectionOptions) Connection {
	return &wsConn{
		streamConn: newStreamConn(t.Name(), opts, wsFramer{}),
		t:          t,
	}
}

type wsConn struct {
	*streamConn
	t *WebSocketTransport

	dialMu sync.Mutex
}

func (c *wsConn) Open(ctx context.Context, h StreamHeader) error {
	if err := c.dial(ctx); err != nil {
		return err
	}
	return c.streamConn.Open(ctx, h)
}

func (c *wsConn) urls(ctx context.Context) ([]string, error) {
	if c.t.URL != "" {
		return []string{c.t.URL}, nil
	}
	urls, err := lookupWebSocket(ctx, c.t.HTTPClient, c.opts.Domain)
	if err != nil {
		return nil, err
	}
	if len(urls) == 0 {
		return nil, ErrNoService
	}
	return urls, nil
}

func (c *wsConn) dial(ctx context.Context) error {
	c.dialMu.Lock()
	defer c.dialMu.Unlock()
	if c.attached() {
		return nil
	}
	if c.closing.Load() {
		return ErrConnClosed
	}

	urls, err := c.urls(ctx)
	if err != nil {
		return &ConnectionError{Transport: c.name, Err: err}
	}
	var errs []error
	for _, u := range urls {
		parsed, err := url.Parse(u)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		c.log.WithField("url", u).Debug("dialing")
		ws, _, err := websocket.Dial(ctx, u, &websocket.DialOptions{
			HTTPClient:   c.t.HTTPClient,
			Subprotocols: []string{wsProtocol},
		})
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if ws.Subprotocol() != wsProtocol {
			_ = ws.Close(websocket.StatusProtocolError, "unsupported subprotocol")
			errs = append(errs, fmt.Errorf("client: server at %s did not negotiate the %q subprotocol", u, wsProtocol))
			continue
		}
		// The connection outlives ctx, so it is bound to the connection's own
		// context instead.
		c.attach(websocket.NetConn(c.ctx, ws, websocket.MessageText), parsed.Scheme == "wss" || parsed.Scheme == "https")
		return nil
	}
	return &ConnectionError{Transport: c.name, Err: errors.Join(errs...)}
}
