// Copyright 2021 The Mellium Contributors.
// Use of this source code is governed by the BSD 2-clause
// license that can be found in the LICENSE file.

package client

import (
	"context"
	"encoding/base64"
	"encoding/xml"
	"fmt"
	"io"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"mellium.im/sasl"

	"mellium.im/client/internal/ns"
	"mellium.im/client/reconnect"
	"mellium.im/client/stanza"
)

const testDomain = "example.com"

// fakeServer plays the server side of a stream at the element level, without
// any XML on the wire.
type fakeServer struct {
	mechanisms    []string
	sm            bool
	resume        bool
	failAuth      bool
	legacySession bool
	bindJID       string
	// successData is sent base64 encoded in every SASL success.
	successData string

	// handleIQ may answer IQs the server does not know about.
	handleIQ func(iq *stanza.IQ) *stanza.IQ

	mu    sync.Mutex
	conns []*fakeConn
	sent  []sentElement
}

type sentElement struct {
	conn int
	el   Element
}

func newFakeServer() *fakeServer {
	return &fakeServer{
		mechanisms: []string{"PLAIN"},
		bindJID:    "juliet@example.com/balcony",
	}
}

func (s *fakeServer) record(c *fakeConn, el Element) {
	s.mu.Lock()
	s.sent = append(s.sent, sentElement{conn: c.id, el: el})
	s.mu.Unlock()
}

// stanzas returns the stanzas written to connection conn, or to any
// connection if conn is negative.
func (s *fakeServer) stanzas(conn int) []stanza.Stanza {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []stanza.Stanza
	for _, e := range s.sent {
		if st, ok := e.el.(stanza.Stanza); ok && (conn < 0 || e.conn == conn) {
			out = append(out, st)
		}
	}
	return out
}

func (s *fakeServer) messages(conn int) []*stanza.Message {
	var out []*stanza.Message
	for _, st := range s.stanzas(conn) {
		if m, ok := st.(*stanza.Message); ok {
			out = append(out, m)
		}
	}
	return out
}

func (s *fakeServer) presences() []*stanza.Presence {
	var out []*stanza.Presence
	for _, st := range s.stanzas(-1) {
		if p, ok := st.(*stanza.Presence); ok {
			out = append(out, p)
		}
	}
	return out
}

func (s *fakeServer) iqs() []*stanza.IQ {
	var out []*stanza.IQ
	for _, st := range s.stanzas(-1) {
		if iq, ok := st.(*stanza.IQ); ok {
			out = append(out, iq)
		}
	}
	return out
}

// nonzas returns the sent nonzas with the given name.
func (s *fakeServer) nonzas(space, local string) []*Nonza {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*Nonza
	for _, e := range s.sent {
		if nz, ok := e.el.(*Nonza); ok && nz.XMLName.Space == space && nz.XMLName.Local == local {
			out = append(out, nz)
		}
	}
	return out
}

// conn returns the i'th connection made to the server.
func (s *fakeServer) conn(i int) *fakeConn {
	s.mu.Lock()
	defer s.mu.Unlock()
	if i >= len(s.conns) {
		return nil
	}
	return s.conns[i]
}

func (s *fakeServer) connCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.conns)
}

func (s *fakeServer) features(authenticated bool) *Features {
	f := &Features{}
	if !authenticated {
		var inner strings.Builder
		for _, m := range s.mechanisms {
			inner.WriteString("<mechanism>" + m + "</mechanism>")
		}
		f.List = append(f.List, *newNonza(ns.SASL, "mechanisms", inner.String()))
		return f
	}
	f.List = append(f.List, *newNonza(ns.Bind, "bind", ""))
	if s.sm {
		f.List = append(f.List, *newNonza(ns.SM, "sm", ""))
	}
	if s.legacySession {
		f.List = append(f.List, *newNonza(ns.Session, "session", ""))
	}
	return f
}

func smAttr(name, value string) xml.Attr {
	return xml.Attr{Name: xml.Name{Local: name}, Value: value}
}

func (s *fakeServer) respond(c *fakeConn, el Element) {
	switch el := el.(type) {
	case *Nonza:
		switch el.XMLName {
		case xml.Name{Space: ns.SASL, Local: "auth"}:
			if s.failAuth {
				c.push(newNonza(ns.SASL, "failure", "<not-authorized/>"))
				return
			}
			c.authenticated.Store(true)
			var data string
			if s.successData != "" {
				data = base64.StdEncoding.EncodeToString([]byte(s.successData))
			}
			c.push(newNonza(ns.SASL, "success", data))
		case xml.Name{Space: ns.SM, Local: "enable"}:
			c.push(newNonza(ns.SM, "enabled", "", smAttr("id", "sm-1"), smAttr("resume", "true")))
		case xml.Name{Space: ns.SM, Local: "resume"}:
			if s.resume {
				c.push(newNonza(ns.SM, "resumed", "", smAttr("previd", el.AttrValue("previd")), smAttr("h", "0")))
				return
			}
			c.push(newNonza(ns.SM, "failed", "<item-not-found xmlns='urn:ietf:params:xml:ns:xmpp-stanzas'/>"))
		}
	case *stanza.IQ:
		if s.handleIQ != nil {
			if resp := s.handleIQ(el); resp != nil {
				c.push(resp)
				return
			}
		}
		payload, ok := el.Payload()
		if !ok || !el.Type.IsRequest() {
			return
		}
		switch payload.XMLName {
		case bindName:
			ext, err := stanza.NewExtension(bindPayload{JID: s.bindJID})
			if err != nil {
				panic(err)
			}
			c.push(el.Result(ext))
		case sessionName, rosterName:
			c.push(el.Result())
		}
	}
}

// fakeTransport creates connections to a fakeServer.
type fakeTransport struct {
	srv     *fakeServer
	openErr error
}

func (t *fakeTransport) Name() string {
	return "fake"
}

func (t *fakeTransport) NewConnection(opts ConnectionOptions) Connection {
	c := &fakeConn{
		srv:     t.srv,
		opts:    opts,
		openErr: t.openErr,
		in:      make(chan Element, 256),
		done:    make(chan struct{}),
	}
	t.srv.mu.Lock()
	c.id = len(t.srv.conns)
	t.srv.conns = append(t.srv.conns, c)
	t.srv.mu.Unlock()
	return c
}

// fakeConn delivers what the server pushes on its own reader goroutine, like
// a real connection would.
type fakeConn struct {
	srv     *fakeServer
	id      int
	opts    ConnectionOptions
	openErr error

	in            chan Element
	done          chan struct{}
	closeOnce     sync.Once
	readOnce      sync.Once
	authenticated atomic.Bool
}

func (c *fakeConn) Open(_ context.Context, h StreamHeader) error {
	if c.openErr != nil {
		return c.openErr
	}
	select {
	case <-c.done:
		return ErrConnClosed
	default:
	}
	c.readOnce.Do(func() {
		go c.read()
	})
	c.push(&StreamOpen{ID: fmt.Sprintf("stream-%d", c.id), From: h.To, Version: "1.0"})
	c.push(c.srv.features(c.authenticated.Load()))
	return nil
}

func (c *fakeConn) Send(el Element) <-chan error {
	res := make(chan error, 1)
	select {
	case <-c.done:
		res <- ErrConnClosed
		return res
	default:
	}
	c.srv.record(c, el)
	res <- nil
	c.srv.respond(c, el)
	return res
}

func (c *fakeConn) Close() error {
	c.closeOnce.Do(func() {
		close(c.done)
	})
	return nil
}

func (c *fakeConn) UsesAcknowledgements() bool { return false }
func (c *fakeConn) IsSecure() bool             { return true }

// push queues el as if the server had sent it.
func (c *fakeConn) push(el Element) {
	select {
	case c.in <- el:
	case <-c.done:
	}
}

// drop breaks the connection as if the server had gone away.
func (c *fakeConn) drop() {
	c.push(nil)
}

func (c *fakeConn) closed() bool {
	select {
	case <-c.done:
		return true
	default:
		return false
	}
}

func (c *fakeConn) read() {
	for {
		select {
		case <-c.done:
			return
		case el := <-c.in:
			if el == nil {
				c.opts.Handler.NotifyException(&ConnectionError{Transport: "fake", Err: io.EOF})
				return
			}
			if err := c.opts.Handler.HandleElement(el); err != nil {
				c.opts.Handler.NotifyException(err)
				return
			}
		}
	}
}

func testConfig(srv *fakeServer) Config {
	return Config{
		Domain:          testDomain,
		Transports:      []Transport{&fakeTransport{srv: srv}},
		ResponseTimeout: 2 * time.Second,
		CloseTimeout:    100 * time.Millisecond,
		Mechanisms:      []sasl.Mechanism{sasl.Plain},
		Reconnection:    reconnect.Never(),
	}
}

func newTestSession(t *testing.T, cfg Config) *Session {
	t.Helper()
	s, err := New(cfg)
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = s.Close()
	})
	return s
}

func testContext(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	t.Cleanup(cancel)
	return ctx
}

// loggedIn returns a session that has connected to srv and logged in.
func loggedIn(t *testing.T, srv *fakeServer, modify func(*Config)) *Session {
	t.Helper()
	cfg := testConfig(srv)
	if modify != nil {
		modify(&cfg)
	}
	s := newTestSession(t, cfg)
	ctx := testContext(t)
	require.NoError(t, s.Connect(ctx))
	require.NoError(t, s.Login(ctx, "juliet", "secret", "balcony"))
	require.Equal(t, StatusAuthenticated, s.Status())
	return s
}
