// Copyright 2016 The Mellium Contributors.
// Use of this source code is governed by the BSD 2-clause
// license that can be found in the LICENSE file.

package client

import (
	"bufio"
	"bytes"
	"context"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"sync/atomic"

	"github.com/sirupsen/logrus"

	"mellium.im/client/internal/ns"
	"mellium.im/client/stanza"
)

const outboundQueue = 64

// framer produces the stream level framing of a transport.
type framer interface {
	open(h StreamHeader) []byte
	close() []byte
	isClose(start xml.StartElement) bool
}

// tcpFramer frames a stream as a single XML document as in RFC 6120.
type tcpFramer struct{}

func (tcpFramer) open(h StreamHeader) []byte {
	var b bytes.Buffer
	b.WriteString(`<?xml version='1.0'?><stream:stream xmlns='jabber:client' xmlns:stream='http://etherx.jabber.org/streams'`)
	writeHeaderAttrs(&b, h)
	b.WriteString(`>`)
	return b.Bytes()
}

func (tcpFramer) close() []byte {
	return []byte(`</stream:stream>`)
}

func (tcpFramer) isClose(xml.StartElement) bool {
	return false
}

// wsFramer frames a stream as a sequence of standalone documents as in
// RFC 7395.
type wsFramer struct{}

func (wsFramer) open(h StreamHeader) []byte {
	var b bytes.Buffer
	b.WriteString(`<open xmlns='` + ns.Framing + `'`)
	writeHeaderAttrs(&b, h)
	b.WriteString(`/>`)
	return b.Bytes()
}

func (wsFramer) close() []byte {
	return []byte(`<close xmlns='` + ns.Framing + `'/>`)
}

func (wsFramer) isClose(start xml.StartElement) bool {
	return start.Name == xml.Name{Space: ns.Framing, Local: "close"}
}

func writeHeaderAttrs(b *bytes.Buffer, h StreamHeader) {
	attr := func(name, value string) {
		if value == "" {
			return
		}
		b.WriteString(` ` + name + `='`)
		// Errors from EscapeText come only from the writer.
		_ = xml.EscapeText(b, []byte(value))
		b.WriteString(`'`)
	}
	attr("to", h.To)
	attr("from", h.From)
	version := h.Version
	if version == "" {
		version = "1.0"
	}
	attr("version", version)
	attr("xml:lang", h.Lang)
}

type outbound struct {
	el   Element
	data []byte
	res  chan error
}

// streamConn implements the parts of Connection shared by all transports
// that carry XML over a net.Conn: a writer goroutine that serializes outbound
// elements and a reader goroutine that decodes inbound elements.
type streamConn struct {
	name  string
	opts  ConnectionOptions
	log   logrus.FieldLogger
	frame framer

	mu       sync.Mutex
	conn     net.Conn
	w        io.Writer
	flush    func() error
	br       *bufio.Reader
	secure   bool
	resetDec bool

	ctx       context.Context
	cancel    context.CancelFunc
	out       chan outbound
	stop      chan struct{}
	readDone  chan struct{}
	reading   atomic.Bool
	closing   atomic.Bool
	closeOnce sync.Once
	readOnce  sync.Once
	writeOnce sync.Once
}

func newStreamConn(name string, opts ConnectionOptions, frame framer) *streamConn {
	log := opts.Logger
	if log == nil {
		log = discardLogger()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &streamConn{
		name:     name,
		opts:     opts,
		log:      log.WithField("transport", name),
		frame:    frame,
		ctx:      ctx,
		cancel:   cancel,
		out:      make(chan outbound, outboundQueue),
		stop:     make(chan struct{}),
		readDone: make(chan struct{}),
	}
}

// attach sets the underlying connection and starts the writer.
func (c *streamConn) attach(conn net.Conn, secure bool) {
	c.mu.Lock()
	c.conn = conn
	c.w = conn
	c.br = bufio.NewReader(conn)
	c.secure = secure
	c.mu.Unlock()
	c.writeOnce.Do(func() {
		go c.writeLoop()
	})
}

func (c *streamConn) attached() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn != nil
}

// Open sends a new stream header and starts reading if this is the first
// stream on the connection.
func (c *streamConn) Open(ctx context.Context, h StreamHeader) error {
	if c.closing.Load() {
		return ErrConnClosed
	}
	c.mu.Lock()
	c.resetDec = true
	c.mu.Unlock()

	res := make(chan error, 1)
	select {
	case c.out <- outbound{data: c.frame.open(h), res: res}:
	case <-c.stop:
		return ErrConnClosed
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case err := <-res:
		if err != nil {
			return err
		}
	case <-ctx.Done():
		return ctx.Err()
	}
	c.readOnce.Do(func() {
		c.reading.Store(true)
		go c.readLoop()
	})
	return nil
}

// Send implements Connection.
func (c *streamConn) Send(el Element) <-chan error {
	res := make(chan error, 1)
	if c.closing.Load() {
		res <- ErrConnClosed
		return res
	}
	select {
	case c.out <- outbound{el: el, res: res}:
	case <-c.stop:
		res <- ErrConnClosed
	}
	return res
}

// UsesAcknowledgements implements Connection.
// Stream management acknowledgements are tracked by the session, not the
// transport.
func (c *streamConn) UsesAcknowledgements() bool {
	return false
}

// IsSecure implements Connection.
func (c *streamConn) IsSecure() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.secure
}

// Close implements Connection.
func (c *streamConn) Close() error {
	var err error
	c.closeOnce.Do(func() {
		c.closing.Store(true)
		timeout := c.opts.CloseTimeout
		if timeout <= 0 {
			timeout = defaultCloseTimeout
		}
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()

		if c.attached() {
			res := make(chan error, 1)
			select {
			case c.out <- outbound{data: c.frame.close(), res: res}:
				select {
				case <-res:
				case <-ctx.Done():
				}
			case <-ctx.Done():
			}
		}
		if c.reading.Load() {
			select {
			case <-c.readDone:
			case <-ctx.Done():
				c.log.Debug("peer did not close the stream in time")
			}
		}
		close(c.stop)
		c.cancel()

		c.mu.Lock()
		conn := c.conn
		c.mu.Unlock()
		if conn != nil {
			err = conn.Close()
		}
	})
	return err
}

func (c *streamConn) writeLoop() {
	for {
		select {
		case <-c.stop:
			for {
				select {
				case ob := <-c.out:
					ob.res <- ErrConnClosed
				default:
					return
				}
			}
		case ob := <-c.out:
			ob.res <- c.write(ob)
		}
	}
}

func (c *streamConn) write(ob outbound) error {
	data := ob.data
	if data == nil {
		if _, ok := ob.el.(stanza.Stanza); ok && c.opts.Limiter != nil {
			if err := c.opts.Limiter.Wait(c.ctx); err != nil {
				return err
			}
		}
		var err error
		if data, err = xml.Marshal(ob.el); err != nil {
			return err
		}
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if _, err := c.w.Write(data); err != nil {
		return &ConnectionError{Transport: c.name, Err: err}
	}
	if c.flush != nil {
		if err := c.flush(); err != nil {
			return &ConnectionError{Transport: c.name, Err: err}
		}
	}
	return nil
}

func (c *streamConn) readLoop() {
	err := c.read()
	close(c.readDone)
	if c.closing.Load() {
		return
	}
	c.opts.Handler.NotifyException(err)
}

func (c *streamConn) read() error {
	var d *xml.Decoder
	for {
		c.mu.Lock()
		if d == nil || c.resetDec {
			d = xml.NewDecoder(c.br)
			c.resetDec = false
		}
		c.mu.Unlock()

		tok, err := d.Token()
		if err != nil {
			if c.closing.Load() {
				return nil
			}
			return &ConnectionError{Transport: c.name, Err: err}
		}
		switch t := tok.(type) {
		case xml.StartElement:
			if c.frame.isClose(t) {
				return &ConnectionError{Transport: c.name, Err: io.EOF}
			}
			el, err := decodeElement(d, t)
			if err != nil {
				var syntaxErr *xml.SyntaxError
				if errors.As(err, &syntaxErr) {
					return &ConnectionError{Transport: c.name, Err: err}
				}
				c.log.WithError(err).WithField("element", t.Name.Local).Warn("dropping undecodable element")
				continue
			}
			if err := c.opts.Handler.HandleElement(el); err != nil {
				return err
			}
		case xml.EndElement:
			if t.Name == (xml.Name{Space: ns.Stream, Local: "stream"}) {
				return &ConnectionError{Transport: c.name, Err: fmt.Errorf("stream closed by peer: %w", io.EOF)}
			}
		}
	}
}
