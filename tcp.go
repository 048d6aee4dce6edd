// Copyright 2016 The Mellium Contributors.
// Use of this source code is governed by the BSD 2-clause
// license that can be found in the LICENSE file.

package client

import (
	"bufio"
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"

	"github.com/klauspost/compress/zlib"
	"golang.org/x/net/idna"
)

// TCPTransport connects over TCP as described in RFC 6120.
type TCPTransport struct {
	// Host and Port skip service discovery when Host is set.
	// A zero Port defaults to 5222, or 5223 with DirectTLS.
	Host string
	Port uint16

	// DirectTLS negotiates TLS immediately after connecting instead of using
	// STARTTLS.
	DirectTLS bool

	TLSConfig *tls.Config
	Policy    TLSPolicy

	// Resolver looks up the xmpp-client SRV records.
	// If nil, the system resolver is used.
	Resolver Resolver

	// DialFunc dials addr. If nil, a net.Dialer is used.
	DialFunc func(ctx context.Context, network, addr string) (net.Conn, error)
}

// Name implements Transport.
func (t *TCPTransport) Name() string {
	return "tcp"
}

// NewConnection implements Transport.
func (t *TCPTransport) NewConnection(opts ConnectionOptions) Connection {
	return &tcpConn{
		streamConn: newStreamConn(t.Name(), opts, tcpFramer{}),
		t:          t,
	}
}

type tcpConn struct {
	*streamConn
	t *TCPTransport

	dialMu sync.Mutex
	zw     *zlib.Writer
}

var (
	_ TLSUpgrader      = (*tcpConn)(nil)
	_ Compressor       = (*tcpConn)(nil)
	_ ConnectionStater = (*tcpConn)(nil)
)

func (c *tcpConn) Open(ctx context.Context, h StreamHeader) error {
	if err := c.dial(ctx); err != nil {
		return err
	}
	return c.streamConn.Open(ctx, h)
}

func (c *tcpConn) addrs(ctx context.Context) ([]string, error) {
	if c.t.Host != "" {
		port := c.t.Port
		if port == 0 {
			port = 5222
			if c.t.DirectTLS {
				port = 5223
			}
		}
		return []string{net.JoinHostPort(c.t.Host, fmt.Sprint(port))}, nil
	}
	domain, err := idna.Lookup.ToASCII(c.opts.Domain)
	if err != nil {
		return nil, err
	}
	r := c.t.Resolver
	if r == nil {
		r = NetResolver{}
	}
	return lookupService(ctx, r, c.t.DirectTLS, domain)
}

func (c *tcpConn) dial(ctx context.Context) error {
	c.dialMu.Lock()
	defer c.dialMu.Unlock()
	if c.attached() {
		return nil
	}
	if c.closing.Load() {
		return ErrConnClosed
	}

	addrs, err := c.addrs(ctx)
	if err != nil {
		return &ConnectionError{Transport: c.name, Err: err}
	}
	dial := c.t.DialFunc
	if dial == nil {
		dial = (&net.Dialer{}).DialContext
	}

	var errs []error
	for _, addr := range addrs {
		c.log.WithField("addr", addr).Debug("dialing")
		conn, err := dial(ctx, "tcp", addr)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if !c.t.DirectTLS {
			c.attach(conn, false)
			return nil
		}
		tlsConn := tls.Client(conn, c.tlsConfig())
		if err := tlsConn.HandshakeContext(ctx); err != nil {
			_ = conn.Close()
			errs = append(errs, err)
			continue
		}
		c.attach(tlsConn, true)
		return nil
	}
	return &ConnectionError{Transport: c.name, Err: errors.Join(errs...)}
}

func (c *tcpConn) tlsConfig() *tls.Config {
	var cfg *tls.Config
	if c.t.TLSConfig != nil {
		cfg = c.t.TLSConfig.Clone()
	} else {
		cfg = &tls.Config{}
	}
	if cfg.ServerName == "" {
		cfg.ServerName = c.opts.Domain
	}
	if cfg.MinVersion == 0 {
		cfg.MinVersion = tls.VersionTLS12
	}
	return cfg
}

// StartTLS upgrades the connection in place.
// It must be called from the reader goroutine, after the server has sent
// <proceed/> and before the stream is restarted.
func (c *tcpConn) StartTLS() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil {
		return ErrNotConnected
	}
	if c.secure {
		return errors.New("client: connection is already secure")
	}
	tlsConn := tls.Client(c.conn, c.tlsConfig())
	if err := tlsConn.HandshakeContext(c.ctx); err != nil {
		return &ConnectionError{Transport: c.name, Err: err}
	}
	c.conn = tlsConn
	c.w = tlsConn
	c.br = bufio.NewReader(tlsConn)
	c.secure = true
	return nil
}

func (c *tcpConn) TLSPolicy() TLSPolicy {
	return c.t.Policy
}

func (c *tcpConn) ConnectionState() (tls.ConnectionState, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if tc, ok := c.conn.(*tls.Conn); ok {
		return tc.ConnectionState(), true
	}
	return tls.ConnectionState{}, false
}

func (c *tcpConn) CompressionMethods() []string {
	return []string{"zlib"}
}

// Compress wraps the connection in the named compression method.
// Like StartTLS it is called from the reader goroutine before the stream
// restart.
func (c *tcpConn) Compress(method string) error {
	if method != "zlib" {
		return fmt.Errorf("client: unsupported compression method %q", method)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil {
		return ErrNotConnected
	}
	if c.zw != nil {
		return errors.New("client: stream is already compressed")
	}
	c.zw = zlib.NewWriter(c.conn)
	c.w = c.zw
	c.flush = c.zw.Flush
	c.br = bufio.NewReader(&lazyZlibReader{raw: c.conn})
	return nil
}

// lazyZlibReader defers creating the zlib reader until the first read,
// since creating one blocks reading the zlib header, which the server only
// sends after our new stream header.
type lazyZlibReader struct {
	raw io.Reader
	zr  io.ReadCloser
}

func (r *lazyZlibReader) Read(p []byte) (int, error) {
	if r.zr == nil {
		zr, err := zlib.NewReader(r.raw)
		if err != nil {
			return 0, err
		}
		r.zr = zr
	}
	return r.zr.Read(p)
}
