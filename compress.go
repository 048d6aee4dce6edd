// Copyright 2017 The Mellium Contributors.
// Use of this source code is governed by the BSD 2-clause
// license that can be found in the LICENSE file.

package client

import (
	"bytes"
	"encoding/xml"
	"slices"
	"sync"

	"mellium.im/client/internal/ns"
)

var compressionName = xml.Name{Space: ns.CompressFeat, Local: "compression"}

// compressionNegotiator negotiates stream compression as described in
// XEP-0138.
// A failure reported by the server is not fatal, the stream continues
// uncompressed.
type compressionNegotiator struct {
	s *Session

	mu     sync.Mutex
	method string
}

func (*compressionNegotiator) Feature() xml.Name {
	return compressionName
}

func (*compressionNegotiator) Mandatory() bool {
	return false
}

func (c *compressionNegotiator) Enabled() bool {
	if len(c.s.cfg.Compression) == 0 {
		return false
	}
	_, ok := c.s.activeConn().(Compressor)
	return ok
}

func (*compressionNegotiator) CanProcess(el Element) bool {
	n, ok := el.(*Nonza)
	if !ok || n.XMLName.Space != ns.Compress {
		return false
	}
	return n.XMLName.Local == "compressed" || n.XMLName.Local == "failure"
}

func (c *compressionNegotiator) ProcessNegotiation(el Element) (NegotiationStatus, error) {
	nz, ok := el.(*Nonza)
	if !ok {
		return Ignore, nil
	}
	compressor, ok := c.s.activeConn().(Compressor)
	if !ok {
		return Ignore, nil
	}

	switch nz.XMLName.Local {
	case "compression":
		feature := struct {
			Methods []string `xml:"method"`
		}{}
		if err := nz.Decode(&feature); err != nil {
			return Failure, &NegotiationError{Feature: "compression", Err: err}
		}
		method := c.choose(feature.Methods, compressor.CompressionMethods())
		if method == "" {
			return Ignore, nil
		}
		c.mu.Lock()
		c.method = method
		c.mu.Unlock()

		var inner bytes.Buffer
		inner.WriteString("<method>")
		_ = xml.EscapeText(&inner, []byte(method))
		inner.WriteString("</method>")
		if err := c.s.sendElement(newNonza(ns.Compress, "compress", inner.String())); err != nil {
			return Failure, err
		}
		return Incomplete, nil
	case "compressed":
		c.mu.Lock()
		method := c.method
		c.mu.Unlock()
		if err := compressor.Compress(method); err != nil {
			return Failure, &NegotiationError{Feature: "compression", Err: err}
		}
		return Restart, nil
	case "failure":
		c.s.log.WithField("reason", nz.Children()).Info("server failed to enable compression")
		return Ignore, nil
	}
	return Ignore, nil
}

// choose returns the first configured method both sides support.
func (c *compressionNegotiator) choose(offered, supported []string) string {
	for _, m := range c.s.cfg.Compression {
		if slices.Contains(offered, m) && slices.Contains(supported, m) {
			return m
		}
	}
	return ""
}
