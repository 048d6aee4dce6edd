// Copyright 2016 The Mellium Contributors.
// Use of this source code is governed by the BSD 2-clause
// license that can be found in the LICENSE file.

package client

import (
	"encoding/xml"
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mellium.im/client/internal/ns"
	"mellium.im/client/stanza"
	"mellium.im/client/stream"
)

const testStream = `<stream:stream xmlns='jabber:client' xmlns:stream='http://etherx.jabber.org/streams' id='abc' from='example.com' version='1.0' xml:lang='en'>` +
	`<stream:features>` +
	`<mechanisms xmlns='urn:ietf:params:xml:ns:xmpp-sasl'><mechanism>SCRAM-SHA-1</mechanism><mechanism>PLAIN</mechanism></mechanisms>` +
	`<sm xmlns='urn:xmpp:sm:3'/>` +
	`</stream:features>` +
	`<iq type='result' id='1' from='example.com'/>` +
	`<a xmlns='urn:xmpp:sm:3' h='5'/>` +
	`<stream:error><conflict xmlns='urn:ietf:params:xml:ns:xmpp-streams'/><text xmlns='urn:ietf:params:xml:ns:xmpp-streams'>replaced</text></stream:error>` +
	`</stream:stream>`

func decodeAll(t *testing.T, s string) []Element {
	t.Helper()
	d := xml.NewDecoder(strings.NewReader(s))
	var els []Element
	for {
		tok, err := d.Token()
		if errors.Is(err, io.EOF) {
			return els
		}
		require.NoError(t, err)
		start, ok := tok.(xml.StartElement)
		if !ok {
			continue
		}
		el, err := decodeElement(d, start)
		require.NoError(t, err)
		els = append(els, el)
	}
}

func TestDecodeElements(t *testing.T) {
	els := decodeAll(t, testStream)
	require.Len(t, els, 5)

	open, ok := els[0].(*StreamOpen)
	require.True(t, ok)
	assert.Equal(t, &StreamOpen{ID: "abc", From: "example.com", Version: "1.0", Lang: "en"}, open)

	features, ok := els[1].(*Features)
	require.True(t, ok)
	require.Len(t, features.List, 2)
	mechs, ok := features.Lookup(saslMechanismsName)
	require.True(t, ok)
	assert.Equal(t, []xml.Name{{Local: "mechanism"}, {Local: "mechanism"}}, mechs.Children())
	_, ok = features.Lookup(smName)
	assert.True(t, ok)
	_, ok = features.Lookup(bindName)
	assert.False(t, ok)

	iq, ok := els[2].(*stanza.IQ)
	require.True(t, ok)
	assert.Equal(t, stanza.ResultIQ, iq.Type)
	assert.Equal(t, "1", iq.ID)
	assert.Equal(t, "example.com", iq.From.String())

	a, ok := els[3].(*Nonza)
	require.True(t, ok)
	assert.Equal(t, xml.Name{Space: ns.SM, Local: "a"}, a.ElementName())
	assert.Equal(t, "5", a.AttrValue("h"))
	assert.Empty(t, a.AttrValue("xmlns"))

	streamErr, ok := els[4].(*stream.Error)
	require.True(t, ok)
	assert.ErrorIs(t, streamErr, stream.Conflict)
	assert.Equal(t, "replaced", streamErr.Text)
}

func TestNonzaText(t *testing.T) {
	n := newNonza(ns.SASL, "success", "  dGVzdA==\n")
	assert.Equal(t, "dGVzdA==", n.Text())
	assert.Empty(t, n.Children())

	failure := newNonza(ns.SASL, "failure", "<not-authorized/><text>nope</text>")
	assert.Equal(t, []xml.Name{{Local: "not-authorized"}, {Local: "text"}}, failure.Children())
}

func TestNonzaDecode(t *testing.T) {
	n := newNonza(ns.SM, "enabled", "", smAttr("id", "sm-1"), smAttr("resume", "true"))
	var v struct {
		ID     string `xml:"id,attr"`
		Resume bool   `xml:"resume,attr"`
	}
	require.NoError(t, n.Decode(&v))
	assert.Equal(t, "sm-1", v.ID)
	assert.True(t, v.Resume)
}

func TestDecodeFramingOpen(t *testing.T) {
	els := decodeAll(t, `<open xmlns='urn:ietf:params:xml:ns:xmpp-framing' id='ws-1' from='example.com' version='1.0'/><iq xmlns='jabber:client' type='get' id='2'/>`)
	require.Len(t, els, 2)
	assert.Equal(t, &StreamOpen{ID: "ws-1", From: "example.com", Version: "1.0"}, els[0])
	assert.IsType(t, &stanza.IQ{}, els[1])
}
