// Copyright 2016 The Mellium Contributors.
// Use of this source code is governed by the BSD 2-clause
// license that can be found in the LICENSE file.

package stanza_test

import (
	"encoding/xml"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"mellium.im/xmpp/jid"

	"mellium.im/client/stanza"
)

func TestUnmarshalIQ(t *testing.T) {
	const raw = `<iq xmlns="jabber:client" id="123" type="get" to="juliet@example.com/balcony" from="example.com">` +
		`<query xmlns="jabber:iq:roster" ver="1"><item jid="romeo@example.net"/></query></iq>`

	var iq stanza.IQ
	require.NoError(t, xml.Unmarshal([]byte(raw), &iq))
	assert.Equal(t, "123", iq.ID)
	assert.Equal(t, stanza.GetIQ, iq.Type)
	assert.Equal(t, "juliet@example.com/balcony", iq.To.String())
	assert.Equal(t, "example.com", iq.From.String())
	require.Len(t, iq.Extensions, 1)

	payload := iq.Extensions[0]
	assert.Equal(t, xml.Name{Space: "jabber:iq:roster", Local: "query"}, payload.XMLName)
	require.Len(t, payload.Attr, 1)
	assert.Equal(t, "ver", payload.Attr[0].Name.Local)

	var query struct {
		Items []struct {
			JID string `xml:"jid,attr"`
		} `xml:"item"`
	}
	require.NoError(t, payload.Decode(&query))
	require.Len(t, query.Items, 1)
	assert.Equal(t, "romeo@example.net", query.Items[0].JID)
}

func TestUnmarshalIQUnknownType(t *testing.T) {
	var iq stanza.IQ
	require.NoError(t, xml.Unmarshal([]byte(`<iq xmlns="jabber:client" id="1"><ping xmlns="urn:xmpp:ping"/></iq>`), &iq))
	assert.Equal(t, stanza.IQType(""), iq.Type)
	assert.False(t, iq.Type.IsRequest())
	assert.False(t, iq.Type.IsResponse())
}

func TestErrorReply(t *testing.T) {
	req := &stanza.IQ{
		Header: stanza.Header{ID: "a", From: jid.MustParse("romeo@example.net/orchard"), To: jid.MustParse("juliet@example.com")},
		Type:   stanza.SetIQ,
	}
	reply := req.ErrorReply(stanza.Error{Type: stanza.Cancel, Condition: stanza.ServiceUnavailable})
	b, err := xml.Marshal(reply)
	require.NoError(t, err)

	var decoded stanza.IQ
	require.NoError(t, xml.Unmarshal(b, &decoded))
	assert.Equal(t, stanza.ErrorIQ, decoded.Type)
	assert.Equal(t, "a", decoded.ID)
	assert.Equal(t, "romeo@example.net/orchard", decoded.To.String())
	require.NotNil(t, decoded.Error)
	assert.Equal(t, stanza.ServiceUnavailable, decoded.Error.Condition)
	assert.Equal(t, stanza.Cancel, decoded.Error.Type)
	assert.Empty(t, decoded.Extensions)
}

func TestMessageDelay(t *testing.T) {
	stamp := time.Date(2002, time.September, 10, 23, 8, 25, 0, time.UTC)
	msg := &stanza.Message{
		Header: stanza.Header{
			ID:    "m1",
			To:    jid.MustParse("juliet@example.com"),
			Delay: &stanza.Delay{Stamp: stamp},
		},
		Type: stanza.ChatMessage,
		Body: "Wherefore art thou?",
	}
	b, err := xml.Marshal(msg)
	require.NoError(t, err)

	var decoded stanza.Message
	require.NoError(t, xml.Unmarshal(b, &decoded))
	assert.Equal(t, stanza.ChatMessage, decoded.Type)
	assert.Equal(t, "Wherefore art thou?", decoded.Body)
	require.NotNil(t, decoded.Delay)
	assert.True(t, stamp.Equal(decoded.Delay.Stamp))
	assert.Empty(t, decoded.Extensions)
}

func TestPresence(t *testing.T) {
	const raw = `<presence xmlns="jabber:client" from="romeo@example.net/orchard">` +
		`<show>away</show><status>in the garden</status><priority>-1</priority>` +
		`<c xmlns="http://jabber.org/protocol/caps" hash="sha-1"/></presence>`

	var p stanza.Presence
	require.NoError(t, xml.Unmarshal([]byte(raw), &p))
	assert.Equal(t, stanza.AvailablePresence, p.Type)
	assert.Equal(t, "away", p.Show)
	assert.Equal(t, "in the garden", p.Status)
	assert.Equal(t, int8(-1), p.Priority)
	require.Len(t, p.Extensions, 1)
	assert.Equal(t, "c", p.Extensions[0].XMLName.Local)
}

func TestInvalidJIDConsumesStanza(t *testing.T) {
	d := xml.NewDecoder(strings.NewReader(`<wrap><message xmlns="jabber:client" to="@"><body>x</body></message><presence xmlns="jabber:client"/></wrap>`))
	_, err := d.Token()
	require.NoError(t, err)

	tok, err := d.Token()
	require.NoError(t, err)
	start := tok.(xml.StartElement)
	var msg stanza.Message
	assert.Error(t, d.DecodeElement(&msg, &start))

	tok, err = d.Token()
	require.NoError(t, err)
	assert.Equal(t, "presence", tok.(xml.StartElement).Name.Local)
}
