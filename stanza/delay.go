// Copyright 2021 The Mellium Contributors.
// Use of this source code is governed by the BSD 2-clause
// license that can be found in the LICENSE file.

package stanza

import (
	"encoding/xml"
	"time"

	"mellium.im/xmlstream"
	"mellium.im/xmpp/jid"

	"mellium.im/client/internal/ns"
)

// DateTime is the XEP-0082 date and time profile.
const DateTime = "2006-01-02T15:04:05.999Z07:00"

// Delay marks a stanza as delivered later than it was originally sent
// (XEP-0203).
type Delay struct {
	From   jid.JID
	Stamp  time.Time
	Reason string
}

// TokenReader returns a stream of XML tokens encoding the delay.
func (d Delay) TokenReader() xml.TokenReader {
	start := xml.StartElement{
		Name: xml.Name{Space: ns.Delay, Local: "delay"},
		Attr: []xml.Attr{{
			Name:  xml.Name{Local: "stamp"},
			Value: d.Stamp.UTC().Format(DateTime),
		}},
	}
	if from := d.From.String(); from != "" {
		start.Attr = append(start.Attr, xml.Attr{Name: xml.Name{Local: "from"}, Value: from})
	}
	if d.Reason != "" {
		return xmlstream.Wrap(xmlstream.Token(xml.CharData(d.Reason)), start)
	}
	return xmlstream.Wrap(nil, start)
}

// MarshalXML implements xml.Marshaler.
func (d Delay) MarshalXML(e *xml.Encoder, _ xml.StartElement) error {
	_, err := xmlstream.Copy(e, d.TokenReader())
	return err
}

// UnmarshalXML implements xml.Unmarshaler.
func (d *Delay) UnmarshalXML(decoder *xml.Decoder, start xml.StartElement) error {
	for _, attr := range start.Attr {
		switch attr.Name.Local {
		case "stamp":
			t, err := time.Parse(time.RFC3339Nano, attr.Value)
			if err != nil {
				return decoder.Skip()
			}
			d.Stamp = t
		case "from":
			d.From, _ = jid.Parse(attr.Value)
		}
	}
	var reason string
	if err := decoder.DecodeElement(&reason, &start); err != nil {
		return err
	}
	d.Reason = reason
	return nil
}
