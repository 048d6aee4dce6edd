// Copyright 2016 The Mellium Contributors.
// Use of this source code is governed by the BSD 2-clause
// license that can be found in the LICENSE file.

package client

import (
	"bytes"
	"encoding/xml"
	"strings"

	"mellium.im/client/internal/ns"
	"mellium.im/client/stanza"
	"mellium.im/client/stream"
)

// Element is a top level element read from or written to a stream.
//
// The set of elements is closed: every Element is one of *stanza.IQ,
// *stanza.Message, *stanza.Presence, *Features, *stream.Error, *StreamOpen or
// *Nonza.
type Element interface {
	ElementName() xml.Name
}

var (
	_ Element = (*stanza.IQ)(nil)
	_ Element = (*stanza.Message)(nil)
	_ Element = (*stanza.Presence)(nil)
	_ Element = (*stream.Error)(nil)
	_ Element = (*Features)(nil)
	_ Element = (*StreamOpen)(nil)
	_ Element = (*Nonza)(nil)
)

// StreamOpen is the header of a stream opened by the server.
type StreamOpen struct {
	ID      string
	From    string
	To      string
	Version string
	Lang    string
}

// ElementName returns the name of the stream header.
func (*StreamOpen) ElementName() xml.Name {
	return xml.Name{Space: ns.Stream, Local: "stream"}
}

func decodeStreamOpen(start xml.StartElement) *StreamOpen {
	so := &StreamOpen{}
	for _, a := range start.Attr {
		switch a.Name {
		case xml.Name{Local: "id"}:
			so.ID = a.Value
		case xml.Name{Local: "from"}:
			so.From = a.Value
		case xml.Name{Local: "to"}:
			so.To = a.Value
		case xml.Name{Local: "version"}:
			so.Version = a.Value
		case xml.Name{Space: ns.XML, Local: "lang"}:
			so.Lang = a.Value
		}
	}
	return so
}

// Features is the list of stream features advertised by the server.
type Features struct {
	List []Nonza
}

// ElementName returns the name of the features element.
func (*Features) ElementName() xml.Name {
	return xml.Name{Space: ns.Stream, Local: "features"}
}

// Lookup returns the advertised feature with the given name.
func (f *Features) Lookup(name xml.Name) (*Nonza, bool) {
	for i := range f.List {
		if f.List[i].XMLName == name {
			return &f.List[i], true
		}
	}
	return nil, false
}

// UnmarshalXML implements xml.Unmarshaler.
func (f *Features) UnmarshalXML(d *xml.Decoder, start xml.StartElement) error {
	decoded := struct {
		List []Nonza `xml:",any"`
	}{}
	if err := d.DecodeElement(&decoded, &start); err != nil {
		return err
	}
	f.List = decoded.List
	return nil
}

// Nonza is any top level element that is not a stanza, such as the elements
// exchanged while negotiating SASL or stream management.
type Nonza struct {
	XMLName xml.Name
	Attr    []xml.Attr `xml:",any,attr"`
	Inner   []byte     `xml:",innerxml"`
}

func newNonza(space, local string, inner string, attr ...xml.Attr) *Nonza {
	return &Nonza{
		XMLName: xml.Name{Space: space, Local: local},
		Attr:    attr,
		Inner:   []byte(inner),
	}
}

// ElementName returns the name of the element.
func (n *Nonza) ElementName() xml.Name {
	return n.XMLName
}

// Text returns the character data of the element with surrounding whitespace
// removed.
func (n *Nonza) Text() string {
	return strings.TrimSpace(string(n.Inner))
}

// AttrValue returns the value of the unqualified attribute local.
func (n *Nonza) AttrValue(local string) string {
	for _, a := range n.Attr {
		if a.Name.Space == "" && a.Name.Local == local {
			return a.Value
		}
	}
	return ""
}

// Decode unmarshals the element into v.
func (n *Nonza) Decode(v any) error {
	b, err := xml.Marshal(n)
	if err != nil {
		return err
	}
	return xml.Unmarshal(b, v)
}

// Children returns the names of the child elements.
func (n *Nonza) Children() []xml.Name {
	var names []xml.Name
	d := xml.NewDecoder(bytes.NewReader(n.Inner))
	depth := 0
	for {
		tok, err := d.RawToken()
		if err != nil {
			return names
		}
		switch t := tok.(type) {
		case xml.StartElement:
			if depth == 0 {
				names = append(names, t.Name)
			}
			depth++
		case xml.EndElement:
			depth--
		}
	}
}

// UnmarshalXML implements xml.Unmarshaler.
func (n *Nonza) UnmarshalXML(d *xml.Decoder, start xml.StartElement) error {
	raw := struct {
		Inner []byte `xml:",innerxml"`
	}{}
	if err := d.DecodeElement(&raw, &start); err != nil {
		return err
	}
	n.XMLName = start.Name
	n.Inner = raw.Inner
	n.Attr = n.Attr[:0]
	for _, a := range start.Attr {
		if a.Name.Space == "xmlns" || (a.Name.Space == "" && a.Name.Local == "xmlns") {
			continue
		}
		n.Attr = append(n.Attr, a)
	}
	return nil
}

// decodeElement decodes the element that begins with start.
// The stream header is returned without consuming anything further since its
// end marks the end of the stream.
func decodeElement(d *xml.Decoder, start xml.StartElement) (Element, error) {
	var el Element
	switch start.Name {
	case xml.Name{Space: ns.Stream, Local: "stream"}:
		return decodeStreamOpen(start), nil
	case xml.Name{Space: ns.Framing, Local: "open"}:
		return decodeStreamOpen(start), d.Skip()
	case xml.Name{Space: ns.Stream, Local: "features"}:
		el = &Features{}
	case xml.Name{Space: ns.Stream, Local: "error"}:
		el = &stream.Error{}
	case xml.Name{Space: ns.Client, Local: "iq"}:
		el = &stanza.IQ{}
	case xml.Name{Space: ns.Client, Local: "message"}:
		el = &stanza.Message{}
	case xml.Name{Space: ns.Client, Local: "presence"}:
		el = &stanza.Presence{}
	default:
		el = &Nonza{}
	}
	if err := d.DecodeElement(el, &start); err != nil {
		return nil, err
	}
	return el, nil
}
