// Copyright 2016 The Mellium Contributors.
// Use of this source code is governed by the BSD 2-clause
// license that can be found in the LICENSE file.

// Package stanza contains the three XMPP stanza types (IQ, Message and
// Presence) along with stanza errors and the delayed delivery marker.
//
// Extension payloads are kept as raw XML so that the session can route and
// correlate stanzas without knowing anything about the protocols they carry.
package stanza // import "mellium.im/client/stanza"

import (
	"encoding/xml"
	"fmt"

	"mellium.im/xmpp/jid"

	"mellium.im/client/internal/ns"
)

// Stanza is implemented by *IQ, *Message and *Presence.
type Stanza interface {
	StanzaHeader() *Header
	ElementName() xml.Name
}

// Is tests whether name is a valid stanza based on name and space.
func Is(name xml.Name) bool {
	return (name.Local == "iq" || name.Local == "message" || name.Local == "presence") &&
		(name.Space == ns.Client || name.Space == "")
}

// Header contains the attributes and children shared by every stanza type.
type Header struct {
	ID   string
	To   jid.JID
	From jid.JID
	Lang string

	// Error is set on stanzas of type "error".
	Error *Error
	// Delay is set when the stanza was delivered late or is being resent.
	Delay *Delay

	// Extensions holds every child element that is not part of the core
	// stanza syntax, in document order.
	Extensions []Extension
}

// StanzaHeader returns h.
func (h *Header) StanzaHeader() *Header {
	return h
}

// Payload returns the first extension element, if any.
func (h *Header) Payload() (Extension, bool) {
	if len(h.Extensions) == 0 {
		return Extension{}, false
	}
	return h.Extensions[0], true
}

// Extension is an extension element carried by a stanza.
type Extension struct {
	XMLName xml.Name
	Attr    []xml.Attr `xml:",any,attr"`
	Inner   []byte     `xml:",innerxml"`
}

// NewExtension marshals v and returns it as an extension payload.
func NewExtension(v any) (Extension, error) {
	b, err := xml.Marshal(v)
	if err != nil {
		return Extension{}, err
	}
	var ext Extension
	err = xml.Unmarshal(b, &ext)
	return ext, err
}

// Decode unmarshals the extension into v.
func (e Extension) Decode(v any) error {
	b, err := xml.Marshal(e)
	if err != nil {
		return err
	}
	return xml.Unmarshal(b, v)
}

// UnmarshalXML implements xml.Unmarshaler.
// Namespace declarations are dropped from Attr since the namespace is already
// recorded in XMLName.
func (e *Extension) UnmarshalXML(d *xml.Decoder, start xml.StartElement) error {
	raw := struct {
		Inner []byte `xml:",innerxml"`
	}{}
	if err := d.DecodeElement(&raw, &start); err != nil {
		return err
	}
	e.XMLName = start.Name
	e.Inner = raw.Inner
	e.Attr = e.Attr[:0]
	for _, a := range start.Attr {
		if a.Name.Space == "xmlns" || (a.Name.Space == "" && a.Name.Local == "xmlns") {
			continue
		}
		e.Attr = append(e.Attr, a)
	}
	return nil
}

func (h *Header) start(local, typ string) xml.StartElement {
	start := xml.StartElement{Name: xml.Name{Space: ns.Client, Local: local}}
	if h.ID != "" {
		start.Attr = append(start.Attr, xml.Attr{Name: xml.Name{Local: "id"}, Value: h.ID})
	}
	if s := h.To.String(); s != "" {
		start.Attr = append(start.Attr, xml.Attr{Name: xml.Name{Local: "to"}, Value: s})
	}
	if s := h.From.String(); s != "" {
		start.Attr = append(start.Attr, xml.Attr{Name: xml.Name{Local: "from"}, Value: s})
	}
	if h.Lang != "" {
		start.Attr = append(start.Attr, xml.Attr{Name: xml.Name{Space: ns.XML, Local: "lang"}, Value: h.Lang})
	}
	if typ != "" {
		start.Attr = append(start.Attr, xml.Attr{Name: xml.Name{Local: "type"}, Value: typ})
	}
	return start
}

func (h *Header) encodeChildren(e *xml.Encoder) error {
	for _, ext := range h.Extensions {
		if err := e.Encode(ext); err != nil {
			return err
		}
	}
	if h.Error != nil {
		if err := e.Encode(h.Error); err != nil {
			return err
		}
	}
	if h.Delay != nil {
		if err := e.Encode(h.Delay); err != nil {
			return err
		}
	}
	return nil
}

// decodeAttrs fills in the header from the stanza attributes and returns the
// raw value of the type attribute.
func (h *Header) decodeAttrs(attrs []xml.Attr) (typ string, err error) {
	for _, a := range attrs {
		switch a.Name {
		case xml.Name{Local: "id"}:
			h.ID = a.Value
		case xml.Name{Local: "type"}:
			typ = a.Value
		case xml.Name{Space: ns.XML, Local: "lang"}:
			h.Lang = a.Value
		case xml.Name{Local: "to"}:
			j, e := jid.Parse(a.Value)
			if e != nil && err == nil {
				err = fmt.Errorf("stanza: invalid to attribute: %w", e)
			}
			h.To = j
		case xml.Name{Local: "from"}:
			j, e := jid.Parse(a.Value)
			if e != nil && err == nil {
				err = fmt.Errorf("stanza: invalid from attribute: %w", e)
			}
			h.From = j
		}
	}
	return typ, err
}

// decodeChildren consumes tokens up to and including the end of the stanza.
// Elements that child does not claim become errors, delays or extensions.
// The stanza is always consumed entirely, even if an error is returned, so
// that the decoder stays positioned at the next top level element.
func (h *Header) decodeChildren(d *xml.Decoder, child func(d *xml.Decoder, start xml.StartElement) (bool, error)) error {
	var firstErr error
	keep := func(err error) {
		if err != nil && firstErr == nil {
			firstErr = err
		}
	}
	for {
		tok, err := d.Token()
		if err != nil {
			return err
		}
		switch t := tok.(type) {
		case xml.StartElement:
			if child != nil {
				ok, err := child(d, t)
				if ok {
					keep(err)
					continue
				}
			}
			switch {
			case t.Name.Local == "error" && (t.Name.Space == ns.Client || t.Name.Space == ""):
				se := &Error{}
				keep(d.DecodeElement(se, &t))
				h.Error = se
			case t.Name.Space == ns.Delay && t.Name.Local == "delay":
				delay := &Delay{}
				keep(d.DecodeElement(delay, &t))
				h.Delay = delay
			default:
				var ext Extension
				keep(d.DecodeElement(&ext, &t))
				h.Extensions = append(h.Extensions, ext)
			}
		case xml.EndElement:
			return firstErr
		}
	}
}

func decodeText(d *xml.Decoder, start xml.StartElement) (string, error) {
	var s string
	err := d.DecodeElement(&s, &start)
	return s, err
}
