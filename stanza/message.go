// Copyright 2016 The Mellium Contributors.
// Use of this source code is governed by the BSD 2-clause
// license that can be found in the LICENSE file.

package stanza

import (
	"encoding/xml"

	"mellium.im/client/internal/ns"
)

// MessageType is the type of a message stanza.
type MessageType string

const (
	// NormalMessage is a standalone message that is sent outside the context of a
	// one-to-one conversation or groupchat, and to which it is expected that the
	// recipient will reply.
	NormalMessage MessageType = "normal"

	// ChatMessage represents a message sent in the context of a one-to-one chat
	// session.
	ChatMessage MessageType = "chat"

	// ErrorMessage is generated by an entity that experiences an error when
	// processing a message received from another entity.
	ErrorMessage MessageType = "error"

	// GroupChatMessage is sent in the context of a multi-user chat environment.
	GroupChatMessage MessageType = "groupchat"

	// HeadlineMessage provides an alert, a notification, or other transient
	// information to which no reply is expected.
	HeadlineMessage MessageType = "headline"
)

// Message is an XMPP stanza that contains a payload for direct one-to-one
// communication with another network entity.
type Message struct {
	Header
	Type    MessageType
	Body    string
	Subject string
	Thread  string
}

// ElementName returns the name of the <message/> element.
func (*Message) ElementName() xml.Name {
	return xml.Name{Space: ns.Client, Local: "message"}
}

// MarshalXML implements xml.Marshaler.
func (m Message) MarshalXML(e *xml.Encoder, _ xml.StartElement) error {
	start := m.Header.start("message", string(m.Type))
	if err := e.EncodeToken(start); err != nil {
		return err
	}
	for _, field := range []struct {
		name, value string
	}{
		{"subject", m.Subject},
		{"body", m.Body},
		{"thread", m.Thread},
	} {
		if field.value == "" {
			continue
		}
		if err := e.EncodeElement(field.value, xml.StartElement{Name: xml.Name{Local: field.name}}); err != nil {
			return err
		}
	}
	if err := m.Header.encodeChildren(e); err != nil {
		return err
	}
	return e.EncodeToken(start.End())
}

// UnmarshalXML implements xml.Unmarshaler.
func (m *Message) UnmarshalXML(d *xml.Decoder, start xml.StartElement) error {
	typ, attrErr := m.Header.decodeAttrs(start.Attr)
	m.Type = MessageType(typ)
	err := m.Header.decodeChildren(d, func(d *xml.Decoder, start xml.StartElement) (bool, error) {
		if start.Name.Space != ns.Client && start.Name.Space != "" {
			return false, nil
		}
		var err error
		switch start.Name.Local {
		case "body":
			m.Body, err = decodeText(d, start)
		case "subject":
			m.Subject, err = decodeText(d, start)
		case "thread":
			m.Thread, err = decodeText(d, start)
		default:
			return false, nil
		}
		return true, err
	})
	if attrErr != nil {
		return attrErr
	}
	return err
}
