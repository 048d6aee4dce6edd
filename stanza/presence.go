// Copyright 2016 The Mellium Contributors.
// Use of this source code is governed by the BSD 2-clause
// license that can be found in the LICENSE file.

package stanza

import (
	"encoding/xml"
	"strconv"

	"mellium.im/client/internal/ns"
)

// PresenceType is the type of a presence stanza.
type PresenceType string

const (
	// AvailablePresence is a special case that signals that the entity is
	// available for communication.
	AvailablePresence PresenceType = ""

	// ErrorPresence indicates that an error has occurred regarding processing of a
	// previously sent presence stanza.
	ErrorPresence PresenceType = "error"

	// ProbePresence is a request for an entity's current presence.
	ProbePresence PresenceType = "probe"

	// SubscribePresence is sent when the sender wishes to subscribe to the
	// recipient's presence.
	SubscribePresence PresenceType = "subscribe"

	// SubscribedPresence indicates that the sender has allowed the recipient to
	// receive future presence broadcasts.
	SubscribedPresence PresenceType = "subscribed"

	// UnavailablePresence indicates that the sender is no longer available for
	// communication.
	UnavailablePresence PresenceType = "unavailable"

	// UnsubscribePresence indicates that the sender is unsubscribing from the
	// receiver's presence.
	UnsubscribePresence PresenceType = "unsubscribe"

	// UnsubscribedPresence indicates that the subscription request has been
	// denied, or a previously granted subscription has been revoked.
	UnsubscribedPresence PresenceType = "unsubscribed"
)

// Presence is an XMPP stanza that is used as an indication that an entity is
// available for communication.
type Presence struct {
	Header
	Type     PresenceType
	Show     string
	Status   string
	Priority int8
}

// ElementName returns the name of the <presence/> element.
func (*Presence) ElementName() xml.Name {
	return xml.Name{Space: ns.Client, Local: "presence"}
}

// MarshalXML implements xml.Marshaler.
func (p Presence) MarshalXML(e *xml.Encoder, _ xml.StartElement) error {
	start := p.Header.start("presence", string(p.Type))
	if err := e.EncodeToken(start); err != nil {
		return err
	}
	if p.Show != "" {
		if err := e.EncodeElement(p.Show, xml.StartElement{Name: xml.Name{Local: "show"}}); err != nil {
			return err
		}
	}
	if p.Status != "" {
		if err := e.EncodeElement(p.Status, xml.StartElement{Name: xml.Name{Local: "status"}}); err != nil {
			return err
		}
	}
	if p.Priority != 0 {
		if err := e.EncodeElement(p.Priority, xml.StartElement{Name: xml.Name{Local: "priority"}}); err != nil {
			return err
		}
	}
	if err := p.Header.encodeChildren(e); err != nil {
		return err
	}
	return e.EncodeToken(start.End())
}

// UnmarshalXML implements xml.Unmarshaler.
func (p *Presence) UnmarshalXML(d *xml.Decoder, start xml.StartElement) error {
	typ, attrErr := p.Header.decodeAttrs(start.Attr)
	p.Type = PresenceType(typ)
	err := p.Header.decodeChildren(d, func(d *xml.Decoder, start xml.StartElement) (bool, error) {
		if start.Name.Space != ns.Client && start.Name.Space != "" {
			return false, nil
		}
		var err error
		switch start.Name.Local {
		case "show":
			p.Show, err = decodeText(d, start)
		case "status":
			p.Status, err = decodeText(d, start)
		case "priority":
			var s string
			if s, err = decodeText(d, start); err == nil {
				var prio int64
				prio, err = strconv.ParseInt(s, 10, 8)
				p.Priority = int8(prio)
			}
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
