// Copyright 2015 The Mellium Contributors.
// Use of this source code is governed by the BSD 2-clause
// license that can be found in the LICENSE file.

// Package stream contains XMPP stream errors as defined by RFC 6120 §4.9.
//
// A stream error is always fatal to the stream that carried it.
// The client package surfaces a received stream error as the cause of the
// resulting disconnect, where it can be matched with errors.Is:
//
//	if errors.Is(cause, stream.Conflict) {
//		// another resource displaced this one
//	}
package stream // import "mellium.im/client/stream"

import (
	"encoding/xml"

	"mellium.im/xmlstream"

	"mellium.im/client/internal/ns"
)

// A list of stream errors defined in RFC 6120 §4.9.3
var (
	BadFormat              = Error{Err: "bad-format"}
	BadNamespacePrefix     = Error{Err: "bad-namespace-prefix"}
	ConnectionTimeout      = Error{Err: "connection-timeout"}
	HostGone               = Error{Err: "host-gone"}
	HostUnknown            = Error{Err: "host-unknown"}
	ImproperAddressing     = Error{Err: "improper-addressing"}
	InternalServerError    = Error{Err: "internal-server-error"}
	InvalidFrom            = Error{Err: "invalid-from"}
	InvalidNamespace       = Error{Err: "invalid-namespace"}
	InvalidXML             = Error{Err: "invalid-xml"}
	NotAuthorized          = Error{Err: "not-authorized"}
	NotWellFormed          = Error{Err: "not-well-formed"}
	PolicyViolation        = Error{Err: "policy-violation"}
	RemoteConnectionFailed = Error{Err: "remote-connection-failed"}
	Reset                  = Error{Err: "reset"}
	ResourceConstraint     = Error{Err: "resource-constraint"}
	RestrictedXML          = Error{Err: "restricted-xml"}
	SeeOtherHost           = Error{Err: "see-other-host"}
	UndefinedCondition     = Error{Err: "undefined-condition"}
	UnsupportedEncoding    = Error{Err: "unsupported-encoding"}
	UnsupportedFeature     = Error{Err: "unsupported-feature"}
	UnsupportedStanzaType  = Error{Err: "unsupported-stanza-type"}
	UnsupportedVersion     = Error{Err: "unsupported-version"}

	// Conflict is sent when the server is closing the existing stream because a
	// new stream has been initiated that conflicts with it, typically another
	// client binding the same resource.
	// Reconnecting after a conflict would only repeat it.
	Conflict = Error{Err: "conflict"}

	// SystemShutdown is sent when the server is being shut down and all active
	// streams are being closed.
	SystemShutdown = Error{Err: "system-shutdown"}
)

// Error is an unrecoverable stream level error.
// Err is the local name of the defined condition.
type Error struct {
	Err  string
	Text string
}

// Error satisfies the builtin error interface and returns the name of the
// condition, followed by the text if any.
func (s Error) Error() string {
	if s.Text == "" {
		return s.Err
	}
	return s.Err + ": " + s.Text
}

// Is reports whether target is a stream error with the same condition.
// The descriptive text is not compared.
func (s Error) Is(target error) bool {
	switch t := target.(type) {
	case Error:
		return s.Err == t.Err
	case *Error:
		return t != nil && s.Err == t.Err
	}
	return false
}

// ElementName returns the name of the <stream:error/> element.
func (Error) ElementName() xml.Name {
	return xml.Name{Space: ns.Stream, Local: "error"}
}

// UnmarshalXML satisfies the xml.Unmarshaler interface for Error.
func (s *Error) UnmarshalXML(d *xml.Decoder, start xml.StartElement) error {
	decoded := struct {
		Children []struct {
			XMLName xml.Name
			Data    string `xml:",chardata"`
		} `xml:",any"`
	}{}
	if err := d.DecodeElement(&decoded, &start); err != nil {
		return err
	}
	for _, child := range decoded.Children {
		if child.XMLName.Space != ns.StreamErrors {
			continue
		}
		if child.XMLName.Local == "text" {
			s.Text = child.Data
			continue
		}
		if s.Err == "" {
			s.Err = child.XMLName.Local
		}
	}
	if s.Err == "" {
		s.Err = UndefinedCondition.Err
	}
	return nil
}

// TokenReader returns a stream of XML tokens encoding the error.
func (s Error) TokenReader() xml.TokenReader {
	inner := xmlstream.Wrap(nil, xml.StartElement{Name: xml.Name{Space: ns.StreamErrors, Local: s.Err}})
	if s.Text != "" {
		inner = xmlstream.MultiReader(
			inner,
			xmlstream.Wrap(
				xmlstream.Token(xml.CharData(s.Text)),
				xml.StartElement{Name: xml.Name{Space: ns.StreamErrors, Local: "text"}},
			),
		)
	}
	return xmlstream.Wrap(inner, xml.StartElement{Name: s.ElementName()})
}

// MarshalXML satisfies the xml.Marshaler interface for Error.
func (s Error) MarshalXML(e *xml.Encoder, _ xml.StartElement) error {
	_, err := xmlstream.Copy(e, s.TokenReader())
	return err
}
