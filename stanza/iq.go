// Copyright 2016 The Mellium Contributors.
// Use of this source code is governed by the BSD 2-clause
// license that can be found in the LICENSE file.

package stanza

import (
	"encoding/xml"

	"mellium.im/client/internal/ns"
)

// IQType is the type of an IQ stanza.
// It should normally be one of the constants defined in this package.
type IQType string

const (
	// GetIQ is used to query another entity for information.
	GetIQ IQType = "get"

	// SetIQ is used to provide data to another entity, set new values, and
	// replace existing values.
	SetIQ IQType = "set"

	// ResultIQ is sent in response to a successful get or set IQ.
	ResultIQ IQType = "result"

	// ErrorIQ is sent to report that an error occurred during the delivery or
	// processing of a get or set IQ.
	ErrorIQ IQType = "error"
)

// IsRequest reports whether t is get or set.
func (t IQType) IsRequest() bool {
	return t == GetIQ || t == SetIQ
}

// IsResponse reports whether t is result or error.
func (t IQType) IsResponse() bool {
	return t == ResultIQ || t == ErrorIQ
}

// IQ ("Information Query") is used as a general request response mechanism.
// IQ's are one-to-one, provide get and set semantics, and always require a
// response in the form of a result or an error.
type IQ struct {
	Header
	Type IQType
}

// NewIQ returns a new IQ of the given type carrying payload.
func NewIQ(typ IQType, payload ...Extension) *IQ {
	return &IQ{Header: Header{Extensions: payload}, Type: typ}
}

// ElementName returns the name of the <iq/> element.
func (*IQ) ElementName() xml.Name {
	return xml.Name{Space: ns.Client, Local: "iq"}
}

// Result returns a result IQ addressed to the sender of iq.
func (iq *IQ) Result(payload ...Extension) *IQ {
	return &IQ{
		Header: Header{
			ID:         iq.ID,
			To:         iq.From,
			From:       iq.To,
			Extensions: payload,
		},
		Type: ResultIQ,
	}
}

// ErrorReply returns an error IQ addressed to the sender of iq.
func (iq *IQ) ErrorReply(e Error) *IQ {
	return &IQ{
		Header: Header{
			ID:    iq.ID,
			To:    iq.From,
			From:  iq.To,
			Error: &e,
		},
		Type: ErrorIQ,
	}
}

// MarshalXML implements xml.Marshaler.
func (iq IQ) MarshalXML(e *xml.Encoder, _ xml.StartElement) error {
	start := iq.Header.start("iq", string(iq.Type))
	if err := e.EncodeToken(start); err != nil {
		return err
	}
	if err := iq.Header.encodeChildren(e); err != nil {
		return err
	}
	return e.EncodeToken(start.End())
}

// UnmarshalXML implements xml.Unmarshaler.
// An unknown or missing type attribute is kept as is so that the receiver can
// reply with an appropriate error.
func (iq *IQ) UnmarshalXML(d *xml.Decoder, start xml.StartElement) error {
	typ, attrErr := iq.Header.decodeAttrs(start.Attr)
	iq.Type = IQType(typ)
	err := iq.Header.decodeChildren(d, nil)
	if attrErr != nil {
		return attrErr
	}
	return err
}
