// Copyright 2016 The Mellium Contributors.
// Use of this source code is governed by the BSD 2-clause
// license that can be found in the LICENSE file.

// Package saslerr decodes the SASL failure conditions defined by RFC 6120
// §6.5.
package saslerr // import "mellium.im/client/internal/saslerr"

import (
	"encoding/xml"

	"golang.org/x/text/language"
)

// Condition is a SASL error condition carried by a <failure/> element.
type Condition string

// Standard SASL error conditions.
const (
	Aborted              Condition = "aborted"
	AccountDisabled      Condition = "account-disabled"
	CredentialsExpired   Condition = "credentials-expired"
	EncryptionRequired   Condition = "encryption-required"
	IncorrectEncoding    Condition = "incorrect-encoding"
	InvalidAuthzID       Condition = "invalid-authzid"
	InvalidMechanism     Condition = "invalid-mechanism"
	MalformedRequest     Condition = "malformed-request"
	MechanismTooWeak     Condition = "mechanism-too-weak"
	NotAuthorized        Condition = "not-authorized"
	TemporaryAuthFailure Condition = "temporary-auth-failure"
)

// Failure is a decoded SASL <failure/> element.
// If Lang is set before decoding, the text that best matches it is kept.
type Failure struct {
	Condition Condition
	Lang      language.Tag
	Text      string
}

// Error returns the text if set, or the condition otherwise.
func (f Failure) Error() string {
	if f.Text != "" {
		return f.Text
	}
	return string(f.Condition)
}

// UnmarshalXML implements xml.Unmarshaler.
func (f *Failure) UnmarshalXML(d *xml.Decoder, start xml.StartElement) error {
	decoded := struct {
		Conditions []struct {
			XMLName xml.Name
		} `xml:",any"`
		Text []struct {
			Lang string `xml:"http://www.w3.org/XML/1998/namespace lang,attr"`
			Data string `xml:",chardata"`
		} `xml:"text"`
	}{}
	if err := d.DecodeElement(&decoded, &start); err != nil {
		return err
	}
	for _, c := range decoded.Conditions {
		if c.XMLName.Local != "text" {
			f.Condition = Condition(c.XMLName.Local)
			break
		}
	}

	if len(decoded.Text) == 0 {
		return nil
	}
	tags := make([]language.Tag, 0, len(decoded.Text))
	data := make(map[language.Tag]string, len(decoded.Text))
	for _, text := range decoded.Text {
		tag := language.Und
		if text.Lang != "" {
			var err error
			if tag, err = language.Parse(text.Lang); err != nil {
				continue
			}
		}
		tags = append(tags, tag)
		data[tag] = text.Data
	}
	if len(tags) == 0 {
		f.Text = decoded.Text[0].Data
		return nil
	}
	_, idx, _ := language.NewMatcher(tags).Match(f.Lang)
	f.Lang = tags[idx]
	f.Text = data[tags[idx]]
	return nil
}
