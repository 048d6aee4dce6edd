// Copyright 2016 The Mellium Contributors.
// Use of this source code is governed by the BSD 2-clause
// license that can be found in the LICENSE file.

package client

import (
	"context"
	"encoding/xml"
	"errors"
	"fmt"
	"sync/atomic"

	"mellium.im/xmpp/jid"

	"mellium.im/client/internal/ns"
	"mellium.im/client/stanza"
)

var (
	bindName    = xml.Name{Space: ns.Bind, Local: "bind"}
	sessionName = xml.Name{Space: ns.Session, Local: "session"}
)

// bindNegotiator marks the point after authentication where a resource can
// be bound. Binding itself is an IQ exchange performed by Login.
type bindNegotiator struct{}

func (bindNegotiator) Feature() xml.Name { return bindName }
func (bindNegotiator) Mandatory() bool { return true }
func (bindNegotiator) Enabled() bool { return true }
func (bindNegotiator) CanProcess(Element) bool { return false }
func (bindNegotiator) ProcessNegotiation(Element) (NegotiationStatus, error) {
	return Success, nil
}

// sessionNegotiator records whether the server requires the legacy session
// establishment of RFC 3921.
type sessionNegotiator struct {
	required atomic.Bool
}

func (*sessionNegotiator) Feature() xml.Name { return sessionName }
func (*sessionNegotiator) Mandatory() bool { return false }
func (*sessionNegotiator) Enabled() bool { return true }
func (*sessionNegotiator) CanProcess(Element) bool { return false }

func (n *sessionNegotiator) ProcessNegotiation(el Element) (NegotiationStatus, error) {
	nz, ok := el.(*Nonza)
	if !ok {
		return Ignore, nil
	}
	optional := false
	for _, child := range nz.Children() {
		if child.Local == "optional" {
			optional = true
		}
	}
	n.required.Store(!optional)
	return Success, nil
}

func (n *sessionNegotiator) reset() {
	n.required.Store(false)
}

type bindPayload struct {
	XMLName  xml.Name `xml:"urn:ietf:params:xml:ns:xmpp-bind bind"`
	Resource string   `xml:"resource,omitempty"`
	JID      string   `xml:"jid,omitempty"`
}

// bindResource asks the server to bind resource, or a resource of its
// choosing if resource is empty, and returns the resulting full JID.
func (s *Session) bindResource(ctx context.Context, resource string) (jid.JID, error) {
	payload, err := stanza.NewExtension(bindPayload{Resource: resource})
	if err != nil {
		return jid.JID{}, err
	}
	resp, err := s.Query(ctx, stanza.NewIQ(stanza.SetIQ, payload))
	if err != nil {
		return jid.JID{}, fmt.Errorf("client: binding resource: %w", err)
	}
	ext, ok := resp.Payload()
	if !ok {
		return jid.JID{}, errors.New("client: bind response has no payload")
	}
	var bound bindPayload
	if err := ext.Decode(&bound); err != nil {
		return jid.JID{}, err
	}
	return jid.Parse(bound.JID)
}

// establishSession performs legacy session establishment.
func (s *Session) establishSession(ctx context.Context) error {
	payload := stanza.Extension{XMLName: sessionName}
	if _, err := s.Query(ctx, stanza.NewIQ(stanza.SetIQ, payload)); err != nil {
		return fmt.Errorf("client: establishing session: %w", err)
	}
	return nil
}
