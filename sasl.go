// Copyright 2016 The Mellium Contributors.
// Use of this source code is governed by the BSD 2-clause
// license that can be found in the LICENSE file.

package client

import (
	"encoding/base64"
	"encoding/xml"
	"errors"
	"sync"

	"golang.org/x/text/language"
	"mellium.im/sasl"

	"mellium.im/client/internal/ns"
	"mellium.im/client/internal/saslerr"
)

var saslMechanismsName = xml.Name{Space: ns.SASL, Local: "mechanisms"}

var errNoMechanism = errors.New("no matching SASL mechanism")

// CredentialFunc returns the credentials to authenticate with.
// It is called during authentication, and again on every automatic re-login.
type CredentialFunc func() (username, password string)

// authenticator negotiates SASL authentication as described in RFC 6120 §6.
type authenticator struct {
	s *Session

	mu          sync.Mutex
	available   []string
	client      *sasl.Negotiator
	mechanism   string
	more        bool
	successData []byte
}

func (*authenticator) Feature() xml.Name {
	return saslMechanismsName
}

func (*authenticator) Mandatory() bool {
	return true
}

func (*authenticator) Enabled() bool {
	return true
}

func (*authenticator) CanProcess(el Element) bool {
	n, ok := el.(*Nonza)
	if !ok || n.XMLName.Space != ns.SASL {
		return false
	}
	switch n.XMLName.Local {
	case "challenge", "success", "failure":
		return true
	}
	return false
}

func (a *authenticator) ProcessNegotiation(el Element) (NegotiationStatus, error) {
	nz, ok := el.(*Nonza)
	if !ok {
		return Ignore, nil
	}
	switch nz.XMLName.Local {
	case "mechanisms":
		list := struct {
			Mechanisms []string `xml:"urn:ietf:params:xml:ns:xmpp-sasl mechanism"`
		}{}
		if err := nz.Decode(&list); err != nil {
			return Failure, &NegotiationError{Feature: "SASL", Err: err}
		}
		a.mu.Lock()
		a.available = list.Mechanisms
		a.mu.Unlock()
		return Success, nil
	case "challenge":
		return a.challenge(nz)
	case "success":
		return a.success(nz)
	case "failure":
		return a.failure(nz)
	}
	return Ignore, nil
}

// StartAuthentication selects the first mechanism in mechanisms that the
// server supports and sends the initial response.
func (a *authenticator) StartAuthentication(mechanisms []sasl.Mechanism, authzid string, creds CredentialFunc) error {
	a.mu.Lock()
	available := a.available

	var selected sasl.Mechanism
	found := false
	// Client order wins: a mechanism the caller did not ask for is never used.
selectmechanism:
	for _, m := range mechanisms {
		for _, name := range available {
			if name == m.Name {
				selected = m
				found = true
				break selectmechanism
			}
		}
	}
	if !found {
		a.mu.Unlock()
		requested := make([]string, 0, len(mechanisms))
		for _, m := range mechanisms {
			requested = append(requested, m.Name)
		}
		return &NegotiationError{
			Feature:   "SASL",
			Requested: requested,
			Available: append([]string{}, available...),
			Err:       errNoMechanism,
		}
	}

	opts := []sasl.Option{
		sasl.Credentials(func() ([]byte, []byte, []byte) {
			var user, pass string
			if creds != nil {
				user, pass = creds()
			}
			return []byte(user), []byte(pass), []byte(authzid)
		}),
		sasl.RemoteMechanisms(available...),
	}
	if cs, ok := a.s.activeConn().(ConnectionStater); ok {
		if state, ok := cs.ConnectionState(); ok {
			opts = append(opts, sasl.TLSState(state))
		}
	}
	client := sasl.NewClient(selected, opts...)
	more, resp, err := client.Step(nil)
	if err != nil {
		a.mu.Unlock()
		return &AuthenticationError{Mechanism: selected.Name, Text: err.Error()}
	}
	a.client = client
	a.mechanism = selected.Name
	a.more = more
	a.successData = nil
	a.mu.Unlock()

	a.s.log.WithField("mechanism", selected.Name).Debug("starting authentication")
	return a.s.sendElement(newNonza(ns.SASL, "auth", encodeSASL(resp), xml.Attr{
		Name:  xml.Name{Local: "mechanism"},
		Value: selected.Name,
	}))
}

func (a *authenticator) challenge(nz *Nonza) (NegotiationStatus, error) {
	a.mu.Lock()
	client, mechanism := a.client, a.mechanism
	a.mu.Unlock()
	if client == nil {
		return Failure, &NegotiationError{Feature: "SASL", Err: errors.New("unexpected challenge")}
	}
	data, err := decodeSASL(nz.Text())
	if err != nil {
		return Failure, &AuthenticationError{Mechanism: mechanism, Condition: string(saslerr.IncorrectEncoding)}
	}
	more, resp, err := client.Step(data)
	if err != nil {
		a.dispose()
		return Failure, &AuthenticationError{Mechanism: mechanism, Text: err.Error()}
	}
	a.mu.Lock()
	a.more = more
	a.mu.Unlock()
	if err := a.s.sendElement(newNonza(ns.SASL, "response", encodeSASL(resp))); err != nil {
		return Failure, err
	}
	return Incomplete, nil
}

func (a *authenticator) success(nz *Nonza) (NegotiationStatus, error) {
	a.mu.Lock()
	client, mechanism, more := a.client, a.mechanism, a.more
	a.mu.Unlock()
	if client == nil {
		return Failure, &NegotiationError{Feature: "SASL", Err: errors.New("unexpected success")}
	}
	data, err := decodeSASL(nz.Text())
	if err != nil {
		a.dispose()
		return Failure, &AuthenticationError{Mechanism: mechanism, Condition: string(saslerr.IncorrectEncoding)}
	}
	// Mechanisms such as SCRAM still have to verify the server's proof.
	if more {
		if _, _, err := client.Step(data); err != nil {
			a.dispose()
			return Failure, &AuthenticationError{Mechanism: mechanism, Text: err.Error()}
		}
	}
	a.mu.Lock()
	a.successData = data
	a.client = nil
	a.mu.Unlock()
	a.s.log.WithField("mechanism", mechanism).Debug("authenticated")
	return Restart, nil
}

func (a *authenticator) failure(nz *Nonza) (NegotiationStatus, error) {
	a.mu.Lock()
	mechanism := a.mechanism
	a.mu.Unlock()
	a.dispose()

	f := saslerr.Failure{Lang: language.Make(a.s.cfg.Lang)}
	if err := nz.Decode(&f); err != nil {
		return Failure, &AuthenticationError{Mechanism: mechanism, Text: err.Error()}
	}
	return Failure, &AuthenticationError{
		Mechanism: mechanism,
		Condition: string(f.Condition),
		Text:      f.Text,
	}
}

func (a *authenticator) dispose() {
	a.mu.Lock()
	a.client = nil
	a.mu.Unlock()
}

// SuccessData returns the additional data sent with the last SASL success.
func (a *authenticator) SuccessData() []byte {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]byte(nil), a.successData...)
}

// RFC 6120 §6.4.2: a zero-length response is sent as a single "=".
func encodeSASL(b []byte) string {
	if len(b) == 0 {
		return "="
	}
	return base64.StdEncoding.EncodeToString(b)
}

func decodeSASL(s string) ([]byte, error) {
	if s == "" || s == "=" {
		return nil, nil
	}
	return base64.StdEncoding.DecodeString(s)
}
