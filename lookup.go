// Copyright 2016 The Mellium Contributors.
// Use of this source code is governed by the BSD 2-clause
// license that can be found in the LICENSE file.

package client

import (
	"context"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"sort"
	"time"

	"github.com/miekg/dns"

	"mellium.im/client/internal/ns"
)

const hostMeta = "/.well-known/host-meta"

// ErrNoService is returned when DNS states that the domain offers no XMPP
// service.
var ErrNoService = errors.New("client: domain does not offer an XMPP service")

// Resolver looks up SRV records.
type Resolver interface {
	LookupSRV(ctx context.Context, service, proto, name string) ([]*net.SRV, error)
}

// NetResolver adapts a *net.Resolver to Resolver.
// A nil Resolver uses the system resolver.
type NetResolver struct {
	Resolver *net.Resolver
}

// LookupSRV implements Resolver.
func (r NetResolver) LookupSRV(ctx context.Context, service, proto, name string) ([]*net.SRV, error) {
	res := r.Resolver
	if res == nil {
		res = net.DefaultResolver
	}
	_, addrs, err := res.LookupSRV(ctx, service, proto, name)
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) && dnsErr.IsNotFound {
		return nil, nil
	}
	return addrs, err
}

// DNSResolver queries a specific nameserver for SRV records, bypassing the
// system resolver.
type DNSResolver struct {
	// Server is the nameserver address, for example "1.1.1.1:53".
	Server string
	// Net is "udp", "tcp" or "tcp-tls". The default is "udp".
	Net     string
	Timeout time.Duration
}

// LookupSRV implements Resolver.
func (r DNSResolver) LookupSRV(ctx context.Context, service, proto, name string) ([]*net.SRV, error) {
	c := &dns.Client{Net: r.Net, Timeout: r.Timeout}
	m := new(dns.Msg)
	m.SetQuestion(dns.Fqdn("_"+service+"._"+proto+"."+name), dns.TypeSRV)
	m.RecursionDesired = true

	resp, _, err := c.ExchangeContext(ctx, m, r.Server)
	if err != nil {
		return nil, err
	}
	switch resp.Rcode {
	case dns.RcodeSuccess:
	case dns.RcodeNameError:
		return nil, nil
	default:
		return nil, fmt.Errorf("client: SRV lookup for %s failed: %s", name, dns.RcodeToString[resp.Rcode])
	}

	var addrs []*net.SRV
	for _, rr := range resp.Answer {
		srv, ok := rr.(*dns.SRV)
		if !ok {
			continue
		}
		addrs = append(addrs, &net.SRV{
			Target:   srv.Target,
			Port:     srv.Port,
			Priority: srv.Priority,
			Weight:   srv.Weight,
		})
	}
	sort.SliceStable(addrs, func(i, j int) bool {
		if addrs[i].Priority != addrs[j].Priority {
			return addrs[i].Priority < addrs[j].Priority
		}
		return addrs[i].Weight > addrs[j].Weight
	})
	return addrs, nil
}

// lookupService returns host:port pairs for the client service of domain,
// falling back to the domain itself when no records exist.
func lookupService(ctx context.Context, r Resolver, directTLS bool, domain string) ([]string, error) {
	service, port := "xmpp-client", "5222"
	if directTLS {
		service, port = "xmpps-client", "5223"
	}
	addrs, err := r.LookupSRV(ctx, service, "tcp", domain)
	if err != nil {
		return nil, err
	}
	if len(addrs) == 0 {
		return []string{net.JoinHostPort(domain, port)}, nil
	}
	// RFC 6120 §3.2.1: a single record with a target of "." means the service
	// is decidedly not available.
	if len(addrs) == 1 && addrs[0].Target == "." {
		return nil, ErrNoService
	}
	hosts := make([]string, 0, len(addrs))
	for _, a := range addrs {
		hosts = append(hosts, net.JoinHostPort(trimDot(a.Target), fmt.Sprint(a.Port)))
	}
	return hosts, nil
}

func trimDot(s string) string {
	if len(s) > 0 && s[len(s)-1] == '.' {
		return s[:len(s)-1]
	}
	return s
}

// xrd is an Extensible Resource Descriptor document as defined by RFC 6415.
type xrd struct {
	XMLName xml.Name `xml:"http://docs.oasis-open.org/ns/xri/xrd-1.0 XRD"`
	Links   []struct {
		Rel  string `xml:"rel,attr"`
		Href string `xml:"href,attr"`
	} `xml:"Link"`
}

// lookupWebSocket discovers WebSocket endpoints of domain using host-meta.
func lookupWebSocket(ctx context.Context, client *http.Client, domain string) ([]string, error) {
	if client == nil {
		client = http.DefaultClient
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, "https://"+domain+hostMeta, nil)
	if err != nil {
		return nil, err
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("client: fetching host-meta: %s", resp.Status)
	}

	var doc xrd
	if err := xml.NewDecoder(io.LimitReader(resp.Body, http.DefaultMaxHeaderBytes)).Decode(&doc); err != nil {
		return nil, err
	}
	var urls []string
	for _, link := range doc.Links {
		if link.Rel == ns.WebSocketLink {
			urls = append(urls, link.Href)
		}
	}
	return urls, nil
}
