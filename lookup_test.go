// Copyright 2016 The Mellium Contributors.
// Use of this source code is governed by the BSD 2-clause
// license that can be found in the LICENSE file.

package client

import (
	"context"
	"errors"
	"net"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubResolver struct {
	service string
	addrs   []*net.SRV
	err     error
}

func (r *stubResolver) LookupSRV(_ context.Context, service, proto, name string) ([]*net.SRV, error) {
	r.service = "_" + service + "._" + proto + "." + name
	return r.addrs, r.err
}

func TestLookupService(t *testing.T) {
	errLookup := errors.New("lookup failed")
	tests := []struct {
		name      string
		directTLS bool
		addrs     []*net.SRV
		err       error
		service   string
		want      []string
		wantErr   error
	}{
		{
			name:    "fallback",
			service: "_xmpp-client._tcp.example.com",
			want:    []string{"example.com:5222"},
		},
		{
			name:      "fallback direct TLS",
			directTLS: true,
			service:   "_xmpps-client._tcp.example.com",
			want:      []string{"example.com:5223"},
		},
		{
			name:    "records",
			service: "_xmpp-client._tcp.example.com",
			addrs: []*net.SRV{
				{Target: "a.example.com.", Port: 5222},
				{Target: "b.example.com", Port: 443},
			},
			want: []string{"a.example.com:5222", "b.example.com:443"},
		},
		{
			name:    "no service",
			service: "_xmpp-client._tcp.example.com",
			addrs:   []*net.SRV{{Target: "."}},
			wantErr: ErrNoService,
		},
		{
			name:    "error",
			service: "_xmpp-client._tcp.example.com",
			err:     errLookup,
			wantErr: errLookup,
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			r := &stubResolver{addrs: tc.addrs, err: tc.err}
			hosts, err := lookupService(context.Background(), r, tc.directTLS, "example.com")
			assert.Equal(t, tc.service, r.service)
			if tc.wantErr != nil {
				assert.ErrorIs(t, err, tc.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.want, hosts)
		})
	}
}

const testHostMeta = `<?xml version='1.0' encoding='utf-8'?>
<XRD xmlns='http://docs.oasis-open.org/ns/xri/xrd-1.0'>
  <Link rel="urn:xmpp:alt-connections:xbosh" href="https://example.com/bosh" />
  <Link rel="urn:xmpp:alt-connections:websocket" href="wss://example.com/ws" />
</XRD>`

func TestLookupWebSocket(t *testing.T) {
	srv := httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != hostMeta {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "application/xrd+xml")
		_, _ = w.Write([]byte(testHostMeta))
	}))
	defer srv.Close()

	u, err := url.Parse(srv.URL)
	require.NoError(t, err)
	urls, err := lookupWebSocket(context.Background(), srv.Client(), u.Host)
	require.NoError(t, err)
	assert.Equal(t, []string{"wss://example.com/ws"}, urls)
}

func TestLookupWebSocketStatus(t *testing.T) {
	srv := httptest.NewTLSServer(http.NotFoundHandler())
	defer srv.Close()

	u, err := url.Parse(srv.URL)
	require.NoError(t, err)
	_, err = lookupWebSocket(context.Background(), srv.Client(), u.Host)
	assert.Error(t, err)
}
