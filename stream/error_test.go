// Copyright 2015 The Mellium Contributors.
// Use of this source code is governed by the BSD 2-clause
// license that can be found in the LICENSE file.

package stream_test

import (
	"encoding/xml"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mellium.im/client/stream"
)

func TestUnmarshal(t *testing.T) {
	for _, tc := range []struct {
		xml  string
		err  stream.Error
		text string
	}{
		{
			xml: `<stream:error xmlns:stream="http://etherx.jabber.org/streams">` +
				`<conflict xmlns="urn:ietf:params:xml:ns:xmpp-streams"/></stream:error>`,
			err: stream.Conflict,
		},
		{
			xml: `<stream:error xmlns:stream="http://etherx.jabber.org/streams">` +
				`<system-shutdown xmlns="urn:ietf:params:xml:ns:xmpp-streams"/>` +
				`<text xmlns="urn:ietf:params:xml:ns:xmpp-streams">bye</text></stream:error>`,
			err:  stream.SystemShutdown,
			text: "bye",
		},
		{
			xml: `<stream:error xmlns:stream="http://etherx.jabber.org/streams"/>`,
			err: stream.UndefinedCondition,
		},
	} {
		t.Run(tc.err.Err, func(t *testing.T) {
			var e stream.Error
			require.NoError(t, xml.Unmarshal([]byte(tc.xml), &e))
			assert.Equal(t, tc.err.Err, e.Err)
			assert.Equal(t, tc.text, e.Text)
			assert.ErrorIs(t, e, tc.err)
		})
	}
}

func TestIs(t *testing.T) {
	wrapped := fmt.Errorf("read: %w", &stream.Error{Err: "conflict", Text: "replaced"})
	assert.True(t, errors.Is(wrapped, stream.Conflict))
	assert.False(t, errors.Is(wrapped, stream.SystemShutdown))
	assert.False(t, errors.Is(errors.New("conflict"), stream.Conflict))
}

func TestMarshal(t *testing.T) {
	b, err := xml.Marshal(stream.Error{Err: "host-gone", Text: "moved"})
	require.NoError(t, err)

	var e stream.Error
	require.NoError(t, xml.Unmarshal(b, &e))
	assert.Equal(t, stream.HostGone.Err, e.Err)
	assert.Equal(t, "moved", e.Text)
}
