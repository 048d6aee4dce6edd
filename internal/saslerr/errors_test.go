// Copyright 2016 The Mellium Contributors.
// Use of this source code is governed by the BSD 2-clause
// license that can be found in the LICENSE file.

package saslerr_test

import (
	"encoding/xml"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/text/language"

	"mellium.im/client/internal/saslerr"
)

func TestUnmarshal(t *testing.T) {
	for _, tc := range []struct {
		name string
		xml  string
		lang language.Tag
		cond saslerr.Condition
		text string
	}{
		{
			name: "condition only",
			xml:  `<failure xmlns="urn:ietf:params:xml:ns:xmpp-sasl"><not-authorized/></failure>`,
			cond: saslerr.NotAuthorized,
		},
		{
			name: "untagged text",
			xml:  `<failure xmlns="urn:ietf:params:xml:ns:xmpp-sasl"><account-disabled/><text>Call 555</text></failure>`,
			cond: saslerr.AccountDisabled,
			text: "Call 555",
		},
		{
			name: "language match",
			xml: `<failure xmlns="urn:ietf:params:xml:ns:xmpp-sasl"><aborted/>` +
				`<text xml:lang="en">stopped</text><text xml:lang="de">angehalten</text></failure>`,
			lang: language.German,
			cond: saslerr.Aborted,
			text: "angehalten",
		},
		{
			name: "unknown condition",
			xml:  `<failure xmlns="urn:ietf:params:xml:ns:xmpp-sasl"><bad-day/></failure>`,
			cond: saslerr.Condition("bad-day"),
		},
	} {
		t.Run(tc.name, func(t *testing.T) {
			f := saslerr.Failure{Lang: tc.lang}
			require.NoError(t, xml.Unmarshal([]byte(tc.xml), &f))
			assert.Equal(t, tc.cond, f.Condition)
			assert.Equal(t, tc.text, f.Text)
		})
	}
}

func TestError(t *testing.T) {
	assert.Equal(t, "not-authorized", saslerr.Failure{Condition: saslerr.NotAuthorized}.Error())
	assert.Equal(t, "nope", saslerr.Failure{Condition: saslerr.NotAuthorized, Text: "nope"}.Error())
}
