// Copyright 2016 The Mellium Contributors.
// Use of this source code is governed by the BSD 2-clause
// license that can be found in the LICENSE file.

package attr

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRandomIDLength(t *testing.T) {
	for _, n := range []int{1, 2, 7, IDLen} {
		id := randomID(n, bytes.NewReader(bytes.Repeat([]byte{0xab}, 32)))
		assert.Len(t, id, n)
	}
}

func TestRandomIDUnique(t *testing.T) {
	assert.NotEqual(t, RandomID(), RandomID())
}

func TestRandomIDShortRead(t *testing.T) {
	require.Panics(t, func() {
		randomID(IDLen, strings.NewReader("ab"))
	})
}
