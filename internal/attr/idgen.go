// Copyright 2016 The Mellium Contributors.
// Use of this source code is governed by the BSD 2-clause
// license that can be found in the LICENSE file.

// Package attr contains helpers for stanza and stream attributes.
package attr // import "mellium.im/client/internal/attr"

import (
	"crypto/rand"
	"encoding/hex"
	"io"
)

// IDLen is the length of stanza identifiers in characters.
const IDLen = 16

// RandomID returns a new random identifier of length IDLen.
// It panics if the system entropy source fails.
func RandomID() string {
	return randomID(IDLen, rand.Reader)
}

func randomID(n int, r io.Reader) string {
	b := make([]byte, (n+1)/2)
	if _, err := io.ReadFull(r, b); err != nil {
		panic(err)
	}
	return hex.EncodeToString(b)[:n]
}
