// Copyright 2019 The go-drogulus Authors
// This file is part of the go-drogulus library.
//
// The go-drogulus library is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// The go-drogulus library is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with the go-drogulus library. If not, see <http://www.gnu.org/licenses/>.

package dht

import (
	"crypto/sha512"
	"encoding/hex"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/drogulus-project/go-drogulus/common"
)

const testURI = "netstring://192.168.0.1:9999"

func TestMakeNetworkID(t *testing.T) {
	sum := sha512.Sum512([]byte("ABC"))
	expected := hex.EncodeToString(sum[:])

	id, err := MakeNetworkID("ABC")
	assert.NoError(t, err)
	assert.Equal(t, 128, len(id.String()))
	assert.Equal(t, expected, id.String())
}

func TestMakeNetworkIDWithBlankKey(t *testing.T) {
	_, err := MakeNetworkID("")
	assert.Equal(t, ErrInvalidKey, err)
}

func TestNewPeerNode(t *testing.T) {
	p, err := NewPeerNode("ABC", common.Version, testURI, 123)
	assert.NoError(t, err)

	sum := sha512.Sum512([]byte("ABC"))
	assert.Equal(t, hex.EncodeToString(sum[:]), p.ID.String())
	assert.Equal(t, "ABC", p.PublicKey)
	assert.Equal(t, common.Version, p.Version)
	assert.Equal(t, testURI, p.URI)
	assert.Equal(t, int64(123), p.LastSeen)
	assert.Equal(t, 0, p.FailedRPCs)
}

func TestPeerNodeDump(t *testing.T) {
	p, _ := NewPeerNode("ABC", common.Version, testURI, 0)
	dump := p.Dump()
	assert.Equal(t, PeerDump{
		PublicKey: "ABC",
		Version:   common.Version,
		URI:       testURI,
	}, dump)
}

func TestPeerNodeEquality(t *testing.T) {
	a, _ := NewPeerNode("ABC", common.Version, testURI, 123)
	b, _ := NewPeerNode("ABC", "another version", "netstring://10.0.0.1:1908", 456)
	c, _ := NewPeerNode("DEF", common.Version, testURI, 123)

	// Same public key means the same peer, whatever the metadata.
	assert.Equal(t, a.ID, b.ID)
	assert.NotEqual(t, a.ID, c.ID)
}

func TestPeerNodeMatchesID(t *testing.T) {
	p, _ := NewPeerNode("ABC", common.Version, testURI, 123)
	sum := sha512.Sum512([]byte("ABC"))

	assert.True(t, p.MatchesID(hex.EncodeToString(sum[:])))
	assert.False(t, p.MatchesID("54321"))
}
