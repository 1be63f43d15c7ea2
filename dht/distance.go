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

// Package dht implements a node in the drogulus distributed hash
// table: a Kademlia routing table of known peers, a local store of
// cryptographically signed items, and the iterative lookup machinery
// that finds peers and values across the wider network.
package dht

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"math/big"
	"math/bits"

	"github.com/drogulus-project/go-drogulus/crypto"
)

const (
	// IDLength is the byte length of a network id (SHA-512 digest).
	IDLength = 64

	// IDBits is the bit length of a network id.
	IDBits = IDLength * 8
)

// NetworkID is the 512 bit identifier of a node or item in the DHT.
type NetworkID [IDLength]byte

// MakeNetworkID derives the canonical network id for a public key:
// the SHA-512 digest of its ASCII encoding.
func MakeNetworkID(publicKey string) (NetworkID, error) {
	var id NetworkID
	if publicKey == "" {
		return id, ErrInvalidKey
	}
	copy(id[:], crypto.Hash([]byte(publicKey)))
	return id, nil
}

// ParseNetworkID decodes a 128 character hex string into a NetworkID.
func ParseNetworkID(s string) (NetworkID, error) {
	var id NetworkID
	raw, err := hex.DecodeString(s)
	if err != nil {
		return id, fmt.Errorf("invalid network id %q: %v", s, err)
	}
	if len(raw) != IDLength {
		return id, fmt.Errorf("invalid network id length: got %d want %d", len(raw), IDLength)
	}
	copy(id[:], raw)
	return id, nil
}

// MustParseNetworkID is ParseNetworkID for test fixtures and constants
// known to be well formed.
func MustParseNetworkID(s string) NetworkID {
	id, err := ParseNetworkID(s)
	if err != nil {
		panic(err)
	}
	return id
}

func (id NetworkID) String() string {
	return hex.EncodeToString(id[:])
}

// Distance returns the XOR of a and b interpreted as an unsigned
// 512 bit integer. Smaller is closer.
func Distance(a, b NetworkID) *big.Int {
	var d [IDLength]byte
	for i := range d {
		d[i] = a[i] ^ b[i]
	}
	return new(big.Int).SetBytes(d[:])
}

// distcmp compares the distances target-a and target-b, returning -1
// if a is closer to target, 1 if b is closer, and 0 if they are equal.
// Comparing byte by byte avoids allocating big integers on the sort
// path.
func distcmp(target, a, b NetworkID) int {
	for i := range target {
		da := a[i] ^ target[i]
		db := b[i] ^ target[i]
		if da > db {
			return 1
		} else if da < db {
			return -1
		}
	}
	return 0
}

// logdist returns the logarithmic distance between a and b: the bit
// length of their XOR, in the range [0, 512].
func logdist(a, b NetworkID) int {
	lz := 0
	for i := range a {
		x := a[i] ^ b[i]
		if x == 0 {
			lz += 8
		} else {
			lz += bits.LeadingZeros8(x)
			break
		}
	}
	return IDBits - lz
}

// CommonPrefixBits returns the number of leading bits a and b share.
func CommonPrefixBits(a, b NetworkID) int {
	return IDBits - logdist(a, b)
}

// randomIDAtDistance returns a random id whose logarithmic distance
// from a is exactly d. It is used to aim refresh lookups into a
// specific bucket's range. d == 0 returns a itself.
func randomIDAtDistance(a NetworkID, d int) NetworkID {
	if d == 0 {
		return a
	}
	var id NetworkID
	copy(id[:], a[:])
	// Flip the bit at position d-1 (counting from the low end), then
	// randomize everything below it.
	byteIdx := IDLength - 1 - (d-1)/8
	bitIdx := uint((d - 1) % 8)
	id[byteIdx] = a[byteIdx] ^ (1 << bitIdx)
	tail := make([]byte, IDLength-1-byteIdx)
	rand.Read(tail)
	copy(id[byteIdx+1:], tail)
	// Mask the low bits of the flipped byte with fresh randomness.
	if bitIdx > 0 {
		var r [1]byte
		rand.Read(r[:])
		mask := byte(1<<bitIdx - 1)
		id[byteIdx] = (id[byteIdx] &^ mask) | (r[0] & mask)
	}
	return id
}

// nodesByDistance is a list of peers ordered by distance to target,
// capped at maxElems.
type nodesByDistance struct {
	entries  []*PeerNode
	target   NetworkID
	maxElems int
}

// push adds the given peer to the list, keeping the total size below
// maxElems and the order by distance to target.
func (h *nodesByDistance) push(n *PeerNode) {
	for _, e := range h.entries {
		if e.ID == n.ID {
			return
		}
	}
	ix := len(h.entries)
	for i, e := range h.entries {
		if distcmp(h.target, n.ID, e.ID) < 0 {
			ix = i
			break
		}
	}
	if len(h.entries) < h.maxElems {
		h.entries = append(h.entries, nil)
	} else if ix == len(h.entries) {
		return // farther than everything already held
	}
	copy(h.entries[ix+1:], h.entries[ix:])
	h.entries[ix] = n
}
