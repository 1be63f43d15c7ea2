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

import "fmt"

// PeerNode describes another node on the network. Two PeerNodes are
// the same peer iff their network ids match; everything else is
// mutable metadata.
type PeerNode struct {
	ID         NetworkID
	PublicKey  string
	Version    string
	URI        string
	LastSeen   int64 // unix seconds, 0 when never heard from
	FailedRPCs int
}

// PeerDump is the projection of a peer used for routing table
// backups. A fresh node rehydrates by feeding these to Join.
type PeerDump struct {
	PublicKey string `json:"public_key"`
	Version   string `json:"version"`
	URI       string `json:"uri"`
}

// NewPeerNode derives a peer's network id from its public key and
// wraps the rest of its metadata around it.
func NewPeerNode(publicKey, version, uri string, lastSeen int64) (*PeerNode, error) {
	id, err := MakeNetworkID(publicKey)
	if err != nil {
		return nil, err
	}
	return &PeerNode{
		ID:        id,
		PublicKey: publicKey,
		Version:   version,
		URI:       uri,
		LastSeen:  lastSeen,
	}, nil
}

// MatchesID reports whether the peer is the one named by the given
// hex network id. Routing table lookups accept bare id strings, so
// the cross-type comparison lives here as an explicit predicate.
func (p *PeerNode) MatchesID(id string) bool {
	return p.ID.String() == id
}

// Dump returns the peer's backup projection.
func (p *PeerNode) Dump() PeerDump {
	return PeerDump{
		PublicKey: p.PublicKey,
		Version:   p.Version,
		URI:       p.URI,
	}
}

func (p *PeerNode) String() string {
	return fmt.Sprintf("peer %x@%s (v%s, last seen %d, %d failed)",
		p.ID[:8], p.URI, p.Version, p.LastSeen, p.FailedRPCs)
}
