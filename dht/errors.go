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

import "errors"

var (
	// ErrInvalidKey is returned when a network id is requested for an
	// empty public key.
	ErrInvalidKey = errors.New("public key must not be empty")

	// ErrInvalidItem is returned when an item fails validation.
	ErrInvalidItem = errors.New("invalid item")

	// ErrExpired is returned when an item's expiry has already passed.
	ErrExpired = errors.New("item has expired")

	// ErrBadSignature is returned for inbound frames whose signature
	// does not verify. The sender is blacklisted.
	ErrBadSignature = errors.New("bad message signature")

	// ErrIncompatibleVersion is returned for frames from nodes running
	// an incompatible major version.
	ErrIncompatibleVersion = errors.New("incompatible protocol version")

	// ErrRefused is returned when a peer with a blacklisted public key
	// is offered to the routing table. Inbound frames from blacklisted
	// senders are dropped without a reply.
	ErrRefused = errors.New("sender is blacklisted")

	// ErrTimeout is the failure of a pending RPC whose deadline passed.
	ErrTimeout = errors.New("rpc timed out")

	// ErrCancelled is the failure of a pending RPC whose surrounding
	// operation was cancelled.
	ErrCancelled = errors.New("rpc cancelled")

	// ErrTransport is returned when the connector could not deliver an
	// outbound frame. It counts as an RPC failure for the target peer.
	ErrTransport = errors.New("transport send failed")

	// ErrNoPeers is returned when an operation needs routing table
	// entries or seeds and there are none.
	ErrNoPeers = errors.New("no peers available")

	// ErrNotFound is returned when a value lookup converges without
	// finding the requested item.
	ErrNotFound = errors.New("value not found")

	// ErrReplicationFailed is returned when every STORE of a replicate
	// operation failed.
	ErrReplicationFailed = errors.New("replication failed on all peers")
)
