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
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/drogulus-project/go-drogulus/crypto"
)

// Kind names a wire message variant.
type Kind string

const (
	KindPing      Kind = "ping"
	KindPong      Kind = "pong"
	KindStore     Kind = "store"
	KindNodes     Kind = "nodes"
	KindValue     Kind = "value"
	KindFindNode  Kind = "find_node"
	KindFindValue Kind = "find_value"
	KindOK        Kind = "ok"
	KindError     Kind = "error"
)

// Message is a wire frame. Every frame is signed by its sender over
// the canonical encoding of all fields except the signature itself:
// the JSON object with keys sorted lexicographically, which is what
// encoding/json emits for map-shaped data.
type Message struct {
	UUID      string             `json:"uuid"`
	Recipient string             `json:"recipient,omitempty"` // network id the frame is aimed at
	Sender    string             `json:"sender"`              // sender's public key
	URI       string             `json:"uri"`                 // sender's reachable endpoint
	ReplyTo   string             `json:"reply_to,omitempty"`  // uuid of the request being answered
	Version   string             `json:"version"`
	Kind      Kind               `json:"message"`
	Target    string             `json:"target,omitempty"` // find_node id / find_value key
	Nodes     []PeerDump         `json:"nodes,omitempty"`
	Item      *crypto.SignedItem `json:"item,omitempty"`
	Error     string             `json:"error,omitempty"`
	Timestamp int64              `json:"timestamp"`
	Signature string             `json:"signature,omitempty"`
}

// newMessage starts a frame with a fresh uuid and the current time.
func newMessage(kind Kind, sender, uri, version string) *Message {
	return &Message{
		UUID:      uuid.New().String(),
		Sender:    sender,
		URI:       uri,
		Version:   version,
		Kind:      kind,
		Timestamp: time.Now().Unix(),
	}
}

// sigBase computes the canonical bytes the frame signature covers.
func (m *Message) sigBase() ([]byte, error) {
	blob, err := json.Marshal(m)
	if err != nil {
		return nil, err
	}
	var fields map[string]interface{}
	if err := json.Unmarshal(blob, &fields); err != nil {
		return nil, err
	}
	delete(fields, "signature")
	return crypto.CanonicalJSON(fields)
}

// SignMessage computes and attaches the frame signature.
func SignMessage(m *Message, privateKey string) error {
	m.Signature = ""
	base, err := m.sigBase()
	if err != nil {
		return crypto.ErrCrypto
	}
	sig, err := crypto.Sign(privateKey, base)
	if err != nil {
		return err
	}
	m.Signature = sig
	return nil
}

// VerifyMessage reports whether the frame signature verifies under
// the sender's embedded public key.
func VerifyMessage(m *Message) bool {
	if m.Sender == "" || m.Signature == "" {
		return false
	}
	sig := m.Signature
	m.Signature = ""
	base, err := m.sigBase()
	m.Signature = sig
	if err != nil {
		return false
	}
	return crypto.Verify(m.Sender, base, sig)
}

// EncodeMessage serializes a frame for the connector.
func EncodeMessage(m *Message) ([]byte, error) {
	return json.Marshal(m)
}

// DecodeMessage parses a frame received from the connector.
func DecodeMessage(b []byte) (*Message, error) {
	m := new(Message)
	if err := json.Unmarshal(b, m); err != nil {
		return nil, err
	}
	return m, nil
}

// senderPeer builds the PeerNode a verified frame testifies about.
func senderPeer(m *Message) (*PeerNode, error) {
	return NewPeerNode(m.Sender, m.Version, m.URI, time.Now().Unix())
}
