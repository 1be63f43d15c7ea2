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
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/drogulus-project/go-drogulus/common"
	"github.com/drogulus-project/go-drogulus/crypto"
)

// loopback is an in-memory connector so nodes can be exercised
// without opening sockets. Delivery is synchronous; unregistered
// URIs fail like a dead TCP endpoint.
type loopback struct {
	mu       sync.Mutex
	handlers map[string]func([]byte)
}

func newLoopback() *loopback {
	return &loopback{handlers: make(map[string]func([]byte))}
}

func (l *loopback) register(uri string, handler func([]byte)) {
	l.mu.Lock()
	l.handlers[uri] = handler
	l.mu.Unlock()
}

func (l *loopback) Send(uri string, payload []byte) error {
	l.mu.Lock()
	handler, ok := l.handlers[uri]
	l.mu.Unlock()
	if !ok {
		return errors.New("peer unreachable")
	}
	handler(payload)
	return nil
}

var testNodeSeq int

// spawnNode creates a node wired into the loopback network.
func spawnNode(t *testing.T, net *loopback, cfg Config) *Node {
	t.Helper()
	key, err := crypto.GenerateKey()
	if err != nil {
		t.Fatal(err)
	}
	testNodeSeq++
	uri := fmt.Sprintf("netstring://10.0.0.%d:1908", testNodeSeq)
	if cfg.RPCTimeout == 0 {
		cfg.RPCTimeout = 500 * time.Millisecond
	}
	n, err := NewNode(key.PublicKey, key.PrivateKey, uri, net, cfg, "")
	if err != nil {
		t.Fatal(err)
	}
	net.register(uri, n.Receive)
	t.Cleanup(n.Stop)
	return n
}

// peerOf projects a node into the PeerNode another node would hold
// for it.
func peerOf(n *Node) *PeerNode {
	p, err := NewPeerNode(n.publicKey, common.Version, n.uri, 0)
	if err != nil {
		panic(err)
	}
	return p
}

// waitFor polls until the condition holds or the deadline passes.
func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

// responder speaks just enough of the wire protocol to script
// adversarial peers: it answers find_node with an empty neighbour
// list and store with a scripted verdict.
type responder struct {
	key     *crypto.Key
	uri     string
	net     *loopback
	refuse  error // when set, STOREs are answered with this error
	stores  int
	storeMu sync.Mutex
}

func newResponder(t *testing.T, net *loopback, refuse error) *responder {
	t.Helper()
	key, err := crypto.GenerateKey()
	if err != nil {
		t.Fatal(err)
	}
	testNodeSeq++
	r := &responder{
		key:    key,
		uri:    fmt.Sprintf("netstring://10.0.1.%d:1908", testNodeSeq),
		net:    net,
		refuse: refuse,
	}
	net.register(r.uri, r.receive)
	return r
}

func (r *responder) peer() *PeerNode {
	p, _ := NewPeerNode(r.key.PublicKey, common.Version, r.uri, 0)
	return p
}

func (r *responder) receive(payload []byte) {
	m, err := DecodeMessage(payload)
	if err != nil {
		return
	}
	reply := newMessage(KindNodes, r.key.PublicKey, r.uri, common.Version)
	reply.ReplyTo = m.UUID
	switch m.Kind {
	case KindPing:
		reply.Kind = KindPong
	case KindFindNode, KindFindValue:
		reply.Kind = KindNodes
	case KindStore:
		r.storeMu.Lock()
		r.stores++
		r.storeMu.Unlock()
		if r.refuse != nil {
			reply.Kind = KindError
			reply.Error = r.refuse.Error()
		} else {
			reply.Kind = KindOK
		}
	default:
		return
	}
	if err := SignMessage(reply, r.key.PrivateKey); err != nil {
		return
	}
	blob, err := EncodeMessage(reply)
	if err != nil {
		return
	}
	sender, err := NewPeerNode(m.Sender, m.Version, m.URI, 0)
	if err != nil {
		return
	}
	r.net.Send(sender.URI, blob)
}

func (r *responder) storeCount() int {
	r.storeMu.Lock()
	defer r.storeMu.Unlock()
	return r.stores
}
