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
	"context"
	"sync"
	"time"

	"github.com/golang/glog"

	"github.com/drogulus-project/go-drogulus/logger"
	"github.com/drogulus-project/go-drogulus/metrics"
)

// Connector delivers framed bytes to a peer's endpoint. It is
// implemented by the netstring transport and by the in-memory
// loopback used in tests, so the core can be exercised without
// opening sockets.
type Connector interface {
	Send(uri string, payload []byte) error
}

// rpcManager correlates replies with outstanding requests. Each
// outbound request registers a future keyed by its uuid; a matching
// inbound reply resolves it, a deadline or cancellation fails it.
type rpcManager struct {
	mu      sync.Mutex
	pending map[string]chan *Message

	connector Connector
	timeout   time.Duration
}

func newRPCManager(connector Connector, timeout time.Duration) *rpcManager {
	return &rpcManager{
		pending:   make(map[string]chan *Message),
		connector: connector,
		timeout:   timeout,
	}
}

// call sends a signed request frame to peer and blocks for the
// matching reply. Timeouts, transport failures and cancellation map
// to their error kinds; the caller does the failure bookkeeping.
func (r *rpcManager) call(ctx context.Context, peer *PeerNode, msg *Message) (*Message, error) {
	payload, err := EncodeMessage(msg)
	if err != nil {
		return nil, err
	}

	ch := make(chan *Message, 1)
	r.mu.Lock()
	r.pending[msg.UUID] = ch
	r.mu.Unlock()
	defer func() {
		r.mu.Lock()
		delete(r.pending, msg.UUID)
		r.mu.Unlock()
	}()

	meterOut(msg.Kind)
	if err := r.connector.Send(peer.URI, payload); err != nil {
		glog.V(logger.Debug).Infof("send to %s failed: %v", peer.URI, err)
		return nil, ErrTransport
	}

	timer := time.NewTimer(r.timeout)
	defer timer.Stop()
	select {
	case reply := <-ch:
		return reply, nil
	case <-timer.C:
		metrics.RPCTimeouts.Mark(1)
		glog.V(logger.Detail).Infof("rpc %s to %x timed out", msg.Kind, peer.ID[:8])
		return nil, ErrTimeout
	case <-ctx.Done():
		return nil, ErrCancelled
	}
}

// notify sends a signed frame without expecting a reply.
func (r *rpcManager) notify(peer *PeerNode, msg *Message) error {
	payload, err := EncodeMessage(msg)
	if err != nil {
		return err
	}
	meterOut(msg.Kind)
	if err := r.connector.Send(peer.URI, payload); err != nil {
		return ErrTransport
	}
	return nil
}

// resolve hands an inbound reply to whoever is waiting on it. It
// reports whether the frame matched an outstanding request.
func (r *rpcManager) resolve(m *Message) bool {
	if m.ReplyTo == "" {
		return false
	}
	r.mu.Lock()
	ch, ok := r.pending[m.ReplyTo]
	if ok {
		delete(r.pending, m.ReplyTo)
	}
	r.mu.Unlock()
	if !ok {
		return false
	}
	ch <- m
	return true
}

func meterOut(kind Kind) {
	switch kind {
	case KindPing:
		metrics.MsgPingOut.Mark(1)
	case KindFindNode:
		metrics.MsgFindNodeOut.Mark(1)
	case KindFindValue:
		metrics.MsgFindValueOut.Mark(1)
	case KindStore:
		metrics.MsgStoreOut.Mark(1)
	}
}

func meterIn(kind Kind) {
	switch kind {
	case KindPing:
		metrics.MsgPingIn.Mark(1)
	case KindFindNode:
		metrics.MsgFindNodeIn.Mark(1)
	case KindFindValue:
		metrics.MsgFindValueIn.Mark(1)
	case KindStore:
		metrics.MsgStoreIn.Mark(1)
	}
}
