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

	"github.com/golang/glog"
	set "gopkg.in/fatih/set.v0"

	"github.com/drogulus-project/go-drogulus/crypto"
	"github.com/drogulus-project/go-drogulus/logger"
)

// cacheStoreCount is how many near-miss peers receive a copy of a
// freshly looked up value, so popular items migrate toward their key.
const cacheStoreCount = 2

type lookupKind int

const (
	nodeLookup lookupKind = iota
	valueLookup
)

// lookup is the iterative Kademlia lookup state machine. It is
// event-driven: next() hands out peers to query, onReply/onMiss feed
// outcomes back in, finished() detects convergence. The driver
// (lookup.run, or a test) owns all concurrency, so the machine itself
// is single-threaded and steppable.
type lookup struct {
	kind   lookupKind
	target NetworkID
	self   NetworkID

	alpha int
	b     int

	shortlist  *nodesByDistance // candidates, closest B
	responders *nodesByDistance // peers that answered, closest B
	probed     *set.Set         // ids already queried
	inflight   *set.Set         // ids with an outstanding rpc
	peers      map[string]*PeerNode

	value      *crypto.SignedItem
	nonHolders *nodesByDistance // answered without the value; cache store candidates
}

func newLookup(kind lookupKind, target, self NetworkID, cfg Config) *lookup {
	cfg = cfg.withDefaults()
	return &lookup{
		kind:       kind,
		target:     target,
		self:       self,
		alpha:      cfg.Alpha,
		b:          cfg.B,
		shortlist:  &nodesByDistance{target: target, maxElems: cfg.B},
		responders: &nodesByDistance{target: target, maxElems: cfg.B},
		nonHolders: &nodesByDistance{target: target, maxElems: cfg.B},
		probed:     set.New(),
		inflight:   set.New(),
		peers:      make(map[string]*PeerNode),
	}
}

// seed primes the shortlist from the routing table.
func (l *lookup) seed(peers []*PeerNode) error {
	for _, p := range peers {
		l.add(p)
	}
	if len(l.shortlist.entries) == 0 {
		return ErrNoPeers
	}
	return nil
}

// add merges a candidate into the shortlist, deduplicating by id.
func (l *lookup) add(p *PeerNode) {
	if p.ID == l.self {
		return
	}
	if _, ok := l.peers[p.ID.String()]; !ok {
		l.peers[p.ID.String()] = p
	}
	l.shortlist.push(p)
}

// next returns the peers to query now: unprobed shortlist candidates,
// closest first, as long as fewer than alpha rpcs are outstanding.
// Once a value has been found no new queries are issued; the lookup
// just drains what is in flight.
func (l *lookup) next() []*PeerNode {
	if l.value != nil {
		return nil
	}
	var batch []*PeerNode
	for _, p := range l.shortlist.entries {
		if l.inflight.Size() >= l.alpha {
			break
		}
		if l.probed.Has(p.ID.String()) {
			continue
		}
		l.probed.Add(p.ID.String())
		l.inflight.Add(p.ID.String())
		batch = append(batch, p)
	}
	return batch
}

// onReply merges a successful reply into the state.
func (l *lookup) onReply(p *PeerNode, m *Message) {
	l.inflight.Remove(p.ID.String())
	l.responders.push(p)

	switch m.Kind {
	case KindNodes:
		for _, dump := range m.Nodes {
			peer, err := NewPeerNode(dump.PublicKey, dump.Version, dump.URI, 0)
			if err != nil {
				continue
			}
			l.add(peer)
		}
		if l.kind == valueLookup {
			l.nonHolders.push(p)
		}
	case KindValue:
		if l.kind != valueLookup {
			return
		}
		item := m.Item
		if !crypto.ValidateItem(item) || item.Key != l.target.String() {
			glog.V(logger.Debug).Infof("peer %x returned an unusable item", p.ID[:8])
			l.nonHolders.push(p)
			return
		}
		if l.value == nil || item.Timestamp > l.value.Timestamp {
			l.value = item
		}
	}
}

// onMiss records a failed query. The peer is not re-queued.
func (l *lookup) onMiss(p *PeerNode, err error) {
	l.inflight.Remove(p.ID.String())
	glog.V(logger.Detail).Infof("lookup miss from %x: %v", p.ID[:8], err)
}

// finished reports convergence: nothing in flight and either a value
// in hand or every shortlist candidate probed without yielding a
// closer tier.
func (l *lookup) finished() bool {
	if l.inflight.Size() > 0 {
		return false
	}
	if l.value != nil {
		return true
	}
	for _, p := range l.shortlist.entries {
		if !l.probed.Has(p.ID.String()) {
			return false
		}
	}
	return true
}

// resultNodes returns the closest responding peers, distance
// ascending.
func (l *lookup) resultNodes() []*PeerNode {
	return l.responders.entries
}

// resultValue returns the freshest item seen, or ErrNotFound.
func (l *lookup) resultValue() (*crypto.SignedItem, error) {
	if l.value == nil {
		return nil, ErrNotFound
	}
	return l.value, nil
}

// cacheStorePeers returns the closest peers that answered the lookup
// without holding the value. They receive a post-lookup STORE so the
// next lookup for this key converges faster.
func (l *lookup) cacheStorePeers() []*PeerNode {
	if l.value == nil {
		return nil
	}
	peers := l.nonHolders.entries
	if len(peers) > cacheStoreCount {
		peers = peers[:cacheStoreCount]
	}
	return peers
}

// queryFunc issues the lookup's rpc against one peer and returns the
// reply. It blocks for at most one rpc timeout.
type queryFunc func(ctx context.Context, p *PeerNode) (*Message, error)

// run drives the state machine to convergence with up to alpha
// concurrent queries.
func (l *lookup) run(ctx context.Context, query queryFunc) {
	type outcome struct {
		peer  *PeerNode
		reply *Message
		err   error
	}
	results := make(chan outcome, l.alpha)
	for {
		for _, p := range l.next() {
			go func(p *PeerNode) {
				reply, err := query(ctx, p)
				results <- outcome{peer: p, reply: reply, err: err}
			}(p)
		}
		if l.inflight.Size() == 0 {
			return
		}
		o := <-results
		if o.err != nil {
			l.onMiss(o.peer, o.err)
		} else {
			l.onReply(o.peer, o.reply)
		}
		if l.finished() {
			return
		}
	}
}
