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

	"github.com/drogulus-project/go-drogulus/common"
	"github.com/drogulus-project/go-drogulus/crypto"
	"github.com/drogulus-project/go-drogulus/drogdb"
	"github.com/drogulus-project/go-drogulus/logger"
	"github.com/drogulus-project/go-drogulus/metrics"
)

// sweepInterval is how often the store is checked for expired items.
const sweepInterval = time.Minute

// seedMaxAge bounds how stale a remembered peer may be before it is
// no longer offered as a rejoin seed.
const seedMaxAge = 5 * 24 * time.Hour

// Node is a single participant in the DHT: it serves inbound RPCs,
// maintains the routing table and item store, and runs the iterative
// lookup machinery for local callers.
type Node struct {
	id         NetworkID
	publicKey  string
	privateKey string
	uri        string
	cfg        Config

	table   *Table
	store   *Store
	archive *Archive // nil until AttachArchive
	db      *nodeDB
	rpc     *rpcManager

	quit chan struct{}
	wg   sync.WaitGroup
}

// NewNode assembles a node around a key pair and a connector. The
// uri is the endpoint remote peers reach this node at. nodeDBPath
// locates the persistent peer database; empty means ephemeral.
func NewNode(publicKey, privateKey, uri string, connector Connector, cfg Config, nodeDBPath string) (*Node, error) {
	id, err := MakeNetworkID(publicKey)
	if err != nil {
		return nil, err
	}
	cfg = cfg.withDefaults()
	db, err := newNodeDB(nodeDBPath)
	if err != nil {
		return nil, err
	}
	n := &Node{
		id:         id,
		publicKey:  publicKey,
		privateKey: privateKey,
		uri:        uri,
		cfg:        cfg,
		table:      NewTable(id, cfg),
		store:      NewStore(publicKey),
		db:         db,
		rpc:        newRPCManager(connector, cfg.RPCTimeout),
		quit:       make(chan struct{}),
	}
	n.table.SetPingFunc(n.probe)
	return n, nil
}

// AttachArchive wires a durable item archive and replays its records
// through the store. Call before Start.
func (n *Node) AttachArchive(db drogdb.Database) {
	n.archive = NewArchive(db)
	n.archive.Replay(n.store)
}

// ID returns the node's network id.
func (n *Node) ID() NetworkID { return n.id }

// Duplication returns the configured replication fan-out.
func (n *Node) Duplication() int { return n.cfg.DuplicationCount }

// TTL maps a caller-supplied ttl in seconds onto the lifetime of a
// new item: zero takes the configured default, negative means the
// item never expires.
func (n *Node) TTL(seconds int64) time.Duration {
	if seconds < 0 {
		return 0
	}
	if seconds == 0 {
		return n.cfg.ExpiryDuration
	}
	return time.Duration(seconds) * time.Second
}

// PublicKey returns the node's public key.
func (n *Node) PublicKey() string { return n.publicKey }

// RoutingTable exposes the routing table, mainly for inspection.
func (n *Node) RoutingTable() *Table { return n.table }

// ItemStore exposes the local item store.
func (n *Node) ItemStore() *Store { return n.store }

// Start launches the background maintenance loops.
func (n *Node) Start() {
	n.wg.Add(2)
	go n.refreshLoop()
	go n.republishLoop()
}

// Stop terminates the maintenance loops and releases the databases.
func (n *Node) Stop() {
	close(n.quit)
	n.wg.Wait()
	n.db.close()
	if n.archive != nil {
		n.archive.Close()
	}
}

// DumpRoutingTable returns the persistable routing table state.
func (n *Node) DumpRoutingTable() *TableDump {
	return n.table.Dump()
}

// Seeds returns remembered peers suitable for rejoining after a
// restart, freshest first.
func (n *Node) Seeds(count int) []PeerDump {
	return n.db.querySeeds(count, seedMaxAge)
}

// ---- inbound ----

// Receive is the entry point for frames delivered by the connector.
// The inbound policy runs in order: blacklist, signature, version
// gate, routing table update; only then is the frame dispatched.
func (n *Node) Receive(payload []byte) {
	m, err := DecodeMessage(payload)
	if err != nil {
		metrics.MsgDropped.Mark(1)
		glog.V(logger.Debug).Infof("dropping undecodable frame: %v", err)
		return
	}
	meterIn(m.Kind)

	if n.table.Blacklisted(m.Sender) {
		metrics.MsgDropped.Mark(1)
		glog.V(logger.Debug).Infof("dropping frame from blacklisted sender")
		return
	}
	if !VerifyMessage(m) {
		metrics.MsgDropped.Mark(1)
		n.table.Blacklist(m.Sender)
		glog.V(logger.Info).Infof("bad signature, sender blacklisted")
		return
	}
	sender, err := senderPeer(m)
	if err != nil {
		metrics.MsgDropped.Mark(1)
		return
	}
	if !common.CompatibleVersion(m.Version) {
		n.replyError(sender, m, ErrIncompatibleVersion)
		return
	}

	// The sender just proved liveness; fold it into the table. This
	// may probe a bucket head, so it must not block the read loop.
	go func() {
		if n.table.AddContact(sender) == nil {
			n.db.updateNode(sender)
		}
	}()

	if n.rpc.resolve(m) {
		return
	}

	switch m.Kind {
	case KindPing:
		n.handlePing(sender, m)
	case KindFindNode:
		n.handleFindNode(sender, m)
	case KindFindValue:
		n.handleFindValue(sender, m)
	case KindStore:
		n.handleStore(sender, m)
	default:
		metrics.MsgDropped.Mark(1)
		glog.V(logger.Debug).Infof("unsolicited %s frame dropped", m.Kind)
	}
}

func (n *Node) reply(to *PeerNode, req *Message, kind Kind, build func(*Message)) {
	m := newMessage(kind, n.publicKey, n.uri, common.Version)
	m.Recipient = to.ID.String()
	m.ReplyTo = req.UUID
	if build != nil {
		build(m)
	}
	if err := SignMessage(m, n.privateKey); err != nil {
		glog.V(logger.Error).Infof("could not sign %s reply: %v", kind, err)
		return
	}
	if err := n.rpc.notify(to, m); err != nil {
		glog.V(logger.Debug).Infof("reply to %x failed: %v", to.ID[:8], err)
	}
}

func (n *Node) replyError(to *PeerNode, req *Message, cause error) {
	n.reply(to, req, KindError, func(m *Message) {
		m.Error = cause.Error()
	})
}

func (n *Node) handlePing(from *PeerNode, m *Message) {
	n.reply(from, m, KindPong, nil)
}

func (n *Node) handleFindNode(from *PeerNode, m *Message) {
	target, err := ParseNetworkID(m.Target)
	if err != nil {
		n.replyError(from, m, err)
		return
	}
	peers := n.table.FindClose(target, n.cfg.K)
	n.reply(from, m, KindNodes, func(reply *Message) {
		reply.Nodes = dumpPeers(peers)
	})
}

func (n *Node) handleFindValue(from *PeerNode, m *Message) {
	if item, ok := n.store.Get(m.Target, time.Now().Unix()); ok {
		n.reply(from, m, KindValue, func(reply *Message) {
			reply.Item = item
		})
		return
	}
	// No value held: behave exactly like FIND_NODE for the key.
	n.handleFindNode(from, m)
}

func (n *Node) handleStore(from *PeerNode, m *Message) {
	if m.Item == nil {
		n.replyError(from, m, ErrInvalidItem)
		return
	}
	stale, err := n.store.Put(m.Item, time.Now().Unix())
	if err != nil {
		n.replyError(from, m, err)
		return
	}
	if !stale && n.archive != nil {
		n.archive.WriteItem(m.Item)
	}
	n.reply(from, m, KindOK, nil)
}

func dumpPeers(peers []*PeerNode) []PeerDump {
	dumps := make([]PeerDump, len(peers))
	for i, p := range peers {
		dumps[i] = p.Dump()
	}
	return dumps
}

// ---- outbound ----

// request starts an outbound request frame. The caller fills in any
// payload fields and signs before sending.
func (n *Node) request(kind Kind, to *PeerNode) *Message {
	m := newMessage(kind, n.publicKey, n.uri, common.Version)
	m.Recipient = to.ID.String()
	return m
}

// StoreLocal validates and stores an item on this node; the author
// of an item is always one of its holders.
func (n *Node) StoreLocal(item *crypto.SignedItem) error {
	stale, err := n.store.Put(item, time.Now().Unix())
	if err != nil {
		return err
	}
	if !stale && n.archive != nil {
		n.archive.WriteItem(item)
	}
	return nil
}

// Ping checks a peer's liveness and, on success, folds it into the
// routing table.
func (n *Node) Ping(ctx context.Context, p *PeerNode) error {
	m := n.request(KindPing, p)
	if err := SignMessage(m, n.privateKey); err != nil {
		return err
	}
	n.db.updateLastPing(p.ID, time.Now())
	reply, err := n.rpc.call(ctx, p, m)
	if err != nil {
		n.recordFailure(p)
		return err
	}
	if reply.Kind != KindPong {
		return ErrTransport
	}
	n.db.updateLastPong(p.ID, time.Now())
	if n.table.AddContact(p) == nil {
		n.db.updateNode(p)
	}
	return nil
}

// probe is the liveness check the routing table uses when deciding
// bucket evictions.
func (n *Node) probe(p *PeerNode) bool {
	ctx, cancel := context.WithTimeout(context.Background(), n.cfg.RPCTimeout)
	defer cancel()
	m := n.request(KindPing, p)
	if err := SignMessage(m, n.privateKey); err != nil {
		return false
	}
	n.db.updateLastPing(p.ID, time.Now())
	reply, err := n.rpc.call(ctx, p, m)
	if err != nil || reply.Kind != KindPong {
		return false
	}
	n.db.updateLastPong(p.ID, time.Now())
	return true
}

// recordFailure does the per-peer failure bookkeeping shared by every
// outbound path.
func (n *Node) recordFailure(p *PeerNode) {
	fails := n.db.findFails(p.ID) + 1
	n.db.updateFindFails(p.ID, fails)
	if n.table.RecordFailure(p.ID) {
		n.db.deleteNode(p.ID)
		glog.V(logger.Debug).Infof("forgot unresponsive peer %x", p.ID[:8])
	}
}

// query issues one lookup rpc (find_node or find_value) to a peer.
func (n *Node) query(ctx context.Context, kind Kind, target string, p *PeerNode) (*Message, error) {
	m := n.request(kind, p)
	m.Target = target
	if err := SignMessage(m, n.privateKey); err != nil {
		return nil, err
	}
	reply, err := n.rpc.call(ctx, p, m)
	if err != nil {
		n.recordFailure(p)
		return nil, err
	}
	if reply.Kind == KindError {
		n.recordFailure(p)
		return nil, ErrTransport
	}
	n.db.updateFindFails(p.ID, 0)
	go func() {
		if n.table.AddContact(p) == nil {
			n.db.updateNode(p)
		}
	}()
	return reply, nil
}

// lookupNode runs an iterative FIND_NODE lookup and returns the
// closest responding peers.
func (n *Node) lookupNode(ctx context.Context, target NetworkID) ([]*PeerNode, error) {
	start := time.Now()
	l := newLookup(nodeLookup, target, n.id, n.cfg)
	if err := l.seed(n.table.FindClose(target, n.cfg.Alpha)); err != nil {
		return nil, err
	}
	l.run(ctx, func(ctx context.Context, p *PeerNode) (*Message, error) {
		return n.query(ctx, KindFindNode, target.String(), p)
	})
	metrics.LookupTimer.UpdateSince(start)
	if err := ctx.Err(); err != nil {
		return nil, ErrCancelled
	}
	return l.resultNodes(), nil
}

// Retrieve finds the freshest signed item stored under the given
// compound key, consulting the local store before the network. Peers
// near the key that answered without the value receive a cache copy.
func (n *Node) Retrieve(ctx context.Context, key string) (*crypto.SignedItem, error) {
	if item, ok := n.store.Get(key, time.Now().Unix()); ok {
		return item, nil
	}
	target, err := ParseNetworkID(key)
	if err != nil {
		return nil, err
	}
	start := time.Now()
	l := newLookup(valueLookup, target, n.id, n.cfg)
	if err := l.seed(n.table.FindClose(target, n.cfg.Alpha)); err != nil {
		return nil, err
	}
	l.run(ctx, func(ctx context.Context, p *PeerNode) (*Message, error) {
		return n.query(ctx, KindFindValue, key, p)
	})
	metrics.LookupTimer.UpdateSince(start)
	if err := ctx.Err(); err != nil {
		return nil, ErrCancelled
	}
	item, err := l.resultValue()
	if err != nil {
		metrics.LookupNotFound.Mark(1)
		return nil, err
	}
	if peers := l.cacheStorePeers(); len(peers) > 0 {
		go n.storeTo(peers, item)
	}
	return item, nil
}

// storeTo fans a STORE of item out to the given peers and returns
// how many acknowledged it.
func (n *Node) storeTo(peers []*PeerNode, item *crypto.SignedItem) int {
	ctx, cancel := context.WithTimeout(context.Background(), n.cfg.RPCTimeout)
	defer cancel()
	results := make(chan bool, len(peers))
	for _, p := range peers {
		go func(p *PeerNode) {
			m := n.request(KindStore, p)
			m.Item = item
			if err := SignMessage(m, n.privateKey); err != nil {
				results <- false
				return
			}
			reply, err := n.rpc.call(ctx, p, m)
			if err != nil {
				n.recordFailure(p)
				results <- false
				return
			}
			results <- reply.Kind == KindOK
		}(p)
	}
	acked := 0
	for range peers {
		if <-results {
			acked++
		}
	}
	return acked
}

// Replicate publishes an item to the count closest peers to its key.
// It succeeds if at least one remote store acknowledged, returning
// the number of acknowledgements.
func (n *Node) Replicate(ctx context.Context, count int, item *crypto.SignedItem) (int, error) {
	target, err := ParseNetworkID(item.Key)
	if err != nil {
		return 0, err
	}
	peers, err := n.lookupNode(ctx, target)
	if err != nil {
		return 0, err
	}
	if len(peers) > count {
		peers = peers[:count]
	}
	if len(peers) == 0 {
		return 0, ErrNoPeers
	}
	acked := n.storeTo(peers, item)
	if acked == 0 {
		return 0, ErrReplicationFailed
	}
	n.store.MarkRepublished(item.Key, time.Now().Unix())
	glog.V(logger.Info).Infof("replicated %.16s... to %d/%d peers", item.Key, acked, len(peers))
	return acked, nil
}

// Join brings the node into the network: ping all seed peers in
// parallel, then look up the local id to populate nearby buckets, and
// finally aim a refresh lookup into every bucket that is not full.
func (n *Node) Join(ctx context.Context, seeds []PeerDump) error {
	if len(seeds) == 0 {
		return ErrNoPeers
	}
	var pinged sync.WaitGroup
	alive := make(chan struct{}, len(seeds))
	for _, dump := range seeds {
		peer, err := NewPeerNode(dump.PublicKey, dump.Version, dump.URI, 0)
		if err != nil {
			continue
		}
		pinged.Add(1)
		go func(p *PeerNode) {
			defer pinged.Done()
			if n.Ping(ctx, p) == nil {
				alive <- struct{}{}
			}
		}(peer)
	}
	pinged.Wait()
	close(alive)
	live := 0
	for range alive {
		live++
	}
	if live == 0 {
		return ErrNoPeers
	}
	glog.V(logger.Info).Infof("joined via %d/%d seeds", live, len(seeds))

	if _, err := n.lookupNode(ctx, n.id); err != nil && err != ErrNoPeers {
		return err
	}
	for _, target := range n.table.UnderfilledTargets() {
		n.lookupNode(ctx, target)
	}
	return nil
}

// ---- maintenance loops ----

// refreshLoop sweeps the store and aims lookups into idle buckets.
func (n *Node) refreshLoop() {
	defer n.wg.Done()
	sweep := time.NewTicker(sweepInterval)
	refresh := time.NewTicker(n.cfg.RefreshInterval)
	defer sweep.Stop()
	defer refresh.Stop()
	for {
		select {
		case <-sweep.C:
			before := n.store.Items()
			n.store.Sweep(time.Now().Unix())
			if n.archive != nil {
				n.scrubArchive(before)
			}
		case <-refresh.C:
			for _, target := range n.table.RefreshTargets(time.Now()) {
				ctx, cancel := context.WithTimeout(context.Background(), n.cfg.RefreshInterval/2)
				n.lookupNode(ctx, target)
				cancel()
			}
		case <-n.quit:
			return
		}
	}
}

// scrubArchive drops archived snapshots for items the sweep removed.
func (n *Node) scrubArchive(before []*crypto.SignedItem) {
	now := time.Now().Unix()
	for _, item := range before {
		if _, ok := n.store.Get(item.Key, now); !ok {
			n.archive.DeleteItem(item.Key)
		}
	}
}

// republishLoop periodically re-replicates owned items.
func (n *Node) republishLoop() {
	defer n.wg.Done()
	tick := n.cfg.RepublishInterval / 4
	if tick < time.Second {
		tick = time.Second
	}
	ticker := time.NewTicker(tick)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			now := time.Now().Unix()
			due := n.store.ItemsToRepublish(now, int64(n.cfg.RepublishInterval/time.Second))
			for _, item := range due {
				ctx, cancel := context.WithTimeout(context.Background(), n.cfg.RPCTimeout*4)
				if _, err := n.Replicate(ctx, n.cfg.DuplicationCount, item); err != nil {
					glog.V(logger.Debug).Infof("republish %.16s... failed: %v", item.Key, err)
				}
				cancel()
				n.store.MarkRepublished(item.Key, now)
			}
		case <-n.quit:
			return
		}
	}
}
