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

package node

import (
	"context"

	"github.com/golang/glog"

	"github.com/drogulus-project/go-drogulus/common"
	"github.com/drogulus-project/go-drogulus/crypto"
	"github.com/drogulus-project/go-drogulus/dht"
	"github.com/drogulus-project/go-drogulus/logger"
	"github.com/drogulus-project/go-drogulus/p2p/netstring"
)

// Drogulus is a running node in the drogulus network. All the actual
// heavy lifting happens in the embedded dht.Node; this facade wires
// the transport, keys and persistence together and exposes the small
// application surface.
type Drogulus struct {
	cfg       *Config
	key       *crypto.Key
	uri       string
	connector *netstring.Connector
	node      *dht.Node

	// Whoami is published to the network under the node's own public
	// key after a successful join.
	Whoami map[string]interface{}
}

// SetResult reports the outcome of an asynchronous Set.
type SetResult struct {
	Duplicates int // how many peers acknowledged the item
	Err        error
}

// New builds a node from its configuration: key pair, transport
// (bound immediately so the reachable URI is known), DHT state and
// durable archives.
func New(cfg *Config) (*Drogulus, error) {
	key, err := cfg.Key()
	if err != nil {
		return nil, err
	}
	d := &Drogulus{cfg: cfg, key: key}

	d.connector = netstring.NewConnector(func(payload []byte) {
		d.node.Receive(payload)
	})
	addr, err := d.connector.Listen(cfg.ListenAddr)
	if err != nil {
		return nil, err
	}

	d.uri = netstring.URI(addr)
	d.node, err = dht.NewNode(key.PublicKey, key.PrivateKey, d.uri,
		d.connector, cfg.DHT, cfg.PeerDBPath())
	if err != nil {
		d.connector.Close()
		return nil, err
	}
	archive, err := cfg.ItemArchive()
	if err != nil {
		d.connector.Close()
		return nil, err
	}
	d.node.AttachArchive(archive)

	d.Whoami = map[string]interface{}{}
	for k, v := range cfg.Whoami {
		d.Whoami[k] = v
	}
	d.Whoami["public_key"] = key.PublicKey
	d.Whoami["version"] = common.Version

	d.node.Start()
	id := d.node.ID()
	glog.V(logger.Info).Infof("drogulus node %x up at %s", id[:8], d.uri)
	return d, nil
}

// Close shuts the node down, saving fresh seeds for the next run.
func (d *Drogulus) Close() {
	if seeds := d.node.Seeds(20); len(seeds) > 0 {
		if err := d.cfg.SaveSeeds(seeds); err != nil {
			glog.V(logger.Warn).Infof("could not save seeds: %v", err)
		}
	}
	d.node.Stop()
	d.connector.Close()
}

// NetworkID returns the node's hex network id.
func (d *Drogulus) NetworkID() string {
	id := d.node.ID()
	return id.String()
}

// PublicKey returns the node's public key.
func (d *Drogulus) PublicKey() string {
	return d.key.PublicKey
}

// URI returns the endpoint remote peers reach this node at.
func (d *Drogulus) URI() string {
	return d.uri
}

// DHT exposes the underlying DHT node.
func (d *Drogulus) DHT() *dht.Node {
	return d.node
}

// Join brings the node into the network via the given seed peers
// (falling back to the saved dump from the previous run) and then
// publishes the node's whoami data.
func (d *Drogulus) Join(ctx context.Context, seeds []dht.PeerDump) error {
	if len(seeds) == 0 {
		seeds = d.cfg.LoadSeeds()
	}
	if err := d.node.Join(ctx, seeds); err != nil {
		return err
	}
	// Let the network know who we are; losing this is not fatal.
	if _, err := d.Set(ctx, d.key.PublicKey, d.Whoami, 0, 0); err != nil {
		glog.V(logger.Warn).Infof("whoami publication failed: %v", err)
	}
	return nil
}

// Get retrieves the value stored under the compound key built from a
// public key and a meaningful key name.
func (d *Drogulus) Get(ctx context.Context, publicKey, keyName string) (*crypto.SignedItem, error) {
	return d.node.Retrieve(ctx, crypto.ConstructKey(publicKey, keyName))
}

// Whois retrieves the whoami data another entity published.
func (d *Drogulus) Whois(ctx context.Context, publicKey string) (*crypto.SignedItem, error) {
	return d.Get(ctx, publicKey, publicKey)
}

// Set signs a value under the node's own key pair, stores it locally
// and replicates it to duplicate peers (the configured duplication
// count when zero). ttl zero takes the configured default expiry;
// pass a negative ttl for an item that never expires. It blocks
// until replication resolves and reports how many peers acknowledged;
// failing to reach a single peer is an error.
func (d *Drogulus) Set(ctx context.Context, keyName string, value interface{}, duplicate int, ttl int64) (int, error) {
	if duplicate == 0 {
		duplicate = d.node.Duplication()
	}
	item, err := crypto.GetSignedItem(keyName, value, d.key.PublicKey, d.key.PrivateKey, d.node.TTL(ttl))
	if err != nil {
		return 0, err
	}
	if err := d.node.StoreLocal(item); err != nil {
		return 0, err
	}
	return d.node.Replicate(ctx, duplicate, item)
}

// SetAsync is Set with the fire-and-forget shape of the original
// interface: it returns immediately with a channel yielding the
// replication outcome.
func (d *Drogulus) SetAsync(ctx context.Context, keyName string, value interface{}, duplicate int, ttl int64) <-chan SetResult {
	out := make(chan SetResult, 1)
	go func() {
		n, err := d.Set(ctx, keyName, value, duplicate, ttl)
		out <- SetResult{Duplicates: n, Err: err}
	}()
	return out
}

// DumpRoutingTable returns the persistable routing table state.
func (d *Drogulus) DumpRoutingTable() *dht.TableDump {
	return d.node.DumpRoutingTable()
}
