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
	"sync"
	"time"

	"github.com/golang/glog"
	lru "github.com/hashicorp/golang-lru"

	"github.com/drogulus-project/go-drogulus/logger"
)

// pingFunc probes a peer for liveness. It is supplied by the node so
// the table never owns the RPC layer; it blocks for at most one RPC
// timeout and must be called without holding the table lock.
type pingFunc func(*PeerNode) bool

// kbucket holds peers whose ids share a given prefix length with the
// local id. entries is ordered by last activity: the peer heard from
// least recently sits at the head.
type kbucket struct {
	entries      []*PeerNode
	replacements *lru.Cache // recently seen peers waiting for a slot
	lastTouched  time.Time
}

// Table is the routing table: a prefix tree of k-buckets flattened
// into a slice. buckets[i] holds peers sharing exactly i leading bits
// with the local id; the final bucket holds everything deeper and is
// the only one that splits, because only its range contains the local
// id.
type Table struct {
	mu      sync.Mutex
	self    NetworkID
	buckets []*kbucket

	k               int
	maxReplacements int
	refreshInterval time.Duration

	blacklist map[string]struct{} // refused public keys
	ping      pingFunc
}

// TableDump is the persistable projection of a routing table.
type TableDump struct {
	Contacts  []PeerDump `json:"contacts"`
	Blacklist []string   `json:"blacklist"`
}

// NewTable creates a routing table for the given local id.
func NewTable(self NetworkID, cfg Config) *Table {
	cfg = cfg.withDefaults()
	t := &Table{
		self:            self,
		k:               cfg.K,
		maxReplacements: cfg.MaxReplacements,
		refreshInterval: cfg.RefreshInterval,
		blacklist:       make(map[string]struct{}),
	}
	t.buckets = []*kbucket{t.newBucket()}
	return t
}

func (t *Table) newBucket() *kbucket {
	cache, _ := lru.New(t.maxReplacements)
	return &kbucket{replacements: cache, lastTouched: time.Now()}
}

// SetPingFunc wires the liveness probe used when a full bucket has to
// choose between its oldest entry and a newcomer.
func (t *Table) SetPingFunc(ping pingFunc) {
	t.mu.Lock()
	t.ping = ping
	t.mu.Unlock()
}

// bucketIndex maps a network id to the index of its bucket.
func (t *Table) bucketIndex(id NetworkID) int {
	cpl := CommonPrefixBits(t.self, id)
	if cpl >= len(t.buckets) {
		return len(t.buckets) - 1
	}
	return cpl
}

// AddContact inserts or refreshes a peer. Blacklisted peers are
// refused. When the peer's bucket is full and cannot be split, the
// peer lands in the bucket's replacement cache and the bucket's
// least recently seen entry is probed; a dead head is evicted and
// replaced with the freshest cached peer.
func (t *Table) AddContact(p *PeerNode) error {
	if p.ID == t.self {
		return nil
	}
	now := time.Now().Unix()

	t.mu.Lock()
	if _, refused := t.blacklist[p.PublicKey]; refused {
		t.mu.Unlock()
		glog.V(logger.Debug).Infof("refusing blacklisted contact %x", p.ID[:8])
		return ErrRefused
	}

	for {
		idx := t.bucketIndex(p.ID)
		b := t.buckets[idx]
		b.lastTouched = time.Now()

		// Already present: refresh metadata and move to the tail.
		for i, e := range b.entries {
			if e.ID == p.ID {
				e.URI = p.URI
				e.Version = p.Version
				e.LastSeen = now
				e.FailedRPCs = 0
				copy(b.entries[i:], b.entries[i+1:])
				b.entries[len(b.entries)-1] = e
				t.mu.Unlock()
				return nil
			}
		}

		if len(b.entries) < t.k {
			p.LastSeen = now
			b.entries = append(b.entries, p)
			b.replacements.Remove(p.ID.String())
			t.mu.Unlock()
			return nil
		}

		// Full. The deepest bucket's range contains the local id, so
		// it splits along the next prefix bit; anything shallower
		// overflows into the replacement cache.
		if idx == len(t.buckets)-1 && len(t.buckets) < IDBits {
			t.split()
			continue
		}

		b.replacements.Add(p.ID.String(), p)
		head := b.entries[0]
		ping := t.ping
		t.mu.Unlock()

		if ping == nil {
			return nil
		}
		alive := ping(head)
		t.mu.Lock()
		t.settleOverflow(idx, head, p, alive, now)
		t.mu.Unlock()
		return nil
	}
}

// settleOverflow applies the outcome of a head liveness probe. The
// caller holds the lock. Bucket bounds may have moved while the probe
// ran, so everything is re-checked by id.
func (t *Table) settleOverflow(idx int, head, newcomer *PeerNode, alive bool, now int64) {
	if idx >= len(t.buckets) {
		return
	}
	b := t.buckets[idx]
	if alive {
		// The old timer survives; the newcomer is dropped.
		for i, e := range b.entries {
			if e.ID == head.ID {
				e.LastSeen = now
				copy(b.entries[i:], b.entries[i+1:])
				b.entries[len(b.entries)-1] = e
				break
			}
		}
		b.replacements.Remove(newcomer.ID.String())
		return
	}
	for i, e := range b.entries {
		if e.ID == head.ID {
			b.entries = append(b.entries[:i], b.entries[i+1:]...)
			glog.V(logger.Debug).Infof("evicted unresponsive %x", head.ID[:8])
			break
		}
	}
	if keys := b.replacements.Keys(); len(keys) > 0 && len(b.entries) < t.k {
		// Promote the most recently cached replacement.
		key := keys[len(keys)-1]
		if v, ok := b.replacements.Get(key); ok {
			b.replacements.Remove(key)
			promoted := v.(*PeerNode)
			promoted.LastSeen = now
			b.entries = append(b.entries, promoted)
		}
	}
}

// split deepens the table by one prefix bit: entries of the deepest
// bucket that share more bits with the local id move into a fresh
// bucket appended behind it.
func (t *Table) split() {
	last := t.buckets[len(t.buckets)-1]
	fresh := t.newBucket()
	boundary := len(t.buckets) // new deepest prefix length

	var stay []*PeerNode
	for _, e := range last.entries {
		if CommonPrefixBits(t.self, e.ID) >= boundary {
			fresh.entries = append(fresh.entries, e)
		} else {
			stay = append(stay, e)
		}
	}
	last.entries = stay

	for _, key := range last.replacements.Keys() {
		v, ok := last.replacements.Get(key)
		if !ok {
			continue
		}
		p := v.(*PeerNode)
		if CommonPrefixBits(t.self, p.ID) >= boundary {
			last.replacements.Remove(key)
			fresh.replacements.Add(key, p)
		}
	}
	t.buckets = append(t.buckets, fresh)
	glog.V(logger.Detail).Infof("routing table split, depth now %d", len(t.buckets))
}

// FindClose returns up to count known peers closest to target,
// ordered by distance ascending.
func (t *Table) FindClose(target NetworkID, count int) []*PeerNode {
	t.mu.Lock()
	defer t.mu.Unlock()
	found := &nodesByDistance{target: target, maxElems: count}
	for _, b := range t.buckets {
		for _, e := range b.entries {
			found.push(e)
		}
	}
	return found.entries
}

// Remove drops the peer with the given id, wherever it is.
func (t *Table) Remove(id NetworkID) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, b := range t.buckets {
		for i, e := range b.entries {
			if e.ID == id {
				b.entries = append(b.entries[:i], b.entries[i+1:]...)
				return
			}
		}
		b.replacements.Remove(id.String())
	}
}

// RecordFailure bumps a peer's failure counter and evicts it once the
// counter crosses the threshold. It reports whether the peer was
// evicted.
func (t *Table) RecordFailure(id NetworkID) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, b := range t.buckets {
		for i, e := range b.entries {
			if e.ID == id {
				e.FailedRPCs++
				if e.FailedRPCs < maxRPCFailures {
					return false
				}
				b.entries = append(b.entries[:i], b.entries[i+1:]...)
				glog.V(logger.Debug).Infof("dropped %x after %d failed rpcs", id[:8], e.FailedRPCs)
				return true
			}
		}
	}
	return false
}

// Blacklist permanently refuses a public key and evicts any contact
// carrying it. A blacklisted key never co-exists with a routing table
// entry.
func (t *Table) Blacklist(publicKey string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.blacklist[publicKey] = struct{}{}
	for _, b := range t.buckets {
		for i := 0; i < len(b.entries); {
			if b.entries[i].PublicKey == publicKey {
				b.entries = append(b.entries[:i], b.entries[i+1:]...)
				continue
			}
			i++
		}
		for _, key := range b.replacements.Keys() {
			if v, ok := b.replacements.Get(key); ok && v.(*PeerNode).PublicKey == publicKey {
				b.replacements.Remove(key)
			}
		}
	}
}

// Blacklisted reports whether a public key is refused.
func (t *Table) Blacklisted(publicKey string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, ok := t.blacklist[publicKey]
	return ok
}

// Len returns the number of routable peers.
func (t *Table) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	n := 0
	for _, b := range t.buckets {
		n += len(b.entries)
	}
	return n
}

// Dump returns the persistable state of the table: every contact's
// backup projection plus the blacklist.
func (t *Table) Dump() *TableDump {
	t.mu.Lock()
	defer t.mu.Unlock()
	d := &TableDump{Contacts: []PeerDump{}, Blacklist: []string{}}
	for _, b := range t.buckets {
		for _, e := range b.entries {
			d.Contacts = append(d.Contacts, e.Dump())
		}
	}
	for key := range t.blacklist {
		d.Blacklist = append(d.Blacklist, key)
	}
	return d
}

// RefreshTargets returns one random lookup target per bucket that has
// seen no activity for the refresh interval, aimed inside the stale
// bucket's range. Returned buckets are considered touched.
func (t *Table) RefreshTargets(now time.Time) []NetworkID {
	t.mu.Lock()
	defer t.mu.Unlock()
	var targets []NetworkID
	for i, b := range t.buckets {
		if now.Sub(b.lastTouched) < t.refreshInterval {
			continue
		}
		b.lastTouched = now
		targets = append(targets, randomIDAtDistance(t.self, IDBits-i))
	}
	return targets
}

// UnderfilledTargets returns a lookup target per bucket that is not
// yet full, used right after joining to flesh the table out.
func (t *Table) UnderfilledTargets() []NetworkID {
	t.mu.Lock()
	defer t.mu.Unlock()
	var targets []NetworkID
	for i, b := range t.buckets {
		if len(b.entries) >= t.k {
			continue
		}
		targets = append(targets, randomIDAtDistance(t.self, IDBits-i))
	}
	return targets
}
