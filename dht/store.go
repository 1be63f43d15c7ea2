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

	"github.com/golang/glog"
	"gopkg.in/karalabe/cookiejar.v2/collections/prque"

	"github.com/drogulus-project/go-drogulus/crypto"
	"github.com/drogulus-project/go-drogulus/logger"
)

// expirySlack covers the precision the sweep queue loses by holding
// unix timestamps as float32 priorities (one ulp is ~128s at current
// epochs). Entries popped within the slack are re-checked against the
// item's exact expiry, so the slack only ever causes extra checks.
const expirySlack = 256

// Store is the local authoritative map from compound key to signed
// item. Every accepted item carries a valid signature; for any key
// the freshest timestamp wins, with signature order breaking ties.
type Store struct {
	mu          sync.Mutex
	items       map[string]*crypto.SignedItem
	republished map[string]int64 // owned key -> last republish, unix
	schedule    *prque.Prque     // expiry check order hint
	owner       string           // local public key
}

// NewStore creates an empty store owned by the given public key. The
// owner matters only for republishing: a node re-replicates its own
// items, never third-party replicas.
func NewStore(ownerPublicKey string) *Store {
	return &Store{
		items:       make(map[string]*crypto.SignedItem),
		republished: make(map[string]int64),
		schedule:    prque.New(),
		owner:       ownerPublicKey,
	}
}

// Put validates and inserts an item. It returns stale=true (and no
// error) when an entry at least as fresh is already held for the key.
func (s *Store) Put(item *crypto.SignedItem, now int64) (stale bool, err error) {
	if !crypto.ValidateItem(item) {
		return false, ErrInvalidItem
	}
	if item.Expires != 0 && item.Expires <= now {
		return false, ErrExpired
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if held, ok := s.items[item.Key]; ok {
		if item.Timestamp < held.Timestamp {
			return true, nil
		}
		if item.Timestamp == held.Timestamp && item.Signature <= held.Signature {
			return true, nil
		}
	}
	s.items[item.Key] = item
	if item.Expires != 0 {
		s.schedule.Push(item.Key, -float32(item.Expires))
	}
	if item.PublicKey == s.owner {
		if _, ok := s.republished[item.Key]; !ok {
			s.republished[item.Key] = now
		}
	}
	glog.V(logger.Detail).Infof("stored item %.16s... (expires %d)", item.Key, item.Expires)
	return false, nil
}

// Get returns the unexpired item held for key, if any.
func (s *Store) Get(key string, now int64) (*crypto.SignedItem, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	item, ok := s.items[key]
	if !ok {
		return nil, false
	}
	if item.Expires != 0 && item.Expires <= now {
		s.evict(key)
		return nil, false
	}
	return item, true
}

// Sweep removes every item whose expiry has passed. The schedule
// queue orders the checks; each popped key is verified against the
// item's exact expiry before anything is dropped.
func (s *Store) Sweep(now int64) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	removed := 0
	type requeued struct {
		key     string
		expires int64
	}
	var keep []requeued
	for !s.schedule.Empty() {
		data, prio := s.schedule.Pop()
		if int64(-float64(prio)) > now+expirySlack {
			s.schedule.Push(data, prio)
			break
		}
		key := data.(string)
		item, ok := s.items[key]
		if !ok || item.Expires == 0 {
			continue // gone, or replaced by a permanent record
		}
		if item.Expires <= now {
			s.evict(key)
			removed++
			continue
		}
		// Within the slack window, or a stale entry for a key whose
		// record was replaced by a fresher one: check again later.
		keep = append(keep, requeued{key, item.Expires})
	}
	for _, r := range keep {
		s.schedule.Push(r.key, -float32(r.expires))
	}
	if removed > 0 {
		glog.V(logger.Debug).Infof("swept %d expired items", removed)
	}
	return removed
}

// evict drops key's bookkeeping. Caller holds the lock.
func (s *Store) evict(key string) {
	delete(s.items, key)
	delete(s.republished, key)
}

// ItemsToRepublish returns the owned items whose last republish is at
// least interval seconds in the past. The caller is expected to
// replicate them and call MarkRepublished.
func (s *Store) ItemsToRepublish(now, interval int64) []*crypto.SignedItem {
	s.mu.Lock()
	defer s.mu.Unlock()
	var due []*crypto.SignedItem
	for key, last := range s.republished {
		if now-last < interval {
			continue
		}
		if item, ok := s.items[key]; ok {
			due = append(due, item)
		}
	}
	return due
}

// MarkRepublished records that the owned item was just re-replicated.
func (s *Store) MarkRepublished(key string, now int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.republished[key]; ok {
		s.republished[key] = now
	}
}

// Items returns a snapshot of everything currently held.
func (s *Store) Items() []*crypto.SignedItem {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*crypto.SignedItem, 0, len(s.items))
	for _, item := range s.items {
		out = append(out, item)
	}
	return out
}

// Len returns the number of held items.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.items)
}
