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
	"io/ioutil"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/boltdb/bolt"
	"github.com/golang/glog"

	"github.com/drogulus-project/go-drogulus/logger"
)

var (
	peersBucketName    = []byte("peers")
	activityBucketName = []byte("activity")
)

// peerActivity is the per-peer bookkeeping persisted between runs.
type peerActivity struct {
	LastPing  int64 `json:"last_ping"`
	LastPong  int64 `json:"last_pong"`
	FindFails int   `json:"find_fails"`
}

// nodeDB persists peer metadata across restarts so a rebooted node
// can seed its routing table with peers that were recently alive
// instead of relying solely on configured bootstrap contacts.
type nodeDB struct {
	db        *bolt.DB
	path      string
	ephemeral bool // remove the backing file on close
}

// newNodeDB opens (or creates) the peer database at path. An empty
// path yields an ephemeral database backed by a temp file.
func newNodeDB(path string) (*nodeDB, error) {
	ephemeral := path == ""
	if ephemeral {
		dir, err := ioutil.TempDir("", "drogulus-nodedb")
		if err != nil {
			return nil, err
		}
		path = filepath.Join(dir, "peers.db")
	}
	bdb, err := bolt.Open(path, 0600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, err
	}
	if err := bdb.Update(func(tx *bolt.Tx) error {
		if _, err := tx.CreateBucketIfNotExists(peersBucketName); err != nil {
			return err
		}
		_, err := tx.CreateBucketIfNotExists(activityBucketName)
		return err
	}); err != nil {
		bdb.Close()
		return nil, err
	}
	return &nodeDB{db: bdb, path: path, ephemeral: ephemeral}, nil
}

func (ndb *nodeDB) close() {
	if err := ndb.db.Close(); err != nil {
		glog.V(logger.Error).Infof("nodedb close: %v", err)
	}
	if ndb.ephemeral {
		os.RemoveAll(filepath.Dir(ndb.path))
	}
}

// updateNode stores a peer's backup projection.
func (ndb *nodeDB) updateNode(p *PeerNode) {
	blob, err := json.Marshal(p.Dump())
	if err != nil {
		return
	}
	ndb.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(peersBucketName).Put([]byte(p.ID.String()), blob)
	})
}

// deleteNode forgets a peer entirely.
func (ndb *nodeDB) deleteNode(id NetworkID) {
	ndb.db.Update(func(tx *bolt.Tx) error {
		key := []byte(id.String())
		if err := tx.Bucket(peersBucketName).Delete(key); err != nil {
			return err
		}
		return tx.Bucket(activityBucketName).Delete(key)
	})
}

func (ndb *nodeDB) activity(id NetworkID) peerActivity {
	var act peerActivity
	ndb.db.View(func(tx *bolt.Tx) error {
		if blob := tx.Bucket(activityBucketName).Get([]byte(id.String())); blob != nil {
			json.Unmarshal(blob, &act)
		}
		return nil
	})
	return act
}

func (ndb *nodeDB) putActivity(id NetworkID, act peerActivity) {
	blob, err := json.Marshal(act)
	if err != nil {
		return
	}
	ndb.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(activityBucketName).Put([]byte(id.String()), blob)
	})
}

func (ndb *nodeDB) updateLastPing(id NetworkID, at time.Time) {
	act := ndb.activity(id)
	act.LastPing = at.Unix()
	ndb.putActivity(id, act)
}

func (ndb *nodeDB) updateLastPong(id NetworkID, at time.Time) {
	act := ndb.activity(id)
	act.LastPong = at.Unix()
	ndb.putActivity(id, act)
}

func (ndb *nodeDB) findFails(id NetworkID) int {
	return ndb.activity(id).FindFails
}

func (ndb *nodeDB) updateFindFails(id NetworkID, fails int) {
	act := ndb.activity(id)
	act.FindFails = fails
	ndb.putActivity(id, act)
}

// querySeeds returns up to n remembered peers, most recently active
// first, skipping anything silent for longer than maxAge.
func (ndb *nodeDB) querySeeds(n int, maxAge time.Duration) []PeerDump {
	type seed struct {
		dump PeerDump
		pong int64
	}
	cutoff := time.Now().Add(-maxAge).Unix()
	var seeds []seed
	ndb.db.View(func(tx *bolt.Tx) error {
		peers := tx.Bucket(peersBucketName)
		activity := tx.Bucket(activityBucketName)
		return peers.ForEach(func(k, v []byte) error {
			var dump PeerDump
			if err := json.Unmarshal(v, &dump); err != nil {
				return nil
			}
			var act peerActivity
			if blob := activity.Get(k); blob != nil {
				json.Unmarshal(blob, &act)
			}
			if act.LastPong < cutoff {
				return nil
			}
			seeds = append(seeds, seed{dump: dump, pong: act.LastPong})
			return nil
		})
	})
	sort.Slice(seeds, func(i, j int) bool { return seeds[i].pong > seeds[j].pong })
	if len(seeds) > n {
		seeds = seeds[:n]
	}
	out := make([]PeerDump, len(seeds))
	for i, s := range seeds {
		out[i] = s.dump
	}
	return out
}
