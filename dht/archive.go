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

	"github.com/golang/glog"

	"github.com/drogulus-project/go-drogulus/crypto"
	"github.com/drogulus-project/go-drogulus/drogdb"
	"github.com/drogulus-project/go-drogulus/logger"
)

// Archive mirrors accepted items into an embedded database so a
// restarted node still holds what it held before. It is a cache of
// the in-memory store, never an authority: replayed records pass
// through the store's full validation and anything invalid or
// expired is discarded (and scrubbed from disk).
type Archive struct {
	db drogdb.Database
}

// NewArchive wraps a database as an item archive.
func NewArchive(db drogdb.Database) *Archive {
	return &Archive{db: db}
}

// WriteItem snapshots an accepted item.
func (a *Archive) WriteItem(item *crypto.SignedItem) {
	blob, err := json.Marshal(item)
	if err != nil {
		return
	}
	if err := a.db.Put([]byte(item.Key), blob); err != nil {
		glog.V(logger.Error).Infof("archive write %.16s...: %v", item.Key, err)
	}
}

// DeleteItem drops a swept item's snapshot.
func (a *Archive) DeleteItem(key string) {
	a.db.Delete([]byte(key))
}

// Replay feeds every archived item back through the store. It
// returns how many records were restored.
func (a *Archive) Replay(store *Store) int {
	now := time.Now().Unix()
	restored := 0
	var scrub [][]byte
	a.db.ForEach(func(key, value []byte) error {
		item := new(crypto.SignedItem)
		if err := json.Unmarshal(value, item); err != nil {
			scrub = append(scrub, append([]byte(nil), key...))
			return nil
		}
		if stale, err := store.Put(item, now); err != nil || stale {
			scrub = append(scrub, append([]byte(nil), key...))
			return nil
		}
		restored++
		return nil
	})
	for _, key := range scrub {
		a.db.Delete(key)
	}
	glog.V(logger.Info).Infof("archive replay: %d items restored, %d scrubbed", restored, len(scrub))
	return restored
}

// Close releases the backing database.
func (a *Archive) Close() {
	a.db.Close()
}
