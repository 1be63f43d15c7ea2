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

// Package drogdb wraps the embedded key/value database backing the
// durable parts of a node: currently the signed item archive.
package drogdb

import (
	"sync"

	"github.com/golang/glog"
	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/errors"
	"github.com/syndtr/goleveldb/leveldb/filter"
	"github.com/syndtr/goleveldb/leveldb/opt"

	"github.com/drogulus-project/go-drogulus/logger"
)

// Database is the narrow surface the rest of the node depends on.
type Database interface {
	Put(key, value []byte) error
	Get(key []byte) ([]byte, error)
	Delete(key []byte) error
	ForEach(fn func(key, value []byte) error) error
	Close()
}

// LDBDatabase is a Database on top of leveldb.
type LDBDatabase struct {
	file string
	db   *leveldb.DB
}

// NewLDBDatabase opens (creating if needed) a leveldb database at
// file, recovering from a corrupted manifest when possible.
func NewLDBDatabase(file string, cache int, handles int) (*LDBDatabase, error) {
	if cache < 16 {
		cache = 16
	}
	if handles < 16 {
		handles = 16
	}
	db, err := leveldb.OpenFile(file, &opt.Options{
		OpenFilesCacheCapacity: handles,
		BlockCacheCapacity:     cache / 2 * opt.MiB,
		WriteBuffer:            cache / 4 * opt.MiB, // Two of these are used internally
		Filter:                 filter.NewBloomFilter(10),
	})
	if _, corrupted := err.(*errors.ErrCorrupted); corrupted {
		db, err = leveldb.RecoverFile(file, nil)
	}
	if err != nil {
		return nil, err
	}
	return &LDBDatabase{file: file, db: db}, nil
}

func (self *LDBDatabase) Put(key []byte, value []byte) error {
	return self.db.Put(key, value, nil)
}

func (self *LDBDatabase) Get(key []byte) ([]byte, error) {
	return self.db.Get(key, nil)
}

func (self *LDBDatabase) Delete(key []byte) error {
	return self.db.Delete(key, nil)
}

// ForEach walks every record in key order. The callback must not
// retain the slices it is handed.
func (self *LDBDatabase) ForEach(fn func(key, value []byte) error) error {
	it := self.db.NewIterator(nil, nil)
	defer it.Release()
	for it.Next() {
		if err := fn(it.Key(), it.Value()); err != nil {
			return err
		}
	}
	return it.Error()
}

func (self *LDBDatabase) Close() {
	if err := self.db.Close(); err != nil {
		glog.V(logger.Error).Infof("drogdb: close %s: %s", self.file, err)
	}
}

// MemDatabase is an in-memory Database for tests and datadir-less
// nodes.
type MemDatabase struct {
	mu sync.RWMutex
	kv map[string][]byte
}

func NewMemDatabase() *MemDatabase {
	return &MemDatabase{kv: make(map[string][]byte)}
}

func (db *MemDatabase) Put(key, value []byte) error {
	db.mu.Lock()
	defer db.mu.Unlock()
	db.kv[string(key)] = append([]byte(nil), value...)
	return nil
}

func (db *MemDatabase) Get(key []byte) ([]byte, error) {
	db.mu.RLock()
	defer db.mu.RUnlock()
	if v, ok := db.kv[string(key)]; ok {
		return append([]byte(nil), v...), nil
	}
	return nil, leveldb.ErrNotFound
}

func (db *MemDatabase) Delete(key []byte) error {
	db.mu.Lock()
	defer db.mu.Unlock()
	delete(db.kv, string(key))
	return nil
}

func (db *MemDatabase) ForEach(fn func(key, value []byte) error) error {
	db.mu.RLock()
	defer db.mu.RUnlock()
	for k, v := range db.kv {
		if err := fn([]byte(k), v); err != nil {
			return err
		}
	}
	return nil
}

func (db *MemDatabase) Close() {}
