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

// Package node hosts a drogulus node: it loads configuration and
// keys, owns the transport, and wraps the DHT in the small facade
// applications talk to.
package node

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/afero"

	"github.com/drogulus-project/go-drogulus/crypto"
	"github.com/drogulus-project/go-drogulus/dht"
	"github.com/drogulus-project/go-drogulus/drogdb"
)

var (
	datadirNodeKey      = "nodekey.json" // Path within the datadir to the node's key pair
	datadirSeeds        = "seeds.json"   // Path within the datadir to the bootstrap peer dump
	datadirPeerDatabase = "peers.db"     // Path within the datadir to the peer metadata db
	datadirItemArchive  = "items"        // Path within the datadir to the item archive
)

// fs wraps afero.Fs, used as a type of its own so that we can take
// its address and set a zero-value default.
type fs struct {
	afero.Fs
}

// Config collects everything a node needs at construction. The zero
// value runs an ephemeral in-memory node on an OS-assigned port.
type Config struct {
	// DataDir is the folder for the key pair, peer database, item
	// archive and seed dump. Empty means fully ephemeral.
	DataDir string

	// ListenAddr is the TCP address the transport binds, e.g.
	// ":1908". An empty address picks a free port.
	ListenAddr string

	// Whoami is arbitrary data about the local node, published to the
	// wider network after joining.
	Whoami map[string]interface{}

	// DHT carries the protocol parameters; zero fields take defaults.
	DHT dht.Config

	// fs is an abstracted file system. In normal use it points to the
	// OS; tests swap in an in-memory one.
	fs *fs
}

func (c *Config) filesystem() afero.Fs {
	if c.fs == nil {
		c.fs = &fs{afero.NewOsFs()}
	}
	return c.fs
}

// Key loads the node's key pair from the datadir, generating and
// persisting a fresh one the first time. Without a datadir the key
// is generated anew each run.
func (c *Config) Key() (*crypto.Key, error) {
	if c.DataDir == "" {
		return crypto.GenerateKey()
	}
	sys := c.filesystem()
	if err := sys.MkdirAll(c.DataDir, 0700); err != nil {
		return nil, err
	}
	path := filepath.Join(c.DataDir, datadirNodeKey)
	if exists, _ := afero.Exists(sys, path); exists {
		f, err := sys.Open(path)
		if err != nil {
			return nil, err
		}
		defer f.Close()
		key, err := crypto.ReadKey(f)
		if err != nil {
			return nil, fmt.Errorf("corrupt node key %s: %v", path, err)
		}
		return key, nil
	}
	key, err := crypto.GenerateKey()
	if err != nil {
		return nil, err
	}
	f, err := sys.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0600)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	if err := crypto.WriteKey(f, key); err != nil {
		return nil, err
	}
	return key, nil
}

// PeerDBPath locates the persistent peer database; empty without a
// datadir.
func (c *Config) PeerDBPath() string {
	if c.DataDir == "" {
		return ""
	}
	return filepath.Join(c.DataDir, datadirPeerDatabase)
}

// ItemArchive opens the durable item archive backend.
func (c *Config) ItemArchive() (drogdb.Database, error) {
	if c.DataDir == "" {
		return drogdb.NewMemDatabase(), nil
	}
	return drogdb.NewLDBDatabase(filepath.Join(c.DataDir, datadirItemArchive), 16, 16)
}

// LoadSeeds reads the saved bootstrap dump, if any.
func (c *Config) LoadSeeds() []dht.PeerDump {
	if c.DataDir == "" {
		return nil
	}
	blob, err := afero.ReadFile(c.filesystem(), filepath.Join(c.DataDir, datadirSeeds))
	if err != nil {
		return nil
	}
	var seeds []dht.PeerDump
	if err := json.Unmarshal(blob, &seeds); err != nil {
		return nil
	}
	return seeds
}

// SaveSeeds persists peers for the next run's rejoin.
func (c *Config) SaveSeeds(seeds []dht.PeerDump) error {
	if c.DataDir == "" || len(seeds) == 0 {
		return nil
	}
	blob, err := json.MarshalIndent(seeds, "", "  ")
	if err != nil {
		return err
	}
	return afero.WriteFile(c.filesystem(), filepath.Join(c.DataDir, datadirSeeds), blob, 0644)
}
