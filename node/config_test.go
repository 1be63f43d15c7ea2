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
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"

	"github.com/drogulus-project/go-drogulus/dht"
)

// memConfig returns a config wired to an in-memory fs so tests never
// touch the disk.
func memConfig(datadir string) *Config {
	return &Config{
		DataDir: datadir,
		fs:      &fs{afero.NewMemMapFs()},
	}
}

func TestKeyIsStableAcrossRuns(t *testing.T) {
	cfg := memConfig("/data")

	first, err := cfg.Key()
	assert.NoError(t, err)
	second, err := cfg.Key()
	assert.NoError(t, err)
	assert.Equal(t, first.PublicKey, second.PublicKey)
	assert.Equal(t, first.PrivateKey, second.PrivateKey)
}

func TestKeyEphemeralWithoutDatadir(t *testing.T) {
	cfg := memConfig("")
	first, err := cfg.Key()
	assert.NoError(t, err)
	second, err := cfg.Key()
	assert.NoError(t, err)
	assert.NotEqual(t, first.PublicKey, second.PublicKey)
}

func TestSeedsRoundtrip(t *testing.T) {
	cfg := memConfig("/data")
	seeds := []dht.PeerDump{
		{PublicKey: "pk-1", Version: "0.9.0", URI: "netstring://10.0.0.1:1908"},
		{PublicKey: "pk-2", Version: "0.9.0", URI: "netstring://10.0.0.2:1908"},
	}
	assert.NoError(t, cfg.SaveSeeds(seeds))
	assert.Equal(t, seeds, cfg.LoadSeeds())
}

func TestSeedsMissing(t *testing.T) {
	cfg := memConfig("/data")
	assert.Nil(t, cfg.LoadSeeds())
	// Saving nothing is a no-op, not an error.
	assert.NoError(t, cfg.SaveSeeds(nil))
}

func TestPeerDBPath(t *testing.T) {
	assert.Equal(t, "", memConfig("").PeerDBPath())
	assert.Contains(t, memConfig("/data").PeerDBPath(), "peers.db")
}
