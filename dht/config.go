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

import "time"

// Protocol parameter defaults. Everything is overridable through
// Config so tests can shrink the network to a handful of peers.
const (
	DefaultK                 = 20
	DefaultAlpha             = 3
	DefaultB                 = 20
	DefaultDuplicationCount  = 6
	DefaultMaxReplacements   = 10
	DefaultExpiryDuration    = 7 * 24 * time.Hour
	DefaultRPCTimeout        = 5 * time.Second
	DefaultRefreshInterval   = time.Hour
	DefaultRepublishInterval = 24 * time.Hour

	// maxRPCFailures is how many consecutive failed RPCs a peer may
	// accumulate before it is dropped from the routing table.
	maxRPCFailures = 3
)

// Config carries every tunable of a DHT node. The zero value of any
// field means "use the default".
type Config struct {
	K                 int           // bucket capacity
	Alpha             int           // lookup concurrency
	B                 int           // lookup shortlist size
	DuplicationCount  int           // replicas per published item
	MaxReplacements   int           // per-bucket replacement cache size
	ExpiryDuration    time.Duration // default item ttl
	RPCTimeout        time.Duration // deadline per outstanding rpc
	RefreshInterval   time.Duration // idle bucket refresh period
	RepublishInterval time.Duration // owned item republish period
}

func (c Config) withDefaults() Config {
	if c.K == 0 {
		c.K = DefaultK
	}
	if c.Alpha == 0 {
		c.Alpha = DefaultAlpha
	}
	if c.B == 0 {
		c.B = DefaultB
	}
	if c.DuplicationCount == 0 {
		c.DuplicationCount = DefaultDuplicationCount
	}
	if c.MaxReplacements == 0 {
		c.MaxReplacements = DefaultMaxReplacements
	}
	if c.ExpiryDuration == 0 {
		c.ExpiryDuration = DefaultExpiryDuration
	}
	if c.RPCTimeout == 0 {
		c.RPCTimeout = DefaultRPCTimeout
	}
	if c.RefreshInterval == 0 {
		c.RefreshInterval = DefaultRefreshInterval
	}
	if c.RepublishInterval == 0 {
		c.RepublishInterval = DefaultRepublishInterval
	}
	return c
}
