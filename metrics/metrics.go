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

// Package metrics centralizes the registration.
package metrics

import (
	"time"

	"github.com/golang/glog"
	"github.com/rcrowley/go-metrics"

	"github.com/drogulus-project/go-drogulus/logger"
)

// reg is the metrics destination.
var reg = metrics.NewRegistry()

var (
	MsgPingIn       = metrics.NewRegisteredMeter("msg/ping/in", reg)
	MsgPingOut      = metrics.NewRegisteredMeter("msg/ping/out", reg)
	MsgFindNodeIn   = metrics.NewRegisteredMeter("msg/findnode/in", reg)
	MsgFindNodeOut  = metrics.NewRegisteredMeter("msg/findnode/out", reg)
	MsgFindValueIn  = metrics.NewRegisteredMeter("msg/findvalue/in", reg)
	MsgFindValueOut = metrics.NewRegisteredMeter("msg/findvalue/out", reg)
	MsgStoreIn      = metrics.NewRegisteredMeter("msg/store/in", reg)
	MsgStoreOut     = metrics.NewRegisteredMeter("msg/store/out", reg)
	MsgDropped      = metrics.NewRegisteredMeter("msg/dropped", reg)

	TransportBytesIn  = metrics.NewRegisteredMeter("transport/bytes/in", reg)
	TransportBytesOut = metrics.NewRegisteredMeter("transport/bytes/out", reg)

	RPCTimeouts = metrics.NewRegisteredMeter("rpc/timeout", reg)

	LookupTimer    = metrics.NewRegisteredTimer("lookup", reg)
	LookupNotFound = metrics.NewRegisteredMeter("lookup/notfound", reg)
)

// CollectToLog periodically writes a registry snapshot to the logs at
// the Detail verbosity. It blocks and is meant to run in its own
// goroutine.
func CollectToLog(interval time.Duration) {
	for range time.Tick(interval) {
		reg.Each(func(name string, i interface{}) {
			switch m := i.(type) {
			case metrics.Meter:
				glog.V(logger.Detail).Infof("metric %s: count=%d rate1m=%.2f", name, m.Count(), m.Rate1())
			case metrics.Timer:
				glog.V(logger.Detail).Infof("metric %s: count=%d mean=%v", name, m.Count(), time.Duration(m.Mean()))
			}
		})
	}
}
