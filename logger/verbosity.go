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

// Package logger defines the verbosity levels used with glog throughout
// the codebase, so call sites read glog.V(logger.Detail).Infof(...).
package logger

import "github.com/golang/glog"

const (
	Error  glog.Level = 1
	Warn   glog.Level = 2
	Info   glog.Level = 3
	Debug  glog.Level = 4
	Detail glog.Level = 5

	// Ridiculousness is legacy-speak for the most verbose level.
	Ridiculousness glog.Level = 100
)
