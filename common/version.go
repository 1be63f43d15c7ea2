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

// Package common holds values and helpers shared by every other package.
package common

import (
	"fmt"
	"strconv"
	"strings"
)

// Version components. The string form travels in every wire frame, so
// changing the major number cuts a node off from the old network.
const (
	VersionMajor = 0
	VersionMinor = 9
	VersionPatch = 2
)

// Version is the canonical release string, e.g. "0.9.2".
var Version = fmt.Sprintf("%d.%d.%d", VersionMajor, VersionMinor, VersionPatch)

// ParseVersion splits a dotted release string into its numeric parts.
func ParseVersion(s string) (major, minor, patch int, err error) {
	parts := strings.SplitN(strings.TrimSpace(s), ".", 3)
	if len(parts) != 3 {
		return 0, 0, 0, fmt.Errorf("invalid version string %q", s)
	}
	nums := make([]int, 3)
	for i, p := range parts {
		// Tolerate trailing pre-release tags on the patch component.
		if i == 2 {
			if dash := strings.IndexByte(p, '-'); dash != -1 {
				p = p[:dash]
			}
		}
		n, err := strconv.Atoi(p)
		if err != nil {
			return 0, 0, 0, fmt.Errorf("invalid version string %q: %v", s, err)
		}
		nums[i] = n
	}
	return nums[0], nums[1], nums[2], nil
}

// CompatibleVersion reports whether a remote node's version string is
// interoperable with the local release. Only the major number gates.
func CompatibleVersion(remote string) bool {
	major, _, _, err := ParseVersion(remote)
	if err != nil {
		return false
	}
	return major == VersionMajor
}
