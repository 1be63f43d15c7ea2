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

package common

import (
	"fmt"
	"testing"
)

func TestParseVersion(t *testing.T) {
	tests := []struct {
		in      string
		ma      int
		mi      int
		pa      int
		wantErr bool
	}{
		{"0.9.2", 0, 9, 2, false},
		{"1.0.0", 1, 0, 0, false},
		{"2.11.4-unstable", 2, 11, 4, false},
		{" 0.9.2 ", 0, 9, 2, false},
		{"0.9", 0, 0, 0, true},
		{"", 0, 0, 0, true},
		{"a.b.c", 0, 0, 0, true},
	}
	for _, tt := range tests {
		ma, mi, pa, err := ParseVersion(tt.in)
		if tt.wantErr {
			if err == nil {
				t.Errorf("ParseVersion(%q) succeeded", tt.in)
			}
			continue
		}
		if err != nil {
			t.Errorf("ParseVersion(%q): %v", tt.in, err)
			continue
		}
		if ma != tt.ma || mi != tt.mi || pa != tt.pa {
			t.Errorf("ParseVersion(%q) = %d.%d.%d", tt.in, ma, mi, pa)
		}
	}
}

func TestCompatibleVersion(t *testing.T) {
	if !CompatibleVersion(Version) {
		t.Fatal("a node is incompatible with itself")
	}
	if !CompatibleVersion(fmt.Sprintf("%d.%d.%d", VersionMajor, VersionMinor+3, 0)) {
		t.Error("minor releases must interoperate")
	}
	if CompatibleVersion(fmt.Sprintf("%d.0.0", VersionMajor+1)) {
		t.Error("major releases must not interoperate")
	}
	if CompatibleVersion("gibberish") {
		t.Error("unparseable versions must not interoperate")
	}
}
