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

// Package netstring implements the reference drogulus transport:
// netstring framed messages over TCP, addressed by
// netstring://host:port URIs.
package netstring

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"
)

// maxFrame bounds a single inbound frame; anything larger is a
// protocol violation and kills the connection.
const maxFrame = 8 * 1024 * 1024

// Encode frames payload as a netstring: "<len>:<payload>,".
func Encode(payload []byte) []byte {
	out := make([]byte, 0, len(payload)+16)
	out = strconv.AppendInt(out, int64(len(payload)), 10)
	out = append(out, ':')
	out = append(out, payload...)
	return append(out, ',')
}

// Decode reads one netstring frame from r.
func Decode(r *bufio.Reader) ([]byte, error) {
	head, err := r.ReadString(':')
	if err != nil {
		return nil, err
	}
	size, err := strconv.Atoi(strings.TrimSuffix(head, ":"))
	if err != nil || size < 0 {
		return nil, fmt.Errorf("malformed netstring length %q", head)
	}
	if size > maxFrame {
		return nil, fmt.Errorf("netstring frame of %d bytes exceeds limit", size)
	}
	payload := make([]byte, size)
	if _, err := io.ReadFull(r, payload); err != nil {
		return nil, err
	}
	trailer, err := r.ReadByte()
	if err != nil {
		return nil, err
	}
	if trailer != ',' {
		return nil, fmt.Errorf("netstring frame missing trailer, got %q", trailer)
	}
	return payload, nil
}

// ParseURI extracts the host:port address from a netstring:// URI.
func ParseURI(uri string) (string, error) {
	const scheme = "netstring://"
	if !strings.HasPrefix(uri, scheme) {
		return "", fmt.Errorf("unsupported transport URI %q", uri)
	}
	addr := uri[len(scheme):]
	if addr == "" {
		return "", fmt.Errorf("empty address in URI %q", uri)
	}
	return addr, nil
}

// URI builds the netstring URI for a listen address.
func URI(addr string) string {
	return "netstring://" + addr
}
