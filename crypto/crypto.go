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

// Package crypto implements the signing envelope of the drogulus
// network: opaque sign/verify/hash primitives, compound key
// construction and the signed items that all stored values travel as.
//
// Keys are hex encoded ed25519 keys. The encoded public key is the
// identity of its owner everywhere in the network.
package crypto

import (
	"crypto/sha512"
	"encoding/hex"
	"encoding/json"
	"errors"

	"golang.org/x/crypto/ed25519"
)

var (
	// ErrCrypto is returned when a signing operation fails, typically
	// because a private key is malformed.
	ErrCrypto = errors.New("crypto operation failed")
)

// Hash returns the SHA-512 digest of the given bytes. The whole
// network agrees on this primitive: ids, compound keys and signature
// bases all pass through it.
func Hash(data []byte) []byte {
	sum := sha512.Sum512(data)
	return sum[:]
}

// HashHex returns the SHA-512 digest of the given bytes as a
// lowercase hex string.
func HashHex(data []byte) string {
	return hex.EncodeToString(Hash(data))
}

// ConstructKey derives the compound DHT address for an item: the
// SHA-512 hex digest of the owner's public key concatenated with the
// meaningful key name.
func ConstructKey(publicKey, keyName string) string {
	return HashHex(append([]byte(publicKey), []byte(keyName)...))
}

// Sign signs data with the hex encoded private key and returns the
// hex encoded signature.
func Sign(privateKey string, data []byte) (string, error) {
	raw, err := hex.DecodeString(privateKey)
	if err != nil || len(raw) != ed25519.PrivateKeySize {
		return "", ErrCrypto
	}
	sig := ed25519.Sign(ed25519.PrivateKey(raw), data)
	return hex.EncodeToString(sig), nil
}

// Verify reports whether signature is a valid signature of data under
// the hex encoded public key. Malformed keys or signatures simply
// fail verification.
func Verify(publicKey string, data []byte, signature string) bool {
	raw, err := hex.DecodeString(publicKey)
	if err != nil || len(raw) != ed25519.PublicKeySize {
		return false
	}
	sig, err := hex.DecodeString(signature)
	if err != nil {
		return false
	}
	return ed25519.Verify(ed25519.PublicKey(raw), data, sig)
}

// CanonicalJSON encodes v into the canonical byte form signatures are
// computed over. Top level and nested map keys are sorted
// lexicographically; encoding/json already guarantees this for maps,
// so the canonical form is a plain marshal of map-shaped data.
func CanonicalJSON(v map[string]interface{}) ([]byte, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return b, nil
}

// normalizeJSON round-trips v through encoding/json so that a value
// constructed in memory and the same value parsed off the wire share
// a single representation (numbers become float64, structs become
// maps, and so on).
func normalizeJSON(v interface{}) (interface{}, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var out interface{}
	if err := json.Unmarshal(b, &out); err != nil {
		return nil, err
	}
	return out, nil
}
