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

package crypto

import (
	"time"

	"github.com/drogulus-project/go-drogulus/common"
)

// SignedItem is the authoritative record for a (public_key, name)
// pair. The signature covers the canonical encoding of the value,
// timestamp, expiry, name and creating version, under PublicKey.
type SignedItem struct {
	Key         string      `json:"key"`
	Value       interface{} `json:"value"`
	Timestamp   int64       `json:"timestamp"`
	Expires     int64       `json:"expires"`
	CreatedWith string      `json:"created_with"`
	PublicKey   string      `json:"public_key"`
	Name        string      `json:"name"`
	Signature   string      `json:"signature"`
}

// signableFields is the canonical signature base: every authenticated
// field of the item, keyed exactly as it appears on the wire.
func (item *SignedItem) signableFields() (map[string]interface{}, error) {
	// Round-trip the value through JSON so a freshly constructed item
	// and one parsed off the wire canonicalize identically.
	value, err := normalizeJSON(item.Value)
	if err != nil {
		return nil, err
	}
	return map[string]interface{}{
		"created_with": item.CreatedWith,
		"expires":      item.Expires,
		"name":         item.Name,
		"timestamp":    item.Timestamp,
		"value":        value,
	}, nil
}

// GetSignedItem creates and signs an item owned by the given key
// pair. A zero ttl means the item never expires.
func GetSignedItem(keyName string, value interface{}, publicKey, privateKey string, ttl time.Duration) (*SignedItem, error) {
	now := time.Now().Unix()
	item := &SignedItem{
		Key:         ConstructKey(publicKey, keyName),
		Value:       value,
		Timestamp:   now,
		CreatedWith: common.Version,
		PublicKey:   publicKey,
		Name:        keyName,
	}
	if ttl > 0 {
		item.Expires = now + int64(ttl/time.Second)
	}
	if err := SignItem(item, privateKey); err != nil {
		return nil, err
	}
	return item, nil
}

// SignItem computes and attaches the signature for a caller
// assembled item. GetSignedItem is the usual entry point; this is
// for tooling that needs explicit control of timestamps.
func SignItem(item *SignedItem, privateKey string) error {
	fields, err := item.signableFields()
	if err != nil {
		return ErrCrypto
	}
	base, err := CanonicalJSON(fields)
	if err != nil {
		return ErrCrypto
	}
	sig, err := Sign(privateKey, base)
	if err != nil {
		return err
	}
	item.Signature = sig
	return nil
}

// ValidateItem reports whether the item is authentic: the signature
// verifies under the embedded public key, the compound key matches
// the (public_key, name) pair, and the expiry is sane.
func ValidateItem(item *SignedItem) bool {
	if item == nil {
		return false
	}
	if item.Key != ConstructKey(item.PublicKey, item.Name) {
		return false
	}
	if item.Expires != 0 && item.Expires <= item.Timestamp {
		return false
	}
	fields, err := item.signableFields()
	if err != nil {
		return false
	}
	base, err := CanonicalJSON(fields)
	if err != nil {
		return false
	}
	return Verify(item.PublicKey, base, item.Signature)
}
