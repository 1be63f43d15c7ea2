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
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"

	"golang.org/x/crypto/ed25519"
)

// Key pairs a hex encoded ed25519 key pair. The public half doubles
// as the owner's network identity.
type Key struct {
	PublicKey  string `json:"public_key"`
	PrivateKey string `json:"private_key"`
}

// GenerateKey creates a fresh key pair.
func GenerateKey() (*Key, error) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, err
	}
	return &Key{
		PublicKey:  hex.EncodeToString(pub),
		PrivateKey: hex.EncodeToString(priv),
	}, nil
}

// WriteKey serializes a key pair to w as JSON.
func WriteKey(w io.Writer, k *Key) error {
	enc := json.NewEncoder(w)
	return enc.Encode(k)
}

// ReadKey parses a key pair previously written with WriteKey and
// checks the two halves actually belong together.
func ReadKey(r io.Reader) (*Key, error) {
	k := new(Key)
	if err := json.NewDecoder(r).Decode(k); err != nil {
		return nil, err
	}
	priv, err := hex.DecodeString(k.PrivateKey)
	if err != nil || len(priv) != ed25519.PrivateKeySize {
		return nil, fmt.Errorf("malformed private key")
	}
	pub := ed25519.PrivateKey(priv).Public().(ed25519.PublicKey)
	if hex.EncodeToString(pub) != k.PublicKey {
		return nil, fmt.Errorf("public key does not match private key")
	}
	return k, nil
}
