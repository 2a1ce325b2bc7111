/*
 * Copyright 2025 tomoncle.
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package encryption

import (
	"encoding/base64"
	"fmt"
	"os"
	"strings"

	"golang.org/x/crypto/argon2"
)

// KeySize is the length of the master key in bytes.
const KeySize = 32

// KeyProvider supplies the 32 byte master key.
type KeyProvider interface {
	Key() ([]byte, error)
}

// KeyFunc adapts a function to KeyProvider.
type KeyFunc func() ([]byte, error)

func (f KeyFunc) Key() ([]byte, error) { return f() }

// StaticKey returns key as is.
func StaticKey(key []byte) KeyProvider {
	k := append([]byte(nil), key...)
	return KeyFunc(func() ([]byte, error) { return k, nil })
}

// Base64Key decodes a standard base64 encoded key.
func Base64Key(encoded string) KeyProvider {
	return KeyFunc(func() ([]byte, error) {
		key, err := base64.StdEncoding.DecodeString(strings.TrimSpace(encoded))
		if err != nil {
			return nil, fmt.Errorf("encryption key is not valid base64: %w", err)
		}
		return key, nil
	})
}

// PassphraseKey derives the key from a passphrase with Argon2id.
func PassphraseKey(passphrase, salt string) KeyProvider {
	return KeyFunc(func() ([]byte, error) {
		if passphrase == "" {
			return nil, fmt.Errorf("encryption passphrase is empty")
		}
		if salt == "" {
			return nil, fmt.Errorf("encryption salt is required with a passphrase")
		}
		return DeriveKey([]byte(passphrase), []byte(salt)), nil
	})
}

// DeriveKey runs Argon2id with one pass over 64 MiB and four lanes.
func DeriveKey(password, salt []byte) []byte {
	return argon2.IDKey(password, salt, 1, 64*1024, 4, KeySize)
}

// EnvKey reads a base64 encoded key from the environment variable name.
func EnvKey(name string) KeyProvider {
	return KeyFunc(func() ([]byte, error) {
		v, ok := os.LookupEnv(name)
		if !ok || strings.TrimSpace(v) == "" {
			return nil, fmt.Errorf("environment variable %s is not set", name)
		}
		return Base64Key(v).Key()
	})
}
