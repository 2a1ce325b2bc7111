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

// Package encryption encrypts entity fields at rest with AES-256-CBC.
package encryption

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"strings"

	"golang.org/x/crypto/hkdf"

	"github.com/tomoncle/datalayer/database"
)

const (
	ivSize  = aes.BlockSize
	macSize = sha256.Size
)

var (
	// ErrDecrypt is matched by every *DecryptError.
	ErrDecrypt = errors.New("encryption: cannot decrypt value")

	errMalformed = errors.New("malformed ciphertext")
	errMAC       = errors.New("message authentication failed")
	errPadding   = errors.New("invalid padding")
)

// DecryptError is returned when a stored value cannot be decrypted.
type DecryptError struct {
	Value string
	Err   error
}

func (e *DecryptError) Error() string {
	return fmt.Sprintf("Encryption Error - Cannot decrypt %s."+
		"\n1. Is the value encrypted?"+
		"\n2. Does the decryption key match the key that encrypted the value?"+
		"\n(%v)", e.Value, e.Err)
}

func (e *DecryptError) Unwrap() error { return e.Err }

func (e *DecryptError) Is(target error) bool { return target == ErrDecrypt }

// AESConverter encrypts with AES-256-CBC and PKCS#7 padding. The output is
// base64(iv || ciphertext || hmac-sha256(iv || ciphertext)). Cipher and MAC
// keys are derived from the master key with HKDF-SHA256.
//
// It is safe for concurrent use.
type AESConverter struct {
	block  cipher.Block
	macKey []byte
}

var _ database.FieldConverter = (*AESConverter)(nil)

func New(provider KeyProvider) (*AESConverter, error) {
	if provider == nil {
		return nil, database.NewConfigurationError("encryption key provider is nil")
	}
	master, err := provider.Key()
	if err != nil {
		return nil, database.NewConfigurationError("failed to load encryption key: %v", err)
	}
	if len(master) != KeySize {
		return nil, database.NewConfigurationError("encryption key must be %d bytes, got %d", KeySize, len(master))
	}

	kdf := hkdf.New(sha256.New, master, nil, []byte("datalayer field encryption"))
	encKey := make([]byte, KeySize)
	macKey := make([]byte, KeySize)
	if _, err := io.ReadFull(kdf, encKey); err != nil {
		return nil, err
	}
	if _, err := io.ReadFull(kdf, macKey); err != nil {
		return nil, err
	}

	block, err := aes.NewCipher(encKey)
	if err != nil {
		return nil, err
	}
	return &AESConverter{block: block, macKey: macKey}, nil
}

// NewFromConfig builds a converter from the configured key or passphrase.
// It returns nil, nil when no key material is configured.
func NewFromConfig(cfg database.EncryptionConfig) (*AESConverter, error) {
	switch {
	case cfg.Key != "":
		return New(Base64Key(cfg.Key))
	case cfg.Passphrase != "":
		return New(PassphraseKey(cfg.Passphrase, cfg.Salt))
	default:
		return nil, nil
	}
}

// Encrypt returns the base64 ciphertext of plaintext. Empty and whitespace
// only values are returned unchanged.
func (c *AESConverter) Encrypt(plaintext string) (string, error) {
	if strings.TrimSpace(plaintext) == "" {
		return plaintext, nil
	}

	padded := pkcs7Pad([]byte(plaintext), aes.BlockSize)
	out := make([]byte, ivSize+len(padded), ivSize+len(padded)+macSize)
	iv := out[:ivSize]
	if _, err := rand.Read(iv); err != nil {
		return "", fmt.Errorf("failed to generate iv: %w", err)
	}
	cipher.NewCBCEncrypter(c.block, iv).CryptBlocks(out[ivSize:], padded)
	out = append(out, c.sum(out)...)
	return base64.StdEncoding.EncodeToString(out), nil
}

// Decrypt reverses Encrypt. Empty and whitespace only values are returned
// unchanged; anything else that fails authentication or decoding returns a
// *DecryptError.
func (c *AESConverter) Decrypt(ciphertext string) (string, error) {
	if strings.TrimSpace(ciphertext) == "" {
		return ciphertext, nil
	}
	fail := func(err error) (string, error) {
		return "", &DecryptError{Value: ciphertext, Err: err}
	}

	raw, err := base64.StdEncoding.DecodeString(ciphertext)
	if err != nil {
		return fail(err)
	}
	if len(raw) < ivSize+aes.BlockSize+macSize || (len(raw)-ivSize-macSize)%aes.BlockSize != 0 {
		return fail(errMalformed)
	}

	body, tag := raw[:len(raw)-macSize], raw[len(raw)-macSize:]
	if !hmac.Equal(tag, c.sum(body)) {
		return fail(errMAC)
	}

	iv, data := body[:ivSize], body[ivSize:]
	plain := make([]byte, len(data))
	cipher.NewCBCDecrypter(c.block, iv).CryptBlocks(plain, data)
	plain, err = pkcs7Unpad(plain, aes.BlockSize)
	if err != nil {
		return fail(err)
	}
	return string(plain), nil
}

func (c *AESConverter) sum(data []byte) []byte {
	mac := hmac.New(sha256.New, c.macKey)
	mac.Write(data)
	return mac.Sum(nil)
}

func pkcs7Pad(data []byte, blockSize int) []byte {
	n := blockSize - len(data)%blockSize
	return append(data, bytes.Repeat([]byte{byte(n)}, n)...)
}

func pkcs7Unpad(data []byte, blockSize int) ([]byte, error) {
	if len(data) == 0 || len(data)%blockSize != 0 {
		return nil, errPadding
	}
	n := int(data[len(data)-1])
	if n == 0 || n > blockSize || n > len(data) {
		return nil, errPadding
	}
	for _, b := range data[len(data)-n:] {
		if int(b) != n {
			return nil, errPadding
		}
	}
	return data[:len(data)-n], nil
}
