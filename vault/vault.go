// Copyright 2025 TenantGate
// SPDX-License-Identifier: Apache-2.0

// Package vault provides authenticated encryption for tenant connection
// secrets at rest. Secrets are sealed with AES-256-GCM under a process-wide
// key; the stored form is "hex(nonce):hex(tag):hex(ciphertext)" so that every
// encryption of the same plaintext produces a different blob.
package vault

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"strings"
)

// KeySize is the required key length for AES-256-GCM.
const KeySize = 32

// ErrCorruptCredential is returned when a stored blob is malformed or its
// authentication tag does not verify. Decryption never silently returns
// altered plaintext.
var ErrCorruptCredential = errors.New("corrupt credential")

// Vault seals and opens tenant connection secrets.
// Safe for concurrent use.
type Vault struct {
	aead cipher.AEAD
}

// New creates a Vault from a 32-byte symmetric key.
func New(key []byte) (*Vault, error) {
	if len(key) != KeySize {
		return nil, fmt.Errorf("encryption key must be %d bytes, got %d", KeySize, len(key))
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("create cipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("create GCM: %w", err)
	}
	return &Vault{aead: aead}, nil
}

// Encrypt seals plaintext under a fresh random nonce and returns the blob in
// "hex(nonce):hex(tag):hex(ciphertext)" form.
func (v *Vault) Encrypt(plaintext string) (string, error) {
	nonce := make([]byte, v.aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("generate nonce: %w", err)
	}

	sealed := v.aead.Seal(nil, nonce, []byte(plaintext), nil)

	// Seal appends the auth tag after the ciphertext; the stored format keeps
	// the tag in its own field.
	tagStart := len(sealed) - v.aead.Overhead()
	ciphertext, tag := sealed[:tagStart], sealed[tagStart:]

	return hex.EncodeToString(nonce) + ":" + hex.EncodeToString(tag) + ":" + hex.EncodeToString(ciphertext), nil
}

// Decrypt opens a blob produced by Encrypt. Any malformed field or failed tag
// verification yields ErrCorruptCredential.
func (v *Vault) Decrypt(blob string) (string, error) {
	parts := strings.Split(blob, ":")
	if len(parts) != 3 {
		return "", fmt.Errorf("%w: expected 3 fields, got %d", ErrCorruptCredential, len(parts))
	}

	nonce, err := hex.DecodeString(parts[0])
	if err != nil {
		return "", fmt.Errorf("%w: invalid nonce encoding", ErrCorruptCredential)
	}
	tag, err := hex.DecodeString(parts[1])
	if err != nil {
		return "", fmt.Errorf("%w: invalid tag encoding", ErrCorruptCredential)
	}
	ciphertext, err := hex.DecodeString(parts[2])
	if err != nil {
		return "", fmt.Errorf("%w: invalid ciphertext encoding", ErrCorruptCredential)
	}

	if len(nonce) != v.aead.NonceSize() || len(tag) != v.aead.Overhead() {
		return "", fmt.Errorf("%w: invalid field length", ErrCorruptCredential)
	}

	sealed := append(ciphertext, tag...)
	plaintext, err := v.aead.Open(nil, nonce, sealed, nil)
	if err != nil {
		return "", fmt.Errorf("%w: authentication failed", ErrCorruptCredential)
	}

	return string(plaintext), nil
}
