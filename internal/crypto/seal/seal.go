// Copyright (c) 2026 Mesteriis

// Package seal provides the at-rest encryption for CertKeyStore.Key when
// database-level encryption is enabled (spec §3): a passphrase-derived key
// via scrypt, authenticated encryption via NaCl secretbox. Both are part of
// golang.org/x/crypto, already a required dependency of the surrounding
// module.
package seal

import (
	"crypto/rand"
	"fmt"

	"golang.org/x/crypto/nacl/secretbox"
	"golang.org/x/crypto/scrypt"
)

const (
	keyLen   = 32
	nonceLen = 24
)

// ScryptParams are the cost parameters used to derive a sealing key from an
// operator passphrase. Defaults follow the scrypt package's own
// recommendation for interactive logins; this key is derived once at process
// startup and held for the process lifetime (spec §5: "process-wide
// read-only state, initialised at startup").
type ScryptParams struct {
	N, R, P int
}

// DefaultScryptParams is interactive-login strength: N=2^15, r=8, p=1.
var DefaultScryptParams = ScryptParams{N: 1 << 15, R: 8, P: 1}

// DeriveKey derives a 32-byte sealing key from passphrase and salt.
func DeriveKey(passphrase, salt []byte, params ScryptParams) ([32]byte, error) {
	var key [32]byte
	derived, err := scrypt.Key(passphrase, salt, params.N, params.R, params.P, keyLen)
	if err != nil {
		return key, fmt.Errorf("derive sealing key: %w", err)
	}
	copy(key[:], derived)
	return key, nil
}

// Seal encrypts plaintext (a PEM-encoded private key) under key, returning
// nonce||ciphertext.
func Seal(plaintext []byte, key [32]byte) ([]byte, error) {
	var nonce [nonceLen]byte
	if _, err := rand.Read(nonce[:]); err != nil {
		return nil, fmt.Errorf("generate nonce: %w", err)
	}
	return secretbox.Seal(nonce[:], plaintext, &nonce, &key), nil
}

// Open decrypts a nonce||ciphertext blob produced by Seal.
func Open(sealed []byte, key [32]byte) ([]byte, error) {
	if len(sealed) < nonceLen {
		return nil, fmt.Errorf("sealed key material too short")
	}
	var nonce [nonceLen]byte
	copy(nonce[:], sealed[:nonceLen])
	plaintext, ok := secretbox.Open(nil, sealed[nonceLen:], &nonce, &key)
	if !ok {
		return nil, fmt.Errorf("decrypt key material: authentication failed")
	}
	return plaintext, nil
}
