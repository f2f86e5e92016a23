// Package secrets seals refresh tokens before they are written to storage.
package secrets

import (
	"crypto/rand"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/nacl/secretbox"
)

const (
	// KeySize is the required key length in bytes.
	KeySize   = 32
	nonceSize = 24
)

var (
	// ErrInvalidKey reports a key that is not KeySize bytes long.
	ErrInvalidKey = errors.New("secrets: key must be 32 bytes")
	// ErrCorrupt reports a sealed value that fails authentication.
	ErrCorrupt = errors.New("secrets: sealed value is corrupt")
)

// Box encrypts and authenticates small values with a single symmetric key.
type Box struct {
	key  [KeySize]byte
	rand io.Reader
}

// NewBox validates the key and returns a Box.
func NewBox(key []byte) (*Box, error) {
	if len(key) != KeySize {
		return nil, ErrInvalidKey
	}
	b := &Box{rand: rand.Reader}
	copy(b.key[:], key)
	return b, nil
}

// Seal encrypts plaintext. The output is the random nonce followed by the
// ciphertext.
func (b *Box) Seal(plaintext []byte) ([]byte, error) {
	if b == nil {
		return nil, ErrInvalidKey
	}
	var nonce [nonceSize]byte
	if _, err := io.ReadFull(b.rand, nonce[:]); err != nil {
		return nil, fmt.Errorf("secrets: read nonce: %w", err)
	}
	return secretbox.Seal(nonce[:], plaintext, &nonce, &b.key), nil
}

// Open reverses Seal.
func (b *Box) Open(sealed []byte) ([]byte, error) {
	if b == nil {
		return nil, ErrInvalidKey
	}
	if len(sealed) < nonceSize+secretbox.Overhead {
		return nil, ErrCorrupt
	}
	var nonce [nonceSize]byte
	copy(nonce[:], sealed[:nonceSize])
	plaintext, ok := secretbox.Open(nil, sealed[nonceSize:], &nonce, &b.key)
	if !ok {
		return nil, ErrCorrupt
	}
	return plaintext, nil
}
