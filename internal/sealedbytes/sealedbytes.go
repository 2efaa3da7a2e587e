// Package sealedbytes encrypts small secrets at rest — webhook URLs and
// auth headers — using AES-256-GCM. The wire format is
// nonce || ciphertext || tag; SealString and OpenString carry it hex-encoded.
//
// This replaces the broker's original keyed-XOR "obfuscation" with real
// authenticated encryption: XOR with a static key is trivially reversible
// and was never confidentiality, only an accident waiting to be found in
// a database dump.
package sealedbytes

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
)

// KeySize is the required AES-256 key length in bytes.
const KeySize = 32

// ErrCiphertextTooShort is returned when Open is given fewer bytes than a nonce.
var ErrCiphertextTooShort = errors.New("sealedbytes: ciphertext shorter than nonce")

// Sealer seals and opens byte slices under a single AES-256-GCM key.
type Sealer struct {
	aead cipher.AEAD
}

// NewSealer constructs a Sealer from a 32-byte key.
func NewSealer(key []byte) (*Sealer, error) {
	if len(key) != KeySize {
		return nil, fmt.Errorf("sealedbytes: key must be %d bytes, got %d", KeySize, len(key))
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("sealedbytes: constructing cipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("sealedbytes: constructing GCM: %w", err)
	}
	return &Sealer{aead: aead}, nil
}

// NewSealerFromHex constructs a Sealer from a hex-encoded 32-byte key, as
// read from configuration.
func NewSealerFromHex(hexKey string) (*Sealer, error) {
	key, err := hex.DecodeString(hexKey)
	if err != nil {
		return nil, fmt.Errorf("sealedbytes: decoding hex key: %w", err)
	}
	return NewSealer(key)
}

// GenerateKey returns a fresh random 32-byte key, hex-encoded.
func GenerateKey() (string, error) {
	key := make([]byte, KeySize)
	if _, err := io.ReadFull(rand.Reader, key); err != nil {
		return "", fmt.Errorf("sealedbytes: generating key: %w", err)
	}
	return hex.EncodeToString(key), nil
}

// Seal encrypts plaintext, returning nonce||ciphertext||tag.
func (s *Sealer) Seal(plaintext []byte) ([]byte, error) {
	nonce := make([]byte, s.aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, fmt.Errorf("sealedbytes: generating nonce: %w", err)
	}
	return s.aead.Seal(nonce, nonce, plaintext, nil), nil
}

// SealString is a convenience wrapper for Seal over string input, returning
// a hex-encoded sealed value suitable for storage in a text column.
func (s *Sealer) SealString(plaintext string) (string, error) {
	sealed, err := s.Seal([]byte(plaintext))
	if err != nil {
		return "", err
	}
	return hex.EncodeToString(sealed), nil
}

// Open decrypts a value produced by Seal, verifying the GCM tag.
func (s *Sealer) Open(sealed []byte) ([]byte, error) {
	n := s.aead.NonceSize()
	if len(sealed) < n {
		return nil, ErrCiphertextTooShort
	}
	nonce, ciphertext := sealed[:n], sealed[n:]
	plaintext, err := s.aead.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, fmt.Errorf("sealedbytes: opening: %w", err)
	}
	return plaintext, nil
}

// OpenString is the inverse of SealString.
func (s *Sealer) OpenString(sealedHex string) (string, error) {
	sealed, err := hex.DecodeString(sealedHex)
	if err != nil {
		return "", fmt.Errorf("sealedbytes: decoding hex: %w", err)
	}
	plaintext, err := s.Open(sealed)
	if err != nil {
		return "", err
	}
	return string(plaintext), nil
}
