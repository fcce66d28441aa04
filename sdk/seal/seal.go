// Package seal encrypts message bodies on the client so the server only ever
// stores ciphertext. Keys are random per message and never leave the client
// except inside the link fragment.
package seal

import (
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/nacl/secretbox"
)

const (
	keySize   = 32
	nonceSize = 24
)

var (
	ErrInvalidKey = errors.New("invalid key")
	ErrDecrypt    = errors.New("decryption failed")
)

// Seal encrypts plaintext under a fresh key. The ciphertext is standard
// base64 of nonce||box; the key is unpadded URL-safe base64.
func Seal(plaintext []byte) (ciphertext, key string, err error) {
	var k [keySize]byte
	if _, err := io.ReadFull(rand.Reader, k[:]); err != nil {
		return "", "", fmt.Errorf("generate key: %w", err)
	}
	var nonce [nonceSize]byte
	if _, err := io.ReadFull(rand.Reader, nonce[:]); err != nil {
		return "", "", fmt.Errorf("generate nonce: %w", err)
	}
	box := secretbox.Seal(nonce[:], plaintext, &nonce, &k)
	return base64.StdEncoding.EncodeToString(box), base64.RawURLEncoding.EncodeToString(k[:]), nil
}

// Open reverses Seal.
func Open(ciphertext, key string) ([]byte, error) {
	k, err := decodeKey(key)
	if err != nil {
		return nil, err
	}
	box, err := base64.StdEncoding.DecodeString(ciphertext)
	if err != nil {
		return nil, fmt.Errorf("decode ciphertext: %w", err)
	}
	if len(box) < nonceSize+secretbox.Overhead {
		return nil, ErrDecrypt
	}
	var nonce [nonceSize]byte
	copy(nonce[:], box[:nonceSize])
	out, ok := secretbox.Open(nil, box[nonceSize:], &nonce, k)
	if !ok {
		return nil, ErrDecrypt
	}
	return out, nil
}

func decodeKey(key string) (*[keySize]byte, error) {
	raw, err := base64.RawURLEncoding.DecodeString(key)
	if err != nil || len(raw) != keySize {
		return nil, ErrInvalidKey
	}
	var k [keySize]byte
	copy(k[:], raw)
	return &k, nil
}
