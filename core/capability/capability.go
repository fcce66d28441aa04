// Package capability generates the (id, token) pairs that authorize access to
// a stored message and derives the storage key from them.
package capability

import (
	"crypto/rand"
	"fmt"
	"strings"
)

const (
	// Alphabet is the URL-safe alphabet identifiers are drawn from. It never
	// contains the key separator, which keeps DeriveKey injective.
	Alphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789_-"

	// IDLength and TokenLength give 132 bits of entropy each.
	IDLength    = 22
	TokenLength = 22

	keyPrefix    = "msg"
	keySeparator = ":"
)

// Capability is the pair handed to the writer. The id is public and goes in
// the URL path; the token is the secret credential.
type Capability struct {
	ID    string `json:"id"`
	Token string `json:"token"`
}

// Key returns the storage key for the capability.
func (c Capability) Key() string {
	return DeriveKey(c.ID, c.Token)
}

// Generate returns a fresh capability. Both halves are drawn independently
// from crypto/rand.
func Generate() (Capability, error) {
	id, err := randomString(IDLength)
	if err != nil {
		return Capability{}, fmt.Errorf("generate id: %w", err)
	}
	token, err := randomString(TokenLength)
	if err != nil {
		return Capability{}, fmt.Errorf("generate token: %w", err)
	}
	return Capability{ID: id, Token: token}, nil
}

// DeriveKey composes the storage key for an (id, token) pair.
func DeriveKey(id, token string) string {
	var b strings.Builder
	b.Grow(len(keyPrefix) + len(id) + len(token) + 2*len(keySeparator))
	b.WriteString(keyPrefix)
	b.WriteString(keySeparator)
	b.WriteString(id)
	b.WriteString(keySeparator)
	b.WriteString(token)
	return b.String()
}

// Valid reports whether id and token have the shape Generate produces.
func Valid(id, token string) bool {
	return validPart(id, IDLength) && validPart(token, TokenLength)
}

func validPart(s string, n int) bool {
	if len(s) != n {
		return false
	}
	for i := 0; i < len(s); i++ {
		if strings.IndexByte(Alphabet, s[i]) < 0 {
			return false
		}
	}
	return true
}

// randomString maps random bytes onto the 64-symbol alphabet. 64 divides 256,
// so masking the low six bits is unbiased.
func randomString(n int) (string, error) {
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	for i := range buf {
		buf[i] = Alphabet[buf[i]&63]
	}
	return string(buf), nil
}
