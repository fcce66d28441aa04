// Package takeonce stores message envelopes in Redis and hands each one out at
// most once. Atomicity is delegated entirely to Redis: GETDEL when the server
// supports it, otherwise a Lua script that reads and deletes in one unit.
package takeonce

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrNotFound is the single absence signal: the key never existed, was
	// already taken, or expired.
	ErrNotFound = errors.New("message not found")
	// ErrIndeterminate means the take may or may not have executed on the
	// server. The value must be assumed gone.
	ErrIndeterminate = errors.New("take outcome indeterminate")
	// ErrUnavailable means the backend refused or could not be reached.
	ErrUnavailable = errors.New("message store unavailable")
)

// Envelope is the record stored per message. Ciphertext is kept exactly as
// the writer supplied it.
type Envelope struct {
	Ciphertext string `json:"ciphertext"`
	CreatedAt  int64  `json:"createdAt"`
}

// Store persists envelopes with a TTL and retrieves them destructively.
type Store interface {
	Put(ctx context.Context, key string, env Envelope, ttl time.Duration) error
	TakeOnce(ctx context.Context, key string) (Envelope, error)
}

// Mode identifies the atomic path used for TakeOnce.
type Mode string

const (
	ModeNative Mode = "native"
	ModeScript Mode = "script"
)
