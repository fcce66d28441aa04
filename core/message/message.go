// Package message implements the create and retrieve operations on top of a
// take-once store. It owns input validation, TTL policy and lifecycle
// notifications; transports only translate its outcomes.
package message

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/cordum/oncebox/core/capability"
	"github.com/cordum/oncebox/core/infra/bus"
	"github.com/cordum/oncebox/core/infra/logging"
	"github.com/cordum/oncebox/core/infra/metrics"
	"github.com/cordum/oncebox/core/infra/takeonce"
)

const (
	DefaultTTL = 600 * time.Second
	MinTTL     = 1 * time.Second
	MaxTTL     = 86400 * time.Second
)

// ErrNotFound is returned by Retrieve when the message never existed, was
// already read, or expired. The three cases are deliberately the same.
var ErrNotFound = takeonce.ErrNotFound

// InputError reports a malformed request. No backend call has been made when
// it is returned.
type InputError struct {
	Msg string
}

func (e *InputError) Error() string { return e.Msg }

func inputErr(msg string) error { return &InputError{Msg: msg} }

// EventPublisher receives lifecycle notifications.
type EventPublisher interface {
	Publish(evt bus.Event) error
}

// CreateRequest is a validated create call. TTLSeconds is nil when the caller
// did not supply one.
type CreateRequest struct {
	Ciphertext string
	TTLSeconds *float64
}

// CreateResult is the capability handed back to the writer.
type CreateResult struct {
	ID        string `json:"id"`
	Token     string `json:"token"`
	ExpiresIn int64  `json:"expiresIn"`
}

// Options configures a Service. Zero values fall back to package defaults.
type Options struct {
	DefaultTTL time.Duration
	MinTTL     time.Duration
	MaxTTL     time.Duration
	Metrics    metrics.Metrics
	Events     EventPublisher
	Now        func() time.Time
}

// Service creates and retrieves burn-after-read messages.
type Service struct {
	store      takeonce.Store
	defaultTTL time.Duration
	minTTL     time.Duration
	maxTTL     time.Duration
	metrics    metrics.Metrics
	events     EventPublisher
	now        func() time.Time
}

func NewService(store takeonce.Store, opts Options) *Service {
	s := &Service{
		store:      store,
		defaultTTL: opts.DefaultTTL,
		minTTL:     opts.MinTTL,
		maxTTL:     opts.MaxTTL,
		metrics:    opts.Metrics,
		events:     opts.Events,
		now:        opts.Now,
	}
	if s.minTTL <= 0 {
		s.minTTL = MinTTL
	}
	if s.maxTTL <= 0 {
		s.maxTTL = MaxTTL
	}
	if s.defaultTTL <= 0 {
		s.defaultTTL = DefaultTTL
	}
	if s.metrics == nil {
		s.metrics = metrics.Noop{}
	}
	if s.now == nil {
		s.now = time.Now
	}
	return s
}

// Create stores the ciphertext under a fresh capability.
func (s *Service) Create(ctx context.Context, req CreateRequest) (CreateResult, error) {
	if req.Ciphertext == "" {
		return CreateResult{}, inputErr(msgCiphertextRequired)
	}
	if s == nil || s.store == nil {
		return CreateResult{}, takeonce.ErrUnavailable
	}
	ttl := ClampTTL(req.TTLSeconds, s.defaultTTL, s.minTTL, s.maxTTL)

	pair, err := capability.Generate()
	if err != nil {
		return CreateResult{}, err
	}
	env := takeonce.Envelope{
		Ciphertext: req.Ciphertext,
		CreatedAt:  s.now().UnixMilli(),
	}
	if err := s.store.Put(ctx, pair.Key(), env, ttl); err != nil {
		return CreateResult{}, fmt.Errorf("put message: %w", err)
	}

	expiresIn := int64(ttl / time.Second)
	s.metrics.IncMessagesCreated()
	s.publish(bus.NewEvent(bus.EventCreated, pair.ID, expiresIn))
	return CreateResult{ID: pair.ID, Token: pair.Token, ExpiresIn: expiresIn}, nil
}

// Retrieve consumes the message addressed by id and token. A successful call
// is the only one that will ever see the envelope.
func (s *Service) Retrieve(ctx context.Context, id, token string) (takeonce.Envelope, error) {
	if token == "" {
		return takeonce.Envelope{}, inputErr(msgTokenRequired)
	}
	if s == nil || s.store == nil {
		return takeonce.Envelope{}, takeonce.ErrUnavailable
	}
	if !capability.Valid(id, token) {
		s.metrics.IncMessagesTaken("not_found")
		return takeonce.Envelope{}, ErrNotFound
	}

	env, err := s.store.TakeOnce(ctx, capability.DeriveKey(id, token))
	switch {
	case err == nil:
		s.metrics.IncMessagesTaken("ok")
		s.publish(bus.NewEvent(bus.EventBurned, id, 0))
		return env, nil
	case errors.Is(err, takeonce.ErrNotFound):
		s.metrics.IncMessagesTaken("not_found")
		return takeonce.Envelope{}, ErrNotFound
	default:
		s.metrics.IncMessagesTaken("error")
		return takeonce.Envelope{}, fmt.Errorf("take message: %w", err)
	}
}

func (s *Service) publish(evt bus.Event) {
	if s.events == nil {
		return
	}
	if err := s.events.Publish(evt); err != nil {
		logging.Warn("message", "event publish failed", "type", evt.Type, "error", err)
	}
}

// ClampTTL applies the lifetime policy: a missing, zero or non-finite value
// selects def, anything else is floored to whole seconds and clamped to
// [min, max].
func ClampTTL(seconds *float64, def, min, max time.Duration) time.Duration {
	if seconds == nil {
		return def
	}
	v := *seconds
	if v == 0 || math.IsNaN(v) || math.IsInf(v, 0) {
		return def
	}
	v = math.Floor(v)
	lo, hi := min.Seconds(), max.Seconds()
	if v < lo {
		v = lo
	}
	if v > hi {
		v = hi
	}
	return time.Duration(v) * time.Second
}
