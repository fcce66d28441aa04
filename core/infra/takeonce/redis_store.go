package takeonce

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/cordum/oncebox/core/infra/logging"
	"github.com/cordum/oncebox/core/infra/metrics"
	"github.com/redis/go-redis/v9"
)

const (
	defaultMaxAttempts     = 3
	defaultInitialInterval = 25 * time.Millisecond
	defaultMaxInterval     = 250 * time.Millisecond
	probeKeyPrefix         = "msg:probe:"
)

// takeScript is the fallback for servers without GETDEL. Redis runs scripts
// atomically, so no other command can observe the value between GET and DEL.
var takeScript = redis.NewScript(`
local v = redis.call("GET", KEYS[1])
if v then
  redis.call("DEL", KEYS[1])
end
return v
`)

// Options tunes a RedisStore.
type Options struct {
	// AllowNative enables the GETDEL probe. When false the script path is
	// used unconditionally.
	AllowNative bool
	// MaxAttempts bounds retries of transient failures, including the first
	// attempt.
	MaxAttempts int
	// InitialInterval and MaxInterval shape the exponential backoff.
	InitialInterval time.Duration
	MaxInterval     time.Duration
	Metrics         metrics.Metrics
}

// DefaultOptions enables the native path with bounded retries.
func DefaultOptions() Options {
	return Options{
		AllowNative:     true,
		MaxAttempts:     defaultMaxAttempts,
		InitialInterval: defaultInitialInterval,
		MaxInterval:     defaultMaxInterval,
	}
}

// RedisStore implements Store on top of an injected Redis client. The client
// is owned by the caller, which closes it on shutdown.
type RedisStore struct {
	client  redis.UniversalClient
	native  atomic.Bool
	opts    Options
	metrics metrics.Metrics
}

// NewRedisStore probes the server once to select the atomic path.
func NewRedisStore(ctx context.Context, client redis.UniversalClient, opts Options) (*RedisStore, error) {
	if client == nil {
		return nil, ErrUnavailable
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = defaultMaxAttempts
	}
	if opts.InitialInterval <= 0 {
		opts.InitialInterval = defaultInitialInterval
	}
	if opts.MaxInterval <= 0 {
		opts.MaxInterval = defaultMaxInterval
	}
	s := &RedisStore{client: client, opts: opts, metrics: opts.Metrics}
	if s.metrics == nil {
		s.metrics = metrics.Noop{}
	}
	native, err := s.probe(ctx)
	if err != nil {
		return nil, err
	}
	s.native.Store(native)
	s.metrics.SetNativeMode(native)
	logging.Info("takeonce", "atomic path selected", "mode", s.Mode())
	return s, nil
}

// Mode reports the atomic path currently in use.
func (s *RedisStore) Mode() Mode {
	if s.native.Load() {
		return ModeNative
	}
	return ModeScript
}

// Ping checks backend reachability.
func (s *RedisStore) Ping(ctx context.Context) error {
	if s == nil || s.client == nil {
		return ErrUnavailable
	}
	return s.client.Ping(ctx).Err()
}

// Put stores env under key with the given TTL, overwriting any prior value.
func (s *RedisStore) Put(ctx context.Context, key string, env Envelope, ttl time.Duration) error {
	if s == nil || s.client == nil {
		return ErrUnavailable
	}
	if key == "" {
		return fmt.Errorf("key required")
	}
	if ttl <= 0 {
		return fmt.Errorf("ttl must be positive")
	}
	payload, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("marshal envelope: %w", err)
	}
	if err := s.client.Set(ctx, key, payload, ttl).Err(); err != nil {
		return fmt.Errorf("store envelope: %w", err)
	}
	return nil
}

// TakeOnce atomically fetches and deletes the envelope at key. Only failures
// that provably never reached the server are retried; ambiguous failures are
// returned as ErrIndeterminate so the caller never mistakes them for absence.
func (s *RedisStore) TakeOnce(ctx context.Context, key string) (Envelope, error) {
	if s == nil || s.client == nil {
		return Envelope{}, ErrUnavailable
	}
	if key == "" {
		return Envelope{}, ErrNotFound
	}

	var payload string
	op := func() error {
		mode := s.Mode()
		val, err := s.take(ctx, mode, key)
		if err != nil && mode == ModeNative && classify(err) == FailureUnsupported {
			// GETDEL never executed; run the script in the same attempt.
			s.metrics.ObserveTakeAttempt(string(mode), FailureUnsupported.String())
			s.demote()
			mode = ModeScript
			val, err = s.take(ctx, mode, key)
		}
		switch {
		case err == nil:
			s.metrics.ObserveTakeAttempt(string(mode), "ok")
			payload = val
			return nil
		case errors.Is(err, redis.Nil):
			s.metrics.ObserveTakeAttempt(string(mode), "absent")
			return backoff.Permanent(ErrNotFound)
		}
		attemptErr := &AttemptError{Class: classify(err), Mode: mode, Err: err}
		s.metrics.ObserveTakeAttempt(string(mode), attemptErr.Class.String())
		if attemptErr.Class == FailureTransient {
			return attemptErr
		}
		return backoff.Permanent(attemptErr)
	}

	if err := backoff.Retry(op, s.retryPolicy(ctx)); err != nil {
		var attemptErr *AttemptError
		switch {
		case errors.Is(err, ErrNotFound):
			return Envelope{}, ErrNotFound
		case errors.As(err, &attemptErr):
			return Envelope{}, attemptErr
		default:
			// Context ended between attempts.
			return Envelope{}, &AttemptError{Class: FailureAmbiguous, Mode: s.Mode(), Err: err}
		}
	}

	var env Envelope
	if err := json.Unmarshal([]byte(payload), &env); err != nil {
		return Envelope{}, fmt.Errorf("decode envelope: %w", err)
	}
	return env, nil
}

func (s *RedisStore) take(ctx context.Context, mode Mode, key string) (string, error) {
	if mode == ModeNative {
		return s.client.GetDel(ctx, key).Result()
	}
	return takeScript.Run(ctx, s.client, []string{key}).Text()
}

// demote switches to the script path for the rest of the process lifetime.
// It only fires when the server answered "unknown command", which happens
// when a failover lands on an older server after the startup probe.
func (s *RedisStore) demote() {
	if s.native.CompareAndSwap(true, false) {
		s.metrics.SetNativeMode(false)
		logging.Warn("takeonce", "GETDEL rejected by server, switching to script path")
	}
}

func (s *RedisStore) retryPolicy(ctx context.Context) backoff.BackOff {
	exp := backoff.NewExponentialBackOff(
		backoff.WithInitialInterval(s.opts.InitialInterval),
		backoff.WithMaxInterval(s.opts.MaxInterval),
		backoff.WithMaxElapsedTime(0),
	)
	retries := uint64(s.opts.MaxAttempts - 1)
	return backoff.WithContext(backoff.WithMaxRetries(exp, retries), ctx)
}

// probe issues GETDEL against a random key nobody else uses. It runs once
// at construction so steady-state takes never depend on catching failures.
func (s *RedisStore) probe(ctx context.Context) (bool, error) {
	if !s.opts.AllowNative {
		return false, s.loadScript(ctx)
	}
	key, err := probeKey()
	if err != nil {
		return false, err
	}
	err = s.client.GetDel(ctx, key).Err()
	switch {
	case err == nil, errors.Is(err, redis.Nil):
		return true, nil
	case classify(err) == FailureUnsupported:
		logging.Warn("takeonce", "GETDEL unsupported by server, using script path")
		return false, s.loadScript(ctx)
	default:
		return false, fmt.Errorf("probe redis: %w", err)
	}
}

func (s *RedisStore) loadScript(ctx context.Context) error {
	if err := takeScript.Load(ctx, s.client).Err(); err != nil {
		return fmt.Errorf("load take script: %w", err)
	}
	return nil
}

func probeKey() (string, error) {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return probeKeyPrefix + hex.EncodeToString(buf), nil
}
