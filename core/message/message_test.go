package message

import (
	"context"
	"errors"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/cordum/oncebox/core/capability"
	"github.com/cordum/oncebox/core/infra/bus"
	"github.com/cordum/oncebox/core/infra/takeonce"
	"github.com/redis/go-redis/v9"
)

type recordingPublisher struct {
	mu     sync.Mutex
	events []bus.Event
	err    error
}

func (p *recordingPublisher) Publish(evt bus.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, evt)
	return p.err
}

type stubStore struct {
	puts    int
	takes   int
	putErr  error
	takeErr error
	env     takeonce.Envelope
}

func (s *stubStore) Put(context.Context, string, takeonce.Envelope, time.Duration) error {
	s.puts++
	return s.putErr
}

func (s *stubStore) TakeOnce(context.Context, string) (takeonce.Envelope, error) {
	s.takes++
	return s.env, s.takeErr
}

func newRedisService(t *testing.T, opts Options) (*Service, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1})
	t.Cleanup(func() { _ = client.Close() })
	store, err := takeonce.NewRedisStore(context.Background(), client, takeonce.DefaultOptions())
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	return NewService(store, opts), mr
}

func ttlPtr(v float64) *float64 { return &v }

func TestClampTTL(t *testing.T) {
	cases := []struct {
		name string
		in   *float64
		want time.Duration
	}{
		{"missing", nil, 600 * time.Second},
		{"zero", ttlPtr(0), 600 * time.Second},
		{"nan", ttlPtr(math.NaN()), 600 * time.Second},
		{"inf", ttlPtr(math.Inf(1)), 600 * time.Second},
		{"negative inf", ttlPtr(math.Inf(-1)), 600 * time.Second},
		{"negative", ttlPtr(-5), time.Second},
		{"fraction below one", ttlPtr(0.5), time.Second},
		{"floored", ttlPtr(120.7), 120 * time.Second},
		{"one", ttlPtr(1), time.Second},
		{"ceiling", ttlPtr(86400), 86400 * time.Second},
		{"above ceiling", ttlPtr(86401), 86400 * time.Second},
		{"huge", ttlPtr(1e12), 86400 * time.Second},
	}
	for _, tc := range cases {
		got := ClampTTL(tc.in, DefaultTTL, MinTTL, MaxTTL)
		if got != tc.want {
			t.Fatalf("%s: expected %s, got %s", tc.name, tc.want, got)
		}
	}
}

func TestCreateAndRetrieve(t *testing.T) {
	events := &recordingPublisher{}
	now := time.UnixMilli(1_700_000_000_000)
	svc, mr := newRedisService(t, Options{Events: events, Now: func() time.Time { return now }})
	ctx := context.Background()

	res, err := svc.Create(ctx, CreateRequest{Ciphertext: "QUJD"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if len(res.ID) != capability.IDLength || len(res.Token) != capability.TokenLength {
		t.Fatalf("unexpected capability shape: %+v", res)
	}
	if res.ExpiresIn != 600 {
		t.Fatalf("expected default ttl, got %d", res.ExpiresIn)
	}
	key := capability.DeriveKey(res.ID, res.Token)
	if ttl := mr.TTL(key); ttl != 600*time.Second {
		t.Fatalf("expected stored ttl 600s, got %s", ttl)
	}

	env, err := svc.Retrieve(ctx, res.ID, res.Token)
	if err != nil {
		t.Fatalf("retrieve: %v", err)
	}
	if env.Ciphertext != "QUJD" || env.CreatedAt != now.UnixMilli() {
		t.Fatalf("unexpected envelope: %+v", env)
	}
	if _, err := svc.Retrieve(ctx, res.ID, res.Token); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected not found on second read, got %v", err)
	}

	if len(events.events) != 2 {
		t.Fatalf("expected created and burned events, got %d", len(events.events))
	}
	created, burned := events.events[0], events.events[1]
	if created.Type != bus.EventCreated || created.ExpiresIn != 600 {
		t.Fatalf("unexpected created event: %+v", created)
	}
	if burned.Type != bus.EventBurned || burned.IDDigest != created.IDDigest {
		t.Fatalf("unexpected burned event: %+v", burned)
	}
	if created.IDDigest == res.ID {
		t.Fatalf("event must carry a digest, not the id")
	}
}

func TestCreateClampsTTL(t *testing.T) {
	svc, mr := newRedisService(t, Options{})
	ctx := context.Background()

	res, err := svc.Create(ctx, CreateRequest{Ciphertext: "x", TTLSeconds: ttlPtr(999999)})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if res.ExpiresIn != 86400 {
		t.Fatalf("expected ceiling, got %d", res.ExpiresIn)
	}
	res, err = svc.Create(ctx, CreateRequest{Ciphertext: "x", TTLSeconds: ttlPtr(0.2)})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if res.ExpiresIn != 1 {
		t.Fatalf("expected floor, got %d", res.ExpiresIn)
	}
	mr.FastForward(2 * time.Second)
	if _, err := svc.Retrieve(ctx, res.ID, res.Token); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected expired message to be not found, got %v", err)
	}
}

func TestCreateRequiresCiphertext(t *testing.T) {
	store := &stubStore{}
	svc := NewService(store, Options{})
	_, err := svc.Create(context.Background(), CreateRequest{})
	var inErr *InputError
	if !errors.As(err, &inErr) || inErr.Msg != msgCiphertextRequired {
		t.Fatalf("expected input error, got %v", err)
	}
	if store.puts != 0 {
		t.Fatalf("expected no backend call")
	}
}

func TestCreatePutFailure(t *testing.T) {
	events := &recordingPublisher{}
	store := &stubStore{putErr: takeonce.ErrUnavailable}
	svc := NewService(store, Options{Events: events})
	_, err := svc.Create(context.Background(), CreateRequest{Ciphertext: "x"})
	if !errors.Is(err, takeonce.ErrUnavailable) {
		t.Fatalf("expected unavailable, got %v", err)
	}
	var inErr *InputError
	if errors.As(err, &inErr) {
		t.Fatalf("backend failure must not be an input error")
	}
	if len(events.events) != 0 {
		t.Fatalf("no event expected on failure")
	}
}

func TestCreateIgnoresPublishFailure(t *testing.T) {
	events := &recordingPublisher{err: errors.New("nats down")}
	svc, _ := newRedisService(t, Options{Events: events})
	if _, err := svc.Create(context.Background(), CreateRequest{Ciphertext: "x"}); err != nil {
		t.Fatalf("publish failure should not fail create: %v", err)
	}
}

func TestRetrieveTokenRequired(t *testing.T) {
	store := &stubStore{}
	svc := NewService(store, Options{})
	_, err := svc.Retrieve(context.Background(), "abc", "")
	var inErr *InputError
	if !errors.As(err, &inErr) || inErr.Msg != msgTokenRequired {
		t.Fatalf("expected token required, got %v", err)
	}
	if store.takes != 0 {
		t.Fatalf("expected no backend call")
	}
}

func TestRetrieveMalformedSkipsBackend(t *testing.T) {
	store := &stubStore{env: takeonce.Envelope{Ciphertext: "x"}}
	svc := NewService(store, Options{})
	valid, err := capability.Generate()
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	cases := [][2]string{
		{"short", valid.Token},
		{valid.ID, "short"},
		{valid.ID[:21] + ":", valid.Token},
		{"", valid.Token},
	}
	for _, c := range cases {
		if _, err := svc.Retrieve(context.Background(), c[0], c[1]); !errors.Is(err, ErrNotFound) {
			t.Fatalf("expected not found for %q/%q, got %v", c[0], c[1], err)
		}
	}
	if store.takes != 0 {
		t.Fatalf("malformed capabilities must not reach the store, got %d calls", store.takes)
	}
}

func TestRetrieveBackendFailureIsNotNotFound(t *testing.T) {
	valid, err := capability.Generate()
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	cases := []struct {
		name string
		err  error
		want error
	}{
		{"indeterminate", &takeonce.AttemptError{Class: takeonce.FailureAmbiguous, Mode: takeonce.ModeNative, Err: context.DeadlineExceeded}, takeonce.ErrIndeterminate},
		{"unavailable", &takeonce.AttemptError{Class: takeonce.FailureTransient, Mode: takeonce.ModeScript, Err: errors.New("dial")}, takeonce.ErrUnavailable},
	}
	for _, tc := range cases {
		store := &stubStore{takeErr: tc.err}
		svc := NewService(store, Options{})
		_, err := svc.Retrieve(context.Background(), valid.ID, valid.Token)
		if !errors.Is(err, tc.want) {
			t.Fatalf("%s: expected %v, got %v", tc.name, tc.want, err)
		}
		if errors.Is(err, ErrNotFound) {
			t.Fatalf("%s: backend failure reported as not found", tc.name)
		}
	}
}

func TestRetrieveIndistinguishableAbsence(t *testing.T) {
	svc, mr := newRedisService(t, Options{})
	ctx := context.Background()

	never, err := capability.Generate()
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	consumed, err := svc.Create(ctx, CreateRequest{Ciphertext: "a"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := svc.Retrieve(ctx, consumed.ID, consumed.Token); err != nil {
		t.Fatalf("first read: %v", err)
	}
	expired, err := svc.Create(ctx, CreateRequest{Ciphertext: "b", TTLSeconds: ttlPtr(1)})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	mr.FastForward(2 * time.Second)

	var errs []error
	for _, c := range [][2]string{{never.ID, never.Token}, {consumed.ID, consumed.Token}, {expired.ID, expired.Token}} {
		_, err := svc.Retrieve(ctx, c[0], c[1])
		errs = append(errs, err)
	}
	for i, err := range errs {
		if err != ErrNotFound {
			t.Fatalf("case %d: expected the bare not-found sentinel, got %v", i, err)
		}
	}
}

func TestRetrieveWrongTokenLeavesMessage(t *testing.T) {
	svc, _ := newRedisService(t, Options{})
	ctx := context.Background()
	res, err := svc.Create(ctx, CreateRequest{Ciphertext: "secret"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	other, err := capability.Generate()
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if _, err := svc.Retrieve(ctx, res.ID, other.Token); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected not found with wrong token, got %v", err)
	}
	env, err := svc.Retrieve(ctx, res.ID, res.Token)
	if err != nil || env.Ciphertext != "secret" {
		t.Fatalf("message should survive a wrong-token read: %v %+v", err, env)
	}
}
