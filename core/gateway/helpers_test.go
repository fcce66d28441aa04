package gateway

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/cordum/oncebox/core/infra/takeonce"
	"github.com/cordum/oncebox/core/message"
	"github.com/redis/go-redis/v9"
)

type testGateway struct {
	srv     *Server
	handler http.Handler
	mr      *miniredis.Miniredis
	store   *takeonce.RedisStore
}

func newTestGateway(t *testing.T, opts Options) *testGateway {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1, DialTimeout: 200 * time.Millisecond})
	t.Cleanup(func() { _ = client.Close() })

	storeOpts := takeonce.DefaultOptions()
	storeOpts.InitialInterval = time.Millisecond
	storeOpts.MaxInterval = 5 * time.Millisecond
	store, err := takeonce.NewRedisStore(context.Background(), client, storeOpts)
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	if opts.Health == nil {
		opts.Health = store
	}
	srv := New(message.NewService(store, message.Options{}), opts)
	t.Cleanup(srv.Close)
	return &testGateway{srv: srv, handler: srv.Handler(), mr: mr, store: store}
}

func (g *testGateway) do(t *testing.T, method, target, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, target, nil)
	}
	rec := httptest.NewRecorder()
	g.handler.ServeHTTP(rec, req)
	return rec
}

func (g *testGateway) create(t *testing.T, body string) message.CreateResult {
	t.Helper()
	rec := g.do(t, http.MethodPost, "/msg", body)
	if rec.Code != http.StatusCreated {
		t.Fatalf("create: expected 201, got %d: %s", rec.Code, rec.Body.String())
	}
	var res message.CreateResult
	if err := json.Unmarshal(rec.Body.Bytes(), &res); err != nil {
		t.Fatalf("decode create: %v", err)
	}
	return res
}

func readURL(id, token string) string {
	return "/msg/" + id + "?token=" + token
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var body errorBody
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode error body %q: %v", rec.Body.String(), err)
	}
	return body.Error
}
