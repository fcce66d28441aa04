// Package gateway exposes the message service over HTTP.
package gateway

import (
	"context"
	"net/http"
	"time"

	"github.com/cordum/oncebox/core/infra/metrics"
	"github.com/cordum/oncebox/core/infra/takeonce"
	"github.com/cordum/oncebox/core/message"
)

const (
	defaultMaxBodyBytes = 64 << 10
	healthTimeout       = 2 * time.Second
)

// MessageService is the subset of message.Service the gateway needs.
type MessageService interface {
	Create(ctx context.Context, req message.CreateRequest) (message.CreateResult, error)
	Retrieve(ctx context.Context, id, token string) (takeonce.Envelope, error)
}

// Pinger reports backend health.
type Pinger interface {
	Ping(ctx context.Context) error
}

// EventStatus reports the lifecycle event connection state.
type EventStatus interface {
	Status() string
}

// Options configures the HTTP surface.
type Options struct {
	MaxBodyBytes   int64
	RateLimitRPS   int
	RateLimitBurst int
	// AllowedOrigins lists CORS origins. Empty allows localhost and the
	// request's own host; "*" allows any origin.
	AllowedOrigins []string
	Metrics        metrics.GatewayMetrics
	Health         Pinger
	// Events is reported on /healthz when the event bus is enabled.
	Events         EventStatus
}

// Server serves the message API.
type Server struct {
	svc       MessageService
	health    Pinger
	events    EventStatus
	metrics   metrics.GatewayMetrics
	maxBody   int64
	limiter   *tokenBucket
	origins   map[string]struct{}
	anyOrigin bool
}

func New(svc MessageService, opts Options) *Server {
	s := &Server{
		svc:     svc,
		health:  opts.Health,
		events:  opts.Events,
		metrics: opts.Metrics,
		maxBody: opts.MaxBodyBytes,
		limiter: newTokenBucket(opts.RateLimitRPS, opts.RateLimitBurst),
	}
	if s.maxBody <= 0 {
		s.maxBody = defaultMaxBodyBytes
	}
	if s.metrics == nil {
		s.metrics = metrics.Noop{}
	}
	s.origins, s.anyOrigin = originSet(opts.AllowedOrigins)
	return s
}

// Close stops background refills of the rate limiter.
func (s *Server) Close() {
	if s == nil {
		return
	}
	s.limiter.Stop()
}

// Handler returns the routed API with the full middleware chain applied.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", s.instrumented("/healthz", s.handleHealth))
	mux.HandleFunc("POST /msg", s.instrumented("/msg", s.handleCreate))
	mux.HandleFunc("GET /msg/{id}", s.instrumented("/msg/{id}", s.handleRetrieve))
	return s.wrap(mux)
}
