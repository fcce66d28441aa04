package metrics

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics defines counters for the message lifecycle and the take-once store.
type Metrics interface {
	IncMessagesCreated()
	IncMessagesTaken(result string)
	ObserveTakeAttempt(mode, outcome string)
	SetNativeMode(native bool)
}

// GatewayMetrics captures request metrics for the HTTP gateway.
type GatewayMetrics interface {
	ObserveRequest(method, route, status string, durationSeconds float64)
}

// Noop implements Metrics and GatewayMetrics without emitting anything.
type Noop struct{}

func (Noop) IncMessagesCreated()                            {}
func (Noop) IncMessagesTaken(string)                        {}
func (Noop) ObserveTakeAttempt(string, string)              {}
func (Noop) SetNativeMode(bool)                             {}
func (Noop) ObserveRequest(string, string, string, float64) {}

// Prom implements Metrics backed by Prometheus collectors.
type Prom struct {
	created    prometheus.Counter
	taken      *prometheus.CounterVec
	attempts   *prometheus.CounterVec
	nativeMode prometheus.Gauge
	once       sync.Once
}

func NewProm(namespace string) *Prom {
	p := &Prom{
		created: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_created_total",
			Help:      "Messages stored",
		}),
		taken: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_taken_total",
			Help:      "Take-once reads by result (ok, not_found, error)",
		}, []string{"result"}),
		attempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "takeonce_attempts_total",
			Help:      "Atomic take attempts by mode and outcome",
		}, []string{"mode", "outcome"}),
		nativeMode: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "takeonce_native_mode",
			Help:      "1 when the native GETDEL path is active, 0 when the script path is used",
		}),
	}
	p.register()
	return p
}

func (p *Prom) register() {
	p.once.Do(func() {
		prometheus.MustRegister(p.created, p.taken, p.attempts, p.nativeMode)
	})
}

func (p *Prom) IncMessagesCreated() {
	p.created.Inc()
}

func (p *Prom) IncMessagesTaken(result string) {
	p.taken.WithLabelValues(result).Inc()
}

func (p *Prom) ObserveTakeAttempt(mode, outcome string) {
	p.attempts.WithLabelValues(mode, outcome).Inc()
}

func (p *Prom) SetNativeMode(native bool) {
	if native {
		p.nativeMode.Set(1)
		return
	}
	p.nativeMode.Set(0)
}

// Handler returns an HTTP handler for /metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// --- Gateway metrics ---

type gatewayProm struct {
	requests *prometheus.CounterVec
	latency  *prometheus.HistogramVec
	once     sync.Once
}

// NewGatewayProm constructs a GatewayMetrics with counters/histograms.
func NewGatewayProm(namespace string) GatewayMetrics {
	g := &gatewayProm{
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests by method/route/status",
		}, []string{"method", "route", "status"}),
		latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency by method/route",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route"}),
	}
	g.once.Do(func() {
		prometheus.MustRegister(g.requests, g.latency)
	})
	return g
}

func (g *gatewayProm) ObserveRequest(method, route, status string, durationSeconds float64) {
	g.requests.WithLabelValues(method, route, status).Inc()
	g.latency.WithLabelValues(method, route).Observe(durationSeconds)
}
