package gateway

import (
	"context"
	"fmt"
	"time"

	"github.com/cordum/oncebox/core/infra/bus"
	"github.com/cordum/oncebox/core/infra/config"
	"github.com/cordum/oncebox/core/infra/logging"
	"github.com/cordum/oncebox/core/infra/metrics"
	"github.com/cordum/oncebox/core/infra/redisutil"
	"github.com/cordum/oncebox/core/infra/takeonce"
	"github.com/cordum/oncebox/core/message"
)

const (
	metricsNamespace = "oncebox"
	startupTimeout   = 10 * time.Second
)

// Run wires the store, message service and HTTP surface from cfg and serves
// until ctx is canceled. The Redis client and NATS connection are owned here
// and closed on return.
func Run(ctx context.Context, cfg *config.Config) error {
	if cfg == nil {
		return fmt.Errorf("config required")
	}
	startCtx, cancel := context.WithTimeout(ctx, startupTimeout)
	defer cancel()

	client, err := redisutil.Connect(startCtx, redisutil.Options{
		URL:          cfg.RedisURL,
		ClusterAddrs: cfg.RedisClusterAddrs,
		PoolSize:     cfg.RedisPoolSize,
		OpTimeout:    cfg.RedisOpTimeout,
	})
	if err != nil {
		return err
	}
	defer func() {
		if err := client.Close(); err != nil {
			logging.Error("gateway", "redis close failed", "error", err)
		}
	}()

	storeMetrics := metrics.NewProm(metricsNamespace)
	storeOpts := takeonce.DefaultOptions()
	storeOpts.AllowNative = cfg.AllowGetDel
	storeOpts.MaxAttempts = cfg.TakeAttempts
	storeOpts.Metrics = storeMetrics
	store, err := takeonce.NewRedisStore(startCtx, client, storeOpts)
	if err != nil {
		return err
	}

	svcOpts := message.Options{
		DefaultTTL: cfg.DefaultTTL,
		MinTTL:     cfg.MinTTL,
		MaxTTL:     cfg.MaxTTL,
		Metrics:    storeMetrics,
	}
	var events EventStatus
	if cfg.NatsURL != "" {
		nb, err := bus.NewNatsBus(cfg.NatsURL, cfg.EventSubject)
		if err != nil {
			return fmt.Errorf("connect nats: %w", err)
		}
		defer nb.Close()
		svcOpts.Events = nb
		events = nb
		logging.Info("gateway", "lifecycle events enabled", "subject", cfg.EventSubject)
	}

	srv := New(message.NewService(store, svcOpts), Options{
		MaxBodyBytes:   cfg.MaxBodyBytes,
		RateLimitRPS:   cfg.RateLimitRPS,
		RateLimitBurst: cfg.RateLimitBurst,
		AllowedOrigins: cfg.AllowedOrigins,
		Metrics:        metrics.NewGatewayProm(metricsNamespace),
		Health:         store,
		Events:         events,
	})
	return srv.Run(ctx, ListenConfig{
		HTTPAddr:        cfg.HTTPAddr,
		MetricsAddr:     cfg.MetricsAddr,
		ShutdownTimeout: cfg.ShutdownTimeout,
	})
}
