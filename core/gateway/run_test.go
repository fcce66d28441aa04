package gateway

import (
	"context"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/cordum/oncebox/core/infra/config"
)

func TestRunRequiresConfig(t *testing.T) {
	if err := Run(context.Background(), nil); err == nil {
		t.Fatalf("expected error for nil config")
	}
}

func TestRunFailsWithoutRedis(t *testing.T) {
	cfg := config.Default()
	cfg.RedisURL = "redis://127.0.0.1:1"
	if err := Run(context.Background(), cfg); err == nil {
		t.Fatalf("expected connect error")
	}
}

func TestRunServesUntilCanceled(t *testing.T) {
	mr := miniredis.RunT(t)
	cfg := config.Default()
	cfg.RedisURL = "redis://" + mr.Addr()
	cfg.HTTPAddr = "127.0.0.1:0"
	cfg.MetricsAddr = "127.0.0.1:0"
	cfg.ShutdownTimeout = time.Second

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- Run(ctx, cfg) }()

	time.Sleep(100 * time.Millisecond)
	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("run returned %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("run did not stop")
	}
}
