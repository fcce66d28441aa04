package gateway

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/cordum/oncebox/core/infra/logging"
	"github.com/cordum/oncebox/core/infra/metrics"
	"golang.org/x/sync/errgroup"
)

const defaultShutdownTimeout = 10 * time.Second

// ListenConfig names the listeners Run binds.
type ListenConfig struct {
	HTTPAddr        string
	MetricsAddr     string
	ShutdownTimeout time.Duration
}

// Run serves the API and, when configured, the metrics endpoint until ctx is
// canceled or a listener fails, then shuts both down gracefully.
func (s *Server) Run(ctx context.Context, cfg ListenConfig) error {
	apiLn, err := net.Listen("tcp", cfg.HTTPAddr)
	if err != nil {
		return err
	}
	var metricsLn net.Listener
	if cfg.MetricsAddr != "" {
		metricsLn, err = net.Listen("tcp", cfg.MetricsAddr)
		if err != nil {
			_ = apiLn.Close()
			return err
		}
	}
	return s.Serve(ctx, apiLn, metricsLn, cfg.ShutdownTimeout)
}

// Serve is Run on pre-bound listeners. metricsLn may be nil.
func (s *Server) Serve(ctx context.Context, apiLn, metricsLn net.Listener, shutdownTimeout time.Duration) error {
	if shutdownTimeout <= 0 {
		shutdownTimeout = defaultShutdownTimeout
	}
	defer s.Close()

	servers := []*http.Server{{
		Handler:           s.Handler(),
		ReadTimeout:       15 * time.Second,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}}
	listeners := []net.Listener{apiLn}
	if metricsLn != nil {
		metricsMux := http.NewServeMux()
		metricsMux.Handle("/metrics", metrics.Handler())
		servers = append(servers, &http.Server{
			Handler:      metricsMux,
			ReadTimeout:  5 * time.Second,
			WriteTimeout: 5 * time.Second,
			IdleTimeout:  60 * time.Second,
		})
		listeners = append(listeners, metricsLn)
	}

	g, gctx := errgroup.WithContext(ctx)
	for i := range servers {
		srv, ln := servers[i], listeners[i]
		g.Go(func() error {
			logging.Info("gateway", "listening", "addr", ln.Addr().String())
			if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		})
	}
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		var firstErr error
		for _, srv := range servers {
			if err := srv.Shutdown(shutdownCtx); err != nil && firstErr == nil {
				firstErr = err
			}
		}
		logging.Info("gateway", "shutdown complete")
		return firstErr
	})
	return g.Wait()
}
