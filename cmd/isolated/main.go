// Command isolated serves registered worker entries over HTTP and, when
// enabled, over NATS.
package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/valyala/fasthttp"

	"github.com/fluxorio/isolate/pkg/config"
	"github.com/fluxorio/isolate/pkg/core"
	"github.com/fluxorio/isolate/pkg/isolate"
	"github.com/fluxorio/isolate/pkg/natsbridge"
	"github.com/fluxorio/isolate/pkg/observability/prometheus"
	"github.com/fluxorio/isolate/pkg/observability/tracing"
	"github.com/fluxorio/isolate/pkg/offload"
	"github.com/fluxorio/isolate/pkg/policy"
	"github.com/fluxorio/isolate/pkg/supervisor"
)

func main() {
	configPath := flag.String("config", "", "path to a YAML or JSON config file")
	writeConfig := flag.String("write-config", "", "write the default config to this path and exit")
	flag.Parse()

	if *writeConfig != "" {
		cfg := config.Default()
		if err := config.Save(*writeConfig, &cfg); err != nil {
			log.Fatalf("Failed to write config: %v", err)
		}
		return
	}

	cfg, err := config.LoadRuntime(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	if err := run(cfg); err != nil {
		log.Fatalf("isolated: %v", err)
	}
}

func run(cfg *config.Runtime) error {
	logger := core.NewDefaultLogger()

	shutdownTracing, err := tracing.Setup(cfg.Tracing)
	if err != nil {
		return err
	}

	var metrics *prometheus.Metrics
	if cfg.Metrics.Enabled {
		metrics = prometheus.GetMetrics()
	}

	pol, err := policy.New(cfg.Policy)
	if err != nil {
		return err
	}
	sopts := supervisor.Options{Logger: logger, QueueSize: cfg.Worker.QueueSize}
	if metrics != nil {
		sopts.Observer = metrics
	}
	sup := supervisor.New(sopts)
	off := offload.New(offload.Options{
		Supervisor: sup,
		Policy:     pol,
		Metrics:    metrics,
		Tracer:     tracing.Tracer(),
		Logger:     logger,
	})

	reg := isolate.NewRegistry()
	if err := registerEntries(reg); err != nil {
		return err
	}

	if n := cfg.Worker.CalibrationSamples; n > 0 {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		overhead, err := off.Calibrate(ctx, n)
		cancel()
		if err != nil {
			logger.Warnf("spawn calibration failed: %v", err)
		} else {
			logger.Infof("measured spawn overhead %s over %d samples", overhead, n)
		}
	}

	serveCtx, stopServing := context.WithCancel(context.Background())
	defer stopServing()

	var bridge *natsbridge.Bridge
	if cfg.NATS.Enabled {
		bridge, err = natsbridge.Connect(natsbridge.Config{
			URL:            cfg.NATS.URL,
			Name:           "isolated",
			RequestTimeout: cfg.HTTP.RequestTimeout,
			Logger:         logger,
		})
		if err != nil {
			return err
		}
		if err := bridge.ServeOffload(serveCtx, cfg.NATS.Subject, off, reg); err != nil {
			_ = bridge.Close()
			return err
		}
		logger.Infof("serving offload requests on NATS subject %s", cfg.NATS.Subject)
	}

	srv := &server{
		offloader:      off,
		registry:       reg,
		metrics:        metrics,
		requestTimeout: cfg.HTTP.RequestTimeout,
		logger:         logger.Named("http"),
	}
	if metrics != nil {
		srv.metricsPath = cfg.Metrics.Path
		srv.gatherer = prometheus.DefaultRegistry
	}
	httpServer := &fasthttp.Server{
		Handler:      srv.handler(),
		Name:         "isolated",
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.HTTP.WriteTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Infof("listening on %s", cfg.HTTP.Addr)
		errCh <- httpServer.ListenAndServe(cfg.HTTP.Addr)
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigChan:
		logger.Infof("received %s, shutting down", sig)
	case err := <-errCh:
		if err != nil {
			logger.Errorf("http server stopped: %v", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Worker.ShutdownTimeout)
	defer cancel()

	if err := httpServer.ShutdownWithContext(shutdownCtx); err != nil {
		logger.Warnf("http shutdown: %v", err)
	}
	stopServing()
	if bridge != nil {
		if err := bridge.Close(); err != nil {
			logger.Warnf("nats close: %v", err)
		}
	}
	if err := sup.Shutdown(shutdownCtx); err != nil {
		logger.Warnf("supervisor shutdown: %v", err)
	}
	if err := shutdownTracing(shutdownCtx); err != nil {
		logger.Warnf("tracing shutdown: %v", err)
	}
	logger.Info("stopped")
	return nil
}
