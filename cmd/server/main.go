// Package main runs the long-lived service: the operator API, Prometheus
// metrics and the Kafka re-scrape consumer, all over one wired engine.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/IBM/sarama"
	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"auction-ingest/internal/api"
	"auction-ingest/internal/app"
	"auction-ingest/internal/config"
	"auction-ingest/internal/events"
	"auction-ingest/internal/observability"
)

const shutdownTimeout = 30 * time.Second

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
		os.Exit(1)
	}
	cfg.RegisterFlags(flag.CommandLine)
	flag.Parse()

	logger := cfg.NewLogger()
	if err := cfg.Validate(); err != nil {
		logger.Fatalf("Invalid configuration: %v", err)
	}
	gin.SetMode(gin.ReleaseMode)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	components, err := app.Build(ctx, cfg, observability.Default(), logger)
	if err != nil {
		logger.Fatalf("Failed to initialize: %v", err)
	}
	defer components.Close()

	handler, err := api.New(api.Options{
		Store:        components.Stores.Listings,
		Observations: components.Stores.Observations,
		Writer:       components.Writer,
		Orchestrator: components.Orchestrator,
		Processor:    components.Pipeline,
		Reconciler:   components.Reconciler,
		Logger:       logger,
	})
	if err != nil {
		logger.Fatalf("Failed to create API: %v", err)
	}

	servers := []*http.Server{{Addr: cfg.HTTPAddr, Handler: handler.Router()}}
	if cfg.MetricsAddr != "" && cfg.MetricsAddr != cfg.HTTPAddr {
		mux := http.NewServeMux()
		mux.Handle("/metrics", observability.Handler())
		mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write([]byte("ok"))
		})
		servers = append(servers, &http.Server{Addr: cfg.MetricsAddr, Handler: mux})
	}

	// Handle shutdown signals
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	errCh := make(chan error, len(servers)+1)
	for _, srv := range servers {
		go func(srv *http.Server) {
			logger.Infof("Starting HTTP server on %s", srv.Addr)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errCh <- fmt.Errorf("http server %s: %w", srv.Addr, err)
			}
		}(srv)
	}

	if len(cfg.KafkaBrokers) > 0 {
		// Joining the group continues in the background.
		group, err := startRescrapeConsumer(ctx, cfg, components, logger)
		if err != nil {
			logger.Fatalf("Failed to start re-scrape consumer: %v", err)
		}
		defer group.Close()
	} else {
		logger.Info("KAFKA_BROKERS not set, re-scrape consumer disabled")
	}

	select {
	case sig := <-sigCh:
		logger.Infof("Received signal %v, initiating graceful shutdown...", sig)
	case err := <-errCh:
		logger.Errorf("Server error: %v", err)
	}
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()

	go func() {
		select {
		case sig := <-sigCh:
			logger.Warnf("Received second signal %v, forcing immediate shutdown", sig)
			os.Exit(1)
		case <-shutdownCtx.Done():
		}
	}()

	for _, srv := range servers {
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Warnf("Shutdown of %s: %v", srv.Addr, err)
		}
	}
	logger.Info("Shutdown complete")
}

// startRescrapeConsumer feeds re-scrape requests into the orchestrator.
func startRescrapeConsumer(ctx context.Context, cfg *config.Config, c *app.Components, logger *logrus.Logger) (sarama.ConsumerGroup, error) {
	handler := func(ctx context.Context, req *events.RescrapeRequest) error {
		result, err := c.Orchestrator.Run(ctx, req.URLs)
		if err != nil {
			return err
		}
		logger.WithFields(logrus.Fields{
			"run_id":       result.RunID,
			"requested_by": req.RequestedBy,
			"success":      result.SuccessCount,
			"failure":      result.FailureCount,
		}).Info("Re-scrape batch completed")
		return nil
	}
	return events.StartRescrapeGroup(ctx, cfg.KafkaBrokers, cfg.KafkaRescrapeTopic, cfg.KafkaGroupID, handler, logger)
}
