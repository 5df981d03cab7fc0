// Command ingest runs one batch of listing URLs through the pipeline and
// prints the batch summary as JSON.
package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"auction-ingest/internal/app"
	"auction-ingest/internal/config"
	"auction-ingest/internal/observability"
	"auction-ingest/internal/orchestrator"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
		os.Exit(1)
	}

	// Flags default to the environment
	urls := flag.String("urls", "", "Comma-separated listing URLs")
	file := flag.String("file", "", "File with one URL per line (- for stdin)")
	output := flag.String("output", "", "Write the JSON summary to this file instead of stdout")
	cfg.MetricsAddr = "" // batch runs serve metrics only when asked
	cfg.RegisterFlags(flag.CommandLine)
	flag.Parse()

	logger := cfg.NewLogger()
	if err := cfg.Validate(); err != nil {
		logger.Fatalf("Invalid configuration: %v", err)
	}

	list := config.SplitList(*urls)
	if *file != "" {
		fromFile, err := readURLFile(*file)
		if err != nil {
			logger.Fatalf("Failed to read URLs: %v", err)
		}
		list = append(list, fromFile...)
	}
	if len(list) == 0 {
		logger.Fatal("No URLs given. Use --urls or --file")
	}

	if cfg.MetricsAddr != "" {
		go serveMetrics(cfg.MetricsAddr, logger)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Handle shutdown signals with graceful timeout
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	done := make(chan struct{})

	go func() {
		select {
		case sig := <-sigCh:
			logger.Infof("Received signal %v, stopping batch", sig)
			cancel()
		case <-done:
			return
		}
		select {
		case sig := <-sigCh:
			logger.Warnf("Received second signal %v, forcing immediate shutdown", sig)
			os.Exit(1)
		case <-time.After(30 * time.Second):
			logger.Warn("Graceful shutdown timed out after 30s, forcing exit")
			os.Exit(1)
		case <-done:
		}
	}()

	result, err := run(ctx, cfg, list, logger)
	close(done)
	if err != nil {
		logger.Fatalf("Batch failed: %v", err)
	}

	out := io.Writer(os.Stdout)
	if *output != "" {
		f, err := os.Create(*output)
		if err != nil {
			logger.Fatalf("Failed to create %s: %v", *output, err)
		}
		defer f.Close()
		out = f
	}
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	if err := enc.Encode(result); err != nil {
		logger.Fatalf("Failed to write summary: %v", err)
	}
}

func run(ctx context.Context, cfg *config.Config, urls []string, logger *logrus.Logger) (*orchestrator.BatchResult, error) {
	components, err := app.Build(ctx, cfg, observability.Default(), logger)
	if err != nil {
		return nil, err
	}
	defer components.Close()

	logger.WithFields(logrus.Fields{
		"urls":    len(urls),
		"workers": cfg.Workers,
		"delay":   cfg.RequestDelay.String(),
	}).Info("Starting batch")

	result, err := components.Orchestrator.Run(ctx, urls)
	if err != nil {
		return nil, err
	}
	logger.WithFields(logrus.Fields{
		"run_id":  result.RunID,
		"success": result.SuccessCount,
		"failure": result.FailureCount,
	}).Info("Batch completed")
	return result, nil
}

// readURLFile reads one URL per line. Blank lines and # comments are skipped.
func readURLFile(path string) ([]string, error) {
	var r io.Reader = os.Stdin
	if path != "-" {
		f, err := os.Open(path)
		if err != nil {
			return nil, err
		}
		defer f.Close()
		r = f
	}
	return readURLs(r)
}

func readURLs(r io.Reader) ([]string, error) {
	var urls []string
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		urls = append(urls, line)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("scan urls: %w", err)
	}
	return urls, nil
}

func serveMetrics(addr string, logger logrus.FieldLogger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", observability.Handler())
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	logger.Infof("Starting metrics server on %s", addr)
	if err := http.ListenAndServe(addr, mux); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Errorf("Metrics server error: %v", err)
	}
}
