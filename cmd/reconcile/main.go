// Command reconcile exports listings to CSV, applies edited CSV files and
// cleans up duplicate records.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"

	"auction-ingest/internal/app"
	"auction-ingest/internal/config"
	"auction-ingest/internal/observability"
	"auction-ingest/internal/reconcile"
	"auction-ingest/internal/storage"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
		os.Exit(1)
	}

	mode := flag.String("mode", "export", "Mode: export, import, duplicates or merge-duplicates")
	input := flag.String("input", "-", "CSV file to import (- for stdin)")
	output := flag.String("output", "-", "Output file (- for stdout)")
	status := flag.String("status", "", "Export filter: comma-separated statuses")
	platform := flag.String("platform", "", "Export filter: platform name")
	publishState := flag.String("publish-state", "", "Export filter: comma-separated publish states")
	updatedSince := flag.String("updated-since", "", "Export filter: RFC3339 time or Unix ms")
	cfg.RegisterFlags(flag.CommandLine)
	flag.Parse()

	// Logs go to stderr so CSV and JSON output stay clean on stdout.
	logger := cfg.NewLogger()
	logger.SetOutput(os.Stderr)
	if err := cfg.Validate(); err != nil {
		logger.Fatalf("Invalid configuration: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	components, err := app.Build(ctx, cfg, observability.Default(), logger)
	if err != nil {
		logger.Fatalf("Failed to initialize: %v", err)
	}
	defer components.Close()
	r := components.Reconciler

	out, closeOut, err := openOutput(*output)
	if err != nil {
		logger.Fatalf("Failed to open output: %v", err)
	}
	defer closeOut()

	switch *mode {
	case "export":
		filter, ferr := storage.ParseFilter(storage.FilterParams{
			Status:       *status,
			Platform:     *platform,
			PublishState: *publishState,
			UpdatedSince: *updatedSince,
		})
		if ferr != nil {
			logger.Fatalf("Invalid filter: %v", ferr)
		}
		var n int
		n, err = r.Export(ctx, filter, out)
		if err == nil {
			logger.WithField("rows", n).Info("Exported listings")
		}

	case "import":
		err = runImport(ctx, r, *input, out, logger)

	case "duplicates":
		var report *reconcile.DuplicateReport
		if report, err = r.FindDuplicates(ctx); err == nil {
			err = writeJSON(out, report)
		}

	case "merge-duplicates":
		var summary *reconcile.MergeSummary
		if summary, err = r.MergeDuplicates(ctx); err == nil {
			err = writeJSON(out, summary)
		}

	default:
		logger.Fatalf("Unknown mode: %s", *mode)
	}

	if err != nil {
		closeOut()
		components.Close()
		logger.Fatalf("%s failed: %v", *mode, err)
	}
}

func runImport(ctx context.Context, r *reconcile.Reconciler, path string, out io.Writer, logger logrus.FieldLogger) error {
	in := io.Reader(os.Stdin)
	if path != "-" {
		f, err := os.Open(path)
		if err != nil {
			return err
		}
		defer f.Close()
		in = f
	}

	summary, err := r.Import(ctx, in)
	if summary != nil {
		if werr := writeJSON(out, summary); werr != nil {
			return werr
		}
	}
	if errors.Is(err, reconcile.ErrTooManyErrors) {
		logger.Error("Import stopped early; rows before the failure were applied")
	}
	return err
}

func openOutput(path string) (io.Writer, func(), error) {
	if path == "-" || path == "" {
		return os.Stdout, func() {}, nil
	}
	f, err := os.Create(path)
	if err != nil {
		return nil, nil, err
	}
	closed := false
	return f, func() {
		if !closed {
			closed = true
			_ = f.Close()
		}
	}, nil
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
