// Command geocode runs a single geocoding batch against the configured store
// and prints progress as it goes.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/couchcryptid/ham-neighbors/internal/app"
	"github.com/couchcryptid/ham-neighbors/internal/config"
	"github.com/couchcryptid/ham-neighbors/internal/observability"
	"github.com/couchcryptid/ham-neighbors/internal/pipeline"
)

func main() {
	asJSON := flag.Bool("json", false, "print progress events and the summary as JSON lines")
	flag.Parse()

	if err := run(*asJSON); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run(asJSON bool) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if !cfg.GeocodeEnabled {
		return fmt.Errorf("geocoding is disabled: set GEOCODIO_API_KEY or GOOGLE_API_KEY")
	}

	logger := observability.NewLogger(cfg)
	metrics := observability.NewMetrics()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := app.New(ctx, cfg, logger, metrics)
	if err != nil {
		return err
	}
	defer func() {
		if err := a.Close(); err != nil {
			slog.Error("close error", "error", err)
		}
	}()

	progress := make(chan pipeline.Event)
	printed := make(chan struct{})
	go func() {
		defer close(printed)
		for ev := range progress {
			printEvent(ev, asJSON)
		}
	}()

	res, err := a.Pipeline.RunBatch(ctx, progress)
	close(progress)
	<-printed
	if err != nil {
		return err
	}

	if asJSON {
		return json.NewEncoder(os.Stdout).Encode(res)
	}
	fmt.Printf("\nrun %s: %d selected, %d success, %d not found, %d errors, %d po boxes, %d duplicates copied in %s\n",
		res.RunID, res.Selected, res.SuccessCount, res.NotFoundCount, res.ErrorCount,
		res.POBoxCount, res.DuplicatesCopied, res.Duration)
	if res.StoppedByQuota {
		fmt.Println("stopped early: provider quota reached")
	}
	return nil
}

func printEvent(ev pipeline.Event, asJSON bool) {
	if asJSON {
		_ = json.NewEncoder(os.Stdout).Encode(ev)
		return
	}
	switch ev.Phase {
	case pipeline.PhaseGeocoding:
		fmt.Printf("\rgeocoding %d/%d", ev.Count, ev.Total)
		if ev.Count == ev.Total {
			fmt.Println()
		}
	case pipeline.PhaseStarted:
		fmt.Printf("run %s started\n", ev.RunID)
	default:
		fmt.Printf("%-10s %d\n", ev.Phase, ev.Count)
	}
}
