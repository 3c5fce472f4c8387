package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/okian/trackpick/internal/simulate"
	"github.com/okian/trackpick/pkg/logger"
	"github.com/spf13/cobra"
)

// simulationGrace bounds a whole run on top of its deadline.
const simulationGrace = time.Minute

func newSimulateCmd() *cobra.Command {
	cfg := simulate.DefaultConfig()

	cmd := &cobra.Command{
		Use:   "simulate",
		Short: "Drive a running server with a fake peer network and transfer client",
		Long: `simulate submits track requests to a running trackpick server, answers its
pending searches with generated candidates, pulls download commands and
reports outcomes, failing a share of them. It exits non-zero when a request
does not end or ends inconsistently. The server must run in pull delivery mode.`,
		Example: `  trackpick simulate --requests 500 --failure-rate 0.4
  trackpick simulate --url http://localhost:8080 --seed 7 --verbose`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runSimulate(cmd.Context(), cfg)
		},
	}

	f := cmd.Flags()
	f.StringVar(&cfg.BaseURL, "url", cfg.BaseURL, "Base URL of the service")
	f.IntVar(&cfg.Requests, "requests", cfg.Requests, "Number of track requests to submit")
	f.IntVar(&cfg.Workers, "workers", cfg.Workers, "Number of concurrent submitters")
	f.IntVar(&cfg.CandidatesPerRequest, "candidates", cfg.CandidatesPerRequest, "Search results offered per request")
	f.Float64Var(&cfg.FailureRate, "failure-rate", cfg.FailureRate, "Share of downloads that fail, 0..1")
	f.Uint64Var(&cfg.Seed, "seed", cfg.Seed, "Seed for the catalog and failure choices")
	f.DurationVar(&cfg.Timeout, "timeout", cfg.Timeout, "HTTP request timeout")
	f.DurationVar(&cfg.PollInterval, "poll", cfg.PollInterval, "Polling interval")
	f.DurationVar(&cfg.Deadline, "deadline", cfg.Deadline, "How long to wait for every request to end")
	f.BoolVar(&cfg.Retire, "retire", cfg.Retire, "Retire terminal requests when done")
	f.BoolVar(&cfg.Verbose, "verbose", cfg.Verbose, "Enable verbose logging")
	return cmd
}

func runSimulate(parent context.Context, cfg *simulate.Config) error {
	if parent == nil {
		parent = context.Background()
	}
	if err := logger.Init(); err != nil {
		return fmt.Errorf("initialize logging: %w", err)
	}
	if cfg.Verbose {
		_ = logger.SetLevelString("debug")
	}

	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithTimeout(ctx, cfg.Deadline+simulationGrace)
	defer cancel()

	rep, err := simulate.Run(ctx, cfg)
	if err != nil {
		return fmt.Errorf("simulation failed: %w", err)
	}
	fmt.Printf("requests=%d completed=%d exhausted=%d failed=%d dispatches=%d duration=%s\n",
		rep.Requests, rep.Completed, rep.Exhausted, rep.Failed, rep.Dispatches, rep.Duration.Round(time.Millisecond))
	return nil
}
