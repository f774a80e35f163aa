// Package main implements an offline completion server for exercising the
// vignette pipeline without a real model.
//
// It speaks the OpenAI chat completions wire format and routes by the
// "model" field. Fixture files are JSON named by model ("mock-drafter.json"
// answers model "mock-drafter"); numbered files ("mock-reviser.1.json",
// "mock-reviser.2.json") are served in order before the base file, which
// then repeats.
//
// Requests for a model without fixtures that carry a rubric criteria list
// are answered with generated verdicts. The first --reject-reviews such
// calls fail their first criterion, which drives a critique, revise, accept
// loop end to end.
//
// Usage:
//
//	mock-llm --fixtures ./testdata/fixtures --port 11434
//	semdilemma run "seed" -c semdilemma.yaml   # model.registry_file: testdata/registry.json
package main

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/spf13/cobra"
)

func main() {
	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	var (
		fixtureDir    string
		port          int
		rejectReviews int
	)

	cmd := &cobra.Command{
		Use:          "mock-llm",
		Short:        "Serve scripted chat completions for offline pipeline runs",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := slog.New(slog.NewTextHandler(os.Stderr, nil))

			if envDir := os.Getenv("MOCK_LLM_FIXTURES"); envDir != "" && fixtureDir == "" {
				fixtureDir = envDir
			}
			if fixtureDir == "" {
				return errors.New("--fixtures or MOCK_LLM_FIXTURES is required")
			}

			fixtures, err := loadFixtures(fixtureDir)
			if err != nil {
				return fmt.Errorf("load fixtures from %s: %w", fixtureDir, err)
			}
			for model, seq := range fixtures {
				logger.Info("Loaded fixtures", "model", model, "count", len(seq))
			}

			s := newServer(fixtures, rejectReviews, logger)
			addr := fmt.Sprintf(":%d", port)
			logger.Info("Mock LLM server listening", "addr", addr)

			srv := &http.Server{
				Addr:              addr,
				Handler:           s.routes(),
				ReadHeaderTimeout: 5 * time.Second,
			}
			return srv.ListenAndServe()
		},
	}

	cmd.Flags().StringVar(&fixtureDir, "fixtures", "", "Directory containing fixture response files")
	cmd.Flags().IntVar(&port, "port", 11434, "Port to listen on")
	cmd.Flags().IntVar(&rejectReviews, "reject-reviews", 0, "Number of generated review replies that fail a criterion")
	return cmd
}
