package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"slices"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/c360studio/semdilemma/pipeline"
	"github.com/c360studio/semdilemma/validation"
	"github.com/c360studio/semdilemma/vignette"
)

// runOutput is the JSON view of a pipeline result.
type runOutput struct {
	RunID         string                  `json:"run_id"`
	Seed          string                  `json:"seed,omitempty"`
	Status        pipeline.Status         `json:"status"`
	Cycles        int                     `json:"cycles"`
	Regenerations int                     `json:"regenerations,omitempty"`
	Reason        string                  `json:"reason,omitempty"`
	Error         string                  `json:"error,omitempty"`
	Seq           uint64                  `json:"corpus_seq,omitempty"`
	Artifact      *vignette.Artifact      `json:"artifact,omitempty"`
	Last          *vignette.Artifact      `json:"last_candidate,omitempty"`
	Feedback      *vignette.Feedback      `json:"feedback,omitempty"`
	History       []pipeline.HistoryEntry `json:"history,omitempty"`
}

func newRunOutput(res *pipeline.Result, withHistory bool) runOutput {
	out := runOutput{
		RunID:         res.RunID,
		Status:        res.Status,
		Cycles:        res.Cycles,
		Regenerations: res.Regenerations,
		Reason:        res.Reason,
		Artifact:      res.Artifact,
	}
	if res.Err != nil {
		out.Error = res.Err.Error()
	}
	if res.Record != nil {
		out.Seq = res.Record.Seq
	}
	if res.Status != pipeline.StatusAccepted {
		out.Last = res.LastCandidate
		out.Feedback = res.Feedback
	}
	if withHistory {
		out.History = res.History
	}
	return out
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// withApp loads configuration, builds the app and runs fn under a context
// cancelled by SIGINT or SIGTERM.
func withApp(cmd *cobra.Command, flags *globalFlags, fn func(ctx context.Context, app *App) error) error {
	cfg, logger, err := setup(flags, cmd.ErrOrStderr())
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	app, err := NewApp(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer app.Close()

	return fn(ctx, app)
}

func runCmd(flags *globalFlags) *cobra.Command {
	var (
		seedFile string
		history  bool
	)
	cmd := &cobra.Command{
		Use:   "run [seed]",
		Short: "Generate one vignette, from a seed case or invented when none is given",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			seed, err := readSeed(args, seedFile)
			if err != nil {
				return err
			}
			return withApp(cmd, flags, func(ctx context.Context, app *App) error {
				res := app.controller.Run(ctx, seed)
				if err := writeJSON(cmd.OutOrStdout(), newRunOutput(res, history)); err != nil {
					return err
				}
				if res.Status != pipeline.StatusAccepted {
					return fmt.Errorf("run %s ended %s: %s", res.RunID, res.Status, res.Reason)
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVarP(&seedFile, "seed-file", "f", "", "Read the seed case from a file")
	cmd.Flags().BoolVar(&history, "history", false, "Include the state transition history")
	return cmd
}

func readSeed(args []string, seedFile string) (string, error) {
	switch {
	case len(args) == 1 && seedFile != "":
		return "", errors.New("give a seed argument or --seed-file, not both")
	case len(args) == 1:
		return args[0], nil
	case seedFile != "":
		data, err := os.ReadFile(seedFile)
		if err != nil {
			return "", fmt.Errorf("read seed file: %w", err)
		}
		return string(data), nil
	default:
		return "", nil
	}
}

func batchCmd(flags *globalFlags) *cobra.Command {
	var concurrency int
	cmd := &cobra.Command{
		Use:   "batch <glob>...",
		Short: "Generate vignettes from every seed file matching the patterns",
		Long: `Batch reads one seed case per file. Patterns support ** for recursive
matching, for example "seeds/**/*.txt".`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			files, err := expandSeedFiles(args)
			if err != nil {
				return err
			}
			seeds := make([]string, len(files))
			for i, f := range files {
				data, err := os.ReadFile(f)
				if err != nil {
					return fmt.Errorf("read seed file: %w", err)
				}
				seeds[i] = string(data)
			}

			return withApp(cmd, flags, func(ctx context.Context, app *App) error {
				n := concurrency
				if n == 0 {
					n = app.cfg.Pipeline.Concurrency
				}
				results := pipeline.NewBatch(app.controller, n).Run(ctx, seeds)

				outputs := make([]runOutput, 0, len(results))
				for _, r := range results {
					out := newRunOutput(r.Result, false)
					out.Seed = files[r.Index]
					outputs = append(outputs, out)
				}
				if err := writeJSON(cmd.OutOrStdout(), outputs); err != nil {
					return err
				}

				summary := pipeline.Summary(results)
				app.logger.Info("Batch complete",
					"seeds", len(seeds),
					"accepted", summary[pipeline.StatusAccepted],
					"failed", summary[pipeline.StatusFailed])
				if summary[pipeline.StatusAccepted] == 0 {
					return errors.New("no vignette was accepted")
				}
				return nil
			})
		},
	}
	cmd.Flags().IntVarP(&concurrency, "concurrency", "j", 0, "Parallel runs (default from config)")
	return cmd
}

// expandSeedFiles resolves glob patterns to a sorted, de-duplicated file list.
func expandSeedFiles(patterns []string) ([]string, error) {
	var files []string
	for _, p := range patterns {
		matches, err := doublestar.FilepathGlob(p, doublestar.WithFilesOnly())
		if err != nil {
			return nil, fmt.Errorf("bad pattern %q: %w", p, err)
		}
		files = append(files, matches...)
	}
	slices.Sort(files)
	files = slices.Compact(files)
	if len(files) == 0 {
		return nil, fmt.Errorf("no seed files match %s", strings.Join(patterns, " "))
	}
	return files, nil
}

func readArtifact(path string) (*vignette.Artifact, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read artifact: %w", err)
	}
	var a vignette.Artifact
	if err := json.Unmarshal(data, &a); err != nil {
		return nil, fmt.Errorf("parse artifact %s: %w", filepath.Base(path), err)
	}
	return &a, nil
}

func evaluateCmd(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "evaluate <artifact.json>",
		Short: "Validate and critique an existing vignette once, without revising it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := readArtifact(args[0])
			if err != nil {
				return err
			}
			return withApp(cmd, flags, func(ctx context.Context, app *App) error {
				res, err := app.controller.Evaluate(ctx, a)
				if err != nil {
					return err
				}
				if err := writeJSON(cmd.OutOrStdout(), newRunOutput(res, false)); err != nil {
					return err
				}
				if res.Status != pipeline.StatusAccepted {
					return fmt.Errorf("vignette %s", strings.ToLower(string(res.Status)))
				}
				return nil
			})
		},
	}
}

func validateCmd(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "validate <artifact.json>",
		Short: "Run the structural checks on a vignette",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := readArtifact(args[0])
			if err != nil {
				return err
			}
			cfg, _, err := setup(flags, cmd.ErrOrStderr())
			if err != nil {
				return err
			}

			limits := validation.DefaultConfig()
			limits.WordCeiling = cfg.Pipeline.WordCeiling
			limits.WordFloor = cfg.Pipeline.WordFloor
			terms := append(validation.DefaultTerms(), cfg.Pipeline.ForbiddenLexicon...)
			if cfg.Pipeline.LexiconFile != "" {
				extra, err := validation.LoadLexiconFile(cfg.Pipeline.LexiconFile)
				if err != nil {
					return err
				}
				terms = append(terms, extra...)
			}
			v := validation.NewValidator(
				validation.WithConfig(limits),
				validation.WithLexicon(validation.NewLexicon(terms...)),
			)

			results := v.Validate(a)
			printResults(cmd.OutOrStdout(), results)
			if failed := validation.Failures(results); len(failed) > 0 {
				return fmt.Errorf("%d structural checks failed", len(failed))
			}
			return nil
		},
	}
}

func printResults(w io.Writer, results []vignette.CriterionResult) {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "CRITERION\tRESULT\tDETAIL")
	for _, r := range results {
		verdict := "pass"
		detail := r.Rationale
		if !r.Pass {
			verdict = "FAIL"
			if r.SuggestedEdit != "" {
				detail += " (" + r.SuggestedEdit + ")"
			}
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\n", r.Criterion, verdict, detail)
	}
	_ = tw.Flush()
}

func corpusCmd(flags *globalFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "corpus",
		Short: "Inspect the accepted corpus",
	}

	var asJSON bool
	list := &cobra.Command{
		Use:   "list",
		Short: "List accepted vignettes in acceptance order",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, flags, func(_ context.Context, app *App) error {
				records := app.corpus.Records()
				if asJSON {
					return writeJSON(cmd.OutOrStdout(), records)
				}
				tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
				fmt.Fprintln(tw, "SEQ\tACCEPTED\tID\tVALUES\tDECISION MAKER")
				for _, r := range records {
					fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%s\n",
						r.Seq,
						r.AcceptedAt.Format(time.RFC3339),
						r.Artifact.ID,
						r.Artifact.Values(),
						r.Artifact.DecisionMaker)
				}
				return tw.Flush()
			})
		},
	}
	list.Flags().BoolVar(&asJSON, "json", false, "Print full records as JSON")

	cmd.AddCommand(list)
	return cmd
}

func configCmd(flags *globalFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect configuration",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Print the effective configuration after layering",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, _, err := setup(flags, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			enc := yaml.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent(2)
			if err := enc.Encode(cfg); err != nil {
				return err
			}
			return enc.Close()
		},
	})
	return cmd
}
