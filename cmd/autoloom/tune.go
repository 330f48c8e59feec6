package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"autoloom/internal/llm"
	"autoloom/internal/logging"
	"autoloom/internal/tuner"
)

func newTuneCommand(c *cli) *cobra.Command {
	var corpus string
	cmd := &cobra.Command{
		Use:   "tune --corpus DIR [--output FILE]",
		Short: "Generate classifier fine-tuning examples from a corpus",
		Long: `Sample breakpoints in every corpus document and write one human (Y)
example plus several model-completion (N) examples per breakpoint as JSONL.
Records are appended to the output file.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			container, err := c.container()
			if err != nil {
				return err
			}
			defer container.Cleanup()

			cfg := container.Config
			if err := cfg.RequireCredentials(cfg.Tuner.Model); err != nil {
				return err
			}
			// One request per breakpoint; a failure only drops its AI examples.
			cfg.Retry.MaxAttempts = 1
			cfg.Models = nil

			ctx, stop := signalContext(cmd.Context())
			defer stop()

			deps := container.deps("tuner")
			generator, err := llm.NewGenerator(ctx, cfg, deps)
			if err != nil {
				return err
			}

			opts := tuner.OptionsFromConfig(cfg)
			opts.Corpus = corpus
			t, err := tuner.New(generator, opts,
				tuner.WithLogger(logging.NewComponentLogger("tuner")),
				tuner.WithTracer(container.Tracer),
			)
			if err != nil {
				return err
			}

			stats, err := t.Run(ctx)
			fmt.Fprintf(cmd.OutOrStdout(), "%s %d documents, %d breakpoints, %s human, %s ai, %d skipped, %d failed -> %s\n",
				green("Done:"), stats.Documents, stats.Breakpoints,
				cyan(stats.Human), cyan(stats.AI), stats.Skipped, stats.Failed, opts.Output)
			return err
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&corpus, "corpus", "", "directory of .txt, .md and .html documents")
	flags.String("output", "", "JSONL file to append to (default: tunes/generated_examples.jsonl)")
	flags.String("model", "", "generation model used for the AI examples")
	flags.Int64("seed", 0, "breakpoint sampling seed (0 picks one from the clock)")
	_ = cmd.MarkFlagRequired("corpus")
	c.bind(flags, map[string]string{
		"tuner.output": "output",
		"tuner.model":  "model",
		"tuner.seed":   "seed",
	})
	return cmd
}
