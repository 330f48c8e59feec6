package main

import (
	"context"
	"strings"

	"github.com/spf13/cobra"

	"autoloom/internal/server"
)

// loopSession is what the frontends drive; *session.Orchestrator satisfies it.
type loopSession interface {
	server.Source
	Run(ctx context.Context) error
}

type runOptions struct {
	console bool
	resume  string
}

func newRunCommand(c *cli) *cobra.Command {
	opts := &runOptions{}
	cmd := &cobra.Command{
		Use:   "run [prompt]",
		Short: "Start an interactive continuation session",
		Long: `Start a session from prompt. Without a prompt argument the prompt is read
interactively.

Keys (TUI):
  ctrl+space   interrupt the countdown and choose a completion yourself
  ctrl+s       show the original prompt and every committed completion
  ctrl+g       show the history rendered as markdown
  ctrl+y       copy the current text to the clipboard
  ctrl+r       resume after a failed round
  ctrl+c       quit and print the session history`,
		Args: cobra.ArbitraryArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			container, err := c.container()
			if err != nil {
				return err
			}
			defer container.Cleanup()

			ctx, stop := signalContext(cmd.Context())
			defer stop()

			prompt := strings.Join(args, " ")
			if opts.console || !isTTY() {
				return runConsole(ctx, container, prompt, opts.resume)
			}
			return runTUI(ctx, container, prompt, opts.resume)
		},
	}

	flags := cmd.Flags()
	flags.StringP("model", "m", "", "generation model")
	flags.String("classifier-model", "", "classifier model")
	flags.IntP("n", "n", 0, "completions per round")
	flags.Int("max-tokens", 0, "max tokens per completion")
	flags.Float64("temperature", 0, "sampling temperature")
	flags.Int("wait", 0, "countdown seconds before the top completion is committed")
	flags.Int("rounds", 0, "stop after this many committed rounds (0 runs until quit)")
	flags.String("listen", "", "serve state, history and events on this address, e.g. :8080")
	flags.BoolVar(&opts.console, "console", false, "use the line-based console instead of the TUI")
	flags.StringVar(&opts.resume, "resume", "", "continue a stored session by ID")
	c.bind(flags, map[string]string{
		"generation.model":       "model",
		"classifier.model":       "classifier-model",
		"generation.n":           "n",
		"generation.max_tokens":  "max-tokens",
		"generation.temperature": "temperature",
		"session.wait_time":      "wait",
		"session.max_rounds":     "rounds",
		"server.listen":          "listen",
	})
	return cmd
}
