package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"autoloom/internal/session"
	"autoloom/internal/store"
)

var errStoreDisabled = errors.New("history store is disabled (set store.path or --store)")

func newHistoryCommand(c *cli) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Browse stored sessions",
	}

	withStore := func(fn func(cmd *cobra.Command, st *store.Store, args []string) error) func(*cobra.Command, []string) error {
		return func(cmd *cobra.Command, args []string) error {
			container, err := c.container()
			if err != nil {
				return err
			}
			defer container.Cleanup()
			if container.Store == nil {
				return errStoreDisabled
			}
			return fn(cmd, container.Store, args)
		}
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List sessions, newest first",
		Args:  cobra.NoArgs,
		RunE: withStore(func(cmd *cobra.Command, st *store.Store, args []string) error {
			sessions, err := st.ListSessions(cmd.Context())
			if err != nil {
				return err
			}
			return printSessions(cmd.OutOrStdout(), sessions)
		}),
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "show <session-id>",
		Short: "Show a session's prompt, completions and round log",
		Args:  cobra.ExactArgs(1),
		RunE: withStore(func(cmd *cobra.Command, st *store.Store, args []string) error {
			return showSession(cmd, st, args[0])
		}),
	})

	var format, output string
	export := &cobra.Command{
		Use:   "export <session-id>",
		Short: "Export a session's history",
		Args:  cobra.ExactArgs(1),
		RunE: withStore(func(cmd *cobra.Command, st *store.Store, args []string) error {
			history, err := st.LoadHistory(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if output != "" {
				if !cmd.Flags().Changed("format") {
					format = formatForPath(output)
				}
				text, err := history.Export(format)
				if err != nil {
					return err
				}
				if err := os.WriteFile(output, []byte(text), 0o644); err != nil {
					return err
				}
				fmt.Fprintf(cmd.ErrOrStderr(), "%s %s\n", green("Wrote"), output)
				return nil
			}
			text, err := history.Export(format)
			if err != nil {
				return err
			}
			_, err = io.WriteString(cmd.OutOrStdout(), text)
			return err
		}),
	}
	export.Flags().StringVar(&format, "format", session.FormatText, "text, markdown, yaml or jsonl")
	export.Flags().StringVarP(&output, "output", "o", "", "write to a file instead of stdout")
	cmd.AddCommand(export)

	return cmd
}

func printSessions(out io.Writer, sessions []store.SessionInfo) error {
	if len(sessions) == 0 {
		_, err := fmt.Fprintln(out, gray("No stored sessions."))
		return err
	}
	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tCREATED\tSTEPS\tMODEL\tPROMPT")
	for _, info := range sessions {
		fmt.Fprintf(w, "%s\t%s\t%d\t%s\t%s\n",
			info.ID, info.CreatedAt.Local().Format("2006-01-02 15:04"), info.Entries, info.Model, oneLine(info.Prompt, 40))
	}
	return w.Flush()
}

func showSession(cmd *cobra.Command, st *store.Store, id string) error {
	ctx := cmd.Context()
	info, err := st.GetSession(ctx, id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return fmt.Errorf("session %s not found", id)
		}
		return err
	}
	history, err := st.LoadHistory(ctx, id)
	if err != nil {
		return err
	}
	rounds, err := st.RoundLog(ctx, id)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "%s %s\n", bold("Session"), info.ID)
	fmt.Fprintf(out, "%s %s / %s, %s\n\n", gray("Models:"), info.Model, info.Classifier, info.CreatedAt.Local().Format("2006-01-02 15:04:05"))
	fmt.Fprintln(out, history.Overview())

	if len(rounds) == 0 {
		return nil
	}
	fmt.Fprintln(out, bold("Round log:"))
	for _, rec := range rounds {
		score := "-"
		if rec.Score != nil {
			score = fmt.Sprintf("%d", *rec.Score)
		}
		marker := " "
		if rec.Chosen {
			marker = "*"
		}
		fmt.Fprintf(out, "%s round %d #%d [%s] %s\n", marker, rec.Round, rec.Index+1, score, oneLine(rec.Text, 80))
	}
	return nil
}
