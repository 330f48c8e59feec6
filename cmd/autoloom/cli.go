package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"golang.org/x/term"
)

var (
	green  = color.New(color.FgGreen).SprintFunc()
	yellow = color.New(color.FgYellow).SprintFunc()
	red    = color.New(color.FgRed).SprintFunc()
	cyan   = color.New(color.FgCyan).SprintFunc()
	gray   = color.New(color.FgHiBlack).SprintFunc()
	bold   = color.New(color.Bold).SprintFunc()
)

// isTTY checks if both stdin and stdout are terminals.
func isTTY() bool {
	return term.IsTerminal(int(os.Stdin.Fd())) && term.IsTerminal(int(os.Stdout.Fd()))
}

// cli carries state shared by the subcommands.
type cli struct {
	viper      *viper.Viper
	configFile string
}

func newRootCommand() *cobra.Command {
	c := &cli{viper: viper.New()}

	root := &cobra.Command{
		Use:   "autoloom",
		Short: "Best-of-N text continuation with a classifier in the loop",
		Long: `autoloom extends a prompt round by round. Each round samples N
continuations, scores them with a classifier and commits the best one after a
short countdown unless you interrupt and pick one yourself.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	flags := root.PersistentFlags()
	flags.StringVar(&c.configFile, "config", "", "config file (default: ./autoloom.yaml or ~/.autoloom/autoloom.yaml)")
	flags.String("log-level", "info", "log level: debug, info, warn, error")
	flags.String("log-file", "", "log file (default: ~/autoloom-debug.log, - for stderr)")
	flags.String("store", "", "sqlite history database (default: ~/.autoloom/history.db)")
	c.bind(flags, map[string]string{
		"logging.level": "log-level",
		"logging.file":  "log-file",
		"store.path":    "store",
	})

	root.AddCommand(
		newRunCommand(c),
		newTuneCommand(c),
		newHistoryCommand(c),
		newVersionCommand(),
	)
	return root
}

// bind maps viper keys to flags. Unchanged flags never override the config file.
func (c *cli) bind(flags *pflag.FlagSet, keys map[string]string) {
	for key, name := range keys {
		if flag := flags.Lookup(name); flag != nil {
			_ = c.viper.BindPFlag(key, flag)
		}
	}
}

func (c *cli) container() (*Container, error) {
	return buildContainer(c.viper, c.configFile)
}

// signalContext is cancelled on SIGINT or SIGTERM.
func signalContext(parent context.Context) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
}
