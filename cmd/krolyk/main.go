// Package main starts the krolyk binary.
package main

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/ibs-source/krolyk/internal/config"
)

const version = "0.1"

const description = `Krolyk consumes Nagios check results from a message broker and writes
them into the Nagios command pipe.

Each message is written as one line, with a single pair of wrapping double
quotes removed, and is acknowledged only after the line reached the pipe.`

var errNoCommand = errors.New("missing command: use start, stop, debug or help")

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

// run executes the command line and maps the outcome to an exit status
func run(args []string, stdout, stderr io.Writer) int {
	root := newRootCommand(stdout, stderr)
	root.SetArgs(args)

	if err := root.Execute(); err != nil {
		fmt.Fprintf(stderr, "krolyk: %v\n", err)
		return 1
	}
	return 0
}

func newRootCommand(stdout, stderr io.Writer) *cobra.Command {
	root := &cobra.Command{
		Use:           "krolyk [command] [flags]",
		Short:         "Relay Nagios check results from a broker queue into the Nagios command pipe",
		Long:          fmt.Sprintf("Krolyk %s\n\n%s", version, description),
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			_ = cmd.Help()
			return errNoCommand
		},
	}
	root.SetOut(stdout)
	root.SetErr(stderr)

	config.RegisterFlags(root.PersistentFlags())

	root.AddCommand(
		&cobra.Command{
			Use:   "start",
			Short: "Start krolyk in the background",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				return runStart(cmd, stdout)
			},
		},
		&cobra.Command{
			Use:   "stop",
			Short: "Stop the running krolyk",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				return runStop(cmd, stdout)
			},
		},
		&cobra.Command{
			Use:   "debug",
			Short: "Run krolyk in the foreground",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				return runDebug(cmd)
			},
		},
	)
	root.SetHelpCommand(&cobra.Command{
		Use:   "help",
		Short: "Show this help message",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			_ = cmd.Root().Help()
		},
	})

	return root
}
